package record

// Batch is the ordered set of records one worker collected in one iteration.
type Batch []Record

// DeviceGroup holds the records of one device path, in batch order.
type DeviceGroup struct {
	DevicePath string
	Records    []Record
}

// GroupByDevice splits a batch by device path. Groups are returned in the
// order their device first appears in the batch.
func GroupByDevice(b Batch) []DeviceGroup {
	index := make(map[string]int)
	var groups []DeviceGroup

	for _, r := range b {
		path := r.DeviceKey()
		i, ok := index[path]
		if !ok {
			i = len(groups)
			index[path] = i
			groups = append(groups, DeviceGroup{DevicePath: path})
		}
		groups[i].Records = append(groups[i].Records, r)
	}

	return groups
}

// DeviceKeys returns the distinct device paths in the batch, in first-seen order.
func (b Batch) DeviceKeys() []string {
	seen := make(map[string]struct{}, len(b))
	var keys []string
	for _, r := range b {
		k := r.DeviceKey()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
