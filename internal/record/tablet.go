package record

// Tablet is the columnar write unit for one device: a timestamp column and
// one value column per entry of Measurements. Present marks which cells hold
// a value; absent cells are written as nulls.
type Tablet struct {
	DevicePath string
	Timestamps []int64
	Values     [len(Measurements)][]string
	Present    [len(Measurements)][]bool
}

// MissingFunc is called for every measurement absent from a record while
// building a Tablet.
type MissingFunc func(measurement string, row int)

// BuildTablet converts a DeviceGroup into a Tablet with one row per record.
// A record lacking a measurement still contributes its row; onMissing, when
// not nil, is told about each gap.
func BuildTablet(g DeviceGroup, onMissing MissingFunc) *Tablet {
	n := len(g.Records)
	t := &Tablet{
		DevicePath: g.DevicePath,
		Timestamps: make([]int64, n),
	}
	for m := range Measurements {
		t.Values[m] = make([]string, n)
		t.Present[m] = make([]bool, n)
	}

	for row, r := range g.Records {
		t.Timestamps[row] = r.Timestamp()
		for m, name := range Measurements {
			v, ok := r.Field(name)
			if !ok {
				if onMissing != nil {
					onMissing(name, row)
				}
				continue
			}
			t.Values[m][row] = v
			t.Present[m][row] = true
		}
	}

	return t
}

// Rows returns the number of rows in the tablet.
func (t *Tablet) Rows() int {
	return len(t.Timestamps)
}

// Value returns the cell for a measurement index and row.
func (t *Tablet) Value(measurement, row int) (string, bool) {
	return t.Values[measurement][row], t.Present[measurement][row]
}
