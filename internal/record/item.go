package record

// Item is the element type of the work queue: either a data Record or the
// termination marker. The zero Item is not valid; use Data or Terminate.
type Item struct {
	terminate bool
	rec       *Record
}

// Data wraps a Record for the queue.
func Data(r Record) Item {
	return Item{rec: &r}
}

// Terminate returns the termination marker.
func Terminate() Item {
	return Item{terminate: true}
}

// IsTerminate reports whether the item is the termination marker.
func (i Item) IsTerminate() bool {
	return i.terminate
}

// Record returns the wrapped Record. ok is false for the termination marker.
func (i Item) Record() (rec Record, ok bool) {
	if i.terminate || i.rec == nil {
		return Record{}, false
	}
	return *i.rec, true
}
