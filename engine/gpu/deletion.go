package gpu

import "sync"

type deletion struct {
	frame   uint64
	label   string
	destroy func()
}

// DeletionQueue defers destruction of resources that in-flight command
// buffers may still reference. An entry pushed during frame N runs once frame
// N+F starts, when the in-flight fence of N's slot has been waited on.
type DeletionQueue struct {
	mu             sync.Mutex
	framesInFlight uint64
	current        uint64
	entries        []deletion
}

func NewDeletionQueue(framesInFlight uint32) *DeletionQueue {
	return &DeletionQueue{framesInFlight: uint64(framesInFlight)}
}

// Push schedules destroy. Safe from any goroutine, including cleanups.
func (q *DeletionQueue) Push(label string, destroy func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, deletion{frame: q.current, label: label, destroy: destroy})
}

// Advance marks the start of frame and runs every entry old enough.
// Returns how many resources were destroyed.
func (q *DeletionQueue) Advance(frame uint64) int {
	q.mu.Lock()
	q.current = frame
	var ready []deletion
	keep := q.entries[:0]
	for _, e := range q.entries {
		if e.frame+q.framesInFlight <= frame {
			ready = append(ready, e)
		} else {
			keep = append(keep, e)
		}
	}
	q.entries = keep
	q.mu.Unlock()

	for _, e := range ready {
		e.destroy()
	}
	return len(ready)
}

// Flush destroys everything. Only valid after the device is idle.
func (q *DeletionQueue) Flush() int {
	q.mu.Lock()
	ready := q.entries
	q.entries = nil
	q.mu.Unlock()
	for _, e := range ready {
		e.destroy()
	}
	return len(ready)
}

func (q *DeletionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
