package vulkan

import "sync"

// queueLocks serializes access to each queue family. Submissions and
// presents on a shared family take the same mutex.
type queueLocks struct {
	mu    sync.Mutex
	locks map[uint32]*sync.Mutex
}

func newQueueLocks() *queueLocks {
	return &queueLocks{locks: make(map[uint32]*sync.Mutex)}
}

func (q *queueLocks) family(index uint32) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.locks[index]
	if !ok {
		l = &sync.Mutex{}
		q.locks[index] = l
	}
	return l
}

// call runs fn holding the lock of the queue family.
func (q *queueLocks) call(index uint32, fn func() error) error {
	l := q.family(index)
	l.Lock()
	defer l.Unlock()
	return fn()
}
