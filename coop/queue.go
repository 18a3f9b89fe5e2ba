package coop

import (
	"github.com/chazu/intcode/vm"
	"github.com/chazu/intcode/wire"
)

// inPort and outPort are the ends a Task polls. Neither may block.
type inPort interface {
	tryRecv() (vm.Word, bool, error)
	hangup()
}

type outPort interface {
	trySend(vm.Word) (bool, error)
	release()
}

// DefaultQueueCapacity matches the blocking pipes.
const DefaultQueueCapacity = 1

// Queue is a bounded FIFO between tasks of one Executor. It is not safe for
// concurrent use; the executor owns it.
type Queue struct {
	buf      []vm.Word
	capacity int
	writers  int
	gone     bool
}

// NewQueue returns an empty queue with no writers attached.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{capacity: capacity}
}

// Len returns the number of buffered words.
func (q *Queue) Len() int { return len(q.buf) }

// Closed reports whether every writer has finished.
func (q *Queue) Closed() bool { return q.writers == 0 }

func (q *Queue) attach() { q.writers++ }

func (q *Queue) release() {
	if q.writers > 0 {
		q.writers--
	}
}

func (q *Queue) hangup() {
	q.gone = true
	q.buf = nil
}

// trySend buffers w if there is room. It fails once the reader is gone.
func (q *Queue) trySend(w vm.Word) (bool, error) {
	if q.gone {
		return false, vm.ErrPortClosed
	}
	if len(q.buf) >= q.capacity {
		return false, nil
	}
	q.buf = append(q.buf, w)
	return true, nil
}

// tryRecv pops the oldest word. Once the queue is empty and closed it
// reports vm.ErrPortClosed.
func (q *Queue) tryRecv() (vm.Word, bool, error) {
	if len(q.buf) > 0 {
		w := q.buf[0]
		q.buf = q.buf[1:]
		return w, true, nil
	}
	if q.Closed() {
		return 0, false, vm.ErrPortClosed
	}
	return 0, false, nil
}

// watchPort adapts a wire.Watch: sends always land, reads always see the
// latest value, and it never closes.
type watchPort struct{ w *wire.Watch }

func (p watchPort) trySend(v vm.Word) (bool, error) {
	p.w.Store(v)
	return true, nil
}

func (p watchPort) tryRecv() (vm.Word, bool, error) {
	return p.w.Load(), true, nil
}

func (watchPort) release() {}
func (watchPort) hangup()  {}
