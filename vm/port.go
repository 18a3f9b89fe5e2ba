package vm

import (
	"context"
	"sync"
	"sync/atomic"
)

// Source supplies input words to an engine. Recv blocks until a word is
// available, the source is closed (ErrPortClosed), or ctx is done.
type Source interface {
	Recv(ctx context.Context) (Word, error)
}

// Sink accepts output words from an engine. Send fails with ErrPortClosed
// once the reading side has hung up.
type Sink interface {
	Send(ctx context.Context, w Word) error
}

// Hanger is implemented by sources whose upstream should be told that no
// more words will be read.
type Hanger interface {
	Hangup()
}

// DefaultPipeCapacity is the buffer size used by the composition helpers.
const DefaultPipeCapacity = 1

// ---------------------------------------------------------------------------
// Pipe: a bounded FIFO between engines
// ---------------------------------------------------------------------------

type pipe struct {
	ch   chan Word
	gone chan struct{}

	mu      sync.Mutex // protects senders and close(ch)
	senders int
	hangup  sync.Once
}

// NewPipe returns the two halves of a FIFO with the given buffer capacity.
// A capacity of 0 makes every transfer a rendezvous.
func NewPipe(capacity int) (*Sender, *Receiver) {
	if capacity < 0 {
		capacity = 0
	}
	p := &pipe{
		ch:      make(chan Word, capacity),
		gone:    make(chan struct{}),
		senders: 1,
	}
	return &Sender{p: p}, &Receiver{p: p}
}

// Sender is one writing handle of a pipe. The pipe closes when every handle
// has been closed. A single handle must not be used from more than one
// goroutine at a time.
type Sender struct {
	p      *pipe
	closed atomic.Bool
}

// Clone returns an additional writing handle. Cloning a closed handle
// returns a closed handle.
func (s *Sender) Clone() *Sender {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	c := &Sender{p: s.p}
	if s.closed.Load() || s.p.senders == 0 {
		c.closed.Store(true)
		return c
	}
	s.p.senders++
	return c
}

// Send delivers w, blocking while the buffer is full.
func (s *Sender) Send(ctx context.Context, w Word) error {
	if s.closed.Load() {
		return ErrPortClosed
	}
	select {
	case <-s.p.gone:
		return ErrPortClosed
	default:
	}
	select {
	case s.p.ch <- w:
		return nil
	case <-s.p.gone:
		return ErrPortClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases this handle. It is idempotent.
func (s *Sender) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.senders--
	if s.p.senders == 0 {
		close(s.p.ch)
	}
	return nil
}

// Receiver is the reading half of a pipe.
type Receiver struct {
	p *pipe
}

// Recv returns the next word. Buffered words are still delivered after the
// last sender closes; after that Recv reports ErrPortClosed.
func (r *Receiver) Recv(ctx context.Context) (Word, error) {
	select {
	case w, ok := <-r.p.ch:
		if !ok {
			return 0, ErrPortClosed
		}
		return w, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// TryRecv returns the next word without blocking. ok is false when nothing
// is buffered.
func (r *Receiver) TryRecv() (w Word, ok bool, err error) {
	select {
	case w, open := <-r.p.ch:
		if !open {
			return 0, false, ErrPortClosed
		}
		return w, true, nil
	default:
		return 0, false, nil
	}
}

// Hangup tells every sender that nothing more will be read.
func (r *Receiver) Hangup() {
	r.p.hangup.Do(func() { close(r.p.gone) })
}

// ---------------------------------------------------------------------------
// Fixed ports
// ---------------------------------------------------------------------------

type closedPort struct{}

func (closedPort) Recv(context.Context) (Word, error) { return 0, ErrPortClosed }

func (closedPort) Send(context.Context, Word) error { return ErrPortClosed }

// Words returns a Source that yields ws in order and then reports closed.
func Words(ws ...Word) Source {
	return &sliceSource{words: append([]Word(nil), ws...)}
}

type sliceSource struct {
	mu    sync.Mutex
	words []Word
}

func (s *sliceSource) Recv(ctx context.Context) (Word, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.words) == 0 {
		return 0, ErrPortClosed
	}
	w := s.words[0]
	s.words = s.words[1:]
	return w, nil
}
