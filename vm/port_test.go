package vm

import (
	"context"
	"errors"
	"testing"
)

func TestPipeFIFO(t *testing.T) {
	ctx := context.Background()
	tx, rx := NewPipe(4)
	for _, w := range []Word{1, 2, 3} {
		if err := tx.Send(ctx, w); err != nil {
			t.Fatal(err)
		}
	}
	tx.Close()
	for _, want := range []Word{1, 2, 3} {
		got, err := rx.Recv(ctx)
		if err != nil || got != want {
			t.Errorf("Recv() = %d, %v; want %d, nil", got, err, want)
		}
	}
	if _, err := rx.Recv(ctx); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Recv after close: %v, want ErrPortClosed", err)
	}
}

func TestPipeClosesAfterLastSender(t *testing.T) {
	ctx := context.Background()
	tx, rx := NewPipe(2)
	extra := tx.Clone()

	tx.Close()
	tx.Close()
	if err := extra.Send(ctx, 9); err != nil {
		t.Fatalf("clone should still send: %v", err)
	}
	if err := tx.Send(ctx, 1); !errors.Is(err, ErrPortClosed) {
		t.Errorf("send on closed handle: %v, want ErrPortClosed", err)
	}
	extra.Close()

	if w, err := rx.Recv(ctx); err != nil || w != 9 {
		t.Errorf("Recv() = %d, %v; want 9, nil", w, err)
	}
	if _, err := rx.Recv(ctx); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Recv after all senders closed: %v, want ErrPortClosed", err)
	}

	late := extra.Clone()
	if err := late.Send(ctx, 1); !errors.Is(err, ErrPortClosed) {
		t.Errorf("clone of closed handle should be closed, got %v", err)
	}
}

func TestPipeHangup(t *testing.T) {
	tx, rx := NewPipe(1)
	rx.Hangup()
	rx.Hangup()
	if err := tx.Send(context.Background(), 1); !errors.Is(err, ErrPortClosed) {
		t.Errorf("send after hangup: %v, want ErrPortClosed", err)
	}
}

func TestPipeTryRecv(t *testing.T) {
	tx, rx := NewPipe(1)
	if _, ok, err := rx.TryRecv(); ok || err != nil {
		t.Errorf("TryRecv on empty pipe = %v, %v", ok, err)
	}
	tx.Send(context.Background(), 5)
	if w, ok, err := rx.TryRecv(); !ok || err != nil || w != 5 {
		t.Errorf("TryRecv() = %d, %v, %v; want 5, true, nil", w, ok, err)
	}
	tx.Close()
	if _, _, err := rx.TryRecv(); !errors.Is(err, ErrPortClosed) {
		t.Errorf("TryRecv after close: %v, want ErrPortClosed", err)
	}
}

func TestWordsSource(t *testing.T) {
	src := Words(4, 5)
	ctx := context.Background()
	for _, want := range []Word{4, 5} {
		if got, err := src.Recv(ctx); err != nil || got != want {
			t.Errorf("Recv() = %d, %v; want %d", got, err, want)
		}
	}
	if _, err := src.Recv(ctx); !errors.Is(err, ErrPortClosed) {
		t.Errorf("exhausted source: %v, want ErrPortClosed", err)
	}
}
