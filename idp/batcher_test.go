package idp

import (
	"context"
	"testing"
	"time"

	"github.com/asonnino/key-transparency/akd"
)

func TestBatcherSealsOnSize(t *testing.T) {
	b := NewBatcher(BatcherConfig{BatchSize: 2, MaxBatchDelay: time.Hour}, nil)
	in := make(chan []byte, 4)
	out := make(chan []akd.Entry, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, in, out) }()

	in <- []byte("ab")
	in <- []byte("cd")

	select {
	case batch := <-out:
		if len(batch) != 2 {
			t.Fatalf("batch length = %d, want 2", len(batch))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sealed batch")
	}
}

func TestBatcherSealsOnTimer(t *testing.T) {
	b := NewBatcher(BatcherConfig{BatchSize: 1000, MaxBatchDelay: 20 * time.Millisecond}, nil)
	in := make(chan []byte, 4)
	out := make(chan []akd.Entry, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go b.Run(ctx, in, out)
	in <- []byte("xy")

	select {
	case batch := <-out:
		if len(batch) != 1 {
			t.Fatalf("batch length = %d, want 1", len(batch))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timer-sealed batch")
	}
}

func TestBatcherDropsMalformedRequests(t *testing.T) {
	b := NewBatcher(BatcherConfig{BatchSize: 1, MaxBatchDelay: time.Hour}, nil)
	in := make(chan []byte, 4)
	out := make(chan []akd.Entry, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go b.Run(ctx, in, out)
	in <- []byte("x") // too short, dropped
	in <- []byte("ab")

	select {
	case batch := <-out:
		if len(batch) != 1 || batch[0].Label != "a" || batch[0].Value != "b" {
			t.Fatalf("unexpected batch: %+v", batch)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out: malformed request must not block valid ones")
	}
}

func TestDecodeEntrySplitsEvenly(t *testing.T) {
	e, err := decodeEntry([]byte("keyval"))
	if err != nil {
		t.Fatalf("decodeEntry: %v", err)
	}
	if e.Label != "key" || e.Value != "val" {
		t.Fatalf("got %+v, want Label=key Value=val", e)
	}
}
