package transport

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 10; i++ {
		q.Push([]byte(fmt.Sprintf("msg-%d", i)))
	}
	if q.Len() != 10 {
		t.Fatalf("Len = %d, want 10", q.Len())
	}

	for i := 0; i < 10; i++ {
		item, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if want := fmt.Sprintf("msg-%d", i); string(item) != want {
			t.Fatalf("item %d = %q, want %q", i, item, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue()

	got := make(chan []byte, 1)
	go func() {
		item, err := q.Pop(context.Background())
		if err != nil {
			t.Errorf("Pop: %v", err)
		}
		got <- item
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push([]byte("late"))

	select {
	case item := <-got:
		if string(item) != "late" {
			t.Fatalf("item = %q, want late", item)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestQueuePopCancellation(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Pop(ctx); err != context.Canceled {
		t.Fatalf("Pop = %v, want context.Canceled", err)
	}
}

func TestQueueInterleavedPushPop(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			item, err := q.Pop(context.Background())
			if err != nil {
				t.Errorf("Pop: %v", err)
				return
			}
			if want := fmt.Sprintf("%d", i); string(item) != want {
				t.Errorf("item = %q, want %q", item, want)
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		q.Push([]byte(fmt.Sprintf("%d", i)))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not finish")
	}
}
