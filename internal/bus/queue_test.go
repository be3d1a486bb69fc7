package bus

import (
	"context"
	"testing"
	"time"

	"main/pkg/exception"
)

func TestPublishReceiveOrder(t *testing.T) {
	q := NewQueue[int](4)
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		if err := q.Publish(ctx, i); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	for i := 1; i <= 4; i++ {
		got, err := q.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if got != i {
			t.Fatalf("order mismatch! should be %d but got %d", i, got)
		}
	}
}

func TestPublishBlocksWhenFull(t *testing.T) {
	q := NewQueue[int](1)
	ctx := context.Background()
	if err := q.Publish(ctx, 1); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := q.Publish(blocked, 2); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	// the buffered item is untouched
	if got, _ := q.Receive(ctx); got != 1 {
		t.Fatalf("item mismatch! should be 1 but got %d", got)
	}
}

func TestTryPublishFull(t *testing.T) {
	q := NewQueue[int](1)
	if err := q.TryPublish(1); err != nil {
		t.Fatalf("TryPublish: %v", err)
	}
	if err := q.TryPublish(2); err != exception.ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestPublishEvictShedsOldest(t *testing.T) {
	q := NewQueue[int](2)
	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		if _, didEvict, err := q.PublishEvict(i); err != nil || didEvict {
			t.Fatalf("PublishEvict %d: didEvict=%v err=%v", i, didEvict, err)
		}
	}

	evicted, didEvict, err := q.PublishEvict(3)
	if err != nil {
		t.Fatalf("PublishEvict: %v", err)
	}
	if !didEvict || evicted != 1 {
		t.Fatalf("eviction mismatch! should evict 1 but got didEvict=%v evicted=%d", didEvict, evicted)
	}

	for _, want := range []int{2, 3} {
		got, err := q.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if got != want {
			t.Fatalf("order mismatch! should be %d but got %d", want, got)
		}
	}
}

func TestCloseDrainsBufferedItems(t *testing.T) {
	q := NewQueue[int](2)
	ctx := context.Background()
	q.Publish(ctx, 1)
	q.Close()

	if err := q.Publish(ctx, 2); err != exception.ErrQueueClosed {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if got, err := q.Receive(ctx); err != nil || got != 1 {
		t.Fatalf("buffered item lost: got=%d err=%v", got, err)
	}
	if _, err := q.Receive(ctx); err != exception.ErrQueueClosed {
		t.Fatalf("expected ErrQueueClosed after drain, got %v", err)
	}
}

func TestRunConsumesUntilCancel(t *testing.T) {
	q := NewQueue[int](8)
	ctx, cancel := context.WithCancel(context.Background())
	for i := 1; i <= 3; i++ {
		q.Publish(ctx, i)
	}

	var got []int
	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(item int) {
			got = append(got, item)
			if len(got) == 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	if len(got) != 3 {
		t.Fatalf("consumed count mismatch! should be 3 but got %d", len(got))
	}
}
