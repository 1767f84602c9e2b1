package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_PushPopOrder(t *testing.T) {
	q := NewQueue[int](10, 0)

	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue returned true")
	}
}

func TestQueue_GrowsAt70Percent(t *testing.T) {
	q := NewQueue[int](10, 0)

	for i := 0; i < 7; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity != 20 {
		t.Errorf("Capacity = %d, want 20", stats.Capacity)
	}
	if stats.Grows != 1 {
		t.Errorf("Grows = %d, want 1", stats.Grows)
	}
}

func TestQueue_LimitDropsOldest(t *testing.T) {
	q := NewQueue[int](2, 4)

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	stats := q.Stats()
	if stats.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4", stats.Capacity)
	}
	if stats.Dropped != 6 {
		t.Errorf("Dropped = %d, want 6", stats.Dropped)
	}

	got := q.PopBatch(0)
	want := []int{6, 7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("PopBatch(0) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PopBatch(0)[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQueue_CapacityClampedToLimit(t *testing.T) {
	q := NewQueue[int](100, 8)
	if got := q.Stats().Capacity; got != 8 {
		t.Errorf("Capacity = %d, want 8", got)
	}

	q = NewQueue[int](-3, 0)
	if got := q.Stats().Capacity; got != 1 {
		t.Errorf("Capacity = %d, want 1 for negative capacity", got)
	}
}

func TestQueue_WrapAroundGrow(t *testing.T) {
	q := NewQueue[int](5, 0)

	q.Push(1)
	q.Push(2)
	q.TryPop()
	q.TryPop()

	for i := 3; i <= 8; i++ {
		q.Push(i)
	}

	for want := 3; want <= 8; want++ {
		got, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() failed, want %d", want)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string](4, 0)
	got := make(chan string, 1)

	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("frame")

	select {
	case v := <-got:
		if v != "frame" {
			t.Errorf("Pop() = %q, want %q", v, "frame")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked Pop")
	}
}

func TestQueue_PopCancelled(t *testing.T) {
	q := NewQueue[int](4, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Pop() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock Pop")
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue[int](4, 0)
	q.Push(1)
	q.Close()

	if q.Push(2) {
		t.Error("Push should return false after Close")
	}

	v, err := q.Pop(context.Background())
	if err != nil || v != 1 {
		t.Errorf("Pop() = %d, %v; want 1, nil", v, err)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop() error = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_ConcurrentPushPop(t *testing.T) {
	q := NewQueue[int](8, 0)
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push(i)
		}
	}()

	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		v, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop() error: %v", err)
		}
		seen[v] = true
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("received %d distinct items, want %d", len(seen), n)
	}
	stats := q.Stats()
	if stats.Pushed != n || stats.Popped != n {
		t.Errorf("stats = %+v, want %d pushed and popped", stats, n)
	}
}
