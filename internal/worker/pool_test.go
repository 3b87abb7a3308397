package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPoolRunsJobsInOrder(t *testing.T) {
	p, err := NewPool(Config{})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	var (
		mu  sync.Mutex
		got []int
	)
	var last *Task
	for i := 0; i < 5; i++ {
		i := i
		last = p.Submit("append", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	if err := last.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	p.Close()

	for i, v := range got {
		if v != i {
			t.Fatalf("job order = %v, want ascending", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d jobs, want 5", len(got))
	}
}

func TestPoolReportsJobError(t *testing.T) {
	p, _ := NewPool(Config{})
	defer p.Close()

	boom := errors.New("boom")
	task := p.Submit("fail", func(context.Context) error { return boom })
	if err := task.Wait(waitCtx(t)); !errors.Is(err, boom) {
		t.Fatalf("Wait() error = %v, want %v", err, boom)
	}
	if !errors.Is(task.Err(), boom) {
		t.Fatalf("Err() = %v, want %v", task.Err(), boom)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p, _ := NewPool(Config{})
	defer p.Close()

	task := p.Submit("panic", func(context.Context) error { panic("nope") })
	if err := task.Wait(waitCtx(t)); err == nil {
		t.Fatalf("Wait() error = nil, want panic error")
	}

	ok := p.Submit("after", func(context.Context) error { return nil })
	if err := ok.Wait(waitCtx(t)); err != nil {
		t.Fatalf("pool unusable after panic: %v", err)
	}
}

func TestPoolDropsWhenQueueFull(t *testing.T) {
	p, _ := NewPool(Config{NumWorkers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := p.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	queued := p.Submit("queued", func(context.Context) error { return nil })
	dropped := p.Submit("dropped", func(context.Context) error { return nil })

	select {
	case <-dropped.Done():
	default:
		t.Fatalf("dropped task should complete immediately")
	}
	if !errors.Is(dropped.Err(), ErrQueueFull) {
		t.Fatalf("dropped Err() = %v, want ErrQueueFull", dropped.Err())
	}

	close(release)
	if err := blocker.Wait(waitCtx(t)); err != nil {
		t.Fatalf("blocker Wait() error = %v", err)
	}
	if err := queued.Wait(waitCtx(t)); err != nil {
		t.Fatalf("queued Wait() error = %v", err)
	}
	p.Close()
}

func TestPoolCloseDrainsAndRejects(t *testing.T) {
	var (
		mu    sync.Mutex
		names []string
	)
	p, _ := NewPool(Config{OnDone: func(name string, _ error) {
		mu.Lock()
		names = append(names, name)
		mu.Unlock()
	}})

	task := p.Submit("slow", func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	p.Close()

	select {
	case <-task.Done():
	default:
		t.Fatalf("Close() returned before queued job finished")
	}

	late := p.Submit("late", func(context.Context) error { return nil })
	if !errors.Is(late.Err(), ErrClosed) {
		t.Fatalf("late Err() = %v, want ErrClosed", late.Err())
	}
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(names) != 2 || names[0] != "slow" || names[1] != "late" {
		t.Fatalf("OnDone names = %v, want [slow late]", names)
	}
}

func TestTaskWaitHonorsContext(t *testing.T) {
	task := newTask()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := task.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
	if task.Err() != nil {
		t.Fatalf("Err() before completion = %v, want nil", task.Err())
	}
	if err := Completed(nil).Wait(context.Background()); err != nil {
		t.Fatalf("Completed(nil).Wait() = %v", err)
	}
}
