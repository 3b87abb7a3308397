package worker

import "context"

// Task is the observable outcome of a submitted job. Callers that only need
// fire-and-forget semantics may ignore it.
type Task struct {
	done chan struct{}
	err  error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Completed returns a Task that is already finished with err.
func Completed(err error) *Task {
	t := newTask()
	t.complete(err)
	return t
}

func (t *Task) complete(err error) {
	t.err = err
	close(t.done)
}

// Done is closed once the job has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the job result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the job finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
