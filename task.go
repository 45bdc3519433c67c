// task.go: asynchronous runs.
package calc

import "context"

// Task is a run executing on its own goroutine. The run observes ctx at its
// checkpoints; a driver imposes a deadline by giving it a context with one.
type Task struct {
	done  chan struct{}
	value Value
	err   error
}

// RunAsync starts a run and returns immediately.
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	v, err := ip.RunAsync(ctx).Wait()
//
// On deadline expiry the run stops at its next checkpoint and Wait returns an
// error matching both ErrCancelled and context.DeadlineExceeded.
func (ip *Interpreter) RunAsync(ctx context.Context) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.value, t.err = ip.RunContext(ctx)
	}()
	return t
}

// Done is closed when the run has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the run finishes and returns its outcome.
func (t *Task) Wait() (Value, error) {
	<-t.done
	return t.value, t.err
}
