package boundary

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrTaskClaimed is returned by Wait once the result has been handed out, or
// after a previous Wait gave up.
var ErrTaskClaimed = errors.New("task result already claimed")

// Task is one detection call running on its own execution context.
type Task struct {
	ID string

	ready   chan struct{}
	buf     *ResultBuffer
	claimed atomic.Bool
	metrics *Metrics
}

func newTask(id string, metrics *Metrics) *Task {
	return &Task{ID: id, ready: make(chan struct{}), metrics: metrics}
}

func (t *Task) finish(buf *ResultBuffer) {
	t.buf = buf
	close(t.ready)
}

// Done is closed when the result is available.
func (t *Task) Done() <-chan struct{} {
	return t.ready
}

// Wait blocks until the task finishes or ctx is done, whichever is first, and
// transfers ownership of the result buffer to the caller. Giving up does not
// stop the task; its buffer is released when it completes.
func (t *Task) Wait(ctx context.Context) (*ResultBuffer, error) {
	select {
	case <-t.ready:
		if !t.claimed.CompareAndSwap(false, true) {
			return nil, ErrTaskClaimed
		}
		return t.buf, nil
	case <-ctx.Done():
		if t.claimed.CompareAndSwap(false, true) {
			t.metrics.abandoned.Inc()
			go func() {
				<-t.ready
				_ = t.buf.Release()
			}()
		}
		return nil, ctx.Err()
	}
}
