// Package task runs long operations one at a time on a background worker.
// Tasks are cancellable, report progress and finish with a completion result.
// A subtask starts only after its parent completes successfully.
package task

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/riverscapes/qris/internal/monitoring"
)

var logf = monitoring.Component("task")

var (
	// ErrRunnerStopped is returned when submitting to a stopped runner.
	ErrRunnerStopped = errors.New("task runner is stopped")
	// ErrParentFailed is the result of a subtask whose parent did not succeed.
	ErrParentFailed = errors.New("parent task did not complete")
)

// Status is the lifecycle state of a task.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Func is the body of a task. progress reports a fraction in [0, 1]; the
// body should check ctx between units of work.
type Func func(ctx context.Context, progress func(float64)) (any, error)

// Result is emitted once when a task finishes. OK is false for failed and
// cancelled tasks.
type Result struct {
	Name  string
	OK    bool
	Value any
	Err   error
}

// Task is a unit of background work.
type Task struct {
	Name string

	fn       Func
	mu       sync.Mutex
	status   Status
	result   Result
	subtasks []*Task
	cancel   context.CancelFunc
	progress atomic.Uint64 // float64 bits
	done     chan struct{}
	runner   *Runner
}

// Status returns the current state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Progress returns the last reported progress in [0, 1].
func (t *Task) Progress() float64 {
	return math.Float64frombits(t.progress.Load())
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel requests cancellation. A pending task finishes as cancelled without
// running; a running task sees its context cancelled.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case StatusPending:
		t.status = StatusCancelled
	case StatusRunning:
		if t.cancel != nil {
			t.cancel()
		}
	}
}

// Then registers a subtask that is queued when t completes successfully. If
// t fails or is cancelled the subtask finishes with ErrParentFailed.
func (t *Task) Then(name string, fn Func) *Task {
	sub := newTask(t.runner, name, fn)
	t.mu.Lock()
	finished := t.isClosed()
	ok := t.result.OK
	if !finished {
		t.subtasks = append(t.subtasks, sub)
	}
	t.mu.Unlock()

	if finished {
		if ok {
			t.runner.enqueue(sub)
		} else {
			sub.finish(Result{Name: name, Err: ErrParentFailed}, StatusCancelled)
		}
	}
	return sub
}

func (t *Task) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func newTask(r *Runner, name string, fn Func) *Task {
	return &Task{Name: name, fn: fn, runner: r, done: make(chan struct{})}
}

func (t *Task) setProgress(f float64) {
	switch {
	case f < 0:
		f = 0
	case f > 1:
		f = 1
	}
	t.progress.Store(math.Float64bits(f))
}

// finish records the result, notifies the runner and releases subtasks.
func (t *Task) finish(res Result, status Status) {
	t.mu.Lock()
	t.status = status
	t.result = res
	subs := t.subtasks
	t.subtasks = nil
	close(t.done)
	t.mu.Unlock()

	if t.runner != nil && t.runner.OnComplete != nil {
		t.runner.OnComplete(res)
	}
	for _, sub := range subs {
		if res.OK {
			t.runner.enqueue(sub)
		} else {
			sub.finish(Result{Name: sub.Name, Err: ErrParentFailed}, StatusCancelled)
		}
	}
}

// Runner executes tasks sequentially on one goroutine.
type Runner struct {
	// OnComplete, when set, receives every completion result on the worker
	// goroutine. It must not block.
	OnComplete func(Result)

	mu      sync.Mutex
	queue   []*Task
	wake    chan struct{}
	running bool
	stopCh  chan struct{}
	stopped chan struct{}
	current *Task
}

// NewRunner returns a stopped runner.
func NewRunner() *Runner {
	return &Runner{wake: make(chan struct{}, 1)}
}

// Start launches the worker. Starting a running runner does nothing.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.stopped = make(chan struct{})
	r.mu.Unlock()

	go r.loop(ctx)
}

// Stop cancels the running task, cancels everything still queued and waits
// for the worker to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	if r.current != nil {
		r.current.Cancel()
	}
	stopped := r.stopped
	r.mu.Unlock()
	<-stopped
}

// Submit queues a task.
func (r *Runner) Submit(name string, fn Func) (*Task, error) {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		return nil, ErrRunnerStopped
	}
	t := newTask(r, name, fn)
	r.enqueue(t)
	return t, nil
}

func (r *Runner) enqueue(t *Task) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		t.finish(Result{Name: t.Name, Err: ErrRunnerStopped}, StatusCancelled)
		return
	}
	r.queue = append(r.queue, t)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) next() *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil
	}
	t := r.queue[0]
	r.queue = r.queue[1:]
	r.current = t
	return t
}

func (r *Runner) loop(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		pending := r.queue
		r.queue = nil
		r.current = nil
		r.running = false
		close(r.stopped)
		r.mu.Unlock()
		for _, t := range pending {
			t.finish(Result{Name: t.Name, Err: context.Canceled}, StatusCancelled)
		}
	}()

	for {
		for t := r.next(); t != nil; t = r.next() {
			r.run(ctx, t)
			r.mu.Lock()
			r.current = nil
			r.mu.Unlock()
			select {
			case <-r.stopCh:
				return
			default:
			}
		}
		select {
		case <-r.wake:
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) run(parent context.Context, t *Task) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	t.mu.Lock()
	if t.status == StatusCancelled {
		t.mu.Unlock()
		t.finish(Result{Name: t.Name, Err: context.Canceled}, StatusCancelled)
		return
	}
	t.status = StatusRunning
	t.cancel = cancel
	t.mu.Unlock()

	logf("%s started", t.Name)
	value, err := safeCall(ctx, t)
	switch {
	case err == nil:
		t.setProgress(1)
		logf("%s completed", t.Name)
		t.finish(Result{Name: t.Name, OK: true, Value: value}, StatusCompleted)
	case ctx.Err() != nil:
		logf("%s cancelled", t.Name)
		t.finish(Result{Name: t.Name, Value: value, Err: err}, StatusCancelled)
	default:
		logf("%s failed: %v", t.Name, err)
		t.finish(Result{Name: t.Name, Value: value, Err: err}, StatusFailed)
	}
}

func safeCall(ctx context.Context, t *Task) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name, p)
		}
	}()
	return t.fn(ctx, t.setProgress)
}
