// Package executor runs the node's fixed set of long-lived tasks cooperatively.
// Only the task holding the run baton executes; every suspension point hands
// the baton back so no two tasks ever run their non-suspended code at once.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrRunning is returned when a task is spawned after Run has started.
	ErrRunning = errors.New("executor already running")
	// ErrDuplicateTask is returned when two tasks share a name.
	ErrDuplicateTask = errors.New("duplicate task name")
)

// Suspender is the set of suspension points a task may use.
type Suspender interface {
	// Sleep suspends for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
	// Await suspends while fn blocks (socket I/O, event waits).
	Await(ctx context.Context, fn func(ctx context.Context) error) error
	// Yield lets other ready tasks run.
	Yield(ctx context.Context) error
}

// TaskFunc is the body of a task. It normally runs until ctx is done.
type TaskFunc func(ctx context.Context, s Suspender) error

type spawned struct {
	name string
	fn   TaskFunc
}

// ExitHook is told about a task that stopped with an error or panic
type ExitHook func(task string, err error)

// Option configures an Executor
type Option func(*Executor)

// WithExitHook registers a hook for abnormal task exits
func WithExitHook(hook ExitHook) Option {
	return func(e *Executor) {
		e.onExit = hook
	}
}

// Executor owns the baton and the task set
type Executor struct {
	logger  zerolog.Logger
	onExit  ExitHook
	baton   chan struct{}
	mu      sync.Mutex
	tasks   []spawned
	names   map[string]bool
	running bool
	wg      sync.WaitGroup
}

// New creates an executor with an empty task set
func New(logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		logger: logger.With().Str("component", "executor").Logger(),
		baton:  make(chan struct{}, 1),
		names:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Spawn registers a task. The task set is fixed once Run starts.
func (e *Executor) Spawn(name string, fn TaskFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("spawn %s: %w", name, ErrRunning)
	}
	if e.names[name] {
		return fmt.Errorf("spawn %s: %w", name, ErrDuplicateTask)
	}

	e.names[name] = true
	e.tasks = append(e.tasks, spawned{name: name, fn: fn})
	return nil
}

// Run starts every spawned task in spawn order and blocks until all of them
// have returned. A failing task is logged and does not affect the others.
func (e *Executor) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrRunning
	}
	e.running = true
	tasks := append([]spawned(nil), e.tasks...)
	e.mu.Unlock()

	e.logger.Info().Int("tasks", len(tasks)).Msg("Executor started")

	for _, sp := range tasks {
		t := &Task{name: sp.name, baton: e.baton}

		e.wg.Add(1)
		go e.runTask(ctx, t, sp.fn)
	}

	e.wg.Wait()
	e.logger.Info().Msg("Executor stopped")
	return nil
}

func (e *Executor) runTask(ctx context.Context, t *Task, fn TaskFunc) {
	defer e.wg.Done()

	if err := t.acquire(ctx); err != nil {
		return
	}
	defer t.release()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("task", t.name).Interface("panic", r).Msg("Task panicked, stopping it")
			e.exited(t.name, fmt.Errorf("panic: %v", r))
		}
	}()

	err := fn(ctx, t)
	switch {
	case err == nil:
		e.logger.Debug().Str("task", t.name).Msg("Task finished")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		e.logger.Debug().Str("task", t.name).Msg("Task cancelled")
	default:
		e.logger.Error().Err(err).Str("task", t.name).Msg("Task stopped")
		e.exited(t.name, err)
	}
}

func (e *Executor) exited(task string, err error) {
	if e.onExit != nil {
		e.onExit(task, err)
	}
}

// Task is the handle a running task uses to suspend itself
type Task struct {
	name  string
	baton chan struct{}
	held  bool
}

// Name returns the task name
func (t *Task) Name() string {
	return t.name
}

func (t *Task) acquire(ctx context.Context) error {
	if t.held {
		return nil
	}
	select {
	case t.baton <- struct{}{}:
		t.held = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) release() {
	if !t.held {
		return
	}
	t.held = false
	<-t.baton
}

// Sleep implements Suspender
func (t *Task) Sleep(ctx context.Context, d time.Duration) error {
	return t.Await(ctx, func(ctx context.Context) error {
		return sleep(ctx, d)
	})
}

// Await implements Suspender. The baton is reacquired before returning,
// unless ctx is done, in which case the task must unwind.
func (t *Task) Await(ctx context.Context, fn func(ctx context.Context) error) error {
	t.release()
	fnErr := fn(ctx)
	if err := t.acquire(ctx); err != nil {
		if fnErr != nil {
			return fnErr
		}
		return err
	}
	return fnErr
}

// Yield implements Suspender
func (t *Task) Yield(ctx context.Context) error {
	return t.Await(ctx, func(context.Context) error { return nil })
}

type unscheduled struct{}

// Unscheduled returns a Suspender that does not coordinate with any
// executor. Used by tests and by callers driving a component directly.
func Unscheduled() Suspender {
	return unscheduled{}
}

func (unscheduled) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func (unscheduled) Await(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (unscheduled) Yield(ctx context.Context) error {
	return ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
