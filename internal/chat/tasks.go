package chat

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
)

// Runner executes work that must not delay the caller. Errors returned by a
// task are logged and never reach the operation that scheduled it.
type Runner interface {
	Go(name string, task func(ctx context.Context) error)
}

type TaskRunner struct {
	log    *log.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTaskRunner(logger *log.Logger) *TaskRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskRunner{
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *TaskRunner) Go(name string, task func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		runTask(r.ctx, r.log, name, task)
	}()
}

// Shutdown waits for in-flight tasks until ctx expires, then cancels the
// context handed to the remaining ones.
func (r *TaskRunner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}

// InlineRunner runs each task on the calling goroutine before returning.
type InlineRunner struct {
	Log *log.Logger
}

func (r InlineRunner) Go(name string, task func(ctx context.Context) error) {
	runTask(context.Background(), r.Log, name, task)
}

func runTask(ctx context.Context, logger *log.Logger, name string, task func(ctx context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil && logger != nil {
			logger.Printf("task %s panicked: %v\n%s", name, rec, debug.Stack())
		}
	}()

	if err := task(ctx); err != nil && logger != nil {
		logger.Printf("task %s: %v", name, err)
	}
}
