package services

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// TaskGroup runs work after the HTTP response has been written and keeps
// track of it, so shutdown can drain in-flight deliveries and tests can wait
// for them. The zero value is ready to use.
type TaskGroup struct {
	wg      sync.WaitGroup
	running atomic.Int64
}

// Go runs fn in a new goroutine. A panic in fn is recovered and logged with
// the logger carried by ctx.
func (g *TaskGroup) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	g.running.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Ctx(ctx).Error().
					Str("task", name).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("background task panicked")
			}
			g.running.Add(-1)
			g.wg.Done()
		}()
		fn(ctx)
	}()
}

// Running reports the number of tasks that have not finished.
func (g *TaskGroup) Running() int { return int(g.running.Load()) }

// Wait blocks until every started task has returned.
func (g *TaskGroup) Wait() { g.wg.Wait() }

// WaitContext is Wait bounded by ctx. It returns ctx.Err() if tasks are
// still running when ctx is done.
func (g *TaskGroup) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
