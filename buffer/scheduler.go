package buffer

import (
	"context"

	"github.com/rs/zerolog"
)

// Scheduler executes dispatch work asynchronously. The default scheduler
// runs each task on its own goroutine; callers with an external task
// queue can plug it in via [WithScheduler]. Tasks must tolerate
// at-least-once execution: a queue is free to redeliver.
type Scheduler interface {
	Submit(ctx context.Context, task func(context.Context) error)
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(ctx context.Context, task func(context.Context) error)

// Submit calls f(ctx, task).
func (f SchedulerFunc) Submit(ctx context.Context, task func(context.Context) error) {
	f(ctx, task)
}

// goScheduler runs each task on its own goroutine and logs failures.
// The task outlives the submitting call, so cancellation of the caller's
// context does not abort an already-submitted dispatch.
type goScheduler struct {
	log zerolog.Logger
}

func (g *goScheduler) Submit(ctx context.Context, task func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := task(ctx); err != nil {
			g.log.Error().Err(err).Msg("scheduled task failed")
		}
	}()
}
