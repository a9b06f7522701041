package run

import (
	"context"
	"time"

	"livescribe/internal/hook"
)

const hookDrainTimeout = 5 * time.Second

func (rt *runtime) hookWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			rt.drainHooks()
			return
		case job := <-rt.hookCh:
			// A job already taken runs to completion under hook.timeout_sec.
			rt.runHook(context.WithoutCancel(ctx), job)
		}
	}
}

// drainHooks runs jobs queued before shutdown, so the last transcript of a
// session still reaches the hook.
func (rt *runtime) drainHooks() {
	ctx, cancel := context.WithTimeout(context.Background(), hookDrainTimeout)
	defer cancel()
	for {
		select {
		case job := <-rt.hookCh:
			rt.runHook(ctx, job)
		default:
			return
		}
	}
}

func (rt *runtime) runHook(ctx context.Context, job hook.Job) {
	if err := rt.hook.Run(ctx, job); err != nil {
		rt.logger.Errorf("hook: %v", err)
		rt.metrics.Hook("failed")
		return
	}
	rt.metrics.Hook("sent")
}
