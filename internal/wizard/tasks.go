package wizard

import (
	"context"
	"errors"
	"log/slog"
)

// RunTask runs a named background task on its own goroutine, tracking the
// running-task count. A task failure lands in the user-visible error slot
// unless it was a cancellation; unrelated tasks are never blocked by it.
func (w *Wizard) RunTask(ctx context.Context, name string, fn func(ctx context.Context) error) {
	w.mu.Lock()
	w.taskCount++
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			w.taskCount--
			w.mu.Unlock()
		}()

		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Debug("background task cancelled", "task", name)
				return
			}
			slog.Error("background task failed", "task", name, "error", err)
			w.setErrorNow(err)
		}
	}()
}

// TaskCount returns the number of running background tasks.
func (w *Wizard) TaskCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.taskCount
}
