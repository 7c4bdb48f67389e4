// Package shutdownqueue is a process-wide LIFO queue of named cleanup tasks.
//
// Resources register a task as soon as they are opened and main drains the
// queue once on exit:
//
//	defer func() {
//		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
//		defer cancel()
//		_ = shutdownqueue.Shutdown(ctx)
//	}()
//
// Tasks run once, newest first, so a server registered after its database
// stops before the database closes. Panics are recovered and reported as
// errors of the task that raised them.
package shutdownqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task releases one resource. It should honor ctx.
type Task func(ctx context.Context) error

type entry struct {
	name string
	run  Task
}

type queue struct {
	mu      sync.Mutex
	entries []entry
	closed  bool
	logger  *slog.Logger
}

var q = &queue{entries: make([]entry, 0, 8)}

// SetLogger routes per-task progress lines to l. Without it slog.Default is
// used at drain time.
func SetLogger(l *slog.Logger) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.logger = l
}

// Add registers t under name. Add is a no-op for a nil task or once Shutdown
// has started.
func Add(name string, t Task) {
	if t == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.entries = append(q.entries, entry{name: name, run: t})
}

// Shutdown runs the registered tasks newest first. Later calls are no-ops.
//
// When ctx ends mid-drain the remaining tasks are skipped and the context
// error is joined with the task errors collected so far.
func Shutdown(ctx context.Context) error {
	q.mu.Lock()

	if q.closed && len(q.entries) == 0 {
		q.mu.Unlock()
		return nil
	}

	q.closed = true
	entries := q.entries
	q.entries = nil

	logger := q.logger
	if logger == nil {
		logger = slog.Default()
	}

	q.mu.Unlock()

	var errs []error

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]

		if ctx.Err() != nil {
			skipped := make([]string, 0, i+1)
			for j := i; j >= 0; j-- {
				skipped = append(skipped, entries[j].name)
			}

			logger.Warn("shutdown deadline reached", "skipped", skipped)
			errs = append(errs, fmt.Errorf("shutdown canceled: %w", ctx.Err()))

			return errors.Join(errs...)
		}

		start := time.Now()

		err := runTask(ctx, e)
		if err != nil {
			logger.Error("shutdown task failed", "task", e.name, "error", err)
			errs = append(errs, err)

			continue
		}

		logger.Info("shutdown task done", "task", e.name, "took", time.Since(start))
	}

	return errors.Join(errs...)
}

func runTask(ctx context.Context, e entry) (err error) {
	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("%s: panic: %v", e.name, r)
		}
	}()

	err = e.run(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}

	return nil
}
