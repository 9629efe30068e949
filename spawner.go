package lifescope

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Spawner allows spawning concurrent tasks into a scope.
type Spawner interface {
	// Spawn starts a new concurrent task with the given name.
	// The task function receives a child Spawner allowing it to create sub-tasks.
	Spawn(name string, fn TaskFunc)

	// Go starts a new concurrent task that does not spawn sub-tasks.
	Go(name string, fn func(ctx context.Context) error)
}

type spawner struct {
	s    *scope
	open atomic.Bool
}

// Spawn implements Spawner.Spawn.
func (sp *spawner) Spawn(name string, fn TaskFunc) {
	sp.spawn(name, fn, nil)
}

// Go implements Spawner.Go.
func (sp *spawner) Go(name string, fn func(ctx context.Context) error) {
	sp.spawn(name, func(ctx context.Context, _ Spawner) error {
		return fn(ctx)
	}, nil)
}

// spawn schedules fn. onSkip, when set, is called with the reason if fn
// never gets to run.
func (sp *spawner) spawn(name string, fn TaskFunc, onSkip func(error)) {
	// Check open BEFORE wg.Add to avoid racing finalize()'s wg.Wait().
	if !sp.open.Load() {
		panic("lifescope: Spawn called after scope shutdown")
	}

	s := sp.s
	s.wg.Add(1)
	s.totalSpawned.Add(1)

	info := TaskInfo{Name: name}
	skip := func(err error) {
		if onSkip != nil {
			onSkip(err)
		}
	}

	run := func() {
		defer s.wg.Done()

		if s.sem != nil {
			select {
			case s.sem <- struct{}{}:
				defer func() { <-s.sem }()
			case <-s.ctx.Done():
				// The real cause is already recorded.
				skip(s.ctx.Err())
				return
			}
		}

		if s.ctx.Err() != nil {
			skip(s.ctx.Err())
			return
		}

		// The child spawner is valid only for the lifetime of the task.
		child := &spawner{s: s}
		child.open.Store(true)

		s.activeTasks.Add(1)
		start := time.Now()
		err := s.exec(func(ctx context.Context) error {
			switch {
			case s.cfg.executor != nil:
				ctx = ContextWithExecutor(ctx, s.cfg.executor)
			case ExecutorFromContext(ctx) != nil:
				// A fresh goroutine is on no executor.
				ctx = ContextWithExecutor(ctx, nil)
			}
			if s.cfg.onStart != nil {
				s.cfg.onStart(info)
			}
			return fn(ctx, child)
		})
		elapsed := time.Since(start)
		s.activeTasks.Add(-1)

		child.close()

		// onDone runs outside exec: a panicking hook is not recovered.
		s.runHooks(info, err, elapsed)

		if err != nil {
			s.recordError(info, err)
		}
	}

	if s.cfg.executor == nil {
		go run()
		return
	}
	if err := s.cfg.executor.Execute(run); err != nil {
		s.wg.Done()
		skip(err)
		s.recordError(info, fmt.Errorf("schedule task: %w", err))
	}
}

func (sp *spawner) close() {
	sp.open.Store(false)
}
