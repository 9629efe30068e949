// Package lifescope provides cancellation scopes for event-driven Go code:
// structured task groups whose lifetime is bound to an owner, plus the
// channel, dispatch, lifecycle and text-input packages built on top of them.
//
// # Running Tasks
//
// The primary entry point is [Run], which creates a scope, executes a
// function that spawns tasks via [Spawner], and waits for all tasks to
// complete before returning:
//
//	err := lifescope.Run(ctx, func(sp lifescope.Spawner) {
//	    sp.Go("fetch", func(ctx context.Context) error {
//	        return fetch(ctx)
//	    })
//	    sp.Spawn("process", func(ctx context.Context, sub lifescope.Spawner) error {
//	        sub.Go("step-1", step1)
//	        return nil
//	    })
//	})
//
// For manual lifecycle control, [New] returns a [Scope] and root [Spawner]
// separately. The caller must call [Scope.Wait] to finalize. [Scope.Cancel]
// is the cancellation token: it stops every task of the scope.
//
// # Error Policies
//
//   - [FailFast] (default): the first error cancels all sibling tasks.
//     [Scope.Wait] returns that first error.
//   - [Collect]: all errors are collected without cancelling siblings.
//     Use [WithMaxErrors] to cap stored errors.
//
// All task errors are wrapped in [*TaskError]. Use [IsTaskError], [TaskOf],
// [CauseOf], and [AllTaskErrors] to inspect them.
//
// # Executors
//
// By default each task runs on its own goroutine. [WithExecutor] hands task
// bodies to an [Executor] instead; the dispatch package provides a serial
// executor for interactive work and a worker pool for background work.
//
// # Panic Recovery
//
// A panic in any task is captured with its stack trace and re-raised in
// [Scope.Wait]. Use [WithPanicAsError] to return [*PanicError] values as
// regular errors instead.
//
// # Spawner Lifetime
//
// Each task function receives a child [Spawner] that is valid only for the
// duration of the task. Calling Spawn on it after the task returns panics.
//
// # Subpackages
//
//   - chanx: context-aware channel operations, the debounce operator and a
//     fan-out broadcaster with explicit overflow policies.
//   - dispatch: explicit scheduling contexts (serial and pooled).
//   - lifecycle: component lifecycles and lifecycle-bound scopes.
//   - textinput: text-change and editor-action callback adapters.
//   - telemetry: OpenTelemetry setup and instruments.
package lifescope
