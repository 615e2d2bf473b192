package archive

import "golang.org/x/sync/errgroup"

// goSupervised runs fn on g and turns a panic into a TaskPanicError, so the
// group fails and cancels its context instead of leaving a consumer blocked
// on a handoff that will never be filled. Deferred cleanup in fn still runs
// while the panic unwinds.
func goSupervised(g *errgroup.Group, task string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &TaskPanicError{Task: task, Value: r}
			}
		}()
		return fn()
	})
}
