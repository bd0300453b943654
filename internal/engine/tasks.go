package engine

import "sync"

// taskGroup tracks background work the engine has started but not yet
// finished, so shutdown can join it instead of abandoning in-flight
// cache fills.
type taskGroup struct {
	wg sync.WaitGroup
}

// Go runs f on its own goroutine and tracks it until it returns.
func (g *taskGroup) Go(f func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		f()
	}()
}

// Wait blocks until every tracked task has returned.
func (g *taskGroup) Wait() {
	g.wg.Wait()
}
