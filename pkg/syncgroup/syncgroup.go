// Package syncgroup wraps sync.WaitGroup so the Add/Done pairing lives in
// one place instead of at every call site.
package syncgroup

import "sync"

type SyncGroup struct {
	wg sync.WaitGroup
}

func New() *SyncGroup {
	return &SyncGroup{}
}

// Go runs fn in its own goroutine and tracks it until it returns.
func (g *SyncGroup) Go(fn func()) {
	if fn == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait blocks until every tracked goroutine has returned.
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
