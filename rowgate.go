package hevcrdo

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

var errGateAborted = errors.New("hevcrdo: row gate aborted")

// rowGate provides per-row synchronization for parallel CTB rows. The
// wait side takes an atomic fast path and only locks when the data is not
// ready yet.
type rowGate struct {
	rows    []rowState
	aborted atomic.Bool
}

// rowState is padded to keep the counters of neighbouring rows on
// separate cache lines.
type rowState struct {
	done    atomic.Int32
	waiters atomic.Int32
	mu      sync.Mutex
	cond    *sync.Cond
	_       cpu.CacheLinePad
}

func newRowGate(rows int) *rowGate {
	g := &rowGate{rows: make([]rowState, rows)}
	for i := range g.rows {
		g.rows[i].cond = sync.NewCond(&g.rows[i].mu)
	}
	return g
}

// wait blocks until row y has completed at least needed CTBs, or returns
// errGateAborted once the gate is aborted.
func (g *rowGate) wait(y int, needed int32) error {
	r := &g.rows[y]
	if r.done.Load() >= needed {
		return nil
	}
	r.waiters.Add(1)
	r.mu.Lock()
	for r.done.Load() < needed && !g.aborted.Load() {
		r.cond.Wait()
	}
	r.mu.Unlock()
	r.waiters.Add(-1)
	if r.done.Load() < needed {
		return errGateAborted
	}
	return nil
}

// signal marks that row y has completed done CTBs and wakes its waiters.
// Without waiters it is a single atomic store.
func (g *rowGate) signal(y int, done int32) {
	r := &g.rows[y]
	r.done.Store(done)
	if r.waiters.Load() > 0 {
		r.mu.Lock()
		r.mu.Unlock()
		r.cond.Broadcast()
	}
}

// abort releases every waiter, now and in the future.
func (g *rowGate) abort() {
	g.aborted.Store(true)
	for i := range g.rows {
		r := &g.rows[i]
		r.mu.Lock()
		r.mu.Unlock()
		r.cond.Broadcast()
	}
}
