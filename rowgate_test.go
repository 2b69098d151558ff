package hevcrdo

import (
	"sync"
	"testing"
	"time"
)

func TestRowGateFastPath(t *testing.T) {
	g := newRowGate(2)
	g.signal(0, 3)
	if err := g.wait(0, 3); err != nil {
		t.Fatalf("wait = %v, want nil", err)
	}
	if err := g.wait(0, 1); err != nil {
		t.Fatalf("wait = %v, want nil", err)
	}
}

func TestRowGateWakesWaiters(t *testing.T) {
	g := newRowGate(2)
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = g.wait(0, int32(i+1))
		}()
	}
	for done := int32(1); done <= 4; done++ {
		time.Sleep(time.Millisecond)
		g.signal(0, done)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("waiter %d: %v", i, err)
		}
	}
}

func TestRowGateAbort(t *testing.T) {
	g := newRowGate(1)
	res := make(chan error, 1)
	go func() { res <- g.wait(0, 2) }()
	time.Sleep(time.Millisecond)
	g.abort()
	select {
	case err := <-res:
		if err != errGateAborted {
			t.Errorf("wait = %v, want %v", err, errGateAborted)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by abort")
	}

	// Later waits fail at once unless the row already made progress.
	if err := g.wait(0, 1); err != errGateAborted {
		t.Errorf("wait after abort = %v, want %v", err, errGateAborted)
	}
	g.signal(0, 1)
	if err := g.wait(0, 1); err != nil {
		t.Errorf("wait on completed row = %v, want nil", err)
	}
}
