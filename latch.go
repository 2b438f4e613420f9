package router

import "sync"

// latch is the replicas_updated signal from spec.md §3/§9: a
// level-triggered notification that wakes backed-off workers early
// when the replica set changes. It is built on the same "close a
// channel to broadcast, then replace it" idiom the teacher uses in
// ws_hub.go's hub shutdown path, generalised here to fire repeatedly
// instead of once.
//
// "Level-triggered" means a worker that calls Observe after a Signal it
// never watched for still sees it: the set flag is sticky until
// consumed, it does not require a goroutine to already be waiting on
// the channel at the moment Signal runs.
type latch struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

// Signal marks the latch set and wakes every current waiter.
func (l *latch) Signal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set = true
	close(l.ch)
	l.ch = make(chan struct{})
}

// Observe reports whether the latch was already set (consuming the
// flag) or, if not, returns a channel that closes on the next Signal.
func (l *latch) Observe() (wasSet bool, wake <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set {
		l.set = false
		return true, nil
	}
	return false, l.ch
}
