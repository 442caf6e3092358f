package executor

import "sync"

// Signal is a one-shot completion notification. It fires at most once and
// every waiter observes the same firing.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an unfired Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire fires the signal. It reports whether this call did the firing.
func (s *Signal) Fire() bool {
	fired := false
	s.once.Do(func() {
		close(s.ch)
		fired = true
	})
	return fired
}

// Done returns a channel that is closed once the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether the signal has fired.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
