package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/internal/logging"
)

// ErrStopped is returned by WaitIfPaused once the controller is stopped.
var ErrStopped = errors.New("executor stopped")

// PauseController gates new dispatches. Tasks already past the gate are
// unaffected by a pause.
type PauseController struct {
	// paused indicates whether dispatch is currently gated.
	paused bool
	// stopped indicates the run is over and waiters should give up.
	stopped bool
	// mu protects all fields.
	mu sync.RWMutex
	// cond is used to signal when the gate opens or the controller stops.
	cond *sync.Cond
	log  logrus.FieldLogger
}

// NewPauseController creates an open PauseController.
func NewPauseController(log logrus.FieldLogger) *PauseController {
	p := &PauseController{log: logging.OrNop(log)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Pause closes the gate. It reports false if the gate was already closed.
func (p *PauseController) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return false
	}
	p.paused = true
	p.log.Info("paused - no new tasks will be dispatched")
	return true
}

// Resume opens the gate. It reports false if the gate was already open.
func (p *PauseController) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return false
	}
	p.paused = false
	p.log.Info("resumed - task dispatch enabled")
	p.cond.Broadcast()
	return true
}

// Stop releases every waiter. This unblocks any WaitIfPaused calls.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		p.cond.Broadcast()
	}
}

// IsPaused returns whether the gate is closed.
func (p *PauseController) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// IsStopped returns whether the controller has been stopped.
func (p *PauseController) IsStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}

// WaitIfPaused blocks until the gate opens or the controller stops.
// Returns an error if the context is cancelled or the controller is stopped.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	if p.paused && !p.stopped {
		// One goroutine per wait turns ctx cancellation into a broadcast.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()

		for p.paused && !p.stopped {
			p.cond.Wait()
			if ctx.Err() != nil {
				close(done)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		close(done)
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.mu.Unlock()
	return nil
}

// permitPool bounds concurrent dispatch. Permits taken by a pause are held
// aside and handed back by restore, so the pool never leaks or duplicates
// permits across pause and resume.
type permitPool struct {
	tokens chan struct{}
	mu     sync.Mutex
	held   int
}

func newPermitPool(n int) *permitPool {
	p := &permitPool{tokens: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

func (p *permitPool) acquire(ctx context.Context) error {
	select {
	case <-p.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *permitPool) release() {
	p.tokens <- struct{}{}
}

// drain takes every available permit without blocking and returns how many
// were taken by this call.
func (p *permitPool) drain() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for {
		select {
		case <-p.tokens:
			n++
		default:
			p.held += n
			return n
		}
	}
}

// restore returns every held permit to the pool and reports the count.
func (p *permitPool) restore() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.held
	for i := 0; i < n; i++ {
		p.tokens <- struct{}{}
	}
	p.held = 0
	return n
}

func (p *permitPool) available() int {
	return len(p.tokens)
}

func (p *permitPool) heldCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

func (p *permitPool) capacity() int {
	return cap(p.tokens)
}
