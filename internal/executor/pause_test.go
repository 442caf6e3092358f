package executor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPauseController_Gate(t *testing.T) {
	p := NewPauseController(nil)

	if err := p.WaitIfPaused(context.Background()); err != nil {
		t.Fatalf("expected open gate, got %v", err)
	}
	if !p.Pause() {
		t.Error("expected first Pause to report true")
	}
	if p.Pause() {
		t.Error("expected second Pause to report false")
	}

	done := make(chan error, 1)
	go func() { done <- p.WaitIfPaused(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("waiter passed a closed gate: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	if !p.Resume() {
		t.Error("expected Resume to report true")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil after resume, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Resume")
	}
}

func TestPauseController_ContextCancel(t *testing.T) {
	p := NewPauseController(nil)
	p.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.WaitIfPaused(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by cancel")
	}
}

func TestPauseController_Stop(t *testing.T) {
	p := NewPauseController(nil)
	p.Pause()

	done := make(chan error, 1)
	go func() { done <- p.WaitIfPaused(context.Background()) }()
	p.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Stop")
	}
	if !p.IsStopped() {
		t.Error("expected IsStopped")
	}
}

func TestPermitPool_DrainRestore(t *testing.T) {
	p := newPermitPool(3)
	if err := p.acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if n := p.drain(); n != 2 {
		t.Errorf("expected drain of 2, got %d", n)
	}
	if p.available() != 0 || p.heldCount() != 2 {
		t.Errorf("expected 0 available / 2 held, got %d / %d", p.available(), p.heldCount())
	}

	p.release()
	if n := p.drain(); n != 1 {
		t.Errorf("expected second drain of 1, got %d", n)
	}
	if n := p.restore(); n != 3 {
		t.Errorf("expected restore of 3, got %d", n)
	}
	if p.available() != p.capacity() {
		t.Errorf("expected full pool, got %d of %d", p.available(), p.capacity())
	}
}

func TestSignal_FiresOnce(t *testing.T) {
	s := NewSignal()
	if s.Fired() {
		t.Error("new signal already fired")
	}
	if !s.Fire() {
		t.Error("expected first Fire to report true")
	}
	if s.Fire() {
		t.Error("expected second Fire to report false")
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after Fire")
	}
}
