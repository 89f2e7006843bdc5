package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrRefreshTimeout  = errors.New("token refresh did not settle in time")
	ErrSessionExpired  = errors.New("session expired, log in again")
	ErrSessionClosed   = errors.New("session closed")
	ErrRefreshRejected = errors.New("refresh rejected by server")
)

// RefreshFunc performs one token refresh round trip.
type RefreshFunc func(ctx context.Context) error

// Coordinator collapses concurrent refresh attempts of one session into a
// single flight. Every caller that asks while a flight is running is queued
// and receives that flight's outcome, in arrival order.
type Coordinator struct {
	refresh RefreshFunc
	timeout time.Duration

	mu         sync.Mutex
	refreshing bool
	closed     bool
	queue      []chan error
	flightDone chan struct{}
	// generation counts settled flights; lastErr is the latest outcome
	generation uint64
	lastErr    error
}

func NewCoordinator(refresh RefreshFunc, timeout time.Duration) *Coordinator {
	return &Coordinator{
		refresh: refresh,
		timeout: timeout,
	}
}

// Generation returns the number of flights settled so far. Read it before
// sending a request and pass it to RefreshAfter when that request fails.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Refresh joins the in-flight refresh or starts one. It returns nil once the
// session holds fresh tokens. A failed flight is reported as ErrSessionExpired
// wrapping the cause. If ctx ends first, Refresh returns ctx.Err() and the
// flight carries on for the other callers.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.join(ctx, nil)
}

// RefreshAfter is Refresh for a request sent while Generation returned seen.
// If a flight has settled since then, the tokens that request carried are
// already replaced, so RefreshAfter reports that flight's outcome instead of
// starting another one.
func (c *Coordinator) RefreshAfter(ctx context.Context, seen uint64) error {
	return c.join(ctx, &seen)
}

func (c *Coordinator) join(ctx context.Context, seen *uint64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if seen != nil && *seen != c.generation {
		err := c.lastErr
		c.mu.Unlock()
		return err
	}

	slot := make(chan error, 1)
	c.queue = append(c.queue, slot)
	if !c.refreshing {
		c.refreshing = true
		c.flightDone = make(chan struct{})
		go c.fly(context.WithoutCancel(ctx))
	}
	c.mu.Unlock()

	select {
	case err := <-slot:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close fails every current and future settlement with ErrSessionClosed. An
// in-flight refresh is not interrupted.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Wait blocks until no refresh is in flight.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	if !c.refreshing {
		c.mu.Unlock()
		return nil
	}
	done := c.flightDone
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) fly(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- c.refresh(ctx)
	}()

	var err error
	select {
	case err = <-result:
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ErrRefreshTimeout
		}
	case <-ctx.Done():
		// the refresh call may ignore ctx; stop waiting for it regardless
		err = ErrRefreshTimeout
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	c.settle(err)
}

func (c *Coordinator) settle(err error) {
	c.mu.Lock()
	queue := c.queue
	done := c.flightDone
	c.queue = nil
	c.refreshing = false
	if c.closed {
		err = ErrSessionClosed
	}
	c.generation++
	c.lastErr = err
	c.mu.Unlock()

	for _, slot := range queue {
		slot <- err
	}
	close(done)
}
