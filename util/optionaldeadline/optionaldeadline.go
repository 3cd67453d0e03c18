// Package optionaldeadline provides a context.Context whose deadline is not
// fixed at creation time: it starts with no deadline at all, and some later
// event (the caller's choice) calls enforceDeadline to arm one. Useful for
// RPC callers that want to wait indefinitely while a peer looks healthy, but
// want a bounded grace period the moment a failure monitor says otherwise.
package optionaldeadline

import (
	"context"
	"sync"
	"time"
)

type contextWithOptionalDeadline struct {
	context.Context

	m        sync.Mutex
	deadline time.Time

	done chan struct{}
	err  error
}

func (c *contextWithOptionalDeadline) Deadline() (deadline time.Time, ok bool) {
	c.m.Lock()
	defer c.m.Unlock()
	return c.deadline, !c.deadline.IsZero()
}

func (c *contextWithOptionalDeadline) Err() error {
	c.m.Lock()
	defer c.m.Unlock()
	return c.err
}

func (c *contextWithOptionalDeadline) Done() <-chan struct{} {
	return c.done
}

// ContextWithOptionalDeadline derives a context from pctx that behaves like
// pctx until enforceDeadline is called, at which point it behaves like
// context.WithDeadline(pctx, deadline). Only the first call to
// enforceDeadline has any effect. pctx being cancelled always cancels the
// derived context, deadline or not.
func ContextWithOptionalDeadline(pctx context.Context) (ctx context.Context, enforceDeadline func(deadline time.Time)) {

	rctx := &contextWithOptionalDeadline{
		Context: pctx,
		done:    make(chan struct{}),
		err:     nil,
	}
	enforceDeadline = func(deadline time.Time) {

		rctx.m.Lock()
		alreadyCalled := !rctx.deadline.IsZero()
		if !alreadyCalled {
			rctx.deadline = deadline
		}
		rctx.m.Unlock()
		if alreadyCalled {
			return
		}

		sleepTime := deadline.Sub(time.Now())
		if sleepTime <= 0 {
			err := pctx.Err()
			if err == nil {
				err = context.DeadlineExceeded
			}
			rctx.m.Lock()
			rctx.err = err
			rctx.m.Unlock()
			close(rctx.done)
			return
		}
		go func() {
			timer := time.NewTimer(sleepTime)
			var setErr error
			select {
			case <-pctx.Done():
				timer.Stop()
				setErr = pctx.Err()
			case <-timer.C:
				setErr = context.DeadlineExceeded
			}
			rctx.m.Lock()
			rctx.err = setErr
			rctx.m.Unlock()
			close(rctx.done)
		}()
	}
	if pctx.Done() != nil {
		go func() {
			select {
			case <-pctx.Done():
				enforceDeadline(time.Now())
			case <-rctx.done:
			}
		}()
	}
	return rctx, enforceDeadline
}
