package helpers

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
)

var (
	ErrFutureTimeout  = errors.New("future timeout")
	ErrFutureCanceled = errors.New("future canceled")
)

// Future holds one acknowledgement outcome: a result or a cancel reason.
// First Complete or Cancel wins, later calls report false.
type Future struct {
	mu       sync.Mutex
	done     chan struct{}
	result   interface{}
	canceled bool
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (self *Future) Complete(result interface{}) bool { return self.resolve(result, false) }
func (self *Future) Cancel(reason interface{}) bool   { return self.resolve(reason, true) }

func (self *Future) Done() <-chan struct{} { return self.done }

func (self *Future) Result() interface{} {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.result
}

// Wait blocks until resolved, ctx is done or timeout elapses.
// Zero timeout waits without limit.
// Canceled future returns its reason when that is an error, else ErrFutureCanceled.
func (self *Future) Wait(ctx context.Context, timeout time.Duration) (interface{}, error) {
	var tmrch <-chan time.Time
	if timeout > 0 {
		tmr := time.NewTimer(timeout)
		defer tmr.Stop()
		tmrch = tmr.C
	}
	select {
	case <-self.done:
	case <-ctx.Done():
		return nil, errors.Annotate(ctx.Err(), "future wait")
	case <-tmrch:
		return nil, errors.Trace(ErrFutureTimeout)
	}

	self.mu.Lock()
	result, canceled := self.result, self.canceled
	self.mu.Unlock()
	if !canceled {
		return result, nil
	}
	if e, ok := result.(error); ok && e != nil {
		return nil, e
	}
	return nil, errors.Trace(ErrFutureCanceled)
}

func (self *Future) resolve(result interface{}, canceled bool) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	select {
	case <-self.done:
		return false
	default:
	}
	self.result = result
	self.canceled = canceled
	close(self.done)
	return true
}
