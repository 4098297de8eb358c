package helpers

import (
	"sync"
	"time"
)

func IntSecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Second
}

// Countdown closes Expired() channel after duration unless stopped first.
type Countdown struct {
	mu      sync.Mutex
	t       *time.Timer
	expired chan struct{}
	stopped bool
}

func NewCountdown(d time.Duration) *Countdown {
	self := &Countdown{expired: make(chan struct{})}
	self.t = time.AfterFunc(d, self.fire)
	return self
}

func (self *Countdown) fire() {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.stopped {
		close(self.expired)
		self.stopped = true
	}
}

func (self *Countdown) Expired() <-chan struct{} { return self.expired }

func (self *Countdown) IsExpired() bool {
	select {
	case <-self.expired:
		return true
	default:
		return false
	}
}

// Stop disarms timer. Returns true if countdown was still pending.
func (self *Countdown) Stop() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.stopped {
		return false
	}
	self.stopped = true
	self.t.Stop()
	return true
}
