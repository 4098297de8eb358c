// Package session runs bounded connection sessions to the hub:
// modem up, SAS token, MQTT connect and subscribe, one operation,
// guaranteed disconnect and modem power off.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/geotrack/helpers"
	"github.com/temoto/geotrack/internal/hardware"
	"github.com/temoto/geotrack/internal/queue"
	"github.com/temoto/geotrack/log2"
	"github.com/temoto/geotrack/tele"
)

const (
	DefaultPort        = 8883
	DefaultTokenExpiry = time.Hour
	DefaultWindow      = 2 * time.Minute
	DefaultKeepAlive   = 60
	inboxSize          = 8
)

type Config struct {
	Host           string
	Port           int
	Scheme         string // tls (default) or tcp
	DeviceID       string
	Key            string // base64 shared access key
	Policy         string
	TLS            *tls.Config
	TokenExpiry    time.Duration
	NetworkTimeout time.Duration
	KeepAlive      uint16
}

func (self *Config) BrokerURL() string {
	scheme := self.Scheme
	if scheme == "" {
		scheme = "tls"
	}
	port := self.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s://%s:%d", scheme, self.Host, port)
}

type Dumper interface {
	StartDump() (*queue.Session, error)
}

// Manager runs one session at a time.
type Manager struct {
	Log     *log2.Log
	Config  Config
	Modem   hardware.Modem
	Clock   hardware.Clock
	NewLink LinkFactory

	LastSuccess atomic_clock.Clock

	run     sync.Mutex // one session at a time
	mu      sync.Mutex
	state   State
	inbound [][]byte
}

func (self *Manager) State() State {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.state
}

func (self *Manager) setState(log *log2.Log, s State) {
	self.mu.Lock()
	prev := self.state
	self.state = s
	self.mu.Unlock()
	if prev != s {
		log.Debugf("state %s -> %s", prev, s)
	}
}

// Inbound returns and forgets messages not returned by Receive, in arrival order.
func (self *Manager) Inbound() [][]byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	ms := self.inbound
	self.inbound = nil
	return ms
}

// Receive announces HELLO and waits for one inbound message until window expires.
// Returns ErrNoMessage on expiry.
func (self *Manager) Receive(ctx context.Context, window time.Duration) ([]byte, error) {
	var result []byte
	err := self.session(ctx, "receive", window, func(ctx context.Context, c *conn) error {
		if err := c.publish(ctx, []byte(tele.MarkerHello)); err != nil {
			return err
		}
		var err error
		select {
		case result = <-c.inbox:
		case <-c.expired:
			err = ErrNoMessage
		case <-ctx.Done():
			return errors.Annotate(ctx.Err(), "receive")
		}
		if perr := c.publish(ctx, []byte(tele.MarkerBye)); perr != nil && err == nil {
			c.log.Error(errors.Annotate(perr, "publish BYE"))
		}
		return err
	})
	return result, err
}

// SendOne publishes single record.
func (self *Manager) SendOne(ctx context.Context, payload []byte, window time.Duration) error {
	return self.session(ctx, "send-one", window, func(ctx context.Context, c *conn) error {
		return c.publish(ctx, payload)
	})
}

// SendAll publishes every queued record and flushes queue only when all were acknowledged.
func (self *Manager) SendAll(ctx context.Context, q Dumper, window time.Duration) (int, error) {
	sent := 0
	err := self.session(ctx, "send-all", window, func(ctx context.Context, c *conn) error {
		s, err := q.StartDump()
		if err != nil {
			return errors.Annotate(err, "send-all")
		}
		defer s.Stop()
		for {
			if c.isExpired() {
				return errors.Timeoutf("send window expired sent=%d", sent)
			}
			line, ok := s.Next()
			if !ok {
				break
			}
			if err := c.publish(ctx, line); err != nil {
				return errors.Annotatef(err, "send-all record=%d", sent)
			}
			sent++
		}
		if err := s.Err(); err != nil {
			return errors.Annotate(err, "send-all")
		}
		return errors.Annotate(s.Flush(), "send-all")
	})
	return sent, err
}

// conn is state of one session shared between spawner and session goroutine.
type conn struct {
	log     *log2.Log
	link    Link
	topic   string
	inbox   chan []byte
	expired <-chan struct{}
}

func (self *conn) isExpired() bool {
	select {
	case <-self.expired:
		return true
	default:
		return false
	}
}

func (self *conn) publish(ctx context.Context, payload []byte) error {
	return self.link.Publish(ctx, self.topic, payload, 1)
}

func (self *Manager) session(ctx context.Context, kind string, window time.Duration, op func(context.Context, *conn) error) error {
	self.run.Lock()
	defer self.run.Unlock()
	if window <= 0 {
		window = DefaultWindow
	}
	log := self.Log.Clone(self.Log.Level())
	log.SetPrefix(fmt.Sprintf("session=%s %s ", uuid.NewString()[:8], kind))
	log.Debugf("begin window=%s", window)
	self.setState(log, StateConnecting)

	// token problems are found before spending modem power
	if _, err := self.token(self.Clock.Now()); err != nil {
		self.setState(log, StateFailed)
		log.Error(err)
		return err
	}

	c := &conn{
		log:   log,
		topic: tele.TopicEvents(self.Config.DeviceID),
		inbox: make(chan []byte, inboxSize),
	}
	c.link = self.NewLink(log, func(m Message) {
		select {
		case c.inbox <- m.Payload:
			log.Debugf("inbound topic=%s len=%d", m.Topic, len(m.Payload))
		default:
			log.Errorf("inbound overflow, dropped topic=%s", m.Topic)
		}
	})

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	countdown := helpers.NewCountdown(window)
	c.expired = countdown.Expired()
	done := make(chan error, 1)
	go func() { done <- self.body(sctx, c, op) }()

	var err error
	select {
	case err = <-done:
	case <-countdown.Expired():
		grace := self.networkTimeout()
		log.Debugf("window expired, grace=%s", grace)
		select {
		case err = <-done:
		case <-time.After(grace):
			cancel()
			err = <-done
		}
		if err != nil && !errors.IsTimeout(err) && errors.Cause(err) != ErrNoMessage {
			err = errors.NewTimeout(err, "session window expired")
		}
	case <-ctx.Done():
		cancel()
		err = <-done
	}
	countdown.Stop()

	// teardown on every path
	self.setState(log, StateDisconnecting)
	if derr := c.link.Disconnect(); derr != nil {
		log.Debugf("disconnect err=%v", derr)
	}
	offctx, offcancel := context.WithTimeout(context.Background(), self.networkTimeout())
	perr := self.Modem.PowerOff(offctx)
	offcancel()
	if perr != nil {
		log.Error(errors.Annotate(perr, "modem power off"))
	}
	self.keepInbound(c)

	switch {
	case err == nil || errors.Cause(err) == ErrNoMessage:
		if perr != nil {
			self.setState(log, StateFailed)
		} else {
			self.setState(log, StateDisconnected)
		}
		if err == nil {
			self.LastSuccess.SetNow()
		}
		log.Debugf("end err=%v", err)
	default:
		self.setState(log, StateFailed)
		log.Error(err)
	}
	return err
}

func (self *Manager) body(ctx context.Context, c *conn, op func(context.Context, *conn) error) error {
	if err := self.open(ctx, c); err != nil {
		return err
	}
	return op(ctx, c)
}

func (self *Manager) open(ctx context.Context, c *conn) error {
	if err := self.Modem.PowerOn(ctx); err != nil {
		return transportError(err, "modem power on")
	}
	if err := self.Modem.ActivatePDP(ctx); err != nil {
		return transportError(err, "modem PDP context")
	}
	now, err := self.Modem.NetworkTime(ctx)
	if err != nil {
		c.log.Debugf("network time err=%v, using local clock", err)
		now = self.Clock.Now()
	}
	token, err := self.token(now)
	if err != nil {
		return err
	}

	cfg := &self.Config
	opt := ConnectOptions{
		BrokerURL:      cfg.BrokerURL(),
		TLS:            cfg.TLS,
		ClientID:       cfg.DeviceID,
		Username:       tele.Username(cfg.Host, cfg.DeviceID),
		Password:       token,
		KeepAlive:      cfg.KeepAlive,
		NetworkTimeout: self.networkTimeout(),
	}
	if err := c.link.Connect(ctx, opt); err != nil {
		return errors.Annotate(err, "connect")
	}
	self.setState(c.log, StateConnected)
	if err := c.link.Subscribe(ctx, tele.TopicDevicebound(cfg.DeviceID), 0); err != nil {
		return errors.Annotate(err, "subscribe")
	}
	return nil
}

func (self *Manager) token(now time.Time) (string, error) {
	cfg := &self.Config
	expiry := cfg.TokenExpiry
	if expiry == 0 {
		expiry = DefaultTokenExpiry
	}
	token, err := GenerateSAS(tele.ResourceURI(cfg.Host, cfg.DeviceID), cfg.Key, cfg.Policy, expiry, now)
	if err != nil {
		return "", authError(err, "SAS token")
	}
	return token, nil
}

func (self *Manager) networkTimeout() time.Duration {
	if self.Config.NetworkTimeout != 0 {
		return self.Config.NetworkTimeout
	}
	return DefaultNetworkTimeout
}

func (self *Manager) keepInbound(c *conn) {
	for {
		select {
		case b := <-c.inbox:
			self.mu.Lock()
			self.inbound = append(self.inbound, b)
			self.mu.Unlock()
		default:
			return
		}
	}
}
