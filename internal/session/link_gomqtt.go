package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/geotrack/helpers"
	"github.com/temoto/geotrack/log2"
)

const DefaultNetworkTimeout = 30 * time.Second

// gomqttLink owns one transport.Conn with reader and pinger goroutines.
type gomqttLink struct {
	log       *log2.Log
	onMessage func(Message)
	alive     *alive.Alive
	dead      helpers.AtomicError
	conn      atomic.Value // transport.Conn
	timeout   time.Duration
	lastID    uint32
	pongat    atomic_clock.Clock

	mu      sync.Mutex
	pending map[packet.ID]completer
}

type completer interface {
	Complete(result interface{}) bool
	Cancel(result interface{}) bool
}

func NewGomqttLink(log *log2.Log, onMessage func(Message)) Link {
	return &gomqttLink{
		log:       log,
		onMessage: onMessage,
		alive:     alive.NewAlive(),
		timeout:   DefaultNetworkTimeout,
		lastID:    uint32(time.Now().UnixNano()),
		pending:   make(map[packet.ID]completer),
	}
}

func (self *gomqttLink) Connect(ctx context.Context, opt ConnectOptions) error {
	if opt.NetworkTimeout != 0 {
		self.timeout = opt.NetworkTimeout
	}
	dialer := transport.NewDialer(transport.DialConfig{
		TLSConfig: opt.TLS,
		Timeout:   self.timeout,
	})
	conn, err := dialer.Dial(opt.BrokerURL)
	if err != nil {
		return transportError(err, "dial broker=%s", opt.BrokerURL)
	}
	self.conn.Store(conn)
	if !self.alive.Add(1) {
		_ = conn.Close()
		return errors.Annotate(ErrLinkDead, "connect")
	}
	go self.watch(ctx)

	conpkt := packet.NewConnect()
	conpkt.ClientID = opt.ClientID
	conpkt.KeepAlive = opt.KeepAlive
	conpkt.CleanSession = true
	conpkt.Username = opt.Username
	conpkt.Password = opt.Password
	if err = self.send(conpkt); err != nil {
		return err
	}

	conn.SetReadTimeout(self.timeout)
	pkt, err := conn.Receive()
	if err != nil {
		return self.die(transportError(err, "expect CONNACK"))
	}
	connack, ok := pkt.(*packet.Connack)
	if !ok {
		return self.die(transportError(client.ErrClientExpectedConnack, "received=%s", pkt.Type()))
	}
	self.log.Debugf("received %s", connack.String())
	if connack.ReturnCode != packet.ConnectionAccepted {
		return self.die(authError(client.ErrClientConnectionDenied, "CONNACK code=%s", connack.ReturnCode.String()))
	}
	conn.SetReadTimeout(0)

	self.pongat.SetNow()
	if !self.alive.Add(2) {
		return errors.Annotate(ErrLinkDead, "connect")
	}
	go self.reader(conn)
	go self.pinger(opt.KeepAlive)
	return nil
}

func (self *gomqttLink) Subscribe(ctx context.Context, topic string, qos byte) error {
	sub := &packet.Subscribe{
		ID:            self.nextID(),
		Subscriptions: []packet.Subscription{{Topic: topic, QOS: packet.QOS(qos)}},
	}
	fu := helpers.NewFuture()
	self.register(sub.ID, fu)
	defer self.unregister(sub.ID)
	if err := self.send(sub); err != nil {
		return err
	}
	_, err := fu.Wait(ctx, self.timeout)
	return self.ackError(err, "subscribe topic=%s", topic)
}

func (self *gomqttLink) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	pub := packet.NewPublish()
	pub.Message = packet.Message{Topic: topic, Payload: payload, QOS: packet.QOS(qos)}
	if pub.Message.QOS == packet.QOSAtMostOnce {
		return self.send(pub)
	}

	pub.ID = self.nextID()
	fu := helpers.NewFuture()
	self.register(pub.ID, fu)
	defer self.unregister(pub.ID)
	if err := self.send(pub); err != nil {
		return err
	}
	_, err := fu.Wait(ctx, self.timeout)
	return self.ackError(err, "publish topic=%s id=%d", topic, pub.ID)
}

// ackError kills link on missing ack, cancel reasons pass through.
func (self *gomqttLink) ackError(err error, format string, args ...interface{}) error {
	switch errors.Cause(err) {
	case nil:
		return nil
	case helpers.ErrFutureTimeout:
		return self.die(transportError(err, format, args...))
	case helpers.ErrFutureCanceled:
		return errors.Annotatef(ErrLinkDead, format, args...)
	default:
		return errors.Annotatef(err, format, args...)
	}
}

// Disconnect is safe to call on never connected or dead link.
func (self *gomqttLink) Disconnect() error {
	var err error
	if self.getConn() != nil && self.alive.IsRunning() {
		err = self.send(packet.NewDisconnect())
	}
	_ = self.die(ErrLinkDead)
	self.alive.Wait()
	return err
}

func (self *gomqttLink) die(e error) error {
	if _, set := self.dead.StoreOnce(e); set {
		return e
	}
	self.alive.Stop()
	if conn := self.getConn(); conn != nil {
		_ = conn.Close()
	}
	self.mu.Lock()
	for id, c := range self.pending {
		c.Cancel(e)
		delete(self.pending, id)
	}
	self.mu.Unlock()
	return e
}

func (self *gomqttLink) getConn() transport.Conn {
	if x := self.conn.Load(); x != nil {
		return x.(transport.Conn)
	}
	return nil
}

func (self *gomqttLink) nextID() packet.ID {
	u32 := atomic.AddUint32(&self.lastID, 1)
	id := packet.ID(u32 % (1 << 16))
	if id == 0 {
		id = 1
	}
	return id
}

func (self *gomqttLink) register(id packet.ID, c completer) {
	self.mu.Lock()
	self.pending[id] = c
	self.mu.Unlock()
	if err, set := self.dead.Load(); set {
		c.Cancel(err)
	}
}

func (self *gomqttLink) unregister(id packet.ID) {
	self.mu.Lock()
	delete(self.pending, id)
	self.mu.Unlock()
}

func (self *gomqttLink) complete(id packet.ID, result interface{}, failed bool) {
	self.mu.Lock()
	c, ok := self.pending[id]
	self.mu.Unlock()
	if !ok {
		self.log.Errorf("unexpected ack id=%d", id)
		return
	}
	if failed {
		c.Cancel(result)
	} else {
		c.Complete(result)
	}
}

func (self *gomqttLink) send(p packet.Generic) error {
	if err, set := self.dead.Load(); set {
		return err
	}
	conn := self.getConn()
	if conn == nil {
		return client.ErrClientNotConnected
	}
	if err := conn.Send(p, false); err != nil {
		return self.die(transportError(err, "send %s", p.Type().String()))
	}
	self.log.Debugf("sent %s", p.Type().String())
	return nil
}

// watch closes connection when session context is done.
func (self *gomqttLink) watch(ctx context.Context) {
	defer self.alive.Done()
	select {
	case <-ctx.Done():
		_ = self.die(transportError(ctx.Err(), "session context"))
	case <-self.alive.StopChan():
	}
}

func (self *gomqttLink) reader(conn transport.Conn) {
	defer self.alive.Done()
	for {
		pkt, err := conn.Receive()
		if !self.alive.IsRunning() {
			return
		}
		switch err {
		case nil:
		case io.EOF:
			_ = self.die(transportError(err, "server closed connection"))
			return
		default:
			_ = self.die(transportError(err, "receive"))
			return
		}
		self.log.Debugf("received %s", pkt.Type().String())

		switch pt := pkt.(type) {
		case *packet.Publish:
			self.onMessage(Message{Topic: pt.Message.Topic, Payload: pt.Message.Payload})
			if pt.Message.QOS == packet.QOSAtLeastOnce {
				puback := packet.NewPuback()
				puback.ID = pt.ID
				if self.send(puback) != nil {
					return
				}
			}
		case *packet.Puback:
			self.complete(pt.ID, pt.ID, false)
		case *packet.Suback:
			failed := false
			for _, code := range pt.ReturnCodes {
				if code == packet.QOSFailure {
					failed = true
				}
			}
			if failed {
				self.complete(pt.ID, errors.Annotate(client.ErrFailedSubscription, "SUBACK"), true)
			} else {
				self.complete(pt.ID, pt.ID, false)
			}
		case *packet.Pingresp:
			self.pongat.SetNow()
		default:
			_ = self.die(transportError(errors.Errorf("unexpected packet %s", pkt.Type()), "receive"))
			return
		}
	}
}

// pinger sends PINGREQ every keepalive, dies when PINGRESP is missing for 1.5x keepalive.
func (self *gomqttLink) pinger(keepaliveSec uint16) {
	defer self.alive.Done()
	if keepaliveSec == 0 {
		return
	}
	keepalive := time.Duration(keepaliveSec) * time.Second
	tmr := time.NewTicker(keepalive)
	defer tmr.Stop()
	stopch := self.alive.StopChan()
	for {
		select {
		case <-tmr.C:
			if atomic_clock.Since(&self.pongat) > keepalive+keepalive/2 {
				_ = self.die(transportError(client.ErrClientMissingPong, "pinger"))
				return
			}
			if self.send(packet.NewPingreq()) != nil {
				return
			}
		case <-stopch:
			return
		}
	}
}
