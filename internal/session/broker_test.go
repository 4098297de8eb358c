package session

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/stretchr/testify/require"
	"github.com/temoto/alive/v2"
	"github.com/temoto/geotrack/tele"
)

// fakeBroker is minimal MQTT server, one behavior per test.
type fakeBroker struct {
	t     testing.TB
	ln    net.Listener
	alive *alive.Alive

	Deny       bool
	DropPuback bool
	OnHello    []byte // delivered to devicebound after HELLO
	OnFirstPub []byte // delivered after first non-marker publish
	DeviceID   string

	mu        sync.Mutex
	connects  []*packet.Connect
	published []string
	subs      []string
	events    []string
}

func newFakeBroker(t testing.TB, deviceID string) *fakeBroker {
	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	b := &fakeBroker{t: t, ln: ln, alive: alive.NewAlive(), DeviceID: deviceID}
	b.alive.Add(1)
	go b.serve()
	return b
}

func (b *fakeBroker) Port() int {
	_, port, _ := net.SplitHostPort(b.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

func (b *fakeBroker) Close() {
	b.alive.Stop()
	_ = b.ln.Close()
	b.alive.Wait()
}

func (b *fakeBroker) serve() {
	defer b.alive.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		if !b.alive.Add(1) {
			_ = conn.Close()
			return
		}
		_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
		go b.handle(transport.NewNetConn(conn))
	}
}

func (b *fakeBroker) event(s string) {
	b.mu.Lock()
	b.events = append(b.events, s)
	b.mu.Unlock()
}

func (b *fakeBroker) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func (b *fakeBroker) Published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

func (b *fakeBroker) Connects() []*packet.Connect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*packet.Connect(nil), b.connects...)
}

func (b *fakeBroker) deliver(conn *transport.NetConn, payload []byte) {
	pub := packet.NewPublish()
	pub.Message = packet.Message{
		Topic:   "devices/" + b.DeviceID + "/messages/devicebound/x",
		Payload: payload,
		QOS:     packet.QOSAtMostOnce,
	}
	_ = conn.Send(pub, false)
}

func (b *fakeBroker) handle(conn *transport.NetConn) {
	defer b.alive.Done()
	defer conn.Close()

	pkt, err := conn.Receive()
	if err != nil {
		return
	}
	connect, ok := pkt.(*packet.Connect)
	if !ok {
		return
	}
	b.mu.Lock()
	b.connects = append(b.connects, connect)
	b.mu.Unlock()
	b.event("CONNECT")
	connack := packet.NewConnack()
	connack.ReturnCode = packet.ConnectionAccepted
	if b.Deny {
		connack.ReturnCode = packet.NotAuthorized
	}
	if conn.Send(connack, false) != nil || b.Deny {
		return
	}

	firstPub := true
	for {
		pkt, err := conn.Receive()
		if err != nil {
			return
		}
		switch p := pkt.(type) {
		case *packet.Subscribe:
			b.mu.Lock()
			b.subs = append(b.subs, p.Subscriptions[0].Topic)
			b.mu.Unlock()
			b.event("SUBSCRIBE " + p.Subscriptions[0].Topic)
			suback := packet.NewSuback()
			suback.ID = p.ID
			suback.ReturnCodes = []packet.QOS{packet.QOSAtMostOnce}
			_ = conn.Send(suback, false)

		case *packet.Publish:
			payload := string(p.Message.Payload)
			b.mu.Lock()
			b.published = append(b.published, payload)
			b.mu.Unlock()
			b.event("PUBLISH " + payload)
			if p.Message.QOS == packet.QOSAtLeastOnce && !b.DropPuback {
				puback := packet.NewPuback()
				puback.ID = p.ID
				_ = conn.Send(puback, false)
			}
			switch {
			case payload == tele.MarkerHello && b.OnHello != nil:
				b.deliver(conn, b.OnHello)
			case payload != tele.MarkerHello && payload != tele.MarkerBye && firstPub && b.OnFirstPub != nil:
				firstPub = false
				b.deliver(conn, b.OnFirstPub)
			}

		case *packet.Pingreq:
			_ = conn.Send(packet.NewPingresp(), false)

		case *packet.Disconnect:
			b.event("DISCONNECT")
			return
		}
	}
}
