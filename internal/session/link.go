package session

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/geotrack/log2"
)

var (
	ErrTransport = errors.New("transport error")
	ErrAuth      = errors.New("auth error")
	ErrNoMessage = errors.New("no message")
	ErrLinkDead  = errors.New("link closed")
)

type Message struct {
	Topic   string
	Payload []byte
}

type ConnectOptions struct {
	BrokerURL      string // tls://host:port, tcp:// for tests
	TLS            *tls.Config
	ClientID       string
	Username       string
	Password       string
	KeepAlive      uint16 // seconds, 0 disables pings
	NetworkTimeout time.Duration
}

// Link is single MQTT 3.1.1 connection without reconnect.
// Publish with QoS 1 returns after PUBACK.
type Link interface {
	Connect(ctx context.Context, opt ConnectOptions) error
	Subscribe(ctx context.Context, topic string, qos byte) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Disconnect() error
}

type LinkFactory func(log *log2.Log, onMessage func(Message)) Link

const (
	TransportGomqtt = "gomqtt"
	TransportPaho   = "paho"
)

func LinkByName(name string) (LinkFactory, error) {
	switch name {
	case "", TransportGomqtt:
		return NewGomqttLink, nil
	case TransportPaho:
		return NewPahoLink, nil
	}
	return nil, errors.NotValidf("transport=%q", name)
}

func transportError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Cause(err) == ErrTransport || errors.Cause(err) == ErrAuth {
		return errors.Annotatef(err, format, args...)
	}
	return errors.Annotatef(errors.Wrap(err, ErrTransport), format+" err=%v", append(args, err)...)
}

func authError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Annotatef(errors.Wrap(err, ErrAuth), format+" err=%v", append(args, err)...)
}
