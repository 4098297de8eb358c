package session

import (
	"context"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/geotrack/log2"
)

type pahoLink struct {
	log       *log2.Log
	onMessage func(Message)
	m         mqtt.Client
	timeout   time.Duration
}

func NewPahoLink(log *log2.Log, onMessage func(Message)) Link {
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log
	return &pahoLink{log: log, onMessage: onMessage, timeout: DefaultNetworkTimeout}
}

func (self *pahoLink) Connect(ctx context.Context, opt ConnectOptions) error {
	if opt.NetworkTimeout != 0 {
		self.timeout = opt.NetworkTimeout
	}
	broker := opt.BrokerURL
	if strings.HasPrefix(broker, "tls://") {
		broker = "ssl://" + strings.TrimPrefix(broker, "tls://")
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(opt.ClientID).
		SetUsername(opt.Username).
		SetPassword(opt.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetKeepAlive(time.Duration(opt.KeepAlive) * time.Second).
		SetConnectTimeout(self.timeout).
		SetProtocolVersion(4).
		SetDefaultPublishHandler(self.messageHandler).
		SetConnectionLostHandler(self.connectLostHandler)
	if opt.TLS != nil {
		mopt.SetTLSConfig(opt.TLS)
	}
	self.m = mqtt.NewClient(mopt)
	return self.wait(ctx, self.m.Connect(), "connect broker="+opt.BrokerURL)
}

func (self *pahoLink) Subscribe(ctx context.Context, topic string, qos byte) error {
	if self.m == nil {
		return errors.Annotate(ErrLinkDead, "subscribe")
	}
	return self.wait(ctx, self.m.Subscribe(topic, qos, self.messageHandler), "subscribe topic="+topic)
}

func (self *pahoLink) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if self.m == nil {
		return errors.Annotate(ErrLinkDead, "publish")
	}
	return self.wait(ctx, self.m.Publish(topic, qos, false, payload), "publish topic="+topic)
}

func (self *pahoLink) Disconnect() error {
	if self.m == nil {
		return nil
	}
	if self.m.IsConnected() {
		self.m.Disconnect(uint(self.timeout / time.Millisecond / 10))
	}
	return nil
}

func (self *pahoLink) wait(ctx context.Context, tok mqtt.Token, tag string) error {
	deadline := time.Now().Add(self.timeout)
	for !tok.WaitTimeout(100 * time.Millisecond) {
		if err := ctx.Err(); err != nil {
			return transportError(err, tag)
		}
		if time.Now().After(deadline) {
			return transportError(errors.Timeoutf(tag), tag)
		}
	}
	if err := tok.Error(); err != nil {
		if strings.Contains(err.Error(), "Not Authorized") || strings.Contains(err.Error(), "Bad Username or Password") {
			return authError(err, tag)
		}
		return transportError(err, tag)
	}
	return nil
}

func (self *pahoLink) messageHandler(c mqtt.Client, msg mqtt.Message) {
	self.onMessage(Message{Topic: msg.Topic(), Payload: msg.Payload()})
}

func (self *pahoLink) connectLostHandler(c mqtt.Client, err error) {
	self.log.Errorf("paho connection lost err=%v", err)
}
