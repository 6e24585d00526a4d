package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	kindChange    = "change"
	kindBroadcast = "broadcast"
)

// Conn is the subset of *nats.Conn the bridge needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type envelope struct {
	Origin    string     `json:"origin"`
	Kind      string     `json:"kind"`
	Topic     string     `json:"topic,omitempty"`
	Change    *Change    `json:"change,omitempty"`
	Broadcast *Broadcast `json:"broadcast,omitempty"`
}

// Bridge mirrors a hub's traffic over NATS so that clients connected to
// different server instances see the same room feeds.
type Bridge struct {
	conn   Conn
	hub    *Hub
	prefix string
	origin string
	sub    *nats.Subscription
	logger *slog.Logger
}

func NewBridge(conn Conn, hub *Hub, prefix string, logger *slog.Logger) *Bridge {
	if prefix == "" {
		prefix = "scoreroom.realtime"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		conn:   conn,
		hub:    hub,
		prefix: strings.TrimSuffix(prefix, "."),
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Connect dials NATS with the reconnect policy used by the server.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		return nil, errors.New("nats url is empty")
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	return nats.Connect(url, opts...)
}

func (b *Bridge) Start() error {
	sub, err := b.conn.Subscribe(b.prefix+".>", b.handle)
	if err != nil {
		return err
	}
	b.sub = sub
	b.hub.SetForwarder(b)
	b.logger.Info("realtime bridge started", "subject", b.prefix+".>", "origin", b.origin)
	return nil
}

func (b *Bridge) Close() error {
	b.hub.SetForwarder(nil)
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}

func (b *Bridge) ForwardChange(c Change) {
	b.publish(b.prefix+"."+kindChange+"."+c.Table, envelope{
		Origin: b.origin,
		Kind:   kindChange,
		Change: &c,
	})
}

func (b *Bridge) ForwardBroadcast(topic string, bc Broadcast) {
	b.publish(b.prefix+"."+kindBroadcast+"."+topic, envelope{
		Origin:    b.origin,
		Kind:      kindBroadcast,
		Topic:     topic,
		Broadcast: &bc,
	})
}

func (b *Bridge) publish(subject string, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("encode realtime envelope", "error", err)
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Warn("publish realtime envelope", "subject", subject, "error", err)
	}
}

func (b *Bridge) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("decode realtime envelope", "subject", msg.Subject, "error", err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	switch env.Kind {
	case kindChange:
		if env.Change != nil {
			b.hub.deliverChange(*env.Change)
		}
	case kindBroadcast:
		if env.Broadcast != nil {
			b.hub.deliverBroadcast(env.Topic, nil, *env.Broadcast)
		}
	}
}
