// Package broker adapts github.com/netdata/paho.golang/paho — an MQTT v5
// client — to the narrow surface the rest of AITT needs: connect with a
// last-will, publish with the two user properties the reply correlator
// relies on, and maintain a local registry of wildcard-capable callbacks
// since paho itself only ever hands back messages for its own, literal,
// server-side subscriptions.
package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	logging "github.com/ipfs/go-log/v2"
	"github.com/netdata/paho.golang/packets"
	"github.com/netdata/paho.golang/paho"

	"github.com/aittgo/aitt/internal/topicmatch"
)

var log = logging.Logger("aitt/broker")

// QoS mirrors the three MQTT quality-of-service levels the public API
// exposes (spec.md §6).
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

// SeqUserProp and EndUserProp are the MQTT v5 user property keys the reply
// correlator (internal/reply) attaches to every publish: a monotonic
// sequence number and an end-of-stream flag, both string-encoded because
// MQTT user properties are UTF-8 string pairs.
const (
	SeqUserProp = "sequence"
	EndUserProp = "end"
)

// Config describes how to reach and authenticate against the broker.
type Config struct {
	Host         string
	Port         int
	ClientID     string
	Username     string
	Password     string
	CleanSession bool
	TLS          *tls.Config // nil for a plaintext connection

	// WillTopic/WillPayload, when WillTopic is non-empty, register a
	// last-will (retained when WillRetain is set) published by the broker
	// the instant this connection drops uncleanly — the discovery agent uses this with an
	// empty payload to signal peer departure (spec.md §4.E).
	WillTopic   string
	WillPayload []byte
	WillRetain  bool
}

// Handler receives one delivered message: the literal topic it arrived on,
// the payload, and any user properties attached (sequence/end for reply
// traffic).
type Handler func(topic string, payload []byte, props map[string]string)

// Adapter is a connected broker session plus the local pattern-matching
// callback registry described in SPEC_FULL.md §4.F.
type Adapter struct {
	cfg  Config
	conn net.Conn
	cl   *paho.Client

	reg registry
}

// Connect dials the broker, performs the MQTT v5 CONNECT handshake
// (including the optional last-will), and starts dispatching inbound
// PUBLISH packets to matching registered callbacks. The returned Adapter
// owns the connection; Close tears both down.
func Connect(ctx context.Context, cfg Config) (*Adapter, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var (
		conn net.Conn
		err  error
	)
	if cfg.TLS != nil {
		dialer := &tls.Dialer{Config: cfg.TLS}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("broker: dial %s: %w", addr, err)
	}

	a := &Adapter{cfg: cfg, conn: conn}

	a.cl = paho.NewClient(paho.ClientConfig{
		Conn: conn,
		Router: paho.NewSingleHandlerRouter(func(p *paho.Publish) {
			a.dispatch(p)
		}),
	})

	cp := &paho.Connect{
		ClientID:     cfg.ClientID,
		CleanStart:   cfg.CleanSession,
		KeepAlive:    60,
		Username:     cfg.Username,
		UsernameFlag: cfg.Username != "",
		Password:     []byte(cfg.Password),
		PasswordFlag: cfg.Password != "",
	}
	if cfg.WillTopic != "" {
		cp.WillMessage = &packets.WillMessage{
			Retain:  cfg.WillRetain,
			QoS:     byte(AtLeastOnce),
			Topic:   cfg.WillTopic,
			Payload: cfg.WillPayload,
		}
		cp.WillProperties = &packets.Properties{}
	}

	ca, err := a.cl.Connect(ctx, cp)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: connect: %w", err)
	}
	if ca.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("%w: broker refused connect, reason %d", ErrBrokerRejected, ca.ReasonCode)
	}

	log.Infow("connected", "addr", addr, "client_id", cfg.ClientID)
	return a, nil
}

// Subscribe registers handler for every message whose topic matches
// pattern (which may contain MQTT wildcards) and issues a real SUBSCRIBE
// for pattern so the broker actually forwards matching traffic.
func (a *Adapter) Subscribe(ctx context.Context, pattern string, qos QoS, handler Handler) error {
	if !topicmatch.Valid(pattern) {
		return fmt.Errorf("%w: invalid subscription pattern %q", ErrInvalidPattern, pattern)
	}
	a.reg.add(pattern, handler)

	_, err := a.cl.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: pattern, QoS: byte(qos)},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: subscribe %q: %v", ErrBrokerRejected, pattern, err)
	}
	return nil
}

// Unsubscribe removes every registered callback for pattern and issues an
// UNSUBSCRIBE if no other local callback still needs that exact pattern.
func (a *Adapter) Unsubscribe(ctx context.Context, pattern string) error {
	if !a.reg.remove(pattern) {
		return nil
	}
	_, err := a.cl.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{pattern}})
	if err != nil {
		return fmt.Errorf("broker: unsubscribe %q: %w", pattern, err)
	}
	return nil
}

// Publish sends one message, optionally carrying the reply-correlation
// user properties (sequence/end). props may be nil.
func (a *Adapter) Publish(ctx context.Context, topic string, payload []byte, qos QoS, retain bool, props map[string]string) error {
	pp := &packets.Properties{}
	for k, v := range props {
		pp.User = append(pp.User, packets.User{Key: k, Value: v})
	}
	_, err := a.cl.Publish(ctx, &paho.Publish{
		Topic:      topic,
		QoS:        byte(qos),
		Retain:     retain,
		Payload:    payload,
		Properties: pp,
	})
	if err != nil {
		return fmt.Errorf("%w: publish %q: %v", ErrBrokerRejected, topic, err)
	}
	return nil
}

// PublishRetainedEmpty clears a retained topic — used by the discovery
// agent's Close to publish this peer's clean-disconnect departure.
func (a *Adapter) PublishRetainedEmpty(ctx context.Context, topic string) error {
	return a.Publish(ctx, topic, nil, AtLeastOnce, true, nil)
}

func (a *Adapter) dispatch(p *paho.Publish) {
	props := map[string]string{}
	if p.Properties != nil {
		for _, u := range p.Properties.User {
			props[u.Key] = u.Value
		}
	}
	a.reg.matchAndCall(p.Topic, p.Payload, props)
}

// Close disconnects cleanly and releases the underlying connection.
func (a *Adapter) Close(ctx context.Context) error {
	_ = a.cl.Disconnect(ctx, &paho.Disconnect{ReasonCode: 0})
	return a.conn.Close()
}
