// Package aitt is the public API of the transport-router and
// discovery-reconciliation engine described in spec.md: a thin wrapper
// over internal/engine, mirroring the teacher's main.go/app.go
// thin-wrapper-over-internal/app pattern.
package aitt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/aittgo/aitt/internal/broker"
	"github.com/aittgo/aitt/internal/config"
	"github.com/aittgo/aitt/internal/debugsrv"
	"github.com/aittgo/aitt/internal/engine"
	"github.com/aittgo/aitt/internal/reply"
)

var log = logging.Logger("aitt")

// QoS mirrors the three MQTT quality-of-service levels (spec.md §6).
type QoS = engine.QoS

const (
	AtMostOnce  = engine.AtMostOnce
	AtLeastOnce = engine.AtLeastOnce
	ExactlyOnce = engine.ExactlyOnce
)

// TransportKind is the transport bitmask Publish/Subscribe accept
// (spec.md §6): an OR of these for Publish, exactly one for Subscribe.
type TransportKind = engine.TransportKind

const (
	MQTT      = engine.MQTT
	TCP       = engine.TCP
	TCPSecure = engine.TCPSecure
	WebRTC    = engine.WebRTC
)

// Handle is the opaque value Subscribe returns and Unsubscribe consumes.
type Handle = engine.Handle

// MessageHandler receives one delivered message.
type MessageHandler = engine.MessageHandler

// ReplyHandler receives one incoming request plus the context needed to
// call Client.SendReply. Registered with Client.SubscribeReply.
type ReplyHandler = engine.ReplyHandler

// ReplyFrameHandler receives one reply frame for an outstanding
// Client.PublishWithReply exchange.
type ReplyFrameHandler = engine.ReplyFrameHandler

// ReplyContext identifies which reply exchange a ReplyHandler is
// responding to.
type ReplyContext = engine.ReplyContext

// Frame is one decoded reply message returned by PublishWithReplySync.
type Frame = reply.Frame

// Client is one connected AITT peer. The zero value is not usable;
// construct with NewClient.
type Client struct {
	eng     *engine.Engine
	cfg     config.Config
	debug   *debugsrv.Server
	metrics *debugsrv.Metrics
}

// NewClient loads (or creates, with a generated identity) the JSON
// configuration at cfgPath, connects to the configured broker, and starts
// the discovery agent. If cfg.Debug.Addr is non-empty the optional
// diagnostics server (SPEC_FULL.md §4.L) is also started.
func NewClient(ctx context.Context, cfgPath string) (*Client, error) {
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load config: %v", ErrSystem, err)
	}
	if created {
		log.Infow("generated new identity", "id", cfg.Identity.ID, "path", cfgPath)
	}
	return newClientFromConfig(ctx, cfg)
}

func newClientFromConfig(ctx context.Context, cfg config.Config) (*Client, error) {
	var tlsConf *tls.Config
	// Plaintext by default; a Config.Broker.Host reachable only over TLS
	// is expected to be fronted by a broker configured for it — this
	// module does not infer TLS from the port number.

	brokerCfg := broker.Config{
		Host:         cfg.Broker.Host,
		Port:         cfg.Broker.Port,
		Username:     cfg.Broker.Username,
		Password:     cfg.Broker.Password,
		CleanSession: cfg.Broker.CleanSession,
		TLS:          tlsConf,
	}

	engCfg := engine.Config{
		PeerID:              cfg.Identity.ID,
		MyIP:                cfg.Direct.MyIP,
		DiscoveryPrefix:     cfg.Discovery.Prefix,
		DefaultReplyTimeout: time.Duration(cfg.Reply.DefaultTimeoutMS) * time.Millisecond,
	}

	eng, err := engine.New(ctx, engCfg, brokerCfg)
	if err != nil {
		return nil, translateEngineErr(err)
	}

	c := &Client{eng: eng, cfg: cfg}

	if cfg.Debug.Addr != "" {
		c.metrics = debugsrv.NewMetrics()
		c.debug = debugsrv.NewServer(cfg.Debug.Addr, statusAdapter{eng}, c.metrics, 256)
		c.debug.Start()
		log.Infow("diagnostics server listening", "addr", cfg.Debug.Addr)
	}

	return c, nil
}

// statusAdapter satisfies debugsrv.StatusSource without internal/engine
// needing to import internal/debugsrv.
type statusAdapter struct{ eng *engine.Engine }

func (s statusAdapter) PeerID() string        { return s.eng.PeerID() }
func (s statusAdapter) SubscriptionCount() int { return s.eng.SubscriptionCount() }
func (s statusAdapter) RoutingTableSize() int  { return s.eng.RoutingTableSize() }

// Subscribe registers handler for every message matching pattern over
// exactly one transport kind (spec.md §4.G). Returns ErrInvalidParameter
// for a malformed pattern or an unrecognized kind.
func (c *Client) Subscribe(ctx context.Context, pattern string, kind TransportKind, qos QoS, handler MessageHandler, userData any) (Handle, error) {
	h, err := c.eng.Subscribe(ctx, pattern, kind, qos, handler, userData)
	if err != nil {
		return Handle{}, translateEngineErr(err)
	}
	if c.debug != nil {
		c.debug.Publish("subscribe", map[string]any{"pattern": pattern, "kind": kind})
	}
	return h, nil
}

// Unsubscribe synchronously tears down the subscription h identifies and
// returns the userData originally passed to Subscribe.
func (c *Client) Unsubscribe(ctx context.Context, h Handle) (any, error) {
	ud, err := c.eng.Unsubscribe(ctx, h)
	if err != nil {
		return nil, translateEngineErr(err)
	}
	if c.debug != nil {
		c.debug.Publish("unsubscribe", nil)
	}
	return ud, nil
}

// SubscribeReply registers a request-handling subscription over MQTT
// whose handler receives a ReplyContext it can pass to SendReply, so it
// can answer requests sent with PublishWithReply/PublishWithReplySync.
func (c *Client) SubscribeReply(ctx context.Context, pattern string, qos QoS, handler ReplyHandler, userData any) (Handle, error) {
	h, err := c.eng.SubscribeReply(ctx, pattern, qos, handler, userData)
	if err != nil {
		return Handle{}, translateEngineErr(err)
	}
	if c.debug != nil {
		c.debug.Publish("subscribe_reply", map[string]any{"pattern": pattern})
	}
	return h, nil
}

// Publish fans payload out to every transport set in mask.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, mask TransportKind, qos QoS, retain bool) error {
	if err := c.eng.Publish(ctx, topic, payload, mask, qos, retain); err != nil {
		return translateEngineErr(err)
	}
	if c.metrics != nil {
		bumpPublishCounters(c.metrics, mask)
	}
	if c.debug != nil {
		c.debug.Publish("publish", map[string]any{"topic": topic, "mask": mask})
	}
	return nil
}

func bumpPublishCounters(m *debugsrv.Metrics, mask TransportKind) {
	if mask&MQTT != 0 {
		m.PublishesTotal.MQTT.Inc()
	}
	if mask&TCP != 0 {
		m.PublishesTotal.TCP.Inc()
	}
	if mask&TCPSecure != 0 {
		m.PublishesTotal.TCPSecure.Inc()
	}
	if mask&WebRTC != 0 {
		m.PublishesTotal.WebRTC.Inc()
	}
}

// PublishWithReply publishes topic/payload carrying a fresh correlation
// id and invokes handler asynchronously for every reply frame.
func (c *Client) PublishWithReply(ctx context.Context, topic string, payload []byte, qos QoS, handler ReplyFrameHandler) error {
	if err := c.eng.PublishWithReply(ctx, topic, payload, qos, handler); err != nil {
		return translateEngineErr(err)
	}
	return nil
}

// PublishWithReplySync blocks until an end-flagged reply frame arrives or
// timeout elapses (a zero timeout blocks until ctx is cancelled),
// returning every frame received.
func (c *Client) PublishWithReplySync(ctx context.Context, topic string, payload []byte, qos QoS, timeout time.Duration) ([]Frame, error) {
	frames, err := c.eng.PublishWithReplySync(ctx, topic, payload, qos, timeout)
	if err != nil {
		if errors.Is(err, engine.ErrTimedOut) {
			if c.metrics != nil {
				c.metrics.ReplyTimeoutsTotal.Inc()
			}
			return frames, ErrTimedOut
		}
		return frames, translateEngineErr(err)
	}
	return frames, nil
}

// SendReply responds to the exchange identified by rc. Set end true on
// the final frame of the reply stream.
func (c *Client) SendReply(ctx context.Context, rc ReplyContext, payload []byte, end bool) error {
	if err := c.eng.SendReply(ctx, rc, payload, end); err != nil {
		return translateEngineErr(err)
	}
	return nil
}

// PeerID returns this client's own identity.
func (c *Client) PeerID() string { return c.cfg.Identity.ID }

// Close tears down every subscription, publishes the clean-disconnect
// retained discovery message, and disconnects from the broker.
func (c *Client) Close(ctx context.Context) error {
	if c.debug != nil {
		if err := c.debug.Close(); err != nil {
			log.Warnw("close: diagnostics server close failed", "err", err)
		}
	}
	return c.eng.Close(ctx)
}

func translateEngineErr(err error) error {
	switch {
	case errors.Is(err, engine.ErrInvalidParameter):
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	case errors.Is(err, engine.ErrNotReady):
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	case errors.Is(err, engine.ErrTimedOut):
		return fmt.Errorf("%w: %v", ErrTimedOut, err)
	case errors.Is(err, broker.ErrBrokerRejected), errors.Is(err, broker.ErrInvalidPattern):
		return fmt.Errorf("%w: %v", ErrBrokerError, err)
	default:
		return fmt.Errorf("%w: %v", ErrSystem, err)
	}
}
