// Package engine is the orchestration point wiring the frame codec,
// direct-channel endpoint/cache, routing table, discovery agent, broker
// adapter, topic matcher, reply correlator, and WebRTC transport together
// behind the public surface spec.md §4.G describes. The root package aitt
// is a thin wrapper over this package, mirroring the teacher's
// main.go/app.go thin-wrapper-over-internal/app pattern.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/aittgo/aitt/internal/broker"
	"github.com/aittgo/aitt/internal/direct"
	"github.com/aittgo/aitt/internal/discovery"
	"github.com/aittgo/aitt/internal/reply"
	"github.com/aittgo/aitt/internal/routing"
	"github.com/aittgo/aitt/internal/topicmatch"
	"github.com/aittgo/aitt/internal/webrtcx"
)

var log = logging.Logger("aitt/engine")

// TransportKind is the public transport bitmask from spec.md §6: Publish
// accepts an OR of these; Subscribe accepts exactly one.
type TransportKind uint8

const (
	MQTT TransportKind = 1 << iota
	TCP
	TCPSecure
	WebRTC
)

// QoS mirrors spec.md §6's three MQTT quality-of-service levels.
type QoS = broker.QoS

const (
	AtMostOnce  = broker.AtMostOnce
	AtLeastOnce = broker.AtLeastOnce
	ExactlyOnce = broker.ExactlyOnce
)

var (
	ErrInvalidParameter = errors.New("engine: invalid parameter")
	ErrNotReady         = errors.New("engine: not ready")
	ErrTimedOut         = reply.ErrTimedOut
)

// MessageHandler receives one delivered message.
type MessageHandler func(topic string, payload []byte, fromPeer string)

// ReplyHandler receives one incoming request plus a ReplyContext it can
// pass to SendReply to answer it. Registered with SubscribeReply.
type ReplyHandler func(ctx ReplyContext, topic string, payload []byte)

// ReplyFrameHandler receives one reply frame for an outstanding
// PublishWithReply exchange. The requester side of an exchange consumes
// frames; it does not itself reply, so it has no ReplyContext.
type ReplyFrameHandler func(frame reply.Frame)

// ReplyContext identifies which reply exchange a ReplyHandler is
// responding to. seq is the responder's own outgoing sequence counter,
// shared across every SendReply call made with this context so a
// streamed reply's frames number 0, 1, 2, ... regardless of the
// request's own sequence (spec.md §4.H).
type ReplyContext struct {
	replyTopic string
	seq        *reply.Counter
}

type subscription struct {
	pattern      string
	kind         TransportKind
	userData     any
	tcpEndpoint  *direct.Endpoint // TCP / TCPSecure only
	webrtcActive bool             // WebRTC listener registered under this pattern
}

// Config configures one Engine instance.
type Config struct {
	PeerID              string
	MyIP                string
	DiscoveryPrefix     string // default "/aitt/discovery"
	DialTimeout         time.Duration
	DefaultReplyTimeout time.Duration
}

// Engine is one connected AITT peer: broker session, discovery agent,
// routing table, outbound connection cache, and reply correlator.
type Engine struct {
	cfg Config
	br  *broker.Adapter

	table *routing.Table
	addrs *peerAddrMap
	cache *direct.Cache
	rtc   *webrtcx.Transport
	disco *discovery.Agent
	corr  *reply.Correlator

	subs *arena[*subscription]

	rtcMu       sync.Mutex
	rtcHandlers map[string]MessageHandler

	dispatch chan func()
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New connects to the broker, starts the discovery agent and the
// dispatch goroutine, and returns a ready Engine. The discovery agent's
// own topic is registered as the broker's last-will, so an unclean
// disconnect is observed by every other peer (spec.md §4.E).
func New(ctx context.Context, cfg Config, brokerCfg broker.Config) (*Engine, error) {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "/aitt/discovery"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 3 * time.Second
	}

	ownTopic := cfg.DiscoveryPrefix + "/" + cfg.PeerID
	brokerCfg.ClientID = cfg.PeerID
	brokerCfg.WillTopic = ownTopic
	brokerCfg.WillPayload = nil
	brokerCfg.WillRetain = true

	br, err := broker.Connect(ctx, brokerCfg)
	if err != nil {
		return nil, fmt.Errorf("engine: connect broker: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		br:          br,
		table:       routing.New(),
		addrs:       newPeerAddrMap(),
		cache:       direct.NewCache(cfg.DialTimeout),
		corr:        reply.NewCorrelator(),
		subs:        newArena[*subscription](),
		rtcHandlers: make(map[string]MessageHandler),
		dispatch:    make(chan func(), 256),
		stop:        make(chan struct{}),
	}
	e.rtc = webrtcx.NewTransport(br, cfg.DiscoveryPrefix, cfg.PeerID, e.onWebRTCMessage)
	e.disco = discovery.NewAgent(br, cfg.DiscoveryPrefix, cfg.PeerID, cfg.MyIP, e.onDiscoveryUpdate, e.onPeerDeparture)

	if err := e.disco.Start(ctx); err != nil {
		br.Close(ctx)
		return nil, fmt.Errorf("engine: start discovery: %w", err)
	}

	e.wg.Add(1)
	go e.dispatchLoop()

	return e, nil
}

// dispatchLoop is the single logical thread every user callback runs on
// (spec.md §5/§9 "cross-thread callbacks"): broker messages and
// direct/webrtc accept-side reads all funnel through post().
func (e *Engine) dispatchLoop() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.dispatch:
			fn()
		case <-e.stop:
			return
		}
	}
}

func (e *Engine) post(fn func()) {
	select {
	case e.dispatch <- fn:
	case <-e.stop:
	}
}

func (e *Engine) onDiscoveryUpdate(peerID, host string, kind routing.Kind, ep routing.Endpoint, pattern string) {
	if host != "" {
		e.addrs.Set(peerID, host)
	}
	e.table.Upsert(pattern, peerID, kind, ep)
}

func (e *Engine) onPeerDeparture(peerID string) {
	e.table.RemovePeer(peerID)
	e.addrs.Delete(peerID)
}

func toRoutingKind(k TransportKind) routing.Kind {
	switch k {
	case TCP:
		return routing.KindTCP
	case TCPSecure:
		return routing.KindTCPSecure
	default:
		return routing.KindWebRTC
	}
}

// Subscribe registers a new subscription for pattern over exactly one
// transport kind and returns an opaque Handle. handler is invoked on the
// engine's dispatch goroutine for every matching message.
func (e *Engine) Subscribe(ctx context.Context, pattern string, kind TransportKind, qos QoS, handler MessageHandler, userData any) (Handle, error) {
	if !topicmatch.Valid(pattern) {
		return Handle{}, fmt.Errorf("%w: invalid subscription pattern %q", ErrInvalidParameter, pattern)
	}

	rec := &subscription{pattern: pattern, kind: kind, userData: userData}

	switch kind {
	case MQTT:
		err := e.br.Subscribe(ctx, pattern, qos, func(topic string, payload []byte, _ map[string]string) {
			e.post(func() { handler(topic, payload, "") })
		})
		if err != nil {
			return Handle{}, fmt.Errorf("engine: subscribe: %w", err)
		}

	case TCP, TCPSecure:
		ep, err := direct.Listen(kind == TCPSecure, func(topic string, payload []byte, from net.Addr) {
			e.post(func() { handler(topic, payload, from.String()) })
		})
		if err != nil {
			return Handle{}, fmt.Errorf("engine: listen: %w", err)
		}
		rec.tcpEndpoint = ep
		routeEP := routing.Endpoint{Port: ep.Port(), Key: ep.Key(), IV: ep.IV()}
		if err := e.disco.AddLocalSubscription(ctx, pattern, toRoutingKind(kind), routeEP); err != nil {
			ep.Close()
			return Handle{}, fmt.Errorf("engine: advertise subscription: %w", err)
		}

	case WebRTC:
		signalTopic, err := e.rtc.Listen(ctx, pattern)
		if err != nil {
			return Handle{}, fmt.Errorf("engine: webrtc listen: %w", err)
		}
		rec.webrtcActive = true
		if err := e.disco.AddLocalSubscription(ctx, pattern, routing.KindWebRTC, routing.Endpoint{SignalTopic: signalTopic}); err != nil {
			e.rtc.CloseListener(pattern)
			return Handle{}, fmt.Errorf("engine: advertise subscription: %w", err)
		}
		e.rtcMu.Lock()
		e.rtcHandlers[pattern] = handler
		e.rtcMu.Unlock()

	default:
		return Handle{}, fmt.Errorf("%w: unknown transport kind %d", ErrInvalidParameter, kind)
	}

	return e.subs.Insert(rec), nil
}

// SubscribeReply registers a request-handling subscription over MQTT.
// Unlike Subscribe, the wrapper reads the requester's reply_topic user
// property (spec.md §4.F/§4.H) and passes handler a ReplyContext it can
// give to SendReply. A request published without a reply_topic property
// (a plain Publish, not PublishWithReply) still invokes handler, but
// SendReply on the resulting context fails with ErrInvalidParameter since
// there is nowhere to send a reply.
func (e *Engine) SubscribeReply(ctx context.Context, pattern string, qos QoS, handler ReplyHandler, userData any) (Handle, error) {
	if !topicmatch.Valid(pattern) {
		return Handle{}, fmt.Errorf("%w: invalid subscription pattern %q", ErrInvalidParameter, pattern)
	}

	rec := &subscription{pattern: pattern, kind: MQTT, userData: userData}

	err := e.br.Subscribe(ctx, pattern, qos, func(topic string, payload []byte, props map[string]string) {
		rc := ReplyContext{replyTopic: props["reply_topic"], seq: &reply.Counter{}}
		e.post(func() { handler(rc, topic, payload) })
	})
	if err != nil {
		return Handle{}, fmt.Errorf("engine: subscribe reply: %w", err)
	}

	return e.subs.Insert(rec), nil
}

// Unsubscribe synchronously tears down everything the matching Subscribe
// call created and returns the caller's original userData (spec.md §5).
func (e *Engine) Unsubscribe(ctx context.Context, h Handle) (any, error) {
	rec, ok := e.subs.Remove(h)
	if !ok {
		return nil, fmt.Errorf("%w: unknown or already-unsubscribed handle", ErrInvalidParameter)
	}

	switch rec.kind {
	case MQTT:
		if err := e.br.Unsubscribe(ctx, rec.pattern); err != nil {
			log.Warnw("unsubscribe: broker unsubscribe failed", "pattern", rec.pattern, "err", err)
		}
	case TCP, TCPSecure:
		rec.tcpEndpoint.Close()
		if err := e.disco.RemoveLocalSubscription(ctx, rec.pattern, toRoutingKind(rec.kind)); err != nil {
			log.Warnw("unsubscribe: discovery update failed", "pattern", rec.pattern, "err", err)
		}
	case WebRTC:
		e.rtc.CloseListener(rec.pattern)
		e.rtcMu.Lock()
		delete(e.rtcHandlers, rec.pattern)
		e.rtcMu.Unlock()
		if err := e.disco.RemoveLocalSubscription(ctx, rec.pattern, routing.KindWebRTC); err != nil {
			log.Warnw("unsubscribe: discovery update failed", "pattern", rec.pattern, "err", err)
		}
	}

	return rec.userData, nil
}

// Publish fans a message out to every transport set in mask. MQTT goes
// through the broker; TCP/TCPSecure/WebRTC traverse the routing table
// under its own lock, skipping patterns that don't topic-match topic.
// Individual direct-send failures are logged and do not abort the
// traversal (spec.md §4.D).
func (e *Engine) Publish(ctx context.Context, topic string, payload []byte, mask TransportKind, qos QoS, retain bool) error {
	if mask&MQTT != 0 {
		if err := e.br.Publish(ctx, topic, payload, qos, retain, nil); err != nil {
			return fmt.Errorf("engine: publish mqtt: %w", err)
		}
	}
	if mask&(TCP|TCPSecure|WebRTC) != 0 {
		e.publishDirect(topic, payload, mask)
	}
	return nil
}

func (e *Engine) publishDirect(topic string, payload []byte, mask TransportKind) {
	matcher := func(pattern string) bool { return topicmatch.Match(pattern, topic) }
	e.table.Match(topic, matcher, func(peerID string, kind routing.Kind, route *routing.Route) {
		var kindMask TransportKind
		switch kind {
		case routing.KindTCP:
			kindMask = TCP
		case routing.KindTCPSecure:
			kindMask = TCPSecure
		case routing.KindWebRTC:
			kindMask = WebRTC
		}
		if mask&kindMask == 0 {
			return
		}

		host, _ := e.addrs.Get(peerID)
		var err error
		if kind == routing.KindWebRTC {
			err = e.rtc.Send(route, peerID, "", topic, payload)
		} else {
			err = e.cache.Send(route, kind, host, topic, payload)
		}
		if err != nil {
			log.Warnw("direct publish failed", "peer", peerID, "topic", topic, "err", err)
		}
	})
}

// PublishWithReply allocates a fresh reply topic, subscribes to it over
// MQTT, then publishes the original message carrying that reply topic as
// a user property. It returns immediately; handler is invoked on the
// dispatch goroutine for every reply frame. The reply subscription is torn
// down automatically once an end-flagged frame settles the exchange.
func (e *Engine) PublishWithReply(ctx context.Context, topic string, payload []byte, qos QoS, handler ReplyFrameHandler) error {
	var replyTopic string
	replyTopic, _ = e.corr.Begin(topic, func() {
		if err := e.br.Unsubscribe(context.Background(), replyTopic); err != nil {
			log.Warnw("reply: cleanup unsubscribe failed", "topic", replyTopic, "err", err)
		}
	})

	err := e.br.Subscribe(ctx, replyTopic, qos, func(_ string, payload []byte, props map[string]string) {
		f, err := reply.ParseFrame(payload, props)
		if err != nil {
			log.Warnw("reply: malformed frame", "topic", replyTopic, "err", err)
			return
		}
		e.corr.Deliver(replyTopic, f)
		e.post(func() { handler(f) })
	})
	if err != nil {
		return fmt.Errorf("engine: subscribe reply topic: %w", err)
	}

	props := map[string]string{"reply_topic": replyTopic}
	if err := e.br.Publish(ctx, topic, payload, qos, false, props); err != nil {
		return fmt.Errorf("engine: publish with reply: %w", err)
	}
	return nil
}

// PublishWithReplySync blocks until an end-flagged reply frame arrives or
// timeout elapses, returning every frame received. A zero timeout blocks
// indefinitely (until ctx is cancelled).
func (e *Engine) PublishWithReplySync(ctx context.Context, topic string, payload []byte, qos QoS, timeout time.Duration) ([]reply.Frame, error) {
	var replyTopic string
	replyTopic, pending := e.corr.Begin(topic, func() {
		if err := e.br.Unsubscribe(context.Background(), replyTopic); err != nil {
			log.Warnw("reply: cleanup unsubscribe failed", "topic", replyTopic, "err", err)
		}
	})

	err := e.br.Subscribe(ctx, replyTopic, qos, func(_ string, payload []byte, props map[string]string) {
		f, perr := reply.ParseFrame(payload, props)
		if perr != nil {
			log.Warnw("reply: malformed frame", "topic", replyTopic, "err", perr)
			return
		}
		e.corr.Deliver(replyTopic, f)
	})
	if err != nil {
		return nil, fmt.Errorf("engine: subscribe reply topic: %w", err)
	}

	props := map[string]string{"reply_topic": replyTopic}
	if err := e.br.Publish(ctx, topic, payload, qos, false, props); err != nil {
		return nil, fmt.Errorf("engine: publish with reply: %w", err)
	}

	frames, werr := pending.Wait(ctx, timeout)
	if werr != nil {
		e.corr.Cancel(replyTopic)
		if errors.Is(werr, reply.ErrTimedOut) {
			return frames, ErrTimedOut
		}
		return frames, werr
	}
	return frames, nil
}

// SendReply publishes payload onto the reply topic carried by rc, tagged
// with the next sequence number in rc's own outgoing counter and end.
// The counter is owned by the responder and starts at 0 independently of
// whatever sequence the request itself carried (spec.md §4.H) — calling
// SendReply repeatedly with the same rc streams frames 0, 1, 2, ....
func (e *Engine) SendReply(ctx context.Context, rc ReplyContext, payload []byte, end bool) error {
	if rc.replyTopic == "" || rc.seq == nil {
		return fmt.Errorf("%w: reply context has no reply topic to send on", ErrInvalidParameter)
	}
	props := reply.Properties(rc.seq.Next(), end)
	if err := e.br.Publish(ctx, rc.replyTopic, payload, AtLeastOnce, false, props); err != nil {
		return fmt.Errorf("engine: send reply: %w", err)
	}
	return nil
}

func (e *Engine) onWebRTCMessage(topic string, payload []byte) {
	e.rtcMu.Lock()
	handlers := make(map[string]MessageHandler, len(e.rtcHandlers))
	for k, v := range e.rtcHandlers {
		handlers[k] = v
	}
	e.rtcMu.Unlock()

	for pattern, h := range handlers {
		if topicmatch.Match(pattern, topic) {
			handler := h
			e.post(func() { handler(topic, payload, "") })
		}
	}
}

// PeerID returns this engine's own peer identity, for diagnostics.
func (e *Engine) PeerID() string { return e.cfg.PeerID }

// SubscriptionCount returns the number of currently active subscriptions,
// for diagnostics.
func (e *Engine) SubscriptionCount() int { return e.subs.Len() }

// RoutingTableSize returns the number of (pattern, peer, transport)
// routes currently known, for diagnostics.
func (e *Engine) RoutingTableSize() int { return e.table.Size() }

// Close unsubscribes every active subscription and publishes an empty
// retained payload to this peer's discovery topic so remote routing
// tables evict it (spec.md §5's disconnect-equals-unsubscribe-all rule).
func (e *Engine) Close(ctx context.Context) error {
	// Each holds the arena's lock for the duration of the callback, and
	// Unsubscribe takes that same lock via Remove — collect handles first
	// so the lock is released before any of them run.
	var handles []Handle
	e.subs.Each(func(h Handle, _ *subscription) {
		handles = append(handles, h)
	})
	for _, h := range handles {
		if _, err := e.Unsubscribe(ctx, h); err != nil {
			log.Warnw("close: unsubscribe failed", "err", err)
		}
	}
	if err := e.disco.Close(ctx); err != nil {
		log.Warnw("close: discovery departure publish failed", "err", err)
	}
	close(e.stop)
	e.wg.Wait()
	return e.br.Close(ctx)
}
