// Package webrtcx implements the WebRTC direct-channel transport
// (SPEC_FULL.md §4.J): signaling and data-channel plumbing only, built on
// github.com/pion/webrtc/v4. Once a data channel opens, frames are carried
// with the exact same internal/frame codec the TCP transport uses, so
// everything above this layer (routing, reply correlation, dispatch) is
// transport-agnostic.
package webrtcx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"github.com/aittgo/aitt/internal/broker"
	"github.com/aittgo/aitt/internal/frame"
	"github.com/aittgo/aitt/internal/routing"
)

var log = logging.Logger("aitt/webrtcx")

// signalMessage is exchanged over the broker on a per-(peer,topic)
// signaling topic, sibling to the discovery retained message (SPEC_FULL.md
// §6) rather than part of it, since SDP/ICE exchange is a per-dial
// handshake, not durable state.
type signalMessage struct {
	Kind      string                   `json:"kind"` // "offer" | "answer" | "candidate"
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

const dataChannelLabel = "aitt"

// Transport owns every local WebRTC listener (one PeerConnection per
// accepted dial) and every outbound PeerConnection dialed on publish.
type Transport struct {
	br     *broker.Adapter
	prefix string // discovery prefix; signaling topics live under <prefix>/<peerID>/webrtc-signal/<topic>
	peerID string
	onMsg  func(topic string, payload []byte)

	mu        sync.Mutex
	listeners map[string]*listener // pattern -> listener
}

type listener struct {
	pattern     string
	signalTopic string
	mu          sync.Mutex
	peers       map[string]*webrtc.PeerConnection // remote peer id -> connection accepting their offer
}

// NewTransport constructs a WebRTC transport bound to one broker
// connection. onMsg receives every decoded (topic, payload) message from
// any open data channel, local or remote-initiated.
func NewTransport(br *broker.Adapter, discoveryPrefix, peerID string, onMsg func(topic string, payload []byte)) *Transport {
	return &Transport{
		br:        br,
		prefix:    strings.TrimSuffix(discoveryPrefix, "/"),
		peerID:    peerID,
		onMsg:     onMsg,
		listeners: make(map[string]*listener),
	}
}

func signalTopicFor(prefix, peerID, pattern string) string {
	return fmt.Sprintf("%s/%s/webrtc-signal/%s", prefix, peerID, sanitizeTopic(pattern))
}

// sanitizeTopic collapses slashes/wildcards in a subscription pattern into
// a broker-topic-safe signaling suffix.
func sanitizeTopic(pattern string) string {
	r := strings.NewReplacer("/", "_", "+", "plus", "#", "hash")
	return r.Replace(pattern)
}

// Listen registers a signaling subscription for pattern and returns the
// signal topic to advertise over discovery (routing.Endpoint.SignalTopic).
// Remote offers arriving on that topic spawn a fresh PeerConnection
// answering with a single ordered, reliable "aitt" data channel.
func (t *Transport) Listen(ctx context.Context, pattern string) (signalTopic string, err error) {
	signalTopic = signalTopicFor(t.prefix, t.peerID, pattern)

	l := &listener{pattern: pattern, signalTopic: signalTopic, peers: make(map[string]*webrtc.PeerConnection)}
	t.mu.Lock()
	t.listeners[pattern] = l
	t.mu.Unlock()

	err = t.br.Subscribe(ctx, signalTopic, broker.AtLeastOnce, func(topic string, payload []byte, props map[string]string) {
		t.handleSignal(ctx, l, props["from"], payload)
	})
	if err != nil {
		return "", fmt.Errorf("webrtcx: subscribe signal topic: %w", err)
	}
	return signalTopic, nil
}

func (t *Transport) handleSignal(ctx context.Context, l *listener, fromPeer string, raw []byte) {
	var msg signalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warnw("malformed signal message", "err", err)
		return
	}

	l.mu.Lock()
	pc, ok := l.peers[fromPeer]
	l.mu.Unlock()

	switch msg.Kind {
	case "offer":
		if ok {
			pc.Close()
		}
		newPC, err := t.newPeerConnection(fromPeer, l)
		if err != nil {
			log.Warnw("webrtcx: new peer connection for offer", "err", err)
			return
		}
		newPC.OnDataChannel(func(dc *webrtc.DataChannel) {
			t.wireDataChannel(l.pattern, dc)
		})
		if err := newPC.SetRemoteDescription(*msg.SDP); err != nil {
			log.Warnw("webrtcx: set remote offer", "err", err)
			return
		}
		answer, err := newPC.CreateAnswer(nil)
		if err != nil {
			log.Warnw("webrtcx: create answer", "err", err)
			return
		}
		if err := newPC.SetLocalDescription(answer); err != nil {
			log.Warnw("webrtcx: set local answer", "err", err)
			return
		}
		t.sendSignal(ctx, l.signalTopic, fromPeer, signalMessage{Kind: "answer", SDP: newPC.LocalDescription()})

		l.mu.Lock()
		l.peers[fromPeer] = newPC
		l.mu.Unlock()

	case "candidate":
		if ok && msg.Candidate != nil {
			if err := pc.AddICECandidate(*msg.Candidate); err != nil {
				log.Warnw("webrtcx: add ice candidate", "err", err)
			}
		}
	}
}

func (t *Transport) newPeerConnection(remotePeerID string, l *listener) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		t.sendSignal(context.Background(), l.signalTopic, remotePeerID, signalMessage{Kind: "candidate", Candidate: &init})
	})
	return pc, nil
}

func (t *Transport) sendSignal(ctx context.Context, topic, toPeer string, msg signalMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		log.Warnw("webrtcx: marshal signal", "err", err)
		return
	}
	props := map[string]string{"from": t.peerID, "to": toPeer}
	if err := t.br.Publish(ctx, topic, body, broker.AtLeastOnce, false, props); err != nil {
		log.Warnw("webrtcx: publish signal", "err", err)
	}
}

// Conn is the routing.Conn cached for a WebRTC route: an open, ordered
// data channel ready to carry frame-codec messages.
type Conn struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	mu    sync.Mutex
	ready chan struct{}
}

func (c *Conn) Close() error {
	c.dc.Close()
	return c.pc.Close()
}

// Send dials (if necessary) and writes one (topic, payload) message to the
// peer that advertised route, mirroring direct.Cache.Send's lazy-dial
// contract so the engine can treat both transports uniformly.
func (t *Transport) Send(route *routing.Route, remotePeerID, pattern, topic string, payload []byte) error {
	conn, _ := route.Conn().(*Conn)
	if conn == nil {
		var err error
		conn, err = t.dial(remotePeerID, pattern, route.Endpoint().SignalTopic)
		if err != nil {
			return err
		}
		route.SetConn(conn)
	}

	select {
	case <-conn.ready:
	case <-time.After(10 * time.Second):
		route.ClearConn()
		return fmt.Errorf("webrtcx: data channel to %s never opened", remotePeerID)
	}

	if err := writeFrameToDataChannel(conn.dc, topic, payload); err != nil {
		route.ClearConn()
		return fmt.Errorf("webrtcx: send to %s: %w", remotePeerID, err)
	}
	return nil
}

func (t *Transport) dial(remotePeerID, pattern, remoteSignalTopic string) (*Conn, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("webrtcx: new peer connection: %w", err)
	}
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: boolPtr(true)})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtcx: create data channel: %w", err)
	}

	conn := &Conn{pc: pc, dc: dc, ready: make(chan struct{})}
	dc.OnOpen(func() { close(conn.ready) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		topic, payload, err := frame.ReadMessage(newBytesReader(msg.Data))
		if err != nil {
			log.Warnw("webrtcx: malformed inbound frame", "err", err)
			return
		}
		t.onMsg(topic, payload)
	})

	mySignalTopic := signalTopicFor(t.prefix, t.peerID, pattern)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		t.sendSignal(context.Background(), remoteSignalTopic, remotePeerID, signalMessage{Kind: "candidate", Candidate: &init})
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtcx: create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("webrtcx: set local offer: %w", err)
	}

	answers, unsubscribe, err := t.awaitAnswer(mySignalTopic, remotePeerID)
	if err != nil {
		pc.Close()
		return nil, err
	}
	defer unsubscribe()

	t.sendSignal(context.Background(), remoteSignalTopic, remotePeerID, signalMessage{Kind: "offer", SDP: pc.LocalDescription()})

	select {
	case answer := <-answers:
		if err := pc.SetRemoteDescription(*answer); err != nil {
			pc.Close()
			return nil, fmt.Errorf("webrtcx: set remote answer: %w", err)
		}
	case <-time.After(15 * time.Second):
		pc.Close()
		return nil, fmt.Errorf("webrtcx: no answer from %s within timeout", remotePeerID)
	}

	return conn, nil
}

// awaitAnswer subscribes (once) to this side's own signaling topic and
// returns a channel delivering the first matching "answer" SDP from
// remotePeerID.
func (t *Transport) awaitAnswer(mySignalTopic, remotePeerID string) (<-chan *webrtc.SessionDescription, func(), error) {
	ch := make(chan *webrtc.SessionDescription, 1)
	ctx := context.Background()
	err := t.br.Subscribe(ctx, mySignalTopic, broker.AtLeastOnce, func(_ string, payload []byte, props map[string]string) {
		if props["from"] != remotePeerID {
			return
		}
		var msg signalMessage
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Kind != "answer" {
			return
		}
		select {
		case ch <- msg.SDP:
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("webrtcx: subscribe own signal topic: %w", err)
	}
	return ch, func() { _ = t.br.Unsubscribe(ctx, mySignalTopic) }, nil
}

func (t *Transport) wireDataChannel(pattern string, dc *webrtc.DataChannel) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		topic, payload, err := frame.ReadMessage(newBytesReader(msg.Data))
		if err != nil {
			log.Warnw("webrtcx: malformed inbound frame", "err", err)
			return
		}
		t.onMsg(topic, payload)
	})
}

// CloseListener forgets the listener registered for pattern and closes its
// remaining peer connections.
func (t *Transport) CloseListener(pattern string) error {
	t.mu.Lock()
	l, ok := t.listeners[pattern]
	delete(t.listeners, pattern)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pc := range l.peers {
		pc.Close()
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
