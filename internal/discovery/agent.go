// Package discovery implements the retained-MQTT-message discovery
// protocol (spec.md §4.E): every peer owns one retained topic describing
// its current subscriptions, every peer subscribes to every other peer's
// advertisement, and last-will delivers departure.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/aittgo/aitt/internal/broker"
	"github.com/aittgo/aitt/internal/routing"
)

var log = logging.Logger("aitt/discovery")

// UpdateFunc is invoked once per (peer, pattern, transport) parsed out of
// a remote peer's advertisement. host is the peer's advertised dial
// address for this transport blob.
type UpdateFunc func(peerID, host string, kind routing.Kind, ep routing.Endpoint, pattern string)

// DepartFunc is invoked when a peer's discovery topic goes empty — the
// last-will firing, or an explicit clean disconnect.
type DepartFunc func(peerID string)

// Agent owns this process's local advertisement and reacts to every other
// peer's.
type Agent struct {
	br     *broker.Adapter
	prefix string
	peerID string
	myIP   string

	onUpdate UpdateFunc
	onDepart DepartFunc

	mu    sync.Mutex
	local map[string]map[routing.Kind]routing.Endpoint // pattern -> kind -> endpoint
}

// NewAgent constructs a discovery agent. prefix is the discovery topic
// root (default `/aitt/discovery`); myIP is advertised as the host field
// peers should dial for direct channels.
func NewAgent(br *broker.Adapter, prefix, peerID, myIP string, onUpdate UpdateFunc, onDepart DepartFunc) *Agent {
	return &Agent{
		br:       br,
		prefix:   strings.TrimSuffix(prefix, "/"),
		peerID:   peerID,
		myIP:     myIP,
		onUpdate: onUpdate,
		onDepart: onDepart,
		local:    make(map[string]map[routing.Kind]routing.Endpoint),
	}
}

// OwnTopic is this peer's own advertisement topic — the last-will target
// the broker adapter must be configured with before Connect.
func (a *Agent) OwnTopic() string {
	return a.prefix + "/" + a.peerID
}

// Start subscribes to every peer's advertisement topic, including
// retained ones already present (late-joiner convergence).
func (a *Agent) Start(ctx context.Context) error {
	return a.br.Subscribe(ctx, a.prefix+"/+", broker.ExactlyOnce, a.handleMessage)
}

func (a *Agent) handleMessage(topic string, payload []byte, _ map[string]string) {
	peerID := strings.TrimPrefix(topic, a.prefix+"/")
	if peerID == "" || peerID == a.peerID {
		return
	}
	if len(payload) == 0 {
		a.onDepart(peerID)
		return
	}
	adv, err := Decode(payload)
	if err != nil {
		log.Warnw("malformed discovery payload, dropping", "peer", peerID, "err", err)
		return
	}
	a.dispatch(peerID, adv)
}

func (a *Agent) dispatch(peerID string, adv Advertisement) {
	if adv.TCP != nil {
		for pattern, fields := range adv.TCP.Topics {
			if ep, ok := parseTCPFields(fields); ok {
				a.onUpdate(peerID, adv.TCP.Host, routing.KindTCP, ep, pattern)
			}
		}
	}
	if adv.TCPSecure != nil {
		for pattern, fields := range adv.TCPSecure.Topics {
			if ep, ok := parseSecureTCPFields(fields); ok {
				a.onUpdate(peerID, adv.TCPSecure.Host, routing.KindTCPSecure, ep, pattern)
			}
		}
	}
	if adv.WebRTC != nil {
		for pattern, fields := range adv.WebRTC.Topics {
			if ep, ok := parseWebRTCFields(fields); ok {
				a.onUpdate(peerID, adv.WebRTC.Host, routing.KindWebRTC, ep, pattern)
			}
		}
	}
}

// AddLocalSubscription records that this process now serves pattern over
// kind at ep, and republishes the retained advertisement so other peers
// (and late joiners) converge without a dedicated handshake.
func (a *Agent) AddLocalSubscription(ctx context.Context, pattern string, kind routing.Kind, ep routing.Endpoint) error {
	a.mu.Lock()
	if a.local[pattern] == nil {
		a.local[pattern] = make(map[routing.Kind]routing.Endpoint)
	}
	a.local[pattern][kind] = ep
	a.mu.Unlock()
	return a.republish(ctx)
}

// RemoveLocalSubscription reverses AddLocalSubscription and republishes.
func (a *Agent) RemoveLocalSubscription(ctx context.Context, pattern string, kind routing.Kind) error {
	a.mu.Lock()
	if byKind, ok := a.local[pattern]; ok {
		delete(byKind, kind)
		if len(byKind) == 0 {
			delete(a.local, pattern)
		}
	}
	a.mu.Unlock()
	return a.republish(ctx)
}

func (a *Agent) republish(ctx context.Context) error {
	a.mu.Lock()
	adv := a.buildAdvertisementLocked()
	a.mu.Unlock()

	if err := a.br.Publish(ctx, a.OwnTopic(), Encode(adv), broker.ExactlyOnce, true, nil); err != nil {
		return fmt.Errorf("discovery: republish: %w", err)
	}
	return nil
}

func (a *Agent) buildAdvertisementLocked() Advertisement {
	adv := Advertisement{Status: "connected"}
	for pattern, byKind := range a.local {
		for kind, ep := range byKind {
			blob := selectBlob(&adv, kind, a.myIP)
			blob.Topics[pattern] = fieldsFor(kind, ep)
		}
	}
	return adv
}

func selectBlob(adv *Advertisement, kind routing.Kind, host string) *TransportBlob {
	var target **TransportBlob
	switch kind {
	case routing.KindTCP:
		target = &adv.TCP
	case routing.KindTCPSecure:
		target = &adv.TCPSecure
	default:
		target = &adv.WebRTC
	}
	if *target == nil {
		*target = &TransportBlob{Host: host, Topics: make(map[string][]string)}
	}
	return *target
}

// Close publishes an empty retained payload to this peer's own topic, the
// clean-disconnect counterpart to the broker's last-will (spec.md §5:
// "Disconnect is equivalent to ... publishing an empty retained payload").
func (a *Agent) Close(ctx context.Context) error {
	return a.br.PublishRetainedEmpty(ctx, a.OwnTopic())
}
