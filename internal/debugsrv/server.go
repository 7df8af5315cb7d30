// Package debugsrv implements the engine's optional diagnostics server
// (SPEC_FULL.md §4.L): a status snapshot, a live websocket event feed
// backed by a bounded ring buffer, and a Prometheus metrics endpoint —
// the net/http + gorilla/websocket + VictoriaMetrics/metrics shape the
// teacher's call/media routes and the pack's atlas server use for their
// own diagnostics surfaces, re-pointed at engine internals instead of
// call sessions or game servers.
package debugsrv

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/aittgo/aitt/internal/util"
)

var log = logging.Logger("aitt/debugsrv")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one line pushed into the ring buffer and streamed to every
// connected /events client.
type Event struct {
	Time   time.Time      `json:"time"`
	Kind   string         `json:"kind"` // "publish" | "subscribe" | "subscribe_reply" | "unsubscribe"
	Detail map[string]any `json:"detail"`
}

// StatusSource is the minimal view the engine exposes to the diagnostics
// server so this package never needs to import internal/engine directly.
type StatusSource interface {
	PeerID() string
	SubscriptionCount() int
	RoutingTableSize() int
}

// Metrics holds the process-level counters tracked across the engine's
// lifetime, grouped the way the pack's metricsx-based handler groups its
// own result-labeled counters.
type Metrics struct {
	set *metrics.Set

	PublishesTotal struct {
		MQTT      *metrics.Counter
		TCP       *metrics.Counter
		TCPSecure *metrics.Counter
		WebRTC    *metrics.Counter
	}
	ReplyTimeoutsTotal   *metrics.Counter
	ActiveConnectionsGauge *metrics.Counter
}

// NewMetrics registers every counter under one private set so multiple
// Server instances in the same process (e.g. tests) never collide on the
// global registry.
func NewMetrics() *Metrics {
	m := &Metrics{set: metrics.NewSet()}
	m.PublishesTotal.MQTT = m.set.NewCounter(`aitt_publishes_total{transport="mqtt"}`)
	m.PublishesTotal.TCP = m.set.NewCounter(`aitt_publishes_total{transport="tcp"}`)
	m.PublishesTotal.TCPSecure = m.set.NewCounter(`aitt_publishes_total{transport="tcp_secure"}`)
	m.PublishesTotal.WebRTC = m.set.NewCounter(`aitt_publishes_total{transport="webrtc"}`)
	m.ReplyTimeoutsTotal = m.set.NewCounter(`aitt_reply_timeouts_total`)
	m.ActiveConnectionsGauge = m.set.NewCounter(`aitt_active_connections`)
	return m
}

// Server is the optional HTTP diagnostics facility gated on
// Config.Debug.Addr: GET /status, GET /events (websocket), GET /metrics.
type Server struct {
	src     StatusSource
	metrics *Metrics
	events  *util.RingBuffer[Event]
	http    *http.Server
}

// NewServer wires a diagnostics server around src. Call Publish to push
// events seen elsewhere in the engine into the ring buffer that /events
// drains.
func NewServer(addr string, src StatusSource, m *Metrics, eventBuffer int) *Server {
	s := &Server{
		src:     src,
		metrics: m,
		events:  util.NewRingBuffer[Event](eventBuffer),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/metrics", s.handleMetrics)
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Publish records one diagnostic event for future /events subscribers.
// Called by the aitt.Client methods on the caller's goroutine; never blocks.
func (s *Server) Publish(kind string, detail map[string]any) {
	s.events.Push(Event{Time: time.Now(), Kind: kind, Detail: detail})
}

// Start begins serving in the background. Listen errors other than a
// clean shutdown are logged, matching the teacher's fire-and-forget
// http.Server goroutine pattern.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnw("debugsrv: server exited", "err", err)
		}
	}()
}

func (s *Server) Close() error {
	return s.http.Close()
}

type statusResponse struct {
	PeerID            string `json:"peer_id"`
	SubscriptionCount int    `json:"subscription_count"`
	RoutingTableSize  int    `json:"routing_table_size"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		PeerID:            s.src.PeerID(),
		SubscriptionCount: s.src.SubscriptionCount(),
		RoutingTableSize:  s.src.RoutingTableSize(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleEvents upgrades to a websocket and replays the ring buffer's
// current contents, then streams newly Published events as they arrive.
// A slow client only ever misses events it would otherwise have
// backpressured the engine over — the ring buffer just overwrites the
// oldest entry once full.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("debugsrv: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	for _, e := range s.events.Snapshot() {
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}

	last := s.events.Len()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		snap := s.events.Snapshot()
		if len(snap) <= last {
			last = len(snap)
			continue
		}
		for _, e := range snap[last:] {
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
		last = len(snap)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.set.WritePrometheus(w)
}
