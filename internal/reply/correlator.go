// Package reply implements request/reply correlation over the broker
// (spec.md §4.H): synthetic reply topics, the sequence/end-flag wire
// contract, and the synchronous wait-with-timeout variant.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("aitt/reply")

// ErrTimedOut is returned by Wait when no end-flagged frame arrives before
// the caller's timeout.
var ErrTimedOut = errors.New("reply: timed out waiting for end of reply stream")

const replySuffix = "_AittRe_"

// Topic builds the synthetic reply topic for one request, per spec.md §6:
// "<original_topic>_AittRe_<n>" with a monotonic n.
func Topic(original string, n uint64) string {
	return fmt.Sprintf("%s%s%d", original, replySuffix, n)
}

// Counter hands out monotonic values starting at 0. Each Correlator owns
// one Counter for the suffix used by Topic, shared by every Begin call; the
// engine also gives each reply context its own Counter for the sequence
// numbers of the frames it sends.
type Counter struct {
	n atomic.Uint64
}

// Next returns the next monotonic value, starting at 0.
func (c *Counter) Next() uint64 { return c.n.Add(1) - 1 }

// Frame is one decoded reply message.
type Frame struct {
	Sequence uint64
	End      bool
	Payload  []byte
}

// ParseFrame extracts the sequence/end user properties the broker adapter
// delivers alongside a reply payload.
func ParseFrame(payload []byte, props map[string]string) (Frame, error) {
	seq, err := strconv.ParseUint(props["sequence"], 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("reply: invalid sequence property %q: %w", props["sequence"], err)
	}
	return Frame{Sequence: seq, End: props["end"] == "1", Payload: payload}, nil
}

// Properties renders a Frame's sequence/end back into the broker's wire
// user-property encoding for send_reply.
func Properties(seq uint64, end bool) map[string]string {
	e := "0"
	if end {
		e = "1"
	}
	return map[string]string{"sequence": strconv.FormatUint(seq, 10), "end": e}
}

// Pending tracks one outstanding publish_with_reply exchange: the state
// machine from spec.md §4.H (Waiting -> Done / TimedOut), reset on every
// arriving frame and settled on the first end-flagged one.
type Pending struct {
	mu       sync.Mutex
	frames   chan Frame
	done     chan struct{}
	closed   bool
	lastSeq  int64 // -1 until the first frame
	onUnsub  func()
	unsubbed bool
}

func newPending(onUnsub func()) *Pending {
	return &Pending{
		frames:  make(chan Frame, 16),
		done:    make(chan struct{}),
		lastSeq: -1,
		onUnsub: onUnsub,
	}
}

// Deliver feeds one arriving frame into the pending exchange. Frames
// arriving after Done/TimedOut are silently discarded (spec.md §7: "the
// remote may still send replies; they are discarded").
func (p *Pending) Deliver(f Frame) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if int64(f.Sequence) <= p.lastSeq {
		p.mu.Unlock()
		log.Warnw("reply: out-of-order or duplicate frame dropped", "seq", f.Sequence, "last", p.lastSeq)
		return
	}
	p.lastSeq = int64(f.Sequence)
	p.mu.Unlock()

	p.frames <- f
	if f.End {
		p.settle()
	}
}

func (p *Pending) settle() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.done)
	p.unsubscribeOnce()
}

func (p *Pending) unsubscribeOnce() {
	p.mu.Lock()
	already := p.unsubbed
	p.unsubbed = true
	p.mu.Unlock()
	if !already && p.onUnsub != nil {
		p.onUnsub()
	}
}

// Wait blocks the calling goroutine until an end-flagged frame arrives,
// the timeout elapses (ErrTimedOut, only if timeout > 0), or ctx is
// cancelled. Frames delivered before completion are collected and
// returned in order.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) ([]Frame, error) {
	var timer *time.Timer
	var timerC <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	var collected []Frame
	for {
		select {
		case f := <-p.frames:
			collected = append(collected, f)
			if timer != nil {
				// each frame resets the timeout timer, per spec.md §4.H
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(timeout)
			}
		case <-p.done:
			// drain any remaining buffered frames without blocking
			for {
				select {
				case f := <-p.frames:
					collected = append(collected, f)
					continue
				default:
				}
				break
			}
			return collected, nil
		case <-timerC:
			p.unsubscribeOnce()
			return collected, ErrTimedOut
		case <-ctx.Done():
			p.unsubscribeOnce()
			return collected, ctx.Err()
		}
	}
}

// Correlator tracks outstanding publish_with_reply exchanges by reply
// topic.
type Correlator struct {
	counter Counter

	mu      sync.Mutex
	pending map[string]*Pending
}

// NewCorrelator returns an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*Pending)}
}

// Begin allocates a fresh reply topic for original and registers a
// Pending exchange for it. onUnsub is called (at most once) when the
// exchange completes or times out, so the caller can unsubscribe the
// reply topic from the broker.
func (c *Correlator) Begin(original string, onUnsub func()) (topic string, pending *Pending) {
	n := c.counter.Next()
	topic = Topic(original, n)
	p := newPending(onUnsub)

	c.mu.Lock()
	c.pending[topic] = p
	c.mu.Unlock()
	return topic, p
}

// Deliver routes one incoming reply frame to its Pending exchange, if
// still outstanding.
func (c *Correlator) Deliver(topic string, f Frame) {
	c.mu.Lock()
	p := c.pending[topic]
	c.mu.Unlock()
	if p == nil {
		return
	}
	p.Deliver(f)
	if f.End {
		c.forget(topic)
	}
}

func (c *Correlator) forget(topic string) {
	c.mu.Lock()
	delete(c.pending, topic)
	c.mu.Unlock()
}

// Cancel drops a pending exchange without delivering anything further —
// used when Wait returns due to timeout or context cancellation.
func (c *Correlator) Cancel(topic string) {
	c.forget(topic)
}
