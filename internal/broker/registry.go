package broker

import (
	"sync"

	"github.com/aittgo/aitt/internal/topicmatch"
)

type callback struct {
	pattern string
	handler Handler
}

// registry holds the adapter's local {pattern -> callback} table, separate
// from Adapter so its pure matching logic can be unit tested without a
// live broker connection.
type registry struct {
	mu        sync.RWMutex
	callbacks []callback
}

func (r *registry) add(pattern string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback{pattern: pattern, handler: h})
}

// remove deletes every callback registered for pattern, returning whether
// anything was removed.
func (r *registry) remove(pattern string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.callbacks[:0]
	removed := false
	for _, cb := range r.callbacks {
		if cb.pattern == pattern {
			removed = true
			continue
		}
		kept = append(kept, cb)
	}
	r.callbacks = kept
	return removed
}

// matchAndCall invokes every callback whose pattern MQTT-matches topic,
// implementing spec.md's "invokes every callback whose pattern
// topic-matches the message topic" re-matching requirement.
func (r *registry) matchAndCall(topic string, payload []byte, props map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.callbacks {
		if topicmatch.Match(cb.pattern, topic) {
			cb.handler(topic, payload, props)
		}
	}
}
