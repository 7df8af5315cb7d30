// Package topicmatch implements MQTT-style hierarchical topic matching,
// shared by the routing table, the broker adapter's callback registry, and
// the engine's local subscription fan-in.
package topicmatch

import "strings"

// Valid reports whether pattern is a legal subscription pattern: '#' may
// only appear as the final segment, and both wildcards must occupy an
// entire segment (no "a+b" or "a#").
func Valid(pattern string) bool {
	segs := strings.Split(pattern, "/")
	for i, s := range segs {
		switch {
		case s == "#":
			if i != len(segs)-1 {
				return false
			}
		case strings.Contains(s, "#"):
			return false
		case s == "+":
			// fine
		case strings.Contains(s, "+"):
			return false
		}
	}
	return true
}

// Match reports whether topic matches pattern under MQTT wildcard rules:
// '+' matches exactly one segment, '#' matches one or more trailing
// segments and is only legal as the last segment of pattern.
func Match(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patSegs := strings.Split(pattern, "/")
	topSegs := strings.Split(topic, "/")

	pi, ti := 0, 0
	for pi < len(patSegs) && ti < len(topSegs) {
		p := patSegs[pi]
		switch {
		case p == "#":
			return true
		case p == "+":
			pi++
			ti++
		case p == topSegs[ti]:
			pi++
			ti++
		default:
			return false
		}
	}

	return pi == len(patSegs) && ti == len(topSegs)
}
