package engine

import "sync"

// peerAddrMap is the third lock in the four-level ordering from spec.md
// §5: peer_id -> dial host, populated by the discovery agent and consulted
// by the outbound connection cache before every first dial to a peer.
type peerAddrMap struct {
	mu sync.RWMutex
	m  map[string]string
}

func newPeerAddrMap() *peerAddrMap {
	return &peerAddrMap{m: make(map[string]string)}
}

func (p *peerAddrMap) Set(peerID, host string) {
	p.mu.Lock()
	p.m[peerID] = host
	p.mu.Unlock()
}

func (p *peerAddrMap) Get(peerID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	host, ok := p.m[peerID]
	return host, ok
}

func (p *peerAddrMap) Delete(peerID string) {
	p.mu.Lock()
	delete(p.m, peerID)
	p.mu.Unlock()
}
