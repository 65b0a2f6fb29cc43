package main

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	peerStatusActive       = "active"
	peerStatusDisconnected = "disconnected"
)

// Peer is one peer record (spec §3). Identity key is (Address, Port).
type Peer struct {
	Name     string  `json:"name"`
	Address  string  `json:"address"`
	Port     int     `json:"port"`
	LastSeen int64   `json:"last_seen"`
	Status   string  `json:"status"`
	Latency  float64 `json:"latency,omitempty"`
}

func peerKey(address string, port int) string {
	return fmt.Sprintf("%s:%d", address, port)
}

// PeerObserver receives connect/disconnect notifications from the registry.
// Per the "no nullable callback fields" design note, components that want to
// react to registry changes implement this interface and register an
// instance instead of assigning function pointers.
type PeerObserver interface {
	OnPeerConnected(p Peer)
	OnPeerDisconnected(p Peer)
}

// PeerRegistry is the in-memory set of known peers (spec §4.4), guarded by a
// single non-reentrant mutex that each method takes for itself.
type PeerRegistry struct {
	mu        sync.Mutex
	peers     map[string]Peer
	observers []PeerObserver
}

// NewPeerRegistry returns an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[string]Peer)}
}

// Subscribe registers an observer. Not safe to call from inside a callback.
func (r *PeerRegistry) Subscribe(o PeerObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// AddPeer creates a peer on first sight (invoking connect observers) or
// refreshes LastSeen on subsequent sightings.
func (r *PeerRegistry) AddPeer(name, address string, port int) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := peerKey(address, port)
	now := time.Now().Unix()

	if existing, ok := r.peers[key]; ok {
		existing.LastSeen = now
		existing.Status = peerStatusActive
		r.peers[key] = existing
		return existing
	}

	p := Peer{
		Name:     name,
		Address:  address,
		Port:     port,
		LastSeen: now,
		Status:   peerStatusActive,
	}
	r.peers[key] = p
	for _, o := range r.observers {
		o.OnPeerConnected(p)
	}
	return p
}

// UpdatePeerHeartbeat bumps LastSeen for the peer at address:port, creating
// it (as a fallback registration, per spec §4.5 step 3) if unknown.
func (r *PeerRegistry) UpdatePeerHeartbeat(address string, port int) {
	r.mu.Lock()
	key := peerKey(address, port)
	if p, ok := r.peers[key]; ok {
		p.LastSeen = time.Now().Unix()
		p.Status = peerStatusActive
		r.peers[key] = p
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.AddPeer(fmt.Sprintf("peer-%s-%d", address, port), address, port)
}

// Get returns the peer at address:port, if known.
func (r *PeerRegistry) Get(address string, port int) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerKey(address, port)]
	return p, ok
}

// FindByAddress returns the first peer whose Address matches, if any — used
// by the accept loop (spec §4.5 step 3) to attribute an inbound connection
// to a registry entry before falling back to UpdatePeerHeartbeat.
func (r *PeerRegistry) FindByAddress(address string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		if p.Address == address {
			return p, true
		}
	}
	return Peer{}, false
}

// ActivePeers snapshots every peer with Status == active, for broadcast
// fan-out (spec §4.6). Snapshotting avoids holding the registry lock across
// the network calls that follow.
func (r *PeerRegistry) ActivePeers() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.Status == peerStatusActive {
			out = append(out, p)
		}
	}
	return out
}

// All snapshots every known peer regardless of status.
func (r *PeerRegistry) All() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Sweep evicts peers whose LastSeen is at least reconnectTimeout seconds old
// (spec §4.4 liveness), invoking disconnect observers for each, and returns
// the evicted peers.
func (r *PeerRegistry) Sweep(reconnectTimeout time.Duration) []Peer {
	r.mu.Lock()
	now := time.Now().Unix()
	cutoff := int64(reconnectTimeout.Seconds())

	var evicted []Peer
	for key, p := range r.peers {
		if now-p.LastSeen >= cutoff {
			p.Status = peerStatusDisconnected
			delete(r.peers, key)
			evicted = append(evicted, p)
		}
	}
	observers := append([]PeerObserver(nil), r.observers...)
	r.mu.Unlock()

	for _, p := range evicted {
		for _, o := range observers {
			o.OnPeerDisconnected(p)
		}
		log.WithField("peer", peerKey(p.Address, p.Port)).Info("[liveness] evicted peer")
	}
	return evicted
}
