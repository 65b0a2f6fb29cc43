package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	connected    []Peer
	disconnected []Peer
}

func (o *recordingObserver) OnPeerConnected(p Peer)    { o.connected = append(o.connected, p) }
func (o *recordingObserver) OnPeerDisconnected(p Peer) { o.disconnected = append(o.disconnected, p) }

func TestPeerRegistryAddPeerFirstSightInvokesObserver(t *testing.T) {
	r := NewPeerRegistry()
	obs := &recordingObserver{}
	r.Subscribe(obs)

	p := r.AddPeer("node-b", "10.0.0.2", 9000)
	require.Len(t, obs.connected, 1)
	assert.Equal(t, "active", p.Status)
}

func TestPeerRegistryAddPeerSecondSightRefreshesOnly(t *testing.T) {
	r := NewPeerRegistry()
	obs := &recordingObserver{}
	r.Subscribe(obs)

	r.AddPeer("node-b", "10.0.0.2", 9000)
	r.AddPeer("node-b", "10.0.0.2", 9000)
	assert.Len(t, obs.connected, 1)
}

func TestPeerRegistryActivePeersSnapshot(t *testing.T) {
	r := NewPeerRegistry()
	r.AddPeer("b", "10.0.0.2", 9000)
	r.AddPeer("c", "10.0.0.3", 9000)

	active := r.ActivePeers()
	assert.Len(t, active, 2)
}

func TestPeerRegistrySweepEvictsStalePeers(t *testing.T) {
	r := NewPeerRegistry()
	obs := &recordingObserver{}
	r.Subscribe(obs)

	r.AddPeer("b", "10.0.0.2", 9000)
	// Force last_seen far in the past to simulate staleness.
	r.mu.Lock()
	for k, p := range r.peers {
		p.LastSeen = time.Now().Add(-time.Hour).Unix()
		r.peers[k] = p
	}
	r.mu.Unlock()

	evicted := r.Sweep(15 * time.Second)
	require.Len(t, evicted, 1)
	require.Len(t, obs.disconnected, 1)
	assert.Empty(t, r.ActivePeers())
}

func TestPeerRegistryFindByAddress(t *testing.T) {
	r := NewPeerRegistry()
	r.AddPeer("b", "10.0.0.2", 9000)

	p, ok := r.FindByAddress("10.0.0.2")
	require.True(t, ok)
	assert.Equal(t, 9000, p.Port)

	_, ok = r.FindByAddress("10.0.0.9")
	assert.False(t, ok)
}

func TestUpdatePeerHeartbeatFallbackRegistersUnknownPeer(t *testing.T) {
	r := NewPeerRegistry()
	r.UpdatePeerHeartbeat("10.0.0.5", 9000)

	p, ok := r.Get("10.0.0.5", 9000)
	require.True(t, ok)
	assert.Equal(t, "active", p.Status)
}
