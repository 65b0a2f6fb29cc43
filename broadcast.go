package main

import (
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// broadcastDialTimeout is the per-peer outbound timeout for fan-out sends
// (spec §5).
const broadcastDialTimeout = 10 * time.Second

// broadcastEnvelope snapshots the active peer set and ships env to each over
// its own short-lived TCP connection, in parallel. Failures are logged and
// do not abort the others (spec §4.6).
func (n *Node) broadcastEnvelope(env Envelope) {
	peers := n.registry.ActivePeers()
	for _, p := range peers {
		go n.sendToPeer(p, env)
	}
}

func (n *Node) sendToPeer(p Peer, env Envelope) {
	addr := peerKey(p.Address, p.Port)
	conn, err := net.DialTimeout("tcp", addr, broadcastDialTimeout)
	if err != nil {
		n.logBroadcastFailure(p, env.Action, err)
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(broadcastDialTimeout))

	if err := writeEnvelope(conn, env); err != nil {
		n.logBroadcastFailure(p, env.Action, err)
		return
	}
	if _, err := readEnvelope(conn); err != nil {
		log.WithField("peer", addr).Warn("[broadcast] no response read")
	}
}
