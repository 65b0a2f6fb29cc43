package main

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	livenessInterval = 5 * time.Second
	pingDialTimeout   = 3 * time.Second
)

// Liveness periodically sweeps the peer registry, evicting stale peers and
// pinging the rest (spec §4.4). It also re-resolves static host:port peers
// from config every cycle, so a peer whose IP changed under a stable
// hostname is not permanently lost (supplemented feature, SPEC_FULL.md).
type Liveness struct {
	nodeName         string
	registry         *PeerRegistry
	reconnectTimeout time.Duration
	staticPeers      []string
}

// NewLiveness constructs a Liveness monitor.
func NewLiveness(nodeName string, registry *PeerRegistry, reconnectTimeout time.Duration, staticPeers []string) *Liveness {
	return &Liveness{nodeName: nodeName, registry: registry, reconnectTimeout: reconnectTimeout, staticPeers: staticPeers}
}

// RegisterStaticPeers adds every configured host:port peer with a synthetic
// name, at startup (spec §4.4).
func (l *Liveness) RegisterStaticPeers() {
	for _, hp := range l.staticPeers {
		l.resolveStatic(hp)
	}
}

func (l *Liveness) resolveStatic(hostPort string) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		log.WithField("peer", hostPort).Warn("[liveness] malformed static peer")
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.WithField("peer", hostPort).Warn("[liveness] malformed static peer port")
		return
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		log.WithField("peer", hostPort).Warn("[liveness] could not resolve static peer")
		return
	}
	l.registry.AddPeer("static-"+strings.ReplaceAll(hostPort, ":", "-"), ips[0].String(), port)
}

// Run ticks every livenessInterval until ctx is cancelled.
func (l *Liveness) Run(ctx context.Context) {
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweepOnce()
		}
	}
}

func (l *Liveness) sweepOnce() {
	for _, hp := range l.staticPeers {
		l.resolveStatic(hp)
	}

	l.registry.Sweep(l.reconnectTimeout)

	for _, p := range l.registry.ActivePeers() {
		go l.ping(p)
	}
}

func (l *Liveness) ping(p Peer) {
	addr := peerKey(p.Address, p.Port)
	conn, err := net.DialTimeout("tcp", addr, pingDialTimeout)
	if err != nil {
		log.WithField("peer", addr).Warn("[liveness] ping dial failed")
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(pingDialTimeout))

	env := Envelope{
		Type:      typeHeartbeat,
		Action:    "ping",
		Origin:    l.nodeName,
		Timestamp: nowSeconds(),
	}
	if err := writeEnvelope(conn, env); err != nil {
		log.WithField("peer", addr).Warn("[liveness] ping send failed")
		return
	}
	if _, err := readEnvelope(conn); err != nil {
		log.WithField("peer", addr).Warn("[liveness] ping read failed")
	}
}
