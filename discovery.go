package main

import (
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// announceInterval is how often the broadcaster emits a discovery/announce
// envelope (spec §4.4).
const announceInterval = 5 * time.Second

// Discovery runs the UDP broadcast announcer and listener that populate a
// PeerRegistry (spec §4.4, §4.5 component 5).
type Discovery struct {
	nodeName string
	tcpPort  int
	discPort int
	registry *PeerRegistry
}

// NewDiscovery constructs a Discovery bound to registry.
func NewDiscovery(nodeName string, tcpPort, discoveryPort int, registry *PeerRegistry) *Discovery {
	return &Discovery{nodeName: nodeName, tcpPort: tcpPort, discPort: discoveryPort, registry: registry}
}

// Run starts the announcer and listener and blocks until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	go d.runListener(ctx)
	go d.runAnnouncer(ctx)
	<-ctx.Done()
}

func (d *Discovery) runListener(ctx context.Context) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: d.discPort}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		log.WithError(err).Error("[discover] failed to bind discovery listener")
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		env, err := DecodeEnvelope(buf[:n])
		if err != nil {
			continue
		}
		if env.Type != typeDiscovery || env.Action != "announce" {
			continue
		}
		if env.Origin == d.nodeName {
			continue
		}

		port := d.tcpPort
		if m, ok := env.Content.(map[string]any); ok {
			if p, ok := m["port"].(float64); ok {
				port = int(p)
			}
		}
		peer := d.registry.AddPeer(env.Origin, raddr.IP.String(), port)
		log.WithField("peer", peerKey(peer.Address, peer.Port)).Info("[discover] peer announced")
	}
}

func (d *Discovery) runAnnouncer(ctx context.Context) {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.announceOnce()
		}
	}
}

func (d *Discovery) announceOnce() {
	broadcastAddr, err := broadcastAddress(d.discPort)
	if err != nil {
		log.WithError(err).Warn("[broadcast] could not determine broadcast address")
		return
	}

	conn, err := net.DialUDP("udp4", nil, broadcastAddr)
	if err != nil {
		log.WithError(err).Warn("[broadcast] dial failed")
		return
	}
	defer conn.Close()

	env := Envelope{
		Type:      typeDiscovery,
		Action:    "announce",
		Origin:    d.nodeName,
		Timestamp: nowSeconds(),
		Content:   map[string]any{"port": d.tcpPort},
	}
	sealed, err := Seal(env)
	if err != nil {
		log.WithError(err).Warn("[broadcast] seal failed")
		return
	}
	body, err := EncodeEnvelope(sealed)
	if err != nil {
		log.WithError(err).Warn("[broadcast] encode failed")
		return
	}
	if _, err := conn.Write(body); err != nil {
		log.WithError(err).Warn("[broadcast] send failed")
	}
}

// broadcastAddress picks the first non-loopback IPv4 interface and computes
// its subnet broadcast address (ip | ^mask), adapted from the teacher's
// netselect.go pickInterface/ipv4Net pattern.
func broadcastAddress(port int) (*net.UDPAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
				continue
			}
			ip4 := ipNet.IP.To4()
			mask := ipNet.Mask
			bcast := make(net.IP, 4)
			for i := range ip4 {
				bcast[i] = ip4[i] | ^mask[i]
			}
			return &net.UDPAddr{IP: bcast, Port: port}, nil
		}
	}
	return &net.UDPAddr{IP: net.IPv4bcast, Port: port}, nil
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
