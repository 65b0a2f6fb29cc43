package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
)

// resolveNodeName returns cfg.Node.Name if set, else derives a stable
// fallback identifier from the host's attributes (hostname plus the first
// non-loopback MAC-free interface address), short-hashed. This mirrors the
// teacher's buildNodeIdentity fallback minus its Windows-specific and
// MAC-fingerprinting paths, which have no equivalent requirement here (spec
// §6 treats node.name as operator-configured, with no identity-binding
// guarantee needed beyond stability across restarts).
func resolveNodeName(cfg Config) string {
	if cfg.Node.Name != "" {
		return cfg.Node.Name
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}

	addr := firstNonLoopbackAddr()
	sum := sha256.Sum256([]byte(host + "|" + addr))
	return fmt.Sprintf("node-%s", hex.EncodeToString(sum[:])[:8])
}

func firstNonLoopbackAddr() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return ""
}
