package main

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// readTimeout is the per-connection inbound read deadline (spec §4.5).
const readTimeout = 30 * time.Second

// Node is the replicating daemon: it owns the VFS root, the journal, the
// peer registry, and the listener socket for its lifetime (spec §3
// Ownership & lifecycle).
type Node struct {
	cfg      Config
	nodeName string

	vfs      *VFS
	journal  *Journal
	registry *PeerRegistry
	sampler  LoadSampler

	syncMu sync.Mutex // serializes sync_file-style applies (spec §5)

	listener  net.Listener
	startedAt time.Time
}

// NewNode wires a Node from its already-constructed components.
func NewNode(cfg Config, nodeName string, vfs *VFS, journal *Journal, registry *PeerRegistry, sampler LoadSampler) *Node {
	return &Node{
		cfg:       cfg,
		nodeName:  nodeName,
		vfs:       vfs,
		journal:   journal,
		registry:  registry,
		sampler:   sampler,
		startedAt: time.Now(),
	}
}

// Serve binds the TCP listener (returning the bind error, if any) and runs
// the accept loop until ctx is cancelled; other accept errors are logged and
// the loop continues.
func (n *Node) Serve(ctx context.Context) error {
	// net.ListenConfig (rather than the package-level net.Listen) so a
	// future Control hook for platform-specific SO_REUSEADDR tuning has
	// somewhere to attach without changing this call site.
	addr := net.JoinHostPort(n.cfg.Network.BindAddress, strconv.Itoa(n.cfg.Network.TCPPort))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	n.listener = ln
	log.WithField("addr", addr).Info("[daemon] listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("[daemon] accept failed")
			continue
		}
		go n.handleConn(conn)
	}
}

func (n *Node) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	env, err := readEnvelope(conn)
	if err != nil {
		writeEnvelope(conn, n.errorResponse("framing error: "+err.Error()))
		return
	}

	if err := env.Validate(); err != nil {
		writeEnvelope(conn, n.errorResponse(err.Error()))
		return
	}

	n.refreshPeerLiveness(conn)

	var resp Envelope
	switch env.Type {
	case typeCommand:
		resp = n.handleCommand(env)
	case typeSync:
		resp = n.handleSync(env)
	case typeHeartbeat:
		resp = n.handleHeartbeat(env)
	default:
		resp = n.errorResponse("unhandled envelope type: " + env.Type)
	}

	if err := writeEnvelope(conn, resp); err != nil {
		log.WithError(err).Warn("[daemon] write response failed")
	}
}

// refreshPeerLiveness implements spec §4.5 step 3: attribute the inbound
// connection to a known peer by remote IP, or register a fallback entry
// using the configured TCP port (§9's documented multi-daemon-per-host
// caveat applies here).
func (n *Node) refreshPeerLiveness(conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return
	}
	if p, ok := n.registry.FindByAddress(host); ok {
		n.registry.UpdatePeerHeartbeat(p.Address, p.Port)
		return
	}
	n.registry.UpdatePeerHeartbeat(host, n.cfg.Network.TCPPort)
}

// errorResponse builds the base failure envelope; (*Node).errorResponse
// overwrites Origin with the node's own name, the way the pong response in
// handleHeartbeat does (spec §4.8). A plain "daemon" placeholder keeps the
// envelope non-empty-origin-valid even if ever built without a Node.
func errorResponse(message string) Envelope {
	return Envelope{
		Type:      typeResponse,
		Action:    "error",
		Origin:    "daemon",
		Timestamp: nowSeconds(),
		Content:   map[string]any{"success": false, "message": message},
	}
}

func successResponse(action string, content any) Envelope {
	return Envelope{
		Type:      typeResponse,
		Action:    action,
		Origin:    "daemon",
		Timestamp: nowSeconds(),
		Content:   content,
	}
}

// errorResponse is the Node-scoped form: origin is the node's own name, the
// way handleHeartbeat's pong response already does it (spec §4.8).
func (n *Node) errorResponse(message string) Envelope {
	e := errorResponse(message)
	e.Origin = n.nodeName
	return e
}

// successResponse is the Node-scoped form of successResponse.
func (n *Node) successResponse(action string, content any) Envelope {
	e := successResponse(action, content)
	e.Origin = n.nodeName
	return e
}
