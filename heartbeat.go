package main

// handleHeartbeat answers heartbeat/ping with response/pong carrying
// {journal_stats, vfs_stats, node_name} (spec §4.8). The receive side's own
// liveness refresh already happened in the accept loop (§4.5 step 3).
func (n *Node) handleHeartbeat(env Envelope) Envelope {
	if env.Action != "ping" {
		return n.errorResponse("unhandled heartbeat action: " + env.Action)
	}

	jstats, err := n.journal.GetStats()
	if err != nil {
		return n.errorResponse("heartbeat failed: " + err.Error())
	}
	vstats, err := n.vfs.Stat()
	if err != nil {
		return n.errorResponse("heartbeat failed: " + err.Error())
	}

	return Envelope{
		Type:      typeResponse,
		Action:    "pong",
		Origin:    n.nodeName,
		Timestamp: nowSeconds(),
		Content: map[string]any{
			"journal_stats": jstats,
			"vfs_stats":     vstats,
			"node_name":     n.nodeName,
		},
	}
}
