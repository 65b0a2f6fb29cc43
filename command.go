package main

import (
	"encoding/base64"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultHistoryLimit = 50

// handleCommand is the authoritative apply path (spec §4.6): it mutates the
// local VFS/journal and, if the envelope originated locally, fans a
// replication envelope out to every active peer. Broadcasts are suppressed
// for remote-origin envelopes — origin != self is the sole loop-prevention
// mechanism (spec §4.6, §8 "No replication loop").
func (n *Node) handleCommand(env Envelope) Envelope {
	isLocal := env.Origin == n.nodeName

	switch env.Action {
	case "create":
		return n.applyCreate(env, isLocal)
	case "write":
		return n.applyWrite(env, isLocal)
	case "read":
		return n.applyRead(env)
	case "delete":
		return n.applyDelete(env, isLocal)
	case "mkdir":
		return n.applyMkdir(env, isLocal)
	case "list":
		return n.applyList(env)
	case "history":
		return n.applyHistory(env)
	case "loadbal":
		return n.applyLoadbal(env)
	case "pstree":
		return n.applyPstree(env)
	case "nodestats":
		return n.applyNodestats(env)
	default:
		return n.errorResponse("unknown command action: " + env.Action)
	}
}

func (n *Node) applyCreate(env Envelope, isLocal bool) Envelope {
	if err := n.vfs.Create(env.Path); err != nil {
		return n.errorResponse("create failed: " + err.Error())
	}
	checksum := ChecksumBytes(nil)
	if _, err := n.journal.AddFile(env.Path, checksum, 0, env.Origin, "create"); err != nil {
		return n.errorResponse("journal update failed: " + err.Error())
	}
	if isLocal {
		n.broadcastSyncFile(env.Path, nil, checksum, "create")
	}
	return n.successResponse("create", map[string]any{"success": true, "path": env.Path})
}

func (n *Node) applyWrite(env Envelope, isLocal bool) Envelope {
	text, _ := env.Content.(string)
	data := []byte(text)
	if err := n.vfs.Write(env.Path, data); err != nil {
		return n.errorResponse("write failed: " + err.Error())
	}
	checksum := ChecksumBytes(data)
	if _, err := n.journal.AddFile(env.Path, checksum, int64(len(data)), env.Origin, "modify"); err != nil {
		return n.errorResponse("journal update failed: " + err.Error())
	}
	if isLocal {
		n.broadcastSyncFile(env.Path, data, checksum, "modify")
	}
	return n.successResponse("write", map[string]any{"success": true, "path": env.Path})
}

func (n *Node) applyRead(env Envelope) Envelope {
	text, err := n.vfs.ReadText(env.Path)
	if err != nil {
		return n.errorResponse("read failed: " + err.Error())
	}
	return n.successResponse("read", map[string]any{"success": true, "path": env.Path, "content": text})
}

func (n *Node) applyDelete(env Envelope, isLocal bool) Envelope {
	if err := n.vfs.Delete(env.Path); err != nil {
		return n.errorResponse("delete failed: " + err.Error())
	}
	if err := n.journal.DeleteFile(env.Path, env.Origin); err != nil {
		return n.errorResponse("journal delete failed: " + err.Error())
	}
	if isLocal {
		n.broadcastEnvelope(Envelope{
			Type:      typeCommand,
			Action:    "delete",
			Path:      env.Path,
			Origin:    env.Origin,
			Timestamp: nowSeconds(),
		})
	}
	return n.successResponse("delete", map[string]any{"success": true, "path": env.Path})
}

func (n *Node) applyMkdir(env Envelope, isLocal bool) Envelope {
	if err := n.vfs.Mkdir(env.Path); err != nil {
		return n.errorResponse("mkdir failed: " + err.Error())
	}
	if _, err := n.journal.AddFile(env.Path, "", 0, env.Origin, "mkdir"); err != nil {
		return n.errorResponse("journal update failed: " + err.Error())
	}
	if isLocal {
		n.broadcastEnvelope(Envelope{
			Type:      typeCommand,
			Action:    "mkdir",
			Path:      env.Path,
			Origin:    env.Origin,
			Timestamp: nowSeconds(),
		})
	}
	return n.successResponse("mkdir", map[string]any{"success": true, "path": env.Path})
}

func (n *Node) applyList(env Envelope) Envelope {
	entries, err := n.vfs.List(env.Path)
	if err != nil {
		return n.errorResponse("list failed: " + err.Error())
	}
	return n.successResponse("list", map[string]any{"success": true, "entries": entries})
}

func (n *Node) applyHistory(env Envelope) Envelope {
	limit := defaultHistoryLimit
	nodeFilter := ""
	if m, ok := env.Content.(map[string]any); ok {
		if l, ok := m["limit"].(float64); ok {
			limit = int(l)
		}
		if nf, ok := m["node"].(string); ok {
			nodeFilter = nf
		}
	}
	records, err := n.journal.GetOperationHistory(limit, nodeFilter)
	if err != nil {
		return n.errorResponse("history failed: " + err.Error())
	}
	return n.successResponse("history", map[string]any{"success": true, "records": records})
}

func (n *Node) applyLoadbal(env Envelope) Envelope {
	if n.sampler == nil {
		return n.errorResponse("no load sampler configured")
	}
	sample, err := n.sampler.Sample(len(n.registry.ActivePeers()))
	if err != nil {
		return n.errorResponse("loadbal failed: " + err.Error())
	}
	return n.successResponse("loadbal", sample)
}

// applyPstree is the supplemented tree-view action (SPEC_FULL.md
// SUPPLEMENTED FEATURES #1): VFS-only, no journal effect, no broadcast.
func (n *Node) applyPstree(env Envelope) Envelope {
	files, err := n.vfs.GetAllFiles()
	if err != nil {
		return n.errorResponse("pstree failed: " + err.Error())
	}
	return n.successResponse("pstree", map[string]any{"success": true, "tree": buildTree(files)})
}

// applyNodestats is the supplemented direct-query mirror of the
// heartbeat/pong payload (SPEC_FULL.md SUPPLEMENTED FEATURES #2).
func (n *Node) applyNodestats(env Envelope) Envelope {
	jstats, err := n.journal.GetStats()
	if err != nil {
		return n.errorResponse("nodestats failed: " + err.Error())
	}
	vstats, err := n.vfs.Stat()
	if err != nil {
		return n.errorResponse("nodestats failed: " + err.Error())
	}
	return n.successResponse("nodestats", map[string]any{
		"success":       true,
		"journal_stats": jstats,
		"vfs_stats":     vstats,
		"node_name":     n.nodeName,
		"peer_count":    len(n.registry.ActivePeers()),
		"uptime":        time.Since(n.startedAt).Seconds(),
	})
}

// treeNode is one entry of the pstree response.
type treeNode struct {
	Name     string      `json:"name"`
	Children []*treeNode `json:"children,omitempty"`
}

// buildTree nests root-relative, forward-slash paths into a directory tree.
func buildTree(paths []string) *treeNode {
	root := &treeNode{Name: "/"}
	index := map[string]*treeNode{"": root}

	for _, p := range paths {
		parts := splitPath(p)
		prefix := ""
		parent := root
		for _, part := range parts {
			if prefix == "" {
				prefix = part
			} else {
				prefix = prefix + "/" + part
			}
			child, ok := index[prefix]
			if !ok {
				child = &treeNode{Name: part}
				index[prefix] = child
				parent.Children = append(parent.Children, child)
			}
			parent = child
		}
	}
	return root
}

func splitPath(p string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	if start < len(p) {
		parts = append(parts, p[start:])
	}
	return parts
}

// broadcastSyncFile constructs and fans out a sync/sync_file envelope for a
// local mutation (spec §4.6 action table).
func (n *Node) broadcastSyncFile(path string, data []byte, checksum, operation string) {
	n.broadcastEnvelope(Envelope{
		Type:   typeSync,
		Action: "sync_file",
		Path:   path,
		Origin: n.nodeName,
		Content: map[string]any{
			"data": base64.StdEncoding.EncodeToString(data),
			"metadata": map[string]any{
				"checksum":  checksum,
				"size":      len(data),
				"operation": operation,
			},
		},
		Timestamp: nowSeconds(),
	})
}

func (n *Node) logBroadcastFailure(peer Peer, action string, err error) {
	log.WithFields(log.Fields{"peer": peerKey(peer.Address, peer.Port), "action": action}).
		Warn(fmt.Sprintf("[broadcast] send failed: %v", err))
}
