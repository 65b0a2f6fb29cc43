package main

import (
	"encoding/base64"
	"fmt"
	"net"
	"time"
)

// handleSync is the idempotent apply path (spec §4.7).
func (n *Node) handleSync(env Envelope) Envelope {
	switch env.Action {
	case "sync_file":
		return n.applySyncFile(env)
	case "sync_metadata":
		return n.respondSyncMetadata()
	case "request_file":
		return n.respondRequestFile(env)
	case "request_sync":
		// Answered identically to sync_metadata: the caller performing a
		// full-sync pull (Node.PerformFullSync) needs the same remote
		// record list to compute missing/outdated paths against its own
		// journal (decided in SPEC_FULL.md OPEN QUESTION DECISIONS).
		return n.respondSyncMetadata()
	default:
		return n.successResponse(env.Action, map[string]any{"success": false})
	}
}

// applySyncFile is the §4.7 apply algorithm, serialized under syncMu so the
// write -> checksum -> journal-upsert sequence is atomic per node.
func (n *Node) applySyncFile(env Envelope) Envelope {
	n.syncMu.Lock()
	defer n.syncMu.Unlock()

	payload, _ := env.Content.(map[string]any)
	dataB64, _ := payload["data"].(string)
	meta, _ := payload["metadata"].(map[string]any)
	incomingChecksum, _ := meta["checksum"].(string)
	operation, _ := meta["operation"].(string)

	if existing, err := n.journal.GetFile(env.Path); err == nil && existing != nil && existing.Checksum == incomingChecksum {
		n.journal.LogSync(env.Origin, n.nodeName, env.Path, "sync_file", "success", "")
		return n.successResponse("sync_file", map[string]any{"success": true, "noop": true})
	}

	data, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		n.journal.LogSync(env.Origin, n.nodeName, env.Path, "sync_file", "failed", "base64 decode: "+err.Error())
		return n.successResponse("sync_file", map[string]any{"success": false, "message": "base64 decode failed"})
	}

	if err := n.vfs.Write(env.Path, data); err != nil {
		n.journal.LogSync(env.Origin, n.nodeName, env.Path, "sync_file", "failed", "write: "+err.Error())
		return n.successResponse("sync_file", map[string]any{"success": false, "message": "write failed"})
	}

	actual, err := n.vfs.Checksum(env.Path)
	if err != nil || actual != incomingChecksum {
		n.vfs.Delete(env.Path)
		n.journal.LogSync(env.Origin, n.nodeName, env.Path, "sync_file", "failed", "integrity mismatch")
		return n.successResponse("sync_file", map[string]any{"success": false, "message": "integrity mismatch"})
	}

	if _, err := n.journal.AddFile(env.Path, actual, int64(len(data)), env.Origin, operation); err != nil {
		n.journal.LogSync(env.Origin, n.nodeName, env.Path, "sync_file", "failed", "journal: "+err.Error())
		return n.successResponse("sync_file", map[string]any{"success": false, "message": "journal update failed"})
	}

	n.journal.LogSync(env.Origin, n.nodeName, env.Path, "sync_file", "success", "")
	return n.successResponse("sync_file", map[string]any{"success": true})
}

func (n *Node) respondSyncMetadata() Envelope {
	files, err := n.journal.GetAllFiles()
	if err != nil {
		return n.errorResponse("sync_metadata failed: " + err.Error())
	}
	return n.successResponse("sync_metadata", map[string]any{"success": true, "files": files})
}

func (n *Node) respondRequestFile(env Envelope) Envelope {
	data, err := n.vfs.Read(env.Path)
	if err != nil {
		return n.successResponse("request_file", map[string]any{"success": false, "message": err.Error()})
	}
	rec, err := n.journal.GetFile(env.Path)
	checksum := ChecksumBytes(data)
	size := int64(len(data))
	if err == nil && rec != nil {
		checksum = rec.Checksum
		size = rec.Size
	}
	return n.successResponse("request_file", map[string]any{
		"success":  true,
		"data":     base64.StdEncoding.EncodeToString(data),
		"checksum": checksum,
		"size":     size,
	})
}

// PerformFullSync pulls every path the target reports as missing or
// outdated relative to the local journal, applying each through the same
// idempotent sync_file path (spec §9 open question, decided in
// SPEC_FULL.md: implemented end-to-end rather than left partially wired).
func (n *Node) PerformFullSync(targetAddr string) error {
	conn, err := net.DialTimeout("tcp", targetAddr, broadcastDialTimeout)
	if err != nil {
		return fmt.Errorf("full sync: dial %s: %w", targetAddr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(broadcastDialTimeout))

	req := Envelope{
		Type:      typeSync,
		Action:    "request_sync",
		Origin:    n.nodeName,
		Timestamp: nowSeconds(),
	}
	if err := writeEnvelope(conn, req); err != nil {
		return fmt.Errorf("full sync: send request: %w", err)
	}
	resp, err := readEnvelope(conn)
	if err != nil {
		return fmt.Errorf("full sync: read response: %w", err)
	}

	content, _ := resp.Content.(map[string]any)
	rawFiles, _ := content["files"].([]any)
	remote := make([]PathRecord, 0, len(rawFiles))
	for _, rf := range rawFiles {
		m, ok := rf.(map[string]any)
		if !ok {
			continue
		}
		remote = append(remote, pathRecordFromMap(m))
	}

	cmp, err := n.journal.CompareMetadata(remote)
	if err != nil {
		return fmt.Errorf("full sync: compare: %w", err)
	}

	var pullErr error
	for _, path := range append(append([]string{}, cmp.Missing...), cmp.Outdated...) {
		if err := n.pullPath(targetAddr, path); err != nil {
			pullErr = err
		}
	}
	return pullErr
}

func (n *Node) pullPath(targetAddr, path string) error {
	conn, err := net.DialTimeout("tcp", targetAddr, broadcastDialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(broadcastDialTimeout))

	req := Envelope{
		Type:      typeSync,
		Action:    "request_file",
		Path:      path,
		Origin:    n.nodeName,
		Timestamp: nowSeconds(),
	}
	if err := writeEnvelope(conn, req); err != nil {
		return err
	}
	resp, err := readEnvelope(conn)
	if err != nil {
		return err
	}
	content, _ := resp.Content.(map[string]any)
	dataB64, _ := content["data"].(string)
	checksum, _ := content["checksum"].(string)

	applyEnv := Envelope{
		Type:   typeSync,
		Action: "sync_file",
		Path:   path,
		Origin: n.nodeName,
		Content: map[string]any{
			"data": dataB64,
			"metadata": map[string]any{
				"checksum":  checksum,
				"operation": "sync",
			},
		},
		Timestamp: nowSeconds(),
	}
	result := n.applySyncFile(applyEnv)
	if rc, ok := result.Content.(map[string]any); ok {
		if ok, _ := rc["success"].(bool); !ok {
			return fmt.Errorf("pull %s: apply failed", path)
		}
	}
	return nil
}

func pathRecordFromMap(m map[string]any) PathRecord {
	var rec PathRecord
	rec.Filepath, _ = m["filepath"].(string)
	rec.Checksum, _ = m["checksum"].(string)
	if v, ok := m["size"].(float64); ok {
		rec.Size = int64(v)
	}
	if v, ok := m["version"].(float64); ok {
		rec.Version = int64(v)
	}
	if v, ok := m["created_time"].(float64); ok {
		rec.CreatedTime = int64(v)
	}
	if v, ok := m["modified_time"].(float64); ok {
		rec.ModifiedTime = int64(v)
	}
	rec.NodeID, _ = m["node_id"].(string)
	rec.OperationType, _ = m["operation_type"].(string)
	if v, ok := m["is_deleted"].(bool); ok {
		rec.IsDeleted = v
	}
	return rec
}
