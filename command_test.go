package main

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyCreateRegistersEmptyFile(t *testing.T) {
	n := newTestNode(t, "node-a")
	resp := n.handleCommand(Envelope{Type: typeCommand, Action: "create", Path: "a.txt", Origin: "node-a", Timestamp: 1})
	assert.True(t, responseContent(resp)["success"].(bool))
	assert.True(t, n.vfs.Exists("a.txt"))

	rec, err := n.journal.GetFile("a.txt")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, ChecksumBytes(nil), rec.Checksum)
}

func TestApplyWriteUpdatesChecksumAndSize(t *testing.T) {
	n := newTestNode(t, "node-a")
	resp := n.handleCommand(Envelope{Type: typeCommand, Action: "write", Path: "b.txt", Content: "hello", Origin: "node-a", Timestamp: 1})
	assert.True(t, responseContent(resp)["success"].(bool))

	rec, err := n.journal.GetFile("b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Size)
	assert.Equal(t, ChecksumBytes([]byte("hello")), rec.Checksum)

	text, err := n.vfs.ReadText("b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestApplyDeleteTombstonesAndRemovesFile(t *testing.T) {
	n := newTestNode(t, "node-a")
	n.handleCommand(Envelope{Type: typeCommand, Action: "write", Path: "b.txt", Content: "x", Origin: "node-a", Timestamp: 1})
	n.handleCommand(Envelope{Type: typeCommand, Action: "delete", Path: "b.txt", Origin: "node-a", Timestamp: 2})

	assert.False(t, n.vfs.Exists("b.txt"))
	rec, err := n.journal.GetFile("b.txt")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestApplyMkdirNested(t *testing.T) {
	n := newTestNode(t, "node-a")
	resp := n.handleCommand(Envelope{Type: typeCommand, Action: "mkdir", Path: "x/y/z", Origin: "node-a", Timestamp: 1})
	assert.True(t, responseContent(resp)["success"].(bool))
	assert.True(t, n.vfs.IsDir("x/y/z"))

	rec, err := n.journal.GetFile("x/y/z")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "mkdir", rec.OperationType)
}

func TestRemoteOriginDoesNotBroadcast(t *testing.T) {
	// A command with a foreign origin must still apply locally but must
	// not be broadcast (spec §8 "No replication loop"). An active peer
	// backed by a real listener is registered, so any fan-out attempt
	// would show up as an accepted connection.
	n := newTestNode(t, "node-a")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	n.registry.AddPeer("peer-b", "127.0.0.1", ln.Addr().(*net.TCPAddr).Port)

	accepted := make(chan struct{}, 1)
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
			accepted <- struct{}{}
		}
	}()

	resp := n.handleCommand(Envelope{Type: typeCommand, Action: "write", Path: "c.txt", Content: "y", Origin: "node-b", Timestamp: 1})
	assert.True(t, responseContent(resp)["success"].(bool))

	select {
	case <-accepted:
		t.Fatal("remote-origin command was broadcast to a peer")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestApplyListReturnsEntries(t *testing.T) {
	n := newTestNode(t, "node-a")
	n.handleCommand(Envelope{Type: typeCommand, Action: "create", Path: "a.txt", Origin: "node-a", Timestamp: 1})
	resp := n.handleCommand(Envelope{Type: typeCommand, Action: "list", Path: "", Origin: "node-a", Timestamp: 1})
	entries, ok := responseContent(resp)["entries"].([]DirEntry)
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)
}

func TestApplyPstreeBuildsTree(t *testing.T) {
	n := newTestNode(t, "node-a")
	n.handleCommand(Envelope{Type: typeCommand, Action: "write", Path: "a/b.txt", Content: "x", Origin: "node-a", Timestamp: 1})
	resp := n.handleCommand(Envelope{Type: typeCommand, Action: "pstree", Origin: "node-a", Timestamp: 1})
	assert.True(t, responseContent(resp)["success"].(bool))
	tree, ok := responseContent(resp)["tree"].(*treeNode)
	require.True(t, ok)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "a", tree.Children[0].Name)
}

func TestApplyNodestatsMirrorsHeartbeatShape(t *testing.T) {
	n := newTestNode(t, "node-a")
	resp := n.handleCommand(Envelope{Type: typeCommand, Action: "nodestats", Origin: "node-a", Timestamp: 1})
	content := responseContent(resp)
	assert.Contains(t, content, "journal_stats")
	assert.Contains(t, content, "vfs_stats")
	assert.Equal(t, "node-a", content["node_name"])
}

func TestApplyLoadbalWithoutSamplerErrors(t *testing.T) {
	n := newTestNode(t, "node-a")
	resp := n.handleCommand(Envelope{Type: typeCommand, Action: "loadbal", Origin: "node-a", Timestamp: 1})
	assert.Equal(t, "error", resp.Action)
}
