package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, name string) *Node {
	t.Helper()
	vfs, err := NewVFS(t.TempDir())
	require.NoError(t, err)
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "meshnode.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	cfg := defaultConfig()
	cfg.Node.Name = name
	return NewNode(cfg, name, vfs, journal, NewPeerRegistry(), nil)
}

func responseContent(env Envelope) map[string]any {
	m, _ := env.Content.(map[string]any)
	return m
}
