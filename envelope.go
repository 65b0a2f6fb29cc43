package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Envelope is the single wire message record (spec §3, §6).
type Envelope struct {
	Type      string  `json:"type"`
	Action    string  `json:"action"`
	Path      string  `json:"path"`
	Content   any     `json:"content,omitempty"`
	Origin    string  `json:"origin"`
	Timestamp float64 `json:"timestamp"`
	Sequence  int64   `json:"sequence,omitempty"`
	Checksum  string  `json:"checksum,omitempty"`
}

const (
	typeCommand   = "command"
	typeSync      = "sync"
	typeHeartbeat = "heartbeat"
	typeDiscovery = "discovery"
	typeResponse  = "response"
)

var validTypes = map[string]bool{
	typeCommand:   true,
	typeSync:      true,
	typeHeartbeat: true,
	typeDiscovery: true,
	typeResponse:  true,
}

var validActions = map[string]bool{
	"create":         true,
	"read":           true,
	"write":          true,
	"delete":         true,
	"mkdir":          true,
	"list":           true,
	"sync_file":      true,
	"sync_metadata":  true,
	"request_sync":   true,
	"request_file":   true,
	"ping":           true,
	"pong":           true,
	"announce":       true,
	"nodestats":      true,
	"pstree":         true,
	"history":        true,
	"loadbal":        true,
	"error":          true,
}

// canonicalBody marshals every envelope field except checksum as compact
// JSON with lexicographically sorted keys, matching spec §4.1 step 2.
// Content, timestamp and sequence are left out when they hold their zero
// value.
func canonicalBody(e Envelope) ([]byte, error) {
	m := map[string]any{
		"type":   e.Type,
		"action": e.Action,
		"path":   e.Path,
		"origin": e.Origin,
	}
	if e.Content != nil {
		m["content"] = e.Content
	}
	if e.Timestamp != 0 {
		m["timestamp"] = e.Timestamp
	}
	if e.Sequence != 0 {
		m["sequence"] = e.Sequence
	}
	return marshalSorted(m)
}

// marshalSorted produces compact JSON with keys in sorted order. encoding/json
// already sorts map[string]any keys during marshal, but we make the
// requirement explicit (and resilient to future encoder changes) by building
// the key order ourselves, the way the teacher's FileManifest.body() pins a
// field order before hashing.
func marshalSorted(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// checksumOf computes the 16-hex-character prefix of SHA-256 over the
// canonical JSON of e (checksum field excluded), per spec §3/§6.
func checksumOf(e Envelope) (string, error) {
	body, err := canonicalBody(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Seal computes and assigns e.Checksum, returning the sealed envelope.
func Seal(e Envelope) (Envelope, error) {
	sum, err := checksumOf(e)
	if err != nil {
		return e, err
	}
	e.Checksum = sum
	return e, nil
}

// EncodeEnvelope marshals a fully-sealed envelope to JSON bytes.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

var errIntegrity = errors.New("integrity: checksum mismatch")

// DecodeEnvelope parses JSON bytes into an Envelope and verifies its
// checksum. A missing checksum is tolerated (legacy messages, spec §4.1);
// a present-but-mismatched checksum fails with errIntegrity.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	want := e.Checksum
	e.Checksum = ""
	if want == "" {
		return e, nil
	}
	got, err := checksumOf(e)
	if err != nil {
		return Envelope{}, err
	}
	if got != want {
		return Envelope{}, errIntegrity
	}
	e.Checksum = want
	return e, nil
}

// Validate checks the structural rules of spec §4.1.
func (e Envelope) Validate() error {
	if !validTypes[e.Type] {
		return fmt.Errorf("validation: unknown type %q", e.Type)
	}
	if !validActions[e.Action] {
		return fmt.Errorf("validation: unknown action %q", e.Action)
	}
	if e.Origin == "" {
		return errors.New("validation: missing origin")
	}
	if e.Timestamp <= 0 {
		return errors.New("validation: non-positive timestamp")
	}
	return nil
}
