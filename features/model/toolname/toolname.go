// Package toolname maps runtime tool names such as "fs.read" to the names
// model providers accept. Providers restrict tool names to [a-zA-Z0-9_-] and
// at most 64 bytes; the mapping is deterministic and reversible per request.
package toolname

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"goa.design/agentkernel/runtime/agent"
)

const (
	maxLen  = 64
	hashLen = 8
)

// Map translates tool names for one request.
type Map struct {
	toProvider  map[string]string
	toCanonical map[string]string
}

// New builds the mapping for specs. It fails when two tools sanitize to the
// same provider name.
func New(specs []agent.ToolSpec) (*Map, error) {
	m := &Map{
		toProvider:  make(map[string]string, len(specs)),
		toCanonical: make(map[string]string, len(specs)),
	}
	for _, s := range specs {
		p := Sanitize(s.Name)
		if prev, ok := m.toCanonical[p]; ok && prev != s.Name {
			return nil, fmt.Errorf("tool name %q sanitizes to %q which collides with %q", s.Name, p, prev)
		}
		m.toProvider[s.Name] = p
		m.toCanonical[p] = s.Name
	}
	return m, nil
}

// Provider returns the provider name for a runtime tool name. Unknown names,
// for example tools referenced by older history, are sanitized on the fly.
func (m *Map) Provider(name string) string {
	if p, ok := m.toProvider[name]; ok {
		return p
	}
	return Sanitize(name)
}

// Canonical returns the runtime name for a provider tool name. Names the
// model invented are returned unchanged so the tool layer reports them as
// unknown.
func (m *Map) Canonical(name string) string {
	if c, ok := m.toCanonical[name]; ok {
		return c
	}
	return name
}

// Sanitize maps name to the provider alphabet. Dots become underscores, other
// disallowed runes become underscores, and names over 64 bytes are truncated
// with a stable hash suffix.
func Sanitize(name string) string {
	if name == "" {
		return ""
	}
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(name))
	return sanitized[:maxLen-1-hashLen] + "_" + hex.EncodeToString(sum[:])[:hashLen]
}
