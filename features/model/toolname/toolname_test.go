package toolname

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentkernel/runtime/agent"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"echo":        "echo",
		"fs.read":     "fs_read",
		"coord.claim": "coord_claim",
		"a b/c":       "a_b_c",
		"ok-name_1":   "ok-name_1",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), in)
	}

	long := strings.Repeat("x", 80)
	got := Sanitize(long)
	assert.Len(t, got, 64)
	assert.Equal(t, got, Sanitize(long))
	assert.NotEqual(t, got, Sanitize(long+"y"))
}

func TestMapRoundTrip(t *testing.T) {
	m, err := New([]agent.ToolSpec{{Name: "fs.read"}, {Name: "clock.now"}})
	require.NoError(t, err)
	assert.Equal(t, "fs_read", m.Provider("fs.read"))
	assert.Equal(t, "fs.read", m.Canonical("fs_read"))
	assert.Equal(t, "clock.now", m.Canonical(m.Provider("clock.now")))
	assert.Equal(t, "made_up", m.Canonical("made_up"))
	assert.Equal(t, "old_tool", m.Provider("old.tool"))
}

func TestMapCollision(t *testing.T) {
	_, err := New([]agent.ToolSpec{{Name: "fs.read"}, {Name: "fs_read"}})
	require.Error(t, err)
}
