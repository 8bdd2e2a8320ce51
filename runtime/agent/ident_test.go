package agent

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntentIDOrdering(t *testing.T) {
	ids := []IntentID{{Step: 2, Index: 0}, {Step: 1, Index: 3}, {Step: 1, Index: 0}, {Step: 2, Index: 1}}
	slices.SortFunc(ids, IntentID.Compare)
	require.Equal(t, []IntentID{{1, 0}, {1, 3}, {2, 0}, {2, 1}}, ids)
	require.True(t, IntentID{}.IsZero())
	require.False(t, IntentID{Step: 1}.IsZero())
}

func TestIntentIDText(t *testing.T) {
	id := IntentID{Step: 12, Index: 4}
	require.Equal(t, "12.4", id.String())

	parsed, err := ParseIntentID("12.4")
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	for _, bad := range []string{"", "12", "a.1", "1.b", "1.99999999999"} {
		_, err := ParseIntentID(bad)
		require.Error(t, err, bad)
	}
}

func TestIntentIDJSONMapKey(t *testing.T) {
	in := map[IntentID]string{{Step: 1, Index: 0}: "a", {Step: 3, Index: 2}: "b"}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"1.0":"a","3.2":"b"}`, string(b))

	var out map[IntentID]string
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, in, out)
}

func TestHaltReasonString(t *testing.T) {
	require.Equal(t, "completed: done", HaltReason{Kind: HaltCompleted, Message: "done"}.String())
	require.Equal(t, "budget_exceeded(steps)", HaltReason{Kind: HaltBudgetExceeded, Budget: "steps"}.String())
	require.True(t, Grant().Granted)
	require.Equal(t, Decision{Reason: "unsafe"}, Deny("unsafe"))
}
