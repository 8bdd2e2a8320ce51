package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/runlog"
)

func TestStoreAppendAndList(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for i := range 3 {
		err := s.Append(ctx, &runlog.Record{
			SessionID: "sess-1",
			Step:      uint64(i + 1),
			Envelopes: []event.Envelope{event.NewEnvelope("sess-1", event.SourceUser, 1, event.Tick{})},
			Timestamp: time.Unix(int64(i+1), 0).UTC(),
		})
		require.NoError(t, err)
	}

	page1, err := s.List(ctx, "sess-1", "", 2)
	require.NoError(t, err)
	require.Len(t, page1.Records, 2)
	require.Equal(t, "1", page1.Records[0].ID)
	require.Equal(t, "2", page1.Records[1].ID)
	require.Equal(t, "2", page1.NextCursor)

	page2, err := s.List(ctx, "sess-1", page1.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Records, 1)
	require.Equal(t, "3", page2.Records[0].ID)
	require.Empty(t, page2.NextCursor)

	empty, err := s.List(ctx, "other", "", 2)
	require.NoError(t, err)
	require.Empty(t, empty.Records)
}

func TestStoreValidation(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.Error(t, s.Append(ctx, nil))
	require.Error(t, s.Append(ctx, &runlog.Record{}))

	_, err := s.List(ctx, "", "", 10)
	require.Error(t, err)
	_, err = s.List(ctx, "sess-1", "", 0)
	require.Error(t, err)
	_, err = s.List(ctx, "sess-1", "not-an-int", 10)
	require.Error(t, err)
}
