package filesink_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/eventsink/filesink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.jsonl")
	s, err := filesink.New(path)
	require.NoError(t, err)

	ctx := context.Background()
	s.Publish(ctx, entity.ChangeEvent{External: "Q1", Revision: 1, Kind: entity.ChangeCreate})
	s.Publish(ctx, entity.ChangeEvent{External: "Q1", Revision: 2, Kind: entity.ChangeEdit})

	events, err := filesink.Replay(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, entity.RevisionID(1), events[0].Revision)
	assert.Equal(t, entity.ChangeEdit, events[1].Kind)
}

func TestReplayMissingFileReturnsEmpty(t *testing.T) {
	events, err := filesink.Replay(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, events)
}
