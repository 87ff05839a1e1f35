package testutil_test

import (
	"context"
	"testing"
	"time"

	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/testutil"
	"github.com/entityledger/core/internal/writepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := testutil.NewClock(start)
	assert.Equal(t, start, c.Now())

	advanced := c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), advanced)
	assert.Equal(t, start.Add(time.Hour), c.Now())

	pinned := start.Add(24 * time.Hour)
	c.Set(pinned)
	assert.Equal(t, pinned, c.Now())
}

func TestNewHarnessWiresAFunctioningStack(t *testing.T) {
	h, err := testutil.NewHarness(128, time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	res, err := h.Pipeline.Write(ctx, writepipeline.Request{
		External:   "Q1",
		EntityType: entity.TypeItem,
		Body:       entity.Body{ID: "Q1", Type: entity.TypeItem, Labels: map[string]string{"en": "test"}},
		EditType:   "edit",
		Author:     "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.RevisionID(1), res.Revision)

	head, snapshot, err := h.Reader.GetEntity(ctx, "Q1", false)
	require.NoError(t, err)
	assert.Equal(t, entity.RevisionID(1), head.CurrentRevision)
	assert.Equal(t, "test", snapshot.Entity.Labels["en"])

	report, err := h.Reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.HeadsAdvanced, "nothing should be lagging on a freshly wired stack")
}
