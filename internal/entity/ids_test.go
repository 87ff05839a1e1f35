package entity_test

import (
	"testing"

	"github.com/entityledger/core/internal/entity"
	"github.com/stretchr/testify/assert"
)

func TestExternalIDValid(t *testing.T) {
	tests := []struct {
		name string
		id   entity.ExternalID
		want bool
	}{
		{"item", "Q42", true},
		{"property", "P31", true},
		{"lexeme", "L7", true},
		{"leading zero", "Q042", false},
		{"zero", "Q0", false},
		{"lowercase", "q42", false},
		{"no digits", "Q", false},
		{"bad letter", "X42", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.id.Valid())
		})
	}
}

func TestExternalIDType(t *testing.T) {
	typ, ok := entity.ExternalID("Q5").Type()
	assert.True(t, ok)
	assert.Equal(t, entity.TypeItem, typ)

	typ, ok = entity.ExternalID("P5").Type()
	assert.True(t, ok)
	assert.Equal(t, entity.TypeProperty, typ)

	_, ok = entity.ExternalID("").Type()
	assert.False(t, ok)
}

func TestSnapshotURI(t *testing.T) {
	got := entity.SnapshotURI("Q42", 7)
	assert.Equal(t, "Q42/r7.json", got)
}

func TestParseSnapshotURIRoundTrips(t *testing.T) {
	uri := entity.SnapshotURI("Q42", 7)
	ext, rev, ok := entity.ParseSnapshotURI(uri)
	assert.True(t, ok)
	assert.Equal(t, entity.ExternalID("Q42"), ext)
	assert.Equal(t, entity.RevisionID(7), rev)
}

func TestParseSnapshotURIRejectsMalformed(t *testing.T) {
	_, _, ok := entity.ParseSnapshotURI("not-a-uri")
	assert.False(t, ok)

	_, _, ok = entity.ParseSnapshotURI("Q42/x7.json")
	assert.False(t, ok)
}
