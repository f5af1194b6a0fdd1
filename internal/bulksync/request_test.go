package bulksync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestNormalizes(t *testing.T) {
	req, err := NewRequest(EntityMovie, []int64{5, 3, 5, 1, 3}, "  key-1 ", 0)
	require.NoError(t, err)

	assert.Equal(t, []int64{5, 3, 1}, req.EntityIDs)
	assert.Equal(t, "key-1", req.ProgressKey)
	assert.Equal(t, DefaultBatchSize, req.BatchSize)
}

func TestNewRequestRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name       string
		entityType EntityType
		ids        []int64
		key        string
		batchSize  int
	}{
		{"unknown type", EntityType("books"), []int64{1}, "k", 5},
		{"missing key", EntityMovie, []int64{1}, " ", 5},
		{"negative batch", EntitySeries, []int64{1}, "k", -1},
		{"zero id", EntityMovie, []int64{1, 0}, "k", 5},
		{"negative id", EntityGeneric, []int64{-4}, "k", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequest(tt.entityType, tt.ids, tt.key, tt.batchSize)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestNewRequestAllowsEmptyIDs(t *testing.T) {
	req, err := NewRequest(EntitySeries, nil, "k", 3)
	require.NoError(t, err)
	assert.Empty(t, req.EntityIDs)
}

func TestParseEntityType(t *testing.T) {
	for in, want := range map[string]EntityType{
		"movie": EntityMovie, "Movies": EntityMovie,
		"series": EntitySeries, "tv": EntitySeries,
		"generic-bulk": EntityGeneric, "bulk": EntityGeneric,
	} {
		got, err := ParseEntityType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEntityType("episode")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
