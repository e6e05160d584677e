package id

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDMonotonic(t *testing.T) {
	ids := NewULIDGenerator().GenerateN(500)
	require.Len(t, ids, 500)
	assert.True(t, sort.StringsAreSorted(ids))
	for _, v := range ids {
		assert.True(t, IsULID(v))
	}
}

func TestNewByType(t *testing.T) {
	_, err := uuid.Parse(New(TypeUUID))
	assert.NoError(t, err)
	assert.True(t, IsULID(New(TypeULID)))
	assert.False(t, IsULID(NewUUID()))
}
