package gem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	source := NewMemorySource(Record{"id": 2, "name": "ada"}, Record{"name": "skipped"})
	assert.Equal(t, 1, source.Len())

	rec, found, err := source.Fetch(ctx, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ada", rec["name"])

	// fetched records are copies
	rec["name"] = "mutated"
	stored, _ := source.Record(2)
	assert.Equal(t, "ada", stored["name"])

	_, found, err = source.Fetch(ctx, 3)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, source.FetchCount(3))
	assert.Equal(t, 2, source.TotalFetches())

	id, err := source.Insert(ctx, Record{"name": "grace"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	id, err = source.Insert(ctx, Record{"id": 10, "name": "eve"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)

	_, err = source.Insert(ctx, Record{"id": 10})
	assert.True(t, IsDuplicate(err))

	require.NoError(t, source.Update(ctx, 3, Record{"name": "hopper"}))
	stored, _ = source.Record(3)
	assert.Equal(t, Record{"id": int64(3), "name": "hopper"}, stored)

	assert.True(t, IsNotFound(source.Update(ctx, 99, Record{})))
	assert.True(t, IsNotFound(source.Delete(ctx, 99)))
	require.NoError(t, source.Delete(ctx, 3))
	assert.Equal(t, 2, source.Len())
}

func TestMemorySourceFailWith(t *testing.T) {
	ctx := context.Background()
	source := NewMemorySource(Record{"id": 1})
	boom := errors.New("offline")
	source.FailWith(boom)

	_, _, err := source.Fetch(ctx, 1)
	assert.ErrorIs(t, err, boom)
	_, err = source.Insert(ctx, Record{})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, source.Update(ctx, 1, Record{}), boom)
	assert.ErrorIs(t, source.Delete(ctx, 1), boom)

	source.FailWith(nil)
	_, found, err := source.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)

	assert.NoError(t, source.Health())
	assert.NoError(t, source.Close())
}
