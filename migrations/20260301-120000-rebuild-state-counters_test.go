package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-userop/core/testutil"
	"github.com/AvaProtocol/ap-userop/model"
	"github.com/AvaProtocol/ap-userop/storage/schema"
)

func TestRebuildStateCounters(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	ops := []*model.Operation{
		{ID: "01A", State: model.OperationConfirmed},
		{ID: "01B", State: model.OperationConfirmed},
		{ID: "01C", State: model.OperationReverted},
		{ID: "01D", State: model.OperationTimedOut},
	}
	for _, op := range ops {
		body, err := op.ToJSON()
		require.NoError(t, err)
		require.NoError(t, db.Set(schema.OperationKey(op.ID), body))
	}
	require.NoError(t, db.Set(schema.OperationKey("bad"), []byte("{not json")))
	// stale value from before
	require.NoError(t, db.Set(schema.StateCounterKey("confirmed"), []byte("40")))

	n, err := RebuildStateCounters(db)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	get := func(state model.OperationState) uint64 {
		v, err := db.GetCounter(schema.StateCounterKey(string(state)), 0)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, uint64(2), get(model.OperationConfirmed))
	assert.Equal(t, uint64(1), get(model.OperationReverted))
	assert.Equal(t, uint64(0), get(model.OperationFailed))

	ok, err := db.Exist(schema.StateCounterKey(string(model.OperationTimedOut)))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrationsAreNamedChronologically(t *testing.T) {
	for i := 1; i < len(Migrations); i++ {
		assert.Less(t, Migrations[i-1].Name, Migrations[i].Name)
	}
	assert.NotEmpty(t, Migrations)
}
