package migrator

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-userop/core/backup"
	"github.com/AvaProtocol/ap-userop/core/testutil"
	"github.com/AvaProtocol/ap-userop/storage"
)

func TestMigratorRunsPendingOnce(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	backupDir := t.TempDir()
	calls := 0
	m := NewMigrator(db, backup.NewService(testutil.GetLogger(), db, backupDir, nil), nil, testutil.GetLogger())
	m.Register("20260101-000000-test", func(db storage.Storage) (int, error) {
		calls++
		return 5, db.Set([]byte("test:key"), []byte("migrated"))
	})

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 1, calls)

	marker, err := db.GetKey([]byte("migration:20260101-000000-test"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(marker), "records=5,ts="), string(marker))

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestMigratorStopsOnFailure(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	m := NewMigrator(db, nil, []Migration{
		{Name: "a", Function: func(storage.Storage) (int, error) { return 0, errors.New("boom") }},
		{Name: "b", Function: func(storage.Storage) (int, error) { return 0, nil }},
	}, nil)

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration a failed")

	for _, name := range []string{"a", "b"} {
		ok, err := db.Exist([]byte("migration:" + name))
		require.NoError(t, err)
		assert.False(t, ok, name)
	}
}

type vacuumCounter struct {
	storage.Storage
	vacuums int
}

func (v *vacuumCounter) Vacuum() error {
	v.vacuums++
	return v.Storage.Vacuum()
}

func TestMigratorVacuumsOnlyAfterMigrating(t *testing.T) {
	db := &vacuumCounter{Storage: testutil.TestMustDB()}
	defer db.Close()

	m := NewMigrator(db, nil, []Migration{
		{Name: "a", Function: func(storage.Storage) (int, error) { return 1, nil }},
	}, nil)

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 1, db.vacuums)

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 1, db.vacuums)
}
