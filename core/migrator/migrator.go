package migrator

import (
	"context"
	"fmt"
	"sync"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/jonboulle/clockwork"

	"github.com/AvaProtocol/ap-userop/core/backup"
	"github.com/AvaProtocol/ap-userop/pkg/logger"
	"github.com/AvaProtocol/ap-userop/storage"
)

// MigrationFunc performs one journal migration and returns the number of records it touched.
type MigrationFunc func(db storage.Storage) (int, error)

type Migration struct {
	Name     string
	Function MigrationFunc
}

// Migrator applies journal migrations once each, in registration order.
type Migrator struct {
	db         storage.Storage
	migrations []Migration
	// nil skips the backup taken before pending migrations
	backup *backup.Service
	clock  clockwork.Clock
	logger sdklogging.Logger
	mu     sync.Mutex
}

func NewMigrator(db storage.Storage, backup *backup.Service, migrations []Migration, log sdklogging.Logger) *Migrator {
	return &Migrator{
		db:         db,
		migrations: append([]Migration(nil), migrations...),
		backup:     backup,
		clock:      clockwork.NewRealClock(),
		logger:     logger.EnsureLogger(log),
	}
}

// Register adds a new migration to the list
func (m *Migrator) Register(name string, fn MigrationFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.migrations = append(m.migrations, Migration{
		Name:     name,
		Function: fn,
	})
}

func migrationKey(name string) []byte {
	return []byte(fmt.Sprintf("migration:%s", name))
}

func (m *Migrator) applied(name string) (bool, error) {
	return m.db.Exist(migrationKey(name))
}

// Run executes every registered migration that has not been applied yet. A backup is
// written first when anything is pending.
func (m *Migrator) Run(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []Migration
	for _, migration := range m.migrations {
		done, err := m.applied(migration.Name)
		if err != nil {
			return fmt.Errorf("cannot read migration state of %s: %w", migration.Name, err)
		}
		if !done {
			pending = append(pending, migration)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if m.backup != nil {
		m.logger.Info("pending journal migrations found, creating backup first", "pending", len(pending))
		file, err := m.backup.PerformBackup(ctx)
		if err != nil {
			return fmt.Errorf("failed to create backup before migrations: %w", err)
		}
		m.logger.Info("journal backup created", "file", file)
	}

	for _, migration := range pending {
		m.logger.Info("running journal migration", "name", migration.Name)
		records, err := migration.Function(m.db)
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.Name, err)
		}
		m.logger.Info("journal migration completed", "name", migration.Name, "records", records)

		marker := fmt.Sprintf("records=%d,ts=%d", records, m.clock.Now().UnixMilli())
		if err := m.db.Set(migrationKey(migration.Name), []byte(marker)); err != nil {
			return fmt.Errorf("failed to mark migration as complete in database: %w", err)
		}
	}

	// migrations rewrite records, give the value log space back
	if err := m.db.Vacuum(); err != nil {
		m.logger.Warn("journal vacuum after migrations failed", "error", err)
	}
	return nil
}
