// Package backup snapshots the operation journal to disk.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/jonboulle/clockwork"

	"github.com/AvaProtocol/ap-userop/pkg/logger"
	"github.com/AvaProtocol/ap-userop/storage"
)

const (
	dirLayout = "06-01-02-15-04"
	fileName  = "journal.backup"
)

type Service struct {
	logger    sdklogging.Logger
	db        storage.Storage
	clock     clockwork.Clock
	backupDir string
	create    func(name string) (io.WriteCloser, error)

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewService(log sdklogging.Logger, db storage.Storage, backupDir string, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		logger:    logger.EnsureLogger(log),
		db:        db,
		clock:     clock,
		backupDir: backupDir,
		create: func(name string) (io.WriteCloser, error) {
			return os.Create(name)
		},
	}
}

// StartPeriodicBackup writes a backup every interval until StopPeriodicBackup.
func (s *Service) StartPeriodicBackup(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("backup interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("backup service already running")
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(interval, s.stop, s.done)

	s.logger.Info("started periodic journal backup", "interval", interval, "dir", s.backupDir)
	return nil
}

func (s *Service) StopPeriodicBackup() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("stopped periodic journal backup")
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) loop(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if path, err := s.PerformBackup(context.Background()); err != nil {
				s.logger.Error("periodic journal backup failed", "error", err)
			} else {
				s.logger.Info("periodic journal backup written", "file", path)
			}
		case <-stop:
			return
		}
	}
}

// PerformBackup writes a full backup under a directory named after the current minute
// and returns the file path.
func (s *Service) PerformBackup(ctx context.Context) (string, error) {
	dir := filepath.Join(s.backupDir, s.clock.Now().Format(dirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup timestamp directory: %w", err)
	}

	path := filepath.Join(dir, fileName)
	f, err := s.create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}

	if _, err := s.db.Backup(ctx, f, 0); err != nil {
		f.Close()
		return "", fmt.Errorf("backup operation failed: %w", err)
	}
	// a failed close can leave a truncated file behind
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to finish backup file: %w", err)
	}
	return path, nil
}

// Restore loads a file written by PerformBackup into db.
func Restore(ctx context.Context, db storage.Storage, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	if err := db.Load(ctx, f); err != nil {
		return fmt.Errorf("restore operation failed: %w", err)
	}
	return nil
}
