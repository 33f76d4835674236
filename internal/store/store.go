// store.go opens the relational store every process shares.
//
// All MCP tool handlers and queue workers read and write tasks through this
// store. There is no in-memory registry: each status change is a conditional
// UPDATE, so concurrent processes agree on who owns a task without a lock.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/AaronKronberg/OpusPipeline/internal/knowledge"
	"github.com/AaronKronberg/OpusPipeline/internal/prompt"
	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

// Store wraps the gorm handle shared by the task, template and execution
// tables.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at path. Writes are serialised through
// one connection; other processes wait on the busy timeout.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.New(zap.NewStdLog(log.Named("gorm")), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return New(db), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for packages that own their own tables.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates or upgrades every table.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&task.CodeDiffTask{},
		&task.RequirementTask{},
		&task.PipelineTask{},
		&task.Execution{},
		&prompt.Template{},
		&knowledge.Base{},
		&knowledge.Document{},
	)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func notFound(kind task.Kind, id string) error {
	return fmt.Errorf("%w: %s task %s", task.ErrNotFound, kind, id)
}
