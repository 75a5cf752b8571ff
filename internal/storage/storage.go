package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/kwic/internal/config"
	"github.com/knowledge-engine/kwic/internal/session"
)

// ErrSessionNotFound is returned when a session is missing or has expired.
var ErrSessionNotFound = errors.New("session not found")

// SessionStorage persists session snapshots keyed by their token
type SessionStorage interface {
	Save(ctx context.Context, s *session.Session) error
	Get(ctx context.Context, id string) (*session.Session, error)
	Delete(ctx context.Context, id string) error
	// Sweep removes sessions expired at now and reports how many were dropped.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) (int, error)
	Name() string
	Close() error
}

// New opens the backend selected in cfg
func New(cfg config.StorageConfig, logger *logrus.Entry) (SessionStorage, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.DataDir)
	case "bolt":
		return NewBoltStorage(cfg.BoltPath)
	case "redis":
		return NewRedisStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
