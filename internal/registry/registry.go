// Package registry stores registered identities and their last published
// location. Every backend gives the same guarantees: Create never
// overwrites, Update never creates, and Update is atomic per identity.
package registry

import (
	"context"
	"errors"
	"fmt"

	"lan_presence/internal/dataType"

	"go.uber.org/zap"
)

var (
	ErrAlreadyExists = errors.New("registry: identity already exists")
	ErrNotFound      = errors.New("registry: identity not found")
)

const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Registry is the durable identity store.
type Registry interface {
	// Create stores a fresh record for identity with zero presence fields.
	Create(ctx context.Context, identity string) (dataType.IdentityRecord, error)
	Get(ctx context.Context, identity string) (dataType.IdentityRecord, error)
	// Update replaces the presence fields of an existing record and returns
	// the stored result.
	Update(ctx context.Context, identity string, p dataType.Presence) (dataType.IdentityRecord, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend  string `yaml:"backend" validate:"oneof=memory leveldb postgres redis"`
	Path     string `yaml:"path" validate:"required_if=Backend leveldb"`
	DSN      string `yaml:"dsn" validate:"required_if=Backend postgres"`
	RedisURL string `yaml:"redis_url" validate:"required_if=Backend redis"`
}

// Open returns the backend named by cfg.Backend, ready for use.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		r   Registry
		err error
	)
	switch cfg.Backend {
	case "", BackendMemory:
		r = NewMemory()
	case BackendLevelDB:
		r, err = OpenLevelDB(cfg.Path)
	case BackendPostgres:
		r, err = OpenPostgres(ctx, cfg.DSN)
	case BackendRedis:
		r, err = OpenRedis(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("registry: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("registry opened", zap.String("backend", cfg.Backend))
	return r, nil
}

func newRecord(identity string) dataType.IdentityRecord {
	return dataType.IdentityRecord{Identity: identity}
}
