package auditlog

import (
	"context"
	"errors"
	"fmt"

	"replyguard/config"
	"replyguard/internal/storage"
)

// Result holds the audit writer and the storage connection behind it.
// The caller must call Close during shutdown.
type Result struct {
	Logger  Writer
	Storage storage.Storage
}

// Close closes the logger, then the storage. Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.Storage = nil
	}
	return errors.Join(errs...)
}

// New creates the audit writer described by cfg. When auditing is
// disabled it returns a NoopLogger and no storage.
func New(ctx context.Context, cfg config.AuditConfig) (*Result, error) {
	if !cfg.Enabled {
		return &Result{Logger: NoopLogger{}}, nil
	}

	store, err := storage.New(ctx, buildStorageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	logStore, err := createLogStore(ctx, store, cfg.RetentionDays)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Result{
		Logger: NewLogger(logStore, Config{
			Enabled:       true,
			BufferSize:    cfg.BufferSize,
			FlushInterval: cfg.FlushInterval,
			RetentionDays: cfg.RetentionDays,
		}),
		Storage: store,
	}, nil
}

func buildStorageConfig(cfg config.AuditConfig) storage.Config {
	storageCfg := storage.DefaultConfig()
	if cfg.StorageType != "" {
		storageCfg.Type = cfg.StorageType
	}
	if cfg.SQLitePath != "" {
		storageCfg.SQLite.Path = cfg.SQLitePath
	}
	storageCfg.PostgreSQL.URL = cfg.PostgresURL
	if cfg.PostgresMaxConns > 0 {
		storageCfg.PostgreSQL.MaxConns = cfg.PostgresMaxConns
	}
	storageCfg.MongoDB.URL = cfg.MongoDBURL
	if cfg.MongoDBDatabase != "" {
		storageCfg.MongoDB.Database = cfg.MongoDBDatabase
	}
	return storageCfg
}

func createLogStore(ctx context.Context, store storage.Storage, retentionDays int) (LogStore, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), retentionDays)
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, store.PostgreSQLPool(), retentionDays)
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, store.MongoDatabase(), retentionDays)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
