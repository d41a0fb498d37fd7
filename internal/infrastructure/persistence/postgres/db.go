package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stratumsec/tokend/internal/config"
	"github.com/stratumsec/tokend/pkg/errors"
)

// NewPgxPool opens the pgx connection pool used by the token and
// revocation repositories.
func NewPgxPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, errors.ErrStorage.WithCause(err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime) * time.Minute
	poolCfg.MaxConnIdleTime = time.Duration(cfg.MaxConnIdleTime) * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.ErrStorage.WithCause(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.ErrStorage.WithCause(err)
	}
	return pool, nil
}

// NewGormDB opens the gorm handle used by the signing-key store.
func NewGormDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(gormpostgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.ErrStorage.WithCause(err)
	}
	return db, nil
}

// Schema DDL applied by migrations. Kept here so the repositories and
// their tables evolve together.
const SchemaDDL = `
CREATE TABLE IF NOT EXISTS signing_keys (
    kid                   TEXT PRIMARY KEY,
    public_key_pem        TEXT NOT NULL,
    encrypted_private_key TEXT NOT NULL,
    algorithm             TEXT NOT NULL,
    active                BOOLEAN NOT NULL DEFAULT FALSE,
    created_at            TIMESTAMPTZ NOT NULL,
    expires_at            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signing_keys_active ON signing_keys (active);
CREATE INDEX IF NOT EXISTS idx_signing_keys_expires_at ON signing_keys (expires_at);

CREATE TABLE IF NOT EXISTS issued_tokens (
    token_id          TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    client_id         TEXT NOT NULL,
    token_type        TEXT NOT NULL,
    scopes            TEXT[] NOT NULL DEFAULT '{}',
    signing_key_id    TEXT NOT NULL,
    issued_at         TIMESTAMPTZ NOT NULL,
    expires_at        TIMESTAMPTZ NOT NULL,
    revoked           BOOLEAN NOT NULL DEFAULT FALSE,
    revoked_at        TIMESTAMPTZ,
    revocation_reason TEXT,
    last_used_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_issued_tokens_user ON issued_tokens (user_id) WHERE NOT revoked;
CREATE INDEX IF NOT EXISTS idx_issued_tokens_expires_at ON issued_tokens (expires_at);

CREATE TABLE IF NOT EXISTS revocation_entries (
    token_id   TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    token_type TEXT NOT NULL,
    revoked_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    reason     TEXT NOT NULL,
    revoked_by TEXT
);
CREATE INDEX IF NOT EXISTS idx_revocation_entries_expires_at ON revocation_entries (expires_at);
`

// Migrate applies the schema DDL.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, SchemaDDL); err != nil {
		return errors.ErrStorage.WithCause(err)
	}
	return nil
}
