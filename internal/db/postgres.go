package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wuwenbin0122/mortgage-advisor/internal/utils"
)

// Pool is the subset of pgxpool.Pool used by the stores. pgxmock pools satisfy it too.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg utils.PostgresConfig) (*Postgres, error) {
	dsn := cfg.BuildDSN()
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Close() {
	if p == nil || p.Pool == nil {
		return
	}
	p.Pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.Pool.Ping(ctx)
}

// Unique constraints on the users table, named so violations can be told apart.
const (
	UsersUsernameConstraint = "users_username_key_unique"
	UsersEmailConstraint    = "users_email_key_unique"
)

// ConversationSchema creates the tables behind the conversation and user store.
var ConversationSchema = []string{
	strings.Join([]string{
		"CREATE TABLE IF NOT EXISTS conversations (",
		"    id TEXT PRIMARY KEY,",
		"    user_id TEXT NOT NULL DEFAULT '',",
		"    status TEXT NOT NULL DEFAULT 'in_progress',",
		"    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),",
		"    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()",
		")",
	}, "\n"),
	strings.Join([]string{
		"CREATE TABLE IF NOT EXISTS messages (",
		"    id BIGSERIAL PRIMARY KEY,",
		"    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,",
		"    role TEXT NOT NULL,",
		"    content TEXT NOT NULL,",
		"    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()",
		")",
	}, "\n"),
	strings.Join([]string{
		"CREATE TABLE IF NOT EXISTS user_inputs (",
		"    conversation_id TEXT PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,",
		"    annual_income DOUBLE PRECISION,",
		"    monthly_debt DOUBLE PRECISION,",
		"    credit_score_category TEXT,",
		"    property_value DOUBLE PRECISION,",
		"    down_payment DOUBLE PRECISION,",
		"    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()",
		")",
	}, "\n"),
	strings.Join([]string{
		"CREATE TABLE IF NOT EXISTS users (",
		"    id TEXT PRIMARY KEY,",
		"    username TEXT NOT NULL,",
		"    username_key TEXT NOT NULL,",
		"    email TEXT NOT NULL DEFAULT '',",
		"    email_key TEXT,",
		"    password_hash TEXT NOT NULL,",
		"    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),",
		"    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),",
		"    CONSTRAINT " + UsersUsernameConstraint + " UNIQUE (username_key),",
		"    CONSTRAINT " + UsersEmailConstraint + " UNIQUE (email_key)",
		")",
	}, "\n"),
	"CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages (conversation_id, id)",
	"CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations (user_id)",
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	for _, stmt := range ConversationSchema {
		if _, err := p.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}

	return nil
}
