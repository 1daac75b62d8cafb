package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'in_progress',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS user_inputs (
	conversation_id       TEXT PRIMARY KEY REFERENCES conversations(id),
	annual_income         REAL,
	monthly_debt          REAL,
	credit_score_category TEXT,
	property_value        REAL,
	down_payment          REAL,
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL,
	username_key  TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL DEFAULT '',
	email_key     TEXT UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id, id);
CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, string(models.StatusInProgress), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert conversation")
	}

	return &models.Conversation{
		ID:        id,
		UserID:    userID,
		Status:    models.StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, status, created_at, updated_at FROM conversations WHERE id = ?`,
		id,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get conversation %s", id)
	}
	return conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, status, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list conversations")
	}
	defer rows.Close()

	result := make([]models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conversation")
		}
		result = append(result, *conv)
	}
	return result, eris.Wrap(rows.Err(), "sqlite: list conversations iterate")
}

func (s *SQLiteStore) MarkCompleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		string(models.StatusCompleted), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete conversation %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, id string, role models.Role, content string) (*models.Message, error) {
	if err := s.ensureConversation(ctx, id); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		id, string(role), content, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert message for %s", id)
	}

	msgID, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: message id")
	}

	return &models.Message{
		ID:             msgID,
		ConversationID: id,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, id string) ([]models.Message, error) {
	if err := s.ensureConversation(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list messages for %s", id)
	}
	defer rows.Close()

	result := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan message")
		}
		msg.Role = models.Role(role)
		result = append(result, msg)
	}
	return result, eris.Wrap(rows.Err(), "sqlite: list messages iterate")
}

func (s *SQLiteStore) GetFieldSet(ctx context.Context, id string) (models.FieldSet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT annual_income, monthly_debt, credit_score_category, property_value, down_payment
		 FROM user_inputs WHERE conversation_id = ?`,
		id,
	)

	var income, debt, property, down sql.NullFloat64
	var tier sql.NullString
	err := row.Scan(&income, &debt, &tier, &property, &down)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FieldSet{}, nil
	}
	if err != nil {
		return models.FieldSet{}, eris.Wrapf(err, "sqlite: get user inputs %s", id)
	}

	fs := models.FieldSet{
		AnnualIncome:  nullFloat(income),
		MonthlyDebt:   nullFloat(debt),
		PropertyValue: nullFloat(property),
		DownPayment:   nullFloat(down),
	}
	if tier.Valid {
		ct := models.CreditTier(tier.String)
		fs.CreditTier = &ct
	}
	return fs, nil
}

func (s *SQLiteStore) SetField(ctx context.Context, id string, field models.Field, value models.FieldValue) error {
	arg, err := fieldArg(field, value)
	if err != nil {
		return err
	}
	if err := s.ensureConversation(ctx, id); err != nil {
		return err
	}

	// field is validated above, so the column name is one of the five known ones.
	query := fmt.Sprintf(
		`INSERT INTO user_inputs (conversation_id, %[1]s, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at`,
		string(field),
	)
	if _, err := s.db.ExecContext(ctx, query, id, arg, time.Now().UTC()); err != nil {
		return eris.Wrapf(err, "sqlite: set %s for %s", field, id)
	}
	return nil
}

func (s *SQLiteStore) ensureConversation(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return eris.Wrapf(err, "sqlite: lookup conversation %s", id)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConversation(row scannable) (*models.Conversation, error) {
	var conv models.Conversation
	var status string
	if err := row.Scan(&conv.ID, &conv.UserID, &status, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.Status = models.ConversationStatus(status)
	return &conv, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, username_key, email, email_key, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, userKey(user.Username), user.Email, emailKeyArg(user.Email),
		user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "users.username_key"):
		return ErrUsernameTaken
	case strings.Contains(msg, "users.email_key"):
		return ErrEmailTaken
	}
	return eris.Wrapf(err, "sqlite: insert user %s", user.Username)
}

func (s *SQLiteStore) FindUser(ctx context.Context, identifier string) (*models.User, error) {
	key := userKey(identifier)
	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at, updated_at FROM users
		 WHERE username_key = ? OR email_key = ?
		 ORDER BY CASE WHEN username_key = ? THEN 0 ELSE 1 END LIMIT 1`,
		key, key, key,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find user")
	}
	return &user, nil
}
