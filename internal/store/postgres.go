package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/wuwenbin0122/mortgage-advisor/internal/db"
	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
)

const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgresStore wraps an established connection. Closing the store closes pg.
func NewPostgresStore(pg *db.Postgres) *PostgresStore {
	return &PostgresStore{pool: pg.Pool, closeFn: pg.Close}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range db.ConversationSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "postgres: migrate")
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, userID, string(models.StatusInProgress), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert conversation")
	}

	return &models.Conversation{
		ID:        id,
		UserID:    userID,
		Status:    models.StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, status, created_at, updated_at FROM conversations WHERE id = $1`,
		id,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get conversation %s", id)
	}
	return conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, status, created_at, updated_at FROM conversations WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list conversations")
	}
	defer rows.Close()

	result := make([]models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan conversation")
		}
		result = append(result, *conv)
	}
	return result, eris.Wrap(rows.Err(), "postgres: list conversations iterate")
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $1, updated_at = $2 WHERE id = $3`,
		string(models.StatusCompleted), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete conversation %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, id string, role models.Role, content string) (*models.Message, error) {
	msg := models.Message{
		ConversationID: id,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		id, string(role), content, msg.CreatedAt,
	).Scan(&msg.ID)
	if isForeignKeyViolation(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert message for %s", id)
	}
	return &msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, id string) ([]models.Message, error) {
	var exists int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM conversations WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: check conversation %s", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list messages for %s", id)
	}
	defer rows.Close()

	result := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan message")
		}
		msg.Role = models.Role(role)
		result = append(result, msg)
	}
	return result, eris.Wrap(rows.Err(), "postgres: list messages iterate")
}

func (s *PostgresStore) GetFieldSet(ctx context.Context, id string) (models.FieldSet, error) {
	var fs models.FieldSet
	var tier *string
	err := s.pool.QueryRow(ctx,
		`SELECT annual_income, monthly_debt, credit_score_category, property_value, down_payment
		 FROM user_inputs WHERE conversation_id = $1`,
		id,
	).Scan(&fs.AnnualIncome, &fs.MonthlyDebt, &tier, &fs.PropertyValue, &fs.DownPayment)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.FieldSet{}, nil
	}
	if err != nil {
		return models.FieldSet{}, eris.Wrapf(err, "postgres: get user inputs %s", id)
	}
	if tier != nil {
		ct := models.CreditTier(*tier)
		fs.CreditTier = &ct
	}
	return fs, nil
}

func (s *PostgresStore) SetField(ctx context.Context, id string, field models.Field, value models.FieldValue) error {
	arg, err := fieldArg(field, value)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`INSERT INTO user_inputs (conversation_id, %[1]s, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (conversation_id) DO UPDATE SET %[1]s = EXCLUDED.%[1]s, updated_at = EXCLUDED.updated_at`,
		string(field),
	)
	_, err = s.pool.Exec(ctx, query, id, arg, time.Now().UTC())
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: set %s for %s", field, id)
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, username_key, email, email_key, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Username, userKey(user.Username), user.Email, emailKeyArg(user.Email),
		user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case db.UsersEmailConstraint:
			return ErrEmailTaken
		default:
			return ErrUsernameTaken
		}
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: insert user %s", user.Username)
	}
	return nil
}

func (s *PostgresStore) FindUser(ctx context.Context, identifier string) (*models.User, error) {
	key := userKey(identifier)
	var user models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, created_at, updated_at FROM users
		 WHERE username_key = $1 OR email_key = $1
		 ORDER BY username_key = $1 DESC LIMIT 1`,
		key,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find user")
	}
	return &user, nil
}
