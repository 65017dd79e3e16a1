package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rtmsg/broker/internal/domain"
	"github.com/rtmsg/broker/internal/protocolerr"
)

// PostgresUserRepository is a pgx-pool-backed UserRepository against a
// single assumed schema (spec.md Non-goals exclude migration tooling —
// this repository hand-rolls its SQL against a `users` table the
// operator is expected to provision).
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

func (r *PostgresUserRepository) GetByID(id string) (*domain.User, error) {
	row := r.pool.QueryRow(context.Background(),
		`SELECT id, email, display_name, password_hash, created_at, updated_at FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *PostgresUserRepository) GetByEmail(email string) (*domain.User, error) {
	row := r.pool.QueryRow(context.Background(),
		`SELECT id, email, display_name, password_hash, created_at, updated_at FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (r *PostgresUserRepository) Create(u *domain.User) error {
	_, err := r.pool.Exec(context.Background(),
		`INSERT INTO users (id, email, display_name, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return protocolerr.Wrap(protocolerr.DependencyError, "insert user", err)
	}
	return nil
}

func (r *PostgresUserRepository) Update(u *domain.User) error {
	tag, err := r.pool.Exec(context.Background(),
		`UPDATE users SET email = $2, display_name = $3, password_hash = $4, updated_at = $5 WHERE id = $1`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, u.UpdatedAt)
	if err != nil {
		return protocolerr.Wrap(protocolerr.DependencyError, "update user", err)
	}
	if tag.RowsAffected() == 0 {
		return protocolerr.New(protocolerr.NotFound, "user not found")
	}
	return nil
}

func (r *PostgresUserRepository) Delete(id string) error {
	tag, err := r.pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return protocolerr.Wrap(protocolerr.DependencyError, "delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return protocolerr.New(protocolerr.NotFound, "user not found")
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, protocolerr.New(protocolerr.NotFound, "user not found")
		}
		return nil, protocolerr.Wrap(protocolerr.DependencyError, "query user", err)
	}
	return &u, nil
}

// PostgresMessageRepository is a pgx-pool-backed MessageRepository.
type PostgresMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresMessageRepository(pool *pgxpool.Pool) *PostgresMessageRepository {
	return &PostgresMessageRepository{pool: pool}
}

func (r *PostgresMessageRepository) Create(m *domain.Message) error {
	_, err := r.pool.Exec(context.Background(),
		`INSERT INTO messages (id, channel_id, sender_id, recipient_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, nullableString(m.ChannelID), m.SenderID, nullableString(m.RecipientID), m.Content, m.CreatedAt)
	if err != nil {
		return protocolerr.Wrap(protocolerr.DependencyError, "insert message", err)
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(id string) (*domain.Message, error) {
	row := r.pool.QueryRow(context.Background(),
		`SELECT id, COALESCE(channel_id, ''), sender_id, COALESCE(recipient_id, ''), content, created_at
		 FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (r *PostgresMessageRepository) ListByChannel(channelID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(context.Background(),
		`SELECT id, COALESCE(channel_id, ''), sender_id, COALESCE(recipient_id, ''), content, created_at
		 FROM messages WHERE channel_id = $1 ORDER BY created_at DESC LIMIT $2`, channelID, limit)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.DependencyError, "list messages", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.RecipientID, &m.Content, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, protocolerr.New(protocolerr.NotFound, "message not found")
		}
		return nil, protocolerr.Wrap(protocolerr.DependencyError, "query message", err)
	}
	return &m, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
