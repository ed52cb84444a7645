package rollupdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yanolja/modgate/internal/credential"
)

// credentialRow is the sqlx scan target for the credentials table.
type credentialRow struct {
	Key        string    `db:"key"`
	IP         string    `db:"ip"`
	CallerID   string    `db:"caller_id"`
	CreatedAt  time.Time `db:"created_at"`
	LastUsedAt time.Time `db:"last_used_at"`
	IsActive   bool      `db:"is_active"`
}

func (r credentialRow) toCredential() *credential.Credential {
	return &credential.Credential{
		Key:        r.Key,
		CallerIP:   r.IP,
		CallerID:   r.CallerID,
		CreatedAt:  r.CreatedAt,
		LastUsedAt: r.LastUsedAt,
		Active:     r.IsActive,
	}
}

// CredentialStore implements credential.Store over the credentials table.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore wraps an open DB.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) GetByKey(ctx context.Context, key string) (*credential.Credential, error) {
	var row credentialRow
	err := s.db.SQLX.GetContext(ctx, &row, `SELECT key, ip, caller_id, created_at, last_used_at, is_active FROM credentials WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rollupdb: get credential by key: %w", err)
	}
	return row.toCredential(), nil
}

func (s *CredentialStore) GetByIP(ctx context.Context, ip string) (*credential.Credential, error) {
	var row credentialRow
	err := s.db.SQLX.GetContext(ctx, &row, `SELECT key, ip, caller_id, created_at, last_used_at, is_active FROM credentials WHERE ip = $1`, ip)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rollupdb: get credential by ip: %w", err)
	}
	return row.toCredential(), nil
}

func (s *CredentialStore) Create(ctx context.Context, c *credential.Credential) error {
	_, err := s.db.SQLX.ExecContext(ctx,
		`INSERT INTO credentials (key, ip, caller_id, created_at, last_used_at, is_active) VALUES ($1, $2, $3, $4, $4, true)`,
		c.Key, c.CallerIP, c.CallerID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("rollupdb: create credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.SQLX.ExecContext(ctx, `UPDATE credentials SET last_used_at = $1 WHERE key = $2`, at, key)
	if err != nil {
		return fmt.Errorf("rollupdb: touch credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Revoke(ctx context.Context, key string) (bool, error) {
	result, err := s.db.SQLX.ExecContext(ctx, `UPDATE credentials SET is_active = false WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("rollupdb: revoke credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rollupdb: revoke credential rows affected: %w", err)
	}
	return n > 0, nil
}
