package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// sessionKey is the local-storage key holding the provider's session token.
const sessionKey = "providerSession"

// sessionManager issues and validates opaque session tokens stored in the
// sessions table.
type sessionManager struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func newSessionManager(pool *pgxpool.Pool) *sessionManager {
	return &sessionManager{
		pool: pool,
		ttl:  30 * 24 * time.Hour,
	}
}

// Issue creates a session row for the account and returns its token,
// retrying on the unlikely token collision.
func (m *sessionManager) Issue(ctx context.Context, accountID string) (string, error) {
	expiresAt := time.Now().Add(m.ttl)
	for i := 0; i < 5; i++ {
		token, err := randomToken()
		if err != nil {
			return "", err
		}
		_, err = m.pool.Exec(ctx,
			`INSERT INTO sessions (token, account_id, expires_at) VALUES ($1, $2, $3)`,
			token, accountID, expiresAt,
		)
		if err == nil {
			return token, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			continue
		}
		return "", err
	}
	return "", errors.New("could not issue a unique session token")
}

// Validate resolves a token to its principal. A missing or expired token
// yields (nil, nil).
func (m *sessionManager) Validate(ctx context.Context, token string) (*Principal, error) {
	var principal Principal
	err := m.pool.QueryRow(ctx, `
SELECT a.id, a.email
FROM sessions s
JOIN accounts a ON a.id = s.account_id
WHERE s.token = $1 AND s.expires_at > now()
`, token).Scan(&principal.ID, &principal.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &principal, nil
}

// Revoke deletes a session row. Missing rows are not an error.
func (m *sessionManager) Revoke(ctx context.Context, token string) error {
	_, err := m.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

func randomToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
