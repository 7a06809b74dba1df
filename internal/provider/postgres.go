package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"shopez/internal/localstore"
	"shopez/internal/pubsub"
)

const topicAuthState = "provider.auth-state"

// uniqueViolation is the postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// Postgres is a Provider over bcrypt-hashed accounts in the accounts table.
// It tracks the signed-in principal for the owning process and fans auth
// state out to subscribers.
type Postgres struct {
	pool        *pgxpool.Pool
	local       localstore.Store
	logger      *log.Logger
	passwordMin int
	sessions    *sessionManager

	mu      sync.Mutex
	hub     *pubsub.Hub
	current *Principal
}

// NewPostgres creates a Postgres provider with sane defaults. local is used
// to persist the provider's own session token across process restarts; it
// may be nil, in which case sessions do not survive restarts.
func NewPostgres(pool *pgxpool.Pool, local localstore.Store, logger *log.Logger) *Postgres {
	return &Postgres{
		pool:        pool,
		local:       local,
		logger:      logger,
		passwordMin: 8,
		sessions:    newSessionManager(pool),
		hub:         pubsub.NewHub(),
	}
}

// RestoreSession validates a persisted session token and, if it is still
// valid, re-establishes the principal silently. Call it before any
// auth-state subscription exists so the first immediate fire reports the
// restored session instead of guest.
func (p *Postgres) RestoreSession(ctx context.Context) {
	if p.local == nil {
		return
	}
	token, found, err := p.local.Get(sessionKey)
	if err != nil || !found {
		if err != nil {
			p.logger.Printf("read persisted session: %v", err)
		}
		return
	}
	principal, err := p.sessions.Validate(ctx, token)
	if err != nil {
		p.logger.Printf("validate persisted session: %v", err)
		return
	}
	if principal == nil {
		if err := p.local.Delete(sessionKey); err != nil {
			p.logger.Printf("drop stale session token: %v", err)
		}
		return
	}
	p.setPrincipal(principal)
}

// RegisterWithPassword creates an account and signs the new principal in,
// matching provider SDKs where registration establishes a session.
func (p *Postgres) RegisterWithPassword(ctx context.Context, email, password string) (*Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, errors.New("email required")
	}
	password = strings.TrimSpace(password)
	if err := validatePassword(password, p.passwordMin); err != nil {
		return nil, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, password_hash) VALUES ($1, $2, $3)`,
		id, email, string(hashed),
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	principal := &Principal{ID: id, Email: email}
	p.persistSession(ctx, principal)
	p.setPrincipal(principal)
	return principal, nil
}

// SignInWithPassword validates credentials and signs the principal in.
func (p *Postgres) SignInWithPassword(ctx context.Context, email, password string) (*Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	var id, storedEmail, hash string
	err := p.pool.QueryRow(ctx,
		`SELECT id, email, password_hash FROM accounts WHERE email = $1`,
		email,
	).Scan(&id, &storedEmail, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(password))); err != nil {
		return nil, ErrInvalidCredentials
	}

	principal := &Principal{ID: id, Email: storedEmail}
	p.persistSession(ctx, principal)
	p.setPrincipal(principal)
	return principal, nil
}

// SignOut revokes the persisted session, if any, and clears the signed-in
// principal. Revocation failures are logged; the local state clears anyway.
func (p *Postgres) SignOut(ctx context.Context) error {
	if p.local != nil {
		if token, found, err := p.local.Get(sessionKey); err == nil && found {
			if err := p.sessions.Revoke(ctx, token); err != nil {
				p.logger.Printf("revoke session: %v", err)
			}
		}
		if err := p.local.Delete(sessionKey); err != nil {
			p.logger.Printf("drop session token: %v", err)
		}
	}
	p.setPrincipal(nil)
	return nil
}

// persistSession issues a session token and stores it locally, best-effort.
func (p *Postgres) persistSession(ctx context.Context, principal *Principal) {
	if p.local == nil {
		return
	}
	token, err := p.sessions.Issue(ctx, principal.ID)
	if err != nil {
		p.logger.Printf("issue session: %v", err)
		return
	}
	if err := p.local.Set(sessionKey, token); err != nil {
		p.logger.Printf("persist session token: %v", err)
	}
}

// SubscribeAuthState registers fn and invokes it at once with the current
// state, so late subscribers see an established session.
func (p *Postgres) SubscribeAuthState(fn func(*Principal)) (pubsub.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, err := p.hub.Subscribe(topicAuthState, fn)
	if err != nil {
		return nil, err
	}
	fn(p.current)
	return sub, nil
}

func (p *Postgres) setPrincipal(principal *Principal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = principal
	p.hub.Publish(topicAuthState, principal)
}

func validatePassword(password string, min int) error {
	if len(password) < min {
		return fmt.Errorf("password must be at least %d characters", min)
	}
	hasUpper := false
	hasLower := false
	hasDigit := false
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return errors.New("password must contain at least 1 uppercase letter, 1 lowercase letter, and 1 number")
	}
	return nil
}
