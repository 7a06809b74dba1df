// Package session owns the authentication lifecycle and makes the current
// identity observable. The cart store re-targets its backing store off the
// identity changes published here.
package session

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"shopez/internal/domain"
	"shopez/internal/localstore"
	"shopez/internal/provider"
	"shopez/internal/pubsub"
)

const (
	userKey       = "user"
	topicIdentity = "session.identity"
)

// Result is the tagged outcome of Register and Login. Provider failures are
// captured here, never returned as errors.
type Result struct {
	OK       bool             `json:"ok"`
	Identity *domain.Identity `json:"identity,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// Store holds the current identity, or nil for guest.
type Store struct {
	provider provider.Provider
	local    localstore.Store
	logger   *log.Logger
	hub      *pubsub.Hub

	mu       sync.Mutex
	identity *domain.Identity
	loading  bool
	authSub  pubsub.Subscription
}

func New(p provider.Provider, local localstore.Store, logger *log.Logger) *Store {
	return &Store{
		provider: p,
		local:    local,
		logger:   logger,
		hub:      pubsub.NewHub(),
		loading:  true,
	}
}

// Initialize restores a previously cached identity, if any, and establishes
// the single live auth-state subscription. The restored identity is published
// optimistically before the provider has confirmed it; Loading reports true
// until the first provider callback lands. Call Close to tear the
// subscription down.
func (s *Store) Initialize(ctx context.Context) error {
	if cached := s.readCached(); cached != nil {
		s.mu.Lock()
		s.identity = cached
		s.mu.Unlock()
		s.hub.Publish(topicIdentity, cached)
	}

	sub, err := s.provider.SubscribeAuthState(func(p *provider.Principal) {
		s.onAuthState(p)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.authSub
	s.authSub = sub
	s.mu.Unlock()
	if old != nil {
		old.Cancel()
	}
	_ = ctx
	return nil
}

func (s *Store) onAuthState(p *provider.Principal) {
	var identity *domain.Identity
	if p != nil {
		identity = &domain.Identity{ID: p.ID, Email: p.Email}
	}

	s.mu.Lock()
	s.identity = identity
	s.loading = false
	s.mu.Unlock()

	if identity != nil {
		if body, err := json.Marshal(identity); err == nil {
			if err := s.local.Set(userKey, string(body)); err != nil {
				s.logger.Printf("cache identity: %v", err)
			}
		}
	} else {
		if err := s.local.Delete(userKey); err != nil {
			s.logger.Printf("clear cached identity: %v", err)
		}
	}

	s.hub.Publish(topicIdentity, identity)
}

// Register forwards to the identity provider. Failures come back as a
// tagged Result, never as an error.
func (s *Store) Register(ctx context.Context, email, password string) Result {
	principal, err := s.provider.RegisterWithPassword(ctx, email, password)
	if err != nil {
		return Result{Message: err.Error()}
	}
	return Result{OK: true, Identity: &domain.Identity{ID: principal.ID, Email: principal.Email}}
}

// Login forwards to the identity provider. Failures come back as a tagged
// Result, never as an error.
func (s *Store) Login(ctx context.Context, email, password string) Result {
	principal, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return Result{Message: err.Error()}
	}
	return Result{OK: true, Identity: &domain.Identity{ID: principal.ID, Email: principal.Email}}
}

// Logout ends the provider session best-effort, clears the cached identity
// and publishes the guest state.
func (s *Store) Logout(ctx context.Context) {
	if err := s.provider.SignOut(ctx); err != nil {
		s.logger.Printf("provider sign-out: %v", err)
	}
	if err := s.local.Delete(userKey); err != nil {
		s.logger.Printf("clear cached identity: %v", err)
	}

	s.mu.Lock()
	alreadyGuest := s.identity == nil && !s.loading
	s.identity = nil
	s.loading = false
	s.mu.Unlock()

	// The provider's auth callback usually clears us first; only publish
	// when sign-out didn't reach it.
	if !alreadyGuest {
		s.hub.Publish(topicIdentity, (*domain.Identity)(nil))
	}
}

// Identity returns the current identity, or nil for guest.
func (s *Store) Identity() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Loading reports whether the initial restore is still outstanding.
// Dependents should not act on a guest state until it clears.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// SubscribeIdentity registers fn for identity changes. fn receives nil when
// the session becomes guest.
func (s *Store) SubscribeIdentity(fn func(*domain.Identity)) (pubsub.Subscription, error) {
	return s.hub.Subscribe(topicIdentity, fn)
}

// Close cancels the auth-state subscription.
func (s *Store) Close() {
	s.mu.Lock()
	sub := s.authSub
	s.authSub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

func (s *Store) readCached() *domain.Identity {
	raw, found, err := s.local.Get(userKey)
	if err != nil {
		s.logger.Printf("read cached identity: %v", err)
		return nil
	}
	if !found {
		return nil
	}
	var identity domain.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		s.logger.Printf("decode cached identity: %v", err)
		return nil
	}
	return &identity
}
