// Package cart maintains the cart consistent with exactly one authoritative
// backing store. While an identity is present the cart tracks the remote
// store through a live subscription; without one it works against local
// storage. Mutations write through to whichever store is active.
package cart

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"shopez/internal/domain"
	"shopez/internal/localstore"
	"shopez/internal/pubsub"
	"shopez/internal/remotestore"
	"shopez/internal/session"
)

const (
	cartKey   = "cart"
	topicCart = "cart.items"
)

// record is the LineItem wire shape sans id; the id is the record's key.
type record struct {
	ProductID string  `json:"productId"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Image     string  `json:"image"`
	Quantity  int     `json:"quantity"`
	AddedAt   int64   `json:"addedAt"`
}

// Store is the cart store.
type Store struct {
	remote remotestore.Client
	local  localstore.Store
	logger *log.Logger
	hub    *pubsub.Hub

	mu       sync.Mutex
	items    []domain.LineItem
	mode     domain.BackingMode
	identity *domain.Identity
	loading  bool
	// gen invalidates callbacks captured before the latest backing switch,
	// so a cancelled subscription can never write into the new cart.
	gen         uint64
	remoteSub   pubsub.Subscription
	identitySub pubsub.Subscription
}

func New(remote remotestore.Client, local localstore.Store, logger *log.Logger) *Store {
	return &Store{
		remote:  remote,
		local:   local,
		logger:  logger,
		hub:     pubsub.NewHub(),
		loading: true,
	}
}

// Bind registers the store as an observer of the session's identity changes.
// Bind before the session is initialized so the restore publication is not
// missed.
func (s *Store) Bind(sess *session.Store) error {
	sub, err := sess.SubscribeIdentity(func(identity *domain.Identity) {
		s.SetIdentity(identity)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.identitySub
	s.identitySub = sub
	s.mu.Unlock()
	if old != nil {
		old.Cancel()
	}
	return nil
}

// SetIdentity re-targets the backing store for the given identity. With an
// identity the cart enters remote mode and follows the remote path through a
// subscription; without one it performs a one-shot load from local storage.
// The previous backing subscription, if any, is cancelled before the new
// backing is established.
func (s *Store) SetIdentity(identity *domain.Identity) {
	s.mu.Lock()
	old := s.remoteSub
	s.remoteSub = nil
	s.identity = identity
	s.gen++
	gen := s.gen
	s.loading = true
	if identity == nil {
		s.mode = domain.BackingLocal
	} else {
		s.mode = domain.BackingRemote
	}
	s.mu.Unlock()

	if old != nil {
		old.Cancel()
	}

	if identity == nil {
		items := s.readLocal()
		published := false
		s.mu.Lock()
		if gen == s.gen {
			s.items = items
			s.loading = false
			published = true
		}
		s.mu.Unlock()
		if published {
			s.hub.Publish(topicCart, items)
		}
		return
	}

	path := remotestore.CartPath(identity.ID)
	sub, err := s.remote.Subscribe(context.Background(), path, func(snap remotestore.Snapshot) {
		s.applySnapshot(gen, snap)
	})
	if err != nil {
		s.logger.Printf("subscribe %s: %v", path, err)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		sub.Cancel()
		return
	}
	s.remoteSub = sub
	s.mu.Unlock()
}

// applySnapshot replaces the in-memory cart with a remote snapshot and
// mirrors it into local storage for offline use.
func (s *Store) applySnapshot(gen uint64, snap remotestore.Snapshot) {
	items := s.flattenSnapshot(snap)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.items = items
	s.loading = false
	s.mu.Unlock()

	if body, err := json.Marshal(items); err == nil {
		if err := s.local.Set(cartKey, string(body)); err != nil {
			s.logger.Printf("mirror cart to local storage: %v", err)
		}
	}
	s.hub.Publish(topicCart, items)
}

func (s *Store) flattenSnapshot(snap remotestore.Snapshot) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(snap))
	for key, raw := range snap {
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.logger.Printf("decode cart record %s: %v", key, err)
			continue
		}
		items = append(items, domain.LineItem{
			ID:        key,
			ProductID: rec.ProductID,
			Title:     rec.Title,
			Price:     rec.Price,
			Image:     rec.Image,
			Quantity:  rec.Quantity,
			AddedAt:   rec.AddedAt,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].AddedAt != items[j].AddedAt {
			return items[i].AddedAt < items[j].AddedAt
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// AddToCart adds one unit of product. An existing line item for the same
// product has its quantity bumped instead; remote records are keyed by
// product id, so concurrent adds collapse onto one record rather than
// forking the cart.
func (s *Store) AddToCart(ctx context.Context, product domain.Product) error {
	s.mu.Lock()
	for _, item := range s.items {
		if item.ProductID == product.ID {
			itemID, quantity := item.ID, item.Quantity+1
			s.mu.Unlock()
			return s.UpdateQuantity(ctx, itemID, quantity)
		}
	}
	mode, identity, gen := s.mode, s.identity, s.gen
	current := append([]domain.LineItem(nil), s.items...)
	s.mu.Unlock()

	now := time.Now().UnixMilli()
	if mode == domain.BackingRemote && identity != nil {
		rec := record{
			ProductID: product.ID,
			Title:     product.Title,
			Price:     product.Price,
			Image:     product.Image,
			Quantity:  1,
			AddedAt:   now,
		}
		return s.remote.WriteAt(ctx, remotestore.ItemPath(identity.ID, product.ID), rec)
	}

	next := append(current, domain.LineItem{
		ID:        strconv.FormatInt(now, 10),
		ProductID: product.ID,
		Title:     product.Title,
		Price:     product.Price,
		Image:     product.Image,
		Quantity:  1,
		AddedAt:   now,
	})
	return s.commitLocal(gen, next)
}

// UpdateQuantity sets a line item's quantity. A quantity of zero or less
// removes the item instead; quantities are never stored non-positive.
func (s *Store) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveFromCart(ctx, itemID)
	}

	s.mu.Lock()
	mode, identity, gen := s.mode, s.identity, s.gen
	next := append([]domain.LineItem(nil), s.items...)
	s.mu.Unlock()

	if mode == domain.BackingRemote && identity != nil {
		return s.remote.PatchAt(ctx, remotestore.ItemPath(identity.ID, itemID), map[string]interface{}{
			"quantity": quantity,
		})
	}

	found := false
	for i := range next {
		if next[i].ID == itemID {
			next[i].Quantity = quantity
			found = true
		}
	}
	if !found {
		return domain.ErrNotFound
	}
	return s.commitLocal(gen, next)
}

// RemoveFromCart deletes a line item.
func (s *Store) RemoveFromCart(ctx context.Context, itemID string) error {
	s.mu.Lock()
	mode, identity, gen := s.mode, s.identity, s.gen
	next := s.items[:0:0]
	for _, item := range s.items {
		if item.ID != itemID {
			next = append(next, item)
		}
	}
	s.mu.Unlock()

	if mode == domain.BackingRemote && identity != nil {
		return s.remote.DeleteAt(ctx, remotestore.ItemPath(identity.ID, itemID))
	}
	return s.commitLocal(gen, next)
}

// ClearCart empties the cart: the whole remote path is deleted in remote
// mode, the local persisted copy is erased in local mode.
func (s *Store) ClearCart(ctx context.Context) error {
	s.mu.Lock()
	mode, identity, gen := s.mode, s.identity, s.gen
	s.mu.Unlock()

	if mode == domain.BackingRemote && identity != nil {
		return s.remote.DeleteAt(ctx, remotestore.CartPath(identity.ID))
	}

	if err := s.local.Delete(cartKey); err != nil {
		return err
	}
	published := false
	s.mu.Lock()
	if gen == s.gen {
		s.items = nil
		published = true
	}
	s.mu.Unlock()
	if published {
		s.hub.Publish(topicCart, []domain.LineItem{})
	}
	return nil
}

// commitLocal persists the next cart and only then swaps it into memory, so
// a persistence failure leaves memory and storage consistent.
func (s *Store) commitLocal(gen uint64, next []domain.LineItem) error {
	body, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if err := s.local.Set(cartKey, string(body)); err != nil {
		return err
	}

	published := false
	s.mu.Lock()
	if gen == s.gen {
		s.items = next
		published = true
	}
	s.mu.Unlock()
	if published {
		s.hub.Publish(topicCart, next)
	}
	return nil
}

// Items returns a copy of the current cart in order.
func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LineItem(nil), s.items...)
}

// TotalPrice is the sum of price times quantity over the cart.
func (s *Store) TotalPrice() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, item := range s.items {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// TotalItems is the sum of quantities over the cart.
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, item := range s.items {
		total += item.Quantity
	}
	return total
}

// Mode reports which backing store is currently authoritative.
func (s *Store) Mode() domain.BackingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Loading reports whether the first data for the current backing mode is
// still outstanding.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// SubscribeCart registers fn for cart replacements.
func (s *Store) SubscribeCart(fn func([]domain.LineItem)) (pubsub.Subscription, error) {
	return s.hub.Subscribe(topicCart, fn)
}

// Close tears down the identity observer and any live backing subscription.
func (s *Store) Close() {
	s.mu.Lock()
	identitySub, remoteSub := s.identitySub, s.remoteSub
	s.identitySub, s.remoteSub = nil, nil
	s.gen++
	s.mu.Unlock()

	if identitySub != nil {
		identitySub.Cancel()
	}
	if remoteSub != nil {
		remoteSub.Cancel()
	}
}

func (s *Store) readLocal() []domain.LineItem {
	raw, found, err := s.local.Get(cartKey)
	if err != nil {
		s.logger.Printf("read local cart: %v", err)
		return nil
	}
	if !found {
		return nil
	}
	var items []domain.LineItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.logger.Printf("decode local cart: %v", err)
		return nil
	}
	return items
}
