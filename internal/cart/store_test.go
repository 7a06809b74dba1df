package cart

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"sync"
	"testing"

	"shopez/internal/domain"
	"shopez/internal/localstore"
	"shopez/internal/pubsub"
	"shopez/internal/remotestore"
)

type fakeLocal struct {
	data    map[string]string
	failSet bool
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{data: map[string]string{}}
}

func (f *fakeLocal) Get(key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeLocal) Set(key, value string) error {
	if f.failSet {
		return &localstore.StorageError{Key: key, Err: errors.New("disk full")}
	}
	f.data[key] = value
	return nil
}

func (f *fakeLocal) Delete(key string) error {
	delete(f.data, key)
	return nil
}

type fakeSubscription struct {
	mu        sync.Mutex
	cancelled bool
}

func (f *fakeSubscription) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
}

func (f *fakeSubscription) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// fakeRemote keeps carts in memory and pushes a fresh snapshot to the live
// subscriber after every write, the way the real adapters do.
type fakeRemote struct {
	data        map[string]map[string]json.RawMessage
	subPath     string
	subFn       func(remotestore.Snapshot)
	sub         *fakeSubscription
	holdInitial bool
	writeErr    error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: map[string]map[string]json.RawMessage{}}
}

func (f *fakeRemote) Subscribe(_ context.Context, path string, fn func(remotestore.Snapshot)) (pubsub.Subscription, error) {
	f.subPath = path
	f.subFn = fn
	f.sub = &fakeSubscription{}
	if !f.holdInitial {
		fn(f.snapshot(path))
	}
	return f.sub, nil
}

func (f *fakeRemote) WriteAt(_ context.Context, path string, value interface{}) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	cartPath, key := remotestore.Split(path)
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if f.data[cartPath] == nil {
		f.data[cartPath] = map[string]json.RawMessage{}
	}
	f.data[cartPath][key] = body
	f.notify(cartPath)
	return nil
}

func (f *fakeRemote) PatchAt(_ context.Context, path string, fields map[string]interface{}) error {
	cartPath, key := remotestore.Split(path)
	raw, ok := f.data[cartPath][key]
	if !ok {
		return nil
	}
	var record map[string]interface{}
	if err := json.Unmarshal(raw, &record); err != nil {
		return err
	}
	for field, value := range fields {
		record[field] = value
	}
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	f.data[cartPath][key] = body
	f.notify(cartPath)
	return nil
}

func (f *fakeRemote) DeleteAt(_ context.Context, path string) error {
	cartPath, key := remotestore.Split(path)
	if key == "" {
		delete(f.data, cartPath)
	} else {
		delete(f.data[cartPath], key)
	}
	f.notify(cartPath)
	return nil
}

func (f *fakeRemote) push(cartPath string) {
	f.notify(cartPath)
}

func (f *fakeRemote) notify(cartPath string) {
	if f.subFn == nil || f.subPath != cartPath || f.sub.isCancelled() {
		return
	}
	f.subFn(f.snapshot(cartPath))
}

func (f *fakeRemote) snapshot(cartPath string) remotestore.Snapshot {
	snap := remotestore.Snapshot{}
	for key, raw := range f.data[cartPath] {
		snap[key] = raw
	}
	return snap
}

func (f *fakeRemote) seed(t *testing.T, cartPath, key string, rec record) {
	t.Helper()
	body, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	if f.data[cartPath] == nil {
		f.data[cartPath] = map[string]json.RawMessage{}
	}
	f.data[cartPath][key] = body
}

func newStore(remote *fakeRemote, local *fakeLocal) *Store {
	var client remotestore.Client
	if remote != nil {
		client = remote
	}
	return New(client, local, log.New(io.Discard, "", 0))
}

func product(id string, price float64) domain.Product {
	return domain.Product{ID: id, Title: "Product " + id, Price: price, Image: "https://img/" + id}
}

func TestAddToCartLocalDistinctProducts(t *testing.T) {
	local := newFakeLocal()
	s := newStore(nil, local)
	s.SetIdentity(nil)

	prices := []float64{9.99, 5.00, 12.50}
	for i, price := range prices {
		if err := s.AddToCart(context.Background(), product(string(rune('a'+i)), price)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := s.TotalItems(); got != 3 {
		t.Fatalf("expected 3 items, got %d", got)
	}
	if got := s.TotalPrice(); math.Abs(got-27.49) > 1e-9 {
		t.Fatalf("expected total 27.49, got %v", got)
	}
	if _, ok := local.data[cartKey]; !ok {
		t.Fatalf("expected cart persisted locally")
	}
}

func TestAddToCartTwiceMergesLine(t *testing.T) {
	s := newStore(nil, newFakeLocal())
	s.SetIdentity(nil)

	p := product("p1", 9.99)
	if err := s.AddToCart(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AddToCart(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items := s.Items()
	if len(items) != 1 {
		t.Fatalf("expected a single line item, got %d", len(items))
	}
	if items[0].ProductID != "p1" || items[0].Quantity != 2 {
		t.Fatalf("expected p1 x2, got %+v", items[0])
	}
	if got := s.TotalPrice(); math.Abs(got-19.98) > 1e-9 {
		t.Fatalf("expected total 19.98, got %v", got)
	}
	if got := s.TotalItems(); got != 2 {
		t.Fatalf("expected 2 total items, got %d", got)
	}
}

func TestAddToCartTwiceRemote(t *testing.T) {
	remote := newFakeRemote()
	s := newStore(remote, newFakeLocal())
	s.SetIdentity(&domain.Identity{ID: "u1", Email: "u1@example.com"})

	p := product("p1", 9.99)
	if err := s.AddToCart(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AddToCart(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items := s.Items()
	if len(items) != 1 || items[0].Quantity != 2 {
		t.Fatalf("expected p1 x2, got %+v", items)
	}
	if items[0].ID != "p1" {
		t.Fatalf("expected remote record keyed by product id, got %q", items[0].ID)
	}
	if len(remote.data["carts/u1"]) != 1 {
		t.Fatalf("expected one remote record, got %d", len(remote.data["carts/u1"]))
	}
}

func TestUpdateQuantityZeroOrNegativeRemoves(t *testing.T) {
	for _, quantity := range []int{0, -1} {
		s := newStore(nil, newFakeLocal())
		s.SetIdentity(nil)
		if err := s.AddToCart(context.Background(), product("p1", 4.20)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		itemID := s.Items()[0].ID

		if err := s.UpdateQuantity(context.Background(), itemID, quantity); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := s.TotalItems(); got != 0 {
			t.Fatalf("quantity %d: expected empty cart, got %d items", quantity, got)
		}
	}
}

func TestUpdateQuantityPreservesOtherFields(t *testing.T) {
	s := newStore(nil, newFakeLocal())
	s.SetIdentity(nil)
	if err := s.AddToCart(context.Background(), product("p1", 9.99)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := s.Items()[0]

	if err := s.UpdateQuantity(context.Background(), before.ID, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after := s.Items()[0]
	if after.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", after.Quantity)
	}
	after.Quantity = before.Quantity
	if after != before {
		t.Fatalf("expected other fields unchanged, before %+v after %+v", before, after)
	}
}

func TestUpdateQuantityRemotePatchesOnlyQuantity(t *testing.T) {
	remote := newFakeRemote()
	s := newStore(remote, newFakeLocal())
	s.SetIdentity(&domain.Identity{ID: "u1"})

	if err := s.AddToCart(context.Background(), product("p1", 9.99)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := s.Items()[0]

	if err := s.UpdateQuantity(context.Background(), "p1", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after := s.Items()[0]
	if after.Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", after.Quantity)
	}
	if after.Title != before.Title || after.Price != before.Price || after.AddedAt != before.AddedAt {
		t.Fatalf("expected other fields unchanged, before %+v after %+v", before, after)
	}
}

func TestClearCartBothModes(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		local := newFakeLocal()
		s := newStore(nil, local)
		s.SetIdentity(nil)
		if err := s.AddToCart(context.Background(), product("p1", 1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := s.ClearCart(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := s.TotalItems(); got != 0 {
			t.Fatalf("expected 0 items, got %d", got)
		}
		if _, ok := local.data[cartKey]; ok {
			t.Fatalf("expected local copy erased")
		}
	})

	t.Run("remote", func(t *testing.T) {
		remote := newFakeRemote()
		s := newStore(remote, newFakeLocal())
		s.SetIdentity(&domain.Identity{ID: "u1"})
		if err := s.AddToCart(context.Background(), product("p1", 1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := s.ClearCart(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := s.TotalItems(); got != 0 {
			t.Fatalf("expected 0 items, got %d", got)
		}
		if len(remote.data["carts/u1"]) != 0 {
			t.Fatalf("expected remote cart path deleted")
		}
	})
}

func TestIdentitySwitchReplacesLocalWithRemoteSnapshot(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	s := newStore(remote, local)

	s.SetIdentity(nil)
	if err := s.AddToCart(context.Background(), product("guest-item", 3.00)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	remote.seed(t, "carts/u1", "p9", record{ProductID: "p9", Title: "Remote", Price: 7.50, Quantity: 2, AddedAt: 42})
	s.SetIdentity(&domain.Identity{ID: "u1"})

	items := s.Items()
	if len(items) != 1 || items[0].ProductID != "p9" {
		t.Fatalf("expected exactly the remote snapshot, got %+v", items)
	}
	if s.Mode() != domain.BackingRemote {
		t.Fatalf("expected remote mode, got %s", s.Mode())
	}

	// The remote snapshot is mirrored for offline use, replacing the guest cart.
	var mirrored []domain.LineItem
	if err := json.Unmarshal([]byte(local.data[cartKey]), &mirrored); err != nil {
		t.Fatalf("unmarshal mirror: %v", err)
	}
	if len(mirrored) != 1 || mirrored[0].ProductID != "p9" {
		t.Fatalf("expected mirror to hold remote snapshot, got %+v", mirrored)
	}
}

func TestIdentitySwitchCancelsPriorSubscription(t *testing.T) {
	remote := newFakeRemote()
	s := newStore(remote, newFakeLocal())

	s.SetIdentity(&domain.Identity{ID: "u1"})
	first := remote.sub
	if first == nil {
		t.Fatalf("expected a live subscription")
	}

	s.SetIdentity(nil)
	if !first.isCancelled() {
		t.Fatalf("expected prior subscription cancelled on switch")
	}
	if s.Mode() != domain.BackingLocal {
		t.Fatalf("expected local mode, got %s", s.Mode())
	}
}

func TestStaleSnapshotAfterSwitchIsDropped(t *testing.T) {
	remote := newFakeRemote()
	remote.seed(t, "carts/u1", "p1", record{ProductID: "p1", Title: "Stale", Price: 1, Quantity: 1, AddedAt: 1})
	// Hold the initial snapshot so it arrives only after the backing switch.
	remote.holdInitial = true
	s := newStore(remote, newFakeLocal())

	s.SetIdentity(&domain.Identity{ID: "u1"})
	staleFn := remote.subFn

	s.SetIdentity(nil)
	if got := s.TotalItems(); got != 0 {
		t.Fatalf("expected empty guest cart, got %d items", got)
	}

	// A snapshot captured before the switch must not reach the cart.
	staleFn(remote.snapshot("carts/u1"))
	if got := s.TotalItems(); got != 0 {
		t.Fatalf("expected stale snapshot dropped, got %d items", got)
	}
}

func TestSignOutLoadsMirroredCart(t *testing.T) {
	remote := newFakeRemote()
	local := newFakeLocal()
	s := newStore(remote, local)

	remote.seed(t, "carts/u1", "p9", record{ProductID: "p9", Title: "Remote", Price: 7.50, Quantity: 2, AddedAt: 42})
	s.SetIdentity(&domain.Identity{ID: "u1"})
	s.SetIdentity(nil)

	items := s.Items()
	if len(items) != 1 || items[0].ProductID != "p9" || items[0].Quantity != 2 {
		t.Fatalf("expected mirrored cart after sign-out, got %+v", items)
	}
	if s.Mode() != domain.BackingLocal {
		t.Fatalf("expected local mode, got %s", s.Mode())
	}
}

func TestLocalPersistFailureLeavesMemoryUntouched(t *testing.T) {
	local := newFakeLocal()
	s := newStore(nil, local)
	s.SetIdentity(nil)

	local.failSet = true
	err := s.AddToCart(context.Background(), product("p1", 9.99))
	var storageErr *localstore.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if got := s.TotalItems(); got != 0 {
		t.Fatalf("expected in-memory cart untouched, got %d items", got)
	}
}

func TestRemoteWriteFailurePropagates(t *testing.T) {
	remote := newFakeRemote()
	s := newStore(remote, newFakeLocal())
	s.SetIdentity(&domain.Identity{ID: "u1"})

	remote.writeErr = &remotestore.WriteError{Op: "write", Path: "carts/u1/p1", Err: errors.New("permission denied")}
	err := s.AddToCart(context.Background(), product("p1", 9.99))
	var writeErr *remotestore.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected WriteError, got %v", err)
	}
	if got := s.TotalItems(); got != 0 {
		t.Fatalf("expected cart unchanged, got %d items", got)
	}
}

func TestLoadingClearsOnFirstSnapshot(t *testing.T) {
	remote := newFakeRemote()
	remote.holdInitial = true
	s := newStore(remote, newFakeLocal())

	if !s.Loading() {
		t.Fatalf("expected loading before any backing data")
	}
	s.SetIdentity(&domain.Identity{ID: "u1"})
	if !s.Loading() {
		t.Fatalf("expected loading until the first snapshot")
	}

	remote.push("carts/u1")
	if s.Loading() {
		t.Fatalf("expected loading cleared after first snapshot")
	}
}

func TestSnapshotOrderIsStable(t *testing.T) {
	remote := newFakeRemote()
	remote.seed(t, "carts/u1", "p2", record{ProductID: "p2", Quantity: 1, AddedAt: 200})
	remote.seed(t, "carts/u1", "p1", record{ProductID: "p1", Quantity: 1, AddedAt: 100})
	remote.seed(t, "carts/u1", "p3", record{ProductID: "p3", Quantity: 1, AddedAt: 100})
	s := newStore(remote, newFakeLocal())

	s.SetIdentity(&domain.Identity{ID: "u1"})
	items := s.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].ID != "p1" || items[1].ID != "p3" || items[2].ID != "p2" {
		t.Fatalf("expected addedAt-then-key order, got %v %v %v", items[0].ID, items[1].ID, items[2].ID)
	}
}

func TestUpdateQuantityUnknownItemLocal(t *testing.T) {
	s := newStore(nil, newFakeLocal())
	s.SetIdentity(nil)

	if err := s.AddToCart(context.Background(), product("a", 5)); err != nil {
		t.Fatalf("add: %v", err)
	}

	err := s.UpdateQuantity(context.Background(), "no-such-item", 3)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := s.TotalItems(); got != 1 {
		t.Fatalf("expected cart untouched, got %d items", got)
	}
}
