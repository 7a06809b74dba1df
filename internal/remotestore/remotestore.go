// Package remotestore defines the remote cart store consumed by the cart
// store, plus the postgres and firestore adapters that implement it.
//
// Paths address either a whole cart ("carts/{identityId}") or one record in
// it ("carts/{identityId}/{key}"). A Snapshot is a full point-in-time read of
// a cart path: generated key to record body, the record's id being the key.
package remotestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"shopez/internal/pubsub"
)

// Snapshot maps record keys to their raw JSON bodies.
type Snapshot map[string]json.RawMessage

// Client is the remote data store interface. Subscribe delivers the current
// snapshot immediately, then again on every change, in the order the store
// emits them, until the returned subscription is cancelled.
type Client interface {
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (pubsub.Subscription, error)
	WriteAt(ctx context.Context, path string, value interface{}) error
	PatchAt(ctx context.Context, path string, fields map[string]interface{}) error
	DeleteAt(ctx context.Context, path string) error
}

// WriteError wraps a rejected remote write. It propagates to the mutation
// caller; the cart store never retries.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("remote %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CartPath returns the cart path for an identity.
func CartPath(identityID string) string {
	return "carts/" + identityID
}

// ItemPath returns the record path for one cart item.
func ItemPath(identityID, key string) string {
	return CartPath(identityID) + "/" + key
}

// Split separates a path into its cart path and record key. Key is empty for
// cart-level paths.
func Split(path string) (cartPath, key string) {
	trimmed := strings.Trim(path, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) <= 2 {
		return trimmed, ""
	}
	return strings.Join(parts[:2], "/"), strings.Join(parts[2:], "/")
}
