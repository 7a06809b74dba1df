package remotestore

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"shopez/internal/pubsub"
)

// Channel notified by the cart_items trigger, payload is the cart path.
const notifyChannel = "cart_items_changed"

// postgresClient stores cart records as JSONB rows keyed by (cart_path,
// item_key) and turns LISTEN/NOTIFY wakeups into snapshot deliveries.
type postgresClient struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *log.Logger) Client {
	return &postgresClient{pool: pool, logger: logger}
}

func (c *postgresClient) WriteAt(ctx context.Context, path string, value interface{}) error {
	cartPath, key := Split(path)
	body, err := json.Marshal(value)
	if err != nil {
		return &WriteError{Op: "write", Path: path, Err: err}
	}

	if key == "" {
		// Whole-cart write: replace every record under the path.
		var records map[string]json.RawMessage
		if err := json.Unmarshal(body, &records); err != nil {
			return &WriteError{Op: "write", Path: path, Err: err}
		}
		tx, err := c.pool.Begin(ctx)
		if err != nil {
			return &WriteError{Op: "write", Path: path, Err: err}
		}
		defer tx.Rollback(ctx)
		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_path = $1`, cartPath); err != nil {
			return &WriteError{Op: "write", Path: path, Err: err}
		}
		for k, v := range records {
			if _, err := tx.Exec(ctx,
				`INSERT INTO cart_items (cart_path, item_key, value) VALUES ($1, $2, $3)`,
				cartPath, k, []byte(v),
			); err != nil {
				return &WriteError{Op: "write", Path: path, Err: err}
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return &WriteError{Op: "write", Path: path, Err: err}
		}
		return nil
	}

	if _, err := c.pool.Exec(ctx, `
INSERT INTO cart_items (cart_path, item_key, value)
VALUES ($1, $2, $3)
ON CONFLICT (cart_path, item_key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
`, cartPath, key, body); err != nil {
		return &WriteError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (c *postgresClient) PatchAt(ctx context.Context, path string, fields map[string]interface{}) error {
	cartPath, key := Split(path)
	if key == "" {
		return &WriteError{Op: "patch", Path: path, Err: errors.New("patch requires a record path")}
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return &WriteError{Op: "patch", Path: path, Err: err}
	}
	// Patching a missing record is a no-op, matching merge semantics of the
	// original store.
	if _, err := c.pool.Exec(ctx, `
UPDATE cart_items SET value = value || $3::jsonb, updated_at = now()
WHERE cart_path = $1 AND item_key = $2
`, cartPath, key, patch); err != nil {
		return &WriteError{Op: "patch", Path: path, Err: err}
	}
	return nil
}

func (c *postgresClient) DeleteAt(ctx context.Context, path string) error {
	cartPath, key := Split(path)
	var err error
	if key == "" {
		_, err = c.pool.Exec(ctx, `DELETE FROM cart_items WHERE cart_path = $1`, cartPath)
	} else {
		_, err = c.pool.Exec(ctx, `DELETE FROM cart_items WHERE cart_path = $1 AND item_key = $2`, cartPath, key)
	}
	if err != nil {
		return &WriteError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

// Subscribe delivers the current snapshot synchronously, then holds a
// dedicated connection on LISTEN and re-reads the cart on every notification
// for its path until cancelled.
func (c *postgresClient) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (pubsub.Subscription, error) {
	cartPath, key := Split(path)
	if key != "" {
		return nil, errors.New("subscribe requires a cart path")
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, err
	}

	initial, err := c.snapshot(ctx, cartPath)
	if err != nil {
		conn.Release()
		return nil, err
	}
	fn(initial)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			unlistenCtx, unlistenCancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, _ = conn.Exec(unlistenCtx, "UNLISTEN "+notifyChannel)
			unlistenCancel()
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(loopCtx)
			if err != nil {
				if loopCtx.Err() == nil {
					c.logger.Printf("cart subscription for %s lost: %v", cartPath, err)
				}
				return
			}
			if n.Payload != cartPath {
				continue
			}
			snap, err := c.snapshot(loopCtx, cartPath)
			if err != nil {
				c.logger.Printf("read snapshot for %s: %v", cartPath, err)
				continue
			}
			fn(snap)
		}
	}()

	return &listenSubscription{cancel: cancel, done: done}, nil
}

func (c *postgresClient) snapshot(ctx context.Context, cartPath string) (Snapshot, error) {
	rows, err := c.pool.Query(ctx, `SELECT item_key, value FROM cart_items WHERE cart_path = $1`, cartPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := Snapshot{}
	for rows.Next() {
		var itemKey string
		var value []byte
		if err := rows.Scan(&itemKey, &value); err != nil {
			return nil, err
		}
		snap[itemKey] = json.RawMessage(value)
	}
	return snap, rows.Err()
}

type listenSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Cancel stops the notification loop and blocks until the connection is
// back in the pool, so no snapshot can be delivered after it returns.
func (s *listenSubscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}
