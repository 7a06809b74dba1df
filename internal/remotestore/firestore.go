package remotestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"shopez/internal/pubsub"
)

// firestoreClient keeps one document per cart and one map field per record
// key. Snapshot listeners come straight from the firestore SDK.
type firestoreClient struct {
	client *firestore.Client
	logger *log.Logger
}

// NewFirestore builds a firestore-backed Client. credentialsFile is optional;
// without it Application Default Credentials are used.
func NewFirestore(ctx context.Context, projectID, credentialsFile string, logger *log.Logger) (Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firestore: %w", err)
	}
	return &firestoreClient{client: client, logger: logger}, nil
}

func (c *firestoreClient) WriteAt(ctx context.Context, path string, value interface{}) error {
	cartPath, key := Split(path)
	doc, err := c.doc(cartPath)
	if err != nil {
		return &WriteError{Op: "write", Path: path, Err: err}
	}
	data, err := toFirestoreValue(value)
	if err != nil {
		return &WriteError{Op: "write", Path: path, Err: err}
	}
	if key == "" {
		_, err = doc.Set(ctx, data)
	} else {
		// Merge only the record's own field path so the record is replaced
		// wholesale without touching its siblings.
		_, err = doc.Set(ctx, map[string]interface{}{key: data}, firestore.Merge(firestore.FieldPath{key}))
	}
	if err != nil {
		return &WriteError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (c *firestoreClient) PatchAt(ctx context.Context, path string, fields map[string]interface{}) error {
	cartPath, key := Split(path)
	if key == "" {
		return &WriteError{Op: "patch", Path: path, Err: errors.New("patch requires a record path")}
	}
	doc, err := c.doc(cartPath)
	if err != nil {
		return &WriteError{Op: "patch", Path: path, Err: err}
	}
	updates := make([]firestore.Update, 0, len(fields))
	for field, value := range fields {
		updates = append(updates, firestore.Update{
			FieldPath: firestore.FieldPath{key, field},
			Value:     value,
		})
	}
	if _, err := doc.Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return &WriteError{Op: "patch", Path: path, Err: err}
	}
	return nil
}

func (c *firestoreClient) DeleteAt(ctx context.Context, path string) error {
	cartPath, key := Split(path)
	doc, err := c.doc(cartPath)
	if err != nil {
		return &WriteError{Op: "delete", Path: path, Err: err}
	}
	if key == "" {
		if _, err := doc.Delete(ctx); err != nil {
			return &WriteError{Op: "delete", Path: path, Err: err}
		}
		return nil
	}
	_, err = doc.Update(ctx, []firestore.Update{{
		FieldPath: firestore.FieldPath{key},
		Value:     firestore.Delete,
	}})
	if err != nil && status.Code(err) != codes.NotFound {
		return &WriteError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (c *firestoreClient) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (pubsub.Subscription, error) {
	cartPath, key := Split(path)
	if key != "" {
		return nil, errors.New("subscribe requires a cart path")
	}
	doc, err := c.doc(cartPath)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	iter := doc.Snapshots(loopCtx)

	go func() {
		defer close(done)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if loopCtx.Err() == nil {
					c.logger.Printf("cart subscription for %s lost: %v", cartPath, err)
				}
				return
			}
			fn(flattenDocument(snap))
		}
	}()

	return &listenSubscription{cancel: cancel, done: done}, nil
}

func (c *firestoreClient) doc(cartPath string) (*firestore.DocumentRef, error) {
	parts := strings.SplitN(cartPath, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("malformed cart path %q", cartPath)
	}
	return c.client.Collection(parts[0]).Doc(parts[1]), nil
}

func flattenDocument(snap *firestore.DocumentSnapshot) Snapshot {
	out := Snapshot{}
	if snap == nil || !snap.Exists() {
		return out
	}
	for key, value := range snap.Data() {
		body, err := json.Marshal(value)
		if err != nil {
			continue
		}
		out[key] = body
	}
	return out
}

// toFirestoreValue round-trips through JSON so arbitrary record structs
// become the plain maps the firestore SDK stores.
func toFirestoreValue(value interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}
