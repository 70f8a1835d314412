package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// NATSKV stores entries in a JetStream key-value bucket.
type NATSKV struct {
	kv jetstream.KeyValue
}

// NewNATSKV creates or updates the bucket and returns a backend over it.
// The bucket TTL bounds how long an entry survives.
func NewNATSKV(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*NATSKV, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "seat hold countdown fallback entries",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create key-value bucket %s: %w", bucket, err)
	}
	return &NATSKV{kv: kv}, nil
}

func (n *NATSKV) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := n.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(entry.Value()), true, nil
}

func (n *NATSKV) Set(ctx context.Context, key, value string) error {
	_, err := n.kv.Put(ctx, key, []byte(value))
	return err
}

func (n *NATSKV) Delete(ctx context.Context, key string) error {
	err := n.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
