package storage

import "context"

// KV is the durable client-side storage port. Values are opaque strings;
// callers own their encoding. Get reports ok=false for absent keys.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Namespaced prefixes every key so several clients can share one backing store.
type Namespaced struct {
	inner  KV
	prefix string
}

// WithNamespace wraps kv so that all keys are stored as prefix + ":" + key.
func WithNamespace(kv KV, prefix string) *Namespaced {
	return &Namespaced{inner: kv, prefix: prefix}
}

func (n *Namespaced) key(k string) string {
	if n.prefix == "" {
		return k
	}
	return n.prefix + ":" + k
}

// Get implements KV.
func (n *Namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.inner.Get(ctx, n.key(key))
}

// Set implements KV.
func (n *Namespaced) Set(ctx context.Context, key, value string) error {
	return n.inner.Set(ctx, n.key(key), value)
}

// Remove implements KV.
func (n *Namespaced) Remove(ctx context.Context, key string) error {
	return n.inner.Remove(ctx, n.key(key))
}
