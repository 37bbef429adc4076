package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/fin-onboard/backend/internal/model/chat"
	"github.com/zhouzirui/fin-onboard/backend/internal/storage"
)

// BundleKey holds the transcript and session together so a reload restores both at once.
const BundleKey = "chatSession"

var errCorrupt = errors.New("persisted chat session is corrupt")

// bundle is the persisted shape shared by Transcript and Ledger.
type bundle struct {
	Messages    []chat.Message `json:"messages"`
	SessionID   string         `json:"sessionId"`
	IsComplete  bool           `json:"isComplete"`
	LastUpdated time.Time      `json:"lastUpdated"`
	Draft       string         `json:"draft,omitempty"`
}

// Archive performs read-modify-write of the persisted bundle. Other tabs may
// write the same key; the last writer wins.
type Archive struct {
	mu sync.Mutex
	kv storage.KV
}

// NewArchive binds an archive to kv, which should already be namespaced per client.
func NewArchive(kv storage.KV) *Archive {
	return &Archive{kv: kv}
}

func (a *Archive) load(ctx context.Context) (bundle, bool, error) {
	raw, ok, err := a.kv.Get(ctx, BundleKey)
	if err != nil {
		return bundle{}, false, err
	}
	if !ok || raw == "" {
		return bundle{}, false, nil
	}

	var b bundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return bundle{}, false, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return b, true, nil
}

func (a *Archive) update(ctx context.Context, fn func(*bundle)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, _, err := a.load(ctx)
	if err != nil && !errors.Is(err, errCorrupt) {
		return err
	}
	fn(&b)

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode chat session: %w", err)
	}
	return a.kv.Set(ctx, BundleKey, string(data))
}

func (a *Archive) read(ctx context.Context) (bundle, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load(ctx)
}

// Discard removes the persisted bundle.
func (a *Archive) Discard(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kv.Remove(ctx, BundleKey)
}
