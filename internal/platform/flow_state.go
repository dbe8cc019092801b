package platform

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"sync"
	"time"
)

var flowStateRandomSource io.Reader = rand.Reader

// FlowState is what an OAuth sign-in needs to survive between start and callback.
type FlowState struct {
	CodeVerifier string `json:"code_verifier"`
	RedirectTo   string `json:"redirect_to"`
}

// FlowStateStore issues one-time state tokens for OAuth sign-in flows.
type FlowStateStore interface {
	// Issue stores the flow and returns a new state token.
	Issue(ctx context.Context, flow FlowState) (string, error)
	// Consume returns and invalidates the flow bound to the state token.
	Consume(ctx context.Context, state string) (FlowState, error)
}

type memoryFlowEntry struct {
	flow      FlowState
	expiresAt time.Time
}

type memoryFlowStateStore struct {
	mutex   sync.Mutex
	entries map[string]memoryFlowEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryFlowStateStore constructs an in-memory FlowStateStore with the provided TTL.
func NewMemoryFlowStateStore(ttl time.Duration) FlowStateStore {
	return &memoryFlowStateStore{
		entries: make(map[string]memoryFlowEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (store *memoryFlowStateStore) Issue(ctx context.Context, flow FlowState) (string, error) {
	state, err := randomStateToken()
	if err != nil {
		return "", err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	store.entries[state] = memoryFlowEntry{flow: flow, expiresAt: store.now().Add(store.ttl)}
	return state, nil
}

func (store *memoryFlowStateStore) Consume(ctx context.Context, state string) (FlowState, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	entry, ok := store.entries[state]
	if !ok {
		store.purgeExpiredLocked()
		return FlowState{}, ErrFlowStateNotFound
	}
	delete(store.entries, state)
	if store.now().After(entry.expiresAt) {
		store.purgeExpiredLocked()
		return FlowState{}, ErrFlowStateExpired
	}
	store.purgeExpiredLocked()
	return entry.flow, nil
}

func (store *memoryFlowStateStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for state, entry := range store.entries {
		if now.After(entry.expiresAt) {
			delete(store.entries, state)
		}
	}
}

func randomStateToken() (string, error) {
	buffer := make([]byte, 32)
	if _, err := io.ReadFull(flowStateRandomSource, buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
