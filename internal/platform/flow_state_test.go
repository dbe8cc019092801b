package platform

import (
	"context"
	"testing"
	"time"
)

func TestMemoryFlowStateStoreIssueAndConsume(t *testing.T) {
	t.Parallel()
	store := NewMemoryFlowStateStore(2 * time.Minute).(*memoryFlowStateStore)
	store.now = func() time.Time { return time.Unix(1000, 0) }

	state, err := store.Issue(context.Background(), FlowState{CodeVerifier: "verifier", RedirectTo: "/listings"})
	if err != nil {
		t.Fatalf("issue flow state: %v", err)
	}
	if state == "" {
		t.Fatalf("expected state token")
	}

	flow, err := store.Consume(context.Background(), state)
	if err != nil {
		t.Fatalf("consume flow state: %v", err)
	}
	if flow.CodeVerifier != "verifier" || flow.RedirectTo != "/listings" {
		t.Fatalf("unexpected flow: %#v", flow)
	}

	if _, err := store.Consume(context.Background(), state); err != ErrFlowStateNotFound {
		t.Fatalf("expected ErrFlowStateNotFound, got %v", err)
	}
}

func TestMemoryFlowStateStoreExpiry(t *testing.T) {
	t.Parallel()
	store := NewMemoryFlowStateStore(time.Minute).(*memoryFlowStateStore)
	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	state, err := store.Issue(context.Background(), FlowState{CodeVerifier: "verifier"})
	if err != nil {
		t.Fatalf("issue flow state: %v", err)
	}

	current = current.Add(2 * time.Minute)

	if _, err := store.Consume(context.Background(), state); err != ErrFlowStateExpired {
		t.Fatalf("expected ErrFlowStateExpired, got %v", err)
	}
}

func TestMemoryFlowStateStorePurgesExpiredEntries(t *testing.T) {
	t.Parallel()
	store := NewMemoryFlowStateStore(time.Minute).(*memoryFlowStateStore)
	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	if _, err := store.Issue(context.Background(), FlowState{CodeVerifier: "first"}); err != nil {
		t.Fatalf("issue flow state: %v", err)
	}
	current = current.Add(2 * time.Minute)
	if _, err := store.Issue(context.Background(), FlowState{CodeVerifier: "second"}); err != nil {
		t.Fatalf("issue flow state: %v", err)
	}

	store.mutex.Lock()
	remaining := len(store.entries)
	store.mutex.Unlock()
	if remaining != 1 {
		t.Fatalf("expected expired entry to be purged, %d entries remain", remaining)
	}
}
