package bridge

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newTestRegistry(opts ...Option) *SessionRegistry {
	return NewSessionRegistry(append([]Option{
		WithStreamingLLM(&llmStub{}),
		WithSpeechToTextClient(func() SpeechToText { return &sttStub{} }),
		WithTextToSpeechClient(&ttsStub{}),
	}, opts...)...)
}

func TestRegistryCreateAndGet(t *testing.T) {
	registry := newTestRegistry()

	session, err := registry.Create("CA1", newStreamStub())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.CallID != "CA1" {
		t.Errorf("expected call id CA1, got %s", session.CallID)
	}

	got, ok := registry.Get("CA1")
	if !ok || got != session {
		t.Error("expected Get to return the created session")
	}
	if _, ok := registry.Get("CAunknown"); ok {
		t.Error("expected Get to miss for an unknown call id")
	}
}

func TestRegistryRejectsDuplicateCallID(t *testing.T) {
	registry := newTestRegistry()

	if _, err := registry.Create("CA1", newStreamStub()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Create("CA1", newStreamStub()); !errors.Is(err, ErrDuplicateCallID) {
		t.Fatalf("expected ErrDuplicateCallID, got %v", err)
	}

	// The existing session stays active.
	if _, ok := registry.Get("CA1"); !ok {
		t.Error("expected the original session to survive the rejected create")
	}
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	registry := newTestRegistry()

	if _, err := registry.Create("CA1", newStreamStub()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	registry.Remove("CA1")
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d sessions", registry.Len())
	}
	registry.Remove("CA1")
	registry.Remove("CAnever")
}

func TestRegistryRemoveFreesCallIDForReuse(t *testing.T) {
	registry := newTestRegistry()

	if _, err := registry.Create("CA1", newStreamStub()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	registry.Remove("CA1")
	if _, err := registry.Create("CA1", newStreamStub()); err != nil {
		t.Fatalf("expected call id to be reusable after removal, got %v", err)
	}
}

func TestRegistryEnforcesConcurrentCallCap(t *testing.T) {
	registry := newTestRegistry(WithMaxConcurrentCalls(2))

	for i := range 2 {
		if _, err := registry.Create(fmt.Sprintf("CA%d", i), newStreamStub()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := registry.Create("CAoverflow", newStreamStub()); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}

	registry.Remove("CA0")
	if _, err := registry.Create("CAoverflow", newStreamStub()); err != nil {
		t.Fatalf("expected capacity after removal, got %v", err)
	}
}

func TestRegistryRequiresCollaborators(t *testing.T) {
	registry := NewSessionRegistry(
		WithStreamingLLM(&llmStub{}),
		WithTextToSpeechClient(&ttsStub{}),
	)
	if _, err := registry.Create("CA1", newStreamStub()); err == nil {
		t.Fatal("expected an error without a speech-to-text client")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	registry := newTestRegistry()

	var wg sync.WaitGroup
	for worker := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callID := fmt.Sprintf("CA%d", worker)
			for range 50 {
				if _, err := registry.Create(callID, newStreamStub()); err != nil {
					t.Errorf("unexpected create error: %v", err)
					return
				}
				if _, ok := registry.Get(callID); !ok {
					t.Errorf("expected session for %s", callID)
					return
				}
				registry.Remove(callID)
			}
		}()
	}
	wg.Wait()

	if registry.Len() != 0 {
		t.Fatalf("expected empty registry after churn, got %d", registry.Len())
	}
}
