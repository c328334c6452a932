package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/samjosdev/deepresearch/session"
)

func TestAcquireCreatesAndKeepsState(t *testing.T) {
	r := NewRegistry(time.Hour, time.Hour)
	defer r.Close()
	ctx := context.Background()

	conv, err := r.Acquire(ctx, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected generated id")
	}
	conv.Topic = "solar adoption"
	if err := r.Release(ctx, conv); err != nil {
		t.Fatalf("Release: %v", err)
	}

	again, err := r.Acquire(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Acquire again: %v", err)
	}
	if again.Topic != "solar adoption" {
		t.Fatalf("state not kept: %#v", again)
	}
	r.Release(ctx, again)
}

func TestAcquireSerializesTurns(t *testing.T) {
	r := NewRegistry(time.Hour, time.Hour)
	defer r.Close()
	ctx := context.Background()

	conv, err := r.Acquire(ctx, "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := r.Acquire(ctx, "c1")
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}
		close(acquired)
		r.Release(ctx, second)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire must block until the first Release")
	case <-time.After(50 * time.Millisecond):
	}

	r.Release(ctx, conv)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never got the conversation")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	r := NewRegistry(time.Hour, time.Hour)
	defer r.Close()

	conv, err := r.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.Acquire(ctx, "c1"); err == nil {
		t.Fatal("expected context error while conversation is held")
	}

	// The held conversation is still usable afterwards.
	r.Release(context.Background(), conv)
	again, err := r.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Acquire after timeout: %v", err)
	}
	r.Release(context.Background(), again)
}

func TestQueuedAcquireSurvivesSweepEviction(t *testing.T) {
	r := NewRegistry(time.Hour, time.Hour)
	defer r.Close()
	ctx := context.Background()

	first, err := r.Acquire(ctx, "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	first.Topic = "solar adoption"

	convCh := make(chan *session.Conversation, 1)
	errCh := make(chan error, 1)
	go func() {
		conv, err := r.Acquire(ctx, "c1")
		if err != nil {
			errCh <- err
			return
		}
		convCh <- conv
	}()

	// Let the second Acquire queue on the entry lock, then evict the entry
	// the way the sweep would in the window before that lock is won.
	time.Sleep(50 * time.Millisecond)
	r.mu.Lock()
	delete(r.entries, "c1")
	r.mu.Unlock()

	if err := r.Release(ctx, first); err != nil {
		t.Fatalf("Release: %v", err)
	}

	var second *session.Conversation
	select {
	case second = <-convCh:
	case err := <-errCh:
		t.Fatalf("queued Acquire: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("queued Acquire never got the conversation")
	}
	if second.Topic != "solar adoption" {
		t.Fatalf("queued turn lost state: %#v", second)
	}

	// The entry is back in the map, so later turns see the mutations.
	second.Phase = session.PhaseAskEmailConsent
	r.Release(ctx, second)
	again, err := r.Acquire(ctx, "c1")
	if err != nil {
		t.Fatalf("Acquire after eviction: %v", err)
	}
	if again.Phase != session.PhaseAskEmailConsent {
		t.Fatalf("re-inserted conversation lost state: %#v", again)
	}
	r.Release(ctx, again)
}

func TestSweepDropsIdleConversations(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, 20*time.Millisecond)
	defer r.Close()
	ctx := context.Background()

	conv, _ := r.Acquire(ctx, "idle")
	conv.Topic = "stale"
	r.Release(ctx, conv)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.RLock()
		_, ok := r.entries["idle"]
		r.mu.RUnlock()
		if !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("idle conversation was never swept")
}
