package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/samjosdev/deepresearch/internal/agent/core"
	"github.com/samjosdev/deepresearch/session"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRegistry(rdb, time.Hour), mr
}

func TestStateRoundTrip(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	conv, err := r.Acquire(ctx, "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if conv.Phase != session.PhaseNeedTopic {
		t.Fatalf("fresh conversation phase = %q", conv.Phase)
	}

	conv.Phase = session.PhaseCollectingAnswers
	conv.Topic = "solar adoption"
	conv.PendingQuestions = []string{"Which region?"}
	conv.LastReport = &core.Report{Summary: "brief", MarkdownBody: "# R"}
	if err := r.Release(ctx, conv); err != nil {
		t.Fatalf("Release: %v", err)
	}

	again, err := r.Acquire(ctx, "c1")
	if err != nil {
		t.Fatalf("Acquire again: %v", err)
	}
	defer r.Release(ctx, again)
	if again.Phase != session.PhaseCollectingAnswers || again.Topic != "solar adoption" {
		t.Fatalf("state not persisted: %#v", again)
	}
	if again.LastReport == nil || again.LastReport.MarkdownBody != "# R" {
		t.Fatalf("report not persisted: %#v", again.LastReport)
	}
}

func TestLockBlocksSecondAcquire(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	conv, err := r.Acquire(ctx, "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	if _, err := r.Acquire(short, "c1"); err == nil {
		t.Fatal("expected second Acquire to time out while lock is held")
	}

	if err := r.Release(ctx, conv); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := r.Acquire(ctx, "c1")
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	r.Release(ctx, again)
}

func TestExpiredConversationComesBackFresh(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()

	conv, _ := r.Acquire(ctx, "c1")
	conv.Topic = "old topic"
	conv.Phase = session.PhaseAskEmailConsent
	r.Release(ctx, conv)

	// Simulate the TTL elapsing.
	mr.FastForward(2 * time.Hour)

	again, err := r.Acquire(ctx, "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer r.Release(ctx, again)
	if again.Phase != session.PhaseNeedTopic || again.Topic != "" {
		t.Fatalf("expected fresh conversation after expiry, got %#v", again)
	}
}

func TestCorruptStateStartsOver(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()

	if err := mr.Set("conversation:c1", "{not json"); err != nil {
		t.Fatalf("seed corrupt state: %v", err)
	}

	conv, err := r.Acquire(ctx, "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer r.Release(ctx, conv)
	if conv.Phase != session.PhaseNeedTopic {
		t.Fatalf("expected reset conversation, got %#v", conv)
	}
}
