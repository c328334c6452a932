package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samjosdev/deepresearch/session"
)

type entry struct {
	mu   sync.Mutex
	conv *session.Conversation
}

// Registry keeps conversations in process memory. Each conversation carries
// its own mutex so concurrent turns on the same dialogue run one at a time
// while different dialogues proceed in parallel.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	held    map[string]*entry
	ttl     time.Duration
	stop    chan struct{}
	done    chan struct{}
}

func NewRegistry(ttl, sweepInterval time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	r := &Registry{
		entries: make(map[string]*entry),
		held:    make(map[string]*entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.sweep(sweepInterval)
	return r
}

// Acquire returns the conversation with exclusive ownership, creating it on
// first use. An empty id gets a fresh conversation with a generated id.
func (r *Registry) Acquire(ctx context.Context, id string) (*session.Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}

	for {
		r.mu.Lock()
		e, ok := r.entries[id]
		if !ok {
			e = &entry{conv: session.NewConversation(id)}
			r.entries[id] = e
		}
		r.mu.Unlock()

		// Per-conversation lock is held until Release. The registry map
		// lock is never held while waiting here.
		locked := make(chan struct{})
		go func() {
			e.mu.Lock()
			close(locked)
		}()
		select {
		case <-locked:
		case <-ctx.Done():
			go func() {
				<-locked
				e.mu.Unlock()
			}()
			return nil, ctx.Err()
		}

		// The sweep may have evicted the entry while this caller was
		// queued on its lock. Re-insert it so no mutations are lost; if a
		// replacement entry appeared in the meantime, queue on that one.
		r.mu.Lock()
		cur, ok := r.entries[id]
		if !ok {
			r.entries[id] = e
			cur = e
		}
		if cur == e {
			r.held[id] = e
			r.mu.Unlock()
			return e.conv, nil
		}
		r.mu.Unlock()
		e.mu.Unlock()
	}
}

// Release stamps the conversation and hands ownership to the next waiter.
func (r *Registry) Release(ctx context.Context, conv *session.Conversation) error {
	conv.LastSeen = time.Now()

	r.mu.Lock()
	e, ok := r.held[conv.ID]
	if ok {
		delete(r.held, conv.ID)
	}
	r.mu.Unlock()
	if ok {
		e.mu.Unlock()
	}
	return nil
}

func (r *Registry) Close() error {
	close(r.stop)
	<-r.done
	return nil
}

// sweep drops conversations idle past the TTL. Entries whose lock is held
// are in use and skipped.
func (r *Registry) sweep(interval time.Duration) {
	defer close(r.done)
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-r.ttl)
			r.mu.Lock()
			for id, e := range r.entries {
				if !e.mu.TryLock() {
					continue
				}
				if e.conv.LastSeen.Before(cutoff) {
					delete(r.entries, id)
				}
				e.mu.Unlock()
			}
			r.mu.Unlock()
		case <-r.stop:
			return
		}
	}
}
