// Package lock serializes mutations of a single case or tenant without serializing
// unrelated entities.
package lock

import (
	"context"
	"hash/fnv"
	"sync"
)

// Locker acquires an exclusive hold on a key. The returned function releases it and is
// safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// CaseKey is the serialization key for a case.
func CaseKey(caseID string) string { return "case:" + caseID }

// TenantKey serializes a tenant's onboarding session and tier changes.
func TenantKey(tenantID string) string { return "tenant:" + tenantID }

const shardCount = 64

type entry struct {
	sem  chan struct{}
	refs int
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// KeyedMutex is an in-process Locker. Keys hash onto shards, so bookkeeping for one key
// never contends with most other keys; the per-key hold itself is a one-slot channel so
// waiting honours context cancellation.
type KeyedMutex struct {
	shards [shardCount]shard
}

// NewKeyedMutex builds an empty lock table.
func NewKeyedMutex() *KeyedMutex {
	km := &KeyedMutex{}
	for i := range km.shards {
		km.shards[i].entries = make(map[string]*entry)
	}
	return km
}

func (km *KeyedMutex) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &km.shards[h.Sum32()%shardCount]
}

// Lock blocks until key is free or ctx is done.
func (km *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	s := km.shardFor(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		s.entries[key] = e
	}
	e.refs++
	s.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		km.release(s, key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { km.release(s, key, e, true) })
	}, nil
}

func (km *KeyedMutex) release(s *shard, key string, e *entry, held bool) {
	if held {
		<-e.sem
	}
	s.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

// held returns how many keys currently have holders or waiters.
func (km *KeyedMutex) held() int {
	total := 0
	for i := range km.shards {
		km.shards[i].mu.Lock()
		total += len(km.shards[i].entries)
		km.shards[i].mu.Unlock()
	}
	return total
}
