// ABOUTME: In-process deduper backed by a TTL and size bounded key set
// ABOUTME: Oldest keys are evicted first once the set is full

package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	claimedAt time.Time
	element   *list.Element
}

// Memory is a Deduper for single-instance deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	order   *list.List // keys, oldest claim at front
	ttl     time.Duration
	maxSize int
	clock   func() time.Time
	done    chan struct{}
	closed  bool
}

var _ Deduper = (*Memory)(nil)

// NewMemory creates a Memory deduper and starts its expiry sweep.
func NewMemory(ttl time.Duration, maxSize int) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		clock:   time.Now,
		done:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Claim records key unless it was claimed within the TTL.
func (m *Memory) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if e, ok := m.entries[key]; ok {
		if now.Sub(e.claimedAt) < m.ttl {
			return false, nil
		}
		e.claimedAt = now
		m.order.MoveToBack(e.element)
		return true, nil
	}

	for len(m.entries) >= m.maxSize {
		m.evictOldest()
	}
	m.entries[key] = &memoryEntry{claimedAt: now, element: m.order.PushBack(key)}
	return true, nil
}

// Release forgets key.
func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		m.order.Remove(e.element)
		delete(m.entries, key)
	}
	return nil
}

// Len returns the number of tracked keys, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evictOldest must be called with mu held.
func (m *Memory) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.entries, key)
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

// sweep drops expired keys. Claims are in time order, so it stops at the
// first live one.
func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	for front := m.order.Front(); front != nil; front = m.order.Front() {
		key, _ := front.Value.(string)
		e := m.entries[key]
		if e == nil || now.Sub(e.claimedAt) < m.ttl {
			return
		}
		m.order.Remove(front)
		delete(m.entries, key)
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}
