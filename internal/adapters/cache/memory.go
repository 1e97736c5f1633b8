package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/metrics"
)

const defaultMaxSize = 10000

// node is one entry in the insertion-ordered list. head is the newest entry.
type node struct {
	key     string
	data    []byte
	expires time.Time
	prev    *node
	next    *node
}

func (n *node) reset() {
	*n = node{}
}

// Memory is a bounded in-memory Cache with optional TTL. It stores encoded results
// so every Get hands out an independent copy.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*node
	head     *node
	tail     *node
	maxSize  int
	ttl      time.Duration
	now      func() time.Time
	size     atomic.Int64
	nodePool sync.Pool
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an in-memory cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		maxSize: defaultMaxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.entries = make(map[string]*node)
	m.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}
	return m
}

// Get implements Cache. Expired entries are dropped on access.
func (m *Memory) Get(_ context.Context, key string) (*model.StandardizedMatchResult, bool, error) {
	m.mu.Lock()
	n, ok := m.entries[key]
	if ok && !n.expires.IsZero() && !m.now().Before(n.expires) {
		m.remove(n)
		ok = false
	}
	var data []byte
	if ok {
		data = n.data
	}
	m.mu.Unlock()

	if !ok {
		return nil, false, nil
	}
	r, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// Set implements Cache. Writing an existing key replaces it and makes it the newest.
func (m *Memory) Set(_ context.Context, key string, r *model.StandardizedMatchResult) error {
	data, err := encode(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.entries[key]; ok {
		m.remove(old)
	}
	if m.maxSize > 0 && len(m.entries) >= m.maxSize {
		m.evictOldest()
	}

	n := m.nodePool.Get().(*node)
	n.key = key
	n.data = data
	if m.ttl > 0 {
		n.expires = m.now().Add(m.ttl)
	}
	n.next = m.head
	if m.head != nil {
		m.head.prev = n
	}
	m.head = n
	if m.tail == nil {
		m.tail = n
	}
	m.entries[key] = n
	m.size.Add(1)
	metrics.UpdateCacheSize(int(m.size.Load()))
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.entries[key]; ok {
		m.remove(n)
	}
	return nil
}

// Len implements Cache. Expired entries not yet accessed are still counted.
func (m *Memory) Len(_ context.Context) int64 {
	return m.size.Load()
}

// remove unlinks n and returns it to the pool. Must be called with m.mu held.
func (m *Memory) remove(n *node) {
	delete(m.entries, n.key)
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		m.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		m.tail = n.prev
	}
	n.reset()
	m.nodePool.Put(n)
	m.size.Add(-1)
	metrics.UpdateCacheSize(int(m.size.Load()))
}

// evictOldest drops the tail. Must be called with m.mu held.
func (m *Memory) evictOldest() {
	if m.tail != nil {
		m.remove(m.tail)
	}
}
