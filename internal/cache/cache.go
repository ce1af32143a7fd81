// Package cache keeps short lived Discord and OAuth data in memory.
package cache

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type namespace interface {
	name() string
	len() int
	maxSize() int
	purge()
}

// Store groups namespaces so they can be reported on and cleared together.
type Store struct {
	mu         sync.Mutex
	namespaces []namespace
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) register(ns namespace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces = append(s.namespaces, ns)
}

type NamespaceStats struct {
	Name            string  `json:"name"`
	Items           int     `json:"items"`
	MaxSize         int     `json:"max_size"`
	UsagePercentage float64 `json:"usage_percentage"`
}

type Stats struct {
	TotalItems      int              `json:"total_items"`
	MaxSize         int              `json:"max_size"`
	UsagePercentage float64          `json:"usage_percentage"`
	Namespaces      []NamespaceStats `json:"namespaces"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, ns := range s.namespaces {
		n, max := ns.len(), ns.maxSize()
		st.TotalItems += n
		st.MaxSize += max
		st.Namespaces = append(st.Namespaces, NamespaceStats{
			Name:            ns.name(),
			Items:           n,
			MaxSize:         max,
			UsagePercentage: percent(n, max),
		})
	}
	st.UsagePercentage = percent(st.TotalItems, st.MaxSize)
	sort.Slice(st.Namespaces, func(i, j int) bool { return st.Namespaces[i].Name < st.Namespaces[j].Name })
	return st
}

// Clear empties every namespace.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ns := range s.namespaces {
		ns.purge()
	}
}

func percent(n, max int) float64 {
	if max == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(max)*10000) / 100
}

// Namespace is a size bounded map whose entries expire after a fixed TTL.
// The least recently used entry is evicted first when full.
type Namespace[V any] struct {
	label string
	size  int
	lru   *expirable.LRU[string, V]
}

// NewNamespace creates a namespace and registers it with the store.
func NewNamespace[V any](s *Store, name string, size int, ttl time.Duration) *Namespace[V] {
	ns := &Namespace[V]{
		label: name,
		size:  size,
		lru:   expirable.NewLRU[string, V](size, nil, ttl),
	}
	if s != nil {
		s.register(ns)
	}
	return ns
}

func (n *Namespace[V]) Get(key string) (V, bool) {
	return n.lru.Get(key)
}

func (n *Namespace[V]) Set(key string, value V) {
	n.lru.Add(key, value)
}

func (n *Namespace[V]) Delete(key string) {
	n.lru.Remove(key)
}

// Take returns and removes the entry. Of concurrent callers only the one
// whose Remove actually dropped the key gets the value.
func (n *Namespace[V]) Take(key string) (V, bool) {
	v, ok := n.lru.Peek(key)
	if !ok || !n.lru.Remove(key) {
		var zero V
		return zero, false
	}
	return v, true
}

func (n *Namespace[V]) Len() int {
	return n.lru.Len()
}

func (n *Namespace[V]) name() string { return n.label }
func (n *Namespace[V]) len() int     { return n.lru.Len() }
func (n *Namespace[V]) maxSize() int { return n.size }
func (n *Namespace[V]) purge()       { n.lru.Purge() }
