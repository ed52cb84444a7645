package store

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
)

// MemoryStore is an in-process CounterStore used as the fallback when no
// distributed store endpoint is configured, grounded on
// state.MemoryManager's map-plus-mutex shape (state/memory.go) generalized
// from "disabled-until timestamps" to "named counters".
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
	hashes   map[string]map[string]int64
	lists    map[string][]string
	strings  map[string]string
}

// NewMemoryStore returns a ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]int64),
		hashes:   make(map[string]map[string]int64),
		lists:    make(map[string][]string),
		strings:  make(map[string]string),
	}
}

func (m *MemoryStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key] += delta
	return m.counters[key], nil
}

func (m *MemoryStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]int64)
		m.hashes[key] = h
	}
	h[field] += delta
	return h[field], nil
}

func (m *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for field, v := range m.hashes[key] {
		out[field] = strconv.FormatInt(v, 10)
	}
	return out, nil
}

func (m *MemoryStore) LPushTrim(ctx context.Context, key, value string, maxLen int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]string{value}, m.lists[key]...)
	if int64(len(list)) > maxLen {
		list = list[:maxLen]
	}
	m.lists[key] = list
	return nil
}

func (m *MemoryStore) Trim(ctx context.Context, key string, maxLen int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if int64(len(list)) > maxLen {
		m.lists[key] = list[:maxLen]
	}
	return nil
}

func (m *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	n := int64(len(list))
	if n == 0 {
		return nil, nil
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start < 0 {
		start = 0
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (m *MemoryStore) MGet(ctx context.Context, keys []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(keys))
	for i, k := range keys {
		if v, ok := m.counters[k]; ok {
			out[i] = strconv.FormatInt(v, 10)
		} else {
			out[i] = m.strings[k]
		}
	}
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		m.counters[key] = n
		return nil
	}
	m.strings[key] = value
	return nil
}

func (m *MemoryStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	addMatching := func(key string) {
		if seen[key] {
			return
		}
		if ok, _ := path.Match(pattern, key); ok {
			seen[key] = true
			out = append(out, key)
		}
	}
	for k := range m.counters {
		addMatching(k)
	}
	for k := range m.hashes {
		addMatching(k)
	}
	for k := range m.lists {
		addMatching(k)
	}
	for k := range m.strings {
		addMatching(k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Ready(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
