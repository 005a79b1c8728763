package cachestore

import (
	"sort"
	"sync"
)

type Memory struct {
	mu   sync.RWMutex
	gens map[string]map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{gens: make(map[string]map[string]Entry)}
}

func (m *Memory) Open(name string) (Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gens[name]; !ok {
		m.gens[name] = make(map[string]Entry)
	}
	return &memCache{m: m, name: name}, nil
}

func (m *Memory) Has(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.gens[name]
	return ok, nil
}

func (m *Memory) Names() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.gens))
	for name := range m.gens {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Delete(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.gens[name]
	delete(m.gens, name)
	return ok, nil
}

func (m *Memory) Close() error { return nil }

type memCache struct {
	m    *Memory
	name string
}

func (c *memCache) Name() string { return c.name }

func (c *memCache) Match(identity string) (Entry, bool, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	ent, ok := c.m.gens[c.name][identity]
	return ent, ok, nil
}

// Put on a generation deleted after Open recreates it, mirroring leveldb
// where entries can be written under a dropped marker.
func (c *memCache) Put(identity string, ent Entry) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	gen, ok := c.m.gens[c.name]
	if !ok {
		gen = make(map[string]Entry)
		c.m.gens[c.name] = gen
	}
	gen[identity] = ent
	return nil
}

func (c *memCache) Delete(identity string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	delete(c.m.gens[c.name], identity)
	return nil
}

func (c *memCache) Keys() ([]string, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	out := make([]string, 0, len(c.m.gens[c.name]))
	for k := range c.m.gens[c.name] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
