// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry tracks which identity owns which live tunnel.
//
// A [Registry] is an explicitly constructed value shared between the
// broker (the only writer) and the relay router (a reader). There is
// no package-level table, so several brokers can run in one process.
//
// The map is split into shards, each behind its own RWMutex, so a
// registration only contends with lookups whose identity hashes to the
// same shard. Entries are immutable once stored: writers swap whole
// *Entry pointers, so readers never observe a half-written entry.
package registry

import (
	"hash/fnv"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Sender is a live multiplexed request channel to one agent.
// *transport.Tunnel implements it.
type Sender interface {
	RoundTrip(request *http.Request) (*http.Response, error)

	// Done is closed when the sender's connection has ended.
	Done() <-chan struct{}
}

// Entry is one identity's current tunnel.
type Entry struct {
	Identity    string
	Sender      Sender
	ConnectedAt time.Time
}

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// Registry maps identities to senders. The zero value is not usable;
// call New.
type Registry struct {
	shards [shardCount]shard
	now    func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	registry := &Registry{now: time.Now}
	for index := range registry.shards {
		registry.shards[index].entries = make(map[string]*Entry)
	}
	return registry
}

func (r *Registry) shardFor(identity string) *shard {
	hasher := fnv.New32a()
	hasher.Write([]byte(identity))
	return &r.shards[hasher.Sum32()%shardCount]
}

// Register stores sender as identity's tunnel. It returns the stored
// entry, which is the handle for a later Evict, and the sender it
// replaced, or nil. The last registration wins; the replaced sender is
// not closed or drained, it simply stops being reachable.
func (r *Registry) Register(identity string, sender Sender) (*Entry, Sender) {
	entry := &Entry{Identity: identity, Sender: sender, ConnectedAt: r.now()}

	s := r.shardFor(identity)
	s.mu.Lock()
	previous := s.entries[identity]
	s.entries[identity] = entry
	s.mu.Unlock()

	if previous == nil {
		return entry, nil
	}
	return entry, previous.Sender
}

// Lookup returns identity's sender.
func (r *Registry) Lookup(identity string) (Sender, bool) {
	entry, ok := r.Entry(identity)
	if !ok {
		return nil, false
	}
	return entry.Sender, true
}

// Entry returns identity's current entry. The entry is shared and must
// not be modified.
func (r *Registry) Entry(identity string) (*Entry, bool) {
	s := r.shardFor(identity)
	s.mu.RLock()
	entry := s.entries[identity]
	s.mu.RUnlock()
	return entry, entry != nil
}

// Evict removes entry's identity only if entry is still the one
// stored, and reports whether it did. Entries are matched by pointer,
// so a tunnel that has been replaced by a reconnect cannot evict its
// successor, and Sender implementations need not be comparable.
func (r *Registry) Evict(entry *Entry) bool {
	if entry == nil {
		return false
	}
	s := r.shardFor(entry.Identity)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[entry.Identity] != entry {
		return false
	}
	delete(s.entries, entry.Identity)
	return true
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	total := 0
	for index := range r.shards {
		s := &r.shards[index]
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// Snapshot returns every entry, sorted by identity. Shards are read one
// at a time, so the result is not an atomic view of the whole table.
func (r *Registry) Snapshot() []Entry {
	var entries []Entry
	for index := range r.shards {
		s := &r.shards[index]
		s.mu.RLock()
		for _, entry := range s.entries {
			entries = append(entries, *entry)
		}
		s.mu.RUnlock()
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Identity < entries[j].Identity })
	return entries
}
