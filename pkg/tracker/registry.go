package tracker

import (
	"sync"

	"swarm/pkg/types"
)

// Registry maps file names to their swarm. Entries are never removed and
// providers only ever join, so a provider list read at any point is a
// prefix of every later read.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.FileName]*types.SwarmEntry
	order   []types.FileName
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[types.FileName]*types.SwarmEntry),
	}
}

// Register records owner as a provider of file. The first registration of
// a name fixes its chunk sequence; conflict reports a later registration
// whose sequence disagrees with it.
func (r *Registry) Register(owner types.NodeID, file types.File) (created, conflict bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[file.Name]
	if !exists {
		entry = &types.SwarmEntry{File: file.Clone()}
		r.entries[file.Name] = entry
		r.order = append(r.order, file.Name)
		created = true
	} else {
		conflict = !sameChunks(entry.File.Chunks, file.Chunks)
	}

	if !entry.HasProvider(owner) {
		entry.Providers = append(entry.Providers, owner)
	}
	return created, conflict
}

// Join adds node to the swarm of name if it is not already part of it and
// returns a copy of the updated entry.
func (r *Registry) Join(name types.FileName, node types.NodeID) (types.SwarmEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[name]
	if !exists {
		return types.SwarmEntry{}, false
	}
	if !entry.HasProvider(node) {
		entry.Providers = append(entry.Providers, node)
	}
	return entry.Clone(), true
}

// Lookup returns a copy of the entry for name
func (r *Registry) Lookup(name types.FileName) (types.SwarmEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[name]
	if !exists {
		return types.SwarmEntry{}, false
	}
	return entry.Clone(), true
}

// Len returns the number of known files
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot copies every entry in registration order
func (r *Registry) Snapshot() []types.SwarmEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]types.SwarmEntry, 0, len(r.order))
	for _, name := range r.order {
		snapshot = append(snapshot, r.entries[name].Clone())
	}
	return snapshot
}

func sameChunks(a, b []types.ChunkHash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
