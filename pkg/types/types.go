package types

import "fmt"

// NodeID is the dense rank assigned to every process in the swarm.
type NodeID int

// FileName is the tracker-wide key of a shared file.
type FileName string

// ChunkHash identifies one segment of a file. Only identifiers travel
// between nodes; chunk content is never modelled.
type ChunkHash string

const (
	// TrackerID is the rank of the coordinating node.
	TrackerID NodeID = 0

	// HashSize is the width of hashes produced by storage.HashChunks.
	HashSize = 32

	// MaxFileNameLength bounds names accepted from input artifacts.
	MaxFileNameLength = 15
)

func (id NodeID) String() string {
	if id == TrackerID {
		return "tracker"
	}
	return fmt.Sprintf("peer-%d", int(id))
}

// IsTracker reports whether the node coordinates the swarm.
func (id NodeID) IsTracker() bool {
	return id == TrackerID
}

// File describes a shared file as an ordered list of chunk hashes. The
// order is the byte order of the reconstructed file.
type File struct {
	Name   FileName    `msgpack:"name" json:"name" yaml:"name"`
	Chunks []ChunkHash `msgpack:"chunks" json:"chunks" yaml:"chunks"`
}

// Clone returns a copy that shares no memory with f.
func (f File) Clone() File {
	chunks := make([]ChunkHash, len(f.Chunks))
	copy(chunks, f.Chunks)
	return File{Name: f.Name, Chunks: chunks}
}

// SwarmEntry is the tracker's record for one file: its chunk sequence and
// the nodes that may serve it, in the order they joined.
type SwarmEntry struct {
	File      File
	Providers []NodeID
}

// HasProvider reports whether id is part of the swarm.
func (e *SwarmEntry) HasProvider(id NodeID) bool {
	for _, p := range e.Providers {
		if p == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the entry.
func (e *SwarmEntry) Clone() SwarmEntry {
	providers := make([]NodeID, len(e.Providers))
	copy(providers, e.Providers)
	return SwarmEntry{File: e.File.Clone(), Providers: providers}
}

// NodeInput is everything a peer knows when it starts: the files it
// already holds and the names of the files it wants.
type NodeInput struct {
	Owned  []File
	Wanted []FileName
}
