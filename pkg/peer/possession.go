package peer

import (
	"sync"

	"swarm/pkg/types"
)

// Possession is a node's owned-files state: for every file it owns or is
// assembling, the chunk hashes it holds in acquisition order. The
// downloader is the only writer; the uploader reads concurrently.
type Possession struct {
	mu      sync.RWMutex
	order   []types.FileName
	files   map[types.FileName][]types.ChunkHash
	perFile map[types.FileName]map[types.ChunkHash]struct{}
	// holders counts how many lists contain each hash
	holders map[types.ChunkHash]int
}

func NewPossession() *Possession {
	return &Possession{
		files:   make(map[types.FileName][]types.ChunkHash),
		perFile: make(map[types.FileName]map[types.ChunkHash]struct{}),
		holders: make(map[types.ChunkHash]int),
	}
}

// Seed records files owned from the start
func (p *Possession) Seed(files []types.File) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, file := range files {
		p.startLocked(file.Name)
		for _, hash := range file.Chunks {
			p.appendLocked(file.Name, hash)
		}
	}
}

// Start opens an empty list for name so partial downloads are visible to
// the uploader. An existing list is kept.
func (p *Possession) Start(name types.FileName) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startLocked(name)
}

// Append records an acknowledged chunk of name
func (p *Possession) Append(name types.FileName, hash types.ChunkHash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startLocked(name)
	p.appendLocked(name, hash)
}

// Has reports whether hash is already in the list of name
func (p *Possession) Has(name types.FileName, hash types.ChunkHash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.perFile[name][hash]
	return ok
}

// Contains reports whether any list holds hash
func (p *Possession) Contains(hash types.ChunkHash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.holders[hash] > 0
}

// Chunks copies the list of name
func (p *Possession) Chunks(name types.FileName) []types.ChunkHash {
	p.mu.RLock()
	defer p.mu.RUnlock()

	chunks := make([]types.ChunkHash, len(p.files[name]))
	copy(chunks, p.files[name])
	return chunks
}

// Files copies every list in the order the files were first seen
func (p *Possession) Files() []types.File {
	p.mu.RLock()
	defer p.mu.RUnlock()

	files := make([]types.File, 0, len(p.order))
	for _, name := range p.order {
		files = append(files, types.File{Name: name, Chunks: p.files[name]}.Clone())
	}
	return files
}

func (p *Possession) startLocked(name types.FileName) {
	if _, ok := p.files[name]; ok {
		return
	}
	p.files[name] = []types.ChunkHash{}
	p.perFile[name] = make(map[types.ChunkHash]struct{})
	p.order = append(p.order, name)
}

func (p *Possession) appendLocked(name types.FileName, hash types.ChunkHash) {
	p.files[name] = append(p.files[name], hash)
	if _, ok := p.perFile[name][hash]; !ok {
		p.perFile[name][hash] = struct{}{}
		p.holders[hash]++
	}
}
