package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"swarm/pkg/types"
)

// OutputWriter persists a finished download
type OutputWriter interface {
	WriteFile(rank types.NodeID, file types.File) error
}

// OutputName is the artifact name for a file downloaded by rank
func OutputName(rank types.NodeID, name types.FileName) string {
	return fmt.Sprintf("client%d_%s", int(rank), name)
}

// DirWriter writes one artifact per download into a directory, the chunk
// hashes one per line in acquisition order.
type DirWriter struct {
	dir string
}

func NewDirWriter(dir string) *DirWriter {
	return &DirWriter{dir: dir}
}

func (d *DirWriter) WriteFile(rank types.NodeID, file types.File) error {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	lines := make([]string, len(file.Chunks))
	for i, hash := range file.Chunks {
		lines[i] = string(hash)
	}

	path := filepath.Join(d.dir, OutputName(rank, file.Name))
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return fmt.Errorf("failed to write output %s: %w", path, err)
	}
	return nil
}

// ReadOutput loads an artifact written by DirWriter
func ReadOutput(path string) ([]types.ChunkHash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read output %s: %w", path, err)
	}
	hashes := []types.ChunkHash{}
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			hashes = append(hashes, types.ChunkHash(line))
		}
	}
	return hashes, nil
}

// MemoryWriter keeps finished downloads in memory, keyed by rank
type MemoryWriter struct {
	mu    sync.Mutex
	files map[types.NodeID]map[types.FileName]types.File
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{files: make(map[types.NodeID]map[types.FileName]types.File)}
}

func (m *MemoryWriter) WriteFile(rank types.NodeID, file types.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.files[rank] == nil {
		m.files[rank] = make(map[types.FileName]types.File)
	}
	m.files[rank][file.Name] = file.Clone()
	return nil
}

// Get returns the file written by rank, if any
func (m *MemoryWriter) Get(rank types.NodeID, name types.FileName) (types.File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[rank][name]
	if !ok {
		return types.File{}, false
	}
	return file.Clone(), true
}

// Files returns every file written by rank, sorted by name
func (m *MemoryWriter) Files(rank types.NodeID) []types.File {
	m.mu.Lock()
	defer m.mu.Unlock()

	files := make([]types.File, 0, len(m.files[rank]))
	for _, file := range m.files[rank] {
		files = append(files, file.Clone())
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files
}
