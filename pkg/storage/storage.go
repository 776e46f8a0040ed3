package storage

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"swarm/pkg/types"
)

const (
	DefaultChunkSize = 1024 * 1024     // 1MB chunks
	SmallChunkSize   = 64 * 1024       // 64KB for small files
	LargeChunkSize   = 4 * 1024 * 1024 // 4MB for large files

	SmallFileThreshold = 1024 * 1024       // Files < 1MB
	LargeFileThreshold = 100 * 1024 * 1024 // Files > 100MB
)

// OptimalChunkSize picks a chunk size for a file of the given size
func OptimalChunkSize(fileSize int64) int {
	if fileSize < SmallFileThreshold {
		return SmallChunkSize
	} else if fileSize > LargeFileThreshold {
		return LargeChunkSize
	}
	return DefaultChunkSize
}

// HashChunks splits r into chunkSize segments and returns one hash per
// segment. Each hash is the hex form of the first half of the segment's
// SHA-256 digest, types.HashSize characters wide.
func HashChunks(r io.Reader, chunkSize int) ([]types.ChunkHash, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	reader := bufio.NewReaderSize(r, chunkSize)
	buffer := make([]byte, chunkSize)
	hashes := []types.ChunkHash{}

	for {
		n, err := io.ReadFull(reader, buffer)
		if n > 0 {
			sum := sha256.Sum256(buffer[:n])
			hashes = append(hashes, types.ChunkHash(hex.EncodeToString(sum[:types.HashSize/2])))
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read data: %w", err)
		}
	}

	return hashes, nil
}

// HashFile describes the file at path as a swarm file. A zero chunkSize
// selects OptimalChunkSize for the file. The file name defaults to the
// base name of path.
func HashFile(path string, name types.FileName, chunkSize int) (types.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.File{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if chunkSize <= 0 {
		info, err := f.Stat()
		if err != nil {
			return types.File{}, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		chunkSize = OptimalChunkSize(info.Size())
	}
	if name == "" {
		name = types.FileName(filepath.Base(path))
	}
	if err := validateName(name); err != nil {
		return types.File{}, err
	}

	hashes, err := HashChunks(f, chunkSize)
	if err != nil {
		return types.File{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return types.File{Name: name, Chunks: hashes}, nil
}
