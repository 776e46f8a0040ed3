package storage

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"swarm/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimalChunkSize(t *testing.T) {
	tests := []struct {
		name     string
		fileSize int64
		expected int
	}{
		{"Small file (<1MB)", 512 * 1024, SmallChunkSize},
		{"Medium file (1-100MB)", 50 * 1024 * 1024, DefaultChunkSize},
		{"Large file (>100MB)", 200 * 1024 * 1024, LargeChunkSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, OptimalChunkSize(tt.fileSize))
		})
	}
}

func TestHashChunks(t *testing.T) {
	data := make([]byte, 10*1024+17)
	_, err := rand.Read(data)
	require.NoError(t, err)

	hashes, err := HashChunks(bytes.NewReader(data), 1024)
	require.NoError(t, err)
	require.Len(t, hashes, 11)
	for _, h := range hashes {
		assert.Len(t, string(h), types.HashSize)
	}

	again, err := HashChunks(bytes.NewReader(data), 1024)
	require.NoError(t, err)
	assert.Equal(t, hashes, again, "hashing must be deterministic")

	t.Run("IdenticalChunksShareHash", func(t *testing.T) {
		same, err := HashChunks(strings.NewReader("abcdabcd"), 4)
		require.NoError(t, err)
		require.Len(t, same, 2)
		assert.Equal(t, same[0], same[1])
	})

	t.Run("Empty", func(t *testing.T) {
		none, err := HashChunks(bytes.NewReader(nil), 4)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie.bin")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 300), 0644))

	file, err := HashFile(path, "", 100)
	require.NoError(t, err)
	assert.Equal(t, types.FileName("movie.bin"), file.Name)
	assert.Len(t, file.Chunks, 3)

	_, err = HashFile(path, "a-name-that-is-too-long", 100)
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing"), "m", 100)
	assert.Error(t, err)
}

func TestParseInput(t *testing.T) {
	raw := `2
file1 3
h1
h2
h3
file2 1
h9
2
file3
file4
`
	input, err := ParseInput(strings.NewReader(raw))
	require.NoError(t, err)

	require.Len(t, input.Owned, 2)
	assert.Equal(t, types.File{Name: "file1", Chunks: []types.ChunkHash{"h1", "h2", "h3"}}, input.Owned[0])
	assert.Equal(t, types.File{Name: "file2", Chunks: []types.ChunkHash{"h9"}}, input.Owned[1])
	assert.Equal(t, []types.FileName{"file3", "file4"}, input.Wanted)
}

func TestParseInputErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"Empty", ""},
		{"BadCount", "x"},
		{"NegativeCount", "-1"},
		{"MissingHashes", "1 f 3 h1 h2"},
		{"MissingWanted", "0"},
		{"TruncatedWanted", "0 2 a"},
		{"NameTooLong", "0 1 sixteen-chars-xx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInput(strings.NewReader(tt.raw))
			assert.ErrorIs(t, err, ErrMalformedInput)
		})
	}
}

func TestWriteInputRoundTrip(t *testing.T) {
	input := types.NodeInput{
		Owned: []types.File{
			{Name: "f", Chunks: []types.ChunkHash{"h1", "h2"}},
			{Name: "empty", Chunks: []types.ChunkHash{}},
		},
		Wanted: []types.FileName{"g"},
	}

	path := filepath.Join(t.TempDir(), InputName(1))
	var buf bytes.Buffer
	require.NoError(t, WriteInput(&buf, input))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	parsed, err := ReadInput(path)
	require.NoError(t, err)
	assert.Equal(t, input, parsed)
}

func TestDirWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	writer := NewDirWriter(dir)

	file := types.File{Name: "f", Chunks: []types.ChunkHash{"h1", "h2"}}
	require.NoError(t, writer.WriteFile(2, file))

	path := filepath.Join(dir, "client2_f")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "h1\nh2", string(data), "no trailing newline")

	hashes, err := ReadOutput(path)
	require.NoError(t, err)
	assert.Equal(t, file.Chunks, hashes)

	t.Run("ZeroChunks", func(t *testing.T) {
		require.NoError(t, writer.WriteFile(3, types.File{Name: "ghost"}))
		data, err := os.ReadFile(filepath.Join(dir, OutputName(3, "ghost")))
		require.NoError(t, err)
		assert.Empty(t, data)
	})
}

func TestMemoryWriter(t *testing.T) {
	writer := NewMemoryWriter()
	file := types.File{Name: "b", Chunks: []types.ChunkHash{"h1"}}
	require.NoError(t, writer.WriteFile(1, file))
	require.NoError(t, writer.WriteFile(1, types.File{Name: "a"}))

	// The writer keeps its own copy
	file.Chunks[0] = "mutated"

	got, ok := writer.Get(1, "b")
	require.True(t, ok)
	assert.Equal(t, []types.ChunkHash{"h1"}, got.Chunks)

	_, ok = writer.Get(2, "b")
	assert.False(t, ok)

	files := writer.Files(1)
	require.Len(t, files, 2)
	assert.Equal(t, types.FileName("a"), files[0].Name)
}
