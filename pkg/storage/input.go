package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"swarm/pkg/types"
)

// ErrMalformedInput is returned when an input artifact does not follow
// the expected token layout.
var ErrMalformedInput = errors.New("malformed input")

// ReadInput loads a node's input artifact from disk
func ReadInput(path string) (types.NodeInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.NodeInput{}, fmt.Errorf("failed to open input %s: %w", path, err)
	}
	defer f.Close()

	input, err := ParseInput(f)
	if err != nil {
		return types.NodeInput{}, fmt.Errorf("failed to parse input %s: %w", path, err)
	}
	return input, nil
}

// ParseInput reads whitespace-separated tokens:
//
//	<owned count> { <name> <chunk count> <hash>... } <wanted count> { <name> }
func ParseInput(r io.Reader) (types.NodeInput, error) {
	tokens := &tokenReader{scanner: bufio.NewScanner(r)}
	tokens.scanner.Split(bufio.ScanWords)

	var input types.NodeInput

	owned, err := tokens.count("owned file count")
	if err != nil {
		return input, err
	}
	for i := 0; i < owned; i++ {
		name, err := tokens.name()
		if err != nil {
			return input, err
		}
		chunks, err := tokens.count("chunk count")
		if err != nil {
			return input, err
		}
		file := types.File{Name: name, Chunks: make([]types.ChunkHash, 0, chunks)}
		for j := 0; j < chunks; j++ {
			hash, err := tokens.next("chunk hash")
			if err != nil {
				return input, err
			}
			file.Chunks = append(file.Chunks, types.ChunkHash(hash))
		}
		input.Owned = append(input.Owned, file)
	}

	wanted, err := tokens.count("wanted file count")
	if err != nil {
		return input, err
	}
	for i := 0; i < wanted; i++ {
		name, err := tokens.name()
		if err != nil {
			return input, err
		}
		input.Wanted = append(input.Wanted, name)
	}

	return input, nil
}

// WriteInput renders input in the layout ParseInput accepts
func WriteInput(w io.Writer, input types.NodeInput) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "%d\n", len(input.Owned))
	for _, file := range input.Owned {
		fmt.Fprintf(bw, "%s %d\n", file.Name, len(file.Chunks))
		for _, hash := range file.Chunks {
			fmt.Fprintf(bw, "%s\n", hash)
		}
	}
	fmt.Fprintf(bw, "%d\n", len(input.Wanted))
	for _, name := range input.Wanted {
		fmt.Fprintf(bw, "%s\n", name)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write input: %w", err)
	}
	return nil
}

// InputName is the artifact name read by the peer with the given rank
func InputName(rank types.NodeID) string {
	return fmt.Sprintf("in%d.txt", int(rank))
}

type tokenReader struct {
	scanner *bufio.Scanner
}

func (t *tokenReader) next(what string) (string, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read %s: %w", what, err)
		}
		return "", fmt.Errorf("%w: missing %s", ErrMalformedInput, what)
	}
	return t.scanner.Text(), nil
}

func (t *tokenReader) count(what string) (int, error) {
	token, err := t.next(what)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrMalformedInput, what, token)
	}
	return n, nil
}

func (t *tokenReader) name() (types.FileName, error) {
	token, err := t.next("file name")
	if err != nil {
		return "", err
	}
	name := types.FileName(token)
	if err := validateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func validateName(name types.FileName) error {
	if len(name) == 0 || len(name) > types.MaxFileNameLength {
		return fmt.Errorf("%w: file name %q must be 1-%d characters", ErrMalformedInput, name, types.MaxFileNameLength)
	}
	return nil
}
