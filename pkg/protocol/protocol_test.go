package protocol

import (
	"errors"
	"testing"

	"swarm/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagString(t *testing.T) {
	assert.Equal(t, "REQUEST_SWARM", TagRequestSwarm.String())
	assert.Equal(t, "CHUNK_RESPONSE", TagChunkResponse.String())
	assert.Equal(t, "TAG(99)", Tag(99).String())
}

func TestSwarmReplyKeepsNotFoundEntries(t *testing.T) {
	reply := SwarmReply{Entries: []SwarmInfo{
		{Name: "f", Found: true, Providers: []types.NodeID{1, 2}, Chunks: []types.ChunkHash{"h1", "h2"}},
		{Name: "missing"},
	}}

	data, err := Marshal(reply)
	require.NoError(t, err)

	var decoded SwarmReply
	require.NoError(t, Unmarshal(data, &decoded))
	require.Len(t, decoded.Entries, 2)
	assert.True(t, decoded.Entries[0].Found)
	assert.Equal(t, []types.NodeID{1, 2}, decoded.Entries[0].Providers)
	assert.False(t, decoded.Entries[1].Found)
	assert.Equal(t, types.FileName("missing"), decoded.Entries[1].Name)
}

func TestEmptyPayload(t *testing.T) {
	data, err := Marshal(nil)
	require.NoError(t, err)
	assert.Empty(t, data)

	var done FileDone
	require.NoError(t, Unmarshal(data, &done))
	assert.Empty(t, done.Name)
}

func TestUnmarshalMalformed(t *testing.T) {
	var req ChunkRequest
	err := Unmarshal([]byte{0xc1}, &req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestChunkResponseOK(t *testing.T) {
	assert.True(t, ChunkResponse{Status: StatusACK}.OK())
	assert.False(t, ChunkResponse{Status: StatusNACK}.OK())
	assert.False(t, ChunkResponse{}.OK())
}
