// Package protocol defines the messages exchanged between the tracker and
// the peers of a swarm, and the msgpack encoding they travel in.
package protocol

import (
	"errors"
	"fmt"

	"swarm/pkg/types"

	"github.com/vmihailenco/msgpack/v5"
)

// Tag discriminates the logical channel a message belongs to.
type Tag int32

const (
	TagRegister Tag = iota + 1
	TagRegisterAck
	TagRequestSwarm
	TagRefreshSwarm
	TagSwarmReply
	TagFileDone
	TagAllDone
	TagTerminate
	TagChunkRequest
	TagChunkResponse
)

var tagNames = map[Tag]string{
	TagRegister:      "REGISTER",
	TagRegisterAck:   "REGISTER_ACK",
	TagRequestSwarm:  "REQUEST_SWARM",
	TagRefreshSwarm:  "REFRESH_SWARM",
	TagSwarmReply:    "SWARM_REPLY",
	TagFileDone:      "FILE_DONE",
	TagAllDone:       "ALL_DONE",
	TagTerminate:     "TERMINATE",
	TagChunkRequest:  "CHUNK_REQUEST",
	TagChunkResponse: "CHUNK_RESPONSE",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TAG(%d)", int32(t))
}

// Status values carried by acknowledgments.
const (
	StatusACK  = "ACK"
	StatusNACK = "NACK"
)

// ErrDecode is returned when a payload does not match the expected message.
var ErrDecode = errors.New("malformed payload")

// RegisterRequest declares the files a peer owns at startup.
type RegisterRequest struct {
	Files []types.File `msgpack:"files"`
}

// RegisterAck closes the registration phase.
type RegisterAck struct {
	Status string `msgpack:"status"`
}

// SwarmQuery asks for the swarms of the named files. It is used for both
// the initial request and the periodic refresh.
type SwarmQuery struct {
	Names []types.FileName `msgpack:"names"`
}

// SwarmInfo is the tracker's answer for one queried name. Chunks is only
// populated in answers to TagRequestSwarm.
type SwarmInfo struct {
	Name      types.FileName    `msgpack:"name"`
	Found     bool              `msgpack:"found"`
	Providers []types.NodeID    `msgpack:"providers"`
	Chunks    []types.ChunkHash `msgpack:"chunks,omitempty"`
}

// SwarmReply carries one entry per queried name, in query order.
type SwarmReply struct {
	Entries []SwarmInfo `msgpack:"entries"`
}

// FileDone reports that a peer finished one wanted file.
type FileDone struct {
	Name types.FileName `msgpack:"name"`
}

// ChunkRequest asks a provider whether it holds a chunk.
type ChunkRequest struct {
	Hash types.ChunkHash `msgpack:"hash"`
}

// ChunkResponse answers a ChunkRequest with StatusACK or StatusNACK.
type ChunkResponse struct {
	Status string `msgpack:"status"`
}

// OK reports a positive acknowledgment.
func (r ChunkResponse) OK() bool {
	return r.Status == StatusACK
}

// Marshal encodes a message. A nil message encodes to an empty payload.
func Marshal(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal decodes a payload into v. Empty payloads leave v untouched.
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 || v == nil {
		return nil
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %T: %v", ErrDecode, v, err)
	}
	return nil
}
