package main

import (
	"context"
	"testing"
	"time"

	"swarm/pkg/simulation"
	"swarm/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		got      []types.ChunkHash
		expected []types.ChunkHash
		want     fileStatus
	}{
		{"Complete", []types.ChunkHash{"h1"}, []types.ChunkHash{"h1"}, statusComplete},
		{"Partial", nil, []types.ChunkHash{"h1"}, statusPartial},
		{"EmptyFile", nil, []types.ChunkHash{}, statusComplete},
		{"Unknown", nil, nil, statusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.got, tt.expected))
		})
	}
}

func TestRenderSummary(t *testing.T) {
	scenario := simulation.Scenario{Inputs: []types.NodeInput{
		{Owned: []types.File{{Name: "f", Chunks: []types.ChunkHash{"h1", "h2"}}}},
		{Wanted: []types.FileName{"f", "ghost"}},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := simulation.Run(ctx, scenario, simulation.Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	out := renderSummary(scenario, result)
	assert.Contains(t, out, "SWARM SUMMARY")
	assert.Contains(t, out, "peer-2")
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, "COMPLETE")
	assert.Contains(t, out, "UNKNOWN")
	assert.Contains(t, out, "1/2 complete")
}

func TestRenderMiniBar(t *testing.T) {
	bar := renderMiniBar(50, 4)
	assert.Contains(t, bar, "▪▪")
	assert.Contains(t, bar, "··")
}
