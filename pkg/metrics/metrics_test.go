package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSwarmMetrics_Creation(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewSwarmMetrics(registry)

	if metrics.RegisteredFiles == nil {
		t.Error("RegisteredFiles metric not created")
	}
	if metrics.ChunkRequests == nil {
		t.Error("ChunkRequests metric not created")
	}
	if metrics.UploadsServed == nil {
		t.Error("UploadsServed metric not created")
	}
}

func TestSwarmMetrics_Observations(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewSwarmMetrics(registry)

	metrics.ObserveRegistration(3)
	metrics.ObserveTrackerRequest("REQUEST_SWARM")
	metrics.ObserveTrackerRequest("REQUEST_SWARM")
	metrics.ObserveSwarmSize("f", 4)
	metrics.ObserveChunkRequest("peer-1", "NACK", time.Millisecond)
	metrics.ObserveChunkRequest("peer-1", "ACK", time.Millisecond)
	metrics.ObserveChunkAcquired("peer-1")
	metrics.ObserveUpload("peer-2", "ACK")

	if got := testutil.ToFloat64(metrics.RegisteredFiles); got != 3 {
		t.Errorf("RegisteredFiles = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.TrackerRequests.WithLabelValues("REQUEST_SWARM")); got != 2 {
		t.Errorf("TrackerRequests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.SwarmSize.WithLabelValues("f")); got != 4 {
		t.Errorf("SwarmSize = %v, want 4", got)
	}
	if got := testutil.ToFloat64(metrics.ChunkRequests.WithLabelValues("peer-1", "NACK")); got != 1 {
		t.Errorf("ChunkRequests NACK = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ChunksAcquired.WithLabelValues("peer-1")); got != 1 {
		t.Errorf("ChunksAcquired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.UploadsServed.WithLabelValues("peer-2", "ACK")); got != 1 {
		t.Errorf("UploadsServed = %v, want 1", got)
	}
}

func TestSwarmMetrics_NilReceiver(t *testing.T) {
	var metrics *SwarmMetrics

	// None of these may panic
	metrics.ObserveRegistration(1)
	metrics.ObserveTrackerRequest("ALL_DONE")
	metrics.ObserveChunkRequest("peer-1", "ACK", time.Second)
	metrics.ObserveUpload("peer-1", "NACK")
	metrics.ObserveRefresh("peer-1")
}
