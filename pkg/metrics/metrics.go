package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SwarmMetrics tracks tracker and peer activity. Every method is safe on a
// nil receiver so components can run without metrics.
type SwarmMetrics struct {
	// Tracker metrics
	RegisteredFiles prometheus.Gauge
	Registrations   prometheus.Counter
	TrackerRequests *prometheus.CounterVec
	SwarmSize       *prometheus.GaugeVec
	UnknownFiles    prometheus.Counter
	CompletedPeers  prometheus.Gauge

	// Downloader metrics
	ChunkRequests  *prometheus.CounterVec
	ChunksAcquired *prometheus.CounterVec
	ChunksSkipped  *prometheus.CounterVec
	RefreshRounds  *prometheus.CounterVec
	FilesCompleted *prometheus.CounterVec
	ChunkLatency   prometheus.Histogram

	// Uploader metrics
	UploadsServed *prometheus.CounterVec
}

// NewSwarmMetrics creates and registers Prometheus metrics
func NewSwarmMetrics(registry prometheus.Registerer) *SwarmMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &SwarmMetrics{
		RegisteredFiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_tracker_files",
			Help: "Number of files known to the tracker",
		}),
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "swarm_tracker_registrations_total",
			Help: "Total number of peer registrations received",
		}),
		TrackerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_tracker_requests_total",
			Help: "Control messages handled by the tracker",
		}, []string{"tag"}),
		SwarmSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarm_tracker_providers",
			Help: "Number of providers in each file's swarm",
		}, []string{"file"}),
		UnknownFiles: factory.NewCounter(prometheus.CounterOpts{
			Name: "swarm_tracker_unknown_files_total",
			Help: "Queries for file names the tracker does not know",
		}),
		CompletedPeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_tracker_completed_peers",
			Help: "Peers that reported all downloads complete",
		}),

		ChunkRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_peer_chunk_requests_total",
			Help: "Chunk requests sent to providers, by answer",
		}, []string{"node", "status"}),
		ChunksAcquired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_peer_chunks_acquired_total",
			Help: "Chunks acknowledged by a provider",
		}, []string{"node"}),
		ChunksSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_peer_chunks_skipped_total",
			Help: "Chunks left out because no provider was available",
		}, []string{"node"}),
		RefreshRounds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_peer_refresh_rounds_total",
			Help: "Swarm refresh rounds issued to the tracker",
		}, []string{"node"}),
		FilesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_peer_files_completed_total",
			Help: "Wanted files finished and persisted",
		}, []string{"node"}),
		ChunkLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "swarm_peer_chunk_latency_seconds",
			Help:    "Provider round-trip latency per chunk request",
			Buckets: prometheus.DefBuckets,
		}),

		UploadsServed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_peer_uploads_total",
			Help: "Chunk requests answered by the uploader, by answer",
		}, []string{"node", "status"}),
	}
}

func (m *SwarmMetrics) ObserveRegistration(files int) {
	if m == nil {
		return
	}
	m.Registrations.Inc()
	m.RegisteredFiles.Set(float64(files))
}

func (m *SwarmMetrics) ObserveTrackerRequest(tag string) {
	if m == nil {
		return
	}
	m.TrackerRequests.WithLabelValues(tag).Inc()
}

func (m *SwarmMetrics) ObserveSwarmSize(file string, providers int) {
	if m == nil {
		return
	}
	m.SwarmSize.WithLabelValues(file).Set(float64(providers))
}

func (m *SwarmMetrics) ObserveUnknownFile() {
	if m == nil {
		return
	}
	m.UnknownFiles.Inc()
}

func (m *SwarmMetrics) ObserveCompletedPeers(n int) {
	if m == nil {
		return
	}
	m.CompletedPeers.Set(float64(n))
}

// ObserveChunkRequest records one provider round trip.
func (m *SwarmMetrics) ObserveChunkRequest(node, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ChunkRequests.WithLabelValues(node, status).Inc()
	m.ChunkLatency.Observe(elapsed.Seconds())
}

func (m *SwarmMetrics) ObserveChunkAcquired(node string) {
	if m == nil {
		return
	}
	m.ChunksAcquired.WithLabelValues(node).Inc()
}

func (m *SwarmMetrics) ObserveChunkSkipped(node string) {
	if m == nil {
		return
	}
	m.ChunksSkipped.WithLabelValues(node).Inc()
}

func (m *SwarmMetrics) ObserveRefresh(node string) {
	if m == nil {
		return
	}
	m.RefreshRounds.WithLabelValues(node).Inc()
}

func (m *SwarmMetrics) ObserveFileCompleted(node string) {
	if m == nil {
		return
	}
	m.FilesCompleted.WithLabelValues(node).Inc()
}

func (m *SwarmMetrics) ObserveUpload(node, status string) {
	if m == nil {
		return
	}
	m.UploadsServed.WithLabelValues(node, status).Inc()
}

// Serve exposes the default gatherer on address until ctx is done.
func Serve(ctx context.Context, address string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics endpoint listening", zap.String("address", address))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
