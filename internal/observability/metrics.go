// Package observability implements the metrics/tracing ambient stack of
// Prometheus counters/histograms/gauges for job
// throughput, chunk latency, vocabulary zone, and grounding distribution,
// grounded on internal/infrastructure/observability/
// metrics.go singleton Collector (a dedicated prometheus.Registry,
// MustRegister at construction, one field per metric rather than a
// generic name-keyed map).
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalCollector *Collector
	collectorMutex sync.Mutex
)

// Collector holds every Prometheus metric this module exports.
type Collector struct {
	registry *prometheus.Registry

	JobsSubmitted        *prometheus.CounterVec
	JobsCompleted        *prometheus.CounterVec
	ChunkDuration        prometheus.Histogram
	ConceptsCreated      prometheus.Counter
	ConceptsUpdated      prometheus.Counter
	RelationshipsCreated prometheus.Counter
	InstancesCreated     prometheus.Counter
	VocabZoneSize        prometheus.Gauge
	VocabAggressiveness  prometheus.Gauge
	GroundingScore       prometheus.Histogram
	ProviderErrors       *prometheus.CounterVec
	StoreErrors          *prometheus.CounterVec
}

// NewCollector creates (or returns, singleton-style, to avoid duplicate
// registration across tests and reloads) the metrics collector for
// namespace, following global-collector-with-mutex pattern.
func NewCollector(namespace string) *Collector {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	jobsSubmitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "jobs_submitted_total", Help: "Total ingestion jobs submitted.",
	}, []string{"ontology"})
	jobsCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "jobs_completed_total", Help: "Total ingestion jobs reaching a terminal state.",
	}, []string{"ontology", "final_state"})
	chunkDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "chunk_processing_duration_seconds", Help: "Per-chunk extraction+upsert latency.",
		Buckets:   prometheus.DefBuckets,
	})
	conceptsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "concepts_created_total", Help: "Total concepts created.",
	})
	conceptsUpdated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "concepts_updated_total", Help: "Total concepts merged into by a later chunk.",
	})
	relationshipsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "relationships_created_total", Help: "Total relationships created.",
	})
	instancesCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "instances_created_total", Help: "Total evidence instances created.",
	})
	vocabZoneSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "vocab_registry_size", Help: "Current number of registered relationship vocab types.",
	})
	vocabAggressiveness := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "vocab_aggressiveness", Help: "Current merge-aggressiveness scalar in [0,1].",
	})
	groundingScore := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "grounding_score", Help: "Distribution of computed concept grounding scores.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 10),
	})
	providerErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "provider_errors_total", Help: "Total provider call failures.",
	}, []string{"provider", "kind"})
	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "store_errors_total", Help: "Total store call failures.",
	}, []string{"backend", "kind"})

	registry.MustRegister(
		jobsSubmitted, jobsCompleted, chunkDuration, conceptsCreated, conceptsUpdated,
		relationshipsCreated, instancesCreated, vocabZoneSize, vocabAggressiveness,
		groundingScore, providerErrors, storeErrors,
	)

	globalCollector = &Collector{
		registry:             registry,
		JobsSubmitted:        jobsSubmitted, JobsCompleted: jobsCompleted, ChunkDuration: chunkDuration,
		ConceptsCreated:      conceptsCreated, ConceptsUpdated: conceptsUpdated,
		RelationshipsCreated: relationshipsCreated, InstancesCreated: instancesCreated,
		VocabZoneSize:        vocabZoneSize, VocabAggressiveness: vocabAggressiveness,
		GroundingScore:       groundingScore, ProviderErrors: providerErrors, StoreErrors: storeErrors,
	}
	return globalCollector
}

// ResetForTesting clears the singleton so repeated test runs in the same
// process can register a fresh registry.
func ResetForTesting() {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	globalCollector = nil
}

// ObserveChunk records chunk latency and the report counters it produced.
func (c *Collector) ObserveChunk(d time.Duration, conceptsCreated, conceptsUpdated, instances, relationships int) {
	c.ChunkDuration.Observe(d.Seconds())
	c.ConceptsCreated.Add(float64(conceptsCreated))
	c.ConceptsUpdated.Add(float64(conceptsUpdated))
	c.InstancesCreated.Add(float64(instances))
	c.RelationshipsCreated.Add(float64(relationships))
}

// GetRegistry returns the Prometheus registry backing this collector, for
// an out-of-scope transport layer to expose via /metrics.
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
