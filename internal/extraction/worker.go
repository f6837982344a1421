// Package extraction implements the ExtractionWorker: per chunk, build a
// rolling context of the top-50 similar concepts, invoke the
// ExtractionProvider, apply the result via UpsertEngine, and emit a
// progress event. It runs in two modes — analysis (dry-run chunking/cost
// estimation, no store writes) and execution (the real four steps).
package extraction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kgraph-backend/internal/chunker"
	"kgraph-backend/internal/config"
	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
	"kgraph-backend/internal/upsert"
)

const contextConceptLimit = 50

// Provider is the ExtractionProvider surface the worker calls.
type Provider interface {
	Extract(ctx context.Context, chunkText string, context []domain.ContextConcept) (domain.ExtractionResult, error)
}

// Embedder is the narrow embedding surface the worker needs to build the
// context vector for a chunk. Embed takes no role argument; the providers
// behind it embed with the document role, so no query-role embedding is
// used for context lookup.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.Embedding, error)
}

// ConceptIndex resolves the top-k concepts most similar to a query vector
// within an ontology, used to build extraction context.
type ConceptIndex interface {
	TopSimilar(ctx context.Context, ontology string, vec []float32, k int) ([]domain.Concept, error)
}

// Applier is the narrow UpsertEngine surface the worker drives.
type Applier interface {
	Apply(ctx context.Context, extraction domain.ExtractionResult, source domain.Source, ontology string) (upsert.Report, error)
}

// ChunkResult is emitted after every chunk, feeding Job.Progress.
type ChunkResult struct {
	ChunkIndex  int
	Report      upsert.Report
	Failed      bool
	FailureNote string
}

// AnalysisResult is the dry-run output of Analyze: chunk count and a rough
// token/cost estimate, without touching the store.
type AnalysisResult struct {
	ChunksTotal    int
	EstimatedToken int64
	CostEstimate   float64
}

// Worker drives extraction for a source's chunks, chunk by chunk.
type Worker struct {
	provider Provider
	embedder Embedder
	index    ConceptIndex
	applier  Applier
	log      *zap.Logger

	chunkerCfg config.ChunkerConfig
	// CostPerThousandTokens estimates job cost for the analysis pass; a
	// deliberately simple linear model, not a priced-API lookup.
	CostPerThousandTokens float64
}

func New(provider Provider, embedder Embedder, index ConceptIndex, applier Applier, chunkerCfg config.ChunkerConfig, log *zap.Logger) *Worker {
	return &Worker{provider: provider, embedder: embedder, index: index, applier: applier, chunkerCfg: chunkerCfg, log: log, CostPerThousandTokens: 0.01}
}

// Analyze performs only chunking and token/cost estimation, with no store
// writes, analysis mode.
func (w *Worker) Analyze(text string) AnalysisResult {
	chunks := chunker.Split(text, w.chunkerCfg)
	var totalWords int
	for _, c := range chunks {
		totalWords += c.Words
	}
	// Rough token estimate: ~1.3 tokens per word, doubled for prompt
	// context/output overhead.
	estimatedTokens := int64(float64(totalWords) * 1.3 * 2)
	return AnalysisResult{
		ChunksTotal:    len(chunks),
		EstimatedToken: estimatedTokens,
		CostEstimate:   float64(estimatedTokens) / 1000 * w.CostPerThousandTokens,
	}
}

// Execute runs steps 1-4 for every chunk from startIndex
// onward, invoking onChunk after every processed chunk, including chunks
// that failed and were skipped (ChunkResult.Failed), so the caller (the
// Scheduler) can persist progress and honor cancellation.
// Execution is restartable: passing a non-zero startIndex resumes after a
// prior partial run.
func (w *Worker) Execute(ctx context.Context, text string, source domain.Source, ontology string, startIndex int, shouldCancel func() bool, onChunk func(ChunkResult)) error {
	chunks := chunker.Split(text, w.chunkerCfg)
	for _, c := range chunks {
		if c.Index < startIndex {
			continue
		}
		if shouldCancel() {
			return kgerrors.Cancelled("execution cancelled at chunk boundary")
		}

		chunkSource := source
		chunkSource.ID = fmt.Sprintf("%s:%d", source.ID, c.Index)
		chunkSource.Ontology = ontology
		chunkSource.ChunkIndex = c.Index
		chunkSource.FullText = c.Text

		result, err := w.executeChunk(ctx, c, chunkSource, ontology)
		onChunk(result)
		if err != nil && !result.Failed {
			return err
		}
	}
	return nil
}

func (w *Worker) executeChunk(ctx context.Context, c chunker.Chunk, source domain.Source, ontology string) (ChunkResult, error) {
	// Step 1: build top-50 context concepts for this chunk.
	queryEmb, err := w.embedder.Embed(ctx, c.Text)
	if err != nil {
		return ChunkResult{ChunkIndex: c.Index, Failed: true, FailureNote: "embed chunk for context: " + err.Error()}, nil
	}
	similar, err := w.index.TopSimilar(ctx, ontology, queryEmb.Vector, contextConceptLimit)
	if err != nil {
		return ChunkResult{ChunkIndex: c.Index, Failed: true, FailureNote: "context lookup failed: " + err.Error()}, nil
	}
	contextConcepts := make([]domain.ContextConcept, len(similar))
	for i, concept := range similar {
		contextConcepts[i] = domain.ContextConcept{ConceptID: concept.ID, Label: concept.Label, SearchTerms: concept.SearchTerms}
	}

	// Step 2: invoke ExtractionProvider.
	extraction, err := w.provider.Extract(ctx, c.Text, contextConcepts)
	if err != nil {
		if kgerrors.Is(err, kgerrors.KindMalformedExtraction) {
			if w.log != nil {
				w.log.Warn("chunk skipped after malformed extraction", zap.Int("chunk_index", c.Index))
			}
			return ChunkResult{ChunkIndex: c.Index, Failed: true, FailureNote: "malformed extraction"}, nil
		}
		if kgerrors.Is(err, kgerrors.KindAuthFailure) {
			// Not marked Failed: an auth failure must propagate out of
			// Execute and fail the whole job immediately, not be recorded
			// as a per-chunk failure the job otherwise completes past.
			return ChunkResult{ChunkIndex: c.Index, FailureNote: "provider auth failure"}, err
		}
		return ChunkResult{ChunkIndex: c.Index, Failed: true, FailureNote: err.Error()}, nil
	}

	// Step 3-4: apply via UpsertEngine.
	report, err := w.applier.Apply(ctx, extraction, source, ontology)
	if err != nil {
		return ChunkResult{ChunkIndex: c.Index, Failed: true, FailureNote: "apply failed: " + err.Error()}, err
	}
	return ChunkResult{ChunkIndex: c.Index, Report: report}, nil
}
