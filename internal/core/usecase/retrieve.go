package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/core/ports"
)

// RetrieverConfig tunes the retrieval funnel: wide candidate recall, rank
// fusion, semantic rerank, parent expansion.
type RetrieverConfig struct {
	// FetchK is the per-pass candidate count for dense and sparse recall.
	FetchK int
	// RerankTopM bounds how many fused candidates enter the semantic
	// reranker; it is clamped to at least TopN.
	RerankTopM int
	RRFK       int
}

func (c RetrieverConfig) normalize(topN int) RetrieverConfig {
	if c.FetchK <= 0 {
		c.FetchK = 30
	}
	if c.RerankTopM <= 0 {
		c.RerankTopM = 20
	}
	if c.RerankTopM < topN {
		c.RerankTopM = topN
	}
	if c.RRFK <= 0 {
		c.RRFK = defaultRRFK
	}
	return c
}

// HybridRetriever answers queries against the child-chunk index and expands
// matches to their parent chunks. Fusion only shortlists candidates; the
// reranker's order is authoritative.
type HybridRetriever struct {
	embedder ports.Embedder
	index    ports.ChildIndex
	parents  ports.ParentStore
	reranker ports.Reranker
	cfg      RetrieverConfig
}

func NewHybridRetriever(
	embedder ports.Embedder,
	index ports.ChildIndex,
	parents ports.ParentStore,
	reranker ports.Reranker,
	cfg RetrieverConfig,
) *HybridRetriever {
	return &HybridRetriever{
		embedder: embedder,
		index:    index,
		parents:  parents,
		reranker: reranker,
		cfg:      cfg,
	}
}

// Retrieve returns up to topN parent chunks for the query. An empty index
// yields an empty slice, not an error.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, topN int) ([]domain.ParentChunk, error) {
	if topN <= 0 {
		topN = 5
	}
	cfg := r.cfg.normalize(topN)

	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	dense, err := r.index.QueryDense(ctx, queryVector, cfg.FetchK)
	if err != nil {
		return nil, fmt.Errorf("dense pass: %w", err)
	}
	sparse, err := r.index.QuerySparse(ctx, query, cfg.FetchK)
	if err != nil {
		return nil, fmt.Errorf("sparse pass: %w", err)
	}

	fused := trimFused(fuseRRF(dense, sparse, cfg.RRFK), cfg.RerankTopM)
	if len(fused) == 0 {
		return nil, nil
	}

	ranked, err := r.rerank(ctx, query, fused)
	if err != nil {
		return nil, err
	}

	return r.expandParents(ctx, ranked, topN)
}

type rankedCandidate struct {
	domain.FusedCandidate
	semanticScore float64
	fusedOrder    int
}

// rerank scores each (query, chunk-text) pair and reorders by semantic score
// descending; fusion order only survives as the tie-break.
func (r *HybridRetriever) rerank(ctx context.Context, query string, fused []domain.FusedCandidate) ([]rankedCandidate, error) {
	texts := make([]string, len(fused))
	for i, c := range fused {
		texts[i] = c.Text
	}

	scores, err := r.reranker.Score(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("rerank candidates: %w", err)
	}
	if len(scores) != len(fused) {
		return nil, fmt.Errorf("rerank candidates: scores/candidates mismatch: %d/%d", len(scores), len(fused))
	}

	ranked := make([]rankedCandidate, len(fused))
	for i, c := range fused {
		ranked[i] = rankedCandidate{FusedCandidate: c, semanticScore: scores[i], fusedOrder: i}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].semanticScore != ranked[j].semanticScore {
			return ranked[i].semanticScore > ranked[j].semanticScore
		}
		return ranked[i].fusedOrder < ranked[j].fusedOrder
	})
	return ranked, nil
}

// expandParents maps surviving children to parent chunks, de-duplicating
// parents reached by multiple children: the highest-ranked occurrence wins.
func (r *HybridRetriever) expandParents(ctx context.Context, ranked []rankedCandidate, topN int) ([]domain.ParentChunk, error) {
	seen := make(map[string]struct{}, topN)
	out := make([]domain.ParentChunk, 0, topN)

	for _, c := range ranked {
		if c.ParentID == "" {
			continue
		}
		if _, ok := seen[c.ParentID]; ok {
			continue
		}
		parent, err := r.parents.GetParent(ctx, c.ParentID)
		if err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("expand parent %s: %w", c.ParentID, err)
		}
		seen[c.ParentID] = struct{}{}
		out = append(out, *parent)
		if len(out) == topN {
			break
		}
	}
	return out, nil
}
