package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
)

type fakeEmbedder struct {
	queryCalls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	f.queryCalls++
	return []float32{0.1, 0.2}, nil
}

type fakeChildIndex struct {
	dense  []domain.RetrievalCandidate
	sparse []domain.RetrievalCandidate
}

func (f *fakeChildIndex) UpsertChildren(context.Context, []domain.ChildChunk, [][]float32) error {
	return nil
}

func (f *fakeChildIndex) QueryDense(context.Context, []float32, int) ([]domain.RetrievalCandidate, error) {
	return f.dense, nil
}

func (f *fakeChildIndex) QuerySparse(context.Context, string, int) ([]domain.RetrievalCandidate, error) {
	return f.sparse, nil
}

func (f *fakeChildIndex) DeleteByDocument(context.Context, string) error { return nil }

type fakeParentStore struct {
	parents map[string]domain.ParentChunk
	gets    []string
}

func (f *fakeParentStore) PutParents(context.Context, []domain.ParentChunk) error { return nil }

func (f *fakeParentStore) GetParent(_ context.Context, id string) (*domain.ParentChunk, error) {
	f.gets = append(f.gets, id)
	p, ok := f.parents[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get parent", fmt.Errorf("parent %s", id))
	}
	return &p, nil
}

func (f *fakeParentStore) DeleteByDocument(context.Context, string) error { return nil }

type fakeReranker struct {
	// scores keyed by candidate text; unknown texts get 0.
	scores map[string]float64
	err    error
}

func (f *fakeReranker) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(texts))
	for i, txt := range texts {
		out[i] = f.scores[txt]
	}
	return out, nil
}

func newTestRetriever(index *fakeChildIndex, parents *fakeParentStore, reranker *fakeReranker) *HybridRetriever {
	return NewHybridRetriever(&fakeEmbedder{}, index, parents, reranker, RetrieverConfig{})
}

func TestRetrieveRerankOverridesFusion(t *testing.T) {
	index := &fakeChildIndex{
		dense: []domain.RetrievalCandidate{
			cand("a", "p1", 1, domain.SourceDense),
			cand("b", "p2", 2, domain.SourceDense),
		},
	}
	parents := &fakeParentStore{parents: map[string]domain.ParentChunk{
		"p1": {ID: "p1", Text: "parent one"},
		"p2": {ID: "p2", Text: "parent two"},
	}}
	// Fusion puts a first; the reranker inverts that.
	reranker := &fakeReranker{scores: map[string]float64{
		"text a": 0.1,
		"text b": 0.9,
	}}

	got, err := newTestRetriever(index, parents, reranker).Retrieve(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 parents, got %d", len(got))
	}
	if got[0].ID != "p2" || got[1].ID != "p1" {
		t.Fatalf("rerank order not authoritative: got %s,%s", got[0].ID, got[1].ID)
	}
}

func TestRetrieveDeduplicatesParents(t *testing.T) {
	// Two children of the same parent both survive the funnel.
	index := &fakeChildIndex{
		dense: []domain.RetrievalCandidate{
			cand("a", "p1", 1, domain.SourceDense),
			cand("b", "p1", 2, domain.SourceDense),
			cand("c", "p2", 3, domain.SourceDense),
		},
	}
	parents := &fakeParentStore{parents: map[string]domain.ParentChunk{
		"p1": {ID: "p1", Text: "parent one"},
		"p2": {ID: "p2", Text: "parent two"},
	}}
	reranker := &fakeReranker{scores: map[string]float64{
		"text a": 0.9, "text b": 0.8, "text c": 0.7,
	}}

	got, err := newTestRetriever(index, parents, reranker).Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected parent dedupe to 2, got %d", len(got))
	}
	if got[0].ID != "p1" || got[1].ID != "p2" {
		t.Fatalf("got %s,%s, want p1,p2", got[0].ID, got[1].ID)
	}
	if len(parents.gets) != 2 {
		t.Fatalf("expected one store read per unique parent, got %d", len(parents.gets))
	}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	got, err := newTestRetriever(&fakeChildIndex{}, &fakeParentStore{}, &fakeReranker{}).
		Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("empty index must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no parents, got %d", len(got))
	}
}

func TestRetrieveSkipsMissingParents(t *testing.T) {
	index := &fakeChildIndex{
		dense: []domain.RetrievalCandidate{
			cand("a", "gone", 1, domain.SourceDense),
			cand("b", "p2", 2, domain.SourceDense),
		},
	}
	parents := &fakeParentStore{parents: map[string]domain.ParentChunk{
		"p2": {ID: "p2", Text: "parent two"},
	}}
	reranker := &fakeReranker{scores: map[string]float64{"text a": 0.9, "text b": 0.8}}

	got, err := newTestRetriever(index, parents, reranker).Retrieve(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p2" {
		t.Fatalf("expected only the resolvable parent, got %v", got)
	}
}

func TestRetrieveRerankFailureSurfaces(t *testing.T) {
	index := &fakeChildIndex{
		dense: []domain.RetrievalCandidate{cand("a", "p1", 1, domain.SourceDense)},
	}
	reranker := &fakeReranker{err: errors.New("scorer down")}

	_, err := newTestRetriever(index, &fakeParentStore{}, reranker).
		Retrieve(context.Background(), "q", 2)
	if err == nil {
		t.Fatal("expected error from reranker failure")
	}
}
