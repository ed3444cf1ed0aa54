package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/resilience"
)

func noRetryRunner() *resilience.Runner {
	return resilience.NewRunner(resilience.Policy{MaxAttempts: 1, BreakerEnabled: false})
}

func TestUpsertChildrenCreatesCollectionOnce(t *testing.T) {
	var ensureCalls, upsertCalls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/children":
			ensureCalls.Add(1)
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode ensure body: %v", err)
			}
			if _, ok := body["sparse_vectors"]; !ok {
				t.Error("collection must declare sparse vectors")
			}
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/children/points":
			upsertCalls.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := New(server.URL, "children", noRetryRunner())
	chunks := []domain.ChildChunk{{ID: "c1", ParentID: "p1", DocumentID: "d1", Text: "chunk"}}
	vectors := [][]float32{{0.1, 0.2}}

	for i := 0; i < 3; i++ {
		if err := client.UpsertChildren(context.Background(), chunks, vectors); err != nil {
			t.Fatalf("UpsertChildren() error = %v", err)
		}
	}
	if got := ensureCalls.Load(); got != 1 {
		t.Fatalf("ensure collection calls = %d, want 1", got)
	}
	if got := upsertCalls.Load(); got != 3 {
		t.Fatalf("upsert calls = %d, want 3", got)
	}
}

func TestQueryDenseAssignsRanks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/children/points/search" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"result":[
			{"id":"c1","score":0.9,"payload":{"parent_id":"p1","text":"first"}},
			{"id":"c2","score":0.7,"payload":{"parent_id":"p2","text":"second"}}
		]}`))
	}))
	defer server.Close()

	client := New(server.URL, "children", noRetryRunner())
	got, err := client.QueryDense(context.Background(), []float32{0.1}, 10)
	if err != nil {
		t.Fatalf("QueryDense() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2", len(got))
	}
	if got[0].RawRank != 1 || got[1].RawRank != 2 {
		t.Fatalf("ranks = %d,%d, want 1,2", got[0].RawRank, got[1].RawRank)
	}
	if got[0].Source != domain.SourceDense {
		t.Fatalf("source = %q, want dense", got[0].Source)
	}
	if got[0].ParentID != "p1" || got[0].Text != "first" {
		t.Fatalf("payload not mapped: %+v", got[0])
	}
}

func TestQueryAgainstMissingCollectionIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collection not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL, "children", noRetryRunner())
	got, err := client.QueryDense(context.Background(), []float32{0.1}, 10)
	if err != nil {
		t.Fatalf("missing collection must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
}

func TestQuerySparseSkipsEmptyQuery(t *testing.T) {
	client := New("http://unreachable.invalid", "children", noRetryRunner())
	got, err := client.QuerySparse(context.Background(), "___", 10)
	if err != nil {
		t.Fatalf("tokenless query must not hit the server: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil candidates, got %v", got)
	}
}

func TestServerErrorIsIndexUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage failure", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, "children", noRetryRunner())
	_, err := client.QueryDense(context.Background(), []float32{0.1}, 10)
	if !domain.IsKind(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected index_unavailable kind, got %v", err)
	}
}

func TestDeleteByDocumentSendsFilter(t *testing.T) {
	var filterDoc string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/children/points/delete" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Filter struct {
				Must []struct {
					Key   string `json:"key"`
					Match struct {
						Value string `json:"value"`
					} `json:"match"`
				} `json:"must"`
			} `json:"filter"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode delete body: %v", err)
		}
		if len(body.Filter.Must) == 1 {
			filterDoc = body.Filter.Must[0].Match.Value
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(server.URL, "children", noRetryRunner())
	if err := client.DeleteByDocument(context.Background(), "doc-9"); err != nil {
		t.Fatalf("DeleteByDocument() error = %v", err)
	}
	if filterDoc != "doc-9" {
		t.Fatalf("filter doc_id = %q, want doc-9", filterDoc)
	}
}
