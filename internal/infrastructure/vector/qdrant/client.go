package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/resilience"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// Client implements ports.ChildIndex over Qdrant's HTTP API. Child chunks are
// points with a named dense vector and a named sparse vector, so one
// collection serves both retrieval passes.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	runner     *resilience.Runner

	ensureMu   sync.Mutex
	ensured    bool
	vectorSize int
}

func New(baseURL, collection string, runner *resilience.Runner) *Client {
	if runner == nil {
		runner = resilience.NewRunner(resilience.DefaultPolicy())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		runner:     runner,
	}
}

func (c *Client) UpsertChildren(ctx context.Context, chunks []domain.ChildChunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("qdrant upsert: %d chunks vs %d vectors", len(chunks), len(vectors))
	}

	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  map[string]any `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point{
			ID: chunk.ID,
			Vector: map[string]any{
				denseVectorName:  vectors[i],
				sparseVectorName: encodeSparseText(chunk.Text),
			},
			Payload: map[string]any{
				"doc_id":      chunk.DocumentID,
				"parent_id":   chunk.ParentID,
				"chunk_index": chunk.Index,
				"text":        chunk.Text,
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	return c.runner.Do(ctx, "qdrant.upsert", resilience.ClassifyDomain, func(ctx context.Context) error {
		return c.call(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "upsert")
	})
}

func (c *Client) QueryDense(ctx context.Context, vector []float32, limit int) ([]domain.RetrievalCandidate, error) {
	body := map[string]any{
		"vector": map[string]any{
			"name":   denseVectorName,
			"vector": vector,
		},
		"limit":        limit,
		"with_payload": true,
	}
	return c.searchPoints(ctx, body, domain.SourceDense)
}

func (c *Client) QuerySparse(ctx context.Context, text string, limit int) ([]domain.RetrievalCandidate, error) {
	sparse := encodeSparseText(text)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}

	body := map[string]any{
		"vector": map[string]any{
			"name":   sparseVectorName,
			"vector": sparse,
		},
		"limit":        limit,
		"with_payload": true,
	}
	return c.searchPoints(ctx, body, domain.SourceSparse)
}

func (c *Client) searchPoints(ctx context.Context, body map[string]any, source domain.RetrievalSource) ([]domain.RetrievalCandidate, error) {
	var response struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	err := c.runner.Do(ctx, "qdrant.search", resilience.ClassifyDomain, func(ctx context.Context) error {
		return c.call(ctx, http.MethodPost, path, body, &response, "search")
	})
	if err != nil {
		if isMissingCollection(err) {
			// Nothing has been indexed yet.
			return nil, nil
		}
		return nil, err
	}

	out := make([]domain.RetrievalCandidate, 0, len(response.Result))
	for i, r := range response.Result {
		out = append(out, domain.RetrievalCandidate{
			ChunkID:  r.ID,
			ParentID: payloadString(r.Payload, "parent_id"),
			Text:     payloadString(r.Payload, "text"),
			Score:    r.Score,
			Source:   source,
			RawRank:  i + 1,
		})
	}
	return out, nil
}

func (c *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "doc_id", "match": map[string]any{"value": documentID}},
			},
		},
	}

	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection)
	err := c.runner.Do(ctx, "qdrant.delete", resilience.ClassifyDomain, func(ctx context.Context) error {
		return c.call(ctx, http.MethodPost, path, body, nil, "delete")
	})
	if isMissingCollection(err) {
		return nil
	}
	return err
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	done := c.ensured && c.vectorSize == vectorSize
	c.ensureMu.Unlock()
	if done {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     vectorSize,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}

	path := fmt.Sprintf("/collections/%s", c.collection)
	err := c.runner.Do(ctx, "qdrant.ensure_collection", resilience.ClassifyDomain, func(ctx context.Context) error {
		return c.call(ctx, http.MethodPut, path, body, nil, "ensure collection")
	})
	if err != nil && !isConflict(err) {
		return err
	}

	c.ensureMu.Lock()
	c.ensured = true
	c.vectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

type statusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *statusError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.WrapError(domain.ErrIndexUnavailable, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		stErr := &statusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
		if resp.StatusCode >= 500 {
			return domain.WrapError(domain.ErrIndexUnavailable, operation, stErr)
		}
		return stErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func isConflict(err error) bool {
	var stErr *statusError
	return errors.As(err, &stErr) && stErr.StatusCode == http.StatusConflict
}

func isMissingCollection(err error) bool {
	var stErr *statusError
	return errors.As(err, &stErr) && stErr.StatusCode == http.StatusNotFound
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
