package domain

import "time"

// ChildChunk is the short, precision-indexed span of a document. Every child
// points at the parent chunk that supplies generation context once the child
// matches a query.
type ChildChunk struct {
	ID         string `json:"id"`
	ParentID   string `json:"parent_id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
}

// ParentChunk is the larger context-bearing span, stored keyed by ID.
type ParentChunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Filename   string `json:"filename"`
	Text       string `json:"text"`
}

// RetrievalSource identifies which retrieval pass produced a candidate.
type RetrievalSource string

const (
	SourceDense  RetrievalSource = "dense"
	SourceSparse RetrievalSource = "sparse"
)

// RetrievalCandidate is one child-chunk hit from a single retrieval pass,
// before fusion. RawRank is 1-based within its source list.
type RetrievalCandidate struct {
	ChunkID  string
	ParentID string
	Text     string
	Score    float64
	Source   RetrievalSource
	RawRank  int
}

// FusedCandidate is a child chunk after reciprocal rank fusion. Ordering is
// the only contract; FusedScore is not comparable across queries.
type FusedCandidate struct {
	ChunkID           string
	ParentID          string
	Text              string
	FusedScore        float64
	ContributingRanks []int
	BestRank          int
}

type DocumentStatus string

const (
	StatusUploaded DocumentStatus = "uploaded"
	StatusIndexing DocumentStatus = "indexing"
	StatusReady    DocumentStatus = "ready"
	StatusFailed   DocumentStatus = "failed"
)

// Document is the registry row for one ingested source document.
type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	SizeBytes   int64          `json:"size_bytes"`
	Status      DocumentStatus `json:"status"`
	ParentCount int            `json:"parent_count,omitempty"`
	ChildCount  int            `json:"child_count,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
