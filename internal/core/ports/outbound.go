package ports

import (
	"context"
	"io"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
)

// Embedder builds vectors for child chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CompleteOptions tunes a single completion call.
type CompleteOptions struct {
	JSON        bool
	Temperature float64
}

// LLMProvider produces completions. Failures carry one of the domain error
// kinds: ErrLLMAuth, ErrLLMRateLimit, ErrLLMBadRequest, ErrLLMConnection.
type LLMProvider interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)
}

// Reranker scores (query, text) pairs with a cross-encoder style semantic
// scorer; higher is more relevant. Returned slice is index-aligned with texts.
type Reranker interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// WebSearcher is the external web search collaborator. Provider or network
// failure is reported as domain.ErrSearchUnavailable, a recoverable condition.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]domain.WebResult, error)
}

// RelevanceGrader classifies how well retrieved context covers a question.
type RelevanceGrader interface {
	Grade(ctx context.Context, question string, kbContext []domain.ParentChunk) (domain.Grade, error)
}

// GroundingVerdict is the grounding checker's classification of one draft.
type GroundingVerdict struct {
	Grounded         bool
	UnsupportedClaim string
}

// GroundingChecker classifies whether a draft answer is supported by the
// context it was generated from. Binary only; no partial-grounding state.
type GroundingChecker interface {
	Check(ctx context.Context, draft string, kbContext []domain.ParentChunk, webContext []domain.WebResult) (GroundingVerdict, error)
}

// GenerationInput assembles everything one draft generation sees.
type GenerationInput struct {
	Question   string
	KBContext  []domain.ParentChunk
	WebContext []domain.WebResult
	// PriorFailure carries the unsupported claim from the previous
	// grounding failure; it is the only channel by which retries differ
	// from the first attempt.
	PriorFailure string
	// Degraded marks that web search failed and context may be incomplete.
	Degraded bool
	// Chatter selects the conversational prompt with no factual context.
	Chatter bool
}

// AnswerGenerator produces a draft answer from question + assembled context.
type AnswerGenerator interface {
	Generate(ctx context.Context, in GenerationInput) (string, error)
}

// IntentClassifier detects pure conversational chatter that needs no
// retrieval or grounding.
type IntentClassifier interface {
	IsChatter(ctx context.Context, question string) (bool, error)
}

// ChildIndex stores child chunks with dense and sparse representations and
// answers similarity/keyword queries over them. Reads are safe concurrently;
// a given document is written by a single ingestion worker at a time.
type ChildIndex interface {
	UpsertChildren(ctx context.Context, chunks []domain.ChildChunk, vectors [][]float32) error
	QueryDense(ctx context.Context, vector []float32, limit int) ([]domain.RetrievalCandidate, error)
	QuerySparse(ctx context.Context, text string, limit int) ([]domain.RetrievalCandidate, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// ParentStore is the content-addressable store for parent chunks.
type ParentStore interface {
	PutParents(ctx context.Context, chunks []domain.ParentChunk) error
	GetParent(ctx context.Context, id string) (*domain.ParentChunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// CheckpointStore persists suspended workflow state, atomically per thread
// id. Load returns (nil, nil) when no checkpoint exists.
type CheckpointStore interface {
	Save(ctx context.Context, state *domain.WorkflowState) error
	Load(ctx context.Context, threadID string) (*domain.WorkflowState, error)
	Delete(ctx context.Context, threadID string) error
}

// DocumentRepository persists and reads document registry state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveChunkCounts(ctx context.Context, id string, parents, children int) error
	Delete(ctx context.Context, id string) error
}

// ObjectStorage stores raw uploaded documents. Save returns the storage path
// and the number of bytes written.
type ObjectStorage interface {
	Save(ctx context.Context, id, ext string, data io.Reader) (string, int64, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Remove(ctx context.Context, path string) error
}

// MessageQueue publishes/consumes document indexing events.
type MessageQueue interface {
	PublishDocumentUploaded(ctx context.Context, documentID string) error
	SubscribeDocumentUploaded(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// Chunker splits text into spans of a configured size.
type Chunker interface {
	Split(text string) []string
}

// WorkflowObserver receives workflow telemetry. Implementations must be
// cheap and non-blocking; a nil observer disables reporting.
type WorkflowObserver interface {
	RecordGrade(grade string)
	RecordGroundingRetries(attempts int)
	RecordWebSearch(mode, status string)
	RecordRetrievedParents(count int)
}
