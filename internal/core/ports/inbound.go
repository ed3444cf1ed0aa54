package ports

import (
	"context"
	"io"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
)

// WorkflowService is the inbound contract for running one conversation turn.
// Invoke starts a turn and streams events until the turn finishes or
// suspends at the human checkpoint; Resume continues a suspended turn with
// the reviewer's decision. At most one Interrupt event appears per stream.
type WorkflowService interface {
	Invoke(ctx context.Context, req domain.InvokeRequest) (<-chan domain.WorkflowEvent, error)
	Resume(ctx context.Context, threadID string, decision domain.ReviewDecision) (<-chan domain.WorkflowEvent, error)
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentIndexer is the inbound contract for asynchronous index builds.
type DocumentIndexer interface {
	IndexByID(ctx context.Context, documentID string) error
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentRemover deletes a document and all of its chunks; no child chunk
// may be left referencing a missing parent.
type DocumentRemover interface {
	Remove(ctx context.Context, documentID string) error
}
