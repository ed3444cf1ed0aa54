package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/core/ports"
)

// IndexingService turns one uploaded document into indexed chunks: extract
// text, split into parent spans, split each parent into child spans, embed
// the children and write both stores. Runs on the worker.
type IndexingService struct {
	repo          ports.DocumentRepository
	extractors    map[string]ports.TextExtractor
	parentChunker ports.Chunker
	childChunker  ports.Chunker
	embedder      ports.Embedder
	parents       ports.ParentStore
	index         ports.ChildIndex
	embedBatch    int
}

func NewIndexingService(
	repo ports.DocumentRepository,
	extractors map[string]ports.TextExtractor,
	parentChunker, childChunker ports.Chunker,
	embedder ports.Embedder,
	parents ports.ParentStore,
	index ports.ChildIndex,
) *IndexingService {
	return &IndexingService{
		repo:          repo,
		extractors:    extractors,
		parentChunker: parentChunker,
		childChunker:  childChunker,
		embedder:      embedder,
		parents:       parents,
		index:         index,
		embedBatch:    32,
	}
}

// SetEmbedBatch overrides how many child chunks are embedded per provider
// call. Values below one keep the default.
func (s *IndexingService) SetEmbedBatch(size int) {
	if size > 0 {
		s.embedBatch = size
	}
}

// IndexByID processes one queued document. Failures flip the registry row to
// failed with the reason; the raw upload stays in object storage so the
// document can be re-indexed.
func (s *IndexingService) IndexByID(ctx context.Context, documentID string) error {
	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", documentID, err)
	}

	if err := s.repo.UpdateStatus(ctx, doc.ID, domain.StatusIndexing, ""); err != nil {
		return fmt.Errorf("mark indexing: %w", err)
	}

	parentCount, childCount, err := s.indexDocument(ctx, doc)
	if err != nil {
		if stErr := s.repo.UpdateStatus(ctx, doc.ID, domain.StatusFailed, err.Error()); stErr != nil {
			slog.Error("document_status_update_failed", "document_id", doc.ID, "error", stErr)
		}
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}

	if err := s.repo.SaveChunkCounts(ctx, doc.ID, parentCount, childCount); err != nil {
		return fmt.Errorf("save chunk counts: %w", err)
	}
	if err := s.repo.UpdateStatus(ctx, doc.ID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}

	slog.Info("document_indexed", "document_id", doc.ID, "parents", parentCount, "children", childCount)
	return nil
}

func (s *IndexingService) indexDocument(ctx context.Context, doc *domain.Document) (int, int, error) {
	extractor, ok := s.extractors[doc.MimeType]
	if !ok {
		extractor, ok = s.extractors[""]
		if !ok {
			return 0, 0, fmt.Errorf("no extractor for mime type %q", doc.MimeType)
		}
	}

	text, err := extractor.Extract(ctx, doc)
	if err != nil {
		return 0, 0, fmt.Errorf("extract text: %w", err)
	}
	if text == "" {
		return 0, 0, fmt.Errorf("document %s has no extractable text", doc.ID)
	}

	parentChunks := make([]domain.ParentChunk, 0)
	childChunks := make([]domain.ChildChunk, 0)
	for pi, span := range s.parentChunker.Split(text) {
		parent := domain.ParentChunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Index:      pi,
			Filename:   doc.Filename,
			Text:       span,
		}
		parentChunks = append(parentChunks, parent)

		for ci, childSpan := range s.childChunker.Split(span) {
			childChunks = append(childChunks, domain.ChildChunk{
				ID:         uuid.NewString(),
				ParentID:   parent.ID,
				DocumentID: doc.ID,
				Index:      ci,
				Text:       childSpan,
			})
		}
	}
	if len(childChunks) == 0 {
		return 0, 0, fmt.Errorf("document %s produced no chunks", doc.ID)
	}

	// Parents first so every indexed child resolves to stored context.
	if err := s.parents.PutParents(ctx, parentChunks); err != nil {
		return 0, 0, fmt.Errorf("store parents: %w", err)
	}

	for start := 0; start < len(childChunks); start += s.embedBatch {
		end := start + s.embedBatch
		if end > len(childChunks) {
			end = len(childChunks)
		}
		batch := childChunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, 0, fmt.Errorf("embed children: %w", err)
		}
		if len(vectors) != len(batch) {
			return 0, 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
		}
		if err := s.index.UpsertChildren(ctx, batch, vectors); err != nil {
			return 0, 0, fmt.Errorf("index children: %w", err)
		}
	}

	return len(parentChunks), len(childChunks), nil
}
