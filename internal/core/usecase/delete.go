package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nexuslabs/nexus-rag/internal/core/ports"
)

// DeletionService removes a document and every derived artifact. Children go
// first so the index never holds a child whose parent is already gone.
type DeletionService struct {
	repo    ports.DocumentRepository
	objects ports.ObjectStorage
	parents ports.ParentStore
	index   ports.ChildIndex
}

func NewDeletionService(repo ports.DocumentRepository, objects ports.ObjectStorage, parents ports.ParentStore, index ports.ChildIndex) *DeletionService {
	return &DeletionService{repo: repo, objects: objects, parents: parents, index: index}
}

func (s *DeletionService) Remove(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("delete document: id is required")
	}

	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load document %s: %w", id, err)
	}

	if err := s.index.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("delete child chunks: %w", err)
	}
	if err := s.parents.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("delete parent chunks: %w", err)
	}

	if doc.StoragePath != "" {
		if err := s.objects.Remove(ctx, doc.StoragePath); err != nil {
			// Orphaned raw file, not orphaned index state; log and keep going.
			slog.Warn("stored_file_remove_failed", "document_id", id, "path", doc.StoragePath, "error", err)
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete registry row: %w", err)
	}

	slog.Info("document_deleted", "document_id", id)
	return nil
}
