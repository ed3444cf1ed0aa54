package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/core/ports"
)

// DocumentService accepts uploads, tracks registry state and hands indexing
// work to the background worker via the queue.
type DocumentService struct {
	repo    ports.DocumentRepository
	objects ports.ObjectStorage
	queue   ports.MessageQueue
}

func NewDocumentService(repo ports.DocumentRepository, objects ports.ObjectStorage, queue ports.MessageQueue) *DocumentService {
	return &DocumentService{repo: repo, objects: objects, queue: queue}
}

var supportedExtensions = map[string]struct{}{
	".txt": {},
	".md":  {},
	".pdf": {},
}

// Upload stores the raw file, registers the document as uploaded and enqueues
// it for indexing. The caller gets the registry row back immediately; chunking
// and embedding happen on the worker.
func (s *DocumentService) Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("filename is required"))
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := supportedExtensions[ext]; !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("unsupported file type %q", ext))
	}

	doc := &domain.Document{
		ID:        uuid.NewString(),
		Filename:  filename,
		MimeType:  mimeType,
		Status:    domain.StatusUploaded,
		CreatedAt: time.Now().UTC(),
	}

	path, size, err := s.objects.Save(ctx, doc.ID, ext, body)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	doc.StoragePath = path
	doc.SizeBytes = size

	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}

	if err := s.queue.PublishDocumentUploaded(ctx, doc.ID); err != nil {
		// The row exists but no worker will pick it up; surface the
		// failure so the caller can retry the upload.
		if stErr := s.repo.UpdateStatus(ctx, doc.ID, domain.StatusFailed, "enqueue failed"); stErr != nil {
			slog.Error("document_status_update_failed", "document_id", doc.ID, "error", stErr)
		}
		return nil, fmt.Errorf("enqueue indexing: %w", err)
	}

	slog.Info("document_uploaded", "document_id", doc.ID, "filename", filename, "size_bytes", size)
	return doc, nil
}

// GetByID reads the registry row, including chunk counts once indexed.
func (s *DocumentService) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", fmt.Errorf("id is required"))
	}
	return s.repo.GetByID(ctx, id)
}
