package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
)

// ParentStore implements ports.ParentStore: parent chunks live in Postgres,
// keyed by id, so the child index only ever carries parent references.
type ParentStore struct {
	db *sql.DB
}

func NewParentStore(db *sql.DB) *ParentStore {
	return &ParentStore{db: db}
}

func (s *ParentStore) PutParents(ctx context.Context, chunks []domain.ParentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin parents tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `
INSERT INTO parent_chunks (id, document_id, chunk_index, filename, body)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body
`
	for _, chunk := range chunks {
		if _, err := tx.ExecContext(ctx, query, chunk.ID, chunk.DocumentID, chunk.Index, chunk.Filename, chunk.Text); err != nil {
			return fmt.Errorf("insert parent chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit parents tx: %w", err)
	}
	return nil
}

func (s *ParentStore) GetParent(ctx context.Context, id string) (*domain.ParentChunk, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, document_id, chunk_index, filename, body
FROM parent_chunks
WHERE id = $1
`, id)

	var chunk domain.ParentChunk
	err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Index, &chunk.Filename, &chunk.Text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get parent", fmt.Errorf("parent chunk %s", id))
		}
		return nil, fmt.Errorf("scan parent chunk: %w", err)
	}
	return &chunk, nil
}

func (s *ParentStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM parent_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete parent chunks: %w", err)
	}
	return nil
}
