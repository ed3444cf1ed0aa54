package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/core/ports"
)

// mapExtractors registers one extractor as both the text/plain handler and
// the fallback.
func mapExtractors(extractor ports.TextExtractor) map[string]ports.TextExtractor {
	return map[string]ports.TextExtractor{
		"text/plain": extractor,
		"":           extractor,
	}
}

type memDocumentRepo struct {
	docs      map[string]*domain.Document
	statusLog []domain.DocumentStatus
	createErr error
}

func newMemDocumentRepo() *memDocumentRepo {
	return &memDocumentRepo{docs: map[string]*domain.Document{}}
}

func (r *memDocumentRepo) Create(_ context.Context, doc *domain.Document) error {
	if r.createErr != nil {
		return r.createErr
	}
	copied := *doc
	r.docs[doc.ID] = &copied
	return nil
}

func (r *memDocumentRepo) GetByID(_ context.Context, id string) (*domain.Document, error) {
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
	}
	copied := *doc
	return &copied, nil
}

func (r *memDocumentRepo) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	doc, ok := r.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update status", fmt.Errorf("document %s", id))
	}
	doc.Status = status
	doc.Error = errMessage
	r.statusLog = append(r.statusLog, status)
	return nil
}

func (r *memDocumentRepo) SaveChunkCounts(_ context.Context, id string, parents, children int) error {
	doc, ok := r.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "save chunk counts", fmt.Errorf("document %s", id))
	}
	doc.ParentCount = parents
	doc.ChildCount = children
	return nil
}

func (r *memDocumentRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.docs[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "delete document", fmt.Errorf("document %s", id))
	}
	delete(r.docs, id)
	return nil
}

type memObjectStorage struct {
	files   map[string][]byte
	removed []string
	saveErr error
}

func newMemObjectStorage() *memObjectStorage {
	return &memObjectStorage{files: map[string][]byte{}}
}

func (s *memObjectStorage) Save(_ context.Context, id, ext string, data io.Reader) (string, int64, error) {
	if s.saveErr != nil {
		return "", 0, s.saveErr
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", 0, err
	}
	path := id + ext
	s.files[path] = body
	return path, int64(len(body)), nil
}

func (s *memObjectStorage) Open(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: not found", path)
	}
	return io.NopCloser(strings.NewReader(string(body))), nil
}

func (s *memObjectStorage) Remove(_ context.Context, path string) error {
	delete(s.files, path)
	s.removed = append(s.removed, path)
	return nil
}

type memQueue struct {
	published  []string
	publishErr error
}

func (q *memQueue) PublishDocumentUploaded(_ context.Context, documentID string) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, documentID)
	return nil
}

func (q *memQueue) SubscribeDocumentUploaded(context.Context, func(context.Context, string) error) error {
	return nil
}

type staticExtractor struct {
	text string
	err  error
}

func (e *staticExtractor) Extract(context.Context, *domain.Document) (string, error) {
	return e.text, e.err
}

type wordChunker struct{ perChunk int }

func (c *wordChunker) Split(text string) []string {
	words := strings.Fields(text)
	var out []string
	for start := 0; start < len(words); start += c.perChunk {
		end := start + c.perChunk
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}

type countingEmbedder struct{ calls int }

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i]))}
	}
	return vectors, nil
}

func (e *countingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1}, nil
}

type recordingChildIndex struct {
	upserted   []domain.ChildChunk
	deletedDoc []string
}

func (i *recordingChildIndex) UpsertChildren(_ context.Context, chunks []domain.ChildChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector mismatch: %d vs %d", len(chunks), len(vectors))
	}
	i.upserted = append(i.upserted, chunks...)
	return nil
}

func (i *recordingChildIndex) QueryDense(context.Context, []float32, int) ([]domain.RetrievalCandidate, error) {
	return nil, nil
}

func (i *recordingChildIndex) QuerySparse(context.Context, string, int) ([]domain.RetrievalCandidate, error) {
	return nil, nil
}

func (i *recordingChildIndex) DeleteByDocument(_ context.Context, documentID string) error {
	i.deletedDoc = append(i.deletedDoc, documentID)
	return nil
}

type recordingParentStore struct {
	parents    map[string]domain.ParentChunk
	deletedDoc []string
}

func newRecordingParentStore() *recordingParentStore {
	return &recordingParentStore{parents: map[string]domain.ParentChunk{}}
}

func (s *recordingParentStore) PutParents(_ context.Context, chunks []domain.ParentChunk) error {
	for _, chunk := range chunks {
		s.parents[chunk.ID] = chunk
	}
	return nil
}

func (s *recordingParentStore) GetParent(_ context.Context, id string) (*domain.ParentChunk, error) {
	chunk, ok := s.parents[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get parent", fmt.Errorf("parent %s", id))
	}
	return &chunk, nil
}

func (s *recordingParentStore) DeleteByDocument(_ context.Context, documentID string) error {
	s.deletedDoc = append(s.deletedDoc, documentID)
	return nil
}

func TestUploadRegistersAndEnqueues(t *testing.T) {
	repo := newMemDocumentRepo()
	objects := newMemObjectStorage()
	queue := &memQueue{}
	svc := NewDocumentService(repo, objects, queue)

	doc, err := svc.Upload(context.Background(), "notes.txt", "text/plain", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.Status != domain.StatusUploaded {
		t.Fatalf("status = %q", doc.Status)
	}
	if doc.SizeBytes != int64(len("hello world")) {
		t.Fatalf("size = %d", doc.SizeBytes)
	}
	if len(queue.published) != 1 || queue.published[0] != doc.ID {
		t.Fatalf("published = %v", queue.published)
	}
	if _, ok := repo.docs[doc.ID]; !ok {
		t.Fatal("registry row missing")
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	svc := NewDocumentService(newMemDocumentRepo(), newMemObjectStorage(), &memQueue{})

	_, err := svc.Upload(context.Background(), "payload.exe", "application/octet-stream", strings.NewReader("x"))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestUploadStripsPathTraversal(t *testing.T) {
	repo := newMemDocumentRepo()
	svc := NewDocumentService(repo, newMemObjectStorage(), &memQueue{})

	doc, err := svc.Upload(context.Background(), "../../etc/passwd.txt", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.Filename != "passwd.txt" {
		t.Fatalf("filename = %q", doc.Filename)
	}
}

func TestUploadEnqueueFailureMarksFailed(t *testing.T) {
	repo := newMemDocumentRepo()
	queue := &memQueue{publishErr: errors.New("nats down")}
	svc := NewDocumentService(repo, newMemObjectStorage(), queue)

	_, err := svc.Upload(context.Background(), "notes.txt", "text/plain", strings.NewReader("hello"))
	if err == nil {
		t.Fatal("expected error when enqueue fails")
	}
	var failed bool
	for _, doc := range repo.docs {
		failed = doc.Status == domain.StatusFailed
	}
	if !failed {
		t.Fatal("document not marked failed after enqueue failure")
	}
}

func TestIndexByIDSplitsEmbedsAndStores(t *testing.T) {
	repo := newMemDocumentRepo()
	repo.docs["doc-1"] = &domain.Document{ID: "doc-1", Filename: "notes.txt", MimeType: "text/plain", Status: domain.StatusUploaded}
	parents := newRecordingParentStore()
	index := &recordingChildIndex{}
	embedder := &countingEmbedder{}

	words := make([]string, 40)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	indexing := NewIndexingService(
		repo,
		mapExtractors(&staticExtractor{text: strings.Join(words, " ")}),
		&wordChunker{perChunk: 20},
		&wordChunker{perChunk: 5},
		embedder,
		parents,
		index,
	)
	indexing.SetEmbedBatch(3)

	if err := indexing.IndexByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("IndexByID: %v", err)
	}

	doc := repo.docs["doc-1"]
	if doc.Status != domain.StatusReady {
		t.Fatalf("status = %q, error = %q", doc.Status, doc.Error)
	}
	if doc.ParentCount != 2 || doc.ChildCount != 8 {
		t.Fatalf("counts = %d/%d, want 2/8", doc.ParentCount, doc.ChildCount)
	}
	if len(parents.parents) != 2 {
		t.Fatalf("parents stored = %d", len(parents.parents))
	}
	if len(index.upserted) != 8 {
		t.Fatalf("children indexed = %d", len(index.upserted))
	}
	// 8 children at batch size 3 means 3 embedding calls.
	if embedder.calls != 3 {
		t.Fatalf("embed calls = %d", embedder.calls)
	}
	for _, child := range index.upserted {
		if _, ok := parents.parents[child.ParentID]; !ok {
			t.Fatalf("child %s references unknown parent %s", child.ID, child.ParentID)
		}
	}
}

func TestIndexByIDExtractionFailureMarksFailed(t *testing.T) {
	repo := newMemDocumentRepo()
	repo.docs["doc-1"] = &domain.Document{ID: "doc-1", MimeType: "text/plain", Status: domain.StatusUploaded}

	indexing := NewIndexingService(
		repo,
		mapExtractors(&staticExtractor{err: errors.New("corrupt file")}),
		&wordChunker{perChunk: 20},
		&wordChunker{perChunk: 5},
		&countingEmbedder{},
		newRecordingParentStore(),
		&recordingChildIndex{},
	)

	if err := indexing.IndexByID(context.Background(), "doc-1"); err == nil {
		t.Fatal("expected extraction error")
	}
	doc := repo.docs["doc-1"]
	if doc.Status != domain.StatusFailed {
		t.Fatalf("status = %q", doc.Status)
	}
	if !strings.Contains(doc.Error, "corrupt file") {
		t.Fatalf("error message = %q", doc.Error)
	}
}

func TestRemoveDeletesChildrenBeforeParents(t *testing.T) {
	repo := newMemDocumentRepo()
	repo.docs["doc-1"] = &domain.Document{ID: "doc-1", StoragePath: "doc-1.txt", Status: domain.StatusReady}
	objects := newMemObjectStorage()
	objects.files["doc-1.txt"] = []byte("hello")
	parents := newRecordingParentStore()
	index := &recordingChildIndex{}

	svc := NewDeletionService(repo, objects, parents, index)
	if err := svc.Remove(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if len(index.deletedDoc) != 1 || len(parents.deletedDoc) != 1 {
		t.Fatalf("deletes: index %v, parents %v", index.deletedDoc, parents.deletedDoc)
	}
	if len(objects.removed) != 1 || objects.removed[0] != "doc-1.txt" {
		t.Fatalf("stored file removals = %v", objects.removed)
	}
	if _, ok := repo.docs["doc-1"]; ok {
		t.Fatal("registry row survived deletion")
	}
}

func TestRemoveMissingDocument(t *testing.T) {
	svc := NewDeletionService(newMemDocumentRepo(), newMemObjectStorage(), newRecordingParentStore(), &recordingChildIndex{})
	if err := svc.Remove(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
