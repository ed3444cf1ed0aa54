package httpadapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
)

type fakeWorkflow struct {
	events       []domain.WorkflowEvent
	invokeErr    error
	resumeErr    error
	lastDecision domain.DecisionAction
}

func (f *fakeWorkflow) Invoke(context.Context, domain.InvokeRequest) (<-chan domain.WorkflowEvent, error) {
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return f.eventChannel(), nil
}

func (f *fakeWorkflow) Resume(_ context.Context, _ string, decision domain.ReviewDecision) (<-chan domain.WorkflowEvent, error) {
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	f.lastDecision = decision.Action
	return f.eventChannel(), nil
}

func (f *fakeWorkflow) eventChannel() <-chan domain.WorkflowEvent {
	ch := make(chan domain.WorkflowEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type fakeIngestor struct {
	doc *domain.Document
	err error
}

func (f *fakeIngestor) Upload(context.Context, string, string, io.Reader) (*domain.Document, error) {
	return f.doc, f.err
}

type fakeReader struct {
	doc *domain.Document
	err error
}

func (f *fakeReader) GetByID(context.Context, string) (*domain.Document, error) {
	return f.doc, f.err
}

type fakeRemover struct {
	removed []string
	err     error
}

func (f *fakeRemover) Remove(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, id)
	return nil
}

func newTestRouter(workflow *fakeWorkflow) (*Router, *fakeRemover) {
	remover := &fakeRemover{}
	router := NewRouter(
		workflow,
		&fakeIngestor{doc: &domain.Document{ID: "doc-1", Status: domain.StatusUploaded}},
		&fakeReader{doc: &domain.Document{ID: "doc-1", Status: domain.StatusReady}},
		remover,
		nil,
		RouterConfig{},
	)
	return router, remover
}

func TestInvokeStreamsEvents(t *testing.T) {
	workflow := &fakeWorkflow{events: []domain.WorkflowEvent{
		{Type: domain.EventStatus, Node: domain.NodeRetrieve},
		{Type: domain.EventStatus, Node: domain.NodeGrade},
		{Type: domain.EventStatus, Node: domain.NodeGenerate},
		{Type: domain.EventStatus, Node: domain.NodeCheckGrounding},
		{Type: domain.EventInterrupt, Interrupt: &domain.ReviewRequest{ThreadID: "t1", DraftAnswer: "draft"}},
	}}
	router, _ := newTestRouter(workflow)

	req := httptest.NewRequest(http.MethodPost, "/v1/threads/t1/invoke",
		strings.NewReader(`{"question":"what is the refund window?"}`))
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.Code)
	}
	if got := res.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	body := res.Body.String()
	for _, want := range []string{
		"event: status\ndata: {\"node\":\"retrieve\"}",
		"event: status\ndata: {\"node\":\"grade\"}",
		"event: status\ndata: {\"node\":\"generate\"}",
		"event: status\ndata: {\"node\":\"check_grounding\"}",
		"event: interrupt",
		`"draft_answer":"draft"`,
		"data: [DONE]",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream missing %q:\n%s", want, body)
		}
	}
}

func TestInvokeTokenAndDoneEvents(t *testing.T) {
	workflow := &fakeWorkflow{events: []domain.WorkflowEvent{
		{Type: domain.EventToken, Token: "the "},
		{Type: domain.EventToken, Token: "answer"},
		{Type: domain.EventDone, Answer: "the answer", Sources: []string{"handbook.md"}},
	}}
	router, _ := newTestRouter(workflow)

	req := httptest.NewRequest(http.MethodPost, "/v1/threads/t1/invoke",
		strings.NewReader(`{"question":"q"}`))
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, req)

	body := res.Body.String()
	for _, want := range []string{
		`event: token`,
		`{"content":"the "}`,
		`event: done`,
		`"sources":["handbook.md"]`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream missing %q:\n%s", want, body)
		}
	}
}

func TestInvokeThreadBusyMapsTo409(t *testing.T) {
	workflow := &fakeWorkflow{
		invokeErr: domain.WrapError(domain.ErrThreadBusy, "invoke", fmt.Errorf("busy")),
	}
	router, _ := newTestRouter(workflow)

	req := httptest.NewRequest(http.MethodPost, "/v1/threads/t1/invoke",
		strings.NewReader(`{"question":"q"}`))
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", res.Code)
	}
}

func TestResumeRejectsUnknownAction(t *testing.T) {
	router, _ := newTestRouter(&fakeWorkflow{})

	req := httptest.NewRequest(http.MethodPost, "/v1/threads/t1/resume",
		strings.NewReader(`{"action":"maybe"}`))
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Code)
	}
}

func TestResumePassesDecision(t *testing.T) {
	workflow := &fakeWorkflow{events: []domain.WorkflowEvent{
		{Type: domain.EventDone, Cancelled: true},
	}}
	router, _ := newTestRouter(workflow)

	req := httptest.NewRequest(http.MethodPost, "/v1/threads/t1/resume",
		strings.NewReader(`{"action":"cancel"}`))
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.Code)
	}
	if workflow.lastDecision != domain.DecisionCancel {
		t.Fatalf("decision = %q, want cancel", workflow.lastDecision)
	}
	if !strings.Contains(res.Body.String(), `"cancelled":true`) {
		t.Fatalf("cancelled flag missing:\n%s", res.Body.String())
	}
}

func TestUploadDocumentAccepted(t *testing.T) {
	router, _ := newTestRouter(&fakeWorkflow{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "notes.txt")
	_, _ = part.Write([]byte("some text"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", res.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	router, remover := newTestRouter(&fakeWorkflow{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/documents/doc-1", nil)
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.Code)
	}
	if len(remover.removed) != 1 || remover.removed[0] != "doc-1" {
		t.Fatalf("removed = %v", remover.removed)
	}
}

func TestGetMissingDocumentMapsTo404(t *testing.T) {
	remover := &fakeRemover{}
	router := NewRouter(
		&fakeWorkflow{},
		&fakeIngestor{},
		&fakeReader{err: domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document x"))},
		remover,
		nil,
		RouterConfig{},
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/x", nil)
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.Code)
	}
}
