package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/core/ports"
	"github.com/nexuslabs/nexus-rag/internal/observability/metrics"
)

type RouterConfig struct {
	Service          string
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
}

// Router exposes the workflow and document endpoints. Workflow responses are
// server-sent event streams; document endpoints are plain JSON.
type Router struct {
	workflow  ports.WorkflowService
	documents ports.DocumentIngestor
	reader    ports.DocumentReader
	remover   ports.DocumentRemover
	metrics   *metrics.APIMetrics
	cfg       RouterConfig
}

func NewRouter(
	workflow ports.WorkflowService,
	documents ports.DocumentIngestor,
	reader ports.DocumentReader,
	remover ports.DocumentRemover,
	apiMetrics *metrics.APIMetrics,
	cfg RouterConfig,
) *Router {
	if cfg.Service == "" {
		cfg.Service = "api"
	}
	return &Router{
		workflow:  workflow,
		documents: documents,
		reader:    reader,
		remover:   remover,
		metrics:   apiMetrics,
		cfg:       cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/", rt.documentByID)
	mux.HandleFunc("/v1/threads/", rt.threads)

	var handler http.Handler = mux
	if rt.cfg.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	}
	if rt.cfg.MaxInFlight > 0 {
		handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.BackpressureWait)
	}
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.Service, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	doc, err := rt.documents.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) documentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := rt.reader.GetByID(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := rt.remover.Remove(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// threads dispatches /v1/threads/{thread_id}/invoke and /resume.
func (rt *Router) threads(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/threads/")
	threadID, action, found := strings.Cut(rest, "/")
	if !found || threadID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch action {
	case "invoke":
		rt.invokeThread(w, r, threadID)
	case "resume":
		rt.resumeThread(w, r, threadID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (rt *Router) invokeThread(w http.ResponseWriter, r *http.Request, threadID string) {
	var req struct {
		Question       string `json:"question"`
		ForceWebSearch bool   `json:"force_web_search"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	events, err := rt.workflow.Invoke(r.Context(), domain.InvokeRequest{
		ThreadID:       threadID,
		Question:       req.Question,
		ForceWebSearch: req.ForceWebSearch,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rt.streamEvents(w, events)
}

func (rt *Router) resumeThread(w http.ResponseWriter, r *http.Request, threadID string) {
	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	action := domain.DecisionAction(strings.TrimSpace(req.Action))
	switch action {
	case domain.DecisionApprove, domain.DecisionRetry, domain.DecisionWebSearch, domain.DecisionCancel:
	default:
		writeError(w, http.StatusBadRequest, "action must be one of approve, retry, web_search, cancel")
		return
	}

	events, err := rt.workflow.Resume(r.Context(), threadID, domain.ReviewDecision{Action: action})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordReviewDecision(rt.cfg.Service, string(action))
	}
	rt.streamEvents(w, events)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{
		"error": err.Error(),
		"kind":  domain.ErrorKind(err),
	})
}
