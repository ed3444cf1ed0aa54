package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/core/ports"
)

// Retriever is the slice of the hybrid retriever the orchestrator needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topN int) ([]domain.ParentChunk, error)
}

// Orchestrator runs the corrective retrieval-and-generation state machine:
// retrieve -> grade -> (web_search) -> generate -> check_grounding ->
// (generate loop | human_review) -> terminal. One turn advances strictly
// sequentially; the human checkpoint is the only suspend point and the state
// is persisted there so the turn survives a process restart.
type Orchestrator struct {
	retriever   Retriever
	intent      ports.IntentClassifier
	grader      ports.RelevanceGrader
	searcher    ports.WebSearcher
	generator   ports.AnswerGenerator
	grounding   ports.GroundingChecker
	checkpoints ports.CheckpointStore
	observer    ports.WorkflowObserver
	limits      domain.WorkflowLimits
	tokenChars  int

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewOrchestrator(
	retriever Retriever,
	intent ports.IntentClassifier,
	grader ports.RelevanceGrader,
	searcher ports.WebSearcher,
	generator ports.AnswerGenerator,
	grounding ports.GroundingChecker,
	checkpoints ports.CheckpointStore,
	limits domain.WorkflowLimits,
) *Orchestrator {
	if limits.MaxGenerationRetries <= 0 {
		limits.MaxGenerationRetries = 3
	}
	if limits.MaxReviewRetries <= 0 {
		limits.MaxReviewRetries = 3
	}
	if limits.RetrieveTopN <= 0 {
		limits.RetrieveTopN = 5
	}
	if limits.StepTimeout <= 0 {
		limits.StepTimeout = 60 * time.Second
	}
	return &Orchestrator{
		retriever:   retriever,
		intent:      intent,
		grader:      grader,
		searcher:    searcher,
		generator:   generator,
		grounding:   grounding,
		checkpoints: checkpoints,
		limits:      limits,
		tokenChars:  120,
		inFlight:    make(map[string]struct{}),
	}
}

// SetTokenChunkChars overrides how many runes each streamed token event
// carries. Values below one keep the default.
func (o *Orchestrator) SetTokenChunkChars(chars int) {
	if chars > 0 {
		o.tokenChars = chars
	}
}

// SetObserver attaches a telemetry sink for grade outcomes, web-search
// routing, retrieval sizes and grounding retries.
func (o *Orchestrator) SetObserver(observer ports.WorkflowObserver) {
	o.observer = observer
}

// Invoke starts a new turn. The returned channel closes when the turn
// finishes or suspends at the human checkpoint.
func (o *Orchestrator) Invoke(ctx context.Context, req domain.InvokeRequest) (<-chan domain.WorkflowEvent, error) {
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "invoke", fmt.Errorf("thread_id is required"))
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "invoke", fmt.Errorf("question is required"))
	}

	if err := o.acquire(threadID); err != nil {
		return nil, err
	}

	existing, err := o.checkpoints.Load(ctx, threadID)
	if err != nil {
		o.release(threadID)
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if existing != nil && existing.PendingHumanDecision {
		o.release(threadID)
		return nil, domain.WrapError(domain.ErrThreadBusy, "invoke", fmt.Errorf("thread %s is awaiting review", threadID))
	}

	now := time.Now().UTC()
	state := &domain.WorkflowState{
		ThreadID:       threadID,
		Question:       question,
		Node:           domain.NodeStart,
		Grade:          domain.GradeUnset,
		ForceWebSearch: req.ForceWebSearch,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	ch := make(chan domain.WorkflowEvent, 16)
	go o.run(ctx, state, ch)
	return ch, nil
}

// Resume continues a turn suspended at the human checkpoint. Completed steps
// are never re-run: the persisted state already carries their results.
func (o *Orchestrator) Resume(ctx context.Context, threadID string, decision domain.ReviewDecision) (<-chan domain.WorkflowEvent, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "resume", fmt.Errorf("thread_id is required"))
	}

	if err := o.acquire(threadID); err != nil {
		return nil, err
	}

	state, err := o.checkpoints.Load(ctx, threadID)
	if err != nil {
		o.release(threadID)
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if state == nil {
		o.release(threadID)
		return nil, domain.WrapError(domain.ErrNotFound, "resume", fmt.Errorf("no suspended turn for thread %s", threadID))
	}
	if !state.PendingHumanDecision {
		o.release(threadID)
		return nil, domain.WrapError(domain.ErrInvalidInput, "resume", fmt.Errorf("thread %s is not awaiting review", threadID))
	}

	if err := o.applyDecision(state, decision); err != nil {
		o.release(threadID)
		return nil, err
	}

	ch := make(chan domain.WorkflowEvent, 16)
	go o.run(ctx, state, ch)
	return ch, nil
}

func (o *Orchestrator) applyDecision(state *domain.WorkflowState, decision domain.ReviewDecision) error {
	state.PendingHumanDecision = false

	switch decision.Action {
	case domain.DecisionApprove:
		state.FinalAnswer = state.DraftAnswer
		state.Node = domain.NodeApproved
	case domain.DecisionCancel:
		state.Node = domain.NodeCancelled
	case domain.DecisionRetry:
		state.ReviewRetries++
		resetCorrectionLoop(state)
		if state.ReviewRetries > o.limits.MaxReviewRetries {
			// Retrieval budget spent: regenerate from whatever context
			// the turn already has instead of re-entering retrieval.
			state.Node = domain.NodeGenerate
		} else {
			state.KBContext = nil
			state.Node = domain.NodeRetrieve
		}
	case domain.DecisionWebSearch:
		resetCorrectionLoop(state)
		state.ForceWebSearch = true
		if state.HasKBContext() {
			state.Grade = domain.GradePartial
		} else {
			state.Grade = domain.GradeInsufficient
		}
		state.Node = domain.NodeWebSearch
	default:
		return domain.WrapError(domain.ErrInvalidInput, "resume", fmt.Errorf("unsupported decision %q", decision.Action))
	}
	return nil
}

func resetCorrectionLoop(state *domain.WorkflowState) {
	state.Grade = domain.GradeUnset
	state.WebContext = nil
	state.SearchDegraded = false
	state.DraftAnswer = ""
	state.Grounded = nil
	state.UnsupportedClaim = ""
	state.GenerationAttempts = 0
}

// run advances the state machine until the turn terminates or suspends.
func (o *Orchestrator) run(ctx context.Context, state *domain.WorkflowState, ch chan<- domain.WorkflowEvent) {
	defer close(ch)
	defer o.release(state.ThreadID)

	for {
		if err := ctx.Err(); err != nil {
			slog.Warn("workflow_aborted", "thread_id", state.ThreadID, "node", state.Node, "error", err)
			return
		}

		var err error
		switch state.Node {
		case domain.NodeStart:
			err = o.stepStart(ctx, state)
		case domain.NodeRetrieve:
			o.emit(ctx, ch, domain.WorkflowEvent{Type: domain.EventStatus, Node: domain.NodeRetrieve})
			err = o.stepRetrieve(ctx, state)
		case domain.NodeGrade:
			o.emit(ctx, ch, domain.WorkflowEvent{Type: domain.EventStatus, Node: domain.NodeGrade})
			err = o.stepGrade(ctx, state)
		case domain.NodeWebSearch:
			o.emit(ctx, ch, domain.WorkflowEvent{Type: domain.EventStatus, Node: domain.NodeWebSearch})
			err = o.stepWebSearch(ctx, state)
		case domain.NodeGenerate:
			o.emit(ctx, ch, domain.WorkflowEvent{Type: domain.EventStatus, Node: domain.NodeGenerate})
			err = o.stepGenerate(ctx, state)
		case domain.NodeCheckGrounding:
			o.emit(ctx, ch, domain.WorkflowEvent{Type: domain.EventStatus, Node: domain.NodeCheckGrounding})
			err = o.stepCheckGrounding(ctx, state)
		case domain.NodeHumanReview:
			o.suspend(ctx, state, ch)
			return
		case domain.NodeApproved:
			o.finish(ctx, state, ch)
			return
		case domain.NodeCancelled:
			state.UpdatedAt = time.Now().UTC()
			if saveErr := o.checkpoints.Save(ctx, state); saveErr != nil {
				slog.Error("checkpoint_save_failed", "thread_id", state.ThreadID, "error", saveErr)
			}
			o.emit(ctx, ch, domain.WorkflowEvent{Type: domain.EventDone, Cancelled: true})
			return
		default:
			err = fmt.Errorf("unknown workflow node %q", state.Node)
		}

		if err != nil {
			o.fail(ctx, state, ch, err)
			return
		}
		state.UpdatedAt = time.Now().UTC()
	}
}

func (o *Orchestrator) stepStart(ctx context.Context, state *domain.WorkflowState) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.limits.StepTimeout)
	defer cancel()

	chatter, err := o.intent.IsChatter(stepCtx, state.Question)
	if err != nil {
		if domain.Fatal(err) {
			return err
		}
		// An unavailable classifier must not block the turn; assume a
		// real question and run the full pipeline.
		slog.Warn("intent_classification_failed", "thread_id", state.ThreadID, "error", err)
		chatter = false
	}

	state.Chatter = chatter
	if chatter {
		state.Node = domain.NodeGenerate
	} else {
		state.Node = domain.NodeRetrieve
	}
	return nil
}

func (o *Orchestrator) stepRetrieve(ctx context.Context, state *domain.WorkflowState) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.limits.StepTimeout)
	defer cancel()

	kb, err := o.retriever.Retrieve(stepCtx, state.Question, o.limits.RetrieveTopN)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	state.KBContext = kb
	if o.observer != nil {
		o.observer.RecordRetrievedParents(len(kb))
	}
	state.Node = domain.NodeGrade
	return nil
}

func (o *Orchestrator) stepGrade(ctx context.Context, state *domain.WorkflowState) error {
	if !state.HasKBContext() {
		state.Grade = domain.GradeInsufficient
		if o.observer != nil {
			o.observer.RecordGrade(string(state.Grade))
		}
		state.Node = domain.NodeWebSearch
		return nil
	}

	stepCtx, cancel := context.WithTimeout(ctx, o.limits.StepTimeout)
	defer cancel()

	grade, err := o.grader.Grade(stepCtx, state.Question, state.KBContext)
	if err != nil {
		if domain.Fatal(err) {
			return err
		}
		// Grader outage never blocks a turn that has context.
		slog.Warn("relevance_grading_failed", "thread_id", state.ThreadID, "error", err)
		grade = domain.GradeSufficient
	}

	if state.ForceWebSearch && grade == domain.GradeSufficient {
		grade = domain.GradePartial
	}
	state.Grade = grade
	if o.observer != nil {
		o.observer.RecordGrade(string(grade))
	}

	switch grade {
	case domain.GradeSufficient:
		state.Node = domain.NodeGenerate
	case domain.GradePartial, domain.GradeInsufficient:
		state.Node = domain.NodeWebSearch
	default:
		return fmt.Errorf("grade: unexpected label %q", grade)
	}
	return nil
}

func (o *Orchestrator) stepWebSearch(ctx context.Context, state *domain.WorkflowState) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.limits.StepTimeout)
	defer cancel()

	mode := "hybrid"
	if state.Grade == domain.GradeInsufficient {
		mode = "fallback"
	}

	results, err := o.searcher.Search(stepCtx, state.Question)
	if err != nil {
		if !domain.IsKind(err, domain.ErrSearchUnavailable) {
			o.recordWebSearch(mode, "error")
			return fmt.Errorf("web search: %w", err)
		}
		// Degrade: keep whatever knowledge-base context exists and tell
		// the generator the context may be incomplete.
		slog.Warn("web_search_unavailable", "thread_id", state.ThreadID, "error", err)
		o.recordWebSearch(mode, "degraded")
		state.SearchDegraded = true
		state.Node = domain.NodeGenerate
		return nil
	}

	if state.Grade == domain.GradeInsufficient {
		// Fallback mode: web results become the entire context.
		state.KBContext = nil
	}
	state.WebContext = results
	o.recordWebSearch(mode, "ok")
	state.Node = domain.NodeGenerate
	return nil
}

func (o *Orchestrator) recordWebSearch(mode, status string) {
	if o.observer != nil {
		o.observer.RecordWebSearch(mode, status)
	}
}

func (o *Orchestrator) stepGenerate(ctx context.Context, state *domain.WorkflowState) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.limits.StepTimeout)
	defer cancel()

	draft, err := o.generator.Generate(stepCtx, ports.GenerationInput{
		Question:     state.Question,
		KBContext:    state.KBContext,
		WebContext:   state.WebContext,
		PriorFailure: state.UnsupportedClaim,
		Degraded:     state.SearchDegraded,
		Chatter:      state.Chatter,
	})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	state.DraftAnswer = draft

	if state.Chatter {
		// Nothing factual to ground or review.
		state.FinalAnswer = draft
		state.Node = domain.NodeApproved
		return nil
	}
	state.Node = domain.NodeCheckGrounding
	return nil
}

func (o *Orchestrator) stepCheckGrounding(ctx context.Context, state *domain.WorkflowState) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.limits.StepTimeout)
	defer cancel()

	verdict, err := o.grounding.Check(stepCtx, state.DraftAnswer, state.KBContext, state.WebContext)
	if err != nil {
		if domain.Fatal(err) {
			return err
		}
		slog.Warn("grounding_check_failed", "thread_id", state.ThreadID, "error", err)
		verdict = ports.GroundingVerdict{Grounded: true}
	}

	grounded := verdict.Grounded
	state.Grounded = &grounded
	state.UnsupportedClaim = verdict.UnsupportedClaim

	if !grounded && state.GenerationAttempts < o.limits.MaxGenerationRetries {
		state.GenerationAttempts++
		state.Node = domain.NodeGenerate
		return nil
	}

	// Exhausted attempts still reach review: a human must see the
	// grounding-failed flag, never a silently discarded answer.
	state.Node = domain.NodeHumanReview
	return nil
}

// suspend persists the state and emits the interrupt. Persist-first ordering
// is what makes the checkpoint survive a crash between the two.
func (o *Orchestrator) suspend(ctx context.Context, state *domain.WorkflowState, ch chan<- domain.WorkflowEvent) {
	state.PendingHumanDecision = true
	state.UpdatedAt = time.Now().UTC()
	if err := o.checkpoints.Save(ctx, state); err != nil {
		o.fail(ctx, state, ch, fmt.Errorf("save checkpoint: %w", err))
		return
	}

	if o.observer != nil {
		o.observer.RecordGroundingRetries(state.GenerationAttempts)
	}
	groundingFailed := state.Grounded != nil && !*state.Grounded
	o.emit(ctx, ch, domain.WorkflowEvent{
		Type: domain.EventInterrupt,
		Interrupt: &domain.ReviewRequest{
			ThreadID:         state.ThreadID,
			Question:         state.Question,
			DraftAnswer:      state.DraftAnswer,
			ContextSummary:   summarizeContext(state),
			SourceLabel:      state.SourceLabel(),
			GroundingFailed:  groundingFailed,
			UnsupportedClaim: state.UnsupportedClaim,
		},
	})
}

func (o *Orchestrator) finish(ctx context.Context, state *domain.WorkflowState, ch chan<- domain.WorkflowEvent) {
	state.UpdatedAt = time.Now().UTC()
	if err := o.checkpoints.Save(ctx, state); err != nil {
		slog.Error("checkpoint_save_failed", "thread_id", state.ThreadID, "error", err)
	}

	for _, part := range splitByRunes(state.FinalAnswer, o.tokenChars) {
		o.emit(ctx, ch, domain.WorkflowEvent{Type: domain.EventToken, Token: part})
	}
	o.emit(ctx, ch, domain.WorkflowEvent{
		Type:    domain.EventDone,
		Answer:  state.FinalAnswer,
		Sources: collectSources(state),
	})
}

// fail emits exactly one structured error event; the turn terminates without
// a final answer and nothing partial follows.
func (o *Orchestrator) fail(ctx context.Context, state *domain.WorkflowState, ch chan<- domain.WorkflowEvent, err error) {
	slog.Error("workflow_failed", "thread_id", state.ThreadID, "node", state.Node, "error", err)
	o.emit(ctx, ch, domain.WorkflowEvent{
		Type:    domain.EventError,
		ErrKind: domain.ErrorKind(err),
		ErrMsg:  err.Error(),
	})
}

func (o *Orchestrator) emit(ctx context.Context, ch chan<- domain.WorkflowEvent, event domain.WorkflowEvent) {
	select {
	case ch <- event:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) acquire(threadID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[threadID]; busy {
		return domain.WrapError(domain.ErrThreadBusy, "acquire thread", fmt.Errorf("turn already in flight for %s", threadID))
	}
	o.inFlight[threadID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(threadID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, threadID)
}

func summarizeContext(state *domain.WorkflowState) string {
	const perSource = 240
	var b strings.Builder
	for i, chunk := range state.KBContext {
		fmt.Fprintf(&b, "[KB %d] %s: %s\n", i+1, chunk.Filename, truncateRunes(chunk.Text, perSource))
	}
	for i, res := range state.WebContext {
		fmt.Fprintf(&b, "[Web %d] %s: %s\n", i+1, res.SourceURL, truncateRunes(res.Snippet, perSource))
	}
	if b.Len() == 0 {
		return "(no retrieved context)"
	}
	return strings.TrimRight(b.String(), "\n")
}

func collectSources(state *domain.WorkflowState) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(state.KBContext)+len(state.WebContext))
	for _, chunk := range state.KBContext {
		if _, ok := seen[chunk.Filename]; ok || chunk.Filename == "" {
			continue
		}
		seen[chunk.Filename] = struct{}{}
		out = append(out, chunk.Filename)
	}
	for _, res := range state.WebContext {
		if _, ok := seen[res.SourceURL]; ok || res.SourceURL == "" {
			continue
		}
		seen[res.SourceURL] = struct{}{}
		out = append(out, res.SourceURL)
	}
	return out
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

func splitByRunes(text string, chunkChars int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if chunkChars <= 0 || len(runes) <= chunkChars {
		return []string{text}
	}

	parts := make([]string, 0, len(runes)/chunkChars+1)
	for start := 0; start < len(runes); start += chunkChars {
		end := start + chunkChars
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}
