package domain

import "time"

// Grade classifies how well retrieved knowledge-base context covers a
// question. Partial is distinct from insufficient: some context is relevant
// but incomplete, so web results are merged instead of replacing it.
type Grade string

const (
	GradeUnset        Grade = "unset"
	GradeSufficient   Grade = "sufficient"
	GradePartial      Grade = "partial"
	GradeInsufficient Grade = "insufficient"
)

// Node names one state of the workflow state machine.
type Node string

const (
	NodeStart          Node = "start"
	NodeRetrieve       Node = "retrieve"
	NodeGrade          Node = "grade"
	NodeWebSearch      Node = "web_search"
	NodeGenerate       Node = "generate"
	NodeCheckGrounding Node = "check_grounding"
	NodeHumanReview    Node = "human_review"
	NodeApproved       Node = "terminal_approved"
	NodeCancelled      Node = "terminal_cancelled"
)

// Terminal reports whether the node ends the turn.
func (n Node) Terminal() bool {
	return n == NodeApproved || n == NodeCancelled
}

// WebResult is one ranked snippet from the web search connector.
type WebResult struct {
	Snippet   string `json:"snippet"`
	SourceURL string `json:"source_url"`
	Title     string `json:"title,omitempty"`
}

// WorkflowState is the single mutable record threaded through one
// conversation turn. It is mutated exclusively by orchestrator-invoked steps,
// one at a time, and must round-trip through JSON so a turn can suspend at
// the human checkpoint across a process restart.
type WorkflowState struct {
	ThreadID string `json:"thread_id"`
	Question string `json:"question"`
	Node     Node   `json:"node"`

	KBContext  []ParentChunk `json:"kb_context,omitempty"`
	WebContext []WebResult   `json:"web_context,omitempty"`

	Grade          Grade `json:"grade"`
	ForceWebSearch bool  `json:"force_web_search"`
	Chatter        bool  `json:"chatter"`

	DraftAnswer      string `json:"draft_answer,omitempty"`
	Grounded         *bool  `json:"grounded,omitempty"`
	UnsupportedClaim string `json:"unsupported_claim,omitempty"`

	GenerationAttempts int  `json:"generation_attempts"`
	ReviewRetries      int  `json:"review_retries"`
	SearchDegraded     bool `json:"search_degraded"`

	PendingHumanDecision bool   `json:"pending_human_decision"`
	FinalAnswer          string `json:"final_answer,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasKBContext reports whether any knowledge-base context was retrieved.
func (s *WorkflowState) HasKBContext() bool { return len(s.KBContext) > 0 }

// SourceLabel names where the context assembled for generation came from.
func (s *WorkflowState) SourceLabel() string {
	switch {
	case s.HasKBContext() && len(s.WebContext) > 0:
		return "knowledge_base+web"
	case len(s.WebContext) > 0:
		return "web"
	case s.HasKBContext():
		return "knowledge_base"
	default:
		return "none"
	}
}

// DecisionAction is the human reviewer's verdict on a suspended turn.
type DecisionAction string

const (
	DecisionApprove   DecisionAction = "approve"
	DecisionRetry     DecisionAction = "retry"
	DecisionWebSearch DecisionAction = "web_search"
	DecisionCancel    DecisionAction = "cancel"
)

// ReviewDecision resumes a turn suspended at the human checkpoint.
type ReviewDecision struct {
	Action  DecisionAction `json:"action"`
	Comment string         `json:"comment,omitempty"`
}

// EventType discriminates workflow stream events.
type EventType string

const (
	EventToken     EventType = "token"
	EventStatus    EventType = "status"
	EventInterrupt EventType = "interrupt"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// ReviewRequest is the payload surfaced to the human reviewer when the
// workflow suspends.
type ReviewRequest struct {
	ThreadID         string `json:"thread_id"`
	Question         string `json:"question"`
	DraftAnswer      string `json:"draft_answer"`
	ContextSummary   string `json:"context_summary"`
	SourceLabel      string `json:"source_label"`
	GroundingFailed  bool   `json:"grounding_failed"`
	UnsupportedClaim string `json:"unsupported_claim,omitempty"`
}

// WorkflowEvent is one element of the turn's event stream. Exactly one field
// beyond Type is populated, matching Type.
type WorkflowEvent struct {
	Type      EventType      `json:"type"`
	Token     string         `json:"token,omitempty"`
	Node      Node           `json:"node,omitempty"`
	Interrupt *ReviewRequest `json:"interrupt,omitempty"`
	ErrKind   string         `json:"error_kind,omitempty"`
	ErrMsg    string         `json:"error_message,omitempty"`
	Answer    string         `json:"answer,omitempty"`
	Sources   []string       `json:"sources,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
}

// WorkflowLimits bounds the correction loops of a turn.
type WorkflowLimits struct {
	MaxGenerationRetries int           `json:"max_generation_retries"`
	MaxReviewRetries     int           `json:"max_review_retries"`
	RetrieveTopN         int           `json:"retrieve_top_n"`
	StepTimeout          time.Duration `json:"step_timeout"`
}

// InvokeRequest starts a new turn on a thread.
type InvokeRequest struct {
	ThreadID       string `json:"thread_id"`
	Question       string `json:"question"`
	ForceWebSearch bool   `json:"force_web_search"`
}
