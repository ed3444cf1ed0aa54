package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/core/ports"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/resilience"
)

// Client talks to a local Ollama instance. It implements ports.LLMProvider
// directly; the typed wrappers below turn completions into the narrow
// grading, grounding, generation and classification ports.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	runner     *resilience.Runner
}

func New(baseURL, genModel, embedModel string, runner *resilience.Runner) *Client {
	if runner == nil {
		runner = resilience.NewRunner(resilience.DefaultPolicy())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		runner:     runner,
	}
}

// Complete runs one generation call. Failures carry the domain LLM error
// kinds so callers can tell fatal from transient.
func (c *Client) Complete(ctx context.Context, prompt string, opts ports.CompleteOptions) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
	}
	if opts.JSON {
		reqBody["format"] = "json"
	}
	if opts.Temperature > 0 {
		reqBody["options"] = map[string]any{"temperature": opts.Temperature}
	}

	var response struct {
		Response string `json:"response"`
	}
	err := c.runner.Do(ctx, "ollama.generate", resilience.ClassifyDomain, func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, "generate")
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) completeJSON(ctx context.Context, prompt string, out any) error {
	raw, err := c.Complete(ctx, prompt, ports.CompleteOptions{JSON: true})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), out); err != nil {
		return fmt.Errorf("parse model json: %w", err)
	}
	return nil
}

// Embedder implements ports.Embedder over the embedding model.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.runner.Do(ctx, "ollama.embed", resilience.ClassifyDomain, func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

// Grader implements ports.RelevanceGrader.
type Grader struct {
	client *Client
}

func NewGrader(client *Client) *Grader {
	return &Grader{client: client}
}

func (g *Grader) Grade(ctx context.Context, question string, kbContext []domain.ParentChunk) (domain.Grade, error) {
	var result struct {
		Grade string `json:"grade"`
	}
	if err := g.client.completeJSON(ctx, buildGradePrompt(question, kbContext), &result); err != nil {
		return domain.GradeUnset, err
	}

	switch strings.ToLower(strings.TrimSpace(result.Grade)) {
	case "sufficient":
		return domain.GradeSufficient, nil
	case "partial":
		return domain.GradePartial, nil
	case "insufficient":
		return domain.GradeInsufficient, nil
	default:
		return domain.GradeUnset, fmt.Errorf("grade: unrecognized label %q", result.Grade)
	}
}

// GroundingChecker implements ports.GroundingChecker.
type GroundingChecker struct {
	client *Client
}

func NewGroundingChecker(client *Client) *GroundingChecker {
	return &GroundingChecker{client: client}
}

func (g *GroundingChecker) Check(ctx context.Context, draft string, kbContext []domain.ParentChunk, webContext []domain.WebResult) (ports.GroundingVerdict, error) {
	var result struct {
		Grounded         bool   `json:"grounded"`
		UnsupportedClaim string `json:"unsupported_claim"`
	}
	if err := g.client.completeJSON(ctx, buildGroundingPrompt(draft, kbContext, webContext), &result); err != nil {
		return ports.GroundingVerdict{}, err
	}
	return ports.GroundingVerdict{
		Grounded:         result.Grounded,
		UnsupportedClaim: strings.TrimSpace(result.UnsupportedClaim),
	}, nil
}

// Generator implements ports.AnswerGenerator.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, in ports.GenerationInput) (string, error) {
	answer, err := g.client.Complete(ctx, buildAnswerPrompt(in), ports.CompleteOptions{})
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", fmt.Errorf("generate: empty completion")
	}
	return answer, nil
}

// IntentClassifier implements ports.IntentClassifier.
type IntentClassifier struct {
	client *Client
}

func NewIntentClassifier(client *Client) *IntentClassifier {
	return &IntentClassifier{client: client}
}

// plainGreetings are classified as chatter without a model round-trip.
var plainGreetings = map[string]struct{}{
	"hi":             {},
	"hello":          {},
	"hey":            {},
	"yo":             {},
	"thanks":         {},
	"thank you":      {},
	"good morning":   {},
	"good afternoon": {},
	"good evening":   {},
	"how are you":    {},
	"bye":            {},
	"goodbye":        {},
}

func (c *IntentClassifier) IsChatter(ctx context.Context, question string) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(question))
	normalized = strings.TrimRight(normalized, "!?.,")
	normalized = strings.Join(strings.Fields(normalized), " ")
	if _, ok := plainGreetings[normalized]; ok {
		return true, nil
	}

	var result struct {
		Chatter bool `json:"chatter"`
	}
	if err := c.client.completeJSON(ctx, buildIntentPrompt(question), &result); err != nil {
		return false, err
	}
	return result.Chatter, nil
}

// Reranker implements ports.Reranker with a single scoring completion over
// the whole shortlist.
type Reranker struct {
	client *Client
}

func NewReranker(client *Client) *Reranker {
	return &Reranker{client: client}
}

func (r *Reranker) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var result struct {
		Scores []float64 `json:"scores"`
	}
	if err := r.client.completeJSON(ctx, buildRerankPrompt(query, texts), &result); err != nil {
		return nil, err
	}
	if len(result.Scores) != len(texts) {
		return nil, fmt.Errorf("rerank: got %d scores for %d passages", len(result.Scores), len(texts))
	}
	return result.Scores, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
