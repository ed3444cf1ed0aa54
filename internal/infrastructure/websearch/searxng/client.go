package searxng

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
	"github.com/nexuslabs/nexus-rag/internal/infrastructure/resilience"
)

// Client implements ports.WebSearcher against a SearXNG instance's JSON API.
// Every failure surfaces as domain.ErrSearchUnavailable: the workflow treats
// a broken search provider as a degradation, never a turn-fatal error.
type Client struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
	runner     *resilience.Runner
}

func New(baseURL string, maxResults int, runner *resilience.Runner) *Client {
	if maxResults <= 0 {
		maxResults = 5
	}
	if runner == nil {
		runner = resilience.NewRunner(resilience.DefaultPolicy())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		runner:     runner,
	}
}

type searchResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

func (c *Client) Search(ctx context.Context, query string) ([]domain.WebResult, error) {
	var response searchResponse
	err := c.runner.Do(ctx, "searxng.search", resilience.ClassifyDomain, func(ctx context.Context) error {
		return c.search(ctx, query, &response)
	})
	if err != nil {
		return nil, err
	}

	results := make([]domain.WebResult, 0, c.maxResults)
	for _, r := range response.Results {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		results = append(results, domain.WebResult{
			Snippet:   r.Content,
			SourceURL: r.URL,
			Title:     r.Title,
		})
		if len(results) == c.maxResults {
			break
		}
	}
	return results, nil
}

func (c *Client) search(ctx context.Context, query string, out *searchResponse) error {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {strconv.Itoa(c.maxResults)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.WrapError(domain.ErrSearchUnavailable, "search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.WrapError(domain.ErrSearchUnavailable, "search",
			fmt.Errorf("searxng status: %s", resp.Status))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapError(domain.ErrSearchUnavailable, "search",
			fmt.Errorf("decode search response: %w", err))
	}
	return nil
}
