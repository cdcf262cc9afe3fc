package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
)

const webQueryPrefix = "customer service response examples"

// WebConfig configures the Tavily tool
type WebConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	SearchDepth string
	HTTPClient  *http.Client
}

// WebTool retrieves best-practice examples through the Tavily search API
type WebTool struct {
	config     WebConfig
	httpClient *http.Client
	logger     *observability.StructuredLogger
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// NewWebTool creates a Tavily-backed evidence tool
func NewWebTool(config WebConfig) *WebTool {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.tavily.com/search"
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.SearchDepth == "" {
		config.SearchDepth = "basic"
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &WebTool{
		config:     config,
		httpClient: httpClient,
		logger:     observability.NewStructuredLogger("tool.web"),
	}
}

// ID implements domain.EvidenceTool
func (t *WebTool) ID() domain.ToolID {
	return domain.ToolWeb
}

// Description implements domain.EvidenceTool
func (t *WebTool) Description() string {
	return "real-world customer service best practices and reply examples (web search)"
}

// Fetch implements domain.EvidenceTool
func (t *WebTool) Fetch(ctx context.Context, query string, limit int) domain.ToolResult {
	limit = normalizeLimit(limit)
	return guard(ctx, t.ID(), t.config.Timeout, t.logger, func(ctx context.Context) ([]domain.EvidenceItem, error) {
		if t.config.APIKey == "" {
			return nil, fmt.Errorf("%w: tavily api key not configured", domain.ErrToolFailure)
		}
		return t.search(ctx, query, limit)
	})
}

func (t *WebTool) search(ctx context.Context, query string, limit int) ([]domain.EvidenceItem, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:      t.config.APIKey,
		Query:       strings.TrimSpace(webQueryPrefix + " " + query),
		SearchDepth: t.config.SearchDepth,
		MaxResults:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.config.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tavily returned status %d: %s", resp.StatusCode, string(msg))
	}

	var result tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	items := make([]domain.EvidenceItem, 0, len(result.Results))
	for _, r := range result.Results {
		link := strings.TrimSpace(r.URL)
		if link == "" {
			continue
		}
		title := collapse(r.Title)
		if title == "" {
			title = link
		}
		items = append(items, domain.EvidenceItem{
			Kind:     domain.EvidenceWeb,
			Title:    title,
			Excerpt:  truncateRunes(htmlToText(r.Content), maxExcerptRunes),
			Citation: link,
		})
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

// htmlToText strips markup from a search snippet. Plain text passes through
// unchanged apart from whitespace collapsing.
func htmlToText(content string) string {
	if !strings.ContainsAny(content, "<&") {
		return collapse(content)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return collapse(content)
	}
	doc.Find("script, style, nav, footer, header, aside, iframe").Remove()
	return collapse(doc.Text())
}
