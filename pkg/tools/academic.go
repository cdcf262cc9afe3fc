package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
	"golang.org/x/time/rate"
)

// serviceAnchor keeps arXiv results on customer-service research
const serviceAnchor = `all:"customer service" OR all:"service recovery" OR all:empathy OR all:"customer satisfaction"`

// AcademicConfig configures the arXiv tool
type AcademicConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	SortBy            string
	HTTPClient        *http.Client
}

// AcademicTool retrieves research excerpts from the arXiv Atom API.
// It is safe for concurrent use; all calls share one rate limiter.
type AcademicTool struct {
	config     AcademicConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *observability.StructuredLogger
}

// NewAcademicTool creates an arXiv-backed evidence tool
func NewAcademicTool(config AcademicConfig) *AcademicTool {
	if config.BaseURL == "" {
		config.BaseURL = "http://export.arxiv.org/api/query"
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.SortBy == "" {
		config.SortBy = "relevance"
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &AcademicTool{
		config:     config,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     observability.NewStructuredLogger("tool.academic"),
	}
}

// ID implements domain.EvidenceTool
func (t *AcademicTool) ID() domain.ToolID {
	return domain.ToolAcademic
}

// Description implements domain.EvidenceTool
func (t *AcademicTool) Description() string {
	return "academic research on customer service, empathy and service recovery (arXiv)"
}

// Fetch implements domain.EvidenceTool
func (t *AcademicTool) Fetch(ctx context.Context, query string, limit int) domain.ToolResult {
	limit = normalizeLimit(limit)
	return guard(ctx, t.ID(), t.config.Timeout, t.logger, func(ctx context.Context) ([]domain.EvidenceItem, error) {
		// Waiting for the limiter counts against the tool timeout
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		return t.search(ctx, query, limit)
	})
}

func (t *AcademicTool) search(ctx context.Context, query string, limit int) ([]domain.EvidenceItem, error) {
	params := url.Values{}
	params.Set("search_query", buildArxivQuery(query))
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(limit))
	params.Set("sortBy", t.config.SortBy)
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.config.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/atom+xml")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("arxiv returned status %d: %s", resp.StatusCode, string(body))
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode atom feed: %w", err)
	}

	items := make([]domain.EvidenceItem, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		item, ok := entry.toEvidence()
		if !ok {
			continue
		}
		items = append(items, item)
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

// buildArxivQuery ORs the complaint keywords and anchors them to the
// customer-service literature
func buildArxivQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return serviceAnchor
	}
	parts := make([]string, len(terms))
	for i, term := range terms {
		parts[i] = "all:" + term
	}
	return fmt.Sprintf("(%s) AND (%s)", strings.Join(parts, " OR "), serviceAnchor)
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

const maxExcerptRunes = 600

var (
	whitespace   = regexp.MustCompile(`\s+`)
	arxivVersion = regexp.MustCompile(`v\d+$`)
)

func (e atomEntry) toEvidence() (domain.EvidenceItem, bool) {
	title := collapse(e.Title)
	id := arxivID(e.ID)
	if title == "" || id == "" {
		return domain.EvidenceItem{}, false
	}

	return domain.EvidenceItem{
		Kind:     domain.EvidenceAcademic,
		Title:    title,
		Excerpt:  truncateRunes(collapse(e.Summary), maxExcerptRunes),
		Citation: formatArxivCitation(e.Authors, e.Published, title, id),
	}, true
}

// formatArxivCitation renders "<First author> et al. (<year>). <title>. arXiv:<id>".
// "et al." is only added when the paper has more than one author.
func formatArxivCitation(authors []atomAuthor, published, title, id string) string {
	author := "Unknown author"
	if len(authors) > 0 && strings.TrimSpace(authors[0].Name) != "" {
		author = collapse(authors[0].Name)
	}
	if len(authors) > 1 {
		author += " et al."
	}

	year := "n.d."
	if len(published) >= 4 {
		if _, err := strconv.Atoi(published[:4]); err == nil {
			year = published[:4]
		}
	}

	return fmt.Sprintf("%s (%s). %s. arXiv:%s", author, year, strings.TrimSuffix(title, "."), id)
}

// arxivID extracts "2301.12345" from "http://arxiv.org/abs/2301.12345v2"
func arxivID(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "/abs/"); i >= 0 {
		raw = raw[i+len("/abs/"):]
	}
	return arxivVersion.ReplaceAllString(raw, "")
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
