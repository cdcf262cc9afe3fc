package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>ArXiv Query</title>
  <entry>
    <id>http://arxiv.org/abs/2301.01234v2</id>
    <published>2023-01-04T10:00:00Z</published>
    <title>Service Recovery and
      Customer Satisfaction</title>
    <summary>  Empathetic apologies after a failure
      raise satisfaction.  </summary>
    <author><name>Jane Smith</name></author>
    <author><name>Li Wei</name></author>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2105.54321v1</id>
    <published>2021-05-20T10:00:00Z</published>
    <title>Refund Speed Matters</title>
    <summary>Fast refunds reduce churn.</summary>
    <author><name>Ana Lopez</name></author>
  </entry>
  <entry>
    <id></id>
    <title>Broken entry</title>
  </entry>
</feed>`

func TestDeriveQuery(t *testing.T) {
	tests := []struct {
		complaint string
		want      string
	}{
		{"My order arrived damaged", "order arrived damaged"},
		{"I'm VERY upset: the package, the box and the item were all damaged!", "upset package box item damaged"},
		{"refund refund REFUND please", "refund"},
		{"a b c the of", ""},
		{"one two three four five six seven eight", "one two three four five six"},
	}

	for _, tt := range tests {
		t.Run(tt.complaint, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveQuery(tt.complaint))
		})
	}
}

func TestBasicRegistry(t *testing.T) {
	r := NewBasicRegistry()
	web := NewWebTool(WebConfig{})
	academic := NewAcademicTool(AcademicConfig{})

	require.NoError(t, r.Register(web))
	require.NoError(t, r.Register(academic))
	assert.Error(t, r.Register(web), "duplicate registration")
	assert.Error(t, r.Register(nil))

	got, err := r.Get(domain.ToolWeb)
	require.NoError(t, err)
	assert.Equal(t, domain.ToolWeb, got.ID())

	_, err = r.Get("missing")
	assert.Error(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, domain.ToolAcademic, list[0].ID())

	known, unknown := r.Resolve([]domain.ToolID{domain.ToolWeb, "crystal_ball"})
	require.Len(t, known, 1)
	assert.Equal(t, []domain.ToolID{"crystal_ball"}, unknown)

	desc := Describe(r)
	assert.True(t, strings.HasPrefix(desc, "- academic: "))
	assert.Contains(t, desc, "- web: ")
}

func TestNormalizeToolID(t *testing.T) {
	tests := []struct {
		name   string
		want   domain.ToolID
		wantOK bool
	}{
		{"academic", domain.ToolAcademic, true},
		{" ArXiv ", domain.ToolAcademic, true},
		{"arxiv_insights", domain.ToolAcademic, true},
		{"tavily_examples", domain.ToolWeb, true},
		{"WEB", domain.ToolWeb, true},
		{"Oracle", "oracle", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeToolID(tt.name)
		assert.Equal(t, tt.want, got, tt.name)
		assert.Equal(t, tt.wantOK, ok, tt.name)
	}
}

func TestGuard_RecoversPanic(t *testing.T) {
	res := guard(context.Background(), domain.ToolWeb, time.Second, nil, func(context.Context) ([]domain.EvidenceItem, error) {
		panic("boom")
	})
	assert.Empty(t, res.Items)
	assert.True(t, errors.Is(res.Err, domain.ErrToolFailure))
	assert.Equal(t, domain.ToolWeb, res.Tool)
}

func TestGuard_Timeout(t *testing.T) {
	start := time.Now()
	res := guard(context.Background(), domain.ToolAcademic, 30*time.Millisecond, nil, func(ctx context.Context) ([]domain.EvidenceItem, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, res.Items)
	assert.True(t, errors.Is(res.Err, domain.ErrToolFailure))
}

func TestAcademicTool_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Contains(t, q.Get("search_query"), "all:damaged")
		assert.Contains(t, q.Get("search_query"), `all:"service recovery"`)
		assert.Equal(t, "2", q.Get("max_results"))
		assert.Equal(t, "relevance", q.Get("sortBy"))
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(arxivFeed))
	}))
	defer server.Close()

	tool := NewAcademicTool(AcademicConfig{BaseURL: server.URL, Timeout: time.Second})
	res := tool.Fetch(context.Background(), "order damaged", 2)

	require.NoError(t, res.Err)
	require.Len(t, res.Items, 2)

	first := res.Items[0]
	assert.Equal(t, domain.EvidenceAcademic, first.Kind)
	assert.Equal(t, "Service Recovery and Customer Satisfaction", first.Title)
	assert.Equal(t, "Empathetic apologies after a failure raise satisfaction.", first.Excerpt)
	assert.Equal(t, "Jane Smith et al. (2023). Service Recovery and Customer Satisfaction. arXiv:2301.01234", first.Citation)

	assert.Equal(t, "Ana Lopez (2021). Refund Speed Matters. arXiv:2105.54321", res.Items[1].Citation)
}

func TestAcademicTool_FailuresYieldEmptyResult(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"malformed feed", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<feed><entry>"))
		}},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			tool := NewAcademicTool(AcademicConfig{BaseURL: server.URL, Timeout: 100 * time.Millisecond})
			res := tool.Fetch(context.Background(), "late delivery", 3)
			assert.NotNil(t, res.Items)
			assert.Empty(t, res.Items)
			assert.True(t, errors.Is(res.Err, domain.ErrToolFailure), "got %v", res.Err)
		})
	}
}

func TestAcademicTool_RateLimited(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(arxivFeed))
	}))
	defer server.Close()

	// One token per minute: the first call spends the burst, the second
	// cannot get a token before its timeout
	tool := NewAcademicTool(AcademicConfig{BaseURL: server.URL, Timeout: 100 * time.Millisecond, RequestsPerSecond: 1.0 / 60})
	first := tool.Fetch(context.Background(), "late", 1)
	second := tool.Fetch(context.Background(), "late", 1)

	assert.NoError(t, first.Err)
	assert.Error(t, second.Err)
	assert.Equal(t, 1, calls)
}

func TestWebTool_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))

		var req tavilyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "customer service response examples order damaged", req.Query)
		assert.Equal(t, "advanced", req.SearchDepth)
		assert.Equal(t, 3, req.MaxResults)

		_ = json.NewEncoder(w).Encode(tavilyResponse{Results: []tavilyResult{
			{Title: "Handling damaged deliveries", URL: "https://example.com/damaged", Content: "<p>Apologize <b>first</b>, then replace.</p><script>x()</script>"},
			{Title: "", URL: "https://example.com/plain", Content: "Offer a  refund."},
			{Title: "No link", URL: " ", Content: "dropped"},
		}})
	}))
	defer server.Close()

	tool := NewWebTool(WebConfig{BaseURL: server.URL, APIKey: "tvly-test", SearchDepth: "advanced", Timeout: time.Second})
	res := tool.Fetch(context.Background(), "order damaged", 3)

	require.NoError(t, res.Err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Apologize first, then replace.", res.Items[0].Excerpt)
	assert.Equal(t, "https://example.com/damaged", res.Items[0].Citation)
	assert.Equal(t, domain.EvidenceWeb, res.Items[0].Kind)
	assert.Equal(t, "https://example.com/plain", res.Items[1].Title)
	assert.Equal(t, "Offer a refund.", res.Items[1].Excerpt)
}

func TestWebTool_MissingAPIKey(t *testing.T) {
	tool := NewWebTool(WebConfig{BaseURL: "http://127.0.0.1:0"})
	res := tool.Fetch(context.Background(), "late", 3)
	assert.Empty(t, res.Items)
	assert.True(t, errors.Is(res.Err, domain.ErrToolFailure))
}

func TestWebTool_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tool := NewWebTool(WebConfig{BaseURL: server.URL, APIKey: "bad"})
	res := tool.Fetch(context.Background(), "late", 3)
	assert.Empty(t, res.Items)
	assert.True(t, errors.Is(res.Err, domain.ErrToolFailure))
}
