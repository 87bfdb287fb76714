package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finresearch-cli/internal/extract"
	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/resilience"
	"github.com/sells-group/finresearch-cli/pkg/anthropic"
	"github.com/sells-group/finresearch-cli/pkg/perplexity"
)

var tcsAnswer = strings.Join([]string{
	"## TCS Q3 FY2024-25 results",
	"- **Total Income:** ₹ 64,259 Cr",
	"- **PBT (Profit Before Tax):** ₹ 16,595 Cr",
	"- **Net Profit:** ₹ 12,380 Cr",
}, "\n")

func fastRetry() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func perplexityServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32, *[]perplexity.ChatCompletionRequest) {
	t.Helper()
	var calls atomic.Int32
	var mu sync.Mutex
	var reqs []perplexity.ChatCompletionRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		var req perplexity.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()

		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			_, _ = w.Write([]byte(`{"error":"unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(perplexity.ChatCompletionResponse{ //nolint:errcheck
			ID:      "resp-1",
			Model:   "sonar-pro",
			Choices: []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: tcsAnswer}}},
		})
	}))
	t.Cleanup(ts.Close)
	return ts, &calls, &reqs
}

func newPerplexitySource(url string) *AIText {
	c := &PerplexityCompleter{Client: perplexity.NewClient("pplx-test", perplexity.WithBaseURL(url))}
	return NewAIText("perplexity", c, NewQueryBuilder(true), extract.New(extract.DefaultConfig()), fastRetry())
}

func TestPerplexitySource_Extract(t *testing.T) {
	ts, calls, reqs := perplexityServer(t)

	inds, err := newPerplexitySource(ts.URL).Extract(context.Background(), tcsQ3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, 64259.0, inds[model.TotalIncome].Value)
	assert.Equal(t, 16595.0, inds[model.PBT].Value)
	assert.Equal(t, 12380.0, inds[model.PAT].Value)
	assert.Equal(t, model.SourceAIText, inds[model.PAT].Source)

	req := (*reqs)[0]
	assert.Equal(t, "sonar-pro", req.Model)
	assert.Equal(t, "month", req.SearchRecencyFilter)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "You are a financial data expert.")
	assert.Contains(t, req.Messages[1].Content, "TCS for Q3 FY2024-25")
}

func TestPerplexitySource_RetriesTransient(t *testing.T) {
	ts, calls, _ := perplexityServer(t, http.StatusServiceUnavailable, http.StatusTooManyRequests)

	inds, err := newPerplexitySource(ts.URL).Extract(context.Background(), tcsQ3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, inds, model.PBT)
}

func TestPerplexitySource_PermanentError(t *testing.T) {
	ts, calls, _ := perplexityServer(t, http.StatusUnauthorized)

	_, err := newPerplexitySource(ts.URL).Extract(context.Background(), tcsQ3)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, err.Error(), "source: perplexity query TCS/Q3/2025")
	assert.False(t, resilience.IsTransient(err))
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  time.Duration
	err  error
}

func (m *memCache) GetCachedResponse(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.data[key], nil
}

func (m *memCache) SetCachedResponse(_ context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = data
	m.ttl = ttl
	return m.err
}

func TestCachedCompleter(t *testing.T) {
	ts, calls, _ := perplexityServer(t)
	cache := &memCache{}
	c := &CachedCompleter{
		Next:  &PerplexityCompleter{Client: perplexity.NewClient("k", perplexity.WithBaseURL(ts.URL))},
		Cache: cache,
		TTL:   24 * time.Hour,
	}
	src := NewAIText("perplexity", c, NewQueryBuilder(false), extract.New(extract.DefaultConfig()), fastRetry())

	first, err := src.Extract(context.Background(), tcsQ3)
	require.NoError(t, err)
	second, err := src.Extract(context.Background(), tcsQ3)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first, second)
	assert.Len(t, cache.data, 1)
	assert.Equal(t, 24*time.Hour, cache.ttl)

	_, err = src.Extract(context.Background(), model.Period{Company: "TCS", Quarter: "Q2", Year: 2025})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCachedCompleter_CacheErrorsIgnored(t *testing.T) {
	ts, calls, _ := perplexityServer(t)
	c := &CachedCompleter{
		Next:  &PerplexityCompleter{Client: perplexity.NewClient("k", perplexity.WithBaseURL(ts.URL))},
		Cache: &memCache{err: assert.AnError},
		TTL:   time.Hour,
	}

	text, err := c.Complete(context.Background(), "system", "prompt")
	require.NoError(t, err)
	assert.Equal(t, tcsAnswer, text)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheKey(t *testing.T) {
	k := CacheKey("sonar-pro", "sys", "prompt")
	assert.Len(t, k, 64)
	assert.Equal(t, k, CacheKey("sonar-pro", "sys", "prompt"))
	assert.NotEqual(t, k, CacheKey("sonar", "sys", "prompt"))
	assert.NotEqual(t, CacheKey("m", "ab", "c"), CacheKey("m", "a", "bc"))
}

func TestAnthropicSource_Extract(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": tcsAnswer}},
			"model":       anthropic.DefaultModel,
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 200, "output_tokens": 80},
		})
	}))
	defer ts.Close()

	c := &AnthropicCompleter{
		Client:    anthropic.NewClient("k", anthropic.WithBaseURL(ts.URL), anthropic.WithMaxRetries(0)),
		MaxTokens: 1024,
	}
	src := NewAIText("anthropic", c, NewQueryBuilder(false), extract.New(extract.DefaultConfig()), fastRetry())
	assert.Equal(t, "anthropic", src.Name())

	inds, err := src.Extract(context.Background(), tcsQ3)
	require.NoError(t, err)
	assert.Equal(t, 64259.0, inds[model.TotalIncome].Value)

	assert.Equal(t, anthropic.DefaultModel, body["model"])
	assert.EqualValues(t, 1024, body["max_tokens"])
	assert.EqualValues(t, 0, body["temperature"])
}

type textCompleter string

func (textCompleter) Model() string { return "fixed" }

func (c textCompleter) Complete(context.Context, string, string) (string, error) {
	return string(c), nil
}

func TestAIText_EmptyAnswer(t *testing.T) {
	src := NewAIText("perplexity", textCompleter(""), NewQueryBuilder(false), extract.New(extract.DefaultConfig()), fastRetry())
	inds, err := src.Extract(context.Background(), tcsQ3)
	require.NoError(t, err)
	assert.Empty(t, inds)
}

func TestAIText_AnswerWithInlineBreaks(t *testing.T) {
	answer := textCompleter(strings.Join([]string{
		"TCS Q3 FY2024-25 (quarter ending December 2024):",
		"",
		"| Metric | Q3 FY25 |",
		"|---|---|",
		"| Total Income | 64,259 Cr |",
		"| PBT | 16,520 Cr<br>(up 5%) |",
		"| PAT | 12,380 Cr |",
	}, "\n"))
	src := NewAIText("perplexity", answer, NewQueryBuilder(false), extract.New(extract.DefaultConfig()), fastRetry())

	inds, err := src.Extract(context.Background(), tcsQ3)
	require.NoError(t, err)
	require.Contains(t, inds, model.PBT)
	assert.Equal(t, 16520.0, inds[model.PBT].Value)
	assert.Equal(t, model.SourceAIText, inds[model.PBT].Source)
	assert.Equal(t, model.SourceAIText, inds[model.TotalIncome].Source)
}
