package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finresearch-cli/internal/extract"
	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/resilience"
	"github.com/sells-group/finresearch-cli/pkg/anthropic"
	"github.com/sells-group/finresearch-cli/pkg/perplexity"
)

// Completer answers a prompt with text.
type Completer interface {
	Model() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// PerplexityCompleter queries Perplexity chat completions with live search.
type PerplexityCompleter struct {
	Client perplexity.Client
	// ModelName may be empty to use the client's default.
	ModelName string
	// Recency is the search_recency_filter, "month" by default.
	Recency string
	Domains []string
}

func (c *PerplexityCompleter) Model() string {
	if c.ModelName == "" {
		return "sonar-pro"
	}
	return c.ModelName
}

func (c *PerplexityCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	recency := c.Recency
	if recency == "" {
		recency = "month"
	}
	resp, err := c.Client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: c.ModelName,
		Messages: []perplexity.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		SearchRecencyFilter: recency,
		SearchDomainFilter:  c.Domains,
	})
	if err != nil {
		var se *perplexity.StatusError
		if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
			te := resilience.NewTransientError(err, se.StatusCode)
			if secs, convErr := strconv.Atoi(se.RetryAfter); convErr == nil && secs > 0 {
				te.RetryAfter = time.Duration(secs) * time.Second
			}
			return "", te
		}
		return "", err
	}
	return resp.Content(), nil
}

// AnthropicCompleter queries the Messages API.
type AnthropicCompleter struct {
	Client    anthropic.Client
	ModelName string
	MaxTokens int64
}

func (c *AnthropicCompleter) Model() string {
	if c.ModelName == "" {
		return anthropic.DefaultModel
	}
	return c.ModelName
}

func (c *AnthropicCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	temp := 0.0
	resp, err := c.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.Model(),
		MaxTokens:   c.MaxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) || code == 529 {
			return "", resilience.NewTransientError(err, code)
		}
		return "", err
	}
	resp.Usage.LogCost(c.Model())
	return resp.Text(), nil
}

// ResponseCache is the slice of the store used to memoize AI answers.
type ResponseCache interface {
	GetCachedResponse(ctx context.Context, key string) ([]byte, error)
	SetCachedResponse(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// CachedCompleter memoizes identical prompts for TTL. Cache failures are
// logged and never fail the call.
type CachedCompleter struct {
	Next  Completer
	Cache ResponseCache
	TTL   time.Duration
}

func (c *CachedCompleter) Model() string { return c.Next.Model() }

func (c *CachedCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	key := CacheKey(c.Next.Model(), system, prompt)

	data, err := c.Cache.GetCachedResponse(ctx, key)
	if err != nil {
		zap.L().Warn("source: cache read failed", zap.String("model", c.Next.Model()), zap.Error(err))
	} else if data != nil {
		zap.L().Debug("source: cache hit", zap.String("model", c.Next.Model()))
		return string(data), nil
	}

	text, err := c.Next.Complete(ctx, system, prompt)
	if err != nil {
		return "", err
	}
	if text != "" {
		if err := c.Cache.SetCachedResponse(ctx, key, []byte(text), c.TTL); err != nil {
			zap.L().Warn("source: cache write failed", zap.String("model", c.Next.Model()), zap.Error(err))
		}
	}
	return text, nil
}

// CacheKey is the hex sha256 of model, system prompt and prompt.
func CacheKey(modelName, system, prompt string) string {
	h := sha256.New()
	for _, part := range []string{modelName, system, prompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AIText asks a Completer about a period and extracts indicators from the
// answer.
type AIText struct {
	name      string
	completer Completer
	queries   QueryBuilder
	extractor *extract.Extractor
	retry     resilience.Policy
}

// NewAIText creates an AI text source.
func NewAIText(name string, c Completer, q QueryBuilder, ex *extract.Extractor, retry resilience.Policy) *AIText {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetries(name)
	}
	return &AIText{name: name, completer: c, queries: q, extractor: ex, retry: retry}
}

func (s *AIText) Name() string { return s.name }

func (s *AIText) Extract(ctx context.Context, p model.Period) (map[model.IndicatorName]model.Indicator, error) {
	prompt := s.queries.Build(p)
	text, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.completer.Complete(ctx, s.queries.System(), prompt)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: %s query %s", s.name, p.Key())
	}
	if text == "" {
		zap.L().Warn("source: empty answer",
			zap.String("source", s.name),
			zap.String("company", p.Company),
			zap.String("quarter", p.Quarter),
			zap.Int("year", p.Year),
		)
		return map[model.IndicatorName]model.Indicator{}, nil
	}
	res, err := s.extractor.ExtractAnswer(text, extract.HintsFor(p))
	if err != nil {
		return nil, err
	}
	return res.Indicators, nil
}
