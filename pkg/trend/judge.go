package trend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/elonfeng/trendscore/pkg/score"
	"github.com/elonfeng/trendscore/pkg/source"
)

// MaxBatchSize is the largest number of items sent in one judgment call.
const MaxBatchSize = 25

var (
	// ErrMalformedJudgment means the service answered with something other
	// than a JSON array.
	ErrMalformedJudgment = errors.New("malformed judgment response")
	// ErrNoJudge is returned when analysis is requested without a judge.
	ErrNoJudge = errors.New("no judge configured")
	// ErrCircuitOpen is returned while the judge is backing off after
	// repeated failures.
	ErrCircuitOpen = errors.New("judge circuit breaker is open")
)

// Usage is the token consumption of one call.
type Usage struct {
	Provider     string
	Model        string
	Operation    string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Judge produces qualitative judgments and cross-platform groupings.
type Judge interface {
	Judge(ctx context.Context, items []source.TrendItem) ([]score.RawJudgment, Usage, error)
	DetectCrossPlatform(ctx context.Context, items []source.TrendItem) ([]score.Group, Usage, error)
}

const judgePrompt = `You are a demanding content strategist for a faceless short-form video channel covering AI, making money online, vibe coding and crypto.

Judge every trend listed below. For each one return an object:
{"id": "<trend id>", "content_value": 0-100, "niche_fit": 0-100, "hook_potential": 0-100, "actionability": 0-100, "reject": true|false, "suggested_angle": "one sentence on how the channel would cover it", "content_format": "slideshow|screencast|ai_video|text_overlay|news_update", "emotional_trigger": "awe|curiosity|controversy|fomo|shock|practical|none"}

Rubric:
- content_value: newsworthy, educational or actionable? Memes, jokes, art and personal anecdotes score 0-15. New AI tools, tutorials, money strategies and industry news score 60-100.
- niche_fit: relevance to AI, money, vibe coding and crypto. Generic chatbot memes score 5-20. Specific tools and strategies score 70-100.
- hook_potential: can it open with a strong three-second hook? Generic scores 0-30. Surprising, useful or polarizing scores 70-100.
- actionability: does the viewer learn or do something? Pure entertainment scores 0-20. A clear takeaway scores 70-100.
- reject: true when the channel should skip it entirely.
- emotional_trigger: the dominant emotion. controversy is polarizing, shock is unexpected, fomo is money or missing out, curiosity invites learning, awe is impressive, practical is useful, none is flat.

Be strict: most memes and joke posts belong below 20.

Reply with a JSON array only.

Trends:
%s`

const crossPlatformPrompt = `Below are trend titles collected from several platforms. Find topics that show up on more than one platform: the same event, tool, release or story.

For every such topic return:
{"topic": "short label, at most 40 characters", "platforms": ["reddit", "hackernews"], "trend_ids": ["id1", "id2"], "cross_platform_score": <number of distinct platforms, 2-6>}

Only include topics seen on two or more platforms. Reply with a JSON array only, or [] when there are none.

Trends:
%s`

// Pricing is the USD cost per million tokens.
type Pricing struct {
	Input  float64
	Output float64
}

var modelPricing = map[string]Pricing{
	"sonar":                   {Input: 1, Output: 1},
	"sonar-pro":               {Input: 3, Output: 15},
	"gpt-4o-mini":             {Input: 0.15, Output: 0.60},
	"gpt-4o":                  {Input: 2.5, Output: 10},
	"claude-3-haiku-20240307": {Input: 0.25, Output: 1.25},
}

var fallbackPricing = Pricing{Input: 3, Output: 15}

// CostUSD estimates the price of a call.
func CostUSD(model string, inputTokens, outputTokens int) float64 {
	p, ok := modelPricing[model]
	if !ok {
		p = fallbackPricing
	}
	return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1_000_000
}

// LLMConfig configures an OpenAI-compatible judge.
type LLMConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	RPS      float64
	Timeout  time.Duration
}

const (
	circuitBreakerThreshold = 3
	circuitBreakerTimeout   = time.Minute
	rateLimiterBurst        = 2
)

// DefaultBaseURL returns the chat completion endpoint of a provider.
func DefaultBaseURL(provider string) string {
	switch provider {
	case "perplexity":
		return "https://api.perplexity.ai"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case "perplexity":
		return "sonar"
	default:
		return openai.GPT4oMini
	}
}

// LLMJudge talks to any endpoint that speaks the OpenAI chat API.
type LLMJudge struct {
	client   *openai.Client
	provider string
	model    string
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *zerolog.Logger

	mu                  sync.Mutex
	consecutiveFailures int
	circuitOpenUntil    time.Time
}

var _ Judge = (*LLMJudge)(nil)

// NewLLMJudge creates a judge. An empty API key is an error.
func NewLLMJudge(cfg LLMConfig, logger *zerolog.Logger) (*LLMJudge, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s judge: missing api key", cfg.Provider)
	}
	if cfg.Provider == "" {
		cfg.Provider = "perplexity"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL(cfg.Provider)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &LLMJudge{
		client:   openai.NewClientWithConfig(oc),
		provider: cfg.Provider,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), rateLimiterBurst),
		logger:   logger,
	}, nil
}

// Judge scores up to MaxBatchSize items in one call.
func (j *LLMJudge) Judge(ctx context.Context, items []source.TrendItem) ([]score.RawJudgment, Usage, error) {
	if len(items) == 0 {
		return nil, Usage{}, nil
	}
	if len(items) > MaxBatchSize {
		return nil, Usage{}, fmt.Errorf("batch of %d exceeds %d items", len(items), MaxBatchSize)
	}

	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, judgeLine(it))
	}

	raw, usage, err := j.complete(ctx, "judge", fmt.Sprintf(judgePrompt, strings.Join(lines, "\n")))
	if err != nil {
		return nil, usage, err
	}

	var out []score.RawJudgment
	if err := decodeArray(raw, &out); err != nil {
		j.logger.Warn().Str("raw", truncate(raw, 300)).Msg("unparseable judgment response")
		return nil, usage, err
	}
	return out, usage, nil
}

// DetectCrossPlatform groups items that cover the same topic.
func (j *LLMJudge) DetectCrossPlatform(ctx context.Context, items []source.TrendItem) ([]score.Group, Usage, error) {
	if len(items) == 0 {
		return nil, Usage{}, nil
	}

	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("- id: %q [%s] %q", it.ID, it.Source, it.Title))
	}

	raw, usage, err := j.complete(ctx, "cross_platform", fmt.Sprintf(crossPlatformPrompt, strings.Join(lines, "\n")))
	if err != nil {
		return nil, usage, err
	}

	var wire []struct {
		Topic     string   `json:"topic"`
		Platforms []string `json:"platforms"`
		TrendIDs  []string `json:"trend_ids"`
		Score     float64  `json:"cross_platform_score"`
	}
	if err := decodeArray(raw, &wire); err != nil {
		return nil, usage, err
	}

	groups := make([]score.Group, 0, len(wire))
	for _, w := range wire {
		g := score.Group{Topic: truncate(w.Topic, 40), TrendIDs: w.TrendIDs, Score: int(w.Score)}
		for _, p := range w.Platforms {
			g.Platforms = append(g.Platforms, normalizePlatform(p))
		}
		groups = append(groups, g)
	}
	return groups, usage, nil
}

func (j *LLMJudge) complete(ctx context.Context, op, prompt string) (string, Usage, error) {
	usage := Usage{Provider: j.provider, Model: j.model, Operation: op}

	if err := j.checkCircuit(); err != nil {
		return "", usage, err
	}
	if err := j.limiter.Wait(ctx); err != nil {
		return "", usage, fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		j.recordFailure()
		return "", usage, fmt.Errorf("%s chat completion: %w", j.provider, err)
	}
	j.recordSuccess()

	usage.InputTokens = resp.Usage.PromptTokens
	usage.OutputTokens = resp.Usage.CompletionTokens
	usage.CostUSD = CostUSD(j.model, usage.InputTokens, usage.OutputTokens)

	if len(resp.Choices) == 0 {
		return "", usage, fmt.Errorf("%w: no choices returned", ErrMalformedJudgment)
	}

	content := resp.Choices[0].Message.Content
	j.logger.Debug().Str("op", op).Int("input_tokens", usage.InputTokens).
		Int("output_tokens", usage.OutputTokens).Msg("llm response")
	return content, usage, nil
}

func (j *LLMJudge) checkCircuit() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if time.Now().Before(j.circuitOpenUntil) {
		return ErrCircuitOpen
	}
	return nil
}

func (j *LLMJudge) recordFailure() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.consecutiveFailures++
	if j.consecutiveFailures >= circuitBreakerThreshold {
		j.circuitOpenUntil = time.Now().Add(circuitBreakerTimeout)
		j.logger.Warn().Int("failures", j.consecutiveFailures).Msg("judge circuit breaker opened")
	}
}

func (j *LLMJudge) recordSuccess() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.consecutiveFailures = 0
	j.circuitOpenUntil = time.Time{}
}

func judgeLine(it source.TrendItem) string {
	src := string(it.Source)
	if it.Subreddit != "" {
		src += " (r/" + it.Subreddit + ")"
	}
	return fmt.Sprintf("- id: %q | [%s] %q (engagement: %d, comments: %d)",
		it.ID, src, it.Title, it.Engagement, it.Comments)
}

// stripFences removes a markdown code fence around a model reply.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```")
	if idx := strings.Index(raw, "\n"); idx >= 0 {
		raw = raw[idx+1:]
	} else {
		raw = strings.TrimPrefix(raw, "json")
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}

// decodeArray parses a JSON array reply into v. Anything else is
// ErrMalformedJudgment.
func decodeArray(raw string, v any) error {
	cleaned := stripFences(raw)
	if !strings.HasPrefix(cleaned, "[") {
		return fmt.Errorf("%w: expected a JSON array, got %q", ErrMalformedJudgment, truncate(cleaned, 80))
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJudgment, err)
	}
	return nil
}

func normalizePlatform(p string) source.SourceType {
	if parsed, err := source.ParseSourceTypes(p); err == nil && len(parsed) == 1 {
		return parsed[0]
	}
	return source.SourceType(strings.ToLower(strings.TrimSpace(p)))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
