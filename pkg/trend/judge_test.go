package trend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/trendscore/pkg/source"
)

type promptLog struct {
	mu      sync.Mutex
	prompts []string
}

func (p *promptLog) add(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, s)
}

func (p *promptLog) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// chatServer answers every chat completion with content.
func chatServer(t *testing.T, content string, prompts *promptLog) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if prompts != nil && len(req.Messages) > 0 {
			prompts.add(req.Messages[0].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 1000, "completion_tokens": 200, "total_tokens": 1200},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testJudge(t *testing.T, url string) *LLMJudge {
	t.Helper()
	j, err := NewLLMJudge(LLMConfig{Provider: "perplexity", APIKey: "test-key", BaseURL: url + "/v1", RPS: 100}, nil)
	require.NoError(t, err)
	return j
}

func TestLLMJudgeParsesFencedArray(t *testing.T) {
	reply := "```json\n[{\"id\":\"reddit-1\",\"content_value\":85,\"niche_fit\":70.4,\"hook_potential\":60,\"actionability\":40,\"reject\":false,\"suggested_angle\":\"explain it\",\"content_format\":\"slideshow\",\"emotional_trigger\":\"fomo\"}]\n```"
	prompts := &promptLog{}
	srv := chatServer(t, reply, prompts)

	items := []source.TrendItem{{ID: "reddit-1", Source: source.SourceReddit, Subreddit: "LocalLLaMA", Title: "New model", Engagement: 900, Comments: 120}}
	raws, usage, err := testJudge(t, srv.URL).Judge(context.Background(), items)
	require.NoError(t, err)

	require.Len(t, raws, 1)
	assert.Equal(t, "reddit-1", raws[0].ID)
	assert.InDelta(t, 70.4, raws[0].NicheFit, 1e-9)
	assert.Equal(t, "fomo", raws[0].EmotionalTrigger)

	assert.Equal(t, "sonar", usage.Model)
	assert.Equal(t, 1000, usage.InputTokens)
	assert.InDelta(t, 0.0012, usage.CostUSD, 1e-9)

	require.Len(t, prompts.all(), 1)
	assert.Contains(t, prompts.all()[0], `- id: "reddit-1" | [reddit (r/LocalLLaMA)] "New model" (engagement: 900, comments: 120)`)
}

func TestLLMJudgeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"prose", "I could not evaluate these trends."},
		{"object", `{"id":"a","content_value":50}`},
		{"broken json", `[{"id":"a",`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.reply, nil)
			_, _, err := testJudge(t, srv.URL).Judge(context.Background(), []source.TrendItem{{ID: "a"}})
			assert.ErrorIs(t, err, ErrMalformedJudgment)
		})
	}
}

func TestLLMJudgeRejectsOversizedBatch(t *testing.T) {
	j, err := NewLLMJudge(LLMConfig{APIKey: "k"}, nil)
	require.NoError(t, err)
	_, _, err = j.Judge(context.Background(), make([]source.TrendItem, MaxBatchSize+1))
	assert.Error(t, err)
}

func TestLLMJudgeDetectCrossPlatform(t *testing.T) {
	reply := `[{"topic":"A very long topic label that goes well past forty characters","platforms":["Reddit","HN","twitter"],"trend_ids":["reddit-1","hn-2","twitter-3"],"cross_platform_score":3}]`
	srv := chatServer(t, reply, nil)

	groups, usage, err := testJudge(t, srv.URL).DetectCrossPlatform(context.Background(), []source.TrendItem{{ID: "reddit-1"}, {ID: "hn-2"}})
	require.NoError(t, err)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Len(t, []rune(g.Topic), 40)
	assert.Equal(t, []source.SourceType{source.SourceReddit, source.SourceHackerNews, source.SourceTwitter}, g.Platforms)
	assert.Equal(t, 3, g.Score)
	assert.Equal(t, "cross_platform", usage.Operation)
}

func TestLLMJudgeCircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	j := testJudge(t, srv.URL)
	items := []source.TrendItem{{ID: "a"}}
	for range circuitBreakerThreshold {
		_, _, err := j.Judge(context.Background(), items)
		require.Error(t, err)
	}
	before := calls.Load()

	_, _, err := j.Judge(context.Background(), items)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, before, calls.Load())
}

func TestNewLLMJudgeRequiresKey(t *testing.T) {
	_, err := NewLLMJudge(LLMConfig{Provider: "perplexity"}, nil)
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		"[]":                   "[]",
		"  [1]  ":              "[1]",
		"```json\n[1,2]\n```":  "[1,2]",
		"```\n[]\n```":         "[]",
		"```json [3] ```":      "[3]",
		"```JSON\n[4]\n```\n":  "[4]",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripFences(in), strings.ReplaceAll(in, "\n", `\n`))
	}
}

func TestCostUSD(t *testing.T) {
	assert.InDelta(t, 2.0, CostUSD("sonar", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 18.0, CostUSD("sonar-pro", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 18.0, CostUSD("something-new", 1_000_000, 1_000_000), 1e-9)
}
