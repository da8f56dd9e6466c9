package score

import (
	"math"
	"strings"
	"time"

	"github.com/elonfeng/trendscore/pkg/source"
)

// Weights are the contributions of the six signals to the combined score.
type Weights struct {
	AI            float64 `yaml:"ai" json:"ai"`
	Velocity      float64 `yaml:"velocity" json:"velocity"`
	CommentsRatio float64 `yaml:"comments_ratio" json:"comments_ratio"`
	CrossPlatform float64 `yaml:"cross_platform" json:"cross_platform"`
	Emotional     float64 `yaml:"emotional" json:"emotional"`
	Freshness     float64 `yaml:"freshness" json:"freshness"`
}

// DefaultWeights sum to 1.0.
var DefaultWeights = Weights{
	AI:            0.30,
	Velocity:      0.20,
	CommentsRatio: 0.15,
	CrossPlatform: 0.15,
	Emotional:     0.10,
	Freshness:     0.10,
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.AI + w.Velocity + w.CommentsRatio + w.CrossPlatform + w.Emotional + w.Freshness
}

// AIWeights are the contributions of the judgment sub-scores to the AI signal.
type AIWeights struct {
	ContentValue  float64 `yaml:"content_value" json:"content_value"`
	NicheFit      float64 `yaml:"niche_fit" json:"niche_fit"`
	HookPotential float64 `yaml:"hook_potential" json:"hook_potential"`
	Actionability float64 `yaml:"actionability" json:"actionability"`
}

var DefaultAIWeights = AIWeights{
	ContentValue:  0.35,
	NicheFit:      0.25,
	HookPotential: 0.25,
	Actionability: 0.15,
}

func (w AIWeights) Sum() float64 {
	return w.ContentValue + w.NicheFit + w.HookPotential + w.Actionability
}

// SignalBreakdown holds the six signals of one ranking pass.
type SignalBreakdown struct {
	AIAnalysis    int `json:"ai_analysis"`
	Velocity      int `json:"velocity"`
	CommentsRatio int `json:"comments_ratio"`
	CrossPlatform int `json:"cross_platform"`
	Emotional     int `json:"emotional"`
	Freshness     int `json:"freshness"`
}

// Combine returns the weighted sum of the signals, before gating.
func Combine(s SignalBreakdown, w Weights) int {
	sum := float64(s.AIAnalysis)*w.AI +
		float64(s.Velocity)*w.Velocity +
		float64(s.CommentsRatio)*w.CommentsRatio +
		float64(s.CrossPlatform)*w.CrossPlatform +
		float64(s.Emotional)*w.Emotional +
		float64(s.Freshness)*w.Freshness
	return clamp(int(math.Round(sum)))
}

// Gate thresholds. Caps only ever lower a score.
const (
	RejectCap          = 15
	LowValueCap        = 20
	LowValueThreshold  = 20
	MemePenalty        = 15
	MemeNicheThreshold = 50
)

// ApplyGate caps and penalizes a combined score using the judgment. The
// reject and low-value caps apply first; the meme penalty is the final
// adjustment.
func ApplyGate(combined int, j Judgment, memeHeavy bool) int {
	if j.Reject {
		combined = min(combined, RejectCap)
	}
	if j.ContentValue < LowValueThreshold {
		combined = min(combined, LowValueCap)
	}
	if memeHeavy && j.NicheFit < MemeNicheThreshold {
		combined = max(0, combined-MemePenalty)
	}
	return combined
}

// MemeCommunities is a denylist of meme-heavy sub-communities. Lookups are
// case-insensitive and only apply to sources that have sub-communities.
type MemeCommunities struct {
	names map[string]bool
}

// DefaultMemeSubreddits are the communities penalized out of the box.
var DefaultMemeSubreddits = []string{"ChatGPT", "ClaudeAI"}

func NewMemeCommunities(names ...string) MemeCommunities {
	m := MemeCommunities{names: make(map[string]bool, len(names))}
	for _, n := range names {
		n = strings.TrimPrefix(strings.TrimSpace(n), "r/")
		if n != "" {
			m.names[strings.ToLower(n)] = true
		}
	}
	return m
}

// Contains reports whether the item was posted in a denylisted community.
func (m MemeCommunities) Contains(item source.TrendItem) bool {
	if item.Source != source.SourceReddit || item.Subreddit == "" {
		return false
	}
	return m.names[strings.ToLower(item.Subreddit)]
}

// Basic scorer weights and saturation points.
const (
	basicEngagementCap = 1000
	basicCommentsCap   = 200
	basicEngagementW   = 0.25
	basicCommentsW     = 0.35
	basicFreshnessW    = 0.40
	basicMemeFactor    = 0.7
)

// BasicScore ranks an item that has no judgment yet from engagement,
// comments and freshness alone.
func BasicScore(item source.TrendItem, now time.Time, memeHeavy bool) int {
	eng := math.Min(float64(item.Engagement)/basicEngagementCap, 1) * 100
	com := math.Min(float64(item.Comments)/basicCommentsCap, 1) * 100
	fresh := float64(Freshness(item.Captured(), now))

	basic := math.Round(eng*basicEngagementW + com*basicCommentsW + fresh*basicFreshnessW)
	if memeHeavy {
		basic = math.Round(basic * basicMemeFactor)
	}
	return clamp(int(basic))
}

// ValueTier buckets the gated score.
type ValueTier string

const (
	TierHigh  ValueTier = "high"
	TierMaybe ValueTier = "maybe"
	TierSkip  ValueTier = "skip"
)

// ValueTierFor classifies a post-gate score. Rejected and low-value items
// are always skipped.
func ValueTierFor(score int, j Judgment) ValueTier {
	if j.Reject || j.ContentValue < LowValueThreshold {
		return TierSkip
	}
	switch {
	case score >= 70:
		return TierHigh
	case score >= 40:
		return TierMaybe
	default:
		return TierSkip
	}
}
