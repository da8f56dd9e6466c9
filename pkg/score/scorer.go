package score

import (
	"time"

	"github.com/elonfeng/trendscore/pkg/source"
)

// CrossPlatform is the cross-platform presence attached to one trend.
type CrossPlatform struct {
	Topic     string              `json:"topic"`
	Platforms []source.SourceType `json:"platforms"`
	Score     int                 `json:"score"`
}

// ScoredTrend is a trend item with everything known about it at query time.
type ScoredTrend struct {
	source.TrendItem

	Judgment      *Judgment        `json:"ai_score,omitempty"`
	Signals       *SignalBreakdown `json:"signals,omitempty"`
	CombinedScore int              `json:"combined_score"`
	ValueTier     ValueTier        `json:"value_tier,omitempty"`
	VelocityTier  VelocityTier     `json:"velocity_tier,omitempty"`
	CrossPlatform *CrossPlatform   `json:"cross_platform,omitempty"`
	Saved         bool             `json:"saved"`
}

// Rejected reports whether the trend carries a rejecting judgment.
func (t ScoredTrend) Rejected() bool {
	return t.Judgment != nil && t.Judgment.Reject
}

// Scorer bundles the tunable parts of scoring.
type Scorer struct {
	Weights   Weights
	AIWeights AIWeights
	Memes     MemeCommunities
	Now       func() time.Time
}

// NewScorer returns a scorer with the default weights and denylist.
func NewScorer() *Scorer {
	return &Scorer{
		Weights:   DefaultWeights,
		AIWeights: DefaultAIWeights,
		Memes:     NewMemeCommunities(DefaultMemeSubreddits...),
		Now:       time.Now,
	}
}

// Inputs are the per-trend facts loaded from storage for one ranking pass.
// Any of them may be nil.
type Inputs struct {
	Judgment      *Judgment
	Snapshots     *SnapshotPair
	CrossPlatform *CrossPlatform
	Saved         bool
}

// Score assembles a ScoredTrend. Without a judgment the basic score is used
// and no signals or tiers are set.
func (s *Scorer) Score(item source.TrendItem, in Inputs) ScoredTrend {
	now := s.now()
	meme := s.Memes.Contains(item)

	st := ScoredTrend{
		TrendItem:     item,
		CrossPlatform: in.CrossPlatform,
		Saved:         in.Saved,
	}

	if in.Judgment == nil {
		st.CombinedScore = BasicScore(item, now, meme)
		return st
	}

	j := *in.Judgment
	platforms := 0
	if in.CrossPlatform != nil {
		platforms = in.CrossPlatform.Score
	}
	signals := SignalBreakdown{
		AIAnalysis:    AISignal(j, s.AIWeights),
		Velocity:      Velocity(in.Snapshots),
		CommentsRatio: CommentsRatio(item.Comments, item.Engagement),
		CrossPlatform: CrossPlatformSignal(platforms),
		Emotional:     Emotional(j.EmotionalTrigger),
		Freshness:     Freshness(item.Captured(), now),
	}

	st.Judgment = &j
	st.Signals = &signals
	st.CombinedScore = ApplyGate(Combine(signals, s.Weights), j, meme)
	st.ValueTier = ValueTierFor(st.CombinedScore, j)
	st.VelocityTier = VelocityTierFor(signals.Velocity)
	return st
}

// ScoreAll scores every item, looking up inputs by trend id.
func (s *Scorer) ScoreAll(items []source.TrendItem, lookup func(id string) Inputs) []ScoredTrend {
	out := make([]ScoredTrend, 0, len(items))
	for _, it := range items {
		out = append(out, s.Score(it, lookup(it.ID)))
	}
	return out
}

func (s *Scorer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
