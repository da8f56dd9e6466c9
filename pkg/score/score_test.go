package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/trendscore/pkg/source"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedScorer() *Scorer {
	s := NewScorer()
	s.Now = func() time.Time { return testNow }
	return s
}

func TestNewJudgmentClampsAndDefaults(t *testing.T) {
	j := NewJudgment(RawJudgment{
		ContentValue:     140,
		NicheFit:         -25,
		HookPotential:    49.6,
		Actionability:    0.4,
		SuggestedAngle:   "  show the receipts  ",
		ContentFormat:    "hologram",
		EmotionalTrigger: "Nostalgia",
	}, source.SourceReddit)

	assert.Equal(t, 100, j.ContentValue)
	assert.Equal(t, 0, j.NicheFit)
	assert.Equal(t, 50, j.HookPotential)
	assert.Equal(t, 0, j.Actionability)
	assert.Equal(t, "show the receipts", j.SuggestedAngle)
	assert.Equal(t, FormatTextOverlay, j.ContentFormat)
	assert.Equal(t, TriggerNone, j.EmotionalTrigger)
}

func TestNewJudgmentKnownEnums(t *testing.T) {
	j := NewJudgment(RawJudgment{ContentFormat: "Screencast", EmotionalTrigger: " FOMO "}, source.SourceHackerNews)
	assert.Equal(t, FormatScreencast, j.ContentFormat)
	assert.Equal(t, TriggerFOMO, j.EmotionalTrigger)
}

func TestNewJudgmentPolymarketBonus(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		src  source.SourceType
		want int
	}{
		{"polymarket gets bonus", 50, source.SourcePolymarket, 60},
		{"bonus is clamped", 95, source.SourcePolymarket, 100},
		{"other sources unchanged", 50, source.SourceYouTube, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJudgment(RawJudgment{ContentValue: tt.in}, tt.src)
			assert.Equal(t, tt.want, j.ContentValue)
		})
	}
}

func TestAISignalAlwaysInRange(t *testing.T) {
	for _, v := range []int{-500, -1, 0, 37, 100, 101, 9999} {
		j := Judgment{ContentValue: v, NicheFit: v, HookPotential: v, Actionability: v}
		got := AISignal(j, DefaultAIWeights)
		assert.GreaterOrEqual(t, got, 0, "value %d", v)
		assert.LessOrEqual(t, got, 100, "value %d", v)
	}
}

func TestVelocity(t *testing.T) {
	at := func(h float64) time.Time { return testNow.Add(time.Duration(h * float64(time.Hour))) }
	pair := func(score int, hours float64) *SnapshotPair {
		return &SnapshotPair{
			Prev: Point{Score: 1000, At: at(0)},
			Curr: Point{Score: 1000 + score, At: at(hours)},
		}
	}

	tests := []struct {
		name string
		pair *SnapshotPair
		want int
	}{
		{"no snapshots", nil, 50},
		{"too close together", pair(500, 0.005), 50},
		{"out of order", pair(500, -1), 50},
		{"explosive", pair(201, 1), 100},
		{"fast", pair(101, 1), 90},
		{"quick", pair(51, 1), 80},
		{"steady", pair(11, 1), 70},
		{"slow", pair(1, 1), 50},
		{"flat", pair(0, 1), 30},
		{"slight drop", pair(-9, 1), 30},
		{"falling", pair(-10, 1), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Velocity(tt.pair))
		})
	}
}

func TestVelocityMonotonic(t *testing.T) {
	for _, hours := range []float64{0.02, 0.5, 1, 6, 48} {
		prev := -1
		for delta := -2000; delta <= 2000; delta += 7 {
			p := &SnapshotPair{
				Prev: Point{Score: 5000, At: testNow},
				Curr: Point{Score: 5000 + delta, At: testNow.Add(time.Duration(hours * float64(time.Hour)))},
			}
			v := Velocity(p)
			require.GreaterOrEqual(t, v, prev, "hours=%v delta=%d", hours, delta)
			prev = v
		}
	}
}

func TestVelocityTierFor(t *testing.T) {
	assert.Equal(t, VelocityExplosive, VelocityTierFor(90))
	assert.Equal(t, VelocityHot, VelocityTierFor(70))
	assert.Equal(t, VelocityGrowing, VelocityTierFor(50))
	assert.Equal(t, VelocityStale, VelocityTierFor(30))
}

func TestCommentsRatio(t *testing.T) {
	tests := []struct {
		comments, engagement, want int
	}{
		{60, 100, 100},
		{40, 100, 80},
		{20, 100, 60},
		{5, 100, 30},
		{0, 100, 10},
		{3, 0, 100}, // denominator floored at 1
		{0, 0, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CommentsRatio(tt.comments, tt.engagement), "%d/%d", tt.comments, tt.engagement)
	}
}

func TestCrossPlatformSignal(t *testing.T) {
	assert.Equal(t, 20, CrossPlatformSignal(0))
	assert.Equal(t, 20, CrossPlatformSignal(1))
	assert.Equal(t, 60, CrossPlatformSignal(2))
	assert.Equal(t, 80, CrossPlatformSignal(3))
	assert.Equal(t, 100, CrossPlatformSignal(4))
	assert.Equal(t, 100, CrossPlatformSignal(6))
}

func TestEmotional(t *testing.T) {
	assert.Equal(t, 100, Emotional(TriggerControversy))
	assert.Equal(t, 90, Emotional(TriggerShock))
	assert.Equal(t, 90, Emotional(TriggerFOMO))
	assert.Equal(t, 80, Emotional(TriggerCuriosity))
	assert.Equal(t, 70, Emotional(TriggerAwe))
	assert.Equal(t, 60, Emotional(TriggerPractical))
	assert.Equal(t, 20, Emotional(TriggerNone))
	assert.Equal(t, 20, Emotional("wistful"))
	assert.Equal(t, 20, Emotional(""))
}

func TestFreshness(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want int
	}{
		{-time.Hour, 100},
		{30 * time.Minute, 100},
		{2 * time.Hour, 90},
		{5 * time.Hour, 80},
		{11 * time.Hour, 60},
		{23 * time.Hour, 40},
		{6 * 24 * time.Hour, 20},
		{8 * 24 * time.Hour, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Freshness(testNow.Add(-tt.age), testNow), "age %s", tt.age)
	}
}

func TestExplicitRejectIsCapped(t *testing.T) {
	j := Judgment{ContentValue: 85, NicheFit: 80, HookPotential: 80, Actionability: 80, Reject: true}
	ai := AISignal(j, DefaultAIWeights)
	require.Equal(t, 82, ai)

	signals := SignalBreakdown{AIAnalysis: ai, Velocity: 50, CommentsRatio: 50, CrossPlatform: 20, Emotional: 20, Freshness: 100}
	raw := Combine(signals, DefaultWeights)
	require.Equal(t, 57, raw)

	assert.Equal(t, 15, ApplyGate(raw, j, false))
	assert.Equal(t, TierSkip, ValueTierFor(15, j))
}

func TestGateOrdering(t *testing.T) {
	for _, raw := range []int{0, 10, 15, 19, 20, 50, 100} {
		for _, cv := range []int{0, 10, 19} {
			j := Judgment{ContentValue: cv, NicheFit: 80, Reject: true}
			assert.LessOrEqual(t, ApplyGate(raw, j, false), 15, "raw=%d cv=%d", raw, cv)
			assert.LessOrEqual(t, ApplyGate(raw, j, true), 15, "raw=%d cv=%d meme", raw, cv)
		}
	}
}

func TestLowValueCap(t *testing.T) {
	j := Judgment{ContentValue: 19, NicheFit: 90}
	assert.Equal(t, 20, ApplyGate(80, j, false))
	assert.Equal(t, 12, ApplyGate(12, j, false))
	assert.Equal(t, TierSkip, ValueTierFor(20, j))
}

func TestMemePenalty(t *testing.T) {
	memes := NewMemeCommunities(DefaultMemeSubreddits...)
	item := source.TrendItem{Source: source.SourceReddit, Subreddit: "ChatGPT"}
	require.True(t, memes.Contains(item))

	j := Judgment{ContentValue: 60, NicheFit: 30}
	assert.Equal(t, 40, ApplyGate(55, j, memes.Contains(item)))

	t.Run("good niche fit is not penalized", func(t *testing.T) {
		assert.Equal(t, 55, ApplyGate(55, Judgment{ContentValue: 60, NicheFit: 50}, true))
	})
	t.Run("penalty floors at zero", func(t *testing.T) {
		assert.Equal(t, 0, ApplyGate(10, j, true))
	})
	t.Run("penalty applies after caps", func(t *testing.T) {
		rejected := Judgment{ContentValue: 60, NicheFit: 30, Reject: true}
		assert.Equal(t, 0, ApplyGate(90, rejected, true))
	})
}

func TestMemeCommunitiesContains(t *testing.T) {
	memes := NewMemeCommunities("r/ChatGPT", " claudeai ", "")
	assert.True(t, memes.Contains(source.TrendItem{Source: source.SourceReddit, Subreddit: "chatgpt"}))
	assert.True(t, memes.Contains(source.TrendItem{Source: source.SourceReddit, Subreddit: "ClaudeAI"}))
	assert.False(t, memes.Contains(source.TrendItem{Source: source.SourceReddit, Subreddit: "LocalLLaMA"}))
	assert.False(t, memes.Contains(source.TrendItem{Source: source.SourceHackerNews, Subreddit: "ChatGPT"}))
	assert.False(t, MemeCommunities{}.Contains(source.TrendItem{Source: source.SourceReddit, Subreddit: "ChatGPT"}))
}

func TestFreshHighValueItemIsMaybe(t *testing.T) {
	item := source.TrendItem{
		ID:         "hn-1",
		Source:     source.SourceHackerNews,
		Engagement: 100,
		Comments:   20,
		CapturedAt: testNow.Add(-30 * time.Minute).Unix(),
	}
	j := Judgment{ContentValue: 90, NicheFit: 90, HookPotential: 90, Actionability: 90, EmotionalTrigger: TriggerCuriosity}

	st := fixedScorer().Score(item, Inputs{Judgment: &j})

	require.NotNil(t, st.Signals)
	assert.Equal(t, SignalBreakdown{
		AIAnalysis:    90,
		Velocity:      50,
		CommentsRatio: 60,
		CrossPlatform: 20,
		Emotional:     80,
		Freshness:     100,
	}, *st.Signals)
	assert.Equal(t, 67, st.CombinedScore)
	assert.Equal(t, TierMaybe, st.ValueTier)
	assert.Equal(t, VelocityGrowing, st.VelocityTier)
}

func TestBasicScoreWithoutJudgment(t *testing.T) {
	item := source.TrendItem{
		ID:         "reddit-abc",
		Source:     source.SourceReddit,
		Subreddit:  "LocalLLaMA",
		Engagement: 2000,
		Comments:   150,
		CapturedAt: testNow.Add(-2 * time.Hour).Unix(),
	}
	assert.Equal(t, 87, BasicScore(item, testNow, false))

	st := fixedScorer().Score(item, Inputs{})
	assert.Equal(t, 87, st.CombinedScore)
	assert.Nil(t, st.Signals)
	assert.Nil(t, st.Judgment)
	assert.Empty(t, st.ValueTier)
	assert.Empty(t, st.VelocityTier)

	t.Run("meme community", func(t *testing.T) {
		assert.Equal(t, 61, BasicScore(item, testNow, true))
	})
}

func TestSinglePlatformDefaultIsIdempotent(t *testing.T) {
	item := source.TrendItem{ID: "yt-1", Source: source.SourceYouTube, CapturedAt: testNow.Unix()}
	j := Judgment{ContentValue: 50, NicheFit: 50}
	s := fixedScorer()
	for range 5 {
		st := s.Score(item, Inputs{Judgment: &j})
		require.NotNil(t, st.Signals)
		assert.Equal(t, 20, st.Signals.CrossPlatform)
	}
}

func TestScoreUsesCrossPlatform(t *testing.T) {
	item := source.TrendItem{ID: "hn-9", Source: source.SourceHackerNews, CapturedAt: testNow.Unix()}
	j := Judgment{ContentValue: 50, NicheFit: 50}
	cp := &CrossPlatform{Topic: "new model", Platforms: []source.SourceType{"hackernews", "reddit", "youtube"}, Score: 3}

	st := fixedScorer().Score(item, Inputs{Judgment: &j, CrossPlatform: cp, Saved: true})
	assert.Equal(t, 80, st.Signals.CrossPlatform)
	assert.Same(t, cp, st.CrossPlatform)
	assert.True(t, st.Saved)
}

func TestScoreCopiesJudgment(t *testing.T) {
	j := Judgment{ContentValue: 50}
	st := fixedScorer().Score(source.TrendItem{ID: "x"}, Inputs{Judgment: &j})
	j.ContentValue = 0
	assert.Equal(t, 50, st.Judgment.ContentValue)
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, DefaultWeights.Sum(), 1e-9)
	assert.InDelta(t, 1.0, DefaultAIWeights.Sum(), 1e-9)
}
