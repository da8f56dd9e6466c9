package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/trendscore/pkg/source"
)

func trend(id string, combined int, tier ValueTier, rejected bool) ScoredTrend {
	st := ScoredTrend{
		TrendItem:     source.TrendItem{ID: id},
		CombinedScore: combined,
		ValueTier:     tier,
	}
	if rejected {
		st.Judgment = &Judgment{Reject: true}
	}
	return st
}

func ids(list []ScoredTrend) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.ID
	}
	return out
}

func TestRankOrdering(t *testing.T) {
	in := []ScoredTrend{
		trend("rejected-high-score", 90, TierSkip, true),
		trend("skip", 30, TierSkip, false),
		trend("maybe-50", 50, TierMaybe, false),
		trend("unscored-80", 80, "", false),
		trend("high-75", 75, TierHigh, false),
		trend("high-90", 90, TierHigh, false),
		trend("maybe-50-second", 50, TierMaybe, false),
	}

	got := Rank(in)

	assert.Equal(t, []string{
		"high-90",
		"high-75",
		"unscored-80",
		"maybe-50",
		"maybe-50-second",
		"skip",
		"rejected-high-score",
	}, ids(got))
}

func TestRankDoesNotMutateInput(t *testing.T) {
	in := []ScoredTrend{
		trend("a", 10, TierSkip, false),
		trend("b", 90, TierHigh, false),
	}
	_ = Rank(in)
	assert.Equal(t, []string{"a", "b"}, ids(in))
}

func TestRankIsStable(t *testing.T) {
	var in []ScoredTrend
	for _, id := range []string{"e", "d", "c", "b", "a"} {
		in = append(in, trend(id, 55, TierMaybe, false))
	}
	first := Rank(in)
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, ids(first))

	for range 10 {
		assert.Equal(t, first, Rank(in))
		assert.Equal(t, first, Rank(first))
	}
}

func TestRankEmpty(t *testing.T) {
	assert.Empty(t, Rank(nil))
}

func TestSortBySignal(t *testing.T) {
	withSignals := func(id string, combined int, s SignalBreakdown) ScoredTrend {
		st := trend(id, combined, TierMaybe, false)
		st.Signals = &s
		return st
	}
	in := []ScoredTrend{
		withSignals("slow-fresh", 60, SignalBreakdown{Velocity: 30, Freshness: 100, CrossPlatform: 20}),
		withSignals("fast-old", 50, SignalBreakdown{Velocity: 100, Freshness: 20, CrossPlatform: 60}),
		trend("unjudged", 95, "", false),
		withSignals("wide", 40, SignalBreakdown{Velocity: 50, Freshness: 40, CrossPlatform: 100}),
	}

	tests := []struct {
		key  SortKey
		want []string
	}{
		{SortCombined, []string{"unjudged", "slow-fresh", "fast-old", "wide"}},
		{SortVelocity, []string{"fast-old", "wide", "slow-fresh", "unjudged"}},
		{SortFreshness, []string{"slow-fresh", "wide", "fast-old", "unjudged"}},
		{SortCrossPlatform, []string{"wide", "fast-old", "slow-fresh", "unjudged"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			assert.Equal(t, tt.want, ids(SortBySignal(in, tt.key)))
		})
	}
}

func TestSortBySignalTiesKeepRankOrder(t *testing.T) {
	s := SignalBreakdown{Velocity: 50}
	a := trend("low", 40, TierMaybe, false)
	a.Signals = &s
	b := trend("high", 80, TierHigh, false)
	b.Signals = &s

	assert.Equal(t, []string{"high", "low"}, ids(SortBySignal([]ScoredTrend{a, b}, SortVelocity)))
}

func TestParseSortKey(t *testing.T) {
	tests := map[string]SortKey{
		"":               SortCombined,
		"combined_score": SortCombined,
		"Velocity":       SortVelocity,
		"cross-platform": SortCrossPlatform,
		"freshness":      SortFreshness,
	}
	for in, want := range tests {
		got, err := ParseSortKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSortKey("hotness")
	assert.Error(t, err)
}
