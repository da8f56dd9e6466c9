package score

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// SortKey selects the ordering of a ranked list.
type SortKey string

const (
	SortCombined      SortKey = "combined"
	SortVelocity      SortKey = "velocity"
	SortCrossPlatform SortKey = "cross_platform"
	SortFreshness     SortKey = "freshness"
)

// ParseSortKey accepts the sort keys and their common aliases. Empty means
// combined.
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "combined", "combined_score", "score":
		return SortCombined, nil
	case "velocity":
		return SortVelocity, nil
	case "cross_platform", "cross-platform", "crossplatform":
		return SortCrossPlatform, nil
	case "freshness", "fresh":
		return SortFreshness, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", s)
	}
}

func tierRank(t ValueTier) int {
	switch t {
	case TierHigh:
		return 0
	case TierSkip:
		return 2
	default:
		return 1
	}
}

// Rank orders trends non-rejected first, then by tier (high, maybe, skip,
// with a missing tier counted as maybe), then by combined score descending.
// Equal keys keep their input order. The input is not modified.
func Rank(list []ScoredTrend) []ScoredTrend {
	out := slices.Clone(list)
	slices.SortStableFunc(out, func(a, b ScoredTrend) int {
		if ra, rb := a.Rejected(), b.Rejected(); ra != rb {
			if ra {
				return 1
			}
			return -1
		}
		if c := cmp.Compare(tierRank(a.ValueTier), tierRank(b.ValueTier)); c != 0 {
			return c
		}
		return cmp.Compare(b.CombinedScore, a.CombinedScore)
	})
	return out
}

// SortBySignal ranks the list and, for any key other than combined, re-sorts
// it by that single signal descending. Trends without signals count as 0.
func SortBySignal(list []ScoredTrend, key SortKey) []ScoredTrend {
	out := Rank(list)
	pick := signalPicker(key)
	if pick == nil {
		return out
	}
	slices.SortStableFunc(out, func(a, b ScoredTrend) int {
		return cmp.Compare(pick(b), pick(a))
	})
	return out
}

func signalPicker(key SortKey) func(ScoredTrend) int {
	field := func(f func(SignalBreakdown) int) func(ScoredTrend) int {
		return func(t ScoredTrend) int {
			if t.Signals == nil {
				return 0
			}
			return f(*t.Signals)
		}
	}
	switch key {
	case SortVelocity:
		return field(func(s SignalBreakdown) int { return s.Velocity })
	case SortCrossPlatform:
		return field(func(s SignalBreakdown) int { return s.CrossPlatform })
	case SortFreshness:
		return field(func(s SignalBreakdown) int { return s.Freshness })
	default:
		return nil
	}
}
