package score

import "github.com/elonfeng/trendscore/pkg/source"

// MaxCrossPlatformScore caps the platform count of a group.
const MaxCrossPlatformScore = 6

// Group is one topic cluster reported by the judgment service.
type Group struct {
	Topic     string              `json:"topic"`
	Platforms []source.SourceType `json:"platforms"`
	TrendIDs  []string            `json:"trend_ids"`
	Score     int                 `json:"cross_platform_score"`
}

// FilterGroups drops groups that span fewer than two distinct platforms,
// reference no trends, or were scored below two by the service.
func FilterGroups(groups []Group) []Group {
	var out []Group
	for _, g := range groups {
		if len(g.TrendIDs) == 0 || len(uniquePlatforms(g.Platforms)) < 2 {
			continue
		}
		// A zero score means the service omitted it.
		if g.Score != 0 && g.Score < 2 {
			continue
		}
		out = append(out, g)
	}
	return out
}

// BuildCrossPlatformIndex maps each trend id in a valid group to its
// cross-platform presence. Later groups win when a trend appears twice.
func BuildCrossPlatformIndex(groups []Group) map[string]CrossPlatform {
	index := make(map[string]CrossPlatform)
	for _, g := range FilterGroups(groups) {
		platforms := uniquePlatforms(g.Platforms)
		cp := CrossPlatform{
			Topic:     g.Topic,
			Platforms: platforms,
			Score:     min(len(platforms), MaxCrossPlatformScore),
		}
		for _, id := range g.TrendIDs {
			if id != "" {
				index[id] = cp
			}
		}
	}
	return index
}

func uniquePlatforms(in []source.SourceType) []source.SourceType {
	seen := make(map[source.SourceType]bool, len(in))
	out := make([]source.SourceType, 0, len(in))
	for _, p := range in {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
