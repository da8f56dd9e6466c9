package score

import (
	"math"
	"time"
)

// Point is one snapshot of a trend's engagement.
type Point struct {
	Score    int       `json:"score"`
	Comments int       `json:"comments"`
	At       time.Time `json:"at"`
}

// SnapshotPair holds the two most recent snapshots of a trend, oldest first.
type SnapshotPair struct {
	Prev Point `json:"prev"`
	Curr Point `json:"curr"`
}

// PerHour returns the engagement delta per hour and false when the pair is
// too close together to yield a meaningful rate.
func (p SnapshotPair) PerHour() (float64, bool) {
	hours := p.Curr.At.Sub(p.Prev.At).Hours()
	if hours < minVelocityHours {
		return 0, false
	}
	return float64(p.Curr.Score-p.Prev.Score) / hours, true
}

const (
	minVelocityHours = 0.01
	neutralVelocity  = 50
	singlePlatform   = 20
)

// AISignal is the weighted composite of the four judgment sub-scores.
func AISignal(j Judgment, w AIWeights) int {
	sum := float64(clamp(j.ContentValue))*w.ContentValue +
		float64(clamp(j.NicheFit))*w.NicheFit +
		float64(clamp(j.HookPotential))*w.HookPotential +
		float64(clamp(j.Actionability))*w.Actionability
	return clamp(int(math.Round(sum)))
}

// Velocity buckets the per-hour engagement change between two snapshots.
// A nil pair (fewer than two snapshots) is neutral.
func Velocity(pair *SnapshotPair) int {
	if pair == nil {
		return neutralVelocity
	}
	perHour, ok := pair.PerHour()
	if !ok {
		return neutralVelocity
	}
	switch {
	case perHour > 200:
		return 100
	case perHour > 100:
		return 90
	case perHour > 50:
		return 80
	case perHour > 10:
		return 70
	case perHour > 0:
		return 50
	case perHour > -10:
		return 30
	default:
		return 10
	}
}

// VelocityTier is a qualitative label for the velocity signal.
type VelocityTier string

const (
	VelocityExplosive VelocityTier = "explosive"
	VelocityHot       VelocityTier = "hot"
	VelocityGrowing   VelocityTier = "growing"
	VelocityStale     VelocityTier = "stale"
)

func VelocityTierFor(velocity int) VelocityTier {
	switch {
	case velocity >= 90:
		return VelocityExplosive
	case velocity >= 70:
		return VelocityHot
	case velocity >= 50:
		return VelocityGrowing
	default:
		return VelocityStale
	}
}

// CommentsRatio rewards discussion relative to raw engagement.
func CommentsRatio(comments, engagement int) int {
	ratio := float64(comments) / float64(max(engagement, 1))
	switch {
	case ratio > 0.5:
		return 100
	case ratio > 0.3:
		return 80
	case ratio > 0.1:
		return 60
	case ratio > 0:
		return 30
	default:
		return 10
	}
}

// CrossPlatformSignal maps the number of platforms a topic appears on to a
// signal. Single-platform topics score 20, never 0.
func CrossPlatformSignal(platforms int) int {
	switch {
	case platforms >= 4:
		return 100
	case platforms >= 3:
		return 80
	case platforms >= 2:
		return 60
	default:
		return singlePlatform
	}
}

// Emotional looks up the weight of an emotional trigger. Unknown triggers
// score the same as none.
func Emotional(t EmotionalTrigger) int {
	if v, ok := emotionScores[t]; ok {
		return v
	}
	return emotionScores[TriggerNone]
}

// Freshness decays with the item's age since capturedAt.
func Freshness(capturedAt, now time.Time) int {
	age := now.Sub(capturedAt).Hours()
	switch {
	case age < 1:
		return 100
	case age < 3:
		return 90
	case age < 6:
		return 80
	case age < 12:
		return 60
	case age < 24:
		return 40
	case age < 168:
		return 20
	default:
		return 5
	}
}
