// Package score turns trend items, AI judgments, snapshots and cross-platform
// groups into a single comparable 0-100 score and a stable ranking.
//
// Everything in this package is a pure function of its inputs: no I/O, no
// locking, no goroutines.
package score

import (
	"math"
	"strings"

	"github.com/elonfeng/trendscore/pkg/source"
)

// ContentFormat is the suggested production format for a trend.
type ContentFormat string

const (
	FormatSlideshow   ContentFormat = "slideshow"
	FormatScreencast  ContentFormat = "screencast"
	FormatAIVideo     ContentFormat = "ai_video"
	FormatTextOverlay ContentFormat = "text_overlay"
	FormatNewsUpdate  ContentFormat = "news_update"
)

// DefaultContentFormat is used when the judgment carries an unknown format.
const DefaultContentFormat = FormatTextOverlay

var contentFormats = map[ContentFormat]bool{
	FormatSlideshow:   true,
	FormatScreencast:  true,
	FormatAIVideo:     true,
	FormatTextOverlay: true,
	FormatNewsUpdate:  true,
}

// ParseContentFormat maps free text onto the closed set, case-insensitively.
func ParseContentFormat(s string) ContentFormat {
	f := ContentFormat(strings.ToLower(strings.TrimSpace(s)))
	if contentFormats[f] {
		return f
	}
	return DefaultContentFormat
}

// EmotionalTrigger is the dominant emotion a trend evokes.
type EmotionalTrigger string

const (
	TriggerAwe         EmotionalTrigger = "awe"
	TriggerCuriosity   EmotionalTrigger = "curiosity"
	TriggerControversy EmotionalTrigger = "controversy"
	TriggerFOMO        EmotionalTrigger = "fomo"
	TriggerShock       EmotionalTrigger = "shock"
	TriggerPractical   EmotionalTrigger = "practical"
	TriggerNone        EmotionalTrigger = "none"
)

// emotionScores doubles as the set of accepted triggers.
var emotionScores = map[EmotionalTrigger]int{
	TriggerControversy: 100,
	TriggerShock:       90,
	TriggerFOMO:        90,
	TriggerCuriosity:   80,
	TriggerAwe:         70,
	TriggerPractical:   60,
	TriggerNone:        20,
}

// ParseEmotionalTrigger maps free text onto the closed set, defaulting to none.
func ParseEmotionalTrigger(s string) EmotionalTrigger {
	t := EmotionalTrigger(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := emotionScores[t]; ok {
		return t
	}
	return TriggerNone
}

// RawJudgment is one element of the judgment service's JSON array, before
// validation. Sub-scores are floats because models do not reliably emit
// integers.
type RawJudgment struct {
	ID               string  `json:"id"`
	ContentValue     float64 `json:"content_value"`
	NicheFit         float64 `json:"niche_fit"`
	HookPotential    float64 `json:"hook_potential"`
	Actionability    float64 `json:"actionability"`
	Reject           bool    `json:"reject"`
	SuggestedAngle   string  `json:"suggested_angle"`
	ContentFormat    string  `json:"content_format"`
	EmotionalTrigger string  `json:"emotional_trigger"`
}

// Judgment is a validated qualitative assessment of one trend.
type Judgment struct {
	ContentValue     int              `json:"content_value"`
	NicheFit         int              `json:"niche_fit"`
	HookPotential    int              `json:"hook_potential"`
	Actionability    int              `json:"actionability"`
	Reject           bool             `json:"reject"`
	SuggestedAngle   string           `json:"suggested_angle"`
	ContentFormat    ContentFormat    `json:"content_format"`
	EmotionalTrigger EmotionalTrigger `json:"emotional_trigger"`
}

// PolymarketBonus is added to content_value for prediction-market items
// before clamping.
const PolymarketBonus = 10

// NewJudgment validates a raw judgment for an item from src. Sub-scores are
// rounded and clamped to [0,100]; unknown categorical values fall back to
// their defaults.
func NewJudgment(raw RawJudgment, src source.SourceType) Judgment {
	cv := raw.ContentValue
	if src == source.SourcePolymarket {
		cv += PolymarketBonus
	}
	return Judgment{
		ContentValue:     clampFloat(cv),
		NicheFit:         clampFloat(raw.NicheFit),
		HookPotential:    clampFloat(raw.HookPotential),
		Actionability:    clampFloat(raw.Actionability),
		Reject:           raw.Reject,
		SuggestedAngle:   strings.TrimSpace(raw.SuggestedAngle),
		ContentFormat:    ParseContentFormat(raw.ContentFormat),
		EmotionalTrigger: ParseEmotionalTrigger(raw.EmotionalTrigger),
	}
}

func clampFloat(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return clamp(int(math.Round(math.Max(-1, math.Min(101, v)))))
}

func clamp(v int) int {
	return max(0, min(100, v))
}
