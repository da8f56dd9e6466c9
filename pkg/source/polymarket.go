package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
)

const polymarketBaseURL = "https://gamma-api.polymarket.com"

// Polymarket collects the highest-volume active prediction markets.
type Polymarket struct {
	client  *resty.Client
	baseURL string
	limit   int
}

// NewPolymarket creates a new Polymarket collector.
func NewPolymarket(limit int) *Polymarket {
	if limit <= 0 {
		limit = 15
	}
	return &Polymarket{
		client:  newClient(),
		baseURL: polymarketBaseURL,
		limit:   limit,
	}
}

func (p *Polymarket) Name() SourceType { return SourcePolymarket }

func (p *Polymarket) Collect(ctx context.Context) ([]TrendItem, error) {
	var markets []pmMarket
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"active":    "true",
			"closed":    "false",
			"order":     "volume24hr",
			"ascending": "false",
			"limit":     fmt.Sprintf("%d", p.limit),
		}).
		SetResult(&markets).
		ForceContentType("application/json").
		Get(p.baseURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch polymarket markets: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("polymarket status %d", resp.StatusCode())
	}

	var items []TrendItem
	for _, m := range markets {
		if m.Question == "" {
			continue
		}
		slug := m.Slug
		if slug == "" {
			slug = slugify(m.Question, 60)
		}

		// Volume and liquidity are in USD; $1M maps to 1000 engagement points.
		items = append(items, TrendItem{
			ID:         "polymarket-" + slug,
			Source:     SourcePolymarket,
			Title:      m.Question,
			URL:        "https://polymarket.com/event/" + slug,
			Engagement: int(math.Round(m.VolumeNum / 1000)),
			Comments:   int(math.Round(m.LiquidityNum / 1000)),
			CapturedAt: m.CreatedAt.Unix(),
			Author:     "Polymarket",
			Extra: map[string]any{
				"volume_usd":    m.VolumeNum,
				"liquidity_usd": m.LiquidityNum,
				"probability":   leadingProbability(m.OutcomePrices),
				"end_date":      m.EndDate,
			},
		})
	}
	return items, nil
}

type pmMarket struct {
	Question      string    `json:"question"`
	Slug          string    `json:"slug"`
	VolumeNum     float64   `json:"volumeNum"`
	LiquidityNum  float64   `json:"liquidityNum"`
	OutcomePrices string    `json:"outcomePrices"`
	CreatedAt     time.Time `json:"createdAt"`
	EndDate       string    `json:"endDate"`
}

// leadingProbability returns the highest outcome price as a 0-100 value.
// outcomePrices arrives as a JSON-encoded string array, e.g. "[\"0.62\",\"0.38\"]".
func leadingProbability(raw string) int {
	var prices []json.Number
	if err := json.Unmarshal([]byte(raw), &prices); err != nil || len(prices) == 0 {
		return 50
	}
	best := 0.0
	for _, p := range prices {
		if v, err := p.Float64(); err == nil && v > best {
			best = v
		}
	}
	return int(math.Round(best * 100))
}
