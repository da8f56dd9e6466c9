package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/elonfeng/trendscore/internal/observability"
	"github.com/elonfeng/trendscore/pkg/score"
)

// maxListed caps how many trends a chat message lists.
const maxListed = 5

// Trend is the alert view of a scored trend.
type Trend struct {
	ID            string   `json:"id"`
	Source        string   `json:"source"`
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Score         int      `json:"combined_score"`
	VelocityTier  string   `json:"velocity_tier,omitempty"`
	Angle         string   `json:"suggested_angle,omitempty"`
	Format        string   `json:"content_format,omitempty"`
	CrossPlatform []string `json:"cross_platform,omitempty"`
}

// FromScored converts a scored trend for notification.
func FromScored(st score.ScoredTrend) Trend {
	t := Trend{
		ID:           st.ID,
		Source:       string(st.Source),
		Title:        st.Title,
		URL:          st.URL,
		Score:        st.CombinedScore,
		VelocityTier: string(st.VelocityTier),
	}
	if st.Judgment != nil {
		t.Angle = st.Judgment.SuggestedAngle
		t.Format = string(st.Judgment.ContentFormat)
	}
	if st.CrossPlatform != nil {
		for _, p := range st.CrossPlatform.Platforms {
			t.CrossPlatform = append(t.CrossPlatform, string(p))
		}
	}
	return t
}

// Notification is the data sent to alert destinations.
type Notification struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Trends      []Trend   `json:"trends"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (n *Notification) listed() []Trend {
	return n.Trends[:min(len(n.Trends), maxListed)]
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers and
// remembers which trends were already announced.
type Manager struct {
	notifiers []Notifier

	mu   sync.Mutex
	seen map[string]bool
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers, seen: make(map[string]bool)}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		status := "ok"
		if err := notifier.Send(ctx, n); err != nil {
			status = "error"
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
		observability.AlertsSent.WithLabelValues(notifier.Name(), status).Inc()
	}
	return errors.Join(errs...)
}

// NotifyHighTier announces high-tier trends that were not announced while
// they stayed in the listing. It returns how many trends were included.
// Trends are only marked as seen when every notifier succeeded.
func (m *Manager) NotifyHighTier(ctx context.Context, trends []score.ScoredTrend) (int, error) {
	fresh := m.unseen(trends)
	if len(fresh) == 0 || !m.HasNotifiers() {
		return 0, nil
	}

	n := &Notification{
		Title:       fmt.Sprintf("%d new high-value trend(s)", len(fresh)),
		Body:        fresh[0].Title,
		GeneratedAt: time.Now().UTC(),
	}
	for _, st := range fresh {
		n.Trends = append(n.Trends, FromScored(st))
	}

	if err := m.Broadcast(ctx, n); err != nil {
		return 0, err
	}

	m.mu.Lock()
	for _, st := range fresh {
		m.seen[st.ID] = true
	}
	m.mu.Unlock()
	return len(fresh), nil
}

// unseen returns the high-tier trends not yet announced. Announced ids
// missing from trends are forgotten, so the set is bounded by one cycle.
func (m *Manager) unseen(trends []score.ScoredTrend) []score.ScoredTrend {
	m.mu.Lock()
	defer m.mu.Unlock()

	present := make(map[string]bool, len(trends))
	for _, st := range trends {
		present[st.ID] = true
	}
	for id := range m.seen {
		if !present[id] {
			delete(m.seen, id)
		}
	}

	var out []score.ScoredTrend
	for _, st := range trends {
		if st.ValueTier == score.TierHigh && !st.Rejected() && !m.seen[st.ID] {
			out = append(out, st)
		}
	}
	return out
}

func newClient() *resty.Client {
	return resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "trendscore/1.0")
}

// post sends a JSON body and fails on any non-2xx status.
func post(ctx context.Context, c *resty.Client, url string, body []byte, headers map[string]string) error {
	resp, err := c.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		Post(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("status %d", resp.StatusCode())
	}
	return nil
}
