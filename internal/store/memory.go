package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/elonfeng/trendscore/pkg/score"
	"github.com/elonfeng/trendscore/pkg/source"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu sync.RWMutex

	cache     map[string]cachedItem
	snapshots map[string][]score.Point
	judgments map[string]score.Judgment
	cross     map[string]score.CrossPlatform
	saved     map[string]bool
	usage     []UsageRecord

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

type cachedItem struct {
	item      source.TrendItem
	fetchedAt time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		cache:     make(map[string]cachedItem),
		snapshots: make(map[string][]score.Point),
		judgments: make(map[string]score.Judgment),
		cross:     make(map[string]score.CrossPlatform),
		saved:     make(map[string]bool),
		now:       time.Now,
	}
}

// SetClock overrides the clock used for cache expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CacheTrends(_ context.Context, items []source.TrendItem, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.cache[it.ID] = cachedItem{item: it, fetchedAt: fetchedAt}
	}
	return nil
}

func (m *MemoryStore) CachedTrends(_ context.Context, sources []source.SourceType, maxAge time.Duration) ([]source.TrendItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-maxAge)
	var out []source.TrendItem
	for _, c := range m.cache {
		if len(sources) > 0 && !slices.Contains(sources, c.item.Source) {
			continue
		}
		if maxAge > 0 && c.fetchedAt.Before(cutoff) {
			continue
		}
		out = append(out, c.item)
	}
	slices.SortFunc(out, func(a, b source.TrendItem) int {
		if c := cmp.Compare(b.Engagement, a.Engagement); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryStore) AppendSnapshots(_ context.Context, items []source.TrendItem, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.snapshots[it.ID] = append(m.snapshots[it.ID], score.Point{Score: it.Engagement, Comments: it.Comments, At: at})
	}
	return nil
}

func (m *MemoryStore) LatestSnapshots(_ context.Context, ids []string) (map[string]score.SnapshotPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]score.SnapshotPair)
	for _, id := range ids {
		points := slices.Clone(m.snapshots[id])
		if len(points) < 2 {
			continue
		}
		slices.SortStableFunc(points, func(a, b score.Point) int { return a.At.Compare(b.At) })
		n := len(points)
		out[id] = score.SnapshotPair{Prev: points[n-2], Curr: points[n-1]}
	}
	return out, nil
}

func (m *MemoryStore) SaveJudgments(_ context.Context, _ string, judgments map[string]score.Judgment, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range judgments {
		m.judgments[id] = j
	}
	return nil
}

func (m *MemoryStore) LatestJudgments(_ context.Context, ids []string) (map[string]score.Judgment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]score.Judgment)
	for _, id := range ids {
		if j, ok := m.judgments[id]; ok {
			out[id] = j
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveCrossPlatform(_ context.Context, _ string, index map[string]score.CrossPlatform, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cross = make(map[string]score.CrossPlatform, len(index))
	for id, cp := range index {
		m.cross[id] = cp
	}
	return nil
}

func (m *MemoryStore) LatestCrossPlatform(_ context.Context, ids []string) (map[string]score.CrossPlatform, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]score.CrossPlatform)
	for _, id := range ids {
		if cp, ok := m.cross[id]; ok {
			out[id] = cp
		}
	}
	return out, nil
}

func (m *MemoryStore) SetSaved(_ context.Context, id string, saved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cache[id]; !ok {
		return fmt.Errorf("trend %s: %w", id, ErrNotFound)
	}
	if saved {
		m.saved[id] = true
	} else {
		delete(m.saved, id)
	}
	return nil
}

func (m *MemoryStore) SavedSet(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if m.saved[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (m *MemoryStore) RecordUsage(_ context.Context, rec UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.At.IsZero() {
		rec.At = m.now()
	}
	m.usage = append(m.usage, rec)
	return nil
}

func (m *MemoryStore) UsageSummary(_ context.Context, now time.Time) (UsageSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []UsageRecord
	for _, r := range m.usage {
		if !r.At.After(now) {
			recs = append(recs, r)
		}
	}
	return summarize(recs, now), nil
}
