package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/trendscore/internal/store/migrations"
	"github.com/elonfeng/trendscore/pkg/score"
	"github.com/elonfeng/trendscore/pkg/source"
)

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *zerolog.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// goose keeps its configuration in globals.
var migrateMu sync.Mutex

type gooseLogger struct {
	logger *zerolog.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error().Msgf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

// New opens a SQLite database at path and runs migrations. Use ":memory:"
// for a throwaway database.
func New(path string, logger *zerolog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock overrides the clock used for cache expiry and default timestamps.
// It is not safe to call concurrently with other methods.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(&gooseLogger{logger: s.logger})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CacheTrends(ctx context.Context, items []source.TrendItem, fetchedAt time.Time) error {
	if len(items) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, it := range items {
			extra, err := json.Marshal(it.Extra)
			if err != nil {
				return fmt.Errorf("encode extra %s: %w", it.ID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO trends_cache (id, source, title, url, engagement, comments, captured_at, author, subreddit, extra, fetched_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					title = excluded.title,
					url = excluded.url,
					engagement = excluded.engagement,
					comments = excluded.comments,
					author = excluded.author,
					subreddit = excluded.subreddit,
					extra = excluded.extra,
					fetched_at = excluded.fetched_at
			`, it.ID, it.Source, it.Title, it.URL, it.Engagement, it.Comments,
				it.CapturedAt, it.Author, it.Subreddit, string(extra), fetchedAt.Unix())
			if err != nil {
				return fmt.Errorf("cache trend %s: %w", it.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) CachedTrends(ctx context.Context, sources []source.SourceType, maxAge time.Duration) ([]source.TrendItem, error) {
	query := `SELECT id, source, title, url, engagement, comments, captured_at, author, subreddit, extra
		FROM trends_cache WHERE 1=1`
	var args []any

	if len(sources) > 0 {
		query += " AND source IN (?)"
		args = append(args, sources)
	}
	if maxAge > 0 {
		query += " AND fetched_at >= ?"
		args = append(args, s.now().Add(-maxAge).Unix())
	}
	query += " ORDER BY engagement DESC, id"

	query, args, err := s.expand(query, args...)
	if err != nil {
		return nil, fmt.Errorf("cached trends: %w", err)
	}

	var items []source.TrendItem
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("cached trends: %w", err)
	}
	for i := range items {
		if items[i].ExtraJSON != "" && items[i].ExtraJSON != "null" {
			if err := json.Unmarshal([]byte(items[i].ExtraJSON), &items[i].Extra); err != nil {
				s.logger.Warn().Err(err).Str("trend_id", items[i].ID).Msg("decode cached extra")
			}
		}
	}
	return items, nil
}

func (s *SQLiteStore) AppendSnapshots(ctx context.Context, items []source.TrendItem, at time.Time) error {
	if len(items) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, it := range items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO trend_snapshots (trend_id, source, engagement, comments, snapshot_at)
				VALUES (?, ?, ?, ?, ?)
			`, it.ID, it.Source, it.Engagement, it.Comments, at.Unix())
			if err != nil {
				return fmt.Errorf("append snapshot %s: %w", it.ID, err)
			}
		}
		return nil
	})
}

type snapshotRow struct {
	TrendID    string `db:"trend_id"`
	Engagement int    `db:"engagement"`
	Comments   int    `db:"comments"`
	SnapshotAt int64  `db:"snapshot_at"`
}

func (s *SQLiteStore) LatestSnapshots(ctx context.Context, ids []string) (map[string]score.SnapshotPair, error) {
	out := make(map[string]score.SnapshotPair)
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := s.expand(`
		SELECT trend_id, engagement, comments, snapshot_at FROM (
			SELECT trend_id, engagement, comments, snapshot_at,
				ROW_NUMBER() OVER (PARTITION BY trend_id ORDER BY snapshot_at DESC, id DESC) AS rn
			FROM trend_snapshots WHERE trend_id IN (?)
		) WHERE rn <= 2
		ORDER BY trend_id, snapshot_at DESC`, ids)
	if err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}

	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}

	// Rows come newest first per trend.
	latest := make(map[string]score.Point)
	for _, r := range rows {
		p := score.Point{Score: r.Engagement, Comments: r.Comments, At: time.Unix(r.SnapshotAt, 0)}
		curr, ok := latest[r.TrendID]
		if !ok {
			latest[r.TrendID] = p
			continue
		}
		out[r.TrendID] = score.SnapshotPair{Prev: p, Curr: curr}
	}
	return out, nil
}

type judgmentRow struct {
	TrendID          string `db:"trend_id"`
	ContentValue     int    `db:"content_value"`
	NicheFit         int    `db:"niche_fit"`
	HookPotential    int    `db:"hook_potential"`
	Actionability    int    `db:"actionability"`
	Reject           bool   `db:"reject"`
	SuggestedAngle   string `db:"suggested_angle"`
	ContentFormat    string `db:"content_format"`
	EmotionalTrigger string `db:"emotional_trigger"`
}

func (r judgmentRow) judgment() score.Judgment {
	return score.Judgment{
		ContentValue:     r.ContentValue,
		NicheFit:         r.NicheFit,
		HookPotential:    r.HookPotential,
		Actionability:    r.Actionability,
		Reject:           r.Reject,
		SuggestedAngle:   r.SuggestedAngle,
		ContentFormat:    score.ParseContentFormat(r.ContentFormat),
		EmotionalTrigger: score.ParseEmotionalTrigger(r.EmotionalTrigger),
	}
}

func (s *SQLiteStore) SaveJudgments(ctx context.Context, runID string, judgments map[string]score.Judgment, at time.Time) error {
	if len(judgments) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for id, j := range judgments {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO trend_judgments (run_id, trend_id, content_value, niche_fit, hook_potential, actionability,
					reject, suggested_angle, content_format, emotional_trigger, judged_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, runID, id, j.ContentValue, j.NicheFit, j.HookPotential, j.Actionability,
				j.Reject, j.SuggestedAngle, string(j.ContentFormat), string(j.EmotionalTrigger), at.Unix())
			if err != nil {
				return fmt.Errorf("save judgment %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LatestJudgments(ctx context.Context, ids []string) (map[string]score.Judgment, error) {
	out := make(map[string]score.Judgment)
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := s.expand(`
		SELECT trend_id, content_value, niche_fit, hook_potential, actionability,
			reject, suggested_angle, content_format, emotional_trigger FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY trend_id ORDER BY judged_at DESC, id DESC) AS rn
			FROM trend_judgments WHERE trend_id IN (?)
		) WHERE rn = 1`, ids)
	if err != nil {
		return nil, fmt.Errorf("latest judgments: %w", err)
	}

	var rows []judgmentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("latest judgments: %w", err)
	}
	for _, r := range rows {
		out[r.TrendID] = r.judgment()
	}
	return out, nil
}

func (s *SQLiteStore) SaveCrossPlatform(ctx context.Context, runID string, index map[string]score.CrossPlatform, at time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM cross_platform"); err != nil {
			return fmt.Errorf("clear cross platform: %w", err)
		}
		for id, cp := range index {
			platforms, err := json.Marshal(cp.Platforms)
			if err != nil {
				return fmt.Errorf("encode platforms %s: %w", id, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO cross_platform (trend_id, run_id, topic, platforms, score, detected_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, id, runID, cp.Topic, string(platforms), cp.Score, at.Unix())
			if err != nil {
				return fmt.Errorf("save cross platform %s: %w", id, err)
			}
		}
		return nil
	})
}

type crossPlatformRow struct {
	TrendID   string `db:"trend_id"`
	Topic     string `db:"topic"`
	Platforms string `db:"platforms"`
	Score     int    `db:"score"`
}

func (s *SQLiteStore) LatestCrossPlatform(ctx context.Context, ids []string) (map[string]score.CrossPlatform, error) {
	out := make(map[string]score.CrossPlatform)
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := s.expand(
		"SELECT trend_id, topic, platforms, score FROM cross_platform WHERE trend_id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("latest cross platform: %w", err)
	}

	var rows []crossPlatformRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("latest cross platform: %w", err)
	}
	for _, r := range rows {
		cp := score.CrossPlatform{Topic: r.Topic, Score: r.Score}
		if err := json.Unmarshal([]byte(r.Platforms), &cp.Platforms); err != nil {
			return nil, fmt.Errorf("decode platforms %s: %w", r.TrendID, err)
		}
		out[r.TrendID] = cp
	}
	return out, nil
}

func (s *SQLiteStore) SetSaved(ctx context.Context, id string, saved bool) error {
	var exists int
	err := s.db.GetContext(ctx, &exists, "SELECT 1 FROM trends_cache WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("trend %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup trend %s: %w", id, err)
	}

	if saved {
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO saved_trends (trend_id, saved_at) VALUES (?, ?) ON CONFLICT(trend_id) DO NOTHING",
			id, s.now().Unix())
	} else {
		_, err = s.db.ExecContext(ctx, "DELETE FROM saved_trends WHERE trend_id = ?", id)
	}
	if err != nil {
		return fmt.Errorf("set saved %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SavedSet(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := s.expand("SELECT trend_id FROM saved_trends WHERE trend_id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("saved set: %w", err)
	}
	var saved []string
	if err := s.db.SelectContext(ctx, &saved, query, args...); err != nil {
		return nil, fmt.Errorf("saved set: %w", err)
	}
	for _, id := range saved {
		out[id] = true
	}
	return out, nil
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, rec UsageRecord) error {
	at := rec.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_usage (provider, model, operation, input_tokens, output_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.Provider, rec.Model, rec.Operation, rec.InputTokens, rec.OutputTokens, rec.CostUSD, at.Unix())
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

type usageRow struct {
	UsageRecord
	CreatedAt int64 `db:"created_at"`
}

func (s *SQLiteStore) UsageSummary(ctx context.Context, now time.Time) (UsageSummary, error) {
	var rows []usageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT provider, model, operation, input_tokens, output_tokens, cost_usd, created_at
		FROM api_usage WHERE created_at >= ? AND created_at <= ?
	`, earliest(now).Unix(), now.Unix())
	if err != nil {
		return UsageSummary{}, fmt.Errorf("usage summary: %w", err)
	}

	records := make([]UsageRecord, len(rows))
	for i, r := range rows {
		records[i] = r.UsageRecord
		records[i].At = time.Unix(r.CreatedAt, 0).In(now.Location())
	}
	return summarize(records, now), nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// expand rewrites IN (?) placeholders for slice arguments.
func (s *SQLiteStore) expand(query string, args ...any) (string, []any, error) {
	if !strings.Contains(query, "IN (?)") {
		return query, args, nil
	}
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return s.db.Rebind(q), a, nil
}
