package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/btcpulse/btcpulse/pkg/health"
	"github.com/btcpulse/btcpulse/pkg/source"
)

// RunRecord is the persisted diagnostic record of one scoring run.
type RunRecord struct {
	RunID        string        `db:"run_id" json:"run_id"`
	AsOf         int64         `db:"as_of" json:"as_of"`
	State        string        `db:"state" json:"state"`
	StartedAt    int64         `db:"started_at" json:"started_at"`
	FinishedAt   int64         `db:"finished_at" json:"finished_at"`
	Scored       int           `db:"scored" json:"scored"`
	SkipsJSON    string        `db:"skips" json:"-"`
	WarningsJSON string        `db:"warnings" json:"-"`
	Skips        []health.Skip `db:"-" json:"skips"`
	Warnings     []string      `db:"-" json:"warnings"`
}

// CollectorStatus tracks the health of one collector.
type CollectorStatus struct {
	Collector           string         `db:"collector" json:"collector"`
	LastRun             int64          `db:"last_run" json:"last_run"`
	LastSuccess         sql.NullInt64  `db:"last_success" json:"-"`
	LastError           sql.NullString `db:"last_error" json:"-"`
	ConsecutiveFailures int            `db:"consecutive_failures" json:"consecutive_failures"`
}

// Store is the persistence interface. The scoring core only uses the narrow
// read/write slices it declares itself; the rest serves collectors, the
// scheduler and the HTTP API.
type Store interface {
	health.SampleSource
	health.DefinitionSource
	health.ScoreHistory
	health.RunWriter

	UpsertSample(ctx context.Context, s source.Sample) error
	UpsertSamples(ctx context.Context, samples []source.Sample) error
	UpsertPoolShares(ctx context.Context, shares []source.PoolShare) error
	RecentPoolShares(ctx context.Context, since int64) ([]source.PoolShare, error)

	ReplaceDefinitions(ctx context.Context, c health.Catalog) error

	LatestScore(ctx context.Context, kind health.ScoreKind, id string) (*health.Score, error)
	LatestScores(ctx context.Context, kind health.ScoreKind) ([]health.Score, error)
	ScoreSeries(ctx context.Context, kind health.ScoreKind, id string, from, to int64) ([]health.Score, error)
	LatestSnapshot(ctx context.Context, metricID string) (*health.Snapshot, error)
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)

	UpdateCollectorStatus(ctx context.Context, collector string, runErr error) error
	CollectorStatus(ctx context.Context) ([]CollectorStatus, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertSample(ctx context.Context, smp source.Sample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO samples (metric_id, ts, value, unit)
		VALUES (?, ?, ?, ?)
	`, smp.MetricID, smp.TS, smp.Value, smp.Unit)
	if err != nil {
		return fmt.Errorf("upsert sample %s: %w", smp.MetricID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertSamples(ctx context.Context, samples []source.Sample) error {
	for i := range samples {
		if err := s.UpsertSample(ctx, samples[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertPoolShares(ctx context.Context, shares []source.PoolShare) error {
	for _, p := range shares {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO pool_shares (ts, pool, share, blocks)
			VALUES (?, ?, ?, ?)
		`, p.TS, p.Pool, p.Share, p.Blocks)
		if err != nil {
			return fmt.Errorf("upsert pool share %s: %w", p.Pool, err)
		}
	}
	return nil
}

func (s *SQLiteStore) RecentPoolShares(ctx context.Context, since int64) ([]source.PoolShare, error) {
	var shares []source.PoolShare
	err := s.db.SelectContext(ctx, &shares,
		"SELECT * FROM pool_shares WHERE ts >= ? ORDER BY ts DESC, share DESC", since)
	if err != nil {
		return nil, fmt.Errorf("recent pool shares: %w", err)
	}
	return shares, nil
}

func (s *SQLiteStore) MetricIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT DISTINCT metric_id FROM samples ORDER BY metric_id")
	if err != nil {
		return nil, fmt.Errorf("list metric ids: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) History(ctx context.Context, metricID string, from, to int64) ([]source.Sample, error) {
	var samples []source.Sample
	err := s.db.SelectContext(ctx, &samples,
		"SELECT * FROM samples WHERE metric_id = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC",
		metricID, from, to)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", metricID, err)
	}
	return samples, nil
}

func (s *SQLiteStore) Latest(ctx context.Context, metricID string, asOf int64) (*source.Sample, error) {
	var smp source.Sample
	err := s.db.GetContext(ctx, &smp,
		"SELECT * FROM samples WHERE metric_id = ? AND ts <= ? ORDER BY ts DESC LIMIT 1",
		metricID, asOf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest sample %s: %w", metricID, err)
	}
	return &smp, nil
}

func (s *SQLiteStore) ReplaceDefinitions(ctx context.Context, c health.Catalog) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin definitions tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM metric_definitions"); err != nil {
		return fmt.Errorf("clear metric definitions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM pillar_definitions"); err != nil {
		return fmt.Errorf("clear pillar definitions: %w", err)
	}

	for _, p := range c.Pillars {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pillar_definitions (pillar_id, name, weight)
			VALUES (?, ?, ?)
		`, p.ID, p.Name, p.Weight); err != nil {
			return fmt.Errorf("insert pillar %s: %w", p.ID, err)
		}
	}
	for _, m := range c.Metrics {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metric_definitions
			(metric_id, pillar_id, name, description, direction, weight, target_min, target_max)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.PillarID, m.Name, m.Description, string(m.Direction), m.Weight, m.TargetMin, m.TargetMax); err != nil {
			return fmt.Errorf("insert metric %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit definitions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Definitions(ctx context.Context) (health.Catalog, error) {
	var c health.Catalog

	rows, err := s.db.QueryxContext(ctx,
		"SELECT pillar_id, name, weight FROM pillar_definitions ORDER BY pillar_id")
	if err != nil {
		return c, fmt.Errorf("load pillar definitions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p health.PillarDef
		if err := rows.Scan(&p.ID, &p.Name, &p.Weight); err != nil {
			return c, fmt.Errorf("scan pillar definition: %w", err)
		}
		c.Pillars = append(c.Pillars, p)
	}
	if err := rows.Err(); err != nil {
		return c, fmt.Errorf("iterate pillar definitions: %w", err)
	}

	mrows, err := s.db.QueryxContext(ctx, `
		SELECT metric_id, pillar_id, name, description, direction, weight, target_min, target_max
		FROM metric_definitions ORDER BY metric_id`)
	if err != nil {
		return c, fmt.Errorf("load metric definitions: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var m health.MetricDef
		var direction string
		if err := mrows.Scan(&m.ID, &m.PillarID, &m.Name, &m.Description,
			&direction, &m.Weight, &m.TargetMin, &m.TargetMax); err != nil {
			return c, fmt.Errorf("scan metric definition: %w", err)
		}
		m.Direction = health.Direction(direction)
		c.Metrics = append(c.Metrics, m)
	}
	if err := mrows.Err(); err != nil {
		return c, fmt.Errorf("iterate metric definitions: %w", err)
	}

	return c, nil
}

func (s *SQLiteStore) ScoreBetween(ctx context.Context, kind health.ScoreKind, id string, notBefore, atOrBefore int64) (*health.Score, error) {
	var row health.Score
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM scores
		WHERE kind = ? AND id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts DESC LIMIT 1
	`, string(kind), id, notBefore, atOrBefore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("score between %s/%s: %w", kind, id, err)
	}
	return &row, nil
}

func (s *SQLiteStore) LatestScore(ctx context.Context, kind health.ScoreKind, id string) (*health.Score, error) {
	var row health.Score
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM scores WHERE kind = ? AND id = ? ORDER BY ts DESC LIMIT 1",
		string(kind), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest score %s/%s: %w", kind, id, err)
	}
	return &row, nil
}

// LatestScores returns the newest row per id for a kind.
func (s *SQLiteStore) LatestScores(ctx context.Context, kind health.ScoreKind) ([]health.Score, error) {
	var rows []health.Score
	err := s.db.SelectContext(ctx, &rows, `
		SELECT sc.* FROM scores sc
		JOIN (SELECT kind, id, MAX(ts) AS ts FROM scores WHERE kind = ? GROUP BY kind, id) latest
		ON sc.kind = latest.kind AND sc.id = latest.id AND sc.ts = latest.ts
		ORDER BY sc.id
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("latest scores %s: %w", kind, err)
	}
	return rows, nil
}

func (s *SQLiteStore) ScoreSeries(ctx context.Context, kind health.ScoreKind, id string, from, to int64) ([]health.Score, error) {
	var rows []health.Score
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM scores
		WHERE kind = ? AND id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, string(kind), id, from, to)
	if err != nil {
		return nil, fmt.Errorf("score series %s/%s: %w", kind, id, err)
	}
	return rows, nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, metricID string) (*health.Snapshot, error) {
	var snap health.Snapshot
	err := s.db.GetContext(ctx, &snap,
		"SELECT * FROM percentiles WHERE metric_id = ? ORDER BY ts DESC LIMIT 1", metricID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %s: %w", metricID, err)
	}
	return &snap, nil
}

// CommitRun persists everything a scoring run produced in one transaction.
// Readers never observe a partially written run.
func (s *SQLiteStore) CommitRun(ctx context.Context, res *health.RunResult) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer tx.Rollback()

	for _, snap := range res.Snapshots {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO percentiles
			(metric_id, window_days, ts, p10, p25, p50, p75, p90, min_val, max_val)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, snap.MetricID, snap.WindowDays, snap.TS,
			snap.P10, snap.P25, snap.P50, snap.P75, snap.P90, snap.Min, snap.Max); err != nil {
			return fmt.Errorf("insert percentiles %s: %w", snap.MetricID, err)
		}
	}

	for _, sc := range res.Scores {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO scores (kind, id, ts, score, trend_7d, trend_30d)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(sc.Kind), sc.ID, sc.TS, sc.Score, sc.Trend7d, sc.Trend30); err != nil {
			return fmt.Errorf("insert score %s/%s: %w", sc.Kind, sc.ID, err)
		}
	}

	skipsJSON, _ := json.Marshal(res.Skips)
	warningsJSON, _ := json.Marshal(res.Warnings)
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO score_runs
		(run_id, as_of, state, started_at, finished_at, scored, skips, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, res.RunID, res.AsOf, string(health.StatePersisted),
		res.Started.Unix(), time.Now().UTC().Unix(),
		len(res.MetricScores), string(skipsJSON), string(warningsJSON)); err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []RunRecord
	err := s.db.SelectContext(ctx, &runs,
		"SELECT * FROM score_runs ORDER BY as_of DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	for i := range runs {
		json.Unmarshal([]byte(runs[i].SkipsJSON), &runs[i].Skips)
		json.Unmarshal([]byte(runs[i].WarningsJSON), &runs[i].Warnings)
	}
	return runs, nil
}

func (s *SQLiteStore) UpdateCollectorStatus(ctx context.Context, collector string, runErr error) error {
	ts := time.Now().UTC().Unix()
	if runErr == nil {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO collection_status
			(collector, last_run, last_success, last_error, consecutive_failures)
			VALUES (?, ?, ?, NULL, 0)
		`, collector, ts, ts)
		if err != nil {
			return fmt.Errorf("collector status %s: %w", collector, err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_status (collector, last_run, last_error, consecutive_failures)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(collector) DO UPDATE SET
			last_run = excluded.last_run,
			last_error = excluded.last_error,
			consecutive_failures = consecutive_failures + 1
	`, collector, ts, runErr.Error())
	if err != nil {
		return fmt.Errorf("collector status %s: %w", collector, err)
	}
	return nil
}

func (s *SQLiteStore) CollectorStatus(ctx context.Context) ([]CollectorStatus, error) {
	var statuses []CollectorStatus
	err := s.db.SelectContext(ctx, &statuses,
		"SELECT * FROM collection_status ORDER BY collector")
	if err != nil {
		return nil, fmt.Errorf("collector status: %w", err)
	}
	return statuses, nil
}
