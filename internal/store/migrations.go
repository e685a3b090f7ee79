package store

const schema = `
CREATE TABLE IF NOT EXISTS samples (
    metric_id TEXT NOT NULL,
    ts        INTEGER NOT NULL,
    value     REAL NOT NULL,
    unit      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (metric_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(ts);

CREATE TABLE IF NOT EXISTS percentiles (
    metric_id   TEXT NOT NULL,
    window_days INTEGER NOT NULL,
    ts          INTEGER NOT NULL,
    p10         REAL NOT NULL,
    p25         REAL NOT NULL,
    p50         REAL NOT NULL,
    p75         REAL NOT NULL,
    p90         REAL NOT NULL,
    min_val     REAL NOT NULL,
    max_val     REAL NOT NULL,
    PRIMARY KEY (metric_id, window_days, ts)
);

CREATE TABLE IF NOT EXISTS scores (
    kind      TEXT NOT NULL,
    id        TEXT NOT NULL,
    ts        INTEGER NOT NULL,
    score     REAL NOT NULL,
    trend_7d  REAL,
    trend_30d REAL,
    PRIMARY KEY (kind, id, ts)
);

CREATE INDEX IF NOT EXISTS idx_scores_kind_ts ON scores(kind, ts);

CREATE TABLE IF NOT EXISTS pillar_definitions (
    pillar_id TEXT PRIMARY KEY,
    name      TEXT NOT NULL,
    weight    REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS metric_definitions (
    metric_id   TEXT PRIMARY KEY,
    pillar_id   TEXT NOT NULL REFERENCES pillar_definitions(pillar_id),
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    direction   TEXT NOT NULL,
    weight      REAL NOT NULL,
    target_min  REAL,
    target_max  REAL
);

CREATE TABLE IF NOT EXISTS pool_shares (
    ts     INTEGER NOT NULL,
    pool   TEXT NOT NULL,
    share  REAL NOT NULL,
    blocks INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (ts, pool)
);

CREATE TABLE IF NOT EXISTS score_runs (
    run_id      TEXT PRIMARY KEY,
    as_of       INTEGER NOT NULL,
    state       TEXT NOT NULL,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    scored      INTEGER NOT NULL DEFAULT 0,
    skips       TEXT NOT NULL DEFAULT '[]',
    warnings    TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_score_runs_as_of ON score_runs(as_of);

CREATE TABLE IF NOT EXISTS collection_status (
    collector            TEXT PRIMARY KEY,
    last_run             INTEGER NOT NULL,
    last_success         INTEGER,
    last_error           TEXT,
    consecutive_failures INTEGER NOT NULL DEFAULT 0
);
`
