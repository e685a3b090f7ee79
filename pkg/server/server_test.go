package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcpulse/btcpulse/internal/store"
	"github.com/btcpulse/btcpulse/pkg/health"
	"github.com/btcpulse/btcpulse/pkg/source"
)

func testServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pipeline := health.NewPipeline(db, db, db, db)
	srv := httptest.NewServer(New(db, pipeline, 0).Handler())
	t.Cleanup(srv.Close)
	return srv, db
}

func seedRun(t *testing.T, db *store.SQLiteStore) {
	t.Helper()
	res := &health.RunResult{
		RunID:   "run-1",
		AsOf:    10_000,
		Started: time.Now().UTC(),
		Snapshots: []health.Snapshot{
			{MetricID: "sec.x", WindowDays: 365, TS: 10_000, P50: 3, Max: 6},
		},
		Scores: []health.Score{
			{Kind: health.KindMetric, ID: "sec.x", TS: 10_000, Score: 42},
			{Kind: health.KindPillar, ID: "sec", TS: 10_000, Score: 55},
			{Kind: health.KindOverall, ID: "overall", TS: 10_000, Score: 61},
		},
		MetricScores: map[string]float64{"sec.x": 42},
	}
	if err := db.CommitRun(context.Background(), res); err != nil {
		t.Fatalf("seed run: %v", err)
	}
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("get %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	out := getJSON(t, srv.URL+"/health", http.StatusOK)
	if out["status"] != "ok" {
		t.Errorf("status = %v", out["status"])
	}
}

func TestScoreEndpoint(t *testing.T) {
	srv, db := testServer(t)

	getJSON(t, srv.URL+"/api/v1/score", http.StatusNotFound)

	seedRun(t, db)
	out := getJSON(t, srv.URL+"/api/v1/score", http.StatusOK)
	if out["score"] != 61.0 {
		t.Errorf("score = %v, want 61", out["score"])
	}
	if out["kind"] != "overall" {
		t.Errorf("kind = %v", out["kind"])
	}
}

func TestPillarsEndpoint(t *testing.T) {
	srv, db := testServer(t)
	seedRun(t, db)

	out := getJSON(t, srv.URL+"/api/v1/pillars", http.StatusOK)
	if out["count"] != 1.0 {
		t.Errorf("count = %v", out["count"])
	}
}

func TestMetricEndpoint(t *testing.T) {
	srv, db := testServer(t)
	seedRun(t, db)
	if err := db.UpsertSamples(context.Background(), []source.Sample{
		{MetricID: "sec.x", TS: 9_000, Value: 5},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	out := getJSON(t, srv.URL+"/api/v1/metrics/sec.x", http.StatusOK)
	score, ok := out["score"].(map[string]any)
	if !ok || score["score"] != 42.0 {
		t.Errorf("score = %v", out["score"])
	}
	sample, ok := out["sample"].(map[string]any)
	if !ok || sample["value"] != 5.0 {
		t.Errorf("sample = %v", out["sample"])
	}

	getJSON(t, srv.URL+"/api/v1/metrics/nope", http.StatusNotFound)
}

func TestTimeseriesEndpoint(t *testing.T) {
	srv, db := testServer(t)
	seedRun(t, db)

	out := getJSON(t, srv.URL+"/api/v1/timeseries/overall/overall?from=0&to=20000", http.StatusOK)
	if out["count"] != 1.0 {
		t.Errorf("count = %v", out["count"])
	}

	getJSON(t, srv.URL+"/api/v1/timeseries/bogus/x", http.StatusBadRequest)
}

func TestRunsEndpoint(t *testing.T) {
	srv, db := testServer(t)
	seedRun(t, db)

	out := getJSON(t, srv.URL+"/api/v1/runs", http.StatusOK)
	if out["count"] != 1.0 {
		t.Errorf("count = %v", out["count"])
	}
}
