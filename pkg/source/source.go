package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SourceType identifies which upstream API a sample came from.
type SourceType string

const (
	SourceMempool     SourceType = "mempool"
	SourceBitnodes    SourceType = "bitnodes"
	SourceCoinGecko   SourceType = "coingecko"
	SourceBlockchain  SourceType = "blockchain"
	SourceForkMonitor SourceType = "forkmonitor"
)

// Sample is one raw metric observation. One row per (metric_id, ts);
// re-collection at the same timestamp overwrites.
type Sample struct {
	MetricID string  `json:"metric_id" db:"metric_id"`
	TS       int64   `json:"ts" db:"ts"`
	Value    float64 `json:"value" db:"value"`
	Unit     string  `json:"unit,omitempty" db:"unit"`
}

// PoolShare is one mining pool's share of recent blocks at a point in time.
type PoolShare struct {
	TS     int64   `json:"ts" db:"ts"`
	Pool   string  `json:"pool" db:"pool"`
	Share  float64 `json:"share" db:"share"`
	Blocks int     `json:"blocks" db:"blocks"`
}

// Batch is everything a collector produced in one pass.
type Batch struct {
	Samples    []Sample
	PoolShares []PoolShare
}

// Source is the interface every collector must implement.
type Source interface {
	Name() SourceType
	Collect(ctx context.Context) (Batch, error)
}

// AllSourceTypes returns all known source types.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceMempool,
		SourceBitnodes,
		SourceCoinGecko,
		SourceBlockchain,
		SourceForkMonitor,
	}
}

const userAgent = "btcpulse/1.0"

// getJSON fetches a URL and decodes the JSON response into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s status %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func now() int64 { return time.Now().UTC().Unix() }
