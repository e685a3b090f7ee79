package source

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Blockchain collects on-chain series from the Blockchain.com charts API.
type Blockchain struct {
	client  *http.Client
	baseURL string
}

// NewBlockchain creates a new Blockchain.com charts collector.
func NewBlockchain(baseURL string) *Blockchain {
	if baseURL == "" {
		baseURL = "https://api.blockchain.info/charts"
	}
	return &Blockchain{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}
}

func (b *Blockchain) Name() SourceType { return SourceBlockchain }

// chart name -> (metric_id, unit, value scale)
var charts = []struct {
	chart    string
	metricID string
	unit     string
	scale    float64
}{
	{"difficulty", "security.difficulty", "", 1},
	{"hash-rate", "security.hashrate", "H/s", 1e9}, // chart reports GH/s
	{"utxo-count", "adoption.utxo_count", "utxos", 1},
	{"n-transactions", "adoption.tx_rate", "tx/day", 1},
}

func (b *Blockchain) Collect(ctx context.Context) (Batch, error) {
	var batch Batch
	var firstErr error

	for _, c := range charts {
		sample, err := b.fetchLatest(ctx, c.chart, c.metricID, c.unit, c.scale)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("chart %s: %w", c.chart, err)
			}
			continue
		}
		batch.Samples = append(batch.Samples, sample)
	}

	if len(batch.Samples) == 0 && firstErr != nil {
		return batch, firstErr
	}
	return batch, nil
}

func (b *Blockchain) fetchLatest(ctx context.Context, chart, metricID, unit string, scale float64) (Sample, error) {
	var data struct {
		Values []struct {
			X int64   `json:"x"`
			Y float64 `json:"y"`
		} `json:"values"`
	}
	url := fmt.Sprintf("%s/%s?timespan=3days&format=json", b.baseURL, chart)
	if err := getJSON(ctx, b.client, url, &data); err != nil {
		return Sample{}, err
	}
	if len(data.Values) == 0 {
		return Sample{}, fmt.Errorf("empty chart")
	}

	last := data.Values[len(data.Values)-1]
	return Sample{
		MetricID: metricID,
		TS:       last.X,
		Value:    last.Y * scale,
		Unit:     unit,
	}, nil
}
