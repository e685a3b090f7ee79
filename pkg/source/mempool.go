package source

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Mempool collects mempool, fee, mining and lightning data from the
// mempool.space REST API.
type Mempool struct {
	client  *http.Client
	baseURL string
}

// NewMempool creates a new mempool.space collector.
func NewMempool(baseURL string) *Mempool {
	if baseURL == "" {
		baseURL = "https://mempool.space/api"
	}
	return &Mempool{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}
}

func (m *Mempool) Name() SourceType { return SourceMempool }

func (m *Mempool) Collect(ctx context.Context) (Batch, error) {
	var batch Batch
	ts := now()

	var errs []error
	collect := func(name string, fn func(context.Context, int64, *Batch) error) {
		if err := fn(ctx, ts, &batch); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	collect("mempool", m.collectMempool)
	collect("fees", m.collectFees)
	collect("difficulty", m.collectDifficulty)
	collect("pools", m.collectPools)
	collect("rewards", m.collectRewards)
	collect("lightning", m.collectLightning)
	collect("blocks", m.collectBlocks)

	// Partial results are still useful; report the first error only when
	// nothing was collected at all.
	if len(batch.Samples) == 0 && len(batch.PoolShares) == 0 && len(errs) > 0 {
		return batch, errs[0]
	}
	return batch, nil
}

func (m *Mempool) collectMempool(ctx context.Context, ts int64, batch *Batch) error {
	var data struct {
		Count    int     `json:"count"`
		VSize    float64 `json:"vsize"`
		TotalFee float64 `json:"total_fee"`
	}
	if err := getJSON(ctx, m.client, m.baseURL+"/mempool", &data); err != nil {
		return err
	}
	batch.Samples = append(batch.Samples,
		Sample{MetricID: "throughput.mempool_vsize", TS: ts, Value: data.VSize, Unit: "vB"},
		Sample{MetricID: "throughput.mempool_count", TS: ts, Value: float64(data.Count), Unit: "tx"},
	)
	return nil
}

func (m *Mempool) collectFees(ctx context.Context, ts int64, batch *Batch) error {
	var data struct {
		Fastest  float64 `json:"fastestFee"`
		HalfHour float64 `json:"halfHourFee"`
		Hour     float64 `json:"hourFee"`
		Economy  float64 `json:"economyFee"`
	}
	if err := getJSON(ctx, m.client, m.baseURL+"/v1/fees/recommended", &data); err != nil {
		return err
	}
	batch.Samples = append(batch.Samples,
		Sample{MetricID: "fees.fast", TS: ts, Value: data.Fastest, Unit: "sat/vB"},
		Sample{MetricID: "fees.halfhour", TS: ts, Value: data.HalfHour, Unit: "sat/vB"},
		Sample{MetricID: "fees.hour", TS: ts, Value: data.Hour, Unit: "sat/vB"},
		Sample{MetricID: "fees.economy", TS: ts, Value: data.Economy, Unit: "sat/vB"},
	)
	return nil
}

func (m *Mempool) collectDifficulty(ctx context.Context, ts int64, batch *Batch) error {
	var data struct {
		DifficultyChange float64 `json:"difficultyChange"`
		ProgressPercent  float64 `json:"progressPercent"`
	}
	if err := getJSON(ctx, m.client, m.baseURL+"/v1/difficulty-adjustment", &data); err != nil {
		return err
	}
	batch.Samples = append(batch.Samples,
		Sample{MetricID: "security.difficulty_change", TS: ts, Value: data.DifficultyChange, Unit: "%"},
	)
	return nil
}

func (m *Mempool) collectPools(ctx context.Context, ts int64, batch *Batch) error {
	var data struct {
		Pools []struct {
			Name       string  `json:"name"`
			Share      float64 `json:"share"`
			BlockCount int     `json:"blockCount"`
		} `json:"pools"`
	}
	if err := getJSON(ctx, m.client, m.baseURL+"/v1/mining/pools/1d", &data); err != nil {
		return err
	}
	for _, p := range data.Pools {
		name := p.Name
		if name == "" {
			name = "Unknown"
		}
		batch.PoolShares = append(batch.PoolShares, PoolShare{
			TS:     ts,
			Pool:   name,
			Share:  p.Share,
			Blocks: p.BlockCount,
		})
	}
	return nil
}

func (m *Mempool) collectRewards(ctx context.Context, ts int64, batch *Batch) error {
	// Reward stats over the last 144 blocks, roughly one day.
	var data struct {
		StartBlock int    `json:"startBlock"`
		EndBlock   int    `json:"endBlock"`
		TotalFee   string `json:"totalFee"`
	}
	if err := getJSON(ctx, m.client, m.baseURL+"/v1/mining/reward-stats/144", &data); err != nil {
		return err
	}
	blocks := data.EndBlock - data.StartBlock + 1
	if blocks <= 0 {
		return fmt.Errorf("reward stats: empty block range")
	}
	var totalFeeSats float64
	if _, err := fmt.Sscanf(data.TotalFee, "%f", &totalFeeSats); err != nil {
		return fmt.Errorf("reward stats: parse total fee %q: %w", data.TotalFee, err)
	}
	avgFeeBTC := totalFeeSats / float64(blocks) / 1e8
	batch.Samples = append(batch.Samples,
		Sample{MetricID: "mining.avg_block_fee", TS: ts, Value: avgFeeBTC, Unit: "BTC"},
	)
	return nil
}

func (m *Mempool) collectLightning(ctx context.Context, ts int64, batch *Batch) error {
	var data struct {
		Latest struct {
			ChannelCount  int     `json:"channel_count"`
			NodeCount     int     `json:"node_count"`
			TotalCapacity float64 `json:"total_capacity"`
		} `json:"latest"`
	}
	if err := getJSON(ctx, m.client, m.baseURL+"/v1/lightning/statistics/latest", &data); err != nil {
		return err
	}
	batch.Samples = append(batch.Samples,
		Sample{MetricID: "lightning.capacity_btc", TS: ts, Value: data.Latest.TotalCapacity / 1e8, Unit: "BTC"},
		Sample{MetricID: "lightning.channels", TS: ts, Value: float64(data.Latest.ChannelCount)},
		Sample{MetricID: "lightning.node_count", TS: ts, Value: float64(data.Latest.NodeCount)},
	)
	return nil
}

func (m *Mempool) collectBlocks(ctx context.Context, ts int64, batch *Batch) error {
	var blocks []struct {
		TxCount int `json:"tx_count"`
		Extras  struct {
			SegwitTotalTxs int `json:"segwitTotalTxs"`
		} `json:"extras"`
	}
	if err := getJSON(ctx, m.client, m.baseURL+"/v1/blocks", &blocks); err != nil {
		return err
	}

	totalTx, segwitTx := 0, 0
	for _, b := range blocks {
		totalTx += b.TxCount
		segwitTx += b.Extras.SegwitTotalTxs
	}
	if totalTx > 0 {
		batch.Samples = append(batch.Samples,
			Sample{MetricID: "adoption.segwit_usage", TS: ts, Value: float64(segwitTx) / float64(totalTx) * 100, Unit: "%"},
		)
	}

	// Replace-by-fee activity relative to recent block throughput.
	var replacements []struct {
		Mined bool `json:"mined"`
	}
	if err := getJSON(ctx, m.client, m.baseURL+"/v1/replacements", &replacements); err != nil {
		return err
	}
	if totalTx > 0 {
		batch.Samples = append(batch.Samples,
			Sample{MetricID: "adoption.rbf_activity", TS: ts, Value: float64(len(replacements)) / float64(totalTx) * 100, Unit: "%"},
		)
	}
	return nil
}
