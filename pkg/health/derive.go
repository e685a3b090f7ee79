package health

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/btcpulse/btcpulse/pkg/source"
)

// Current block subsidy in BTC. Update after the next halving.
const blockSubsidyBTC = 3.125

const blocksPerDay = 144

// DeriveStore is what the deriver needs from storage: sample reads, pool
// share reads, and sample writes for the derived series.
type DeriveStore interface {
	Latest(ctx context.Context, metricID string, asOf int64) (*source.Sample, error)
	RecentPoolShares(ctx context.Context, since int64) ([]source.PoolShare, error)
	UpsertSamples(ctx context.Context, samples []source.Sample) error
}

// Deriver computes second-order metrics from raw samples: hashprice, fee
// share, pool concentration, difficulty momentum, lightning growth. It runs
// after collection and before scoring so derived series get normalized like
// any other metric.
type Deriver struct {
	store DeriveStore
}

// NewDeriver creates a deriver over the given store.
func NewDeriver(s DeriveStore) *Deriver {
	return &Deriver{store: s}
}

// DeriveAll computes every derived metric as of the given timestamp. Each
// formula is independent; one missing input skips that formula only. Returns
// the ids that were produced.
func (d *Deriver) DeriveAll(ctx context.Context, asOf int64) ([]string, error) {
	var produced []string
	var samples []source.Sample

	formulas := []struct {
		name string
		fn   func(context.Context, int64) ([]source.Sample, error)
	}{
		{"hashprice", d.hashprice},
		{"fee_share", d.feeShare},
		{"pool_concentration", d.poolConcentration},
		{"difficulty_momentum", d.difficultyMomentum},
		{"lightning_growth", d.lightningGrowth},
	}

	for _, f := range formulas {
		out, err := f.fn(ctx, asOf)
		if err != nil {
			// Missing inputs are expected early in a deployment's life.
			continue
		}
		samples = append(samples, out...)
		for _, s := range out {
			produced = append(produced, s.MetricID)
		}
	}

	if len(samples) == 0 {
		return nil, nil
	}
	if err := d.store.UpsertSamples(ctx, samples); err != nil {
		return nil, fmt.Errorf("persist derived samples: %w", err)
	}
	return produced, nil
}

// hashprice computes mining revenue in USD per TH/s per day from difficulty,
// average block fees and the BTC price:
//
//	hashrate = difficulty * 2^32 / 600
//	daily revenue = 144 * (subsidy + avg fee) * price
//	hashprice = daily revenue / daily hashes, scaled to TH
func (d *Deriver) hashprice(ctx context.Context, asOf int64) ([]source.Sample, error) {
	difficulty, err := d.latestValue(ctx, "security.difficulty", asOf)
	if err != nil {
		return nil, err
	}
	price, err := d.latestValue(ctx, "price.btc_usd", asOf)
	if err != nil {
		return nil, err
	}
	avgFee, err := d.latestValue(ctx, "mining.avg_block_fee", asOf)
	if err != nil {
		// Fees are a small share of revenue; subsidy-only is close enough
		// when the fee series has not been collected yet.
		avgFee = 0
	}
	if difficulty <= 0 || price <= 0 {
		return nil, fmt.Errorf("hashprice: non-positive inputs")
	}

	hashesPerSecond := difficulty * math.Pow(2, 32) / 600
	dailyHashes := hashesPerSecond * secondsPerDay
	dailyRevenueUSD := blocksPerDay * (blockSubsidyBTC + avgFee) * price
	hashpriceUSD := dailyRevenueUSD / dailyHashes * 1e12

	return []source.Sample{
		{MetricID: "security.hashprice", TS: asOf, Value: hashpriceUSD, Unit: "USD/TH/day"},
	}, nil
}

// feeShare computes the fee share of total miner revenue per block.
func (d *Deriver) feeShare(ctx context.Context, asOf int64) ([]source.Sample, error) {
	avgFee, err := d.latestValue(ctx, "mining.avg_block_fee", asOf)
	if err != nil {
		return nil, err
	}
	total := avgFee + blockSubsidyBTC
	if total <= 0 {
		return nil, fmt.Errorf("fee share: non-positive revenue")
	}
	return []source.Sample{
		{MetricID: "security.fee_share", TS: asOf, Value: avgFee / total},
	}, nil
}

// poolConcentration computes the Herfindahl-Hirschman index and top-3 share
// of the most recent mining pool snapshot within the last 24 hours.
func (d *Deriver) poolConcentration(ctx context.Context, asOf int64) ([]source.Sample, error) {
	shares, err := d.store.RecentPoolShares(ctx, asOf-secondsPerDay)
	if err != nil {
		return nil, err
	}
	if len(shares) == 0 {
		return nil, fmt.Errorf("pool concentration: no pool shares")
	}

	// Keep only the newest snapshot.
	var latestTS int64
	for _, s := range shares {
		if s.TS > latestTS {
			latestTS = s.TS
		}
	}
	var values []float64
	var total float64
	for _, s := range shares {
		if s.TS == latestTS {
			values = append(values, s.Share)
			total += s.Share
		}
	}
	if total <= 0 {
		return nil, fmt.Errorf("pool concentration: zero total share")
	}

	var hhi float64
	for i := range values {
		values[i] /= total
		hhi += values[i] * values[i]
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	n := 3
	if n > len(values) {
		n = len(values)
	}
	var top3 float64
	for _, v := range values[:n] {
		top3 += v
	}

	return []source.Sample{
		{MetricID: "decent.pool_hhi", TS: asOf, Value: hhi},
		{MetricID: "decent.pool_top3", TS: asOf, Value: top3},
	}, nil
}

// difficultyMomentum maps the estimated difficulty adjustment magnitude to a
// stability tier: small swings are healthy, large swings indicate hashrate
// instability.
func (d *Deriver) difficultyMomentum(ctx context.Context, asOf int64) ([]source.Sample, error) {
	change, err := d.latestValue(ctx, "security.difficulty_change", asOf)
	if err != nil {
		return nil, err
	}

	magnitude := math.Abs(change)
	var momentum float64
	switch {
	case magnitude < 5:
		momentum = 1.0
	case magnitude < 10:
		momentum = 0.75
	case magnitude < 20:
		momentum = 0.5
	case magnitude < 40:
		momentum = 0.25
	default:
		momentum = 0
	}

	return []source.Sample{
		{MetricID: "security.difficulty_momentum", TS: asOf, Value: momentum},
	}, nil
}

// lightningGrowth computes 30-day growth rates of lightning capacity and
// channel count.
func (d *Deriver) lightningGrowth(ctx context.Context, asOf int64) ([]source.Sample, error) {
	var out []source.Sample

	for metric, growthID := range map[string]string{
		"lightning.capacity_btc": "lightning.capacity_growth",
		"lightning.channels":     "lightning.channel_growth",
	} {
		current, err := d.latestValue(ctx, metric, asOf)
		if err != nil {
			continue
		}
		past, err := d.latestValue(ctx, metric, asOf-30*secondsPerDay)
		if err != nil || past <= 0 {
			continue
		}
		out = append(out, source.Sample{
			MetricID: growthID,
			TS:       asOf,
			Value:    (current - past) / past,
		})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("lightning growth: no history")
	}
	// Map iteration order is random; keep the output deterministic.
	sort.Slice(out, func(i, j int) bool { return out[i].MetricID < out[j].MetricID })
	return out, nil
}

func (d *Deriver) latestValue(ctx context.Context, metricID string, asOf int64) (float64, error) {
	s, err := d.store.Latest(ctx, metricID, asOf)
	if err != nil {
		return 0, err
	}
	if s == nil {
		return 0, fmt.Errorf("%s: no sample", metricID)
	}
	return s.Value, nil
}
