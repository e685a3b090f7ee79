package health

import (
	"fmt"
	"math"
	"sort"
)

// Direction declares how a raw metric value relates to network health.
type Direction string

const (
	HigherBetter Direction = "higher_better"
	LowerBetter  Direction = "lower_better"
	TargetBand   Direction = "target_band"
)

// MetricDef describes one scored metric.
type MetricDef struct {
	ID          string    `db:"metric_id" json:"metric_id"`
	PillarID    string    `db:"pillar_id" json:"pillar_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Direction   Direction `db:"direction" json:"direction"`
	Weight      float64   `db:"weight" json:"weight"`
	// Target band bounds, meaningful only when Direction == TargetBand.
	TargetMin *float64 `db:"target_min" json:"target_min,omitempty"`
	TargetMax *float64 `db:"target_max" json:"target_max,omitempty"`
}

// PillarDef describes one pillar of the overall score.
type PillarDef struct {
	ID     string  `db:"pillar_id" json:"pillar_id"`
	Name   string  `db:"name" json:"name"`
	Weight float64 `db:"weight" json:"weight"`
}

// Catalog is the full weight table: all pillars and all metric definitions.
// It is loaded once per scoring run and passed explicitly; components never
// read definitions from ambient state.
type Catalog struct {
	Pillars []PillarDef
	Metrics []MetricDef
}

// Metric returns the definition for a metric id.
func (c Catalog) Metric(id string) (MetricDef, bool) {
	for _, m := range c.Metrics {
		if m.ID == id {
			return m, true
		}
	}
	return MetricDef{}, false
}

// PillarMetrics returns the metrics of one pillar sorted by id.
func (c Catalog) PillarMetrics(pillarID string) []MetricDef {
	var out []MetricDef
	for _, m := range c.Metrics {
		if m.PillarID == pillarID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortedPillars returns pillars sorted by id for a stable aggregation order.
func (c Catalog) SortedPillars() []PillarDef {
	out := make([]PillarDef, len(c.Pillars))
	copy(out, c.Pillars)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate checks the weight table invariants: pillar weights sum to 1,
// metric weights lie in (0,1], directions are known, target bands are ordered,
// and every metric references a defined pillar.
func (c Catalog) Validate() error {
	if len(c.Pillars) == 0 {
		return fmt.Errorf("catalog: no pillars defined")
	}

	pillarIDs := make(map[string]bool, len(c.Pillars))
	var pillarWeight float64
	for _, p := range c.Pillars {
		if p.ID == "" {
			return fmt.Errorf("catalog: pillar with empty id")
		}
		if pillarIDs[p.ID] {
			return fmt.Errorf("catalog: duplicate pillar %s", p.ID)
		}
		pillarIDs[p.ID] = true
		if p.Weight <= 0 || p.Weight > 1 {
			return fmt.Errorf("catalog: pillar %s weight %v outside (0,1]", p.ID, p.Weight)
		}
		pillarWeight += p.Weight
	}
	if math.Abs(pillarWeight-1.0) > 1e-9 {
		return fmt.Errorf("catalog: pillar weights sum to %v, want 1.0", pillarWeight)
	}

	metricIDs := make(map[string]bool, len(c.Metrics))
	for _, m := range c.Metrics {
		if m.ID == "" {
			return fmt.Errorf("catalog: metric with empty id")
		}
		if metricIDs[m.ID] {
			return fmt.Errorf("catalog: duplicate metric %s", m.ID)
		}
		metricIDs[m.ID] = true
		if !pillarIDs[m.PillarID] {
			return fmt.Errorf("catalog: metric %s references unknown pillar %s", m.ID, m.PillarID)
		}
		if m.Weight <= 0 || m.Weight > 1 {
			return fmt.Errorf("catalog: metric %s weight %v outside (0,1]", m.ID, m.Weight)
		}
		switch m.Direction {
		case HigherBetter, LowerBetter:
		case TargetBand:
			if m.TargetMin == nil || m.TargetMax == nil {
				return fmt.Errorf("catalog: metric %s is target_band without bounds", m.ID)
			}
			if *m.TargetMin >= *m.TargetMax {
				return fmt.Errorf("catalog: metric %s target band [%v,%v] is empty", m.ID, *m.TargetMin, *m.TargetMax)
			}
		default:
			return fmt.Errorf("catalog: metric %s has unknown direction %q", m.ID, m.Direction)
		}
	}
	return nil
}

func band(lo, hi float64) (*float64, *float64) { return &lo, &hi }

// DefaultCatalog returns the built-in weight table for the Bitcoin network
// health scorecard: five pillars whose weights sum to 1.0.
func DefaultCatalog() Catalog {
	rbfMin, rbfMax := band(2, 15)

	return Catalog{
		Pillars: []PillarDef{
			{ID: "security", Name: "Security", Weight: 0.30},
			{ID: "decent", Name: "Decentralization", Weight: 0.25},
			{ID: "throughput", Name: "Throughput", Weight: 0.15},
			{ID: "adoption", Name: "Adoption", Weight: 0.15},
			{ID: "lightning", Name: "Lightning", Weight: 0.15},
		},
		Metrics: []MetricDef{
			// Security
			{ID: "security.hashprice", PillarID: "security", Name: "Hashprice",
				Description: "Mining revenue in USD per TH/s per day", Direction: HigherBetter, Weight: 0.30},
			{ID: "security.fee_share", PillarID: "security", Name: "Fee share",
				Description: "Fee share of total miner revenue", Direction: HigherBetter, Weight: 0.25},
			{ID: "security.difficulty_momentum", PillarID: "security", Name: "Difficulty momentum",
				Description: "Stability of the next difficulty adjustment", Direction: HigherBetter, Weight: 0.20},
			{ID: "security.stale_30d", PillarID: "security", Name: "Stale blocks (30d)",
				Description: "Stale block candidates in the last 30 days", Direction: LowerBetter, Weight: 0.25},

			// Decentralization
			{ID: "decent.pool_hhi", PillarID: "decent", Name: "Pool HHI",
				Description: "Mining pool Herfindahl-Hirschman index", Direction: LowerBetter, Weight: 0.30},
			{ID: "decent.pool_top3", PillarID: "decent", Name: "Top-3 pool share",
				Description: "Hashrate share of the three largest pools", Direction: LowerBetter, Weight: 0.15},
			{ID: "decent.node_asn_hhi", PillarID: "decent", Name: "Node ASN HHI",
				Description: "Reachable-node concentration across ASNs", Direction: LowerBetter, Weight: 0.25},
			{ID: "decent.client_entropy", PillarID: "decent", Name: "Client entropy",
				Description: "Normalized entropy of node client versions", Direction: HigherBetter, Weight: 0.15},
			{ID: "decent.tor_share", PillarID: "decent", Name: "Tor share",
				Description: "Share of reachable nodes behind Tor", Direction: HigherBetter, Weight: 0.15},

			// Throughput
			{ID: "throughput.mempool_vsize", PillarID: "throughput", Name: "Mempool size",
				Description: "Pending transaction weight in vbytes", Direction: LowerBetter, Weight: 0.40},
			{ID: "fees.halfhour", PillarID: "throughput", Name: "30-minute fee rate",
				Description: "Fee rate for half-hour confirmation", Direction: LowerBetter, Weight: 0.30},
			{ID: "fees.fast", PillarID: "throughput", Name: "Fast fee rate",
				Description: "Fee rate for next-block confirmation", Direction: LowerBetter, Weight: 0.30},

			// Adoption
			{ID: "adoption.utxo_count", PillarID: "adoption", Name: "UTXO count",
				Description: "Total unspent transaction outputs", Direction: HigherBetter, Weight: 0.30},
			{ID: "adoption.tx_rate", PillarID: "adoption", Name: "Transaction rate",
				Description: "Confirmed transactions per day", Direction: HigherBetter, Weight: 0.20},
			{ID: "adoption.segwit_usage", PillarID: "adoption", Name: "SegWit usage",
				Description: "SegWit share of recent transactions", Direction: HigherBetter, Weight: 0.25},
			{ID: "adoption.rbf_activity", PillarID: "adoption", Name: "RBF activity",
				Description: "Replace-by-fee share of recent transactions", Direction: TargetBand,
				Weight: 0.25, TargetMin: rbfMin, TargetMax: rbfMax},

			// Lightning
			{ID: "lightning.capacity_growth", PillarID: "lightning", Name: "Capacity growth",
				Description: "30-day Lightning capacity growth", Direction: HigherBetter, Weight: 0.40},
			{ID: "lightning.channel_growth", PillarID: "lightning", Name: "Channel growth",
				Description: "30-day Lightning channel growth", Direction: HigherBetter, Weight: 0.30},
			{ID: "lightning.node_count", PillarID: "lightning", Name: "Lightning nodes",
				Description: "Lightning network node count", Direction: HigherBetter, Weight: 0.30},
		},
	}
}
