package source

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Bitnodes collects reachable-node statistics from the Bitnodes snapshot API
// and reduces them to decentralization metrics: ASN concentration, Tor share,
// and client version entropy.
type Bitnodes struct {
	client  *http.Client
	baseURL string
}

// NewBitnodes creates a new Bitnodes collector.
func NewBitnodes(baseURL string) *Bitnodes {
	if baseURL == "" {
		baseURL = "https://bitnodes.io/api/v1"
	}
	return &Bitnodes{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
	}
}

func (b *Bitnodes) Name() SourceType { return SourceBitnodes }

func (b *Bitnodes) Collect(ctx context.Context) (Batch, error) {
	// Node entries are positional arrays:
	// [protocol, user_agent, connected_since, services, height, hostname, city, country, lat, lon, tz, asn, org]
	var snapshot struct {
		TotalNodes int              `json:"total_nodes"`
		Nodes      map[string][]any `json:"nodes"`
	}
	if err := getJSON(ctx, b.client, b.baseURL+"/snapshots/latest/", &snapshot); err != nil {
		return Batch{}, err
	}

	ts := now()
	total := len(snapshot.Nodes)
	if total == 0 {
		return Batch{}, nil
	}

	asnCounts := make(map[string]int)
	agentCounts := make(map[string]int)
	torNodes := 0

	for addr, info := range snapshot.Nodes {
		asn := fieldString(info, 11)
		if asn == "" {
			asn = "Unknown"
		}
		if asn == "TOR" || strings.Contains(addr, ".onion") {
			torNodes++
			asn = "TOR"
		}
		asnCounts[asn]++

		agent := majorAgent(fieldString(info, 1))
		agentCounts[agent]++
	}

	batch := Batch{Samples: []Sample{
		{MetricID: "network.reachable_nodes", TS: ts, Value: float64(total), Unit: "nodes"},
		{MetricID: "decent.node_asn_hhi", TS: ts, Value: hhi(asnCounts, total)},
		{MetricID: "decent.node_asn_top3", TS: ts, Value: topShare(asnCounts, total, 3)},
		{MetricID: "decent.tor_share", TS: ts, Value: float64(torNodes) / float64(total)},
		{MetricID: "decent.client_entropy", TS: ts, Value: normalizedEntropy(agentCounts)},
	}}
	return batch, nil
}

func fieldString(info []any, idx int) string {
	if idx >= len(info) {
		return ""
	}
	s, _ := info[idx].(string)
	return s
}

// majorAgent reduces a user agent like "/Satoshi:27.1.0/" to "Satoshi/27.1".
func majorAgent(agent string) string {
	agent = strings.Trim(agent, "/")
	if agent == "" {
		return "Unknown"
	}
	name, version, ok := strings.Cut(agent, ":")
	if !ok {
		return agent
	}
	parts := strings.SplitN(version, ".", 3)
	if len(parts) >= 2 {
		version = parts[0] + "." + parts[1]
	}
	return name + "/" + version
}

func hhi(counts map[string]int, total int) float64 {
	var sum float64
	for _, c := range counts {
		share := float64(c) / float64(total)
		sum += share * share
	}
	return sum
}

func topShare(counts map[string]int, total, n int) float64 {
	values := make([]int, 0, len(counts))
	for _, c := range counts {
		values = append(values, c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(values)))
	if n > len(values) {
		n = len(values)
	}
	top := 0
	for _, c := range values[:n] {
		top += c
	}
	return float64(top) / float64(total)
}

// normalizedEntropy returns the Shannon entropy of the distribution divided by
// its maximum (log2 of the number of distinct keys), in [0,1].
func normalizedEntropy(counts map[string]int) float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 || len(counts) < 2 {
		return 0
	}
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy / math.Log2(float64(len(counts)))
}
