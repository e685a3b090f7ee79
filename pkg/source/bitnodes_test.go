package source

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMajorAgent(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"/Satoshi:27.1.0/", "Satoshi/27.1"},
		{"/Satoshi:26.0/", "Satoshi/26.0"},
		{"/btcwire:0.5.0/btcd:0.24/", "btcwire/0.5"},
		{"/Knots:28.1/", "Knots/28.1"},
		{"", "Unknown"},
		{"weird", "weird"},
	}
	for _, c := range cases {
		if got := majorAgent(c.in); got != c.out {
			t.Errorf("majorAgent(%q) = %q, want %q", c.in, got, c.out)
		}
	}
}

func TestHHI(t *testing.T) {
	counts := map[string]int{"a": 50, "b": 30, "c": 20}
	got := hhi(counts, 100)
	if want := 0.25 + 0.09 + 0.04; math.Abs(got-want) > 1e-9 {
		t.Errorf("hhi = %v, want %v", got, want)
	}
}

func TestTopShare(t *testing.T) {
	counts := map[string]int{"a": 40, "b": 30, "c": 20, "d": 10}
	if got := topShare(counts, 100, 3); math.Abs(got-0.9) > 1e-9 {
		t.Errorf("top3 = %v, want 0.9", got)
	}
	// n larger than the population.
	if got := topShare(counts, 100, 10); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("top10 = %v, want 1.0", got)
	}
}

func TestNormalizedEntropy(t *testing.T) {
	// Uniform distribution maximizes entropy.
	uniform := map[string]int{"a": 25, "b": 25, "c": 25, "d": 25}
	if got := normalizedEntropy(uniform); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("uniform entropy = %v, want 1.0", got)
	}

	// A single client has zero entropy.
	if got := normalizedEntropy(map[string]int{"a": 100}); got != 0 {
		t.Errorf("single-client entropy = %v, want 0", got)
	}
}

func TestBitnodesCollect(t *testing.T) {
	node := func(agent, asn string) []any {
		return []any{70016, agent, 1_600_000_000, 3081, 800_000, "host", "", "US", 0.0, 0.0, "UTC", asn, "Org"}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapshots/latest/" {
			http.NotFound(w, r)
			return
		}
		resp := map[string]any{
			"total_nodes": 4,
			"nodes": map[string]any{
				"1.2.3.4:8333":      node("/Satoshi:27.1.0/", "AS1"),
				"5.6.7.8:8333":      node("/Satoshi:27.1.0/", "AS1"),
				"9.9.9.9:8333":      node("/Knots:28.1.0/", "AS2"),
				"abcdef.onion:8333": node("/Satoshi:26.0.0/", "TOR"),
			},
		}
		fmt.Fprint(w, mustJSON(resp))
	}))
	defer srv.Close()

	batch, err := NewBitnodes(srv.URL).Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	values := sampleMap(batch.Samples)
	if values["network.reachable_nodes"] != 4 {
		t.Errorf("reachable = %v", values["network.reachable_nodes"])
	}
	if math.Abs(values["decent.tor_share"]-0.25) > 1e-9 {
		t.Errorf("tor share = %v, want 0.25", values["decent.tor_share"])
	}
	// ASNs: AS1 x2, AS2 x1, TOR x1 -> HHI = 0.25 + 0.0625 + 0.0625.
	if want := 0.375; math.Abs(values["decent.node_asn_hhi"]-want) > 1e-9 {
		t.Errorf("asn hhi = %v, want %v", values["decent.node_asn_hhi"], want)
	}
	if _, ok := values["decent.client_entropy"]; !ok {
		t.Error("client entropy missing")
	}
}
