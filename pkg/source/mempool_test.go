package source

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func mempoolTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/mempool", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count": 45000, "vsize": 12000000, "total_fee": 5e8}`)
	})
	mux.HandleFunc("/v1/fees/recommended", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"fastestFee": 12, "halfHourFee": 8, "hourFee": 5, "economyFee": 2}`)
	})
	mux.HandleFunc("/v1/difficulty-adjustment", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"difficultyChange": -3.2, "progressPercent": 40.1}`)
	})
	mux.HandleFunc("/v1/mining/pools/1d", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pools": [
			{"name": "Foundry USA", "share": 0.31, "blockCount": 45},
			{"name": "AntPool", "share": 0.22, "blockCount": 32},
			{"name": "", "share": 0.05, "blockCount": 7}
		]}`)
	})
	mux.HandleFunc("/v1/mining/reward-stats/144", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"startBlock": 800000, "endBlock": 800143, "totalFee": "1440000000"}`)
	})
	mux.HandleFunc("/v1/lightning/statistics/latest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"latest": {"channel_count": 50000, "node_count": 12000, "total_capacity": 500000000000}}`)
	})
	mux.HandleFunc("/v1/blocks", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"tx_count": 3000, "extras": {"segwitTotalTxs": 2700}},
			{"tx_count": 1000, "extras": {"segwitTotalTxs": 900}}
		]`)
	})
	mux.HandleFunc("/v1/replacements", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"mined": true}, {"mined": false}]`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMempoolCollect(t *testing.T) {
	srv := mempoolTestServer(t)

	batch, err := NewMempool(srv.URL).Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	values := sampleMap(batch.Samples)
	if values["throughput.mempool_vsize"] != 12_000_000 {
		t.Errorf("vsize = %v", values["throughput.mempool_vsize"])
	}
	if values["fees.fast"] != 12 || values["fees.halfhour"] != 8 {
		t.Errorf("fees = %v / %v", values["fees.fast"], values["fees.halfhour"])
	}
	if values["security.difficulty_change"] != -3.2 {
		t.Errorf("difficulty change = %v", values["security.difficulty_change"])
	}

	// 1.44e9 sats over 144 blocks is 0.1 BTC per block.
	if math.Abs(values["mining.avg_block_fee"]-0.1) > 1e-9 {
		t.Errorf("avg block fee = %v, want 0.1", values["mining.avg_block_fee"])
	}

	if values["lightning.capacity_btc"] != 5000 {
		t.Errorf("lightning capacity = %v, want 5000", values["lightning.capacity_btc"])
	}

	// 3600 of 4000 transactions were segwit.
	if math.Abs(values["adoption.segwit_usage"]-90) > 1e-9 {
		t.Errorf("segwit usage = %v, want 90", values["adoption.segwit_usage"])
	}
	// 2 replacements against 4000 transactions.
	if math.Abs(values["adoption.rbf_activity"]-0.05) > 1e-9 {
		t.Errorf("rbf activity = %v, want 0.05", values["adoption.rbf_activity"])
	}

	if len(batch.PoolShares) != 3 {
		t.Fatalf("pool shares = %d, want 3", len(batch.PoolShares))
	}
	if batch.PoolShares[2].Pool != "Unknown" {
		t.Errorf("empty pool name = %q, want Unknown", batch.PoolShares[2].Pool)
	}
}

func TestMempoolCollectPartialFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/mempool", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count": 100, "vsize": 5000, "total_fee": 1000}`)
	})
	// Every other endpoint 500s.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	batch, err := NewMempool(srv.URL).Collect(context.Background())
	if err != nil {
		t.Fatalf("partial failure should still return data: %v", err)
	}
	if len(batch.Samples) != 2 {
		t.Errorf("samples = %d, want the 2 mempool samples", len(batch.Samples))
	}
}

func TestMempoolCollectTotalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewMempool(srv.URL).Collect(context.Background()); err == nil {
		t.Fatal("no error when every endpoint fails")
	}
}
