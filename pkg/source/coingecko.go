package source

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// CoinGecko collects the BTC/USD spot price.
type CoinGecko struct {
	client  *http.Client
	baseURL string
}

// NewCoinGecko creates a new CoinGecko collector.
func NewCoinGecko(baseURL string) *CoinGecko {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &CoinGecko{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}
}

func (c *CoinGecko) Name() SourceType { return SourceCoinGecko }

func (c *CoinGecko) Collect(ctx context.Context) (Batch, error) {
	var data struct {
		Bitcoin struct {
			USD       float64 `json:"usd"`
			USDVol24h float64 `json:"usd_24h_vol"`
		} `json:"bitcoin"`
	}
	url := c.baseURL + "/simple/price?ids=bitcoin&vs_currencies=usd&include_24hr_vol=true"
	if err := getJSON(ctx, c.client, url, &data); err != nil {
		return Batch{}, err
	}
	if data.Bitcoin.USD <= 0 {
		return Batch{}, fmt.Errorf("coingecko: no bitcoin price in response")
	}

	ts := now()
	return Batch{Samples: []Sample{
		{MetricID: "price.btc_usd", TS: ts, Value: data.Bitcoin.USD, Unit: "USD"},
		{MetricID: "price.volume_24h", TS: ts, Value: data.Bitcoin.USDVol24h, Unit: "USD"},
	}}, nil
}
