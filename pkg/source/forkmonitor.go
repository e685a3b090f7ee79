package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// ForkMonitor collects stale-block incidents from the forkmonitor.info
// stale-candidates RSS feed and reduces them to a trailing 30-day count.
type ForkMonitor struct {
	client  *http.Client
	parser  *gofeed.Parser
	baseURL string
}

// NewForkMonitor creates a new ForkMonitor collector.
func NewForkMonitor(baseURL string) *ForkMonitor {
	if baseURL == "" {
		baseURL = "https://forkmonitor.info"
	}
	return &ForkMonitor{
		client:  &http.Client{Timeout: 30 * time.Second},
		parser:  gofeed.NewParser(),
		baseURL: baseURL,
	}
}

func (f *ForkMonitor) Name() SourceType { return SourceForkMonitor }

func (f *ForkMonitor) Collect(ctx context.Context) (Batch, error) {
	feedURL := f.baseURL + "/feeds/stale_candidates/btc.rss"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return Batch{}, fmt.Errorf("create forkmonitor request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Batch{}, fmt.Errorf("fetch forkmonitor feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Batch{}, fmt.Errorf("forkmonitor feed status %d", resp.StatusCode)
	}

	feed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return Batch{}, fmt.Errorf("parse forkmonitor feed: %w", err)
	}

	ts := now()
	cutoff := time.Unix(ts, 0).Add(-30 * 24 * time.Hour)

	stale := 0
	for _, item := range feed.Items {
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		// Undated entries count; the feed only carries recent incidents.
		if published == nil || published.After(cutoff) {
			stale++
		}
	}

	return Batch{Samples: []Sample{
		{MetricID: "security.stale_30d", TS: ts, Value: float64(stale), Unit: "blocks"},
	}}, nil
}
