package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/btcpulse/btcpulse/internal/config"
	"github.com/btcpulse/btcpulse/internal/scheduler"
	"github.com/btcpulse/btcpulse/internal/store"
	"github.com/btcpulse/btcpulse/pkg/alert"
	"github.com/btcpulse/btcpulse/pkg/health"
	"github.com/btcpulse/btcpulse/pkg/server"
	"github.com/btcpulse/btcpulse/pkg/source"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (store.Store, error) {
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := ensureDefinitions(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ensureDefinitions seeds the default metric catalog into an empty database.
func ensureDefinitions(ctx context.Context, db store.Store) error {
	catalog, err := db.Definitions(ctx)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	if len(catalog.Pillars) > 0 {
		return nil
	}
	seed := health.DefaultCatalog()
	if err := seed.Validate(); err != nil {
		return fmt.Errorf("validate default catalog: %w", err)
	}
	if err := db.ReplaceDefinitions(ctx, seed); err != nil {
		return fmt.Errorf("seed definitions: %w", err)
	}
	fmt.Fprintf(os.Stderr, "seeded %d metric definitions across %d pillars\n",
		len(seed.Metrics), len(seed.Pillars))
	return nil
}

func buildSources(cfg *config.Config) []source.Source {
	var sources []source.Source

	if cfg.Sources.Mempool.Enabled {
		sources = append(sources, source.NewMempool(cfg.Sources.Mempool.BaseURL))
	}
	if cfg.Sources.Bitnodes.Enabled {
		sources = append(sources, source.NewBitnodes(cfg.Sources.Bitnodes.BaseURL))
	}
	if cfg.Sources.CoinGecko.Enabled {
		sources = append(sources, source.NewCoinGecko(cfg.Sources.CoinGecko.BaseURL))
	}
	if cfg.Sources.Blockchain.Enabled {
		sources = append(sources, source.NewBlockchain(cfg.Sources.Blockchain.BaseURL))
	}
	if cfg.Sources.ForkMonitor.Enabled {
		sources = append(sources, source.NewForkMonitor(cfg.Sources.ForkMonitor.BaseURL))
	}

	return sources
}

func buildPipeline(cfg *config.Config, db store.Store) *health.Pipeline {
	pipeline := health.NewPipeline(db, db, db, db)
	if cfg.Scoring.WindowDays > 0 {
		pipeline.Engine.WindowDays = cfg.Scoring.WindowDays
	}
	if cfg.Scoring.FallbackDays > 0 {
		pipeline.Engine.FallbackDays = cfg.Scoring.FallbackDays
	}
	if cfg.Scoring.MinSamples > 0 {
		pipeline.Engine.MinSamples = cfg.Scoring.MinSamples
	}
	return pipeline
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runCollect(filterSources []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	allSources := buildSources(cfg)

	// Filter to requested sources only.
	var sources []source.Source
	if len(filterSources) > 0 {
		wanted := make(map[string]bool)
		for _, s := range filterSources {
			wanted[strings.ToLower(strings.TrimSpace(s))] = true
		}
		for _, s := range allSources {
			if wanted[string(s.Name())] {
				sources = append(sources, s)
			}
		}
		if len(sources) == 0 {
			return fmt.Errorf("no matching sources for: %s", strings.Join(filterSources, ", "))
		}
	} else {
		sources = allSources
	}

	ctx := context.Background()
	totalSamples := 0

	for _, src := range sources {
		fmt.Fprintf(os.Stderr, "collecting from %s...\n", src.Name())
		batch, err := src.Collect(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  error: %v\n", err)
			_ = db.UpdateCollectorStatus(ctx, string(src.Name()), err)
			continue
		}

		if err := db.UpsertSamples(ctx, batch.Samples); err != nil {
			fmt.Fprintf(os.Stderr, "  store error: %v\n", err)
			_ = db.UpdateCollectorStatus(ctx, string(src.Name()), err)
			continue
		}
		if len(batch.PoolShares) > 0 {
			if err := db.UpsertPoolShares(ctx, batch.PoolShares); err != nil {
				fmt.Fprintf(os.Stderr, "  pool shares error: %v\n", err)
			}
		}

		_ = db.UpdateCollectorStatus(ctx, string(src.Name()), nil)
		fmt.Fprintf(os.Stderr, "  collected %d samples\n", len(batch.Samples))
		totalSamples += len(batch.Samples)
	}

	deriver := health.NewDeriver(db)
	derived, err := deriver.DeriveAll(ctx, time.Now().UTC().Unix())
	if err != nil {
		fmt.Fprintf(os.Stderr, "derive error: %v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "derived %d metrics\n", len(derived))
	}

	fmt.Fprintf(os.Stderr, "\ntotal: %d samples from %d sources\n", totalSamples, len(sources))
	return nil
}

func runScore(asOf int64) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if asOf == 0 {
		asOf = time.Now().UTC().Unix()
	}

	pipeline := buildPipeline(cfg, db)
	res, err := pipeline.Run(context.Background(), asOf)
	if err != nil {
		return fmt.Errorf("scoring run: %w", err)
	}

	fmt.Fprintf(os.Stderr, "run %s: %d metrics scored, %d skipped\n",
		res.RunID, len(res.MetricScores), len(res.Skips))
	for _, skip := range res.Skips {
		fmt.Fprintf(os.Stderr, "  skipped %s: %s\n", skip.MetricID, skip.Reason)
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(os.Stderr, "  warning: %s\n", warning)
	}
	if res.Overall != nil {
		fmt.Printf("overall: %.1f\n", *res.Overall)
	}
	return nil
}

func runShow(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	overall, err := db.LatestScore(ctx, health.KindOverall, "overall")
	if err != nil {
		return fmt.Errorf("load overall score: %w", err)
	}
	pillars, err := db.LatestScores(ctx, health.KindPillar)
	if err != nil {
		return fmt.Errorf("load pillar scores: %w", err)
	}
	metrics, err := db.LatestScores(ctx, health.KindMetric)
	if err != nil {
		return fmt.Errorf("load metric scores: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"overall": overall,
			"pillars": pillars,
			"metrics": metrics,
		})
	}

	if overall == nil {
		fmt.Println("no scores yet (try: btcpulse collect && btcpulse score)")
		return nil
	}

	fmt.Printf("overall: %.1f%s  (as of %s)\n\n",
		overall.Score, trendSuffix(overall),
		time.Unix(overall.TS, 0).UTC().Format(time.RFC3339))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PILLAR\tSCORE\t7D\t30D")
	for _, p := range pillars {
		fmt.Fprintf(w, "%s\t%.1f\t%s\t%s\n", p.ID, p.Score, pct(p.Trend7d), pct(p.Trend30))
	}
	fmt.Fprintln(w, "\nMETRIC\tSCORE\t7D\t30D")
	for _, m := range metrics {
		fmt.Fprintf(w, "%s\t%.1f\t%s\t%s\n", m.ID, m.Score, pct(m.Trend7d), pct(m.Trend30))
	}
	return w.Flush()
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	pipeline := buildPipeline(cfg, db)
	srv := server.New(db, pipeline, port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sources := buildSources(cfg)
	pipeline := buildPipeline(cfg, db)
	deriver := health.NewDeriver(db)
	alertMgr := buildAlertManager(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(db, sources, deriver, pipeline, alertMgr,
		cfg.Schedule.ParseCollectInterval(),
		cfg.Schedule.ParseScoreInterval(),
		cfg.Alerts.ScoreFloor,
		cfg.Alerts.ScoreDrop,
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "scheduler error: %v\n", err)
		}
	}()

	srv := server.New(db, pipeline, port)
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	}()

	return srv.ListenAndServe()
}

func pct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%+.1f%%", *v)
}

func trendSuffix(s *health.Score) string {
	if s == nil || s.Trend7d == nil {
		return ""
	}
	return fmt.Sprintf(" (%+.1f%% 7d)", *s.Trend7d)
}
