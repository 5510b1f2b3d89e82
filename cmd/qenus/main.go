// Command qenus wires together the market-intelligence and arbitrage
// engine's long-lived collaborators and runs the extraction loop and the
// orchestrator's detection loop until asked to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"qenus"
	"qenus/configs"
	"qenus/internal/cache"
	"qenus/internal/contractcodec"
	"qenus/internal/decision"
	"qenus/internal/detectors"
	"qenus/internal/extractors"
	"qenus/internal/feedback"
	"qenus/internal/intent"
	"qenus/internal/market"
	"qenus/internal/monitoring"
	"qenus/internal/persistence"
	"qenus/internal/rpcpool"
	"qenus/internal/simulator"
	"qenus/internal/sinks"
)

func main() {
	configPath := flag.String("config", "configs/config.yml", "path to the YAML configuration file")
	mode := flag.String("mode", "development", "operating mode: development|testing|production|dry_run")
	chainsFlag := flag.String("chains", "", "comma-separated chain allowlist; empty means every chain enabled in config")
	logLevel := flag.String("log-level", "info", "zerolog level: trace|debug|info|warn|error")
	dryRun := flag.Bool("dry-run", false, "log built intents instead of submitting them to the executor")
	testProviders := flag.Bool("test-providers", false, "dial every configured provider, print health, and exit")
	setupKeys := flag.Bool("setup-keys", false, "print the environment variable names expected to supply provider API keys and exit")
	defaultStrategiesPath := os.Getenv("INTELLIGENCE_CONFIG_PATH")
	if defaultStrategiesPath == "" {
		defaultStrategiesPath = os.Getenv("BUSINESS_MODULE_PATH")
	}
	strategiesPath := flag.String("strategies", defaultStrategiesPath, "path to the strategy-configuration YAML; defaults to $INTELLIGENCE_CONFIG_PATH, then $BUSINESS_MODULE_PATH")
	flag.Parse()

	configureLogging(*logLevel)

	cfg, err := configs.Load(*configPath)
	if err != nil {
		fatal("load config", err)
	}
	if allow := splitNonEmpty(*chainsFlag); len(allow) > 0 {
		restrictChains(cfg, allow)
	}
	if err := cfg.Validate(); err != nil {
		fatal("validate config", err)
	}

	keyRegistry := configs.NewKeyRegistry()
	keys := keyRegistry.Resolve(cfg, os.Getenv("ENV_FILE"))

	if *setupKeys {
		printExpectedKeys(cfg, keyRegistry)
		return
	}

	strategies, err := loadStrategies(*strategiesPath)
	if err != nil {
		fatal("load strategies", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pools, err := dialPools(ctx, cfg, keys)
	if err != nil {
		fatal("dial rpc pools", err)
	}
	defer func() {
		for _, p := range pools {
			p.Close()
		}
	}()

	if *testProviders {
		reportProviderHealth(pools)
		return
	}

	catalog, err := contractcodec.NewCatalog()
	if err != nil {
		fatal("build contract catalog", err)
	}

	state := market.New(time.Minute)
	defer state.Stop()

	ectx := &extractors.Context{
		Pools:   pools,
		Catalog: catalog,
		Cache:   cache.New[string, []byte](30*time.Second, 10_000, cache.EvictLRU),
	}

	publishSinks := buildSinks(ctx, cfg)
	defer func() {
		for _, s := range publishSinks {
			_ = s.Stop()
		}
	}()

	extractorList := buildExtractors(enabledChains(pools))
	go runExtractionLoop(ctx, extractionInterval(cfg), extractorList, ectx, state, publishSinks)

	var detectorList []qenus.Detector
	strategyLookup := func(name string) (qenus.StrategyConfig, bool) {
		cfg, ok := strategies[name]
		return cfg, ok
	}
	if strategyCfg, ok := strategies["dex_arb"]; ok {
		detectorList = append(detectorList, detectors.NewDexArbDetector(strategyCfg, state))
	}
	if strategyCfg, ok := strategies["triangle_arb"]; ok {
		detectorList = append(detectorList, detectors.NewTriangleDetector(strategyCfg, state))
	}

	sim := simulator.New(state)
	engine := decision.New(globalPortfolioCap(strategies), decision.DefaultWeights(), state)
	builder := intent.New(state)
	feedbackProcessor := feedback.New()

	var recorder qenus.Recorder
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		rec, err := persistence.NewMySQLRecorder(dsn)
		if err != nil {
			log.Warn().Err(err).Msg("persistence: disabled, could not connect")
		} else {
			defer rec.Close()
			recorder = rec
		}
	}

	executor := &loggingExecutor{dryRun: *dryRun || configs.Mode(*mode) == configs.ModeDryRun}

	startedAt := time.Now()
	healthRegistry, metricsRegistry, alertEngine := buildMonitoring(cfg, pools)
	go healthRegistry.RunPeriodic(ctx, cfg.Monitoring.HealthCheckInterval())
	go runAlertLoop(ctx, cfg.Monitoring.AlertEvalInterval(), healthRegistry, alertEngine)
	go runMetricsFlushLoop(ctx, cfg.Monitoring.MetricsFlushInterval(), healthRegistry, metricsRegistry, alertEngine, startedAt)

	orch := &qenus.Orchestrator{
		Detectors:    detectorList,
		Strategies:   strategyLookup,
		Simulator:    sim,
		Decision:     engine,
		Intents:      builder,
		Feedback:     feedbackProcessor,
		Executor:     executor,
		Recorder:     recorder,
		TopK:         5,
		TickInterval: 5 * time.Second,
	}

	log.Info().Str("mode", *mode).Int("detectors", len(detectorList)).Msg("qenus: starting orchestrator")

	runErr := orch.Run(ctx)
	waitForShutdownGrace(cfg.Global.ShutdownTimeout())
	if runErr != nil && runErr != context.Canceled {
		fatal("orchestrator run", runErr)
	}
	log.Info().Msg("qenus: clean shutdown")
}

func configureLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func restrictChains(cfg *configs.Config, allow []string) {
	allowed := make(map[qenus.Chain]bool, len(allow))
	for _, a := range allow {
		allowed[qenus.Chain(a)] = true
	}
	for chain, chainCfg := range cfg.Chains {
		if !allowed[chain] {
			chainCfg.Enabled = false
			cfg.Chains[chain] = chainCfg
		}
	}
}

func dialPools(ctx context.Context, cfg *configs.Config, keys map[string]string) (map[qenus.Chain]*rpcpool.Pool, error) {
	pools := make(map[qenus.Chain]*rpcpool.Pool)
	for chain, chainCfg := range cfg.Chains {
		if !chainCfg.Enabled {
			continue
		}
		var providerConfigs []rpcpool.ProviderConfig
		for _, p := range cfg.Providers[chain] {
			if !p.Enabled {
				continue
			}
			providerConfigs = append(providerConfigs, rpcpool.ProviderConfig{
				Name:           p.Name,
				HTTPURL:        withAPIKey(p.HTTPEndpoint, keys[p.Name]),
				WSURL:          p.WSEndpoint,
				RateLimitRPS:   p.RateLimitRPS,
				TimeoutSeconds: int(p.Timeout().Seconds()),
				Weight:         int(p.Weight),
				Enabled:        p.Enabled,
			})
		}
		pool, err := rpcpool.Dial(ctx, string(chain), providerConfigs, rpcpool.StrategyFastestFirst)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", chain, err)
		}
		pools[chain] = pool
	}
	return pools, nil
}

// withAPIKey appends a key query parameter whenever a key was resolved,
// whatever the provider; with an empty key the endpoint is returned as is.
func withAPIKey(endpoint, key string) string {
	if key == "" {
		return endpoint
	}
	separator := "?"
	if strings.Contains(endpoint, "?") {
		separator = "&"
	}
	return endpoint + separator + "key=" + key
}

func enabledChains(pools map[qenus.Chain]*rpcpool.Pool) []qenus.Chain {
	chains := make([]qenus.Chain, 0, len(pools))
	for chain := range pools {
		chains = append(chains, chain)
	}
	return chains
}

// buildExtractors wires the extractors that need no deployment-specific
// curated catalog. AMM/Bridge/FlashLoan extraction needs a curated pool,
// route, or lending-pool list (see internal/extractors' *Pool/*Venue/
// *Provider types) supplied per environment; fabricating production
// contract addresses here would not be genuine, so this process starts
// with gas extraction only and a deployment adds the rest by constructing
// the curated slices this package already accepts.
func buildExtractors(chains []qenus.Chain) []extractors.Extractor {
	if len(chains) == 0 {
		return nil
	}
	return []extractors.Extractor{extractors.NewGasExtractor(chains)}
}

func extractionInterval(cfg *configs.Config) time.Duration {
	if len(cfg.Extraction) == 0 {
		return 10 * time.Second
	}
	shortest := time.Hour
	for _, kindCfg := range cfg.Extraction {
		if !kindCfg.Enabled || kindCfg.UpdateFrequencySecs <= 0 {
			continue
		}
		d := time.Duration(kindCfg.UpdateFrequencySecs) * time.Second
		if d < shortest {
			shortest = d
		}
	}
	return shortest
}

// runExtractionLoop periodically runs every extractor against every chain
// it supports, publishing the resulting features to every running sink
// and folding them into the shared market state.
func runExtractionLoop(ctx context.Context, interval time.Duration, extractorList []extractors.Extractor, ectx *extractors.Context, state *market.State, publishSinks []sinks.Sink) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, extractor := range extractorList {
				for _, chain := range extractor.SupportedChains() {
					features, err := extractor.ExtractLatest(ctx, chain, ectx)
					if err != nil {
						log.Warn().Err(err).Str("extractor", extractor.Name()).Str("chain", string(chain)).Msg("extraction: pass failed")
						continue
					}
					for _, feature := range features {
						state.Apply(feature)
					}
					for _, sink := range publishSinks {
						if err := sink.PublishBatch(features); err != nil {
							log.Warn().Err(err).Str("sink", fmt.Sprintf("%T", sink)).Msg("extraction: publish failed")
						}
					}
				}
			}
		}
	}
}

// buildSinks starts the broadcast fanout sink unconditionally (it has no
// external resource to fail on) and the archive sink when configured.
func buildSinks(ctx context.Context, cfg *configs.Config) []sinks.Sink {
	var built []sinks.Sink

	broadcast := sinks.NewBroadcastSink()
	if err := broadcast.Start(ctx); err == nil {
		built = append(built, broadcast)
	}

	if cfg.Sinks.Archive.Enabled {
		archive := sinks.NewArchiveSink(
			cfg.Sinks.Archive.OutputDir,
			"qenus",
			cfg.Sinks.Archive.BatchSize,
			sinks.Compression(cfg.Sinks.Archive.Compression),
		)
		if err := archive.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("sinks: archive sink disabled, could not start")
		} else {
			built = append(built, archive)
		}
	}

	if cfg.Sinks.Stream.Enabled && len(cfg.Sinks.Stream.Brokers) > 0 {
		publisher, err := sinks.NewNATSPublisher(cfg.Sinks.Stream.Brokers[0])
		if err != nil {
			log.Warn().Err(err).Msg("sinks: stream sink disabled, could not connect")
		} else {
			batchMS := cfg.Sinks.Stream.BatchMS
			if batchMS <= 0 {
				batchMS = 1000
			}
			stream := sinks.NewStreamSink(cfg.Sinks.Stream.TopicPrefix, cfg.Sinks.Stream.BatchSize, time.Duration(batchMS)*time.Millisecond, publisher)
			if err := stream.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("sinks: stream sink disabled, could not start")
			} else {
				built = append(built, stream)
			}
		}
	}

	return built
}

// buildMonitoring registers a health checker per dialed RPC pool plus a
// host resource checker, and seeds the alert engine with a single host-CPU
// rule.
func buildMonitoring(cfg *configs.Config, pools map[qenus.Chain]*rpcpool.Pool) (*monitoring.Registry, *monitoring.MetricsRegistry, *monitoring.AlertEngine) {
	healthRegistry := monitoring.NewRegistry()
	for chain, pool := range pools {
		chain, pool := chain, pool
		healthRegistry.Register("rpc_pool_"+string(chain), func(ctx context.Context) monitoring.ComponentReport {
			worst := monitoring.StatusHealthy
			for _, h := range pool.Health() {
				var status monitoring.ComponentStatus
				switch h.Status {
				case "unhealthy":
					status = monitoring.StatusUnhealthy
				case "degraded":
					status = monitoring.StatusDegraded
				default:
					status = monitoring.StatusHealthy
				}
				if status > worst {
					worst = status
				}
			}
			return monitoring.ComponentReport{Status: worst}
		})
	}
	healthRegistry.Register("system_resources", monitoring.NewResourceChecker(monitoring.DefaultResourceThresholds()))

	metricsRegistry := monitoring.NewMetricsRegistry()

	alertEngine := monitoring.NewAlertEngine([]monitoring.AlertRule{
		{MetricName: "cpu_pct", Threshold: 90, Comparator: monitoring.ComparatorGT, Severity: monitoring.SeverityWarning, Description: "host cpu above 90%"},
	})

	return healthRegistry, metricsRegistry, alertEngine
}

// runAlertLoop folds the health registry's latest aggregate report into the
// alert engine's synthetic component_health rule on a fixed interval.
func runAlertLoop(ctx context.Context, interval time.Duration, health *monitoring.Registry, alerts *monitoring.AlertEngine) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, transition := range alerts.EvaluateHealth(health.Last()) {
				log.Warn().Str("alert", transition.Rule.Description).Str("state", string(transition.State)).Msg("monitoring: alert transition")
			}
		}
	}
}

// runMetricsFlushLoop periodically assembles and logs the read-only
// dashboard view aggregated from the three monitoring sub-stores.
func runMetricsFlushLoop(ctx context.Context, interval time.Duration, health *monitoring.Registry, metrics *monitoring.MetricsRegistry, alerts *monitoring.AlertEngine, startedAt time.Time) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dash := monitoring.BuildDashboard(health, metrics, alerts, startedAt)
			log.Info().
				Str("overall_status", dash.Health.OverallStatus.String()).
				Int("active_alerts", len(dash.ActiveAlerts)).
				Float64("uptime_seconds", dash.UptimeSeconds).
				Msg("monitoring: dashboard snapshot")
		}
	}
}

func reportProviderHealth(pools map[qenus.Chain]*rpcpool.Pool) {
	for chain, pool := range pools {
		for name, h := range pool.Health() {
			fmt.Printf("%s/%s: status=%s ewma_latency_ms=%.1f consecutive_failures=%d\n",
				chain, name, h.Status, h.EWMALatencyMS, h.ConsecutiveFailures)
		}
	}
}

// printExpectedKeys lists every provider's expected API-key environment
// variable, plus its last-observed rotation if one has already been
// resolved against the current environment.
func printExpectedKeys(cfg *configs.Config, registry *configs.KeyRegistry) {
	rotations := registry.Rotations()
	for chain, providers := range cfg.Providers {
		for _, p := range providers {
			name := p.APIKeyEnv
			if name == "" {
				name = fmt.Sprintf("%s_%s_KEY", strings.ToUpper(p.Name), strings.ToUpper(string(chain)))
			}
			if rotation, ok := rotations[p.Name]; ok {
				fmt.Printf("%s (last rotated %s)\n", name, rotation.LastRotated.Format(time.RFC3339))
			} else {
				fmt.Println(name)
			}
		}
	}
}

// riskLimitsYAML is the on-disk shape of qenus.RiskLimits.
type riskLimitsYAML struct {
	MaxSlippageBps       float64 `yaml:"max_slippage_bps"`
	MaxGasPct            float64 `yaml:"max_gas_pct"`
	MinSuccessProb       float64 `yaml:"min_success_prob"`
	MaxBridgeLatencySecs float64 `yaml:"max_bridge_latency_secs"`
	MaxPortfolioUSD      float64 `yaml:"max_portfolio_usd"`
}

// strategyYAML is the on-disk shape of one qenus.StrategyConfig, tagged the
// way configs.ProviderYAML/ChainConfig tag their own domain counterparts
// rather than attaching yaml tags to the core domain type directly.
type strategyYAML struct {
	Enabled        bool           `yaml:"enabled"`
	MinProfitUSD   float64        `yaml:"min_profit_usd"`
	MinProfitBps   float64        `yaml:"min_profit_bps"`
	MaxPositionUSD float64        `yaml:"max_position_usd"`
	ApprovedAssets []string       `yaml:"approved_assets"`
	ApprovedChains []string       `yaml:"approved_chains"`
	RiskLimits     riskLimitsYAML `yaml:"risk_limits"`
}

// strategyFile is the on-disk shape of the strategy-configuration source
// named by INTELLIGENCE_CONFIG_PATH/BUSINESS_MODULE_PATH, deliberately kept
// separate from configs.Config so strategy tuning can be reloaded and
// redeployed independently of the main RPC/contract config block.
type strategyFile struct {
	Strategies map[string]strategyYAML `yaml:"strategies"`
}

func loadStrategies(path string) (map[string]qenus.StrategyConfig, error) {
	if path == "" {
		return map[string]qenus.StrategyConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var parsed strategyFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make(map[string]qenus.StrategyConfig, len(parsed.Strategies))
	for name, s := range parsed.Strategies {
		chains := make([]qenus.Chain, 0, len(s.ApprovedChains))
		for _, c := range s.ApprovedChains {
			chains = append(chains, qenus.Chain(c))
		}
		out[name] = qenus.StrategyConfig{
			Enabled:        s.Enabled,
			MinProfitUSD:   s.MinProfitUSD,
			MinProfitBps:   s.MinProfitBps,
			MaxPositionUSD: s.MaxPositionUSD,
			ApprovedAssets: s.ApprovedAssets,
			ApprovedChains: chains,
			RiskLimits: qenus.RiskLimits{
				MaxSlippageBps:       s.RiskLimits.MaxSlippageBps,
				MaxGasPct:            s.RiskLimits.MaxGasPct,
				MinSuccessProb:       s.RiskLimits.MinSuccessProb,
				MaxBridgeLatencySecs: s.RiskLimits.MaxBridgeLatencySecs,
				MaxPortfolioUSD:      s.RiskLimits.MaxPortfolioUSD,
			},
		}
	}
	return out, nil
}

func globalPortfolioCap(strategies map[string]qenus.StrategyConfig) float64 {
	var total float64
	for _, s := range strategies {
		total += s.RiskLimits.MaxPortfolioUSD
	}
	return total
}

// waitForShutdownGrace gives in-flight work a final window to settle after
// Run returns (ctx is already cancelled by then).
func waitForShutdownGrace(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	time.Sleep(timeout / 10)
}

// loggingExecutor stands in for the out-of-scope downstream
// order-execution component: it logs every intent handed to it.
// Dry-run and live modes behave identically here since no concrete
// executor is wired by this module; only the dry_run flag is recorded in
// the log line so an operator can tell which mode produced it.
type loggingExecutor struct {
	dryRun bool
}

func (e *loggingExecutor) Submit(_ context.Context, intent qenus.TradeIntent) error {
	log.Info().
		Bool("dry_run", e.dryRun).
		Str("intent_id", intent.IntentID).
		Str("strategy", intent.Strategy).
		Str("asset", intent.Asset).
		Float64("size_usd", intent.SizeUSD).
		Float64("expected_pnl_usd", intent.ExpectedPnLUSD).
		Msg("executor: intent submitted")
	return nil
}

func fatal(step string, err error) {
	log.Error().Err(err).Str("step", step).Msg("qenus: fatal startup error")
	os.Exit(1)
}
