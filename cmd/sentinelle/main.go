package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/teamsquare/sentinelle/pkg/api"
	"github.com/teamsquare/sentinelle/pkg/chat"
	"github.com/teamsquare/sentinelle/pkg/config"
	"github.com/teamsquare/sentinelle/pkg/httputil"
	"github.com/teamsquare/sentinelle/pkg/security"
	"github.com/teamsquare/sentinelle/pkg/storage"
	"github.com/teamsquare/sentinelle/pkg/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:   "sentinelle",
		Short: "Conversational threat screening gateway",
		Long: `Sentinelle screens user messages for security threats before they reach
the dialogue agents: classifier signals are fused into a threat verdict,
alerts are recorded, and the system or session is blocked when warranted.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newScanCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}

// ============================================================================
// serve
// ============================================================================

func newServeCmd() *cobra.Command {
	var highSecurity bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway and the ops server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.NewDefaultConfig()
			if highSecurity {
				cfg = config.NewHighSecurityConfig()
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().BoolVar(&highSecurity, "high-security", false, "block indefinitely and keep a larger alert history")
	return cmd
}

func runServe(cfg *config.Config) error {
	log := newLogger(cfg.LogLevel)

	keywords, weights, err := buildDetection(cfg)
	if err != nil {
		return err
	}

	fusion := security.NewFusionEngine(security.FusionOptions{
		Keywords:   keywords,
		Predictors: buildPredictors(cfg, log),
		Weights:    weights,
		CacheSize:  cfg.AnalysisCacheSize,
		Logger:     log,
	})

	state := security.NewStateManager(log)
	alerts := security.NewAlertStore(state, cfg.AlertCapacity, log)
	blocking := security.NewBlockingEngine(state, alerts, cfg.AutoBlockDuration, log)
	frontdoor := chat.NewFrontDoor(fusion, blocking, state, nil, cfg.MaxMessageLen, log)

	metrics := telemetry.NewMetrics()
	alerts.OnCreate(func(a security.Alert) {
		metrics.AlertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
		if a.Type == security.AlertSystem {
			metrics.BlocksTotal.Inc()
			metrics.BlockedGauge.Set(1)
		}
	})

	if err := wireMirrors(cfg, alerts, state, log); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ops := api.NewOpsServer(cfg.OpsAddr, state, metrics, log)
	go func() {
		if err := ops.Start(ctx); err != nil {
			log.WithError(err).Error("ops server failed")
		}
	}()

	server := api.NewServer(fusion, blocking, alerts, state, frontdoor, metrics, log)
	app := server.App()

	go func() {
		<-ctx.Done()
		log.Info("shutting down gateway")
		_ = app.Shutdown()
	}()

	log.WithFields(logrus.Fields{
		"addr":     cfg.ListenAddr,
		"ops_addr": cfg.OpsAddr,
		"version":  api.Version,
	}).Info("gateway listening")
	if err := app.Listen(cfg.ListenAddr); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// buildDetection loads keyword and weight overrides from the detection
// file, if configured.
func buildDetection(cfg *config.Config) (*security.KeywordDetector, map[security.SignalSource]float64, error) {
	weights := map[security.SignalSource]float64{
		security.SourceVulnerability: cfg.WeightVulnerability,
		security.SourceNetwork:       cfg.WeightNetwork,
		security.SourceIntent:        cfg.WeightIntent,
	}

	if cfg.DetectionFile == "" {
		return security.NewKeywordDetector(), weights, nil
	}

	df, err := config.LoadDetectionFile(cfg.DetectionFile)
	if err != nil {
		return nil, nil, err
	}
	overrides := make(map[security.KeywordCategory][]string, len(df.Keywords))
	for cat, words := range df.Keywords {
		overrides[security.KeywordCategory(cat)] = words
	}
	if df.Weights.Vulnerability > 0 {
		weights[security.SourceVulnerability] = df.Weights.Vulnerability
	}
	if df.Weights.Network > 0 {
		weights[security.SourceNetwork] = df.Weights.Network
	}
	if df.Weights.Intent > 0 {
		weights[security.SourceIntent] = df.Weights.Intent
	}
	return security.NewKeywordDetectorWithTable(overrides), weights, nil
}

// buildPredictors assembles the optional model-backed classifiers. Every
// source left unconfigured runs on the keyword fallback.
func buildPredictors(cfg *config.Config, log *logrus.Logger) map[security.SignalSource]security.Predictor {
	predictors := make(map[security.SignalSource]security.Predictor)

	if cfg.VulnerabilityModelPath != "" || cfg.VulnerabilityModelName != "" {
		predictors[security.SourceVulnerability] = security.NewHugotClassifier(security.HugotClassifierConfig{
			Name:            "vulnerability-classifier",
			ModelPath:       cfg.VulnerabilityModelPath,
			ModelName:       cfg.VulnerabilityModelName,
			OnnxLibraryPath: cfg.OnnxLibraryPath,
		}, log)
	}

	switch {
	case cfg.IntentModelPath != "" || cfg.IntentModelName != "":
		predictors[security.SourceIntent] = security.NewHugotClassifier(security.HugotClassifierConfig{
			Name:            "intent-classifier",
			ModelPath:       cfg.IntentModelPath,
			ModelName:       cfg.IntentModelName,
			OnnxLibraryPath: cfg.OnnxLibraryPath,
			MapLabel:        security.IntentLabelMap,
		}, log)
	case cfg.EnableSemantics:
		semantic, err := security.NewSemanticClassifier(cfg.OllamaURL, cfg.EmbeddingModel, log)
		if err != nil {
			log.WithError(err).Warn("semantic intent classifier unavailable")
			break
		}
		loadCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := semantic.LoadSeeds(loadCtx); err != nil {
			log.WithError(err).Warn("semantic seed load failed, intent stays on keyword fallback")
			break
		}
		predictors[security.SourceIntent] = semantic
	}

	return predictors
}

// wireMirrors attaches the optional Redis and Postgres mirrors to the
// alert store. Mirror writes are fire-and-forget under a concurrency cap
// so a slow backend never stalls screening.
func wireMirrors(cfg *config.Config, alerts *security.AlertStore, state *security.StateManager, log *logrus.Logger) error {
	sem := httputil.NewSemaphore(cfg.MirrorWorkers)

	if cfg.RedisAddr != "" {
		mirror, err := storage.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			return fmt.Errorf("redis mirror: %w", err)
		}
		log.WithField("addr", cfg.RedisAddr).Info("redis mirror enabled")
		alerts.OnCreate(func(a security.Alert) {
			if !sem.TryAcquire() {
				return
			}
			go func() {
				defer sem.Release()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := mirror.StoreAlert(ctx, a); err != nil {
					log.WithError(err).Warn("redis alert mirror failed")
				}
				if err := mirror.StoreState(ctx, state.Snapshot()); err != nil {
					log.WithError(err).Warn("redis state mirror failed")
				}
				if a.SessionID != "" {
					if s, ok := state.Session(a.SessionID); ok {
						if err := mirror.StoreSession(ctx, s); err != nil {
							log.WithError(err).Warn("redis session mirror failed")
						}
					}
				}
			}()
		})
	}

	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		archive, err := storage.NewPostgresArchive(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return fmt.Errorf("postgres archive: %w", err)
		}
		log.Info("postgres alert archive enabled")
		alerts.OnCreate(func(a security.Alert) {
			if !sem.TryAcquire() {
				return
			}
			go func() {
				defer sem.Release()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := archive.InsertAlert(ctx, a); err != nil {
					log.WithError(err).Warn("postgres alert archive failed")
				}
			}()
		})
	}

	return nil
}

// ============================================================================
// scan
// ============================================================================

func newScanCmd() *cobra.Command {
	var keywordOnly bool

	cmd := &cobra.Command{
		Use:   "scan <text>",
		Short: "Screen a single message from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return runScan(text, keywordOnly)
		},
	}
	cmd.Flags().BoolVar(&keywordOnly, "keywords-only", false, "use the front door's keyword pre-screen instead of full fusion")
	return cmd
}

func runScan(text string, keywordOnly bool) error {
	log := newLogger("error")
	fusion := security.NewFusionEngine(security.FusionOptions{Logger: log})

	var (
		result *security.SecurityAnalysisResult
		err    error
	)
	if keywordOnly {
		result, err = fusion.AnalyzeKeywords(text, "cli")
	} else {
		result, err = fusion.Analyze(context.Background(), text, nil, "cli")
	}
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Source", "Label", "Confidence", "Method"})
	for _, src := range []security.SignalSource{security.SourceVulnerability, security.SourceNetwork, security.SourceIntent} {
		sig, ok := result.Signal(src)
		if !ok {
			continue
		}
		table.Append([]string{
			string(sig.Source),
			sig.Label,
			fmt.Sprintf("%.2f", sig.Confidence),
			string(sig.Method),
		})
	}
	table.Render()

	if result.Keywords != nil {
		fmt.Printf("Keywords: %s (category %s)\n",
			strings.Join(result.Keywords.Matches, ", "), result.Keywords.TopCategory)
	}

	verdict := fmt.Sprintf("%s (score %.2f)", strings.ToUpper(string(result.ThreatLevel)), result.ThreatScore)
	switch result.ThreatLevel {
	case security.LevelCritical, security.LevelHigh:
		color.New(color.FgRed, color.Bold).Println(verdict)
	case security.LevelMedium, security.LevelLow:
		color.New(color.FgYellow).Println(verdict)
	default:
		color.New(color.FgGreen).Println(verdict)
	}
	return nil
}

// ============================================================================
// version
// ============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("sentinelle v%s\n", api.Version)
		},
	}
}
