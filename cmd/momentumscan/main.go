// momentumscan is the multi-exchange market scanner: one-shot scans from the
// command line and the long-running API service with the continuous loops.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/momentumscan/internal/api"
	"github.com/sawpanic/momentumscan/internal/config"
	"github.com/sawpanic/momentumscan/internal/domain"
	"github.com/sawpanic/momentumscan/internal/exchange"
	"github.com/sawpanic/momentumscan/internal/scan"
	"github.com/sawpanic/momentumscan/internal/store"
	"github.com/sawpanic/momentumscan/internal/stream"
)

const (
	appName = "momentumscan"
	version = "v1.0.0"
)

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-exchange momentum scanner and signal engine",
		Version: version,
		Long: appName + ` scans exchange markets across trading styles, scores every
symbol on momentum, volume, and trend, and serves the results over HTTP.
The continuous mode keeps four monitoring loops running and persists
signals, candles, and volume clusters as training data.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(newServeCmd(), newScanCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	if parsed, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(parsed)
	}
	return cfg, nil
}

// buildClients constructs one gated, cached client per configured exchange.
// Unknown exchange names are skipped with a warning; zero usable exchanges is
// fatal for the caller.
func buildClients(cfg *config.Config, logger zerolog.Logger) map[string]*exchange.Client {
	gateCfg := exchange.GateConfig{
		MaxConcurrent:    cfg.Gate.MaxConcurrent,
		RateLimitDelay:   cfg.Gate.RateLimitDelay,
		RetryAttempts:    cfg.Gate.RetryAttempts,
		RetryDelay:       cfg.Gate.RetryDelay,
		BreakerThreshold: cfg.Gate.BreakerThreshold,
		BreakerPause:     cfg.Gate.BreakerPause,
		FetchTimeout:     cfg.Gate.FetchTimeout,
	}

	clients := make(map[string]*exchange.Client)
	for _, id := range cfg.Exchanges {
		adapter, err := exchange.NewAdapter(id)
		if err != nil {
			logger.Warn().Str("exchange", id).Err(err).Msg("exchange skipped")
			continue
		}
		gate := exchange.NewGate(id, gateCfg, logger)
		clients[id] = exchange.NewClient(adapter, gate, buildCache(cfg, id))
		logger.Info().Str("exchange", id).Msg("exchange client ready")
	}
	return clients
}

func buildCache(cfg *config.Config, exchangeID string) exchange.Cache {
	if cfg.Cache.RedisAddr == "" {
		return exchange.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})
	log.Info().Str("exchange", exchangeID).Str("addr", cfg.Cache.RedisAddr).Msg("using redis cache")
	return exchange.NewRedisCache(client, cfg.Cache.TTL)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server with the continuous scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := log.Logger

			clients := buildClients(cfg, logger)
			if len(clients) == 0 {
				return fmt.Errorf("no usable exchanges configured")
			}
			scanner := scan.New(cfg, clients, logger)

			st, err := store.New(cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			if cfg.Store.PostgresDSN != "" {
				archive, err := store.NewArchive(cfg.Store.PostgresDSN)
				if err != nil {
					return fmt.Errorf("open archive: %w", err)
				}
				defer archive.Close()
				st.SetArchive(archive)
				logger.Info().Msg("postgres archive attached")
			}

			continuous := stream.NewContinuous(cfg.Stream, scanner, st, logger)
			server := api.NewServer(cfg, scanner, continuous, st, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info().Msg("shutting down")
			continuous.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func newScanCmd() *cobra.Command {
	var (
		timeframe    string
		exchangesCSV string
		topN         int
		minVolume    float64
		fullAnalysis bool
		csvDir       string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a one-shot scan and print the ranked signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := log.Logger

			clients := buildClients(cfg, logger)
			if len(clients) == 0 {
				return fmt.Errorf("no usable exchanges configured")
			}
			scanner := scan.New(cfg, clients, logger)

			exchanges := cfg.Exchanges
			if exchangesCSV != "" {
				exchanges = strings.Split(exchangesCSV, ",")
			}
			opts := scan.Options{
				Style:        domain.Style(timeframe),
				FullAnalysis: fullAnalysis,
				TopN:         topN,
				MinVolumeUSD: minVolume,
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var rows []scan.Row
			var out any
			if len(exchanges) > 1 {
				res := scanner.ScanParallel(ctx, exchanges, opts)
				rows, out = res.Rows, res
			} else {
				res, err := scanner.ScanExchange(ctx, exchanges[0], opts)
				if err != nil {
					return err
				}
				rows, out = res.Rows, res
			}

			if csvDir == "" && cfg.Scan.SaveResults {
				csvDir = cfg.Scan.ResultsDir
			}
			if csvDir != "" {
				path, err := scan.WriteCSV(csvDir, timeframe, rows)
				if err != nil {
					return fmt.Errorf("write csv: %w", err)
				}
				logger.Info().Str("path", path).Int("signals", len(rows)).Msg("results written")
				return nil
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", string(domain.StyleMedium), "Trading style (scalping|short|medium|daily|weekly)")
	cmd.Flags().StringVar(&exchangesCSV, "exchanges", "", "Comma-separated exchange list (default: config)")
	cmd.Flags().IntVar(&topN, "top-n", 0, "Number of top signals to keep (default: config)")
	cmd.Flags().Float64Var(&minVolume, "min-volume", 0, "Minimum average volume in USD (default: config)")
	cmd.Flags().BoolVar(&fullAnalysis, "full-analysis", true, "Fetch extended history for the full indicator battery")
	cmd.Flags().StringVar(&csvDir, "csv", "", "Write results as CSV into this directory instead of stdout")
	return cmd
}
