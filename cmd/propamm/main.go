package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fahimahmedx/prop-amm/internal/api"
	"github.com/fahimahmedx/prop-amm/internal/auth"
	"github.com/fahimahmedx/prop-amm/internal/chain"
	"github.com/fahimahmedx/prop-amm/internal/config"
	"github.com/fahimahmedx/prop-amm/internal/curve"
	"github.com/fahimahmedx/prop-amm/internal/engine"
	"github.com/fahimahmedx/prop-amm/internal/model"
	"github.com/fahimahmedx/prop-amm/internal/oracle"
	"github.com/fahimahmedx/prop-amm/internal/pair"
	"github.com/fahimahmedx/prop-amm/internal/params"
	"github.com/fahimahmedx/prop-amm/internal/storage"
	"github.com/fahimahmedx/prop-amm/internal/storage/postgres"
	"github.com/fahimahmedx/prop-amm/internal/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:          "propamm",
		Short:        "Proprietary market maker venue",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trading service",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen", ":8547", "HTTP listen address")
	serveCmd.Flags().String("owner", "", "market maker address (privileged caller)")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN for trade records")
	serveCmd.Flags().String("trades-out", "./data/trades.jsonl", "trade record JSONL path (used when pg-dsn is empty)")
	serveCmd.Flags().Uint64("fee-millionth", 0, "payout fee in parts per million (0 disables fees)")
	serveCmd.Flags().Uint64("deviation-bps", 0, "lock threshold in basis points (0 keeps the default 500)")
	serveCmd.Flags().Duration("volume-window", 5*time.Minute, "volume telemetry window")
	serveCmd.Flags().String("oracle-rpc", "", "RPC URL for oracle-fed multipliers (empty disables the oracle)")
	serveCmd.Flags().StringSlice("oracle-binding", nil, "pairId=aggregator[:xRetain:yRetain] bindings (comma-separated)")
	serveCmd.Flags().Duration("oracle-interval", 15*time.Second, "minimum interval between oracle refreshes per pair")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a hypothetical swap offline from explicit curve inputs",
		RunE:  runQuote,
	}

	quoteCmd.Flags().String("target-x", "0", "cumulative net X deposit")
	quoteCmd.Flags().Uint64("concentration", 1, "curve concentration")
	quoteCmd.Flags().String("reserve-x", "0", "current X reserve")
	quoteCmd.Flags().String("mult-x", "0", "X price multiplier")
	quoteCmd.Flags().String("mult-y", "0", "Y price multiplier")
	quoteCmd.Flags().String("amount-in", "0", "input amount")
	quoteCmd.Flags().String("direction", "x_to_y", "x_to_y or y_to_x")

	root.AddCommand(quoteCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !common.IsHexAddress(cfg.Owner) {
		return fmt.Errorf("owner address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink storage.TradeSink
	var pgStore *postgres.Store
	if cfg.PGDSN != "" {
		pgStore, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgStore.Close()
		sink = pgStore
	} else {
		sink = storage.NewJsonlStorage(cfg.TradesOut)
	}

	recorder := telemetry.NewRecorder(sink, cfg.VolumeWindow, 0)
	paramStore := params.NewMemoryStore()
	book := pair.NewBook()
	policy := auth.NewSingleOwner(common.HexToAddress(cfg.Owner))

	eng := engine.New(engine.Config{
		FeeMillionth: cfg.FeeMillionth,
		DeviationBps: cfg.DeviationBps,
	}, book, paramStore, policy, recorder, logger)

	if cfg.OracleRPC != "" {
		bindings, err := parseOracleBindings(cfg.OracleBindings)
		if err != nil {
			return err
		}
		chainClient, err := chain.NewClient(ctx, cfg.OracleRPC)
		if err != nil {
			return fmt.Errorf("connect oracle rpc: %w", err)
		}
		defer chainClient.Close()

		feed := oracle.NewChainFeed(chainClient, bindings, logger)
		source := oracle.NewFeedSource(feed, paramStore, logger)
		source.MinInterval = cfg.OracleInterval
		eng.SetMultiplierSource(source)
	}

	server := api.NewServer(eng, recorder, logger)

	if pgStore != nil {
		go snapshotLoop(ctx, eng, pgStore, cfg.VolumeWindow, logger)
	}

	logger.Info("service start",
		zap.String("listen", cfg.Listen),
		zap.String("owner", cfg.Owner),
		zap.Uint64("fee_millionth", cfg.FeeMillionth),
		zap.Bool("oracle_enabled", cfg.OracleRPC != ""),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// snapshotLoop periodically upserts every pair's state so the pairs table
// tracks reserves and lock status between restarts.
func snapshotLoop(ctx context.Context, eng *engine.Engine, store *postgres.Store, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ids := eng.Pairs()
		snaps := make([]model.PairSnapshot, 0, len(ids))
		for _, id := range ids {
			snap, err := eng.Snapshot(id)
			if err != nil {
				continue
			}
			snaps = append(snaps, snap)
		}
		if err := store.UpsertPairSnapshots(ctx, snaps); err != nil {
			logger.Error("persist pair snapshots failed", zap.Error(err))
		}
	}
}

func runQuote(cmd *cobra.Command, _ []string) error {
	in := curve.Inputs{}
	var err error

	if in.TargetX, err = flagAmount(cmd, "target-x"); err != nil {
		return err
	}
	if in.ReserveX, err = flagAmount(cmd, "reserve-x"); err != nil {
		return err
	}
	if in.MultX, err = flagAmount(cmd, "mult-x"); err != nil {
		return err
	}
	if in.MultY, err = flagAmount(cmd, "mult-y"); err != nil {
		return err
	}
	in.Concentration, _ = cmd.Flags().GetUint64("concentration")

	amountIn, err := flagAmount(cmd, "amount-in")
	if err != nil {
		return err
	}

	direction, _ := cmd.Flags().GetString("direction")
	var out *uint256.Int
	switch direction {
	case "x_to_y":
		out, err = curve.QuoteXToY(in, amountIn)
	case "y_to_x":
		out, err = curve.QuoteYToX(in, amountIn)
	default:
		return fmt.Errorf("direction must be x_to_y or y_to_x")
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), out.Dec())
	return nil
}

func flagAmount(cmd *cobra.Command, name string) (*uint256.Int, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil {
		return nil, err
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// parseOracleBindings reads pairId=aggregator or
// pairId=aggregator:xRetain:yRetain entries.
func parseOracleBindings(entries []string) (map[common.Hash]oracle.Binding, error) {
	out := make(map[common.Hash]oracle.Binding, len(entries))
	for _, entry := range entries {
		key, value, found := strings.Cut(entry, "=")
		if !found {
			return nil, fmt.Errorf("oracle binding %q: expected pairId=aggregator", entry)
		}
		if len(key) != 66 || !strings.HasPrefix(key, "0x") {
			return nil, fmt.Errorf("oracle binding %q: malformed pair id", entry)
		}

		parts := strings.Split(value, ":")
		if !common.IsHexAddress(parts[0]) {
			return nil, fmt.Errorf("oracle binding %q: malformed aggregator address", entry)
		}
		binding := oracle.Binding{Aggregator: common.HexToAddress(parts[0])}
		if len(parts) == 3 {
			var xRetain, yRetain uint8
			if _, err := fmt.Sscanf(parts[1]+":"+parts[2], "%d:%d", &xRetain, &yRetain); err != nil {
				return nil, fmt.Errorf("oracle binding %q: malformed retain decimals", entry)
			}
			binding.XRetainDecimals = xRetain
			binding.YRetainDecimals = yRetain
		} else if len(parts) != 1 {
			return nil, fmt.Errorf("oracle binding %q: expected aggregator[:xRetain:yRetain]", entry)
		}

		out[common.HexToHash(key)] = binding
	}
	return out, nil
}
