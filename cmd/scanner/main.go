package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/smartdevs17/vault-event-scanner/internal/config"
	"github.com/smartdevs17/vault-event-scanner/internal/connection"
	"github.com/smartdevs17/vault-event-scanner/internal/metrics"
	"github.com/smartdevs17/vault-event-scanner/internal/output"
	"github.com/smartdevs17/vault-event-scanner/internal/sink"
	"github.com/smartdevs17/vault-event-scanner/internal/storage"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// rootCmd scans when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "vault-event-scanner",
	Short: "Staking vault event scanner",
	Long: `Scans an EVM chain for Deposited, Withdrawn and RewardsAdded events of a
staking vault, from the deployment block to the chain head, and prints them
in block order.`,
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runScan,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the vault once and print its events",
	RunE:  runScan,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and Prometheus metrics",
	RunE:  runServe,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded scans",
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Vault Event Scanner %s\n", AppVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration is valid!")
		fmt.Fprintf(out, "Environment: %s\n", cfg.App.Environment)
		fmt.Fprintf(out, "Node: %s (%d backups)\n", cfg.RPC.NodeURL, len(cfg.RPC.BackupNodes))
		fmt.Fprintf(out, "Contract: %s\n", cfg.Scanner.ContractAddress)
		fmt.Fprintf(out, "Start block: %d, max span: %d, delay: %s (%s)\n",
			cfg.Scanner.StartBlock, cfg.Scanner.MaxSpan, cfg.Scanner.RequestDelay, cfg.Scanner.Limiter)
		if cfg.Storage.Enabled {
			fmt.Fprintf(out, "Storage: %s\n", cfg.Storage.Type)
		} else {
			fmt.Fprintln(out, "Storage: disabled")
		}
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test node, storage and sink connectivity",
	RunE:  runConnectivityTest,
}

func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return cfg, nil
}

func newPrinter(cmd *cobra.Command) (*output.Printer, error) {
	return output.NewPrinter(cmd.OutOrStdout(), output.Options{
		Format: viper.GetString("format"),
		Human:  viper.GetBool("human"),
	})
}

func runScan(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg, metrics.NewManager())
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := app.RunScan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return printer.PrintResult(result)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg, metrics.NewManager())
	if err != nil {
		return err
	}
	defer app.Close()

	srv := app.NewServer(AppVersion)
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	utils.GetLogger().Info("Received shutdown signal, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func runHistory(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if !cfg.Storage.Enabled {
		return fmt.Errorf("scan history needs storage.enabled: true")
	}
	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
		return err
	}

	store, err := storage.Open(&cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.GetScanRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	return printer.PrintRuns(runs)
}

func runConnectivityTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.RPC.RequestTimeout)
	defer cancel()

	fmt.Fprintf(out, "Testing node connection to %s...\n", cfg.RPC.NodeURL)
	conn := connection.NewConnectionManager(&cfg.RPC, nil)
	defer conn.Close()
	if err := conn.HealthCheckWithContext(ctx); err != nil {
		return fmt.Errorf("node connection failed: %w", err)
	}
	stats := conn.Stats()
	fmt.Fprintf(out, "✓ Connected to %s (network %d, head %d)\n", stats.CurrentURL, stats.NetworkID, stats.LatestBlock)

	if cfg.Storage.Enabled {
		fmt.Fprintf(out, "Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.Open(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("storage connection failed: %w", err)
		}
		defer store.Close()
		fmt.Fprintln(out, "✓ Storage connection successful")
	}

	if cfg.Sinks.NATS.Enabled {
		fmt.Fprintf(out, "Testing NATS connection to %s...\n", cfg.Sinks.NATS.URL)
		natsSink, err := sink.ConnectNATS(cfg.Sinks.NATS)
		if err != nil {
			return fmt.Errorf("nats connection failed: %w", err)
		}
		natsSink.Close()
		fmt.Fprintln(out, "✓ NATS connection successful")
	}

	fmt.Fprintln(out, "\nAll connectivity tests passed! ✓")
	return nil
}

func bindFlag(key string, flags *pflag.FlagSet, name string) {
	if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
		panic(err)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file path")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.Bool("debug", false, "enable debug mode")
	flags.StringP("format", "o", output.FormatText, "output format (text, json)")
	flags.Bool("human", false, "format amounts, timestamps and addresses for reading")

	flags.String("rpc-url", "", "node JSON-RPC URL")
	flags.String("contract", "", "vault contract address")
	flags.Uint64("start-block", 10300040, "first block to scan")
	flags.Uint64("max-span", 9999, "blocks per eth_getLogs query, minus one")
	flags.Duration("delay", 500*time.Millisecond, "delay between node requests")
	flags.String("limiter", "fixed", "rate limiter (fixed, token_bucket)")
	flags.Int("concurrency", 1, "sub-ranges fetched in parallel")
	flags.String("tie-break", "log_index", "order of same-block events (log_index, fetch_order)")
	flags.StringSlice("events", nil, "events to scan for (default all)")
	flags.Int("retries", 3, "retries per request on transient node errors")

	bindFlag("config", flags, "config")
	bindFlag("logging.level", flags, "log-level")
	bindFlag("app.debug", flags, "debug")
	bindFlag("format", flags, "format")
	bindFlag("human", flags, "human")
	bindFlag("rpc.node_url", flags, "rpc-url")
	bindFlag("scanner.contract_address", flags, "contract")
	bindFlag("scanner.start_block", flags, "start-block")
	bindFlag("scanner.max_span", flags, "max-span")
	bindFlag("scanner.request_delay", flags, "delay")
	bindFlag("scanner.limiter", flags, "limiter")
	bindFlag("scanner.concurrency", flags, "concurrency")
	bindFlag("scanner.tie_break", flags, "tie-break")
	bindFlag("scanner.events", flags, "events")
	bindFlag("scanner.retry.max_attempts", flags, "retries")

	historyCmd.Flags().Int("limit", 20, "number of scans to list")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
