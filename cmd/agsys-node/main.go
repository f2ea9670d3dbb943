// AgSys Field Node
// Main entry point for the battery-powered field sensor node
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agsys/field-node/internal/metrics"
)

const version = "0.1.0"

var (
	configFile string
	runOnce    bool

	rootCmd = &cobra.Command{
		Use:   "agsys-node",
		Short: "AgSys Field Node",
		Long:  "Field sensor node for the AgSys agricultural IoT system. Samples soil and ambient conditions and reports to a webhook between deep sleeps.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the node",
		RunE:  runNode,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", configFile)
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "AgSys Field Node v%s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/agsys/node.yaml", "Configuration file path")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Exit at the first deep sleep instead of rebooting")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer srv.Close()
		logger.Info().Str("addr", cfg.Metrics.Listen).Msg("Serving metrics")
	}

	logger.Info().Str("node_id", cfg.Node.ID).Str("version", version).Msg("Starting AgSys Field Node")

	b := &booter{
		config:  cfg,
		logger:  logger,
		metrics: m,
		open:    openHardware,
		once:    runOnce,
	}
	if err := b.loop(ctx); err != nil {
		return err
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}
