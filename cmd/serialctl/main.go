// cmd/serialctl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"serial-core/internal/config"
	"serial-core/internal/logging"
	"serial-core/pkg/driver"
	"serial-core/pkg/trace"
)

// timePrecision rounds durations in human-facing output.
const timePrecision = time.Millisecond

var (
	cfg      *config.Config
	logger   *zap.Logger
	registry *driver.Registry
	traceBus *trace.BusSink
)

var rootCmd = &cobra.Command{
	Use:   "serialctl",
	Short: "Inspect and exercise serial connections",
	Long: `serialctl drives serial devices through the connection engine:
list available ports, send data, read responses and watch live trace
events for debugging.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger, err = logging.New(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		traceBus = trace.NewBusSink(cfg.Trace.BufferSize, logger)
		sink := trace.NewMultiSink(trace.NewLogSink(logger), traceBus)
		registry = driver.NewRegistry(logger, sink)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if registry != nil {
			registry.Shutdown(context.Background())
		}
		if traceBus != nil {
			traceBus.Close()
		}
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().Int("baud", 0, "baud rate override")
	rootCmd.PersistentFlags().Duration("timeout", 0, "operation timeout override")
	rootCmd.PersistentFlags().Int("retries", -1, "retry budget override")
}

// connectionConfig builds the connection configuration for a port path,
// applying command line overrides on top of the process defaults.
func connectionConfig(cmd *cobra.Command, path string) driver.ConnectionConfig {
	cc := cfg.ConnectionConfig(path)

	if baud, _ := cmd.Flags().GetInt("baud"); baud > 0 {
		cc.BaudRate = baud
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		cc.Timeout = timeout
	}
	if retries, _ := cmd.Flags().GetInt("retries"); retries >= 0 {
		cc.Retries = retries
	}
	return cc
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
