// cmd/serialctl/watch.go
package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"serial-core/pkg/driver"
	"serial-core/pkg/trace"
)

// watchCmd reads from a serial port continuously, printing received data.
// With --listen it also serves the live trace event stream over WebSocket
// so external tooling can observe the pipeline.
var watchCmd = &cobra.Command{
	Use:   "watch <port>",
	Short: "Continuously read from a serial port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		length, _ := cmd.Flags().GetInt("bytes")

		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.Trace.Listen
		}
		if listen != "" {
			stream := trace.NewStreamServer(traceBus, logger)
			mux := http.NewServeMux()
			mux.Handle("/trace", stream)
			go func() {
				if err := http.ListenAndServe(listen, mux); err != nil {
					logger.Error("Trace stream server failed", zap.Error(err))
				}
			}()
			fmt.Printf("Streaming trace events on ws://%s/trace\n", listen)
		}

		if err := registry.Register("cli", connectionConfig(cmd, path), nil); err != nil {
			return err
		}

		conn, err := registry.Get("cli")
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		for {
			result, err := conn.Execute(ctx, driver.NewRead(length))
			switch {
			case errors.Is(err, driver.ErrCancelled):
				return nil
			case err != nil:
				return err
			case result.OK():
				fmt.Printf("%s", result.Data)
			case result.Outcome == driver.OutcomeTimedOut:
				// Quiet line; keep polling.
			default:
				logger.Warn("Read failed",
					zap.String("error_kind", string(result.Kind)),
					zap.Error(result.Err),
				)
			}

			if ctx.Err() != nil {
				return nil
			}
		}
	},
}

func init() {
	watchCmd.Flags().Int("bytes", 256, "read chunk size")
	watchCmd.Flags().String("listen", "", "serve the trace event stream on this address")
	rootCmd.AddCommand(watchCmd)
}
