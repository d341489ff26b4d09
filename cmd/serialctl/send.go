// cmd/serialctl/send.go
package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"serial-core/pkg/behavior"
	"serial-core/pkg/driver"
)

// sendCmd writes a payload to a serial port through the pipeline.
var sendCmd = &cobra.Command{
	Use:   "send <port> <data>",
	Short: "Send data to a serial port",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, data := args[0], args[1]

		payload := []byte(data)
		if hexMode, _ := cmd.Flags().GetBool("hex"); hexMode {
			decoded, err := hex.DecodeString(strings.ReplaceAll(data, " ", ""))
			if err != nil {
				return fmt.Errorf("invalid hex data: %w", err)
			}
			payload = decoded
		}

		var b behavior.Behavior
		if line, _ := cmd.Flags().GetBool("line"); line {
			b = behavior.NewLineFraming("")
		}

		if err := registry.Register("cli", connectionConfig(cmd, path), b); err != nil {
			return err
		}

		conn, err := registry.Get("cli")
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		result, err := conn.Execute(ctx, driver.NewWrite(payload))
		if err != nil {
			return err
		}
		if !result.OK() {
			return fmt.Errorf("write failed after %d attempts: %w", result.Attempts, result.Err)
		}

		fmt.Printf("Sent %d bytes to %s in %s (%d attempts)\n",
			len(payload), path, result.Elapsed.Round(timePrecision), result.Attempts)
		return nil
	},
}

func init() {
	sendCmd.Flags().Bool("hex", false, "interpret data as hex bytes")
	sendCmd.Flags().Bool("line", false, "frame data as a CRLF-terminated line")
	rootCmd.AddCommand(sendCmd)
}
