// cmd/serialctl/read.go
package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"serial-core/pkg/behavior"
	"serial-core/pkg/driver"
)

// readCmd reads bytes from a serial port through the pipeline.
var readCmd = &cobra.Command{
	Use:   "read <port>",
	Short: "Read data from a serial port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		length, _ := cmd.Flags().GetInt("bytes")

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

		result, err := conn.Execute(ctx, driver.NewRead(length))
		if err != nil {
			return err
		}
		if !result.OK() {
			return fmt.Errorf("read failed after %d attempts: %w", result.Attempts, result.Err)
		}

		if hexMode, _ := cmd.Flags().GetBool("hex"); hexMode {
			fmt.Println(hex.EncodeToString(result.Data))
		} else {
			fmt.Printf("%s\n", result.Data)
		}
		return nil
	},
}

func init() {
	readCmd.Flags().Int("bytes", 64, "maximum number of bytes to read")
	readCmd.Flags().Bool("hex", false, "print received data as hex")
	readCmd.Flags().Bool("line", false, "expect a CRLF-terminated line")
	rootCmd.AddCommand(readCmd)
}
