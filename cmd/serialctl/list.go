// cmd/serialctl/list.go
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"serial-core/pkg/driver"
)

// listCmd enumerates the serial ports available on this system.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := driver.ListPorts()
		if err != nil {
			return err
		}

		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(ports)
		}

		for _, p := range ports {
			fmt.Printf("%s\t%d %d%s%d\n", p.Name, p.BaudRate, p.DataBits, parityLetter(p.Parity), p.StopBits)
		}
		return nil
	},
}

func parityLetter(parity string) string {
	switch parity {
	case "odd":
		return "O"
	case "even":
		return "E"
	default:
		return "N"
	}
}

func init() {
	listCmd.Flags().Bool("json", false, "print port list as JSON")
	rootCmd.AddCommand(listCmd)
}
