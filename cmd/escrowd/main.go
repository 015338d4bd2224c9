// escrowd runs the remote-work escrow ledger.
//
// Usage:
//
//	escrowd serve [--config=<path>] [--rate-limit=<n>]
//	escrowd mcp   [--config=<path>] [--as=<identity> | --api-key=<key>]
//	escrowd audit [--config=<path>]
//	escrowd keys issue --wallet=<identity> [--label=<text>]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "escrowd",
	Short: "Escrow ledger for remote work engagements",
	Long:  "escrowd holds task deposits in custody and releases them to agents,\nowners or by arbiter ruling.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("ESCROW_CONFIG"), "Path to YAML config (ESCROW_CONFIG)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
