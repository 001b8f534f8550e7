// Camscan discovers IP cameras and related network equipment on the local
// network using multicast DNS (mDNS/DNS-SD).
//
// It sends phased service queries over every usable interface, listens for
// replies, and assembles a deduplicated inventory of responding devices.
//
// Usage:
//
//	camscan [command] [flags]
//
// Running without arguments performs a single scan and prints the results.
// See 'camscan --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/elkampu/wpfhikip-sub000/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "camscan",
	Short: "LAN camera and network device discovery",
	Long: `Camscan discovers IP cameras, recorders, printers and other network
equipment on the local network segment using multicast DNS.

If no command is specified, a single discovery scan runs and the
results are printed.`,
	Version: version.Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: scan when no subcommand provided
		return runScan(cmd, args)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "",
		"log verbosity (debug, info, warn, error); silent when unset")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("camscan %s (commit: %s)\n", version.Version, version.Commit)
	},
}
