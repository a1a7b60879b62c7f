package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	httpcmd "github.com/talktorobson/yellow-grid-booking/cmd/http"
	systemcmd "github.com/talktorobson/yellow-grid-booking/cmd/system"
)

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "yellow-grid-booking",
	Short: "Slot reservation and booking lifecycle engine for field services.",
	Long: `Yellow Grid booking engine: reserves installation time slots against
provider capacity, walks bookings through their lifecycle, and serves the
scheduling calendar.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global config flag, available for all commands.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")

	// Attach top-level command trees.
	rootCmd.AddCommand(systemcmd.NewSystemCommand())
	rootCmd.AddCommand(httpcmd.NewHTTPCommand())
}
