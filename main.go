// Package main runs the modalhub HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"modalhub/internal/config"
)

var (
	// configPath points at the JSON config file
	configPath string
	// version information
	version = "dev"
)

func main() {
	// a missing .env is fine; real environment variables still apply
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "modalhub",
	Short: "Todo API and multi-modal assistant server",
	Long: `modalhub serves a todo list API and an assistant that routes chat
messages to code, image, audio or conversation generators.

Running without a subcommand starts the server.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server.

Examples:
  # Use config.json from the working directory when present
  modalhub serve

  # Use an explicit config file
  modalhub serve --config /etc/modalhub/config.json`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the JSON config file (default $"+config.ConfigPathEnv+")")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
