package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "treeherd",
	Short: "Headless Treeherder dashboard session",
	Long: `treeherd keeps one dashboard session synchronized against a
Treeherder-compatible backend: it loads the push range named by the URL
query, polls for new pushes and jobs, resolves the selected job and keeps
unclassified failure counts current. State is served over HTTP for a
rendering layer.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	RunE:         runServe,
}

var rootFlags struct {
	configPath string
	query      string
	backendURL string
	logLevel   string
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&rootFlags.configPath, "config", "", "Path to configuration file (TOML)")
	f.StringVar(&rootFlags.query, "url", "", "Initial dashboard query string, e.g. \"repo=try&revision=abc123\"")
	f.StringVar(&rootFlags.backendURL, "backend", "", "Treeherder backend URL (overrides [backend] url)")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides [logging] level)")

	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
