package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/janani-sekar/AEAExtensions/internal/config"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "aea-agent",
		Short: "Exploratory econometric analysis agent",
		Long: `aea-agent proposes analyses for an economics dataset, generates code for
each one, runs it in an isolated interpreter session and repairs failures
until every analysis reaches a verdict.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}
