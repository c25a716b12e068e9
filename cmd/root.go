package cmd

import (
	"fmt"
	"os"

	"github.com/kerfworks/kerf/internal/app"
	"github.com/kerfworks/kerf/internal/batch"
	"github.com/kerfworks/kerf/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath      string
	dbPath          string
	pageSize        int
	strict          bool
	jsonOutput      bool
	metricsTextfile string
	maxRate         float64
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to config file (.hcl, .json, .toml, .yaml)")
	pf.StringVar(&dbPath, "db", "", "Path to the forest database (overrides config)")
	pf.IntVar(&pageSize, "page-size", 0, "Nodes loaded per page (overrides config)")
	pf.BoolVar(&strict, "strict", false, "Serialize edits and recalculation per project")
	pf.BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	pf.StringVar(&metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after each run")
	pf.Float64Var(&maxRate, "max-rate", 0, "Maximum node visits per second (0 = unlimited)")
}

var rootCmd = &cobra.Command{
	Use:           "kerf",
	Short:         "Kerf: hierarchical complexity scoring for cabinet projects",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database = dbPath
	}
	if flags.Changed("page-size") {
		cfg.PageSize = pageSize
	}
	if flags.Changed("strict") {
		cfg.Strict = strict
	}
	if flags.Changed("metrics-textfile") {
		cfg.MetricsTextfile = metricsTextfile
	}
	if flags.Changed("max-rate") {
		cfg.MaxRate = maxRate
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadApp(cmd *cobra.Command, progress func(batch.Progress)) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.Open(cfg, progress)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
