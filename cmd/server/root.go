package main

import (
	"match-service/internal/config"
	"match-service/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const appName = "match-service"

var (
	cfgFile  string
	debug    bool
	jsonLogs bool

	rootCmd = &cobra.Command{
		Use:          appName,
		Short:        "match-service scores resumes against jobs and serves cached rankings",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd.RunE(cmd, args)
		},
	}
)

// Execute runs the root command; with no subcommand it serves HTTP.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional config file (yaml, toml or json); environment variables take precedence")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&jsonLogs, "json", "j", false, "json format for logging")
}

// loadRuntime loads the configuration and builds the process logger. The
// command line flags only ever switch logging options on.
func loadRuntime() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg.Log.Debug = cfg.Log.Debug || debug
	cfg.Log.JSON = cfg.Log.JSON || jsonLogs

	log, err := logger.New(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}
