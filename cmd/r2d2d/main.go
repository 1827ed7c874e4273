// Package main contains the r2d2 daemon. It wires the store, query
// engine, and TCP surface together behind a cobra command line with an
// optional TOML configuration file.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scigolib/r2d2"
	"github.com/scigolib/r2d2/internal/query"
	"github.com/scigolib/r2d2/internal/server"
)

// config mirrors the TOML file layout. Flags override file values.
type config struct {
	Addr     string `toml:"addr"`
	DataPath string `toml:"data_path"`
	FanOut   int    `toml:"fan_out"`
	Schema   string `toml:"schema"`
	LogLevel string `toml:"log_level"`
}

func defaultConfig() config {
	return config{
		Addr:     server.DefaultAddr,
		DataPath: r2d2.DefaultDataPath,
		FanOut:   r2d2.DefaultFanOut,
		LogLevel: "info",
	}
}

func main() {
	flags := defaultConfig()
	configFile := ""

	rootCmd := &cobra.Command{
		Use:   "r2d2d",
		Short: "Time-series document store daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, flags, configFile)
			if err != nil {
				return err
			}
			return run(cfg)
		},
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVar(&flags.Addr, "addr", flags.Addr, "listen address")
	rootCmd.Flags().StringVar(&flags.DataPath, "data-path", flags.DataPath, "directory for snapshots, schemas and CSV dumps")
	rootCmd.Flags().IntVar(&flags.FanOut, "fan-out", flags.FanOut, "index fan-out (minimum 3)")
	rootCmd.Flags().StringVar(&flags.Schema, "schema", flags.Schema, "schema file inside the data directory to load on startup")
	rootCmd.Flags().StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&configFile, "config", "", "TOML configuration file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfig layers defaults, the TOML file, and explicitly set flags,
// in that order.
func resolveConfig(cmd *cobra.Command, flags config, configFile string) (config, error) {
	cfg := defaultConfig()

	if configFile != "" {
		if _, err := toml.DecodeFile(configFile, &cfg); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", configFile, err)
		}
	}

	if cmd.Flags().Changed("addr") {
		cfg.Addr = flags.Addr
	}
	if cmd.Flags().Changed("data-path") {
		cfg.DataPath = flags.DataPath
	}
	if cmd.Flags().Changed("fan-out") {
		cfg.FanOut = flags.FanOut
	}
	if cmd.Flags().Changed("schema") {
		cfg.Schema = flags.Schema
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	return cfg, nil
}

func run(cfg config) error {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	db, err := r2d2.Init(r2d2.Config{DataPath: cfg.DataPath, FanOut: cfg.FanOut})
	if err != nil {
		return err
	}

	if cfg.Schema != "" {
		if err := db.LoadSchema(cfg.Schema); err != nil {
			return fmt.Errorf("startup schema: %w", err)
		}
		log.WithField("schema", cfg.Schema).Info("schema loaded")
	}

	engine := query.New(db, log)
	srv := server.New(cfg.Addr, engine, log)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case sig := <-done:
		log.WithField("signal", sig.String()).Info("shutting down")
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
