package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/trackstack/cli/internal/config"
	"github.com/telhawk-systems/trackstack/cli/pkg/output"
	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/tracker/platform"
)

var (
	cfgFile        string
	outputFormat   string
	endpoint       string
	storageBackend string
	storagePath    string
	logLevel       string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trackctl",
	Short: "Trackstack tracker agent",
	Long: `trackctl runs the trackstack tracker from the command line.

Send events to an ingestion gateway, replay NDJSON streams, generate
synthetic traffic and inspect the locally persisted queue and identity.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./trackctl.yaml or $HOME/.trackstack/trackctl.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", output.FormatTable, "output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "ingestion gateway base URL")
	rootCmd.PersistentFlags().StringVar(&storageBackend, "storage-backend", "", "local storage backend: pebble, sqlite, memory")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage-path", "", "local storage location")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// loadConfig applies the config cascade and then any explicitly set flags.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		c.Endpoint = endpoint
	}
	if flags.Changed("storage-backend") {
		c.Storage.Backend = storageBackend
	}
	if flags.Changed("storage-path") {
		c.Storage.Path = storagePath
	}
	if flags.Changed("log-level") {
		c.Logging.Level = logLevel
	}
	switch outputFormat {
	case output.FormatTable, output.FormatJSON, output.FormatYAML:
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = c
	logger = logging.NewWithWriter(cmd.ErrOrStderr(), logging.ParseLevel(c.Logging.Level), c.Logging.Format).Logger
	return nil
}

func openStorage() (platform.Storage, error) {
	s, err := platform.OpenStorage(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s storage at %s: %w", cfg.Storage.Backend, cfg.Storage.Path, err)
	}
	return s, nil
}
