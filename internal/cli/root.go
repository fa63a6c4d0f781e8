// Package cli wires the stories commands: the widget service and a few
// inspection tools for the feeds it plays.
package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/stories/internal/config"
	"github.com/stwalsh4118/stories/internal/logger"
)

var (
	cfgFile  string
	jsonOut  bool
	logLevel string

	cfg *config.Config

	reloadMu    sync.Mutex
	reloadHooks []func(*config.Config)
)

var rootCmd = &cobra.Command{
	Use:   "stories",
	Short: "Vertical video stories widget service",
	Long: `Stories serves the activation engine behind a scrollable vertical video
widget: one playing video at a time, a bounded window of prepared players,
bounded retries, captions and overlay state.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml, ./config/config.yaml, /etc/stories/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

func initConfig() error {
	var err error
	cfg, err = config.Watch(cfgFile, applyReload, func(err error) {
		logger.Log.Error().Err(err).Msg("Ignoring invalid configuration change")
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)
	return nil
}

// onReload registers fn to run with every valid configuration change
func onReload(fn func(*config.Config)) {
	reloadMu.Lock()
	defer reloadMu.Unlock()
	reloadHooks = append(reloadHooks, fn)
}

func applyReload(next *config.Config) {
	if logLevel != "" {
		next.Logging.Level = logLevel
	}
	logger.SetLevel(next.Logging.Level)
	logger.Log.Info().Str("level", next.Logging.Level).Msg("Configuration reloaded")

	reloadMu.Lock()
	hooks := make([]func(*config.Config), len(reloadHooks))
	copy(hooks, reloadHooks)
	reloadMu.Unlock()
	for _, fn := range hooks {
		fn(next)
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Config returns the loaded configuration.
func Config() *config.Config {
	return cfg
}

// JSONOutput returns true if JSON output is requested.
func JSONOutput() bool {
	return jsonOut
}
