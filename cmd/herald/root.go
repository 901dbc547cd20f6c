// herald renders message trees and dispatches them to a platform.
//
// Usage:
//
//	herald render <tree.yaml>
//	herald dispatch <tree.yaml> --target <id> [--target <id>...] [--transport graph|nats]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:   "herald",
	Short: "Render and dispatch declarative message trees",
	Long: "Herald renders a declarative message tree into platform segments, compiles\n" +
		"them into API calls and dispatches them in order, one target at a time.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the production logger at the requested level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
