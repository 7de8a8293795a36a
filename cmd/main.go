/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chazu/neuron/internal/bootstrap"
	"github.com/chazu/neuron/pkg/loader"
	"github.com/chazu/neuron/pkg/metrics"
	"github.com/chazu/neuron/pkg/module"
)

var (
	// Global flags
	cfgFile     string
	verbose     bool
	dumpMetrics bool

	setupLog = logr.Discard()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "neuron",
	Short: "Resolve, fetch and locate modules of a neuron configuration",
	Long: `neuron inspects a module configuration the way the module manager
sees it at runtime.

  neuron resolve a@^1.0.0           # which version and subgraph serve an id
  neuron graph lint                 # check the resolution graph
  neuron fetch a@1.0.0 b@2.0.0      # load packages from the configured sources
  neuron url a@1.0.0/lib/b.js       # where a module is served from`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(verbose)
		if err != nil {
			return err
		}
		setupLog = logger
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if !dumpMetrics {
			return nil
		}
		return writeMetrics(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "neuron.cue", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log resolution and loading details")
	rootCmd.PersistentFlags().BoolVar(&dumpMetrics, "metrics", false, "print collected metrics after the command")

	rootCmd.AddCommand(newResolveCmd(), newGraphCmd(), newFetchCmd(), newURLCmd())
}

// newLogger returns a zap-backed logr.Logger writing to stderr
func newLogger(verbose bool) (logr.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true

	z, err := cfg.Build()
	if err != nil {
		return logr.Discard(), fmt.Errorf("failed to create logger: %w", err)
	}
	return zapr.NewLogger(z), nil
}

// writeMetrics prints the collected metrics in the Prometheus text format
func writeMetrics(cmd *cobra.Command) error {
	families, err := metrics.Registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(cmd.ErrOrStderr(), expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	return nil
}

// newRuntime loads the configuration and wires the module manager. Every
// manifest factory maps to a stub since the CLI never initializes modules.
func newRuntime() (*bootstrap.Runtime, error) {
	factories := loader.NewFactories()
	factories.SetFallback(func(*module.Require, module.Exports, *module.Instance, string, string) error {
		return nil
	})

	return bootstrap.Load(cfgFile, bootstrap.Options{
		Factories: factories,
		Logger:    setupLog,
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
