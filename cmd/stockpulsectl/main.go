// Command stockpulsectl runs pipeline operations against the configured
// storage without going through the HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"stockpulse.io/stockpulse/internal/app/modules"
	"stockpulse.io/stockpulse/internal/config"
	"stockpulse.io/stockpulse/internal/pkg/logger"
)

var Version = "dev"

// env is opened once per invocation by the root command.
type env struct {
	cfg      *config.Config
	infra    *modules.Infrastructure
	pipeline *modules.PipelineModule
	ops      *modules.OperationsModule
	out      io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	e := &env{out: out}
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "stockpulsectl",
		Short:         "Operate the stockpulse demand statistics pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.open(cmd, logLevel)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			e.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(processCmd(e))
	rootCmd.AddCommand(queueCmd(e))
	rootCmd.AddCommand(deadLetterCmd(e))
	rootCmd.AddCommand(retentionCmd(e))
	rootCmd.AddCommand(partitionsCmd(e))
	rootCmd.AddCommand(rollingCmd(e))
	rootCmd.AddCommand(recalcCmd(e))
	rootCmd.AddCommand(migrateCmd(e))
	return rootCmd
}

func (e *env) open(cmd *cobra.Command, logLevel string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logLevel, "console"); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	infra, err := modules.NewInfrastructure(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.infra = infra
	e.pipeline = modules.NewPipelineModule(infra)
	e.ops = modules.NewOperationsModule(infra)
	return nil
}

func (e *env) close() {
	e.infra.Close()
	logger.Sync()
}

func (e *env) print(v interface{}) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
