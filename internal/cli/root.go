// Package cli implements fanoutctl, the operator tool for the event pipeline.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/config"
	"github.com/spf13/cobra"
)

type options struct {
	cfgFile  string
	logLevel string
}

// NewRootCmd builds the fanoutctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "fanoutctl",
		Short: "Inspect and exercise the order event pipeline",
		Long: `fanoutctl is the operator tool for the order event pipeline.

Simulate duplicated and reordered deliveries in memory, list the configured
consumers, inspect the delivery trail of an event and requeue outbox rows a
crashed relay left behind.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default: $CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		newSimulateCmd(opts),
		newConsumersCmd(opts),
		newDeliveriesCmd(opts),
		newOutboxCmd(opts),
	)

	return root
}

func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *options) config() (*config.Config, error) {
	path := o.cfgFile
	if path == "" {
		path = config.Path()
	}
	return config.Load(path)
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
