// Command statsockd hosts a stats agent until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/statsock/internal/constants"
	"github.com/hyp3rd/statsock/pkg/agent"
	"github.com/hyp3rd/statsock/pkg/config"
)

var (
	configFile  string
	watchConfig bool
)

var rootCmd = &cobra.Command{
	Use:           "statsockd",
	Short:         "Serve process counters over a Unix socket",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", config.DefaultConfigFile, "YAML configuration file")
	rootCmd.Flags().BoolVar(&watchConfig, "watch", false, "Reload logging settings when the config file changes")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		stop()
		log.Fatalf("statsockd: %v", err)
	}
}

func run(ctx context.Context) error {
	a, err := agent.Start(ctx,
		agent.WithLoaders(
			config.FileLoader{Path: configFile},
			config.EnvLoader{},
		),
		agent.WithConfigWatcher(watchConfig),
	)
	if err != nil {
		return err
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.DefaultShutdownTimeout)
	defer cancel()

	a.Logger().Info(shutdownCtx, "shutting down", attribute.String("cause", context.Cause(ctx).Error()))

	return a.Shutdown(shutdownCtx)
}
