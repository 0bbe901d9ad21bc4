// Package serve runs the edge server.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/heavystatus/newsroom-edge/cmd/cmdutil"
	"github.com/heavystatus/newsroom-edge/internal/app"
	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/logger"
	"github.com/heavystatus/newsroom-edge/internal/observability/metrics"
)

// Command creates the serve command.
func Command(env *cmdutil.Env) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the edge in front of the site",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := env.Loader()
			settings, err := loader.Load()
			if err != nil {
				return err
			}
			if listen != "" {
				settings.WebServer.Listen = listen
			}
			return run(cmd.Context(), loader, settings, env.Logger(settings))
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address, overrides webserver.listen")
	return cmd
}

func run(parent context.Context, loader *conf.Loader, settings *conf.Settings, log logger.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := metrics.NewMetrics()
	if err != nil {
		return err
	}
	a, err := app.New(settings, app.Options{Metrics: m, Log: log})
	if err != nil {
		return err
	}
	defer a.Close()

	if file := loader.ConfigFile(); file != "" {
		loader.Watch(func(next *conf.Settings) {
			if err := a.Reconfigure(ctx, next); err != nil {
				log.Error("failed to apply config change", logger.Error(err))
			}
		}, func(err error) {
			log.Warn("ignoring invalid config change", logger.Error(err))
		})
		log.Info("watching config", logger.String("file", file))
	}

	return a.Run(ctx)
}
