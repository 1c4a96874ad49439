package main

import (
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/database"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/featurestore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/hpo"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/httpapi"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/objectstore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/orchestrator"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/pipeline"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/registry"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/tracker"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/validator"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the job orchestrator",
	Run: func(cmd *cobra.Command, args []string) {
		app := fx.New(
			configProvider(),
			logging.Module,
			logging.UseLoggingInterface,
			metricsProvider(),
			database.Module,
			objectstore.Module,
			featurestore.Module,
			registry.Module,
			tracker.Module,
			hpo.Module,
			validator.Module,
			pipeline.Module,
			orchestrator.Module,
			httpapi.Module,
			fx.Invoke(watchConfig),
		)
		app.Run()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configFilePath, "config", "c", "", "path to config file")
	serveCmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
	_ = serveCmd.MarkFlagRequired("config")
}

// metricsProvider wires one prometheus registry as both the Registerer the
// components write to and the Gatherer /metrics reads from.
func metricsProvider() fx.Option {
	return fx.Provide(
		func() *prometheus.Registry {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			return reg
		},
		func(reg *prometheus.Registry) prometheus.Registerer { return reg },
		func(reg *prometheus.Registry) prometheus.Gatherer { return reg },
	)
}

// watchConfig reloads the config file while serving. Only additive,
// hot-safe keys take effect; structural changes still need a restart.
func watchConfig(v *viper.Viper, logger logging.Interface) {
	v.OnConfigChange(func(event fsnotify.Event) {
		logger.WithField("file", event.Name).Info("configuration file changed")
	})
	v.WatchConfig()
}
