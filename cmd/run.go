package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forcesim/forcesim-client/forcesim/loader"
	"github.com/forcesim/forcesim-client/forcesim/session"
	"github.com/forcesim/forcesim-client/forcesim/subscriber"
)

var (
	agentsPath      string // JSON agent definitions (file or directory)
	subscribersPath string // JSON subscriber definitions (file or directory)
	infoPath        string // JSON info definitions (file or directory)
	configPath      string // YAML run configuration
	metricsAddr     string // Listen address for the Prometheus endpoint
)

// runCmd drives a configured run against the instance
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Populate the market, run the info sequence and collect subscriber data",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		cfg, err := loader.LoadConfig(configPath)
		if err != nil {
			logrus.Fatalf("Failed to load config: %v", err)
		}
		log := logrus.WithField("component", "loader")
		agents, err := loader.LoadAgents(log, agentsPath)
		if err != nil {
			logrus.Fatalf("Failed to load agents: %v", err)
		}
		subscribers, err := loader.LoadSubscribers(log, subscribersPath)
		if err != nil {
			logrus.Fatalf("Failed to load subscribers: %v", err)
		}
		info, err := loader.LoadInfo(log, infoPath)
		if err != nil {
			logrus.Fatalf("Failed to load info: %v", err)
		}
		logrus.Infof("Loaded %d agents, %d subscribers and %d infos", len(agents), len(subscribers), len(info))

		registry := prometheus.NewRegistry()
		metrics := subscriber.NewMetrics(registry)
		if metricsAddr != "" {
			serveMetrics(metricsAddr, registry)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		runner := &session.Runner{
			Client:      newClient(),
			Config:      cfg,
			Agents:      agents,
			Subscribers: subscribers,
			Info:        info,
			Log:         logrus.WithField("component", "session"),
			Metrics:     metrics,
		}
		res, err := runner.Run(ctx)
		if err != nil {
			logrus.Fatalf("Run failed: %v", err)
		}

		names := make([]string, 0, len(res.PointFiles))
		for name := range res.PointFiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			logrus.Infof("Points of %s written to %s", name, res.PointFiles[name])
		}
		logrus.Infof("Run complete. Results in %s", res.OutputDir)
	},
}

// serveMetrics exposes reg on addr/metrics in the background.
func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("Metrics endpoint stopped: %v", err)
		}
	}()
	logrus.Infof("Serving metrics on %s/metrics", addr)
}

func init() {
	runCmd.Flags().StringVar(&agentsPath, "agents-json", "", "Agent definitions: JSON file or directory searched recursively")
	runCmd.Flags().StringVar(&subscribersPath, "subscribers-json", "", "Subscriber definitions: JSON file or directory searched recursively")
	runCmd.Flags().StringVar(&infoPath, "info-json", "", "Info definitions: JSON file or directory searched recursively")
	runCmd.Flags().StringVar(&configPath, "config-yaml", "", "Run configuration (YAML)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (disabled when empty)")
	_ = runCmd.MarkFlagRequired("config-yaml")

	rootCmd.AddCommand(runCmd)
}
