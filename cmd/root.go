package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forcesim/forcesim-client/forcesim/client"
)

var (
	logLevel     string // Log verbosity level
	instanceAddr string // Address of the forcesim instance
	instancePort int    // HTTP port of the forcesim instance
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "forcesim-client",
	Short: "Client for forcesim market simulation instances",
}

// setupLogging applies --log to the standard logger.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

func newClient() *client.Client {
	return client.New(instanceAddr, instancePort,
		client.WithLogger(logrus.WithField("component", "client")))
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags shared by all subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&instanceAddr, "instance-addr", "127.0.0.1", "Address of the forcesim instance")
	rootCmd.PersistentFlags().IntVar(&instancePort, "instance-port", 18080, "HTTP port of the forcesim instance")
}
