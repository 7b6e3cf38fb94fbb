package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/comet/pkg/broker"
	"github.com/cuemby/comet/pkg/config"
	"github.com/cuemby/comet/pkg/log"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the VOEvent broker",
	Long: `Run the broker: accept events from authors on the receiver port, fan them
out to subscribers on the publisher port, and subscribe to remote brokers.

Settings come from the YAML file given with --config; flags that are set
explicitly override the file.

Examples:
  # Receive and publish on the default ports
  comet broker --local-ivo ivo://example.org/broker

  # Only accept submissions from the local network, save every event
  comet broker -c comet.yaml --whitelist 10.0.0.0/8 --plugin save-event

  # Relay events from an upstream broker
  comet broker --remote voevent.example.org:8099 --receiver-addr ""`,
	RunE: runBroker,
}

func init() {
	registerBrokerFlags(brokerCmd)
	rootCmd.AddCommand(brokerCmd)
}

func registerBrokerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("config", "c", "", "YAML configuration file")
	f.String("local-ivo", "", "IVO identifier of this broker")
	f.String("receiver-addr", "", `Address for author submissions ("" disables)`)
	f.String("publisher-addr", "", `Address for subscribers ("" disables)`)
	f.String("ivorn-db", "", "Directory for the IVORN ledger")
	f.StringSlice("whitelist", nil, "Networks allowed to submit events (CIDR or IP)")
	f.StringSlice("subscriber-whitelist", nil, "Networks allowed to subscribe (CIDR or IP)")
	f.StringSlice("remote", nil, "Remote broker to subscribe to (host[:port])")
	f.StringSlice("plugin", nil, fmt.Sprintf("Event handler plugin to enable %v", broker.PluginNames()))
	f.String("save-event-dir", "", "Directory used by the save-event plugin")
	f.String("metrics-addr", "", "Address for /health, /ready and /metrics")
	f.Bool("schema-first", false, "Run the schema check before deduplication")
}

func runBroker(cmd *cobra.Command, args []string) error {
	cfg, err := brokerConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	b, err := broker.New(cfg, broker.WithVersion(Version))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	b.Wait()
	return nil
}

// brokerConfig loads the config file, if any, and applies explicitly set flags
func brokerConfig(cmd *cobra.Command) (*config.Config, error) {
	f := cmd.Flags()

	cfg := config.Default()
	if path, _ := f.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.Changed("local-ivo") {
		cfg.LocalIVO, _ = f.GetString("local-ivo")
	}
	if f.Changed("receiver-addr") {
		cfg.ReceiverAddr, _ = f.GetString("receiver-addr")
	}
	if f.Changed("publisher-addr") {
		cfg.PublisherAddr, _ = f.GetString("publisher-addr")
	}
	if f.Changed("ivorn-db") {
		cfg.IVORNDB, _ = f.GetString("ivorn-db")
	}
	if f.Changed("whitelist") {
		cfg.Whitelist, _ = f.GetStringSlice("whitelist")
	}
	if f.Changed("subscriber-whitelist") {
		cfg.SubscriberWhitelist, _ = f.GetStringSlice("subscriber-whitelist")
	}
	if f.Changed("remote") {
		cfg.Remotes, _ = f.GetStringSlice("remote")
	}
	if f.Changed("plugin") {
		cfg.Plugins, _ = f.GetStringSlice("plugin")
	}
	if f.Changed("save-event-dir") {
		cfg.SaveEventDir, _ = f.GetString("save-event-dir")
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = f.GetString("metrics-addr")
	}
	if f.Changed("schema-first") {
		cfg.Validation.SchemaFirst, _ = f.GetBool("schema-first")
	}

	if f.Changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-json") {
		cfg.Log.JSON, _ = f.GetBool("log-json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
