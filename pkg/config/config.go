package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/comet/pkg/log"
	"github.com/cuemby/comet/pkg/types"
	"github.com/cuemby/comet/pkg/whitelist"
)

// DefaultRemotePort is used when a remote is given without a port
const DefaultRemotePort = 8099

// Config is the complete broker configuration
type Config struct {
	LocalIVO            string           `yaml:"local_ivo"`
	ReceiverAddr        string           `yaml:"receiver_addr"`  // Empty disables the receiver
	PublisherAddr       string           `yaml:"publisher_addr"` // Empty disables the publisher port
	IVORNDB             string           `yaml:"ivorn_db"`       // Directory holding the IVORN ledger
	Whitelist           []string         `yaml:"whitelist"`
	SubscriberWhitelist []string         `yaml:"subscriber_whitelist"`
	Remotes             []string         `yaml:"remotes"`
	MetricsAddr         string           `yaml:"metrics_addr"` // Empty disables HTTP health and metrics
	Plugins             []string         `yaml:"plugins"`
	SaveEventDir        string           `yaml:"save_event_dir"`
	Validation          ValidationConfig `yaml:"validation"`
	Receiver            ReceiverConfig   `yaml:"receiver"`
	Publisher           PublisherConfig  `yaml:"publisher"`
	Subscriber          SubscriberConfig `yaml:"subscriber"`
	Log                 LogConfig        `yaml:"log"`
}

// ValidationConfig controls the validation pipeline
type ValidationConfig struct {
	SchemaFirst bool `yaml:"schema_first"` // Run the schema check before deduplication
}

// ReceiverConfig tunes author connections
type ReceiverConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	RateLimit   float64       `yaml:"rate_limit"` // Events per second per connection, 0 = unlimited
	Burst       int           `yaml:"burst"`
}

// PublisherConfig tunes subscriber connections
type PublisherConfig struct {
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	QueueSize         int           `yaml:"queue_size"`
}

// SubscriberConfig tunes outbound subscriptions to remote brokers
type SubscriberConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// LogConfig selects log verbosity and format
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Remote is a host and port to subscribe to
type Remote struct {
	Host string
	Port int
}

// Address returns the remote in host:port form
func (r Remote) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Remote) String() string {
	return r.Address()
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		LocalIVO:      "ivo://comet.broker/default",
		ReceiverAddr:  ":8098",
		PublisherAddr: ":8099",
		IVORNDB:       os.TempDir(),
		Receiver: ReceiverConfig{
			IdleTimeout: 5 * time.Minute,
			Burst:       1,
		},
		Publisher: PublisherConfig{
			KeepaliveInterval: 60 * time.Second,
			WriteTimeout:      10 * time.Second,
			QueueSize:         64,
		},
		Subscriber: SubscriberConfig{
			IdleTimeout: 150 * time.Second,
			MinBackoff:  time.Second,
			MaxBackoff:  60 * time.Second,
			DialTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
	}
}

// Load reads a YAML configuration file over the defaults. Keys absent from
// the file keep their default values; unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration can start a broker
func (c *Config) Validate() error {
	if c.LocalIVO == "" {
		return fmt.Errorf("local_ivo is required")
	}
	if types.Authority(c.LocalIVO) == "" {
		return fmt.Errorf("local_ivo %q must be an ivo:// identifier", c.LocalIVO)
	}
	if c.IVORNDB == "" {
		return fmt.Errorf("ivorn_db is required")
	}
	if c.ReceiverAddr == "" && c.PublisherAddr == "" && len(c.Remotes) == 0 {
		return fmt.Errorf("nothing to do: receiver_addr, publisher_addr and remotes are all empty")
	}

	if _, err := whitelist.New(c.Whitelist); err != nil {
		return fmt.Errorf("whitelist: %w", err)
	}
	if _, err := whitelist.New(c.SubscriberWhitelist); err != nil {
		return fmt.Errorf("subscriber_whitelist: %w", err)
	}

	for _, r := range c.Remotes {
		if _, err := ParseRemote(r); err != nil {
			return err
		}
	}

	if c.Receiver.RateLimit < 0 {
		return fmt.Errorf("receiver.rate_limit must not be negative")
	}
	if c.Publisher.QueueSize < 0 {
		return fmt.Errorf("publisher.queue_size must not be negative")
	}
	if c.Subscriber.MaxBackoff > 0 && c.Subscriber.MaxBackoff < c.Subscriber.MinBackoff {
		return fmt.Errorf("subscriber.max_backoff (%s) is below min_backoff (%s)",
			c.Subscriber.MaxBackoff, c.Subscriber.MinBackoff)
	}

	switch log.Level(c.Log.Level) {
	case "", log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// RemoteTargets parses every configured remote. Entries naming the same
// host and port, such as "host" and "host:8099", are subscribed to once.
func (c *Config) RemoteTargets() ([]Remote, error) {
	remotes := make([]Remote, 0, len(c.Remotes))
	seen := make(map[string]bool)
	for _, r := range c.Remotes {
		remote, err := ParseRemote(r)
		if err != nil {
			return nil, err
		}
		if seen[remote.Address()] {
			continue
		}
		seen[remote.Address()] = true
		remotes = append(remotes, remote)
	}
	return remotes, nil
}

// ParseRemote parses "host:port" or a bare host, which gets DefaultRemotePort
func ParseRemote(s string) (Remote, error) {
	if s == "" {
		return Remote{}, fmt.Errorf("empty remote")
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port given
		host, portStr = s, strconv.Itoa(DefaultRemotePort)
		if ip := net.ParseIP(s); ip == nil && strings.Contains(s, ":") {
			return Remote{}, fmt.Errorf("invalid remote %q: %w", s, err)
		}
	}
	if host == "" {
		return Remote{}, fmt.Errorf("invalid remote %q: missing host", s)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Remote{}, fmt.Errorf("invalid remote %q: bad port %q", s, portStr)
	}
	return Remote{Host: host, Port: port}, nil
}
