package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/peerprep/interviewd/pkg/relay"
	"github.com/peerprep/interviewd/pkg/rtc"
	"github.com/peerprep/interviewd/pkg/session"
	"github.com/peerprep/interviewd/pkg/store"
	"github.com/peerprep/interviewd/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Relay backends the agent can be wired to.
const (
	RelayBackendRedis     = "redis"
	RelayBackendWebsocket = "websocket"
	RelayBackendMatrix    = "matrix"
)

// Store backends.
const (
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// Agent configuration.
type Config struct {
	// Starting from which level to log stuff.
	LogLevel string `yaml:"log"`
	// Signaling relay configuration.
	Relay RelayConfig `yaml:"relay"`
	// Session store configuration.
	Store StoreConfig `yaml:"store"`
	// WebRTC configuration.
	RTC rtc.Config `yaml:"rtc"`
	// Session lifecycle configuration.
	Session session.Config `yaml:"session"`
	// Tracing configuration. Optional.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

type RelayConfig struct {
	// Which backend carries the signaling channel.
	Backend   string                `yaml:"backend"`
	Redis     relay.RedisConfig     `yaml:"redis"`
	Websocket relay.WebsocketConfig `yaml:"websocket"`
	Matrix    relay.MatrixConfig    `yaml:"matrix"`
}

type StoreConfig struct {
	Backend string            `yaml:"backend"`
	Redis   store.RedisConfig `yaml:"redis"`
}

// Tries to load a config from the `CONFIG` environment variable.
// If the environment variable is not set, tries to load a config from the
// provided path to the config file (YAML). Returns an error if the config
// could not be loaded.
func LoadConfig(path string) (*Config, error) {
	config, err := LoadConfigFromEnv()
	if err != nil {
		if !errors.Is(err, ErrNoConfigEnvVar) {
			return nil, err
		}

		return LoadConfigFromPath(path)
	}

	return config, nil
}

// ErrNoConfigEnvVar is returned when the CONFIG environment variable is not set.
var ErrNoConfigEnvVar = errors.New("environment variable not set or invalid")

// Tries to load the config from environment variable (`CONFIG`).
func LoadConfigFromEnv() (*Config, error) {
	configEnv := os.Getenv("CONFIG")
	if configEnv == "" {
		return nil, ErrNoConfigEnvVar
	}

	return LoadConfigFromString(configEnv)
}

// Tries to load a config from the provided path.
func LoadConfigFromPath(path string) (*Config, error) {
	logrus.WithField("path", path).Info("loading config")

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return LoadConfigFromString(string(file))
}

// Load config from the provided string.
// Returns an error if the string is not a valid YAML.
func LoadConfigFromString(configString string) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal([]byte(configString), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Relay.Backend {
	case RelayBackendRedis:
		if c.Relay.Redis.Addr == "" {
			return errors.New("relay.redis.addr must be set")
		}
	case RelayBackendWebsocket:
		if c.Relay.Websocket.URL == "" {
			return errors.New("relay.websocket.url must be set")
		}
	case RelayBackendMatrix:
		if c.Relay.Matrix.UserID == "" ||
			c.Relay.Matrix.HomeserverURL == "" ||
			c.Relay.Matrix.AccessToken == "" {
			return errors.New("relay.matrix requires userId, homeserverUrl and accessToken")
		}
	default:
		return fmt.Errorf("unknown relay backend %q", c.Relay.Backend)
	}

	switch c.Store.Backend {
	case StoreBackendRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr must be set")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	return nil
}
