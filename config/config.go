package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kgrahem/lanscout/engine"
	"github.com/kgrahem/lanscout/session"
)

const (
	DefaultLogLevel = "info"
)

// MARK: Load
// Loads configuration from a YAML file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// MARK: setDefaults
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// MARK: validate
// Rejects malformed service types and advertisement entries up front so the
// daemon fails at startup rather than mid-session.
func (c *Config) validate() error {
	for i, serviceType := range c.Browse {
		if _, err := session.NormalizeServiceType(serviceType); err != nil {
			return fmt.Errorf("browse[%d]: %w", i, err)
		}
	}

	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name cannot be empty", i)
		}
		if _, err := session.NormalizeServiceType(svc.Type); err != nil {
			return fmt.Errorf("services[%d] (%s): %w", i, svc.Name, err)
		}
		if svc.Port == 0 {
			return fmt.Errorf("services[%d] (%s): port cannot be zero", i, svc.Name)
		}
	}

	if len(c.Browse) == 0 && len(c.Services) == 0 {
		return fmt.Errorf("nothing to do: configure at least one browse type or service")
	}

	return nil
}

// MARK: EngineConfig
// Maps the network section onto the protocol engine's configuration.
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Interface = c.Network.Interface
	cfg.DisableIPv4 = c.Network.DisableIPv4
	cfg.DisableIPv6 = c.Network.DisableIPv6
	return cfg
}
