// Package config loads the xcpd daemon's configuration: which chain node
// to follow, where to start, and how to expose the JSON-RPC surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the xcpd daemon.
type Config struct {
	// Testnet selects the regression/test network's address version and
	// genesis block instead of mainnet's.
	Testnet bool `yaml:"testnet"`

	// DataDir is the directory holding the sqlite ledger store.
	DataDir string `yaml:"data_dir"`

	Chain ChainConfig `yaml:"chain"`
	RPC   RPCConfig   `yaml:"rpc"`

	Logging LoggingConfig `yaml:"logging"`
}

// ChainConfig points at the external full node this daemon follows.
type ChainConfig struct {
	// URL is the full node's JSON-RPC endpoint.
	URL string `yaml:"url"`

	User string `yaml:"user"`
	Pass string `yaml:"pass"`

	// BlockFirst is the height below which no messages of this protocol
	// can exist; the follower never looks earlier than this.
	BlockFirst int64 `yaml:"block_first"`

	// UnspendableAddr is the burn-destination address checked against
	// every transaction's extracted destination (§4.2).
	UnspendableAddr string `yaml:"unspendable_addr"`
}

// RPCConfig configures the daemon's own read/write JSON-RPC surface.
type RPCConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Addr returns the host:port the RPC server should listen on.
func (c RPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultConfig returns a Config with sensible mainnet defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "~/.xcpd",
		Chain: ChainConfig{
			URL:             "http://127.0.0.1:8332",
			BlockFirst:      278270,
			UnspendableAddr: "1CounterpartyXXXXXXXXXXXXXXXUWLpVr",
		},
		RPC: RPCConfig{
			Host: "127.0.0.1",
			Port: 4000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// Load reads configuration from dataDir/config.yaml, creating it with
// defaults on first run.
func Load(dataDir string) (*Config, error) {
	path := ConfigPath(dataDir)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.DataDir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := []byte("# xcpd configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
