package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NodeConfig is the node.* config block (spec §6).
type NodeConfig struct {
	Name string `yaml:"name"`
}

// NetworkConfig is the network.* config block (spec §6).
type NetworkConfig struct {
	TCPPort           int    `yaml:"tcp_port"`
	DiscoveryPort     int    `yaml:"discovery_port"`
	BindAddress       string `yaml:"bind_address"`
	DiscoveryEnabled  bool   `yaml:"discovery_enabled"`
	HeartbeatInterval int    `yaml:"heartbeat_interval"`
	ReconnectTimeout  int    `yaml:"reconnect_timeout"`
}

// FilesystemConfig is the filesystem.* config block (spec §6).
type FilesystemConfig struct {
	RootPath      string `yaml:"root_path"`
	MetadataDB    string `yaml:"metadata_db"`
	SyncOnStartup bool   `yaml:"sync_on_startup"`
}

// SyncConfig is the sync.* config block (spec §6).
type SyncConfig struct {
	BatchSize int `yaml:"batch_size"`
	ChunkSize int `yaml:"chunk_size"`
}

// LoggingConfig is the logging.* config block (spec §6).
type LoggingConfig struct {
	Level         string `yaml:"level"`
	ConsoleOutput bool   `yaml:"console_output"`
}

// Config is the full hierarchical configuration document (spec §6).
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Network    NetworkConfig    `yaml:"network"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
	Sync       SyncConfig       `yaml:"sync"`
	Peers      []string         `yaml:"peers"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// defaultConfig mirrors the teacher's defaultConfig() shape: every field
// gets a sane standalone-node value before any file or flag overlay runs.
func defaultConfig() Config {
	return Config{
		Node: NodeConfig{Name: ""},
		Network: NetworkConfig{
			TCPPort:           9000,
			DiscoveryPort:     9050,
			BindAddress:       "0.0.0.0",
			DiscoveryEnabled:  true,
			HeartbeatInterval: 5,
			ReconnectTimeout:  15,
		},
		Filesystem: FilesystemConfig{
			RootPath:      "./data",
			MetadataDB:    "meshnode.db",
			SyncOnStartup: false,
		},
		Sync: SyncConfig{
			BatchSize: 50,
			ChunkSize: 1 << 20,
		},
		Peers: nil,
		Logging: LoggingConfig{
			Level:         "info",
			ConsoleOutput: true,
		},
	}
}

// LoadConfig reads a YAML document at path and overlays it onto
// defaultConfig(); a missing file is not an error (the defaults alone are a
// valid standalone-node configuration), but a malformed one is fatal.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the startup preconditions of spec §7 error category 7
// (configuration/startup failures are fatal).
func (c Config) Validate() error {
	if c.Filesystem.RootPath == "" {
		return fmt.Errorf("config: filesystem.root_path must not be empty")
	}
	if c.Network.TCPPort <= 0 || c.Network.TCPPort > 65535 {
		return fmt.Errorf("config: network.tcp_port out of range: %d", c.Network.TCPPort)
	}
	if c.Network.DiscoveryPort <= 0 || c.Network.DiscoveryPort > 65535 {
		return fmt.Errorf("config: network.discovery_port out of range: %d", c.Network.DiscoveryPort)
	}
	return nil
}
