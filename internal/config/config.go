// Package config provides configuration management for tabbroker.
// It supports loading configuration from environment variables, a config
// file, and defaults, the same layering the broker's ambient stack uses
// everywhere else.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tabbroker/tabbroker/internal/logging"
)

// Config holds all configuration sections for the broker.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Hub       HubConfig       `mapstructure:"hub"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	TaskBoard TaskBoardConfig `mapstructure:"taskBoard"`
	Logging   logging.Config  `mapstructure:"logging"`
}

// ServerConfig holds HTTP(S)/WebSocket server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	TLSCertFile  string `mapstructure:"tlsCertFile"`
	TLSKeyFile   string `mapstructure:"tlsKeyFile"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// HubConfig holds routing-core resource ceilings (§5 of the spec).
type HubConfig struct {
	ReplayBufferCap        int `mapstructure:"replayBufferCap"`
	PendingDefaultTimeoutMs int `mapstructure:"pendingDefaultTimeoutMs"`
	SnapshotCacheCap       int `mapstructure:"snapshotCacheCap"`
	RecordingCacheCap      int `mapstructure:"recordingCacheCap"`
}

// PendingDefaultTimeout returns the default correlator timeout as a Duration.
func (h *HubConfig) PendingDefaultTimeout() time.Duration {
	return time.Duration(h.PendingDefaultTimeoutMs) * time.Millisecond
}

// AgentConfig holds agent subprocess supervisor configuration.
type AgentConfig struct {
	DefaultBinary   string   `mapstructure:"defaultBinary"`
	ToolWhitelist   []string `mapstructure:"toolWhitelist"`
	IdleTimeoutMs   int      `mapstructure:"idleTimeoutMs"`
	NamePool        []string `mapstructure:"namePool"`
}

// TranscriptConfig holds transcript-store configuration.
type TranscriptConfig struct {
	DirName string `mapstructure:"dirName"` // e.g. ".tabbroker"
}

// TaskBoardConfig holds task-board file configuration.
type TaskBoardConfig struct {
	DirName    string `mapstructure:"dirName"`    // e.g. ".tabbroker"
	FilePrefix string `mapstructure:"filePrefix"` // e.g. "tasks-"
}

// Load reads configuration from environment variables, config file, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TABBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tabbroker/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7171)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("hub.replayBufferCap", 100)
	v.SetDefault("hub.pendingDefaultTimeoutMs", 5000)
	v.SetDefault("hub.snapshotCacheCap", 50)
	v.SetDefault("hub.recordingCacheCap", 20)

	v.SetDefault("agent.defaultBinary", "claude")
	v.SetDefault("agent.toolWhitelist", []string{})
	v.SetDefault("agent.idleTimeoutMs", 3000)
	v.SetDefault("agent.namePool", defaultNamePool())

	v.SetDefault("transcript.dirName", ".tabbroker")

	v.SetDefault("taskBoard.dirName", ".tabbroker")
	v.SetDefault("taskBoard.filePrefix", "tasks-")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

func defaultNamePool() []string {
	return []string{
		"cobalt", "ember", "mica", "sable", "teal", "violet", "amber", "birch",
		"cedar", "dune", "fennel", "gale", "heron", "indigo", "juniper", "kelp",
	}
}

// validate checks required configuration fields, filling safe dev defaults
// rather than failing hard where the spec leaves the field optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Hub.ReplayBufferCap <= 0 {
		errs = append(errs, "hub.replayBufferCap must be positive")
	}
	if cfg.Hub.PendingDefaultTimeoutMs <= 0 {
		errs = append(errs, "hub.pendingDefaultTimeoutMs must be positive")
	}
	if cfg.Hub.SnapshotCacheCap <= 0 {
		errs = append(errs, "hub.snapshotCacheCap must be positive")
	}
	if cfg.Hub.RecordingCacheCap <= 0 {
		errs = append(errs, "hub.recordingCacheCap must be positive")
	}
	if len(cfg.Agent.NamePool) == 0 {
		cfg.Agent.NamePool = defaultNamePool()
	}
	if cfg.Transcript.DirName == "" {
		cfg.Transcript.DirName = ".tabbroker"
	}
	if cfg.TaskBoard.DirName == "" {
		cfg.TaskBoard.DirName = ".tabbroker"
	}
	if cfg.TaskBoard.FilePrefix == "" {
		cfg.TaskBoard.FilePrefix = "tasks-"
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
