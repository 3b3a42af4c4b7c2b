// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. CONTRACTS_HTTP_PORT
const EnvPrefix = "CONTRACTS"

// LogConfig holds log file rotation settings
type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ServerConfig holds the API server configuration
type ServerConfig struct {
	HTTPPort  int       `mapstructure:"http_port"`
	DBPath    string    `mapstructure:"db_path"`
	StaticDir string    `mapstructure:"static_dir"`
	Log       LogConfig `mapstructure:"log"`
}

// UpstreamConfig points the agent at the API server
type UpstreamConfig struct {
	Address string `mapstructure:"address"`
}

// QueueConfig selects the durable queue backend
type QueueConfig struct {
	Backend  string `mapstructure:"backend"` // "sqlite" or "redis"
	RedisKey string `mapstructure:"redis_key"`
}

// CacheConfig names the interception caches
type CacheConfig struct {
	Prefix       string   `mapstructure:"prefix"`
	Version      string   `mapstructure:"version"`
	StaticAssets []string `mapstructure:"static_assets"`
}

// SyncConfig selects the replay success policy
type SyncConfig struct {
	Policy string `mapstructure:"policy"` // "accepted" or "completed"
}

// HeartbeatConfig controls the connectivity probe
type HeartbeatConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

// InboxConfig lists directories watched for Excel imports
type InboxConfig struct {
	Paths []string `mapstructure:"paths"`
}

// IdentityConfig is the user the agent acts as when importing
type IdentityConfig struct {
	ID   string `mapstructure:"id"`
	Role string `mapstructure:"role"`
}

// AgentConfig holds the offline agent configuration
type AgentConfig struct {
	ListenPort int             `mapstructure:"listen_port"`
	DataDir    string          `mapstructure:"data_dir"`
	Server     UpstreamConfig  `mapstructure:"server"`
	Queue      QueueConfig     `mapstructure:"queue"`
	Cache      CacheConfig     `mapstructure:"cache"`
	Sync       SyncConfig      `mapstructure:"sync"`
	Heartbeat  HeartbeatConfig `mapstructure:"heartbeat"`
	Inbox      InboxConfig     `mapstructure:"inbox"`
	User       IdentityConfig  `mapstructure:"user"`
	Log        LogConfig       `mapstructure:"log"`
}

// Loaded bundles a decoded config with the viper instance it came from,
// so callers can watch the file for changes.
type Loaded[T any] struct {
	Config *T
	v      *viper.Viper
}

// LoadDotEnv loads .env from the working directory if present. Existing
// environment variables are not overridden.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.Printf("Warning: failed to load %s: %v", p, err)
		}
	}
}

func serverDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 3001)
	v.SetDefault("db_path", "./contracts.db")
	v.SetDefault("static_dir", "./web")
	setLogDefaults(v, "contracts-server.log")
}

func agentDefaults(v *viper.Viper) {
	v.SetDefault("listen_port", 8090)
	v.SetDefault("data_dir", "./agent-data")
	v.SetDefault("server.address", "http://localhost:3001")
	v.SetDefault("queue.backend", "sqlite")
	v.SetDefault("queue.redis_key", "contracts:sync")
	v.SetDefault("cache.prefix", "contracts")
	v.SetDefault("cache.version", "v1")
	v.SetDefault("cache.static_assets", []string{"/", "/index.html", "/manifest.json"})
	v.SetDefault("sync.policy", "accepted")
	v.SetDefault("heartbeat.interval", "10s")
	v.SetDefault("heartbeat.failure_threshold", 3)
	v.SetDefault("inbox.paths", []string{})
	v.SetDefault("user.id", "")
	v.SetDefault("user.role", "manager")
	setLogDefaults(v, "contracts-agent.log")
}

func setLogDefaults(v *viper.Viper, file string) {
	v.SetDefault("log.file", file)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// LoadServerConfig reads the server config file (optional) and environment
func LoadServerConfig(configPath string) (*Loaded[ServerConfig], error) {
	return load[ServerConfig](configPath, serverDefaults, defaultServerYAML)
}

// LoadAgentConfig reads the agent config file and environment. A missing
// file at configPath is generated with defaults.
func LoadAgentConfig(configPath string) (*Loaded[AgentConfig], error) {
	loaded, err := load[AgentConfig](configPath, agentDefaults, defaultAgentYAML)
	if err != nil {
		return nil, err
	}
	if p := loaded.Config.Sync.Policy; p != "accepted" && p != "completed" {
		return nil, fmt.Errorf("invalid sync.policy %q: want accepted or completed", p)
	}
	if b := loaded.Config.Queue.Backend; b != "sqlite" && b != "redis" {
		return nil, fmt.Errorf("invalid queue.backend %q: want sqlite or redis", b)
	}
	return loaded, nil
}

func load[T any](configPath string, defaults func(*viper.Viper), defaultYAML string) (*Loaded[T], error) {
	v := viper.New()
	v.SetConfigType("yaml")
	defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			if err := generateDefaultConfig(configPath, defaultYAML); err != nil {
				return nil, fmt.Errorf("failed to generate default config: %w", err)
			}
			log.Printf("Generated default config: %s", configPath)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		log.Printf("No config file given, using defaults and environment")
	}

	var cfg T
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &Loaded[T]{Config: &cfg, v: v}, nil
}

// Watch reloads the config on file changes and hands the fresh value to
// onChange. No-op when no config file is in use.
func (l *Loaded[T]) Watch(onChange func(cfg *T, event fsnotify.Event)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg T
		if err := l.v.Unmarshal(&cfg); err != nil {
			log.Printf("Config reload failed (%s): %v", e.Name, err)
			return
		}
		log.Printf("Config reloaded: %s", e.Name)
		onChange(&cfg, e)
	})
	l.v.WatchConfig()
}

func generateDefaultConfig(configFile, content string) error {
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(configFile, []byte(content), 0644)
}

// ApplyAgentFlags applies command-line flags over config values
func ApplyAgentFlags(cfg *AgentConfig, serverAddr string, listenPort int, dataDir string) {
	if serverAddr != "" {
		cfg.Server.Address = serverAddr
	}
	if listenPort > 0 {
		cfg.ListenPort = listenPort
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
}

// ApplyServerFlags applies command-line flags over config values
func ApplyServerFlags(cfg *ServerConfig, httpPort int, dbPath string) {
	if httpPort > 0 {
		cfg.HTTPPort = httpPort
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
}

const defaultServerYAML = `# Contracts server configuration
http_port: 3001
db_path: "./contracts.db"
static_dir: "./web"   # PWA shell (index.html, manifest.json, assets)

log:
  file: "contracts-server.log"
  level: "info"
  max_size_mb: 10
  max_backups: 3
  max_age_days: 28
`

const defaultAgentYAML = `# Contracts offline agent configuration
listen_port: 8090
data_dir: "./agent-data"

server:
  address: "http://localhost:3001"

queue:
  backend: "sqlite"            # sqlite or redis (REDIS_ADDR, REDIS_DB, REDIS_PASSWORD)
  redis_key: "contracts:sync"

cache:
  prefix: "contracts"
  version: "v1"                # bump to evict old caches on activate
  static_assets: ["/", "/index.html", "/manifest.json"]

sync:
  policy: "accepted"           # accepted: only 2xx evicts; completed: any response evicts

heartbeat:
  interval: "10s"
  failure_threshold: 3

inbox:
  paths: []                    # directories watched for .xlsx imports

user:
  id: ""
  role: "manager"

log:
  file: "contracts-agent.log"
  level: "info"
  max_size_mb: 10
  max_backups: 3
  max_age_days: 28
`
