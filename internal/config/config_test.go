// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAgentConfig_GeneratesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent", "config.yaml")

	loaded, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("LoadAgentConfig failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}

	cfg := loaded.Config
	if cfg.ListenPort != 8090 {
		t.Errorf("ListenPort = %d, want 8090", cfg.ListenPort)
	}
	if cfg.Server.Address != "http://localhost:3001" {
		t.Errorf("Server.Address = %s", cfg.Server.Address)
	}
	if cfg.Heartbeat.Interval != 10*time.Second {
		t.Errorf("Heartbeat.Interval = %s, want 10s", cfg.Heartbeat.Interval)
	}
	if len(cfg.Cache.StaticAssets) != 3 {
		t.Errorf("StaticAssets = %v", cfg.Cache.StaticAssets)
	}
	if cfg.Sync.Policy != "accepted" {
		t.Errorf("Sync.Policy = %s", cfg.Sync.Policy)
	}
}

func TestLoadAgentConfig_RejectsBadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  policy: sometimes\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAgentConfig(path); err == nil {
		t.Fatal("expected error for invalid sync.policy")
	}
}

func TestLoadServerConfig_EnvOverride(t *testing.T) {
	t.Setenv("CONTRACTS_HTTP_PORT", "4555")
	t.Setenv("CONTRACTS_LOG_LEVEL", "debug")

	loaded, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("LoadServerConfig failed: %v", err)
	}
	if loaded.Config.HTTPPort != 4555 {
		t.Errorf("HTTPPort = %d, want 4555", loaded.Config.HTTPPort)
	}
	if loaded.Config.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", loaded.Config.Log.Level)
	}
}

func TestApplyAgentFlags(t *testing.T) {
	cfg := &AgentConfig{ListenPort: 1, DataDir: "a"}
	ApplyAgentFlags(cfg, "http://srv:9", 0, "b")
	if cfg.Server.Address != "http://srv:9" || cfg.ListenPort != 1 || cfg.DataDir != "b" {
		t.Errorf("unexpected config after flags: %+v", cfg)
	}
}
