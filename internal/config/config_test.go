package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	os.Setenv("RTMSG_TCP_PORT", "9999")
	os.Setenv("RTMSG_PUBSUB_ADAPTER", "redis")
	os.Setenv("RTMSG_TCP_PING_INTERVAL", "5s")
	defer func() {
		os.Unsetenv("RTMSG_TCP_PORT")
		os.Unsetenv("RTMSG_PUBSUB_ADAPTER")
		os.Unsetenv("RTMSG_TCP_PING_INTERVAL")
	}()

	cfg := ApplyEnv(Default())

	if cfg.TCP.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.TCP.Port)
	}
	if cfg.PubSub.Adapter != "redis" {
		t.Errorf("expected redis adapter, got %q", cfg.PubSub.Adapter)
	}
	if cfg.TCP.PingInterval != 5*time.Second {
		t.Errorf("expected 5s ping interval, got %v", cfg.TCP.PingInterval)
	}
}

func TestLoadFileNoPathReturnsBase(t *testing.T) {
	base := Default()
	cfg, err := LoadFile("", base)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg != base {
		t.Error("expected unchanged base config when path is empty")
	}
}

func TestLoadFileParsesYAML(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.WriteString("tcp:\n  port: 7000\npubsub:\n  adapter: redis\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	cfg, err := LoadFile(f.Name(), Default())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.TCP.Port != 7000 {
		t.Errorf("expected port 7000, got %d", cfg.TCP.Port)
	}
	if cfg.PubSub.Adapter != "redis" {
		t.Errorf("expected redis adapter, got %q", cfg.PubSub.Adapter)
	}
}

func TestValidateRejectsUnknownAdapter(t *testing.T) {
	cfg := Default()
	cfg.PubSub.Adapter = "kafka"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown adapter")
	}
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := Default()
	cfg.Persistence.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing postgres DSN")
	}
}

func TestValidateRejectsHTTP3WithoutTLS(t *testing.T) {
	cfg := Default()
	cfg.HTTP.HTTP3Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for http3 without tls")
	}
}
