package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gamenet.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	path := writeFile(t, `
role = "client"
metrics_addr = ":9100"

[signal]
url = "ws://127.0.0.1:8080/ws?pin=1234"

[session]
auto_ack = false

[demo]
count = 10
interval = "20ms"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	def := Default()
	if cfg.Role != RoleClient {
		t.Errorf("role: got %q", cfg.Role)
	}
	if cfg.MetricsAddr != ":9100" {
		t.Errorf("metrics_addr: got %q", cfg.MetricsAddr)
	}
	if cfg.Session.AutoAck {
		t.Error("auto_ack: an explicit false must override the default")
	}
	if cfg.Demo.Count != 10 || cfg.Demo.Interval.Duration != 20*time.Millisecond {
		t.Errorf("demo: got %+v", cfg.Demo)
	}
	// Untouched keys keep their defaults.
	if cfg.Demo.ReliableRatio != def.Demo.ReliableRatio {
		t.Errorf("reliable_ratio: got %g, want default %g", cfg.Demo.ReliableRatio, def.Demo.ReliableRatio)
	}
	if !slices.Equal(cfg.Transport.ICEServers, def.Transport.ICEServers) {
		t.Errorf("ice_servers: got %v", cfg.Transport.ICEServers)
	}
	if cfg.Signal.Listen != def.Signal.Listen {
		t.Errorf("listen: got %q", cfg.Signal.Listen)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, `
role = "host"
[transport]
high_watermark = 10
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "transport.high_watermark") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeFile(t, `
[report]
interval = "often"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"host ok", func(c *Config) { c.Role = RoleHost }, ""},
		{"client ok", func(c *Config) { c.Role = RoleClient; c.Signal.URL = "example.com" }, ""},
		{"no role", func(c *Config) {}, "invalid role"},
		{"client without url", func(c *Config) { c.Role = RoleClient }, "signal.url"},
		{"host without listen", func(c *Config) { c.Role = RoleHost; c.Signal.Listen = "" }, "signal.listen"},
		{"bad ratio", func(c *Config) {
			c.Role = RoleClient
			c.Signal.URL = "example.com"
			c.Demo.ReliableRatio = 1.5
		}, "reliable_ratio"},
		{"inverted watermarks", func(c *Config) {
			c.Role = RoleHost
			c.Transport.HighWaterMark = 10
			c.Transport.LowWaterMark = 20
		}, "watermarks"},
		{"empty queue", func(c *Config) { c.Role = RoleHost; c.Transport.SendQueue = 0 }, "send_queue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"ws://127.0.0.1:8080", "ws://127.0.0.1:8080/ws", false},
		{"wss://abc.devtunnels.ms/ws?pin=1234", "wss://abc.devtunnels.ms/ws?pin=1234", false},
		{"https://abc.devtunnels.ms/", "wss://abc.devtunnels.ms/ws", false},
		{"  abc.devtunnels.ms  ", "wss://abc.devtunnels.ms/ws", false},
		{"", "", true},
		{"ws://", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeURL(%q): err=%v, wantErr=%v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
