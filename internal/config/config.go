// Package config holds the run configuration of both roles. Values come from
// built-in defaults, an optional TOML file, and finally CLI flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Role represents the user's chosen role (host or client).
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Duration wraps time.Duration so it can be written as "250ms" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Signal configures the WebSocket signaling phase.
type Signal struct {
	Listen string `toml:"listen"` // host: listen address, ":0" picks a random port
	URL    string `toml:"url"`    // client: host's signaling URL
	PIN    string `toml:"pin"`    // empty on the host generates a random PIN
}

// Transport configures the WebRTC connection.
type Transport struct {
	ICEServers    []string `toml:"ice_servers"`
	CertFile      string   `toml:"cert_file"` // PEM with private key and certificate
	HighWaterMark int      `toml:"high_water_mark"`
	LowWaterMark  int      `toml:"low_water_mark"`
	SendQueue     int      `toml:"send_queue"`
}

// Session configures the endpoint controller.
type Session struct {
	AutoAck bool `toml:"auto_ack"`
}

// Report configures periodic statistics logging.
type Report struct {
	Interval Duration `toml:"interval"`
}

// Demo configures the client's synthetic game-data stream.
type Demo struct {
	Count         int      `toml:"count"`
	Interval      Duration `toml:"interval"`
	ReliableRatio float64  `toml:"reliable_ratio"`
}

// Config stores all parameters of one run.
type Config struct {
	Role        Role      `toml:"role"`
	Signal      Signal    `toml:"signal"`
	Transport   Transport `toml:"transport"`
	Session     Session   `toml:"session"`
	Report      Report    `toml:"report"`
	MetricsAddr string    `toml:"metrics_addr"`
	StatsDB     string    `toml:"stats_db"`
	Debug       bool      `toml:"debug"`
	Demo        Demo      `toml:"demo"`
}

// Default returns the configuration used when neither a file nor flags say
// otherwise.
func Default() *Config {
	return &Config{
		Signal: Signal{
			Listen: ":0",
		},
		Transport: Transport{
			ICEServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
			HighWaterMark: 256 * 1024,
			LowWaterMark:  64 * 1024,
			SendQueue:     64,
		},
		Session: Session{AutoAck: true},
		Report:  Report{Interval: Duration{5 * time.Second}},
		Demo: Demo{
			Count:         100,
			Interval:      Duration{50 * time.Millisecond},
			ReliableRatio: 0.5,
		},
	}
}

// Load reads the TOML file at path over the defaults. Keys absent from the
// file keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	var file Config
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("decode %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("role") {
		cfg.Role = file.Role
	}
	if meta.IsDefined("signal", "listen") {
		cfg.Signal.Listen = file.Signal.Listen
	}
	if meta.IsDefined("signal", "url") {
		cfg.Signal.URL = file.Signal.URL
	}
	if meta.IsDefined("signal", "pin") {
		cfg.Signal.PIN = file.Signal.PIN
	}
	if meta.IsDefined("transport", "ice_servers") {
		cfg.Transport.ICEServers = file.Transport.ICEServers
	}
	if meta.IsDefined("transport", "cert_file") {
		cfg.Transport.CertFile = file.Transport.CertFile
	}
	if meta.IsDefined("transport", "high_water_mark") {
		cfg.Transport.HighWaterMark = file.Transport.HighWaterMark
	}
	if meta.IsDefined("transport", "low_water_mark") {
		cfg.Transport.LowWaterMark = file.Transport.LowWaterMark
	}
	if meta.IsDefined("transport", "send_queue") {
		cfg.Transport.SendQueue = file.Transport.SendQueue
	}
	if meta.IsDefined("session", "auto_ack") {
		cfg.Session.AutoAck = file.Session.AutoAck
	}
	if meta.IsDefined("report", "interval") {
		cfg.Report.Interval = file.Report.Interval
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = file.MetricsAddr
	}
	if meta.IsDefined("stats_db") {
		cfg.StatsDB = file.StatsDB
	}
	if meta.IsDefined("debug") {
		cfg.Debug = file.Debug
	}
	if meta.IsDefined("demo", "count") {
		cfg.Demo.Count = file.Demo.Count
	}
	if meta.IsDefined("demo", "interval") {
		cfg.Demo.Interval = file.Demo.Interval
	}
	if meta.IsDefined("demo", "reliable_ratio") {
		cfg.Demo.ReliableRatio = file.Demo.ReliableRatio
	}

	return cfg, nil
}

// Validate checks the configuration for the selected role.
func (c *Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleHost:
		if c.Signal.Listen == "" {
			errs = append(errs, errors.New("signal.listen is required for the host role"))
		}
	case RoleClient:
		if c.Signal.URL == "" {
			errs = append(errs, errors.New("signal.url is required for the client role"))
		} else if _, err := NormalizeURL(c.Signal.URL); err != nil {
			errs = append(errs, err)
		}
		if c.Demo.Count < 0 {
			errs = append(errs, fmt.Errorf("demo.count must not be negative, got %d", c.Demo.Count))
		}
		if c.Demo.ReliableRatio < 0 || c.Demo.ReliableRatio > 1 {
			errs = append(errs, fmt.Errorf("demo.reliable_ratio must be within [0, 1], got %g", c.Demo.ReliableRatio))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid role %q: must be %q or %q", c.Role, RoleHost, RoleClient))
	}

	t := c.Transport
	if t.LowWaterMark <= 0 || t.HighWaterMark <= t.LowWaterMark {
		errs = append(errs, fmt.Errorf("transport watermarks must satisfy 0 < low (%d) < high (%d)",
			t.LowWaterMark, t.HighWaterMark))
	}
	if t.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("transport.send_queue must be positive, got %d", t.SendQueue))
	}
	if c.Report.Interval.Duration < 0 {
		errs = append(errs, errors.New("report.interval must not be negative"))
	}

	return errors.Join(errs...)
}

// NormalizeURL validates a raw signaling URL and rewrites it to
// scheme://host/ws, keeping any query (the PIN). Bare hosts default to wss.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	out := fmt.Sprintf("%s://%s/ws", scheme, u.Host)
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out, nil
}
