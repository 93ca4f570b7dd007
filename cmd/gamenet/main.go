// GameNet CLI entry point.
//
// The host accepts game clients over WebRTC and receives their updates on a
// reliable ordered channel and an unreliable unordered channel, logging every
// delivery and final latency, jitter, throughput and delivery statistics. The
// client streams random game updates to a host. Signaling runs over a
// PIN-protected WebSocket.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags and an optional TOML file (-config).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/gamenet/internal/app"
	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a TOML configuration file")
	role := flag.String("role", "", "Role: host or client")
	listen := flag.String("listen", "", "Signaling listen address (host), e.g. :8080")
	wsURL := flag.String("url", "", "Signaling URL of the host (client)")
	pin := flag.String("pin", "", "Signaling PIN (host: random when empty)")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address (host)")
	statsDB := flag.String("db", "", "SQLite file recording final session statistics (host)")
	certFile := flag.String("cert", "", "PEM certificate for the WebRTC connection")
	count := flag.Int("count", 0, "Number of game updates to send (client)")
	interval := flag.Duration("interval", 0, "Delay between game updates (client)")
	ratio := flag.Float64("ratio", 0, "Share of updates sent on the reliable channel, 0~1 (client)")
	report := flag.Duration("report", 0, "Periodic statistics interval, 0 disables")
	autoAck := flag.Bool("ack", true, "Acknowledge every delivered frame (host)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	}

	// Flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "role":
			cfg.Role = config.Role(*role)
		case "listen":
			cfg.Signal.Listen = *listen
		case "url":
			cfg.Signal.URL = *wsURL
		case "pin":
			cfg.Signal.PIN = *pin
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "db":
			cfg.StatsDB = *statsDB
		case "cert":
			cfg.Transport.CertFile = *certFile
		case "count":
			cfg.Demo.Count = *count
		case "interval":
			cfg.Demo.Interval.Duration = *interval
		case "ratio":
			cfg.Demo.ReliableRatio = *ratio
		case "report":
			cfg.Report.Interval.Duration = *report
		case "ack":
			cfg.Session.AutoAck = *autoAck
		case "debug":
			cfg.Debug = *debugMode
		}
	})

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("GameNet — v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		// No role anywhere → interactive mode.
		runInteractive(cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	var err error
	switch cfg.Role {
	case config.RoleHost:
		err = app.RunHost(ctx, cfg)
	case config.RoleClient:
		err = app.RunClient(ctx, cfg)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("successfully closed all sessions")
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive fills in the role and its required fields with prompts when
// no role was configured.
func runInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host   — Receive game updates", "Client — Send game updates to a host"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Host") {
		cfg.Role = config.RoleHost
		return
	}

	cfg.Role = config.RoleClient
	cfg.Signal.URL = askURL()
	if cfg.Signal.PIN == "" {
		cfg.Signal.PIN = ask("PIN shown by the host")
	}
}

func ask(prompt string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return strings.TrimSpace(raw)
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw := ask("WebSocket URL (e.g. ws://127.0.0.1:8080/ws)")

		if _, err := config.NormalizeURL(raw); err == nil && raw != "" {
			return raw
		}

		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
