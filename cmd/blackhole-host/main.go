// Command blackhole-host runs the host process: it spawns PTY-backed
// shells, exposes them on a LAN WebSocket listener, and optionally relays
// through an external relay server when direct LAN access isn't possible.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Icyoung/Blackhole/internal/audit"
	"github.com/Icyoung/Blackhole/internal/config"
	"github.com/Icyoung/Blackhole/internal/hostcontroller"
	"github.com/Icyoung/Blackhole/internal/logging"
	"github.com/Icyoung/Blackhole/internal/ptydriver"
	"github.com/Icyoung/Blackhole/internal/recorder"
)

func main() {
	cfg := config.Default()

	root := &cobra.Command{
		Use:   "blackhole-host",
		Short: "Run the Blackhole remote-terminal host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	root.Flags().StringVar(&cfg.Port, "port", "", "LAN listener port (default 9527)")
	root.Flags().StringVar(&cfg.RelayURL, "relay-url", "", "relay server base URL")
	root.Flags().StringVar(&cfg.RelayToken, "relay-token", "", "relay/LAN admin bearer token")
	root.Flags().BoolVar(&cfg.DevMode, "dev-mode", false, "disable all LAN auth; do not use in production")
	root.Flags().StringVar(&cfg.RecordDir, "record-dir", "", "directory to write asciicast-v2 session recordings")
	root.Flags().StringVar(&cfg.AuditDB, "audit-db", "", "path to the audit log SQLite database")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", "", "debug, info, warn, or error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flagCfg config.Config) error {
	cfg, err := config.Load(flagCfg)
	if err != nil {
		return fmt.Errorf("blackhole-host: load config: %w", err)
	}
	if cfg.Port == "" {
		cfg.Port = "9527"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	log := logging.New(cfg.LogLevel)

	if cfg.DevMode {
		log.Warn().Msg("dev mode: all LAN auth is disabled")
	}

	driver := ptydriver.New()

	var auditLog *audit.Log
	if cfg.AuditDB != "" {
		auditLog, err = audit.Open(cfg.AuditDB)
		if err != nil {
			return fmt.Errorf("blackhole-host: open audit log: %w", err)
		}
		defer auditLog.Close()
	}

	var rec *recorder.Recorder
	if cfg.RecordDir != "" {
		if err := os.MkdirAll(cfg.RecordDir, 0o755); err != nil {
			return fmt.Errorf("blackhole-host: create record dir: %w", err)
		}
		rec = recorder.New(cfg.RecordDir, 80, 24)
	}

	var relayURL *url.URL
	if cfg.RelayURL != "" {
		relayURL, err = url.Parse(cfg.RelayURL)
		if err != nil {
			return fmt.Errorf("blackhole-host: parse relay URL: %w", err)
		}
	}

	controller := hostcontroller.New(driver, hostcontroller.Config{
		LANAddr:      ":" + cfg.Port,
		RelayURL:     relayURL,
		RelayToken:   cfg.RelayToken,
		DevMode:      cfg.DevMode,
		DefaultRows:  24,
		DefaultCols:  80,
		DefaultShell: "",
	}, log, auditLogAdapter(auditLog), recorderAdapter(rec))

	watcher, err := config.Watch(os.Getenv("BLACKHOLE_CONFIG"), log, func(token string) {
		log.Info().Msg("relay token rotated via config file")
		_ = token // logged only; the running relay client keeps the token it was built with
	})
	if err != nil {
		log.Warn().Err(err).Msg("config watcher not started")
	}
	defer watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("blackhole-host: start: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	controller.Stop(stopCtx)
	return nil
}

// auditLogAdapter and recorderAdapter let a nil *audit.Log/*recorder.Recorder
// flow into hostcontroller's interface-typed fields as a true nil interface,
// so the controller's own nil checks skip them cleanly.
func auditLogAdapter(l *audit.Log) hostcontroller.AuditSink {
	if l == nil {
		return nil
	}
	return l
}

func recorderAdapter(r *recorder.Recorder) hostcontroller.Recorder {
	if r == nil {
		return nil
	}
	return r
}
