// Command codexbar is the narrow composition root that wires the four
// quota providers into a registry and a scheduler and logs every snapshot
// change. It stands in for the tray/menu/settings UI shell, which this
// daemon does not implement. The main loop shape follows a familiar
// pattern: flag parsing, signal-driven shutdown, and a background ticker
// goroutine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/rursache/KDECodexBar/internal/config"
	"github.com/rursache/KDECodexBar/internal/logging"
	"github.com/rursache/KDECodexBar/internal/provider"
	"github.com/rursache/KDECodexBar/internal/provider/antigravity"
	"github.com/rursache/KDECodexBar/internal/provider/claude"
	"github.com/rursache/KDECodexBar/internal/provider/codex"
	"github.com/rursache/KDECodexBar/internal/provider/gemini"
)

const (
	clientName    = "codexbar-go"
	clientVersion = "1.0.0"
)

var (
	// Version is set at build time.
	Version = "dev"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "codexbar.yaml", "path to the daemon's YAML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codexbar: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Debug)
	if cfg.LogToFile {
		if err = logging.ConfigureOutput(true, cfg.LogDir); err != nil {
			fmt.Fprintf(os.Stderr, "codexbar: failed to configure log output: %v\n", err)
		}
	}
	defer logging.Close()

	log.WithField("version", Version).Info("codexbar: starting")

	homeDir, err := os.UserHomeDir()
	if err != nil {
		if u, uerr := user.Current(); uerr == nil {
			homeDir = u.HomeDir
		}
	}

	registry := provider.NewRegistry(
		codex.New(clientName, clientVersion),
		claude.New(cfg.ClaudeBinary),
		gemini.New(homeDir),
		antigravity.New(),
	)

	for _, p := range registry.Providers() {
		p := p
		p.Subscribe(func() {
			snap := p.Snapshot()
			log.WithFields(log.Fields{
				"provider": string(p.ID()),
				"state":    p.State(),
				"limits":   len(snap.Limits),
			}).Info("codexbar: snapshot updated")
		})
	}

	scheduler := provider.NewScheduler(registry, cfg.Interval())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)

	stopWatch, err := config.WatchFile(configPath, func(updated config.Config) {
		log.Info("codexbar: config changed, applying new refresh interval")
		scheduler.SetInterval(ctx, updated.Interval())
	})
	if err != nil {
		log.WithError(err).Debug("codexbar: config hot-reload disabled")
	} else {
		defer stopWatch()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info("codexbar: shutdown signal received, stopping")

	scheduler.Stop()
	cancel()
}
