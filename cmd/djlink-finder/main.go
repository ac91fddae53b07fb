// Command djlink-finder runs a standalone metadata coordinator: it browses
// the network for devices, tracks what each deck has loaded, and serves an
// optional HTTP status/admin surface.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/arung-agamani/djlink/config"
	"github.com/arung-agamani/djlink/internal/client"
	"github.com/arung-agamani/djlink/internal/coordinator"
	"github.com/arung-agamani/djlink/internal/discovery"
	"github.com/arung-agamani/djlink/internal/httpapi"
	"github.com/arung-agamani/djlink/internal/mirror"
	"github.com/arung-agamani/djlink/internal/registry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	slog.Info("starting djlink finder",
		"discovery_service", cfg.DiscoveryServiceType,
		"start_passive", cfg.StartPassive,
		"archive_watch_dir", cfg.ArchiveWatchDir,
		"http_addr", cfg.HTTPAddr,
	)

	demo := os.Getenv("DJLINK_DEMO") == "1"

	// The address book is constructed before either the client pool or the
	// coordinator, and shared between them: the pool resolves addresses
	// through it, the coordinator populates it as devices are announced.
	addresses := registry.NewAddressBook()
	pool := client.NewTCPPool(addresses, cfg.DialTimeout, cfg.RetryEvery)
	defer pool.CloseAll()

	var announcements coordinator.AnnouncementSource
	var status coordinator.StatusSource

	if demo {
		slog.Info("running in demo mode with a simulated device network")
		sim := discovery.NewSimulatedSource()
		announcements = sim
		status = discovery.StatusAdapter{Source: sim}
	} else {
		announcements = discovery.NewDNSSDSource(cfg.DiscoveryServiceType)
	}

	coord := coordinator.New(coordinator.Config{
		Announcements: announcements,
		Status:        status,
		Pool:          pool,
		Addresses:     addresses,
		StartPassive:  cfg.StartPassive,
		QueueCapacity: cfg.QueueCapacity,
	})

	azureMirror, err := mirror.New(mirror.Config{
		AccountURL: cfg.AzureAccountURL,
		Container:  cfg.AzureContainer,
	})
	if err != nil {
		slog.Warn("archive mirror disabled", "error", err)
		azureMirror = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		slog.Info("shutdown signal received")
		cancel()
	}()

	if err := os.MkdirAll(cfg.ArchiveWatchDir, 0o755); err != nil {
		slog.Error("failed to create archive watch directory", "dir", cfg.ArchiveWatchDir, "error", err)
		os.Exit(1)
	}

	watcher, err := registry.NewWatcher(cfg.ArchiveWatchDir, coord.ArchiveRegistry())
	if err != nil {
		slog.Error("failed to start archive directory watcher", "error", err)
		os.Exit(1)
	}

	if err := coord.Start(ctx); err != nil {
		slog.Error("failed to start coordinator", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		watcher.Run(ctx)
	}()

	if cfg.HTTPAddr != "" {
		auth := httpapi.NewAuth(httpapi.AuthConfig{
			AdminUsername:      cfg.AdminUsername,
			AdminPassword:      cfg.AdminPassword,
			TokenSecret:        cfg.TokenSecret,
			TokenTTL:           cfg.TokenTTL,
			MaxLoginAttempts:   cfg.MaxLoginAttempts,
			LoginWindowSeconds: cfg.LoginWindowSeconds,
		})
		server := httpapi.NewServer(coord, auth, azureMirror, cfg.HTTPAddr)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				slog.Error("http api server error", "error", err)
			}
		}()
	}

	<-ctx.Done()

	if err := coord.Stop(); err != nil {
		slog.Warn("error stopping coordinator", "error", err)
	}

	wg.Wait()
	slog.Info("djlink finder stopped")
}
