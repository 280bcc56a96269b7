package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kvrouter/kvrouter/config"
	"github.com/kvrouter/kvrouter/internal/admin"
	"github.com/kvrouter/kvrouter/internal/destination"
	"github.com/kvrouter/kvrouter/internal/registry"
	"github.com/kvrouter/kvrouter/internal/stats"
	"github.com/kvrouter/kvrouter/internal/tko"
	"github.com/kvrouter/kvrouter/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Logging.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	sink := stats.NewPrometheusSink(reg)
	trackers := tko.NewRegistry(cfg.Health.HardFailureThreshold, cfg.Health.SoftFailureThreshold)
	destinations := registry.NewMap()

	if err := initializeDestinations(cfg, log, destinations, trackers, sink); err != nil {
		log.Error("Failed to initialize destinations", slog.Any("err", err))
		os.Exit(1)
	}

	srv, err := admin.New(cfg.Server.AdminAddr, destinations, trackers, reg)
	if err != nil {
		log.Error("Failed to create admin server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	poll, sweep, err := cfg.Server.Intervals()
	if err != nil {
		log.Error("Failed to parse intervals", slog.Any("err", err))
		os.Exit(1)
	}
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		watch(ctx, destinations, poll, sweep)
	}()

	log.Info("Watchdog started",
		slog.String("admin_addr", cfg.Server.AdminAddr),
		slog.Int("destinations", destinations.Len()))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
		<-watchDone
		destinations.CloseAll()
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting admin server", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func initializeDestinations(cfg *config.Config, log *slog.Logger, destinations *registry.Map, trackers *tko.Registry, sink stats.Sink) error {
	probeInitial, probeMax, err := cfg.Health.ProbeDelays()
	if err != nil {
		return err
	}
	serverTimeout, err := time.ParseDuration(cfg.Timeouts.Server)
	if err != nil {
		return err
	}

	opts := destination.Options{
		ProbeDelayInitial: probeInitial,
		ProbeDelayMax:     probeMax,
		LatencyWindowSize: cfg.Health.LatencyWindowSize,
		Timeout:           serverTimeout,
		MaxInflight:       cfg.Throttle.MaxInflight,
		MaxPending:        cfg.Throttle.MaxPending,
		TrackingDisabled:  cfg.Health.Disabled,
	}

	for _, dc := range cfg.Destinations {
		destinations.GetOrCreate(dc.Key, func() *destination.Destination {
			return destination.New(dc.Key, dc.Endpoint, dc.Pool, destination.Deps{
				Dialer:          tcpDialer{},
				Tracker:         trackers.Acquire(dc.Key),
				TrackerRegistry: trackers,
				Actives:         destinations,
				Stats:           sink,
				Logger:          log,
			}, opts)
		})
	}

	if destinations.Len() == 0 {
		return os.ErrInvalid
	}

	return nil
}

// watch drives the health loop: every poll tick each eligible destination
// gets a connectivity check, and every sweep tick connections that saw no
// traffic since the previous sweep are released. Knocked-out destinations
// are skipped; their recovery runs on the probe schedule. Returns only
// after every in-flight check finished, so the caller can tear down the
// destinations safely.
func watch(ctx context.Context, destinations *registry.Map, poll, sweep time.Duration) {
	pollTicker := time.NewTicker(poll)
	defer pollTicker.Stop()
	sweepTicker := time.NewTicker(sweep)
	defer sweepTicker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			for _, d := range destinations.Snapshot() {
				if !d.MaySend() {
					continue
				}
				destinations.MarkActive(d)
				inflight.Add(1)
				go func(d *destination.Destination) {
					defer inflight.Done()
					d.Send(ctx, &destination.Request{Op: destination.OpVersion})
				}(d)
			}
		case <-sweepTicker.C:
			destinations.ResetAllInactive()
		}
	}
}
