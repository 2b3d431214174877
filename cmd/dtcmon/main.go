// Command dtcmon feeds CAN frames from a replay log, a serial CAN dongle, or
// a live SocketCAN interface into a j1939dtc.Engine, then exposes the
// resulting active/candidate DTC sets over HTTP and (optionally) Prometheus
// metrics. It is a thin, swappable collaborator around the library core,
// the kind of small cmd/ binary that wires a protocol engine to real I/O.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	j1939dtc "github.com/dtcmesh/j1939dtc"
	"github.com/dtcmesh/j1939dtc/internal/can"
	"github.com/dtcmesh/j1939dtc/internal/dtc"
	"github.com/dtcmesh/j1939dtc/internal/httpapi"
	"github.com/dtcmesh/j1939dtc/internal/logcan"
	"github.com/dtcmesh/j1939dtc/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("dtcmon %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	engine := j1939dtc.NewEngine(
		j1939dtc.WithThresholds(uint32(cfg.thresholdReads), uint32(cfg.windowActive), uint32(cfg.windowInactive)),
		j1939dtc.WithTimeoutMultiFrame(uint32(cfg.timeoutMultiFrame)),
	)
	engine.RegisterCallback(func(active []dtc.Record) {
		l.Info("active_dtcs_changed", "count", len(active))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	feed, fctx := logcan.NewFeed(ctx, 4096)
	if err := addFrameSource(fctx, feed, cfg, l); err != nil {
		l.Error("source_init_error", "error", err)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for fr := range feed.Frames() {
			now := uint32(time.Now().Unix())
			engine.IngestFrame(fr.ID, fr.Data, now)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(cfg.tickEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				now := uint32(time.Now().Unix())
				engine.Tick(now)
			}
		}
	}()

	srv := httpapi.NewServer(
		httpapi.WithListenAddr(cfg.httpAddr),
		httpapi.WithLogger(l),
		httpapi.WithActiveFunc(func() []dtc.Record {
			recs, err := engine.DynCopyActive()
			if err != nil {
				return nil
			}
			return recs
		}),
		httpapi.WithCandidatesFunc(func() []dtc.Record {
			recs, err := engine.DynCopyCandidates()
			if err != nil {
				return nil
			}
			return recs
		}),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("http_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		port := portOf(srv.Addr())
		cleanup, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "port", port)
		go func() { <-ctx.Done(); cleanup() }()
	}()

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	feed.Close()
	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = srv.Shutdown(shCtx)
	shCancel()
	wg.Wait()
}

// addFrameSource wires cfg.source into feed; each source emits into the
// same fan-in channel so the engine's single-threaded ingest only ever sees
// one frame at a time, per spec §4.5.
func addFrameSource(ctx context.Context, feed *logcan.Feed, cfg *appConfig, l *slog.Logger) error {
	switch cfg.source {
	case "replay":
		f, err := os.Open(cfg.replayLog)
		if err != nil {
			return fmt.Errorf("open replay log: %w", err)
		}
		feed.AddSource(ctx, func(emit func(can.Frame)) error {
			defer f.Close()
			return logcan.ReplayCandump(f, emit)
		}, func(err error) { l.Warn("replay_error", "error", err) })
		return nil
	case "serial":
		port, err := logcan.OpenSerial(cfg.serialDev, cfg.baud, 50*time.Millisecond)
		if err != nil {
			return fmt.Errorf("open serial: %w", err)
		}
		l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
		feed.AddSource(ctx, func(emit func(can.Frame)) error {
			defer port.Close()
			return logcan.ReadSerial(port, emit)
		}, func(err error) { l.Warn("serial_read_error", "error", err) })
		return nil
	case "socketcan":
		dev, err := logcan.OpenSocketCAN(cfg.canIf)
		if err != nil {
			return fmt.Errorf("open socketcan %s: %w", cfg.canIf, err)
		}
		l.Info("socketcan_open", "if", cfg.canIf)
		feed.AddSource(ctx, func(emit func(can.Frame)) error {
			defer dev.Close()
			return dev.Run(emit)
		}, func(err error) { l.Warn("socketcan_read_error", "error", err) })
		return nil
	default:
		return fmt.Errorf("unknown source %q", cfg.source)
	}
}

func portOf(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}

