package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dtcmesh/j1939dtc/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"ingested", snap.Ingested,
					"malformed", snap.Malformed,
					"gate_contended", snap.Contended,
					"candidate_full", snap.CandFull,
					"active_full", snap.ActiveFull,
					"bam_full", snap.BAMFull,
					"bam_aborted", snap.BAMAborted,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
