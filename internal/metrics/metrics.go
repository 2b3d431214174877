// Package metrics exposes Prometheus counters/gauges for the DTC engine
// pipeline: ingest, registry promotion/pruning, and BAM reassembly. It
// pairs promauto collectors with sync/atomic mirrors so cmd/dtcmon can log
// a compact summary without scraping itself.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/dtcmesh/j1939dtc/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors.
var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	IngestedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "j1939dtc_ingested_frames_total",
		Help: "Total CAN frames passed to Engine.IngestFrame.",
	})
	MalformedDM1 = promauto.NewCounter(prometheus.CounterOpts{
		Name: "j1939dtc_malformed_dm1_total",
		Help: "Total frames rejected as malformed by the DTC pipeline (short DM1 buffer, bad BAM length, out-of-order TP.DT).",
	})
	GateContended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "j1939dtc_gate_contended_total",
		Help: "Total Engine operations that dropped because the concurrency gate was held.",
	})
	CandidateTableFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "j1939dtc_candidate_table_full_total",
		Help: "Total new-candidate observations dropped because the candidate table was full.",
	})
	ActivePromotionDeclined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "j1939dtc_active_table_full_total",
		Help: "Total promotions declined because the active table was full.",
	})
	BAMTableFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "j1939dtc_bam_table_full_total",
		Help: "Total TP.CM announcements dropped because no reassembly slot was free.",
	})
	BAMAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "j1939dtc_bam_aborted_total",
		Help: "Total in-flight BAM reassemblies abandoned (out-of-order TP.DT or age timeout).",
	})
	ActiveDTCs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "j1939dtc_active_dtcs",
		Help: "Current number of active DTCs.",
	})
	CandidateDTCs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "j1939dtc_candidate_dtcs",
		Help: "Current number of candidate DTCs awaiting promotion.",
	})
	BAMSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "j1939dtc_bam_slots_in_use",
		Help: "Current number of occupied BAM reassembly slots.",
	})
)

// StartHTTP serves Prometheus metrics at /metrics on addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for compact logging (avoid an in-process Prometheus scrape).
var (
	localIngested  uint64
	localMalformed uint64
	localContended uint64
	localCandFull  uint64
	localActFull   uint64
	localBAMFull   uint64
	localBAMAbort  uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	Ingested   uint64
	Malformed  uint64
	Contended  uint64
	CandFull   uint64
	ActiveFull uint64
	BAMFull    uint64
	BAMAborted uint64
}

func Snap() Snapshot {
	return Snapshot{
		Ingested:   atomic.LoadUint64(&localIngested),
		Malformed:  atomic.LoadUint64(&localMalformed),
		Contended:  atomic.LoadUint64(&localContended),
		CandFull:   atomic.LoadUint64(&localCandFull),
		ActiveFull: atomic.LoadUint64(&localActFull),
		BAMFull:    atomic.LoadUint64(&localBAMFull),
		BAMAborted: atomic.LoadUint64(&localBAMAbort),
	}
}

func IncIngestedFrames() { IngestedFrames.Inc(); atomic.AddUint64(&localIngested, 1) }
func IncMalformedFrames() {
	MalformedDM1.Inc()
	atomic.AddUint64(&localMalformed, 1)
}
func IncGateContended() { GateContended.Inc(); atomic.AddUint64(&localContended, 1) }
func IncCandidateTableFull() {
	CandidateTableFull.Inc()
	atomic.AddUint64(&localCandFull, 1)
}
func IncActivePromotionDeclined() {
	ActivePromotionDeclined.Inc()
	atomic.AddUint64(&localActFull, 1)
}
func IncBAMTableFull() { BAMTableFull.Inc(); atomic.AddUint64(&localBAMFull, 1) }
func IncBAMAborted()   { BAMAborted.Inc(); atomic.AddUint64(&localBAMAbort, 1) }

func SetActiveDTCs(n int)    { ActiveDTCs.Set(float64(n)) }
func SetCandidateDTCs(n int) { CandidateDTCs.Set(float64(n)) }
func SetBAMSlotsInUse(n int) { BAMSlotsInUse.Set(float64(n)) }

// InitBuildInfo sets the build info gauge (call once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}
