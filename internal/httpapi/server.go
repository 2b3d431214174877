// Package httpapi exposes the current active/candidate DTC sets over HTTP
// as JSON: a read-only observation surface, since consumers of this
// library want a snapshot of diagnostic state rather than a raw CAN relay.
// The functional options, readiness channel and slog-based lifecycle
// logging follow the same constructor shape used elsewhere in this module
// (see Engine's Option pattern in engine.go).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dtcmesh/j1939dtc/internal/dtc"
	"github.com/dtcmesh/j1939dtc/internal/logging"
)

// Sentinel errors, meant to be matched with errors.Is.
var (
	ErrListen   = errors.New("httpapi: listen")
	ErrShutdown = errors.New("httpapi: shutdown timeout")
)

// Server serves read-only JSON views of an Engine's DTC sets.
type Server struct {
	mu   sync.RWMutex
	addr string

	activeFn     func() []dtc.Record
	candidatesFn func() []dtc.Record

	readOnce sync.Once
	readyCh  chan struct{}
	listener net.Listener
	http     *http.Server
	logger   *slog.Logger
}

type Option func(*Server)

func NewServer(opts ...Option) *Server {
	s := &Server{
		readyCh: make(chan struct{}),
		logger:  logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) Option { return func(s *Server) { s.addr = a } }
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithActiveFunc supplies the callback used to render /dtcs/active; it must
// return a freshly-copied slice (e.g. Engine.DynCopyActive), never a
// borrowed reference, since handlers run outside the Engine's gate.
func WithActiveFunc(fn func() []dtc.Record) Option { return func(s *Server) { s.activeFn = fn } }

// WithCandidatesFunc supplies the callback used to render /dtcs/candidates.
func WithCandidatesFunc(fn func() []dtc.Record) Option {
	return func(s *Server) { s.candidatesFn = fn }
}

func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Ready closes once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/dtcs/active", s.serveRecords(func() []dtc.Record {
		if s.activeFn == nil {
			return nil
		}
		return s.activeFn()
	}))
	mux.HandleFunc("/dtcs/candidates", s.serveRecords(func() []dtc.Record {
		if s.candidatesFn == nil {
			return nil
		}
		return s.candidatesFn()
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func (s *Server) serveRecords(get func() []dtc.Record) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records := get()
		out := make([]wireRecord, len(records))
		for i, rec := range records {
			out[i] = toWire(rec)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			s.logger.Warn("encode_response_failed", "path", r.URL.Path, "error", err)
		}
	}
}

// wireRecord is the JSON shape of a dtc.Record; field names are explicit
// (rather than relying on embedded-struct promotion) so the wire contract
// doesn't shift if the internal struct layout changes.
type wireRecord struct {
	Src       uint8  `json:"src"`
	SPN       uint32 `json:"spn"`
	FMI       uint8  `json:"fmi"`
	CM        uint8  `json:"cm"`
	OC        uint8  `json:"oc"`
	MIL       uint8  `json:"mil"`
	RSL       uint8  `json:"rsl"`
	AWL       uint8  `json:"awl"`
	PL        uint8  `json:"pl"`
	FirstSeen uint32 `json:"first_seen"`
	LastSeen  uint32 `json:"last_seen"`
	ReadCount uint16 `json:"read_count"`
}

func toWire(r dtc.Record) wireRecord {
	return wireRecord{
		Src: r.Src, SPN: r.SPN, FMI: r.FMI,
		CM: r.CM, OC: r.OC,
		MIL: r.MIL, RSL: r.RSL, AWL: r.AWL, PL: r.PL,
		FirstSeen: r.FirstSeen, LastSeen: r.LastSeen, ReadCount: r.ReadCount,
	}
}

// Serve binds the listener and blocks serving until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listener = ln
	s.http = &http.Server{Handler: s.handler()}
	s.mu.Unlock()

	s.readOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("http_listen", "addr", s.Addr())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	err = s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.http
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		_ = srv.Shutdown(context.Background())
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrShutdown, ctx.Err())
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("%w: 10s", ErrShutdown)
	}
}
