// Package ops serves the operational HTTP surface: Prometheus metrics,
// a health report built from supervisor counters and, optionally, pprof.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tgfleet/internal/runtime/supervisor"
	logx "tgfleet/pkg/logx"
)

// Config controls the ops listener.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback address requires Token.
type Config struct {
	Addr  string
	Token string
	Pprof bool
}

// Probe reports the counters of one supervised component.
type Probe func() supervisor.Counters

type Server struct {
	cfg      Config
	log      logx.Logger
	gatherer prometheus.Gatherer
	started  time.Time

	mu     sync.RWMutex
	probes map[string]Probe
}

func New(cfg Config, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:9464"
	}
	return &Server{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "ops")),
		gatherer: prometheus.DefaultGatherer,
		started:  time.Now(),
		probes:   map[string]Probe{},
	}
}

// AddProbe registers a component shown on /healthz. A nil probe removes it.
func (s *Server) AddProbe(name string, p Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		delete(s.probes, name)
		return
	}
	s.probes[name] = p
}

type healthReport struct {
	Status     string                         `json:"status"`
	Uptime     string                         `json:"uptime"`
	Components map[string]supervisor.Counters `json:"components"`
}

func (s *Server) health() healthReport {
	s.mu.RLock()
	names := make([]string, 0, len(s.probes))
	for n := range s.probes {
		names = append(names, n)
	}
	sort.Strings(names)
	rep := healthReport{Status: "ok", Uptime: time.Since(s.started).Truncate(time.Second).String(), Components: map[string]supervisor.Counters{}}
	for _, n := range names {
		c := s.probes[n]()
		rep.Components[n] = c
		if c.Active == 0 {
			rep.Status = "degraded"
		}
	}
	s.mu.RUnlock()
	return rep
}

// Handler returns the routed ops endpoints.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withAuth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		rep := s.health()
		w.Header().Set("Content-Type", "application/json")
		if rep.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(rep)
	}).Methods(http.MethodGet)

	if s.cfg.Pprof {
		d := r.PathPrefix("/debug/pprof").Subrouter()
		d.HandleFunc("/cmdline", hpprof.Cmdline)
		d.HandleFunc("/profile", hpprof.Profile)
		d.HandleFunc("/symbol", hpprof.Symbol)
		d.HandleFunc("/trace", hpprof.Trace)
		d.PathPrefix("/").HandlerFunc(hpprof.Index)
	}
	return r
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Authorization: Bearer <token> or ?token=<token>
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run listens until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("ops refused to start: non-loopback addr requires token", logx.String("addr", addr))
		return errors.New("ops: insecure bind")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("ops started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		s.log.Info("ops stopped")
		return nil
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
