// Package webstatus serves the module tree and instrument readings
// over HTTP. It stands in for a desktop GUI: a JSON API for the
// module states, the latest pump sample when wired to a monitor, and
// Prometheus metrics.
package webstatus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openlabkit/labcore"
	"github.com/openlabkit/labcore/logic/pumpmonitor"
)

const defaultListen = ":8040"

// Numeric encoding of module states for the state gauge.
var stateCodes = map[labcore.State]float64{
	labcore.StateUnloaded:    0,
	labcore.StateLoaded:      1,
	labcore.StateActivated:   2,
	labcore.StateDeactivated: 3,
}

// Server is the webstatus module.
type Server struct {
	name   string
	opts   labcore.Options
	logger labcore.Logger
	table  *labcore.ConnectorTable
	mgr    *labcore.Manager

	registry      *prometheus.Registry
	moduleState   *prometheus.GaugeVec
	notifications *prometheus.CounterVec
	observer      labcore.Observer

	srv *http.Server
}

// New constructs the module. The `listen` option sets the bind
// address.
func New(mgr *labcore.Manager, name string, opts labcore.Options) (labcore.Module, error) {
	s := &Server{
		name:     name,
		opts:     opts,
		logger:   mgr.Logger(),
		table:    labcore.NewConnectorTable(),
		mgr:      mgr,
		registry: prometheus.NewRegistry(),
	}
	s.table.DeclareIn("samples", pumpmonitor.SourceCapability)

	s.moduleState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "labcore_module_state",
		Help: "Module state: 0 unloaded, 1 loaded, 2 activated, 3 deactivated.",
	}, []string{"category", "name"})
	s.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "labcore_notifications_total",
		Help: "Manager notifications observed, by event type.",
	}, []string{"type"})
	s.registry.MustRegister(s.moduleState, s.notifications)
	return s, nil
}

func (s *Server) Name() string                        { return s.name }
func (s *Server) Connectors() *labcore.ConnectorTable { return s.table }

// OnActivate starts the HTTP server and subscribes to Manager
// notifications.
func (s *Server) OnActivate(ctx context.Context) error {
	s.observer = labcore.NewFuncObserver(s.name, func(ctx context.Context, event cloudevents.Event) error {
		s.notifications.WithLabelValues(event.Type()).Inc()
		return nil
	})
	if err := s.mgr.RegisterObserver(s.observer); err != nil {
		return err
	}

	listen, ok := s.opts.String("listen")
	if !ok {
		listen = defaultListen
	}
	s.srv = &http.Server{Addr: listen, Handler: s.routes()}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server failed", "name", s.name, "error", err)
		}
	}()
	s.logger.Info("Status server listening", "name", s.name, "addr", listen)
	return nil
}

// OnDeactivate stops the server and unsubscribes.
func (s *Server) OnDeactivate(ctx context.Context) error {
	if s.observer != nil {
		if err := s.mgr.UnregisterObserver(s.observer); err != nil {
			s.logger.Warn("Observer unregister failed", "name", s.name, "error", err)
		}
		s.observer = nil
	}
	if s.srv == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(sctx)
	s.srv = nil
	return err
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/modules", s.handleModules)
	r.Get("/api/sample", s.handleSample)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler())
	return r
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Snapshot())
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.table.In["samples"]
	if !ok || !conn.Bound() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no sample source wired"})
		return
	}
	source, ok := conn.Target().(pumpmonitor.Source)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "bound target is not a sample source"})
		return
	}
	sample, ok := source.LastSample()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no sample taken yet"})
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// metricsHandler refreshes the state gauge from a fresh snapshot
// before every scrape.
func (s *Server) metricsHandler() http.Handler {
	inner := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.moduleState.Reset()
		for _, st := range s.mgr.Snapshot() {
			s.moduleState.WithLabelValues(string(st.Category), st.Name).Set(stateCodes[st.State])
		}
		inner.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
