// Package api exposes the operator-facing HTTP surface: current metrics,
// health, alert history and stats, rule configuration, a Prometheus scrape
// endpoint and a live WebSocket alert feed.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/opspulse/opspulse/pkg/alerting"
	"github.com/opspulse/opspulse/pkg/metrics"
	"github.com/opspulse/opspulse/pkg/models"
)

const (
	defaultHistoryHours    = 24
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeoutDefault = 10 * time.Second
)

// Server is the operator HTTP API.
type Server struct {
	log      *zap.Logger
	source   metrics.MetricSource
	recorder metrics.EventRecorder
	manager  *alerting.Manager
	hub      *Hub
	router   *mux.Router
	httpSrv  *http.Server
}

// NewServer wires the API over the collector and alert manager. gatherer may
// be nil to disable the Prometheus endpoint; recorder may be nil to disable
// self-instrumentation.
func NewServer(
	addr string,
	source metrics.MetricSource,
	recorder metrics.EventRecorder,
	manager *alerting.Manager,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	s := &Server{
		log:      logger,
		source:   source,
		recorder: recorder,
		manager:  manager,
		hub:      NewHub(logger),
		router:   mux.NewRouter(),
	}

	s.setupRoutes(gatherer)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Fired alerts stream out on the WebSocket feed as they happen.
	manager.SetOnAlert(s.hub.BroadcastAlert)

	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.instrumentMiddleware)

	s.router.HandleFunc("/api/metrics", s.getAllMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/api/health", s.getHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/alerts", s.getAlertHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/api/alerts/stats", s.getAlertStats).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rules", s.getRules).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rules/{type}", s.getRule).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rules/{type}", s.updateRule).Methods(http.MethodPut)
	s.router.HandleFunc("/api/ws", s.hub.ServeWS)

	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// Start runs the HTTP server and the WebSocket hub until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.log.Info("operator API listening", zap.String("addr", s.httpSrv.Addr))

	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeoutDefault)
	defer cancel()

	return s.httpSrv.Shutdown(shutdownCtx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// instrumentMiddleware records the API's own traffic into the collector, so
// the engine observes itself the same way it observes the rest of the app.
func (s *Server) instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.recorder == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.recorder.RecordAPIRequest(
			r.URL.Path,
			r.Method,
			float64(time.Since(start).Milliseconds()),
			rec.status,
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade work through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}

	return hijacker.Hijack()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) getAllMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.GetSnapshot())
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.source.GetHealthStatus()

	s.writeJSON(w, http.StatusOK, struct {
		models.HealthStatus
		LastEvaluation time.Time `json:"last_evaluation"`
	}{
		HealthStatus:   health,
		LastEvaluation: s.manager.LastTick(),
	})
}

func (s *Server) getAlertHistory(w http.ResponseWriter, r *http.Request) {
	hours := defaultHistoryHours

	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid hours parameter", http.StatusBadRequest)
			return
		}

		hours = parsed
	}

	s.writeJSON(w, http.StatusOK, s.manager.History(hours))
}

func (s *Server) getAlertStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) getRules(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Rules())
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	typ := mux.Vars(r)["type"]

	rule, err := s.manager.Rule(typ)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	typ := mux.Vars(r)["type"]

	var patch models.RulePatch

	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.manager.UpdateRuleConfig(typ, patch); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, alerting.ErrUnknownRule) {
			status = http.StatusNotFound
		}

		http.Error(w, err.Error(), status)

		return
	}

	rule, err := s.manager.Rule(typ)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, rule)
}
