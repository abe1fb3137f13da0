// Package main is the entry point for the vault yield resolver, an HTTP
// service that reconciles disagreeing vault data sources and resolves
// the best-yielding vault per asset and risk tolerance.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/vault-yield-resolver/internal/cache"
	"github.com/yourorg/vault-yield-resolver/internal/circuitbreaker"
	"github.com/yourorg/vault-yield-resolver/internal/config"
	"github.com/yourorg/vault-yield-resolver/internal/engine"
	"github.com/yourorg/vault-yield-resolver/internal/fetch"
	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/onchain"
	"github.com/yourorg/vault-yield-resolver/internal/otel"
	"github.com/yourorg/vault-yield-resolver/internal/resolve"
	"github.com/yourorg/vault-yield-resolver/internal/risk"
	"github.com/yourorg/vault-yield-resolver/internal/store"
	"github.com/yourorg/vault-yield-resolver/internal/validate"
	"github.com/yourorg/vault-yield-resolver/internal/yield"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server represents the resolver service instance
type Server struct {
	cfg     config.Config
	engine  *engine.Engine
	breaker *circuitbreaker.Breaker
	metrics *serverMetrics
	limiter *rate.Limiter
	db      *store.PostgresDB
	server  *http.Server

	providerCount int
}

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	circuitState    prometheus.Gauge
	cacheHits       prometheus.Gauge
	cacheMisses     prometheus.Gauge
	rankedVaults    prometheus.Gauge
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resolver_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		circuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "resolver_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		cacheHits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "resolver_cache_hits",
				Help: "Memoizer cache hits since start",
			},
		),
		cacheMisses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "resolver_cache_misses",
				Help: "Memoizer cache misses since start",
			},
		),
		rankedVaults: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "resolver_ranked_vaults",
				Help: "Number of vaults ranked in the last resolution",
			},
		),
	}

	prometheus.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.circuitState,
		m.cacheHits,
		m.cacheMisses,
		m.rankedVaults,
	)

	return m
}

// main is the entry point for the application
func main() {
	setupLogging()

	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg)
	defer shutdownTracer()

	server := NewServer(cfg)
	server.Start()
}

// NewServer wires the resolution pipeline and the HTTP surface.
func NewServer(cfg config.Config) *Server {
	memo := cache.NewMemoizer(cache.Select(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB))

	reader := onchain.NewClient(chainEndpoints(cfg.RPCEndpoints)).WithTimeout(cfg.RPCTimeout)

	providers := []fetch.Provider{
		fetch.NewDefiLlamaClient(cfg.DefiLlamaURL),
		fetch.NewVaultsFyiClient(cfg.VaultsFyiURL, cfg.APIKeys["vaultsfyi"]),
	}

	validator := validate.New(reader, validate.Options{
		TVLFloorUSD:   cfg.ValidationTVLFloor,
		MaxCandidates: cfg.ValidationMaxCands,
		BatchSize:     cfg.ValidationBatch,
		BatchDelay:    cfg.BatchDelay,
	})

	metrics := registerMetrics()

	breaker := circuitbreaker.New(circuitbreaker.Thresholds{
		MaxAPY:       cfg.MaxAPY,
		MaxTVLChange: cfg.MaxTVLChange,
		MinSources:   cfg.MinSourceCount,
	}).WithResetDelay(cfg.CircuitResetDelay).
		WithTripCallback(func(reason string, _ []model.VaultRecord) {
			metrics.circuitState.Set(float64(circuitbreaker.StateOpen))
		})

	var (
		db      *store.PostgresDB
		records engine.Store
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = store.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			logrus.Fatalf("Failed to connect to database: %v", err)
		}
		if err := store.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			logrus.Fatalf("Failed to run migrations: %v", err)
		}
		records = store.NewRecordRepository(db)
		logrus.Info("Record persistence enabled")
	}

	eng := engine.New(
		providers,
		validator,
		yield.NewCalculator(reader),
		risk.NewScorer(memo),
		resolve.New(resolve.DefaultConfidenceThreshold),
		breaker,
		memo,
		records,
	)

	logrus.WithFields(logrus.Fields{
		"port":           cfg.Port,
		"providers":      len(providers),
		"redis":          cfg.RedisAddr != "",
		"persistence":    cfg.DatabaseURL != "",
		"rpc_chains":     len(cfg.RPCEndpoints),
		"max_apy":        cfg.MaxAPY,
		"min_sources":    cfg.MinSourceCount,
		"request_limit":  requestsPerSecond(),
		"batch_delay_ms": cfg.BatchDelay.Milliseconds(),
	}).Info("Server initialized")

	return &Server{
		cfg:           cfg,
		engine:        eng,
		breaker:       breaker,
		metrics:       metrics,
		limiter:       rate.NewLimiter(rate.Limit(requestsPerSecond()), requestBurst()),
		db:            db,
		providerCount: len(providers),
	}
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	router := mux.NewRouter()
	router.HandleFunc("/resolve", s.handleResolve).Methods(http.MethodPost)
	router.HandleFunc("/vaults/{chain}/{address}", s.handleVault).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/circuit", s.handleCircuit).Methods(http.MethodGet, http.MethodPost)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}
	if s.db != nil {
		s.db.Close()
	}

	logrus.Info("Server stopped")
}

// resolveResponse is the envelope for a successful resolution.
type resolveResponse struct {
	RequestID string         `json:"request_id"`
	LatencyMs int64          `json:"latency_ms"`
	Result    *engine.Result `json:"result"`
}

// handleResolve runs the full resolution pipeline for the posted criteria.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	if !s.limiter.Allow() {
		s.errorResponse(w, "resolve", requestID, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var criteria engine.Criteria
	if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
		s.errorResponse(w, "resolve", requestID, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	ctx, span := otel.Tracer().Start(ctx, "resolve")
	defer span.End()

	log := logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"asset":      criteria.AssetSymbol,
		"chain":      criteria.Chain,
		"tolerance":  criteria.RiskTolerance,
	})

	result, err := s.engine.Resolve(ctx, criteria)
	if err != nil {
		otel.RecordError(ctx, err)
		log.Warnf("Resolution failed: %v", err)
		s.errorResponse(w, "resolve", requestID, statusForError(err), err.Error())
		return
	}

	s.metrics.rankedVaults.Set(float64(len(result.Ranked)))
	s.observe("resolve", "success", start)
	s.refreshGauges()

	log.WithFields(logrus.Fields{
		"best":       result.Best.Identity(),
		"ranked":     len(result.Ranked),
		"latency_ms": time.Since(start).Milliseconds(),
	}).Info("Resolution complete")

	writeJSON(w, http.StatusOK, resolveResponse{
		RequestID: requestID,
		LatencyMs: time.Since(start).Milliseconds(),
		Result:    result,
	})
}

// handleVault returns the canonical record for one vault identity.
// ?refresh=true bypasses the provider-page cache.
func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	if !s.limiter.Allow() {
		s.errorResponse(w, "vault", requestID, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	vars := mux.Vars(r)
	refresh := r.URL.Query().Get("refresh") == "true"

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	record, err := s.engine.GetVault(ctx, chainParam(vars["chain"]), vars["address"], refresh)
	if err != nil {
		otel.RecordError(ctx, err)
		s.errorResponse(w, "vault", requestID, statusForError(err), err.Error())
		return
	}

	s.observe("vault", "success", start)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": requestID,
		"vault":      record,
	})
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			health["status"] = "DEGRADED"
			health["database"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, health)
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hits, misses := s.engine.CacheStats()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "operational",
		"uptime":    time.Since(startTime).String(),
		"providers": s.providerCount,
		"cache": map[string]int64{
			"hits":   hits,
			"misses": misses,
		},
		"circuit_state": stateLabel(s.breaker.GetState()),
		"configuration": map[string]interface{}{
			"max_apy":        s.cfg.MaxAPY,
			"max_tvl_change": s.cfg.MaxTVLChange,
			"min_sources":    s.cfg.MinSourceCount,
			"persistence":    s.db != nil,
		},
	})
}

// handleCircuit allows viewing and resetting the circuit breaker
func (s *Server) handleCircuit(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"state": stateLabel(s.breaker.GetState()),
	}

	if r.Method == http.MethodPost && r.URL.Query().Get("action") == "reset" {
		s.breaker.Reset()
		s.refreshGauges()
		response["state"] = stateLabel(s.breaker.GetState())
		response["message"] = "circuit breaker reset"
	}

	if lastGood := s.breaker.LastGoodRecords(); len(lastGood) > 0 {
		response["last_good_count"] = len(lastGood)
		response["last_good_timestamp"] = time.Unix(lastGood[0].CollectedAt, 0).Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, response)
}

// errorResponse returns a structured error payload.
func (s *Server) errorResponse(w http.ResponseWriter, route, requestID string, statusCode int, message string) {
	s.metrics.requestCounter.WithLabelValues(route, "error").Inc()
	writeJSON(w, statusCode, map[string]interface{}{
		"request_id": requestID,
		"status":     statusCode,
		"error":      message,
	})
}

// statusForError maps pipeline sentinels onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidCriteria):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNoMatchingVault):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAllSourcesFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) observe(route, status string, start time.Time) {
	s.metrics.requestCounter.WithLabelValues(route, status).Inc()
	s.metrics.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

func (s *Server) refreshGauges() {
	hits, misses := s.engine.CacheStats()
	s.metrics.cacheHits.Set(float64(hits))
	s.metrics.cacheMisses.Set(float64(misses))
	s.metrics.circuitState.Set(float64(s.breaker.GetState()))
}
