// Package server exposes the decision engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"hft-ensemble/internal/ensemble"
	"hft-ensemble/internal/storage"
	"hft-ensemble/internal/window"
)

// Engine is the decision surface the API serves.
type Engine interface {
	Predict(ctx context.Context, symbol string) (*ensemble.Decision, error)
	PredictBatch(ctx context.Context, symbols []string) []ensemble.BatchEntry
	Info() ensemble.Info
	Loaded() bool
}

// HistoryStore is the subset of storage the read endpoints use.
type HistoryStore interface {
	RecentTicks(symbol string, n int) ([]storage.TickRecord, error)
	Symbols() ([]string, error)
	Stats() (storage.Stats, error)
}

// Server provides the prediction and introspection API.
type Server struct {
	engine       Engine
	store        HistoryStore
	server       *http.Server
	inferTimeout time.Duration
}

// New creates an API server on the given port.
func New(engine Engine, store HistoryStore, port int, inferTimeout time.Duration) *Server {
	s := &Server{
		engine:       engine,
		store:        store,
		inferTimeout: inferTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/predict/batch", s.handlePredictBatch)
	mux.HandleFunc("/ensemble/info", s.handleInfo)
	mux.HandleFunc("/symbols", s.handleSymbols)
	mux.HandleFunc("/history/", s.handleHistory)
	mux.HandleFunc("/stats", s.handleStats)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps engine errors onto HTTP statuses. A missing model is a
// service condition, missing data is the client asking too early, and
// everything else is an internal failure.
func statusFor(err error) int {
	var insufficient *window.InsufficientDataError
	switch {
	case errors.Is(err, ensemble.ErrNotLoaded):
		return http.StatusServiceUnavailable
	case errors.As(err, &insufficient):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.engine.Loaded() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"model_loaded": s.engine.Loaded(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

type predictRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.inferTimeout)
	defer cancel()

	decision, err := s.engine.Predict(ctx, req.Symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", req.Symbol).Msg("prediction failed")
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type batchRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.inferTimeout)
	defer cancel()

	entries := s.engine.PredictBatch(ctx, req.Symbols)
	writeJSON(w, http.StatusOK, map[string]any{"predictions": entries})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Info())
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.store.Symbols()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbols": symbols})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimPrefix(r.URL.Path, "/history/")
	if symbol == "" || strings.Contains(symbol, "/") {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	points := 100
	if p := r.URL.Query().Get("points"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 10000 {
			writeError(w, http.StatusBadRequest, "points must be between 1 and 10000")
			return
		}
		points = n
	}

	ticks, err := s.store.RecentTicks(symbol, points)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ticks == nil {
		ticks = []storage.TickRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"count":  len(ticks),
		"ticks":  ticks,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
