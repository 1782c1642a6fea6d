package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	fpmath "SpotLedger/internal/math"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/persistence"
	"SpotLedger/internal/projection"
	"SpotLedger/internal/query"
	"SpotLedger/internal/state"
)

var errBadRequest = errors.New("bad request")

// EngineStatus is the engine state shown on /v1/status.
type EngineStatus interface {
	GetSequence() int64
	GetStateHash() [32]byte
}

// IntegrityVerifier checks the persisted hash chain.
type IntegrityVerifier interface {
	VerifyIntegrity(ctx context.Context) (*persistence.IntegrityReport, error)
}

// HistoryReader reads the market history projection.
type HistoryReader interface {
	LoadHistory(ctx context.Context, marketIndex uint16, limit int) ([]projection.HistoryRow, error)
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// Deps holds what the HTTP routes read from. Integrity, History, Health
// and Metrics are optional.
type Deps struct {
	Risk      *query.RiskService
	Engine    EngineStatus
	Integrity IntegrityVerifier
	History   HistoryReader
	Health    *observability.HealthChecker
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
	StartTime time.Time
}

// StatusResponse is the body of /v1/status.
type StatusResponse struct {
	State         string `json:"state"`
	NextSequence  int64  `json:"next_sequence"`
	StateHash     string `json:"state_hash"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

type handlers struct {
	deps Deps
}

// NewHandler builds the HTTP/JSON routes on a grpc-gateway ServeMux.
func NewHandler(deps Deps) (http.Handler, error) {
	h := &handlers{deps: deps}
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern, name string
		fn                    func(w http.ResponseWriter, r *http.Request, params map[string]string) error
	}{
		{http.MethodGet, "/v1/spot-markets", "list_markets", h.listMarkets},
		{http.MethodGet, "/v1/spot-markets/{market_index}", "get_market", h.getMarket},
		{http.MethodGet, "/v1/spot-markets/{market_index}/weights", "get_weights", h.getWeights},
		{http.MethodGet, "/v1/spot-markets/{market_index}/token-amount", "get_token_amount", h.getTokenAmount},
		{http.MethodGet, "/v1/spot-markets/{market_index}/balance-update", "preview_balance_update", h.previewBalanceUpdate},
		{http.MethodGet, "/v1/spot-markets/{market_index}/history", "get_history", h.getHistory},
		{http.MethodGet, "/v1/status", "status", h.status},
		{http.MethodGet, "/v1/admin/integrity", "integrity", h.integrity},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, h.instrument(rt.name, rt.fn)); err != nil {
			return nil, fmt.Errorf("register %s: %w", rt.pattern, err)
		}
	}

	if deps.Health != nil {
		health := map[string]http.HandlerFunc{
			"/healthz": deps.Health.LivenessHandler,
			"/readyz":  deps.Health.ReadinessHandler,
		}
		for path, fn := range health {
			fn := fn
			if err := mux.HandlePath(http.MethodGet, path, func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
				fn(w, r)
			}); err != nil {
				return nil, fmt.Errorf("register %s: %w", path, err)
			}
		}
	}

	return withRequestID(mux), nil
}

// withRequestID propagates X-Request-Id, generating one when absent.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *handlers) instrument(route string, fn func(http.ResponseWriter, *http.Request, map[string]string) error) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		if err := fn(rec, r, params); err != nil {
			h.writeError(rec, r, route, err)
		}

		if m := h.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
			m.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, route string, err error) {
	code, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, state.ErrMarketNotFound):
		code, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, errBadRequest):
		code, kind = http.StatusBadRequest, "bad_request"
	case errors.Is(err, fpmath.ErrMathError):
		code, kind = http.StatusUnprocessableEntity, "math"
	}

	if h.deps.Metrics != nil {
		h.deps.Metrics.QueryErrors.WithLabelValues(route, kind).Inc()
	}
	if code == http.StatusInternalServerError {
		h.deps.Logger.Error().Err(err).Str("route", route).Msg("request failed")
	}

	writeJSON(w, code, errorResponse{
		Error:     err.Error(),
		Code:      kind,
		RequestID: r.Header.Get("X-Request-Id"),
	})
}

func (h *handlers) listMarkets(w http.ResponseWriter, _ *http.Request, _ map[string]string) error {
	markets, err := h.deps.Risk.ListMarkets()
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": markets})
	return nil
}

func (h *handlers) getMarket(w http.ResponseWriter, _ *http.Request, params map[string]string) error {
	index, err := parseMarketIndex(params)
	if err != nil {
		return err
	}
	detail, err := h.deps.Risk.GetMarket(index)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, detail)
	return nil
}

// getWeights: ?size=<u128 token units>&margin_type=initial|maintenance&now=<unix>
func (h *handlers) getWeights(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	index, err := parseMarketIndex(params)
	if err != nil {
		return err
	}
	q := r.URL.Query()

	size := fpmath.NewU128(0)
	if s := q.Get("size"); s != "" {
		if size, err = fpmath.ParseU128(s); err != nil {
			return fmt.Errorf("%w: size: %v", errBadRequest, err)
		}
	}

	kind := fpmath.MarginRequirementInitial
	if s := q.Get("margin_type"); s != "" {
		if kind, err = fpmath.ParseMarginRequirementType(s); err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}

	var now int64
	if s := q.Get("now"); s != "" {
		if now, err = strconv.ParseInt(s, 10, 64); err != nil || now < 0 {
			return fmt.Errorf("%w: now must be a unix timestamp", errBadRequest)
		}
	}

	resp, err := h.deps.Risk.GetWeights(index, size, kind, now)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// getTokenAmount: ?balance=<u128 scaled balance>&balance_type=deposit|borrow
func (h *handlers) getTokenAmount(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	index, err := parseMarketIndex(params)
	if err != nil {
		return err
	}
	q := r.URL.Query()

	s := q.Get("balance")
	if s == "" {
		return fmt.Errorf("%w: balance is required", errBadRequest)
	}
	balance, err := fpmath.ParseU128(s)
	if err != nil {
		return fmt.Errorf("%w: balance: %v", errBadRequest, err)
	}

	var side state.SpotBalanceType
	if err := side.UnmarshalText([]byte(q.Get("balance_type"))); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}

	resp, err := h.deps.Risk.GetTokenAmount(index, balance, side)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// previewBalanceUpdate: ?balance=<u64 scaled>&balance_type=deposit|borrow
// &amount=<u128 token units>&direction=deposit|borrow
func (h *handlers) previewBalanceUpdate(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	index, err := parseMarketIndex(params)
	if err != nil {
		return err
	}
	q := r.URL.Query()

	var balance uint64
	if s := q.Get("balance"); s != "" {
		if balance, err = strconv.ParseUint(s, 10, 64); err != nil {
			return fmt.Errorf("%w: balance must be a u64 scaled balance", errBadRequest)
		}
	}
	var side state.SpotBalanceType
	if err := side.UnmarshalText([]byte(q.Get("balance_type"))); err != nil {
		return fmt.Errorf("%w: balance_type: %v", errBadRequest, err)
	}

	s := q.Get("amount")
	if s == "" {
		return fmt.Errorf("%w: amount is required", errBadRequest)
	}
	amount, err := fpmath.ParseU128(s)
	if err != nil {
		return fmt.Errorf("%w: amount: %v", errBadRequest, err)
	}
	var direction state.SpotBalanceType
	if err := direction.UnmarshalText([]byte(q.Get("direction"))); err != nil {
		return fmt.Errorf("%w: direction: %v", errBadRequest, err)
	}

	resp, err := h.deps.Risk.PreviewBalanceUpdate(index, balance, side, amount, direction)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// getHistory: ?limit=<1..1000>, newest first.
func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	index, err := parseMarketIndex(params)
	if err != nil {
		return err
	}
	if h.deps.History == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "history not configured", Code: "unavailable"})
		return nil
	}
	if _, err := h.deps.Risk.GetMarket(index); err != nil {
		return err
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit <= 0 || limit > maxHistoryLimit {
			return fmt.Errorf("%w: limit must be 1..%d", errBadRequest, maxHistoryLimit)
		}
	}

	rows, err := h.deps.History.LoadHistory(r.Context(), index, limit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if rows == nil {
		rows = []projection.HistoryRow{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"market_index": index, "history": rows})
	return nil
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request, _ map[string]string) error {
	stateName := "starting"
	if h.deps.Health == nil || h.deps.Health.IsReady() {
		stateName = "ready"
	}
	hash := h.deps.Engine.GetStateHash()
	writeJSON(w, http.StatusOK, StatusResponse{
		State:         stateName,
		NextSequence:  h.deps.Engine.GetSequence(),
		StateHash:     hex.EncodeToString(hash[:]),
		UptimeSeconds: int64(time.Since(h.deps.StartTime).Seconds()),
	})
	return nil
}

func (h *handlers) integrity(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	if h.deps.Integrity == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "integrity check not configured", Code: "unavailable"})
		return nil
	}
	report, err := h.deps.Integrity.VerifyIntegrity(r.Context())
	if err != nil {
		return fmt.Errorf("verify integrity: %w", err)
	}
	writeJSON(w, http.StatusOK, report)
	return nil
}

func parseMarketIndex(params map[string]string) (uint16, error) {
	v, err := strconv.ParseUint(params["market_index"], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: market_index must be 0..65535", errBadRequest)
	}
	return uint16(v), nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// HTTPServer serves a handler until its context is done.
type HTTPServer struct {
	server *http.Server
	logger zerolog.Logger
}

func NewHTTPServer(addr string, handler http.Handler, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
