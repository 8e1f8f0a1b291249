// Package server is the thin HTTP adapter over the settlement engines.
// It only parses requests, calls the engine, and maps errors to statuses;
// all protocol rules live in internal/core.
package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Elliptic-DAO/elp-protocol/internal/core"
	"github.com/Elliptic-DAO/elp-protocol/internal/event"
	"github.com/Elliptic-DAO/elp-protocol/internal/guard"
	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
	"github.com/Elliptic-DAO/elp-protocol/internal/observability"
)

type Server struct {
	engine *core.Engine
	health *observability.HealthChecker
	met    *observability.Metrics
	log    zerolog.Logger
}

func New(engine *core.Engine, health *observability.HealthChecker, met *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{engine: engine, health: health, met: met, log: log}
}

// Router builds the HTTP surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.requestLog)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/protocol/status", s.handleStatus)
		r.Get("/protocol/self-check", s.handleSelfCheck)
		r.Get("/protocol/events", s.handleEvents)
		r.Get("/users/{principal}", s.handleUserData)
		r.Get("/users/{principal}/deposit-account", s.handleDepositAccount)

		r.Post("/swaps/icp-to-eusd", s.handleConvertIcpToEusd)
		r.Post("/swaps/eusd-to-icp", s.handleConvertEusdToIcp)

		r.Post("/leverage/open", s.handleOpenPosition)
		r.Post("/leverage/close", s.handleClosePosition)

		r.Post("/liquidity/add", s.handleAddLiquidity)
		r.Post("/liquidity/remove", s.handleRemoveLiquidity)
		r.Post("/liquidity/claim", s.handleClaimRewards)
	})

	return r
}

type amountRequest struct {
	Caller ledger.Principal `json:"caller"`
	Amount uint64           `json:"amount"`
}

type openPositionRequest struct {
	Caller        ledger.Principal `json:"caller"`
	Amount        uint64           `json:"amount"`
	CoveredAmount uint64           `json:"covered_amount"`
	TakeProfit    uint64           `json:"take_profit"`
}

type closePositionRequest struct {
	Caller            ledger.Principal `json:"caller"`
	DepositBlockIndex uint64           `json:"deposit_block_index"`
}

type claimRequest struct {
	Caller ledger.Principal `json:"caller"`
}

type blockIndexResponse struct {
	BlockIndex uint64 `json:"block_index"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleSelfCheck replays the event log against the live state and audits the
// tracked totals against the external ledger. Meant for operators, not users.
func (s *Server) handleSelfCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SelfCheck(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.engine.AuditBalances(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "consistent"})
}

// maxEventsPage caps one page of the events query.
const maxEventsPage = 1000

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	skip, err := queryUint(r, "skip", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid skip")
		return
	}
	limit, err := queryUint(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxEventsPage {
		limit = maxEventsPage
	}
	events, err := s.engine.Events(r.Context(), skip, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, map[string][]event.Event{"events": events})
}

func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (s *Server) handleUserData(w http.ResponseWriter, r *http.Request) {
	principal := ledger.Principal(chi.URLParam(r, "principal"))
	if principal == "" {
		writeError(w, http.StatusBadRequest, "principal is required")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.UserData(principal))
}

func (s *Server) handleDepositAccount(w http.ResponseWriter, r *http.Request) {
	principal := ledger.Principal(chi.URLParam(r, "principal"))
	if principal == "" {
		writeError(w, http.StatusBadRequest, "principal is required")
		return
	}
	account := s.engine.DepositAccount(principal)
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":      string(account.Owner),
		"subaccount": hex.EncodeToString(account.Subaccount[:]),
	})
}

func (s *Server) handleConvertIcpToEusd(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	blockIndex, err := s.engine.ConvertIcpToEusd(r.Context(), req.Caller, req.Amount)
	s.respond(w, r, blockIndex, err)
}

func (s *Server) handleConvertEusdToIcp(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	blockIndex, err := s.engine.ConvertEusdToIcp(r.Context(), req.Caller, req.Amount)
	s.respond(w, r, blockIndex, err)
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if !decode(w, r, &req) {
		return
	}
	blockIndex, err := s.engine.OpenLeveragePosition(r.Context(), req.Caller, req.Amount, req.CoveredAmount, req.TakeProfit)
	s.respond(w, r, blockIndex, err)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if !decode(w, r, &req) {
		return
	}
	blockIndex, err := s.engine.CloseLeveragePosition(r.Context(), req.Caller, req.DepositBlockIndex)
	s.respond(w, r, blockIndex, err)
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	blockIndex, err := s.engine.AddLiquidity(r.Context(), req.Caller, req.Amount)
	s.respond(w, r, blockIndex, err)
}

func (s *Server) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	blockIndex, err := s.engine.RemoveLiquidity(r.Context(), req.Caller, req.Amount)
	s.respond(w, r, blockIndex, err)
}

func (s *Server) handleClaimRewards(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decode(w, r, &req) {
		return
	}
	blockIndex, err := s.engine.ClaimLiquidityRewards(r.Context(), req.Caller)
	s.respond(w, r, blockIndex, err)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, blockIndex uint64, err error) {
	if err != nil {
		status := statusFor(err)
		if s.met != nil {
			s.met.RequestErrors.WithLabelValues(r.URL.Path, http.StatusText(status)).Inc()
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, blockIndexResponse{BlockIndex: blockIndex})
}

// statusFor maps the engine's error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var ledgerErr *core.LedgerError
	switch {
	case errors.Is(err, guard.ErrAlreadyProcessing):
		return http.StatusConflict
	case errors.Is(err, guard.ErrTooManyConcurrentRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotOwner),
		errors.Is(err, core.ErrUpdatesNotAllowed),
		errors.Is(err, core.ErrDepositsNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, core.ErrAmountTooSmall),
		errors.Is(err, core.ErrNotEnoughFundsToCover),
		errors.Is(err, core.ErrNoPriceData),
		errors.Is(err, core.ErrInsufficientLiquidity),
		errors.Is(err, core.ErrNothingToClaim),
		errors.Is(err, core.ErrTooEarlyToClose),
		errors.Is(err, core.ErrLiquidatable):
		return http.StatusBadRequest
	case errors.As(err, &ledgerErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestID stamps each request with a UUID surfaced in the response and
// the request context logger.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		logger := s.log.With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		took := time.Since(start)
		zerolog.Ctx(r.Context()).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", took).
			Msg("handled request")
		if s.met != nil {
			s.met.RequestDuration.WithLabelValues(r.URL.Path, r.Method).Observe(took.Seconds())
		}
	})
}
