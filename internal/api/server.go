package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stash/internal/coord"
	"stash/internal/ledger"
	"stash/internal/money"
)

type Server struct {
	log      *slog.Logger
	ledger   *ledger.Service
	transfer *ledger.TransferPolicy
	coord    *coord.Client
	token    string
	mux      *chi.Mux
}

func New(logger *slog.Logger, svc *ledger.Service, transfer *ledger.TransferPolicy, coordClient *coord.Client, adminToken string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:      logger,
		ledger:   svc,
		transfer: transfer,
		coord:    coordClient,
		token:    adminToken,
	}
	s.mux = chi.NewRouter()
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.token != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/loans/options", s.handleLoanOptions)

		r.Route("/guilds/{guildID}", func(r chi.Router) {
			r.Post("/transfers", s.handleTransfer)

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Get("/balance", s.handleGetBalance)
				r.Post("/balance", s.handleUpdateBalance)
				r.Put("/balance", s.handleSetBalance)
				r.Get("/history", s.handleHistory)

				r.Get("/bank", s.handleGetBank)
				r.Post("/bank/deposits", s.handleDeposit)
				r.Post("/bank/withdrawals", s.handleWithdraw)
				r.Post("/bank/expansions", s.handleExpandBank)

				r.Get("/loan", s.handleGetLoan)
				r.Post("/loan", s.handleTakeLoan)
				r.Post("/loan/payments", s.handlePayLoan)
				r.Post("/loan/reminders/consume", s.handleConsumeReminders)

				r.Post("/cooldowns/{command}", s.handleReserveCooldown)
				r.Delete("/cooldowns/{command}", s.handleClearCooldown)
			})
		})

		r.Route("/sessions/{sessionType}/{messageID}", func(r chi.Router) {
			r.Put("/", s.handlePutSession)
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accountID(r *http.Request) ledger.AccountID {
	return ledger.AccountID{
		GuildID: chi.URLParam(r, "guildID"),
		UserID:  chi.URLParam(r, "userID"),
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func decodeJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Callers
// of the API branch on the code field, never the message.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrAmountOutOfRange),
		errors.Is(err, money.ErrAmountNotPositive):
		status, code = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrLoanOptionInvalid):
		status, code = http.StatusBadRequest, "loan_option_invalid"
	case errors.Is(err, ledger.ErrMinimumBalanceViolation):
		status, code = http.StatusConflict, "minimum_balance_violation"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		status, code = http.StatusConflict, "insufficient_balance"
	case errors.Is(err, ledger.ErrTransferBlocked):
		status, code = http.StatusConflict, "transfer_blocked"
	case errors.Is(err, ledger.ErrBankCapacityExceeded):
		status, code = http.StatusConflict, "bank_capacity_exceeded"
	case errors.Is(err, ledger.ErrLoanAlreadyActive):
		status, code = http.StatusConflict, "loan_already_active"
	case errors.Is(err, ledger.ErrNoActiveLoan):
		status, code = http.StatusConflict, "no_active_loan"
	case errors.Is(err, ledger.ErrNoFundsAvailable):
		status, code = http.StatusConflict, "no_funds_available"
	case errors.Is(err, ledger.ErrTransferLimitExceeded):
		status, code = http.StatusConflict, "transfer_limit_exceeded"
	case errors.Is(err, ledger.ErrTransientStore):
		status, code = http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, coord.ErrSessionUnavailable),
		errors.Is(err, coord.ErrLockUnavailable):
		status, code = http.StatusServiceUnavailable, "coordination_unavailable"
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "code": code})
}
