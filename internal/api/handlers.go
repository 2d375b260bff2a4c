package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"stash/internal/ledger"
	"stash/internal/money"
)

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.ledger.GetBalance(r.Context(), accountID(r))
	observe("get_balance", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": wallet, "display": money.Format(wallet)})
}

func (s *Server) handleUpdateBalance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Delta  any    `json:"delta"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	delta, err := money.Parse(in.Delta, "delta")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if in.Reason == "" {
		in.Reason = "adjustment"
	}
	wallet, err := s.ledger.UpdateBalance(r.Context(), accountID(r), delta, in.Reason)
	observe("update_balance", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": wallet})
}

func (s *Server) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount any `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := money.Parse(in.Amount, "amount")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	wallet, err := s.ledger.SetBalance(r.Context(), accountID(r), amount)
	observe("set_balance", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": wallet})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.ledger.History(r.Context(), accountID(r), limit)
	observe("history", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleGetBank(w http.ResponseWriter, r *http.Request) {
	bank, err := s.ledger.GetBankData(r.Context(), accountID(r))
	observe("get_bank", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bank)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.positiveAmount(w, r)
	if !ok {
		return
	}
	acct, err := s.ledger.Deposit(r.Context(), accountID(r), amount)
	observe("deposit", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": acct.Wallet, "bank": acct.Ext.Bank})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.positiveAmount(w, r)
	if !ok {
		return
	}
	acct, err := s.ledger.Withdraw(r.Context(), accountID(r), amount)
	observe("withdraw", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": acct.Wallet, "bank": acct.Ext.Bank})
}

func (s *Server) handleExpandBank(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Quantity any `json:"quantity"`
		Level    any `json:"level"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quantity, err := money.ParsePositive(in.Quantity, "quantity")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	level := int64(0)
	if in.Level != nil {
		if level, err = money.Parse(in.Level, "level"); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	bank, err := s.ledger.ExpandBankCapacity(r.Context(), accountID(r), quantity, level)
	observe("expand_bank", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bank)
}

func (s *Server) handleLoanOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"options": s.ledger.GetLoanOptions()})
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := s.ledger.GetLoanState(r.Context(), accountID(r))
	observe("get_loan", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loan": loan})
}

func (s *Server) handleTakeLoan(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OptionID string `json:"option_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := s.ledger.TakeLoan(r.Context(), accountID(r), in.OptionID)
	observe("take_loan", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"wallet": acct.Wallet, "loan": acct.Ext.Loan})
}

func (s *Server) handlePayLoan(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount any `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var amount *int64
	if in.Amount != nil {
		n, err := money.ParsePositive(in.Amount, "amount")
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		amount = &n
	}
	acct, err := s.ledger.PayLoan(r.Context(), accountID(r), amount)
	observe("pay_loan", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": acct.Wallet, "bank": acct.Ext.Bank, "loan": acct.Ext.Loan})
}

func (s *Server) handleConsumeReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := s.ledger.ConsumeLoanReminderEvents(r.Context(), accountID(r))
	observe("consume_reminders", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if reminders == nil {
		reminders = []ledger.Reminder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": reminders})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FromUserID string `json:"from_user_id"`
		ToUserID   string `json:"to_user_id"`
		Amount     any    `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := money.ParsePositive(in.Amount, "amount")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	guildID := chi.URLParam(r, "guildID")
	from := ledger.AccountID{GuildID: guildID, UserID: in.FromUserID}
	to := ledger.AccountID{GuildID: guildID, UserID: in.ToUserID}
	err = s.transfer.Transfer(r.Context(), from, to, amount)
	observe("transfer", err)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReserveCooldown(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Seconds int64 `json:"seconds"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Seconds <= 0 {
		writeError(w, http.StatusBadRequest, "seconds must be positive")
		return
	}
	id := accountID(r)
	command := chi.URLParam(r, "command")
	reserved, remaining := s.coord.ReserveCooldown(r.Context(), id.UserID, id.GuildID, command,
		time.Now().Add(time.Duration(in.Seconds)*time.Second))
	if reserved {
		cooldownReservations.WithLabelValues("reserved").Inc()
	} else {
		cooldownReservations.WithLabelValues("blocked").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reserved":          reserved,
		"remaining_seconds": int64(remaining.Round(time.Second) / time.Second),
	})
}

func (s *Server) handleClearCooldown(w http.ResponseWriter, r *http.Request) {
	id := accountID(r)
	s.coord.ClearCooldown(r.Context(), id.UserID, id.GuildID, chi.URLParam(r, "command"))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TTLSeconds int64           `json:"ttl_seconds"`
		State      json.RawMessage `json:"state"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.TTLSeconds <= 0 {
		in.TTLSeconds = 300
	}
	err := s.coord.PutSession(r.Context(),
		chi.URLParam(r, "sessionType"), chi.URLParam(r, "messageID"),
		in.State, time.Duration(in.TTLSeconds)*time.Second)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	var state json.RawMessage
	found := s.coord.GetSession(r.Context(),
		chi.URLParam(r, "sessionType"), chi.URLParam(r, "messageID"), &state)
	if !found {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.coord.DeleteSession(r.Context(), chi.URLParam(r, "sessionType"), chi.URLParam(r, "messageID"))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) positiveAmount(w http.ResponseWriter, r *http.Request) (int64, bool) {
	var in struct {
		Amount any `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	amount, err := money.ParsePositive(in.Amount, "amount")
	if err != nil {
		s.writeDomainError(w, err)
		return 0, false
	}
	return amount, true
}
