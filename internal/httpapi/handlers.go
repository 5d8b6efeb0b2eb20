package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/domain"
)

func (a *API) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionOpenRequest
	if !a.decode(w, r, &req) {
		return
	}
	session, err := a.service.Registers.Open(r.Context(), chi.URLParam(r, "registerID"), *req.OpeningBalance, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleSessionList(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	sessions, err := a.service.Registers.List(r.Context(), chi.URLParam(r, "registerID"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleSessionOpenLookup(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.Registers.GetOpen(r.Context(), chi.URLParam(r, "registerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.Registers.GetByID(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionCloseRequest
	if !a.decode(w, r, &req) {
		return
	}
	session, err := a.service.Registers.Close(r.Context(), chi.URLParam(r, "sessionID"), *req.ClosingBalance, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleDiscrepancyResolve(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscrepancyResolveRequest
	if !a.decode(w, r, &req) {
		return
	}
	session, err := a.service.Discrepancies.Resolve(r.Context(), chi.URLParam(r, "sessionID"), req.Resolution, req.Notes, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleTransactionCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	tx, err := a.service.Ledger.CreateTransaction(r.Context(), req, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (a *API) handleTransactionList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txs, err := a.service.Ledger.ListTransactions(r.Context(), domain.TransactionFilter{
		Status:            domain.TransactionStatus(q.Get("status")),
		Type:              domain.TransactionType(q.Get("type")),
		RegisterSessionID: q.Get("register_session_id"),
		BranchID:          q.Get("branch_id"),
		Limit:             parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) handleTransactionGet(w http.ResponseWriter, r *http.Request) {
	tx, err := a.service.Ledger.GetTransaction(r.Context(), chi.URLParam(r, "txID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) handleTransactionUpdate(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	tx, err := a.service.Ledger.UpdateTransaction(r.Context(), chi.URLParam(r, "txID"), req, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) handleJournalEntriesAppend(w http.ResponseWriter, r *http.Request) {
	var req domain.JournalEntriesAppendRequest
	if !a.decode(w, r, &req) {
		return
	}
	tx, err := a.service.Ledger.AppendJournalEntries(r.Context(), chi.URLParam(r, "txID"), req.Entries, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionStatusRequest
	if !a.decode(w, r, &req) {
		return
	}
	tx, err := a.service.Ledger.ChangeStatus(r.Context(), chi.URLParam(r, "txID"), req.Status, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) handleTransactionDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Ledger.DeleteTransaction(r.Context(), chi.URLParam(r, "txID"), actorFrom(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := a.service.Audit.List(r.Context(), domain.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Limit:      parsePositiveLimit(q.Get("limit"), 200, 1000),
	}, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}
