package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kenyonj/auto-investor/database"
	"github.com/kenyonj/auto-investor/models"
)

// handleHealth returns the health status of the API
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStatus reports engine mode and control toggles for the dashboard
// header.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"hold_all": false,
		"pause_ai": false,
		"dry_run":  true,
	}
	if s.engine != nil {
		status["hold_all"] = s.engine.HoldAll()
		status["pause_ai"] = s.engine.PauseAI()
		status["dry_run"] = s.engine.DryRun()
		if next := s.engine.NextCycleAt(); !next.IsZero() {
			status["next_cycle_at"] = next.Format(time.RFC3339)
		}
	}

	writeJSON(w, status)
}

// handleGetPortfolio returns the live account state from the broker.
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.broker.GetPortfolioSnapshot(r.Context())
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "Failed to fetch portfolio", err)
		return
	}
	writeJSON(w, snapshot)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.broker.GetPositions(r.Context())
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "Failed to fetch positions", err)
		return
	}
	writeJSON(w, positions)
}

func (s *Server) handleGetDecisions(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", 50, 1, 500)
	decisions, err := s.repo.RecentDecisions(limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load decisions", err)
		return
	}
	writeJSON(w, decisions)
}

func (s *Server) handleGetExecutions(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", 50, 1, 500)
	executions, err := s.repo.RecentExecutions(limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load executions", err)
		return
	}
	writeJSON(w, executions)
}

func (s *Server) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", 100, 1, 1000)
	snapshots, err := s.repo.RecentSnapshots(limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load snapshots", err)
		return
	}
	writeJSON(w, snapshots)
}

// handleGetChart returns daily bars for one symbol. The wildcard route keeps
// crypto pairs like BTC/USD addressable.
func (s *Server) handleGetChart(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		respondWithError(w, http.StatusBadRequest, "Symbol required", nil)
		return
	}
	days := getIntParam(r, "days", 30, 1, 365)

	bars, err := s.broker.GetBars(r.Context(), []string{symbol}, days, models.IsCrypto(symbol))
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "Failed to fetch bars", err)
		return
	}
	writeJSON(w, map[string]any{"symbol": symbol, "bars": bars[symbol]})
}

// Runtime control handlers

func (s *Server) handleToggleHoldAll(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Engine not running", nil)
		return
	}
	writeJSON(w, map[string]bool{"hold_all": s.engine.ToggleHoldAll()})
}

func (s *Server) handleTogglePauseAI(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Engine not running", nil)
		return
	}
	writeJSON(w, map[string]bool{"pause_ai": s.engine.TogglePauseAI()})
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Engine not running", nil)
		return
	}
	if !s.engine.RunNow() {
		respondWithError(w, http.StatusServiceUnavailable, "Scheduler not running, cannot trigger a cycle", nil)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "cycle requested"})
}

// Webhook management handlers

func (s *Server) handleGetWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := s.repo.ListWebhooks()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load webhooks", err)
		return
	}
	writeJSON(w, webhooks)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var webhook database.Webhook
	if err := json.NewDecoder(r.Body).Decode(&webhook); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// Reset ID to let DB assign it
	webhook.ID = 0

	if err := s.repo.CreateWebhook(&webhook); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to save webhook", err)
		return
	}

	if s.webhookMq != nil {
		s.webhookMq.RefreshCache()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(webhook)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", err)
		return
	}

	var webhook database.Webhook
	if err := json.NewDecoder(r.Body).Decode(&webhook); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	webhook.ID = id // Ensure ID matches path
	if err := s.repo.UpdateWebhook(&webhook); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to update webhook", err)
		return
	}

	if s.webhookMq != nil {
		s.webhookMq.RefreshCache()
	}

	writeJSON(w, webhook)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", err)
		return
	}

	if err := s.repo.DeleteWebhook(id); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to delete webhook", err)
		return
	}

	if s.webhookMq != nil {
		s.webhookMq.RefreshCache()
	}

	w.WriteHeader(http.StatusNoContent)
}
