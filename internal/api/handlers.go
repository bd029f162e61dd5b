package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"wakeline/internal/database"
	"wakeline/internal/receipt"
	"wakeline/internal/scheduler"
	"wakeline/pkg/models"
)

// --- device endpoints ---

func (s *Server) acknowledgeHandler(w http.ResponseWriter, r *http.Request) {
	var rc models.DeliveryReceipt
	if err := decodeBody(r, &rc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Receipts.Process(r.Context(), rc)
	var verr *receipt.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":       false,
			"error":         "missing fields",
			"missingFields": verr.MissingFields,
		})
		return
	case err != nil:
		s.log.Error("receipt processing failed", slog.String("callUUID", rc.CallUUID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "receipt processing failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type promptsRequest struct {
	CallUUID string `json:"callUUID"`
	UserID   string `json:"userId,omitempty"`
}

func (s *Server) promptsHandler(w http.ResponseWriter, r *http.Request) {
	var req promptsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CallUUID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":       false,
			"error":         "missing fields",
			"missingFields": []string{"callUUID"},
		})
		return
	}

	call, found, err := s.deps.Registry.GetStatus(r.Context(), req.CallUUID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !found || (req.UserID != "" && req.UserID != call.UserID) {
		writeError(w, http.StatusNotFound, "unknown call")
		return
	}

	c, err := s.deps.Content.Generate(r.Context(), call.UserID, call.CallType, call.CallUUID)
	if err != nil {
		s.log.Warn("content generation failed", slog.String("callUUID", call.CallUUID), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "content unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "content": c})
}

// --- operator diagnostics ---

type pendingView struct {
	CallUUID      string             `json:"callUUID"`
	UserID        string             `json:"userId"`
	CallType      models.CallType    `json:"callType"`
	Urgency       models.Urgency     `json:"urgency"`
	SentAt        time.Time          `json:"sentAt"`
	AttemptNumber int                `json:"attemptNumber"`
	RetryReason   models.RetryReason `json:"retryReason,omitempty"`
	Acknowledged  bool               `json:"acknowledged"`
	Terminal      bool               `json:"terminal,omitempty"`
}

func viewOf(c models.PendingCall) pendingView {
	return pendingView{
		CallUUID:      c.CallUUID,
		UserID:        c.UserID,
		CallType:      c.CallType,
		Urgency:       c.Urgency,
		SentAt:        c.SentAt,
		AttemptNumber: c.AttemptNumber,
		RetryReason:   c.RetryReason,
		Acknowledged:  c.Acknowledged,
		Terminal:      c.Terminal,
	}
}

func (s *Server) pendingHandler(w http.ResponseWriter, r *http.Request) {
	calls, err := s.deps.Registry.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]pendingView, len(calls))
	for i, c := range calls {
		out[i] = viewOf(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "calls": out})
}

func (s *Server) pendingCallHandler(w http.ResponseWriter, r *http.Request) {
	call, found, err := s.deps.Registry.GetStatus(r.Context(), mux.Vars(r)["callUUID"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown call")
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) certificatesHandler(w http.ResponseWriter, _ *http.Request) {
	status := s.deps.Certificates()
	resp := map[string]any{"wake": status}
	if s.deps.Channels != nil {
		resp["channels"] = s.deps.Channels()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) dueHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Scheduler.GetUsersNeedingCallsNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	preview, err := s.deps.Scheduler.GetSchedulePreview(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(preview), "users": preview})
}

// --- manual triggers ---

func (s *Server) triggerSchedulerHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Scheduler.ProcessScheduledCalls(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

func (s *Server) triggerRetriesHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Retries.ProcessAllRetries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

func (s *Server) triggerUserHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	callType := models.CallType(vars["callType"])
	if !callType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown call type")
		return
	}

	call, err := s.deps.Scheduler.TriggerUser(r.Context(), vars["userId"], callType)
	switch {
	case errors.Is(err, database.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case errors.Is(err, scheduler.ErrAlreadyCalled):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.log.Warn("manual trigger failed", slog.String("userId", vars["userId"]), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "call": viewOf(call)})
}

// --- health, stats, logs ---

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"uptime":    formatDuration(time.Since(s.startTime)),
		"timestamp": time.Now().Unix(),
	}
	if s.deps.Sessions != nil {
		resp["active_sessions"] = s.deps.Sessions.ActiveCount()
	}
	if calls, err := s.deps.Registry.ListPending(r.Context()); err == nil {
		resp["pending_calls"] = len(calls)
	}
	if s.deps.Channels != nil {
		resp["channels"] = s.deps.Channels()
	}
	if s.deps.Workers != nil {
		resp["workers"] = s.deps.Workers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logsHandler(w http.ResponseWriter, _ *http.Request) {
	lines := []string{}
	if s.deps.Ring != nil {
		lines = s.deps.Ring.Lines()
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": lines})
}
