package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"wakeline/internal/database"
	"wakeline/internal/logs"
	"wakeline/internal/push"
	"wakeline/pkg/models"
)

const (
	defaultDebugLimit = 50
	summaryWindow     = 20
)

// --- device debug events ---

func (s *Server) postDebugEventHandler(w http.ResponseWriter, r *http.Request) {
	var e logs.DebugEvent
	if err := decodeBody(r, &e); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if e.Event == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":       false,
			"error":         "missing fields",
			"missingFields": []string{"event"},
		})
		return
	}

	n := s.deps.Events.Add(e)

	attrs := []any{slog.String("event", e.Event), slog.String("userId", e.UserID), slog.String("deviceId", e.DeviceID)}
	if e.AppState != nil {
		attrs = append(attrs, slog.String("appState", logs.AppStateName(*e.AppState)))
	}
	if e.Error != "" {
		s.log.Warn("device debug error", append(attrs, slog.String("error", e.Error))...)
	} else {
		s.log.Info("device debug event", attrs...)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Debug event logged",
		"events_count": n,
	})
}

func (s *Server) debugEventsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultDebugLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events := s.deps.Events.Recent(limit)
	all := s.deps.Events.Recent(0)
	resp := map[string]any{
		"success":      true,
		"events":       events,
		"total_events": len(all),
		"oldest_event": nil,
		"newest_event": nil,
	}
	if len(all) > 0 {
		resp["newest_event"] = all[0].ReceivedAt
		resp["oldest_event"] = all[len(all)-1].ReceivedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) clearDebugEventsHandler(w http.ResponseWriter, _ *http.Request) {
	n := s.deps.Events.Clear()
	s.log.Info("device debug events cleared", slog.Int("count", n))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cleared": n})
}

func (s *Server) debugSummaryHandler(w http.ResponseWriter, _ *http.Request) {
	summary := s.deps.Events.Summary(summaryWindow)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"summary":       summary,
		"recent_errors": summary.Errors,
	})
}

// --- operator test push ---

type testPushRequest struct {
	UserID        string          `json:"userId"`
	Token         string          `json:"token"`
	Platform      models.Platform `json:"platform"`
	IsWakeChannel bool            `json:"isWakeChannel"`
}

// testPushHandler sends one wake signal tagged source=test. The call is never
// tracked and never claims the daily ledger, so no receipt or retry follows.
func (s *Server) testPushHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Push == nil || s.deps.Payloads == nil {
		writeError(w, http.StatusServiceUnavailable, "push transport not configured")
		return
	}

	var req testPushRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" && req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":       false,
			"error":         "userId or token required",
			"missingFields": []string{"userId", "token"},
		})
		return
	}
	if req.Token != "" {
		if req.Platform == "" {
			req.Platform = models.PlatformIOS
		}
		if req.Platform != models.PlatformIOS && req.Platform != models.PlatformAndroid {
			writeError(w, http.StatusBadRequest, "platform must be ios or android")
			return
		}
	}

	call := models.PendingCall{
		CallUUID:      uuid.NewString(),
		UserID:        req.UserID,
		CallType:      models.CallTypeDailyReckoning,
		Urgency:       models.UrgencyHigh,
		AttemptNumber: 1,
	}
	payload := s.deps.Payloads.Payload(call, map[string]string{"source": "test"})

	var res push.Result
	if req.Token != "" {
		token := models.PushToken{DeviceToken: req.Token, Platform: req.Platform, IsWakeChannel: req.IsWakeChannel}
		res = s.deps.Push.Dispatch(r.Context(), token, payload)
	} else {
		if s.deps.Users == nil {
			writeError(w, http.StatusServiceUnavailable, "user directory not configured")
			return
		}
		user, err := s.deps.Users.GetUser(r.Context(), req.UserID)
		switch {
		case errors.Is(err, database.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		res = s.deps.Push.DispatchUser(r.Context(), user, payload)
	}

	s.log.Info("test push sent",
		slog.String("callUUID", call.CallUUID),
		slog.String("userId", req.UserID),
		slog.Bool("delivered", res.Delivered),
		slog.String("channel", string(res.Channel)),
	)

	status := http.StatusOK
	if !res.Delivered {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{
		"success":  res.Delivered,
		"callUUID": call.CallUUID,
		"result":   res,
	})
}
