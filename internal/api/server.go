// Package api is the HTTP surface: device endpoints, operator diagnostics and
// manual triggers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wakeline/internal/content"
	"wakeline/internal/logs"
	"wakeline/internal/metrics"
	"wakeline/internal/middleware"
	"wakeline/internal/push"
	"wakeline/internal/receipt"
	"wakeline/internal/retry"
	"wakeline/internal/scheduler"
	"wakeline/internal/workers"
	"wakeline/pkg/models"
)

type ReceiptProcessor interface {
	Process(ctx context.Context, r models.DeliveryReceipt) (receipt.Result, error)
}

type CallRegistry interface {
	GetStatus(ctx context.Context, callUUID string) (models.PendingCall, bool, error)
	ListPending(ctx context.Context) ([]models.PendingCall, error)
}

type Scheduler interface {
	ProcessScheduledCalls(ctx context.Context) (scheduler.Summary, error)
	GetUsersNeedingCallsNow(ctx context.Context) (scheduler.Report, error)
	GetSchedulePreview(ctx context.Context) ([]scheduler.PreviewEntry, error)
	TriggerUser(ctx context.Context, userID string, callType models.CallType) (models.PendingCall, error)
}

type RetryProcessor interface {
	ProcessAllRetries(ctx context.Context) (retry.Summary, error)
}

type Sessions interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	ActiveCount() int
}

// Pusher sends operator test signals without tracking them.
type Pusher interface {
	Dispatch(ctx context.Context, token models.PushToken, p models.WakePayload) push.Result
	DispatchUser(ctx context.Context, u models.User, p models.WakePayload) push.Result
}

type UserDirectory interface {
	GetUser(ctx context.Context, id string) (models.User, error)
}

type PayloadBuilder interface {
	Payload(call models.PendingCall, metadata map[string]string) models.WakePayload
}

// Check is one dependency probe for /api/health.
type Check func(ctx context.Context) error

type Deps struct {
	Receipts     ReceiptProcessor
	Registry     CallRegistry
	Scheduler    Scheduler
	Retries      RetryProcessor
	Content      content.Generator
	Sessions     Sessions
	Certificates func() push.CertificateStatus
	Channels     func() map[push.Channel]bool
	Workers      func() workers.WorkerStats
	Checks       map[string]Check
	Ring         *logs.Ring
	Events       *logs.EventRing
	Push         Pusher
	Users        UserDirectory
	Payloads     PayloadBuilder
	Logger       *slog.Logger
}

type Server struct {
	deps      Deps
	startTime time.Time
	log       *slog.Logger
}

func NewServer(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{deps: deps, startTime: time.Now(), log: log.With(slog.String("component", "api"))}
}

// Router builds the full route table with middleware applied.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Recover(s.log), metrics.Middleware, middleware.RequestLog(s.log))

	if s.deps.Sessions != nil {
		router.HandleFunc("/wss", s.deps.Sessions.HandleWebSocket)
	}
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if s.deps.Events != nil {
		router.HandleFunc("/debug/voip", s.postDebugEventHandler).Methods(http.MethodPost)
		router.HandleFunc("/debug/voip", s.debugEventsHandler).Methods(http.MethodGet)
		router.HandleFunc("/debug/voip", s.clearDebugEventsHandler).Methods(http.MethodDelete)
		router.HandleFunc("/debug/voip/summary", s.debugSummaryHandler).Methods(http.MethodGet)
	}

	voip := router.PathPrefix("/voip").Subrouter()
	voip.HandleFunc("/acknowledge", s.acknowledgeHandler).Methods(http.MethodPost)
	voip.HandleFunc("/session/prompts", s.promptsHandler).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.logsHandler).Methods(http.MethodGet)
	api.HandleFunc("/pending", s.pendingHandler).Methods(http.MethodGet)
	api.HandleFunc("/pending/{callUUID}", s.pendingCallHandler).Methods(http.MethodGet)
	api.HandleFunc("/certificates", s.certificatesHandler).Methods(http.MethodGet)
	api.HandleFunc("/schedule/due", s.dueHandler).Methods(http.MethodGet)
	api.HandleFunc("/schedule/preview", s.previewHandler).Methods(http.MethodGet)
	api.HandleFunc("/trigger/scheduler", s.triggerSchedulerHandler).Methods(http.MethodPost)
	api.HandleFunc("/trigger/retries", s.triggerRetriesHandler).Methods(http.MethodPost)
	api.HandleFunc("/trigger/user/{userId}/{callType}", s.triggerUserHandler).Methods(http.MethodPost)
	api.HandleFunc("/test/push", s.testPushHandler).Methods(http.MethodPost)

	return middleware.CORS(router)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
