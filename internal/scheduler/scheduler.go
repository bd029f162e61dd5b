package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"wakeline/internal/dispatch"
	"wakeline/internal/metrics"
	"wakeline/internal/registry"
	"wakeline/pkg/models"
)

var ErrAlreadyCalled = errors.New("call already placed for this local date")

// Directory is the user directory collaborator.
type Directory interface {
	ActiveUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
}

type Options struct {
	Interval    time.Duration
	GraceWindow time.Duration
	BatchSize   int
}

type Scheduler struct {
	opts       Options
	dir        Directory
	ledger     registry.Ledger
	dispatcher *dispatch.Dispatcher
	now        func() time.Time
	log        *slog.Logger
}

func New(opts Options, dir Directory, ledger registry.Ledger, dispatcher *dispatch.Dispatcher, log *slog.Logger) *Scheduler {
	if opts.BatchSize < 1 {
		opts.BatchSize = 10
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = 15 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		opts:       opts,
		dir:        dir,
		ledger:     ledger,
		dispatcher: dispatcher,
		now:        time.Now,
		log:        log.With(slog.String("component", "scheduler")),
	}
}

// WithClock replaces the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Report splits the active users of one pass by category. Configuration
// problems are kept apart from users who are simply not due yet.
type Report struct {
	DailyReckoning []string         `json:"dailyReckoning"`
	Jobs           []models.CallJob `json:"jobs"`
	NotDue         []string         `json:"notDue"`
	AlreadyCalled  []string         `json:"alreadyCalled"`
	NotOnboarded   []string         `json:"notOnboarded"`
	MissingToken   []string         `json:"missingToken"`
	InvalidConfig  []string         `json:"invalidConfig"`

	users map[string]models.User
}

// GetUsersNeedingCallsNow evaluates every active user without side effects.
func (s *Scheduler) GetUsersNeedingCallsNow(ctx context.Context) (Report, error) {
	users, err := s.dir.ActiveUsers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load active users: %w", err)
	}

	now := s.now()
	report := Report{users: make(map[string]models.User, len(users))}
	for _, u := range users {
		if !u.SubscriptionActive {
			continue
		}
		ev, err := s.evaluate(ctx, u, now)
		if err != nil {
			return Report{}, err
		}
		metrics.SchedulerUsersTotal.WithLabelValues(string(ev.Status)).Inc()

		switch ev.Status {
		case StatusDue:
			report.DailyReckoning = append(report.DailyReckoning, u.ID)
			report.Jobs = append(report.Jobs, *ev.Job)
			report.users[u.ID] = u
		case StatusNotDue:
			report.NotDue = append(report.NotDue, u.ID)
		case StatusAlreadyCalled:
			report.AlreadyCalled = append(report.AlreadyCalled, u.ID)
		case StatusNotOnboarded:
			report.NotOnboarded = append(report.NotOnboarded, u.ID)
		case StatusMissingToken:
			report.MissingToken = append(report.MissingToken, u.ID)
		default:
			report.InvalidConfig = append(report.InvalidConfig, u.ID)
		}
	}
	return report, nil
}

// Summary is the outcome of one ProcessScheduledCalls pass.
type Summary struct {
	Processed  int           `json:"processed"`
	Dispatched int           `json:"dispatched"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Excluded   int           `json:"excluded"`
	Duration   time.Duration `json:"duration"`
}

// ProcessScheduledCalls dispatches one call per due user. Re-running it on
// the same local date is a no-op for users already called, because every
// dispatch first claims the user's dedup key.
func (s *Scheduler) ProcessScheduledCalls(ctx context.Context) (Summary, error) {
	start := time.Now()
	metrics.SchedulerRunsTotal.Inc()

	report, err := s.GetUsersNeedingCallsNow(ctx)
	if err != nil {
		return Summary{}, err
	}

	var mu sync.Mutex
	summary := Summary{
		Processed: len(report.Jobs) + len(report.NotDue) + len(report.AlreadyCalled) +
			len(report.NotOnboarded) + len(report.MissingToken) + len(report.InvalidConfig),
		Skipped:  len(report.NotDue) + len(report.AlreadyCalled),
		Excluded: len(report.NotOnboarded) + len(report.MissingToken) + len(report.InvalidConfig),
	}

	g := new(errgroup.Group)
	g.SetLimit(s.opts.BatchSize)
	for _, job := range report.Jobs {
		job := job
		user := report.users[job.UserID]
		g.Go(func() error {
			err := s.placeJob(ctx, user, job)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Dispatched++
			case errors.Is(err, ErrAlreadyCalled):
				summary.Skipped++
			default:
				summary.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)
	s.log.Info("scheduler pass complete",
		slog.Int("processed", summary.Processed),
		slog.Int("dispatched", summary.Dispatched),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Int("excluded", summary.Excluded),
		slog.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// placeJob claims the dedup key and places the call. A failed send releases
// the claim so the next pass inside the grace window can try again.
func (s *Scheduler) placeJob(ctx context.Context, user models.User, job models.CallJob) error {
	key := registry.DedupKey{UserID: job.UserID, CallType: job.CallType, LocalDate: job.LocalDate}
	callUUID := uuid.NewString()

	claimed, err := s.ledger.Claim(ctx, key, callUUID)
	if err != nil {
		s.log.Error("dedup claim failed", slog.String("userId", job.UserID), slog.Any("error", err))
		return err
	}
	if !claimed {
		return ErrAlreadyCalled
	}

	call := models.PendingCall{
		CallUUID:  callUUID,
		CallType:  job.CallType,
		Urgency:   models.UrgencyHigh,
		LocalDate: job.LocalDate,
	}
	metadata := map[string]string{
		"source":    "scheduler",
		"localDate": job.LocalDate,
		"dueAt":     job.DueAt.Format(time.RFC3339),
	}

	if _, _, err := s.dispatcher.Place(ctx, user, call, metadata); err != nil {
		if rerr := s.ledger.Release(ctx, key); rerr != nil {
			s.log.Error("failed to release dedup key", slog.String("key", key.String()), slog.Any("error", rerr))
		}
		s.log.Warn("scheduled call not delivered, will reconsider next pass",
			slog.String("userId", job.UserID),
			slog.String("callUUID", callUUID),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

// TriggerUser places a call for one user now, outside their call window.
// The dedup key for the user's current local date still applies.
func (s *Scheduler) TriggerUser(ctx context.Context, userID string, callType models.CallType) (models.PendingCall, error) {
	if !callType.Valid() {
		return models.PendingCall{}, fmt.Errorf("unknown call type %q", callType)
	}
	user, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return models.PendingCall{}, err
	}
	if !user.HasPushToken() {
		return models.PendingCall{}, fmt.Errorf("user %s has no push token", userID)
	}
	loc, err := loadLocation(user.Timezone)
	if err != nil {
		return models.PendingCall{}, err
	}

	now := s.now()
	localDate := now.In(loc).Format(dateLayout)
	key := registry.DedupKey{UserID: userID, CallType: callType, LocalDate: localDate}
	callUUID := uuid.NewString()

	claimed, err := s.ledger.Claim(ctx, key, callUUID)
	if err != nil {
		return models.PendingCall{}, err
	}
	if !claimed {
		return models.PendingCall{}, ErrAlreadyCalled
	}

	call, _, err := s.dispatcher.Place(ctx, user, models.PendingCall{
		CallUUID:  callUUID,
		CallType:  callType,
		Urgency:   models.UrgencyHigh,
		LocalDate: localDate,
	}, map[string]string{"source": "manual", "localDate": localDate})
	if err != nil {
		_ = s.ledger.Release(ctx, key)
		return models.PendingCall{}, err
	}
	return call, nil
}

// Worker adapter.

func (s *Scheduler) Name() string { return "scheduler" }

func (s *Scheduler) Interval() time.Duration {
	if s.opts.Interval <= 0 {
		return 5 * time.Minute
	}
	return s.opts.Interval
}

// Run processes one pass and then sweeps expired keys from ledgers that do
// not expire them natively.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.ProcessScheduledCalls(ctx); err != nil {
		return err
	}
	if p, ok := s.ledger.(registry.Pruner); ok {
		n, err := p.Prune(ctx, s.now())
		if err != nil {
			s.log.Warn("ledger prune failed", slog.Any("error", err))
		} else if n > 0 {
			s.log.Debug("ledger keys pruned", slog.Int("count", n))
		}
	}
	return nil
}
