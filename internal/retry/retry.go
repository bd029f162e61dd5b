// Package retry re-dispatches calls whose acknowledgment deadline passed and
// stops them once the attempt budget is spent.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wakeline/internal/dispatch"
	"wakeline/internal/metrics"
	"wakeline/internal/outcome"
	"wakeline/internal/registry"
	"wakeline/pkg/models"
)

// Directory resolves the user a pending call belongs to.
type Directory interface {
	GetUser(ctx context.Context, id string) (models.User, error)
}

type Options struct {
	Interval time.Duration
	// MaxAttempts counts the first dispatch.
	MaxAttempts int
	// Timeout is how long attempt n waits for an acknowledgment.
	Timeout func(attempt int) time.Duration
	// Retention is how long resolved calls are kept by stores without
	// native expiry.
	Retention time.Duration
}

type Processor struct {
	opts       Options
	reg        *registry.Registry
	dir        Directory
	dispatcher *dispatch.Dispatcher
	sink       outcome.Sink
	log        *slog.Logger
}

func New(opts Options, reg *registry.Registry, dir Directory, dispatcher *dispatch.Dispatcher, sink outcome.Sink, log *slog.Logger) *Processor {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 4
	}
	if opts.Timeout == nil {
		opts.Timeout = func(int) time.Duration { return 10 * time.Minute }
	}
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = outcome.NewLogSink(log)
	}
	return &Processor{
		opts:       opts,
		reg:        reg,
		dir:        dir,
		dispatcher: dispatcher,
		sink:       sink,
		log:        log.With(slog.String("component", "retry")),
	}
}

type Summary struct {
	Pending      int           `json:"pending"`
	Redispatched int           `json:"redispatched"`
	Exhausted    int           `json:"exhausted"`
	Failed       int           `json:"failed"`
	NotDue       int           `json:"notDue"`
	Pruned       int           `json:"pruned"`
	Duration     time.Duration `json:"duration"`
}

type action int

const (
	actionNone action = iota
	actionRedial
	actionExhausted
)

func (p *Processor) overdue(c models.PendingCall, now time.Time) bool {
	return !now.Before(c.SentAt.Add(p.opts.Timeout(c.AttemptNumber)))
}

// ProcessAllRetries advances every overdue call by one attempt, or marks it
// terminal when the budget is spent. The advance is a per-call atomic update
// that re-checks the deadline, so overlapping passes move an entry once.
func (p *Processor) ProcessAllRetries(ctx context.Context) (Summary, error) {
	start := time.Now()
	pending, err := p.reg.ListPending(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list pending calls: %w", err)
	}
	metrics.PendingCalls.Set(float64(len(pending)))

	now := p.reg.Now()
	summary := Summary{Pending: len(pending)}
	for _, call := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !p.overdue(call, now) {
			summary.NotDue++
			continue
		}

		act, next, err := p.advance(ctx, call.CallUUID, now)
		if err != nil {
			p.log.Error("retry advance failed", slog.String("callUUID", call.CallUUID), slog.Any("error", err))
			summary.Failed++
			continue
		}

		switch act {
		case actionExhausted:
			summary.Exhausted++
			metrics.RetryActionsTotal.WithLabelValues("exhausted").Inc()
			p.finish(ctx, next, now)
		case actionRedial:
			if p.redial(ctx, next) {
				summary.Redispatched++
				metrics.RetryActionsTotal.WithLabelValues("redispatched").Inc()
			} else {
				summary.Failed++
				metrics.RetryActionsTotal.WithLabelValues("failed").Inc()
			}
		}
	}

	if p.opts.Retention > 0 {
		n, err := p.reg.Prune(ctx, p.opts.Retention)
		if err != nil {
			p.log.Warn("registry prune failed", slog.Any("error", err))
		}
		summary.Pruned = n
	}

	summary.Duration = time.Since(start)
	p.log.Info("retry pass complete",
		slog.Int("pending", summary.Pending),
		slog.Int("redispatched", summary.Redispatched),
		slog.Int("exhausted", summary.Exhausted),
		slog.Int("failed", summary.Failed),
		slog.Int("notDue", summary.NotDue),
	)
	return summary, nil
}

// advance applies the timeout transition. It reports actionNone when the
// entry was acknowledged or advanced by someone else in the meantime.
func (p *Processor) advance(ctx context.Context, callUUID string, now time.Time) (action, models.PendingCall, error) {
	var act action
	next, err := p.reg.Update(ctx, callUUID, func(c *models.PendingCall) error {
		act = actionNone
		if !c.Active() || !p.overdue(*c, now) {
			return registry.ErrSkip
		}

		reason := models.RetryMissed
		if c.DeviceSignal != "" {
			reason = c.DeviceSignal
		}

		if c.AttemptNumber >= p.opts.MaxAttempts {
			c.Terminal = true
			c.Outcome = models.OutcomeMissed
			c.RetryReason = reason
			act = actionExhausted
			return nil
		}

		c.AttemptNumber++
		c.Urgency = c.Urgency.Escalate()
		c.RetryReason = reason
		c.DeviceSignal = ""
		c.SentAt = now
		act = actionRedial
		return nil
	})
	if errors.Is(err, registry.ErrSkip) || errors.Is(err, registry.ErrNotFound) {
		return actionNone, next, nil
	}
	if err != nil {
		return actionNone, next, err
	}
	return act, next, nil
}

// redial sends the advanced attempt. A failed send is stored as the device
// signal so the following attempt reports "failed".
func (p *Processor) redial(ctx context.Context, call models.PendingCall) bool {
	log := p.log.With(
		slog.String("callUUID", call.CallUUID),
		slog.String("userId", call.UserID),
		slog.Int("attempt", call.AttemptNumber),
		slog.String("urgency", string(call.Urgency)),
	)

	user, err := p.dir.GetUser(ctx, call.UserID)
	if err != nil {
		log.Error("cannot load user for retry", slog.Any("error", err))
		p.markFailed(ctx, call.CallUUID)
		return false
	}

	res := p.dispatcher.Redial(ctx, user, call)
	if !res.Delivered {
		log.Warn("retry dispatch failed",
			slog.String("channel", string(res.Channel)),
			slog.String("failure", string(res.Failure)),
			slog.String("reason", res.Reason),
		)
		p.markFailed(ctx, call.CallUUID)
		return false
	}

	log.Info("call re-dispatched", slog.String("retryReason", string(call.RetryReason)))
	return true
}

func (p *Processor) markFailed(ctx context.Context, callUUID string) {
	if _, err := p.reg.RecordSignal(ctx, callUUID, models.RetryFailed); err != nil {
		p.log.Warn("could not record failed signal", slog.String("callUUID", callUUID), slog.Any("error", err))
	}
}

func (p *Processor) finish(ctx context.Context, call models.PendingCall, now time.Time) {
	o := models.CallOutcome{
		CallUUID:    call.CallUUID,
		UserID:      call.UserID,
		CallType:    call.CallType,
		Outcome:     call.Outcome,
		Attempts:    call.AttemptNumber,
		Urgency:     call.Urgency,
		RetryReason: call.RetryReason,
		FirstSentAt: call.FirstSentAt,
		ResolvedAt:  now,
	}
	p.log.Warn("call retries exhausted",
		slog.String("callUUID", call.CallUUID),
		slog.String("userId", call.UserID),
		slog.Int("attempts", call.AttemptNumber),
	)
	if err := p.sink.Record(ctx, o); err != nil {
		p.log.Error("failed to record call outcome", slog.String("callUUID", call.CallUUID), slog.Any("error", err))
	}
}

func (p *Processor) Name() string { return "retry" }

func (p *Processor) Interval() time.Duration {
	if p.opts.Interval <= 0 {
		return time.Minute
	}
	return p.opts.Interval
}

func (p *Processor) Run(ctx context.Context) error {
	_, err := p.ProcessAllRetries(ctx)
	return err
}
