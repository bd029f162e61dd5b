package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"wakeline/pkg/models"
)

// Registry owns PendingCall lifetime. Every mutation goes through the store's
// per-key atomic update.
type Registry struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

func New(store Store, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{store: store, now: time.Now, log: log.With(slog.String("component", "registry"))}
}

// WithClock replaces the time source. Used by tests and replays.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) Now() time.Time {
	return r.now()
}

// Track records a call before its wake signal leaves the process, so an
// acknowledgment can never arrive for an id the registry does not know.
func (r *Registry) Track(ctx context.Context, call models.PendingCall) error {
	if call.CallUUID == "" || call.UserID == "" {
		return fmt.Errorf("track: callUUID and userId are required")
	}
	now := r.now()
	if call.SentAt.IsZero() {
		call.SentAt = now
	}
	if call.FirstSentAt.IsZero() {
		call.FirstSentAt = call.SentAt
	}
	if call.AttemptNumber == 0 {
		call.AttemptNumber = 1
	}
	if call.Urgency == "" {
		call.Urgency = models.UrgencyHigh
	}
	call.Acknowledged = false
	call.AcknowledgedAt = nil

	if err := r.store.Create(ctx, call); err != nil {
		return fmt.Errorf("track %s: %w", call.CallUUID, err)
	}
	return nil
}

// GetStatus returns the call and whether it exists.
func (r *Registry) GetStatus(ctx context.Context, callUUID string) (models.PendingCall, bool, error) {
	call, err := r.store.Get(ctx, callUUID)
	if errors.Is(err, ErrNotFound) {
		return models.PendingCall{}, false, nil
	}
	if err != nil {
		return models.PendingCall{}, false, err
	}
	return call, true, nil
}

// ListPending returns calls still waiting for acknowledgment, oldest first.
func (r *Registry) ListPending(ctx context.Context) ([]models.PendingCall, error) {
	calls, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].SentAt.Before(calls[j].SentAt)
	})
	return calls, nil
}

// Acknowledge marks a call acknowledged. It returns false for unknown ids and
// for calls already acknowledged, leaving the entry unchanged.
func (r *Registry) Acknowledge(ctx context.Context, callUUID string) (bool, error) {
	now := r.now()
	call, err := r.store.Update(ctx, callUUID, func(c *models.PendingCall) error {
		if c.Acknowledged {
			return ErrSkip
		}
		c.Acknowledged = true
		c.AcknowledgedAt = &now
		return nil
	})
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSkip):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("acknowledge %s: %w", callUUID, err)
	}

	r.log.Info("call acknowledged",
		slog.String("callUUID", callUUID),
		slog.String("userId", call.UserID),
		slog.Int("attempt", call.AttemptNumber),
		slog.Bool("afterTerminal", call.Terminal),
	)
	return true, nil
}

// RecordSignal stores a decline or failure reported by the device. The next
// retry carries it as its retryReason. Unknown or resolved calls are ignored.
func (r *Registry) RecordSignal(ctx context.Context, callUUID string, reason models.RetryReason) (bool, error) {
	_, err := r.store.Update(ctx, callUUID, func(c *models.PendingCall) error {
		if !c.Active() {
			return ErrSkip
		}
		c.DeviceSignal = reason
		return nil
	})
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSkip):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("record signal %s: %w", callUUID, err)
	}
	return true, nil
}

// Update exposes the atomic read-modify-write for processors that own a
// transition, such as the retry pass.
func (r *Registry) Update(ctx context.Context, callUUID string, fn UpdateFunc) (models.PendingCall, error) {
	return r.store.Update(ctx, callUUID, fn)
}

// Forget removes a call whose first dispatch never left the process.
func (r *Registry) Forget(ctx context.Context, callUUID string) error {
	err := r.store.Delete(ctx, callUUID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Prune evicts resolved calls older than retention on stores without native
// expiry.
func (r *Registry) Prune(ctx context.Context, retention time.Duration) (int, error) {
	p, ok := r.store.(Pruner)
	if !ok {
		return 0, nil
	}
	return p.Prune(ctx, r.now().Add(-retention))
}
