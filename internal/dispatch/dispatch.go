package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"wakeline/internal/push"
	"wakeline/internal/registry"
	"wakeline/pkg/models"
)

// Transport is the slice of push.Transport the dispatcher uses.
type Transport interface {
	DispatchUser(ctx context.Context, u models.User, p models.WakePayload) push.Result
}

// Dispatcher is the shared send path of the scheduler and the retry pass.
type Dispatcher struct {
	transport Transport
	registry  *registry.Registry
	handle    string
	caller    string
	log       *slog.Logger
}

func New(transport Transport, reg *registry.Registry, handle, caller string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		transport: transport,
		registry:  reg,
		handle:    handle,
		caller:    caller,
		log:       log.With(slog.String("component", "dispatch")),
	}
}

var retryMessages = []string{
	"You missed your accountability call. This is your first warning.",
	"You've missed multiple calls. This is getting serious.",
	"Final warning: You're ignoring your commitments.",
}

// RetryMessage is the escalating text carried by retry n (1 based).
func RetryMessage(retry int) string {
	if retry < 1 {
		return ""
	}
	if retry > len(retryMessages) {
		retry = len(retryMessages)
	}
	return retryMessages[retry-1]
}

// Payload builds the wake payload for the call's current attempt.
func (d *Dispatcher) Payload(call models.PendingCall, metadata map[string]string) models.WakePayload {
	retry := call.AttemptNumber > 1
	p := models.WakePayload{
		CallUUID:      call.CallUUID,
		UserID:        call.UserID,
		CallType:      call.CallType,
		Urgency:       call.Urgency,
		Type:          models.DeviceType(call.CallType, retry),
		AttemptNumber: call.AttemptNumber,
		Handle:        d.handle,
		Caller:        d.caller,
		Metadata:      metadata,
	}
	if retry {
		p.RetryReason = call.RetryReason
		p.Message = RetryMessage(call.AttemptNumber - 1)
	}
	return p
}

// Place tracks a new call and sends its first wake signal. When the send
// fails the entry is removed again so nothing is left pending for a signal
// that never left.
func (d *Dispatcher) Place(ctx context.Context, user models.User, call models.PendingCall, metadata map[string]string) (models.PendingCall, push.Result, error) {
	call.UserID = user.ID
	call.AttemptNumber = 1
	if err := d.registry.Track(ctx, call); err != nil {
		return call, push.Result{}, err
	}

	tracked, _, err := d.registry.GetStatus(ctx, call.CallUUID)
	if err != nil {
		return call, push.Result{}, err
	}

	res := d.transport.DispatchUser(ctx, user, d.Payload(tracked, metadata))
	if !res.Delivered {
		if ferr := d.registry.Forget(ctx, call.CallUUID); ferr != nil {
			d.log.Error("failed to drop undelivered call",
				slog.String("callUUID", call.CallUUID),
				slog.Any("error", ferr),
			)
		}
		return tracked, res, fmt.Errorf("place %s: %w", call.CallUUID, res.Err())
	}
	return tracked, res, nil
}

// Redial re-sends a call that the retry pass already advanced to its next
// attempt. The registry entry is kept whatever the outcome.
func (d *Dispatcher) Redial(ctx context.Context, user models.User, call models.PendingCall) push.Result {
	return d.transport.DispatchUser(ctx, user, d.Payload(call, map[string]string{"source": "retry"}))
}
