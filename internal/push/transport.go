package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"wakeline/internal/metrics"
	"wakeline/pkg/models"
)

type Channel string

const (
	ChannelWake Channel = "wake"
	ChannelExpo Channel = "expo"
	ChannelFCM  Channel = "fcm"
	ChannelNone Channel = "none"
)

type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureConfig      FailureKind = "config"
	FailureTransport   FailureKind = "transport"
	FailureRejected    FailureKind = "rejected"
	FailureUnsupported FailureKind = "unsupported"
)

// Result is the typed outcome of one dispatch. Dispatch never returns an
// error; a failed Result carries the kind and a reason instead.
type Result struct {
	Delivered  bool        `json:"delivered"`
	Channel    Channel     `json:"channel"`
	ProviderID string      `json:"providerId,omitempty"`
	Failure    FailureKind `json:"failure,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

func (r Result) Err() error {
	if r.Delivered {
		return nil
	}
	return fmt.Errorf("%s dispatch failed (%s): %s", r.Channel, r.Failure, r.Reason)
}

// Sender delivers one payload to one device token and returns the provider
// message id.
type Sender interface {
	Send(ctx context.Context, deviceToken string, p models.WakePayload) (string, error)
}

// Options configures a Transport. Nil senders mark their channel as not
// configured.
type Options struct {
	Wake          Sender
	WakeMissing   []string
	Expo          Sender
	FCM           Sender
	RatePerSecond int
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Transport routes wake signals to the channel a token requires.
type Transport struct {
	wake        Sender
	wakeMissing []string
	expo        Sender
	fcm         Sender
	limiter     *rate.Limiter
	timeout     time.Duration
	log         *slog.Logger
}

func NewTransport(opts Options) *Transport {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RatePerSecond)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		wake:        opts.Wake,
		wakeMissing: opts.WakeMissing,
		expo:        opts.Expo,
		fcm:         opts.FCM,
		limiter:     limiter,
		timeout:     timeout,
		log:         log.With(slog.String("component", "push")),
	}
}

// Route picks the channel for a typed token without sending anything.
func (t *Transport) Route(token models.PushToken) (Channel, Sender, error) {
	dt := token.DeviceToken
	switch {
	case dt == "":
		return ChannelNone, nil, ErrUnsupportedToken
	case token.Platform == models.PlatformIOS && token.IsWakeChannel:
		if !isHexToken(dt) {
			return ChannelWake, nil, ErrUnsupportedToken
		}
		if t.wake == nil {
			return ChannelWake, nil, fmt.Errorf("%w: missing %v", ErrNotConfigured, t.wakeMissing)
		}
		return ChannelWake, t.wake, nil
	case token.Platform == models.PlatformIOS || token.Platform == models.PlatformAndroid:
		if isExpoToken(dt) {
			if t.expo == nil {
				return ChannelExpo, nil, ErrNotConfigured
			}
			return ChannelExpo, t.expo, nil
		}
		if isFCMToken(dt) {
			if t.fcm == nil {
				return ChannelFCM, nil, ErrNotConfigured
			}
			return ChannelFCM, t.fcm, nil
		}
		return ChannelNone, nil, ErrUnsupportedToken
	default:
		return ChannelNone, nil, ErrUnsupportedToken
	}
}

// Dispatch sends one wake signal. At most one provider call is made and
// nothing is retried here.
func (t *Transport) Dispatch(ctx context.Context, token models.PushToken, p models.WakePayload) Result {
	channel, sender, err := t.Route(token)
	if err != nil {
		kind := FailureUnsupported
		if errors.Is(err, ErrNotConfigured) {
			kind = FailureConfig
		}
		return t.fail(channel, kind, err, p)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return t.fail(channel, FailureTransport, err, p)
	}

	sendCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	id, err := sender.Send(sendCtx, token.DeviceToken, p)
	metrics.PushDispatchDuration.WithLabelValues(string(channel)).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := FailureTransport
		var rej *rejectedError
		if errors.As(err, &rej) {
			kind = FailureRejected
		}
		return t.fail(channel, kind, err, p)
	}

	metrics.PushDispatchTotal.WithLabelValues(string(channel), "delivered").Inc()
	t.log.Info("wake signal sent",
		slog.String("channel", string(channel)),
		slog.String("callUUID", p.CallUUID),
		slog.String("userId", p.UserID),
		slog.Int("attempt", p.AttemptNumber),
		slog.String("urgency", string(p.Urgency)),
	)
	return Result{Delivered: true, Channel: channel, ProviderID: id}
}

// DispatchLegacy classifies a bare token string before dispatching. Every
// ambiguous classification is logged.
func (t *Transport) DispatchLegacy(ctx context.Context, raw string, p models.WakePayload) Result {
	token, class := ClassifyLegacyToken(raw)
	if class == LegacyAmbiguous {
		t.log.Warn("unknown push token format, defaulting to relay",
			slog.String("token", redact(token.DeviceToken)),
			slog.String("userId", p.UserID),
		)
	}
	return t.Dispatch(ctx, token, p)
}

// DispatchUser sends to whatever destination the user registered, preferring
// the typed token.
func (t *Transport) DispatchUser(ctx context.Context, u models.User, p models.WakePayload) Result {
	if u.PushToken != nil && u.PushToken.DeviceToken != "" {
		return t.Dispatch(ctx, *u.PushToken, p)
	}
	return t.DispatchLegacy(ctx, u.LegacyPushToken, p)
}

func (t *Transport) fail(channel Channel, kind FailureKind, err error, p models.WakePayload) Result {
	metrics.PushDispatchTotal.WithLabelValues(string(channel), string(kind)).Inc()
	t.log.Error("wake signal failed",
		slog.String("channel", string(channel)),
		slog.String("failure", string(kind)),
		slog.String("callUUID", p.CallUUID),
		slog.String("userId", p.UserID),
		slog.Any("error", err),
	)
	return Result{Channel: channel, Failure: kind, Reason: err.Error()}
}

// Channels reports which channels have a sender.
func (t *Transport) Channels() map[Channel]bool {
	return map[Channel]bool{
		ChannelWake: t.wake != nil,
		ChannelExpo: t.expo != nil,
		ChannelFCM:  t.fcm != nil,
	}
}
