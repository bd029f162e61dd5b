package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// PushToken identifies one device push destination. IsWakeChannel marks
// iOS tokens registered for the VoIP wake channel.
type PushToken struct {
	DeviceToken   string   `json:"deviceToken"`
	Platform      Platform `json:"platform"`
	IsWakeChannel bool     `json:"isWakeChannel"`
}

type CallType string

const (
	CallTypeDailyReckoning CallType = "daily_reckoning"
	CallTypeOnboarding     CallType = "onboarding_call"
	CallTypeFirstCall      CallType = "first_call"
)

func (c CallType) Valid() bool {
	switch c {
	case CallTypeDailyReckoning, CallTypeOnboarding, CallTypeFirstCall:
		return true
	}
	return false
}

// DeviceCallType is the UI category the device uses to pick a presentation.
// It is always derived from CallType through deviceTypes, never set by hand.
type DeviceCallType string

const (
	DeviceAccountabilityCall      DeviceCallType = "accountability_call"
	DeviceAccountabilityCallRetry DeviceCallType = "accountability_call_retry"
	DeviceFirstCall               DeviceCallType = "first_call_notification"
	DeviceFirstCallRetry          DeviceCallType = "first_call_notification_retry"
)

var deviceTypes = map[CallType][2]DeviceCallType{
	CallTypeDailyReckoning: {DeviceAccountabilityCall, DeviceAccountabilityCallRetry},
	CallTypeOnboarding:     {DeviceFirstCall, DeviceFirstCallRetry},
	CallTypeFirstCall:      {DeviceFirstCall, DeviceFirstCallRetry},
}

// DeviceType maps a call type to the device UI category for a first attempt
// or a retry.
func DeviceType(c CallType, retry bool) DeviceCallType {
	pair, ok := deviceTypes[c]
	if !ok {
		pair = deviceTypes[CallTypeDailyReckoning]
	}
	if retry {
		return pair[1]
	}
	return pair[0]
}

type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyCritical  Urgency = "critical"
	UrgencyEmergency Urgency = "emergency"
)

var urgencyLadder = []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical, UrgencyEmergency}

// Escalate returns the next urgency level. Emergency is the ceiling.
func (u Urgency) Escalate() Urgency {
	for i, level := range urgencyLadder {
		if level == u && i+1 < len(urgencyLadder) {
			return urgencyLadder[i+1]
		}
	}
	if u.Rank() < 0 {
		return UrgencyMedium
	}
	return UrgencyEmergency
}

// Rank is the position of u on the escalation ladder, -1 when unknown.
func (u Urgency) Rank() int {
	for i, level := range urgencyLadder {
		if level == u {
			return i
		}
	}
	return -1
}

type RetryReason string

const (
	RetryMissed   RetryReason = "missed"
	RetryDeclined RetryReason = "declined"
	RetryFailed   RetryReason = "failed"
)

// WakePayload is the logical content of a wake signal. Transports encode it
// into their own wire shape.
type WakePayload struct {
	CallUUID      string            `json:"callUUID"`
	UserID        string            `json:"userId"`
	CallType      CallType          `json:"callType"`
	Urgency       Urgency           `json:"urgency"`
	Type          DeviceCallType    `json:"type"`
	AttemptNumber int               `json:"attemptNumber,omitempty"`
	RetryReason   RetryReason       `json:"retryReason,omitempty"`
	Handle        string            `json:"handle"`
	Caller        string            `json:"caller"`
	Message       string            `json:"message,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// PendingCall is the server-side record of one logical call. Retries reuse the
// record and its CallUUID.
type PendingCall struct {
	CallUUID       string      `json:"callUUID"`
	UserID         string      `json:"userId"`
	CallType       CallType    `json:"callType"`
	Urgency        Urgency     `json:"urgency"`
	LocalDate      string      `json:"localDate,omitempty"`
	FirstSentAt    time.Time   `json:"firstSentAt"`
	SentAt         time.Time   `json:"sentAt"`
	AttemptNumber  int         `json:"attemptNumber"`
	RetryReason    RetryReason `json:"retryReason,omitempty"`
	DeviceSignal   RetryReason `json:"deviceSignal,omitempty"`
	Acknowledged   bool        `json:"acknowledged"`
	AcknowledgedAt *time.Time  `json:"acknowledgedAt,omitempty"`
	Terminal       bool        `json:"terminal"`
	Outcome        string      `json:"outcome,omitempty"`
}

// Active reports whether the call still consumes delivery attempts.
func (p PendingCall) Active() bool {
	return !p.Acknowledged && !p.Terminal
}

const OutcomeMissed = "missed"

type ReceiptStatus string

const (
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptAnswered  ReceiptStatus = "answered"
	ReceiptConnected ReceiptStatus = "connected"
	ReceiptDeclined  ReceiptStatus = "declined"
	ReceiptFailed    ReceiptStatus = "failed"
)

// DeliveryReceipt is what a device reports back after handling a wake signal.
type DeliveryReceipt struct {
	UserID     string         `json:"userId" validate:"required"`
	CallUUID   string         `json:"callUUID" validate:"required"`
	Status     ReceiptStatus  `json:"status" validate:"required"`
	ReceivedAt time.Time      `json:"receivedAt"`
	DeviceInfo map[string]any `json:"deviceInfo,omitempty"`
}

// User is the subset of the user directory the pipeline needs.
type User struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email,omitempty"`
	Timezone           string     `json:"timezone"`
	CallWindowStart    string     `json:"callWindowStart"`
	PushToken          *PushToken `json:"pushToken,omitempty"`
	LegacyPushToken    string     `json:"legacyPushToken,omitempty"`
	SubscriptionActive bool       `json:"subscriptionActive"`
	OnboardingComplete bool       `json:"onboardingComplete"`
}

// HasPushToken reports whether any destination is registered.
func (u User) HasPushToken() bool {
	return (u.PushToken != nil && u.PushToken.DeviceToken != "") || u.LegacyPushToken != ""
}

// CallJob lives for one scheduler pass.
type CallJob struct {
	UserID    string    `json:"userId"`
	CallType  CallType  `json:"callType"`
	DueAt     time.Time `json:"dueAt"`
	LocalDate string    `json:"localDate"`
}

// CallOutcome is emitted once per logical call when it stops consuming
// delivery attempts without an acknowledgment.
type CallOutcome struct {
	CallUUID    string      `json:"callUUID"`
	UserID      string      `json:"userId"`
	CallType    CallType    `json:"callType"`
	Outcome     string      `json:"outcome"`
	Attempts    int         `json:"attempts"`
	Urgency     Urgency     `json:"urgency"`
	RetryReason RetryReason `json:"retryReason,omitempty"`
	FirstSentAt time.Time   `json:"firstSentAt"`
	ResolvedAt  time.Time   `json:"resolvedAt"`
}

// ParseClock parses a call window start as "HH:MM" or "HH:MM:SS". Seconds
// are accepted and ignored.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, fmt.Errorf("invalid call window %q", s)
	}
	limits := []int{23, 59, 59}
	values := make([]int, len(parts))
	for i, part := range parts {
		if len(part) == 0 || len(part) > 2 || strings.Trim(part, "0123456789") != "" {
			return 0, 0, fmt.Errorf("invalid call window %q", s)
		}
		v, convErr := strconv.Atoi(part)
		if convErr != nil || v > limits[i] {
			return 0, 0, fmt.Errorf("invalid call window %q", s)
		}
		values[i] = v
	}
	return values[0], values[1], nil
}
