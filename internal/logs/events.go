package logs

import (
	"fmt"
	"sync"
	"time"
)

// DebugEvent is one diagnostic report posted by a device while it handles a
// wake signal.
type DebugEvent struct {
	Event          string         `json:"event"`
	AppState       *int           `json:"app_state,omitempty"`
	Timestamp      *int64         `json:"timestamp,omitempty"`
	Payload        any            `json:"payload,omitempty"`
	Error          string         `json:"error,omitempty"`
	DeviceID       string         `json:"device_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
	ReceivedAt     time.Time      `json:"received_at"`
}

// AppStateName names the device application state codes.
func AppStateName(state int) string {
	switch state {
	case 0:
		return "Active"
	case 1:
		return "Inactive"
	case 2:
		return "Background"
	default:
		return fmt.Sprintf("Unknown (%d)", state)
	}
}

// EventRing keeps the most recent debug events. When full the oldest event is
// overwritten.
type EventRing struct {
	mu     sync.RWMutex
	events []DebugEvent
	next   int
	full   bool
	now    func() time.Time
}

func NewEventRing(capacity int) *EventRing {
	if capacity < 1 {
		capacity = 1
	}
	return &EventRing{events: make([]DebugEvent, capacity), now: time.Now}
}

// Add stamps e with its receive time and stores it. It returns the number of
// events held afterwards.
func (r *EventRing) Add(e DebugEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.ReceivedAt = r.now().UTC()
	r.events[r.next] = e
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	return r.lenLocked()
}

// Recent returns up to limit events, newest first. A limit of zero or less
// returns everything held.
func (r *EventRing) Recent(limit int) []DebugEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recentLocked(limit)
}

func (r *EventRing) recentLocked(limit int) []DebugEvent {
	n := r.lenLocked()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]DebugEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out
}

func (r *EventRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *EventRing) lenLocked() int {
	if r.full {
		return len(r.events)
	}
	return r.next
}

func (r *EventRing) Cap() int {
	return len(r.events)
}

// Clear drops every event and returns how many there were.
func (r *EventRing) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.lenLocked()
	clear(r.events)
	r.next = 0
	r.full = false
	return n
}

type EventError struct {
	Error      string    `json:"error"`
	Event      string    `json:"event"`
	ReceivedAt time.Time `json:"received_at"`
}

type EventSummary struct {
	TotalEvents  int            `json:"total_events"`
	RecentEvents int            `json:"recent_events"`
	EventTypes   map[string]int `json:"event_types"`
	AppStates    map[string]int `json:"app_states"`
	RecentErrors int            `json:"recent_errors"`
	LastEvent    *time.Time     `json:"last_event"`
	Errors       []EventError   `json:"errors"`
}

const maxSummaryErrors = 5

// Summary aggregates the newest window events by type and app state and lists
// the latest errors among them.
func (r *EventRing) Summary(window int) EventSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recent := r.recentLocked(window)
	s := EventSummary{
		TotalEvents:  r.lenLocked(),
		RecentEvents: len(recent),
		EventTypes:   map[string]int{},
		AppStates:    map[string]int{},
		Errors:       []EventError{},
	}
	if len(recent) > 0 {
		last := recent[0].ReceivedAt
		s.LastEvent = &last
	}
	for _, e := range recent {
		s.EventTypes[e.Event]++
		if e.AppState != nil {
			s.AppStates[AppStateName(*e.AppState)]++
		}
		if e.Error == "" {
			continue
		}
		s.RecentErrors++
		if len(s.Errors) < maxSummaryErrors {
			s.Errors = append(s.Errors, EventError{Error: e.Error, Event: e.Event, ReceivedAt: e.ReceivedAt})
		}
	}
	return s
}
