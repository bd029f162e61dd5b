package logs

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestEventRingEvictsOldestFirst(t *testing.T) {
	r := NewEventRing(3)
	assert.Empty(t, r.Recent(0))

	for i := 1; i <= 5; i++ {
		n := r.Add(DebugEvent{Event: fmt.Sprintf("e%d", i)})
		assert.Equal(t, min(i, 3), n)
	}

	names := func(events []DebugEvent) []string {
		out := make([]string, len(events))
		for i, e := range events {
			out[i] = e.Event
		}
		return out
	}
	assert.Equal(t, []string{"e5", "e4", "e3"}, names(r.Recent(0)))
	assert.Equal(t, []string{"e5", "e4"}, names(r.Recent(2)))
	assert.Equal(t, []string{"e5", "e4", "e3"}, names(r.Recent(50)))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
}

func TestEventRingStampsAndClears(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	r := NewEventRing(4)
	r.now = func() time.Time { return now }

	r.Add(DebugEvent{Event: "voip_push_received", ReceivedAt: now.Add(-time.Hour)})
	require.Len(t, r.Recent(0), 1)
	assert.Equal(t, now, r.Recent(0)[0].ReceivedAt)

	r.Add(DebugEvent{Event: "handling_voip_push"})
	assert.Equal(t, 2, r.Clear())
	assert.Empty(t, r.Recent(0))
	assert.Equal(t, 0, r.Len())

	r.Add(DebugEvent{Event: "after"})
	assert.Equal(t, 1, r.Len())
}

func TestEventRingSummary(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	r := NewEventRing(10)
	r.now = func() time.Time { now = now.Add(time.Second); return now }

	r.Add(DebugEvent{Event: "voip_push_received", AppState: intPtr(2)})
	r.Add(DebugEvent{Event: "handling_voip_push", AppState: intPtr(2)})
	r.Add(DebugEvent{Event: "voip_push_received", AppState: intPtr(0)})
	r.Add(DebugEvent{Event: "report_call_failed", Error: "callkit refused"})
	r.Add(DebugEvent{Event: "voip_push_received", AppState: intPtr(7)})

	s := r.Summary(20)
	assert.Equal(t, 5, s.TotalEvents)
	assert.Equal(t, 5, s.RecentEvents)
	assert.Equal(t, map[string]int{"voip_push_received": 3, "handling_voip_push": 1, "report_call_failed": 1}, s.EventTypes)
	assert.Equal(t, map[string]int{"Background": 2, "Active": 1, "Unknown (7)": 1}, s.AppStates)
	assert.Equal(t, 1, s.RecentErrors)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "callkit refused", s.Errors[0].Error)
	require.NotNil(t, s.LastEvent)
	assert.Equal(t, now, *s.LastEvent)

	s = r.Summary(2)
	assert.Equal(t, 5, s.TotalEvents)
	assert.Equal(t, 2, s.RecentEvents)
	assert.Equal(t, map[string]int{"voip_push_received": 1, "report_call_failed": 1}, s.EventTypes)
}

func TestEventRingSummaryEmpty(t *testing.T) {
	s := NewEventRing(2).Summary(20)
	assert.Zero(t, s.TotalEvents)
	assert.Nil(t, s.LastEvent)
	assert.Empty(t, s.EventTypes)
}
