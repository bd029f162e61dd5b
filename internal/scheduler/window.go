package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"wakeline/internal/registry"
	"wakeline/pkg/models"
)

const dateLayout = "2006-01-02"

type Status string

const (
	StatusDue             Status = "due"
	StatusNotDue          Status = "not_due"
	StatusAlreadyCalled   Status = "already_called"
	StatusNotOnboarded    Status = "not_onboarded"
	StatusMissingToken    Status = "missing_token"
	StatusInvalidTimezone Status = "invalid_timezone"
	StatusInvalidWindow   Status = "invalid_window"
)

type evaluation struct {
	Status   Status
	Job      *models.CallJob
	NextCall time.Time
	Local    time.Time
	Location *time.Location
}

func loadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("timezone not set")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// windowAt reports whether now falls inside [start, start+grace) for the
// window starting today or yesterday in loc. Checking yesterday keeps a
// window that opens just before local midnight due after midnight, still
// under the date it opened on.
func windowAt(now time.Time, loc *time.Location, hour, minute int, grace time.Duration) (start time.Time, due bool) {
	local := now.In(loc)
	for _, offset := range []int{0, -1} {
		d := local.AddDate(0, 0, offset)
		start = time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc)
		if !now.Before(start) && now.Before(start.Add(grace)) {
			return start, true
		}
	}
	return time.Time{}, false
}

// nextWindow is the next window start strictly after now.
func nextWindow(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

func (s *Scheduler) evaluate(ctx context.Context, u models.User, now time.Time) (evaluation, error) {
	if !u.OnboardingComplete {
		return evaluation{Status: StatusNotOnboarded}, nil
	}
	if !u.HasPushToken() {
		return evaluation{Status: StatusMissingToken}, nil
	}
	loc, err := loadLocation(u.Timezone)
	if err != nil {
		return evaluation{Status: StatusInvalidTimezone}, nil
	}
	hour, minute, err := models.ParseClock(u.CallWindowStart)
	if err != nil {
		return evaluation{Status: StatusInvalidWindow, Location: loc}, nil
	}

	ev := evaluation{Location: loc, Local: now.In(loc), NextCall: nextWindow(now, loc, hour, minute)}

	start, due := windowAt(now, loc, hour, minute, s.opts.GraceWindow)
	if !due {
		ev.Status = StatusNotDue
		return ev, nil
	}

	localDate := start.Format(dateLayout)
	key := registry.DedupKey{UserID: u.ID, CallType: models.CallTypeDailyReckoning, LocalDate: localDate}
	if _, held, err := s.ledger.Lookup(ctx, key); err != nil {
		return evaluation{}, fmt.Errorf("dedup lookup for %s: %w", u.ID, err)
	} else if held {
		ev.Status = StatusAlreadyCalled
		return ev, nil
	}

	ev.Status = StatusDue
	ev.Job = &models.CallJob{
		UserID:    u.ID,
		CallType:  models.CallTypeDailyReckoning,
		DueAt:     start,
		LocalDate: localDate,
	}
	return ev, nil
}

// PreviewEntry is one row of the operator schedule view.
type PreviewEntry struct {
	UserID     string     `json:"userId"`
	Name       string     `json:"name"`
	Timezone   string     `json:"timezone"`
	CallWindow string     `json:"callWindow"`
	LocalTime  string     `json:"localTime,omitempty"`
	NextCall   *time.Time `json:"nextCall,omitempty"`
	Status     Status     `json:"status"`
}

// GetSchedulePreview lists every active user with their next call and the
// category the scheduler would put them in right now.
func (s *Scheduler) GetSchedulePreview(ctx context.Context) ([]PreviewEntry, error) {
	users, err := s.dir.ActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active users: %w", err)
	}

	now := s.now()
	out := make([]PreviewEntry, 0, len(users))
	for _, u := range users {
		ev, err := s.evaluate(ctx, u, now)
		if err != nil {
			return nil, err
		}
		entry := PreviewEntry{
			UserID:     u.ID,
			Name:       u.Name,
			Timezone:   u.Timezone,
			CallWindow: u.CallWindowStart,
			Status:     ev.Status,
		}
		if !ev.Local.IsZero() {
			entry.LocalTime = ev.Local.Format("2006-01-02 15:04 MST")
		}
		if !ev.NextCall.IsZero() {
			next := ev.NextCall.UTC()
			entry.NextCall = &next
		}
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NextCall == nil || out[j].NextCall == nil {
			return out[j].NextCall == nil && out[i].NextCall != nil
		}
		return out[i].NextCall.Before(*out[j].NextCall)
	})
	return out, nil
}
