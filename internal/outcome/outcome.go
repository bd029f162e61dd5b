// Package outcome delivers terminal call outcomes to whatever downstream
// logic consumes them.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wakeline/pkg/models"
)

// Sink receives one CallOutcome per logical call that stopped without an
// acknowledgment.
type Sink interface {
	Record(ctx context.Context, o models.CallOutcome) error
}

// Fanout records into every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, o models.CallOutcome) error {
	var errs []error
	for _, s := range f {
		if err := s.Record(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder is implemented by *database.DB.
type Recorder interface {
	RecordOutcome(ctx context.Context, o models.CallOutcome) error
}

type DBSink struct {
	db Recorder
}

func NewDBSink(db Recorder) *DBSink {
	return &DBSink{db: db}
}

func (s *DBSink) Record(ctx context.Context, o models.CallOutcome) error {
	return s.db.RecordOutcome(ctx, o)
}

// Notifier is implemented by *email.EmailService.
type Notifier interface {
	SendMissedCallAlert(to string, o models.CallOutcome) error
}

// EmailSink alerts one operator address.
type EmailSink struct {
	notifier Notifier
	to       string
	log      *slog.Logger
}

func NewEmailSink(n Notifier, to string, log *slog.Logger) *EmailSink {
	if log == nil {
		log = slog.Default()
	}
	return &EmailSink{notifier: n, to: to, log: log}
}

func (s *EmailSink) Record(_ context.Context, o models.CallOutcome) error {
	if err := s.notifier.SendMissedCallAlert(s.to, o); err != nil {
		return fmt.Errorf("missed call email for %s: %w", o.CallUUID, err)
	}
	s.log.Info("missed call alert sent", slog.String("callUUID", o.CallUUID), slog.String("to", s.to))
	return nil
}

// LogSink only logs. It is the sink used when nothing else is configured.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Record(_ context.Context, o models.CallOutcome) error {
	s.log.Warn("call ended without acknowledgment",
		slog.String("callUUID", o.CallUUID),
		slog.String("userId", o.UserID),
		slog.String("outcome", o.Outcome),
		slog.Int("attempts", o.Attempts),
	)
	return nil
}
