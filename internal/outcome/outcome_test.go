package outcome

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakeline/internal/logs"
	"wakeline/pkg/models"
)

type recordingSink struct {
	got []models.CallOutcome
	err error
}

func (r *recordingSink) Record(_ context.Context, o models.CallOutcome) error {
	r.got = append(r.got, o)
	return r.err
}

func (r *recordingSink) RecordOutcome(ctx context.Context, o models.CallOutcome) error {
	return r.Record(ctx, o)
}

type fakeNotifier struct {
	to  string
	err error
}

func (f *fakeNotifier) SendMissedCallAlert(to string, _ models.CallOutcome) error {
	f.to = to
	return f.err
}

func TestFanoutRecordsEverySink(t *testing.T) {
	a := &recordingSink{err: errors.New("db down")}
	b := &recordingSink{}
	o := models.CallOutcome{CallUUID: "c-1", Outcome: models.OutcomeMissed}

	err := Fanout{a, b, NewLogSink(logs.Discard())}.Record(context.Background(), o)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1, "a failing sink does not stop the others")
}

func TestDBSink(t *testing.T) {
	db := &recordingSink{}
	require.NoError(t, NewDBSink(db).Record(context.Background(), models.CallOutcome{CallUUID: "c-2"}))
	require.Len(t, db.got, 1)
	assert.Equal(t, "c-2", db.got[0].CallUUID)
}

func TestEmailSink(t *testing.T) {
	n := &fakeNotifier{}
	s := NewEmailSink(n, "ops@example.com", logs.Discard())
	require.NoError(t, s.Record(context.Background(), models.CallOutcome{CallUUID: "c-3"}))
	assert.Equal(t, "ops@example.com", n.to)

	n.err = errors.New("smtp")
	assert.ErrorContains(t, s.Record(context.Background(), models.CallOutcome{CallUUID: "c-4"}), "c-4")
}
