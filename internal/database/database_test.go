package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakeline/pkg/models"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(conn), mock
}

var userCols = []string{
	"id", "name", "email", "timezone", "call_window_start", "push_token", "push_platform",
	"push_is_voip", "subscription_active", "onboarding_complete",
}

func TestActiveUsers(t *testing.T) {
	db, mock := newMock(t)

	rows := sqlmock.NewRows(userCols).
		AddRow("u1", "Ana", "ana@example.com", "UTC", "20:00", "abcd", "ios", true, true, true).
		AddRow("u2", "Bo", nil, "Europe/Berlin", "07:30", "ExponentPushToken[x]", nil, nil, true, false).
		AddRow("u3", "Cy", nil, nil, nil, nil, nil, nil, true, true)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).WillReturnRows(rows)

	users, err := db.ActiveUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)

	require.NotNil(t, users[0].PushToken)
	assert.Equal(t, models.PlatformIOS, users[0].PushToken.Platform)
	assert.True(t, users[0].PushToken.IsWakeChannel)
	assert.Equal(t, "ana@example.com", users[0].Email)

	assert.Nil(t, users[1].PushToken)
	assert.Equal(t, "ExponentPushToken[x]", users[1].LegacyPushToken)
	assert.False(t, users[1].OnboardingComplete)

	assert.False(t, users[2].HasPushToken())
	assert.Empty(t, users[2].Timezone)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userCols))

	_, err := db.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOutcome(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO call_outcomes")).
		WithArgs("c1", "u1", "daily_reckoning", "missed", 4, "emergency", "missed", now.Add(-time.Hour), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.RecordOutcome(context.Background(), models.CallOutcome{
		CallUUID:    "c1",
		UserID:      "u1",
		CallType:    models.CallTypeDailyReckoning,
		Outcome:     models.OutcomeMissed,
		Attempts:    4,
		Urgency:     models.UrgencyEmergency,
		RetryReason: models.RetryMissed,
		FirstSentAt: now.Add(-time.Hour),
		ResolvedAt:  now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReceipt(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2026, 3, 1, 20, 1, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO voip_delivery_receipts")).
		WithArgs("u1", "c1", "answered", now, `{"os":"ios"}`, true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := db.SaveReceipt(context.Background(), models.DeliveryReceipt{
		UserID:     "u1",
		CallUUID:   "c1",
		Status:     models.ReceiptAnswered,
		ReceivedAt: now,
		DeviceInfo: map[string]any{"os": "ios"},
	}, true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock := newMock(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
