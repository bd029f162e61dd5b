package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wakeline/pkg/models"
)

func TestExpoRelaySend(t *testing.T) {
	var got []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"status":"ok","id":"ticket-1"}]}`))
	}))
	defer srv.Close()

	relay := NewExpoRelay(ExpoOptions{
		URL:         srv.URL,
		AccessToken: "secret",
		Title:       "Accountability Check",
		Body:        "Time to face yourself",
		ChannelID:   "accountability-calls",
	})

	p := models.WakePayload{
		CallUUID:      "call-1",
		UserID:        "user-1",
		CallType:      models.CallTypeDailyReckoning,
		Type:          models.DeviceAccountabilityCall,
		Urgency:       models.UrgencyHigh,
		AttemptNumber: 2,
		RetryReason:   models.RetryMissed,
	}
	id, err := relay.Send(context.Background(), expoToken, p)
	require.NoError(t, err)
	assert.Equal(t, "ticket-1", id)

	require.Len(t, got, 1)
	msg := got[0]
	assert.Equal(t, expoToken, msg["to"])
	assert.Equal(t, "high", msg["priority"])
	assert.Nil(t, msg["sound"])
	assert.Contains(t, msg, "sound")
	assert.Equal(t, "accountability-calls", msg["channelId"])
	assert.Equal(t, "Time to face yourself", msg["body"])

	data := msg["data"].(map[string]any)
	assert.Equal(t, "call-1", data["callUUID"])
	assert.Equal(t, "call-1", data["uuid"])
	assert.Equal(t, "accountability_call", data["type"])
	assert.Equal(t, "missed", data["retryReason"])
	assert.EqualValues(t, 2, data["attemptNumber"])
}

func TestExpoRelayErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		rejected bool
	}{
		{"ticket error", http.StatusOK, `{"data":[{"status":"error","message":"not registered","details":{"error":"DeviceNotRegistered"}}]}`, true},
		{"request error", http.StatusBadRequest, `{"errors":[{"code":"VALIDATION_ERROR","message":"bad"}]}`, true},
		{"server error", http.StatusBadGateway, `upstream down`, false},
		{"empty data", http.StatusOK, `{"data":[]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewExpoRelay(ExpoOptions{URL: srv.URL}).Send(context.Background(), expoToken, models.WakePayload{CallUUID: "c"})
			require.Error(t, err)
			var rej *rejectedError
			assert.Equal(t, tt.rejected, errorsAs(err, &rej))
		})
	}
}
