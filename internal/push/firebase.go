package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"wakeline/pkg/models"
)

// FirebaseRelay sends data-only high priority messages to raw FCM
// registration tokens.
type FirebaseRelay struct {
	client    *messaging.Client
	channelID string
}

// NewFirebaseRelay initializes the Firebase app from a service account file.
func NewFirebaseRelay(ctx context.Context, credentialsPath, channelID string) (*FirebaseRelay, error) {
	opt := option.WithCredentialsFile(credentialsPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Messaging client: %w", err)
	}

	return &FirebaseRelay{client: client, channelID: channelID}, nil
}

// fcmData converts the relay data map to the string-only map FCM requires.
// Nested values are JSON encoded.
func fcmData(p models.WakePayload) map[string]string {
	out := make(map[string]string)
	for k, v := range relayData(p) {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		}
	}
	return out
}

func buildFCMMessage(deviceToken, channelID string, p models.WakePayload) *messaging.Message {
	ttl := time.Duration(0)
	data := fcmData(p)
	if channelID != "" {
		data["channelId"] = channelID
	}
	return &messaging.Message{
		Token: deviceToken,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "5", "apns-push-type": "background"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true},
			},
		},
	}
}

func (r *FirebaseRelay) Send(ctx context.Context, deviceToken string, p models.WakePayload) (string, error) {
	id, err := r.client.Send(ctx, buildFCMMessage(deviceToken, r.channelID, p))
	if err != nil {
		if IsInvalidTokenError(err) {
			return "", rejected(err.Error())
		}
		return "", fmt.Errorf("error sending wake push: %w", err)
	}
	return id, nil
}

// IsInvalidTokenError reports errors that will not succeed on retry with the
// same token.
func IsInvalidTokenError(err error) bool {
	if err == nil {
		return false
	}
	return messaging.IsRegistrationTokenNotRegistered(err) ||
		messaging.IsSenderIDMismatch(err)
}
