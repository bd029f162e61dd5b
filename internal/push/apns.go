package push

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"wakeline/pkg/models"
)

// WakeCredentials are the token-auth settings for the APNs VoIP channel.
type WakeCredentials struct {
	KeyID      string
	TeamID     string
	AuthKey    string // base64 of the .p8 PEM, or the PEM itself
	Topic      string
	Production bool
}

// Missing lists the absent credential fields by their env names.
func (c WakeCredentials) Missing() []string {
	var missing []string
	if c.KeyID == "" {
		missing = append(missing, "IOS_VOIP_KEY_ID")
	}
	if c.TeamID == "" {
		missing = append(missing, "IOS_VOIP_TEAM_ID")
	}
	if c.AuthKey == "" {
		missing = append(missing, "IOS_VOIP_AUTH_KEY")
	}
	return missing
}

// APNsSender pushes VoIP wake signals through APNs.
type APNsSender struct {
	client *apns2.Client
	topic  string
	handle string
	caller string
}

// NewAPNsSender builds a token-auth client. It fails closed when any
// credential is missing or the signing key cannot be parsed.
func NewAPNsSender(creds WakeCredentials, handle, caller string) (*APNsSender, error) {
	tok, err := buildToken(creds)
	if err != nil {
		return nil, err
	}

	client := apns2.NewTokenClient(tok)
	if creds.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsSender{
		client: client,
		topic:  creds.Topic,
		handle: handle,
		caller: caller,
	}, nil
}

func buildToken(creds WakeCredentials) (*token.Token, error) {
	if missing := creds.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}

	pemBytes, err := decodeAuthKey(creds.AuthKey)
	if err != nil {
		return nil, err
	}

	key, err := token.AuthKeyFromBytes(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse IOS_VOIP_AUTH_KEY: %w", err)
	}

	return &token.Token{
		AuthKey: key,
		KeyID:   creds.KeyID,
		TeamID:  creds.TeamID,
	}, nil
}

func decodeAuthKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "BEGIN PRIVATE KEY") {
		return []byte(raw), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode IOS_VOIP_AUTH_KEY: %w", err)
	}
	return decoded, nil
}

// buildVoIPPayload is the silent content-available payload the device's VoIP
// handler reads. uuid duplicates callUUID for the native call plugin.
func buildVoIPPayload(p models.WakePayload, handle, caller string) *payload.Payload {
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	pl := payload.NewPayload().
		ContentAvailable().
		Custom("handle", handle).
		Custom("caller", caller).
		Custom("uuid", p.CallUUID).
		Custom("callUUID", p.CallUUID).
		Custom("userId", p.UserID).
		Custom("callType", string(p.CallType)).
		Custom("type", string(p.Type)).
		Custom("urgency", string(p.Urgency)).
		Custom("metadata", metadata)
	if p.AttemptNumber > 0 {
		pl.Custom("attemptNumber", p.AttemptNumber)
	}
	if p.RetryReason != "" {
		pl.Custom("retryReason", string(p.RetryReason))
	}
	if p.Message != "" {
		pl.Custom("message", p.Message)
	}
	return pl
}

func (s *APNsSender) Send(ctx context.Context, deviceToken string, p models.WakePayload) (string, error) {
	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       s.topic,
		PushType:    apns2.PushTypeVOIP,
		Priority:    apns2.PriorityHigh,
		CollapseID:  p.CallUUID,
		Expiration:  time.Now().Add(time.Minute),
		Payload:     buildVoIPPayload(p, s.handle, s.caller),
	}

	res, err := s.client.PushWithContext(ctx, n)
	if err != nil {
		return "", fmt.Errorf("apns push: %w", err)
	}
	if !res.Sent() {
		return "", rejected(fmt.Sprintf("%d %s", res.StatusCode, res.Reason))
	}
	return res.ApnsID, nil
}
