package push

import (
	"fmt"
	"time"
)

// CertificateStatus is the readiness report for the wake channel.
type CertificateStatus struct {
	Ready         bool      `json:"ready"`
	HasKeyID      bool      `json:"hasKeyId"`
	HasTeamID     bool      `json:"hasTeamId"`
	HasAuthKey    bool      `json:"hasAuthKey"`
	HasTopic      bool      `json:"hasTopic"`
	MissingFields []string  `json:"missingFields,omitempty"`
	Error         string    `json:"error,omitempty"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// CertificateValidator checks wake channel credentials without sending a push.
type CertificateValidator struct {
	now func() time.Time
}

func NewCertificateValidator() *CertificateValidator {
	return &CertificateValidator{now: time.Now}
}

// Validate reports Ready only when all three credentials are present, the key
// parses and a provider token can be signed with it.
func (v *CertificateValidator) Validate(creds WakeCredentials) CertificateStatus {
	status := CertificateStatus{
		HasKeyID:      creds.KeyID != "",
		HasTeamID:     creds.TeamID != "",
		HasAuthKey:    creds.AuthKey != "",
		HasTopic:      creds.Topic != "",
		MissingFields: creds.Missing(),
		CheckedAt:     v.now(),
	}
	if len(status.MissingFields) > 0 {
		status.Error = ErrNotConfigured.Error()
		return status
	}

	tok, err := buildToken(creds)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	if _, err := tok.Generate(); err != nil {
		status.Error = fmt.Errorf("sign provider token: %w", err).Error()
		return status
	}

	status.Ready = true
	return status
}
