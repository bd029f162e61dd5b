package email

import (
	"fmt"

	"wakeline/pkg/models"
)

// SendMissedCallAlert tells an operator that a call exhausted its attempts.
func (s *EmailService) SendMissedCallAlert(to string, o models.CallOutcome) error {
	subject := fmt.Sprintf("Missed call - user %s (%d attempts)", o.UserID, o.Attempts)
	htmlBody := MissedCallAlertTemplate(o)

	return s.SendEmail(to, subject, htmlBody)
}
