package email

import (
	"bytes"
	"html/template"
	"time"

	"wakeline/pkg/models"
)

var missedCallTmpl = template.Must(template.New("missed").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; background-color: #f4f4f4; margin: 0; padding: 20px; }
        .container { max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { background-color: #DC3545; color: white; padding: 20px; text-align: center; }
        .header h1 { margin: 0; font-size: 24px; }
        .content { padding: 30px; }
        .alert-box { background-color: #FFF3CD; border-left: 4px solid #DC3545; padding: 15px; margin: 20px 0; }
        .footer { background-color: #f8f9fa; padding: 15px; text-align: center; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Missed Call</h1>
        </div>
        <div class="content">
            <div class="alert-box">
                User <strong>{{.UserID}}</strong> did not acknowledge their {{.CallType}} call.
            </div>
            <p><strong>Call:</strong> {{.CallUUID}}</p>
            <p><strong>Attempts:</strong> {{.Attempts}} (last urgency {{.Urgency}})</p>
            {{if .RetryReason}}<p><strong>Last reason:</strong> {{.RetryReason}}</p>{{end}}
            <p><strong>First sent:</strong> {{.FirstSent}}</p>
            <p><strong>Given up:</strong> {{.Resolved}}</p>
        </div>
        <div class="footer">
            <p>Automatic message from wakeline. Do not reply.</p>
        </div>
    </div>
</body>
</html>
`))

// MissedCallAlertTemplate renders the operator alert for a terminal outcome.
func MissedCallAlertTemplate(o models.CallOutcome) string {
	var buf bytes.Buffer
	_ = missedCallTmpl.Execute(&buf, struct {
		models.CallOutcome
		FirstSent string
		Resolved  string
	}{
		CallOutcome: o,
		FirstSent:   o.FirstSentAt.UTC().Format(time.RFC1123),
		Resolved:    o.ResolvedAt.UTC().Format(time.RFC1123),
	})
	return buf.String()
}
