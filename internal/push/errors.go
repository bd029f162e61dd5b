package push

import "errors"

var (
	ErrUnsupportedToken = errors.New("unsupported token")
	ErrNotConfigured    = errors.New("channel not configured")
)

// rejectedError marks a provider that answered but refused the push, as
// opposed to a network or protocol failure.
type rejectedError struct {
	reason string
}

func (e *rejectedError) Error() string {
	return "rejected by provider: " + e.reason
}

func rejected(reason string) error {
	return &rejectedError{reason: reason}
}
