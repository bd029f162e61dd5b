package device

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid call state transition")
	// ErrBusy is returned for a wake signal that arrives while another call
	// is in progress.
	ErrBusy = errors.New("another call is in progress")
)
