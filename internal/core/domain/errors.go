package domain

import "errors"

var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrParticipantNotFound    = errors.New("participant not found")
	ErrPairingNotFound        = errors.New("pairing not found")
	ErrDuplicateActiveSession = errors.New("active session already exists for appointment")
	ErrInvalidTransition      = errors.New("invalid session state transition")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrUnsupportedMessage     = errors.New("unsupported message type")
	ErrNegotiationInFlight    = errors.New("negotiation already in flight")
	ErrUnexpectedAnswer       = errors.New("answer received with no outstanding offer")
	ErrPrivilegedNoShow       = errors.New("no privileged participant arrived")
	ErrTransportUnreachable   = errors.New("transport unreachable")
	ErrInvalidRecordingState  = errors.New("recording not allowed in current session state")
)
