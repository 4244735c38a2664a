package domain

import "time"

type ParticipantRole string

const (
	// RolePrivileged is a clinician side participant (doctor, specialist).
	RolePrivileged ParticipantRole = "privileged"
	// RoleGuest is a patient or external invitee, subject to the waiting room.
	RoleGuest ParticipantRole = "guest"
)

type AdmissionState string

const (
	AdmissionPending      AdmissionState = "pending"
	AdmissionAdmitted     AdmissionState = "admitted"
	AdmissionConnected    AdmissionState = "connected"
	AdmissionDisconnected AdmissionState = "disconnected"
)

type NegotiationRole string

const (
	NegotiationOfferer  NegotiationRole = "offerer"
	NegotiationAnswerer NegotiationRole = "answerer"
)

// Participant is one connected endpoint. The ConnectionID is unique per
// connection, not per user: a reconnecting user gets a fresh one.
type Participant struct {
	ConnectionID ConnectionID    `json:"connection_id"`
	UserID       UserID          `json:"user_id"`
	Role         ParticipantRole `json:"role"`
	Admission    AdmissionState  `json:"admission"`
	Negotiation  NegotiationRole `json:"negotiation_role,omitempty"`
	JoinedAt     time.Time       `json:"joined_at"`
	AdmittedAt   time.Time       `json:"admitted_at,omitempty"`
}

// Present reports whether the participant is past the waiting room and not
// gone: admitted or connected.
func (p *Participant) Present() bool {
	return p.Admission == AdmissionAdmitted || p.Admission == AdmissionConnected
}
