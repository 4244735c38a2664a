package domain

import (
	"time"
)

type SessionID string
type ConnectionID string
type PairID string
type UserID string
type AppointmentID string

type SessionState string

const (
	SessionCreated              SessionState = "created"
	SessionWaitingForPrivileged SessionState = "waiting_for_privileged"
	SessionNegotiating          SessionState = "negotiating"
	SessionActive               SessionState = "active"
	SessionEnded                SessionState = "ended"
	SessionFailed               SessionState = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SessionState) Terminal() bool {
	return s == SessionEnded || s == SessionFailed
}

// OwnerContext carries the opaque references into the appointment store.
// The coordinator never dereferences them, it only keys sessions by them.
type OwnerContext struct {
	PatientID     UserID        `json:"patient_id"`
	DoctorID      UserID        `json:"doctor_id"`
	AppointmentID AppointmentID `json:"appointment_id"`
}

// Session is one consultation call. All of its participants and pairings are
// owned by it and must only be mutated while holding the registry's
// per-session lock.
type Session struct {
	ID           SessionID                      `json:"id"`
	Owner        OwnerContext                   `json:"owner"`
	State        SessionState                   `json:"state"`
	Participants map[ConnectionID]*Participant  `json:"participants"`
	Pairings     map[PairID]*PeerPairing        `json:"pairings"`
	CreatedAt    time.Time                      `json:"created_at"`
	StartedAt    time.Time                      `json:"started_at,omitempty"`
	EndedAt      time.Time                      `json:"ended_at,omitempty"`
	Recording    *RecordingState                `json:"recording,omitempty"`
	EndReason    string                         `json:"end_reason,omitempty"`
}

func NewSession(id SessionID, owner OwnerContext) *Session {
	return &Session{
		ID:           id,
		Owner:        owner,
		State:        SessionCreated,
		Participants: make(map[ConnectionID]*Participant),
		Pairings:     make(map[PairID]*PeerPairing),
		CreatedAt:    time.Now(),
	}
}

// Clone returns a deep copy of the session. The registry hands clones to the
// backing store so persistence never reads state the next lock holder is
// mutating.
func (s *Session) Clone() *Session {
	out := *s
	out.Participants = make(map[ConnectionID]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		cp := *p
		out.Participants[id] = &cp
	}
	out.Pairings = make(map[PairID]*PeerPairing, len(s.Pairings))
	for id, pr := range s.Pairings {
		out.Pairings[id] = pr.clone()
	}
	if s.Recording != nil {
		rec := *s.Recording
		out.Recording = &rec
	}
	return &out
}

// HasPrivilegedPresent reports whether at least one privileged participant is
// admitted or connected. The waiting room gate keys guest admission on this.
func (s *Session) HasPrivilegedPresent() bool {
	for _, p := range s.Participants {
		if p.Role == RolePrivileged && p.Present() {
			return true
		}
	}
	return false
}

// PresentParticipants returns participants that are admitted or connected.
func (s *Session) PresentParticipants() []*Participant {
	var out []*Participant
	for _, p := range s.Participants {
		if p.Present() {
			out = append(out, p)
		}
	}
	return out
}

// PendingParticipants returns participants parked in the waiting room.
func (s *Session) PendingParticipants() []*Participant {
	var out []*Participant
	for _, p := range s.Participants {
		if p.Admission == AdmissionPending {
			out = append(out, p)
		}
	}
	return out
}

// FindPairing returns the pairing between two connections regardless of which
// side ended up as offerer.
func (s *Session) FindPairing(a, b ConnectionID) *PeerPairing {
	for _, pr := range s.Pairings {
		if (pr.OffererConn == a && pr.AnswererConn == b) || (pr.OffererConn == b && pr.AnswererConn == a) {
			return pr
		}
	}
	return nil
}

// PairingsFor returns all pairings that involve the given connection.
func (s *Session) PairingsFor(conn ConnectionID) []*PeerPairing {
	var out []*PeerPairing
	for _, pr := range s.Pairings {
		if pr.OffererConn == conn || pr.AnswererConn == conn {
			out = append(out, pr)
		}
	}
	return out
}

// HealthyPairings counts pairings that have not failed.
func (s *Session) HealthyPairings() int {
	n := 0
	for _, pr := range s.Pairings {
		if pr.State != PairingFailed {
			n++
		}
	}
	return n
}
