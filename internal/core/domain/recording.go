package domain

import "time"

type RecordingStatus string

const (
	RecordingNotStarted RecordingStatus = "not_started"
	RecordingActive     RecordingStatus = "recording"
	RecordingStopping   RecordingStatus = "stopping"
	RecordingFinalized  RecordingStatus = "finalized"
	RecordingFailed     RecordingStatus = "failed"
)

// RecordingState tracks the recording lifecycle of a session. Chunk payloads
// are buffered by the recording service, not here; this is the registry-owned
// bookkeeping that survives a finalize retry.
type RecordingState struct {
	Status        RecordingStatus `json:"status"`
	StartedAt     time.Time       `json:"started_at,omitempty"`
	StoppedAt     time.Time       `json:"stopped_at,omitempty"`
	ChunkCount    int             `json:"chunk_count"`
	StorageHandle string          `json:"storage_handle,omitempty"`
	ArtifactURL   string          `json:"artifact_url,omitempty"`
	FailReason    string          `json:"fail_reason,omitempty"`
}
