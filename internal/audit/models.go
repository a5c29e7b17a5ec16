package audit

import (
	"context"
	"time"
)

// Action names a patient lifecycle event.
type Action string

const (
	ActionPatientCreated    Action = "patient_created"
	ActionPatientSyncFailed Action = "patient_sync_failed"
	ActionPatientDeleted    Action = "patient_deleted"
	ActionPatientCopied     Action = "patient_copied"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Action       Action    `json:"action"`
	Timestamp    time.Time `json:"timestamp"`
	PatientID    string    `json:"patient_id"`
	ThirdPartyID string    `json:"third_party_id,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// Store persists audit events. Implementations must be safe for concurrent
// use.
type Store interface {
	Append(ctx context.Context, event Event) error
}
