package api

import "time"

// EventKind identifies the variant of a realtime Event.
type EventKind string

const (
	EventKind_FlagChanged      EventKind = "flagChanged"
	EventKind_BulkInvalidation EventKind = "bulkInvalidation"
	EventKind_KeyRotated       EventKind = "apiKeyRotated"
	EventKind_Heartbeat        EventKind = "heartbeat"
)

// Event is a single decoded realtime notification. Exactly one Kind is set per
// event; the remaining fields are populated according to the variant:
//
//   - FlagChanged: Key (empty means every flag may have changed) and Timestamp
//   - BulkInvalidation: Timestamp and optional Reason
//   - KeyRotated: Timestamp and optional ValidUntil (empty means the rotation
//     was aborted)
//   - Heartbeat: no fields
type Event struct {
	Kind       EventKind `json:"kind"`
	Key        string    `json:"flagKey,omitempty"`
	Timestamp  string    `json:"timestamp,omitempty"`
	ValidUntil string    `json:"validUntil,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Time parses the event timestamp.
func (e Event) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, e.Timestamp)
}

// RotationValidUntil returns the expiry of the previous credential for a
// KeyRotated event. ok is false when the rotation was aborted or the event is
// not a rotation.
func (e Event) RotationValidUntil() (t time.Time, ok bool) {
	if e.Kind != EventKind_KeyRotated || e.ValidUntil == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, e.ValidUntil)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// Wire payload shapes for the event stream.

type FlagChangePayload struct {
	FlagKey   *string `json:"flagKey"`
	Timestamp string  `json:"timestamp"`
}

type ConfigUpdatedPayload struct {
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

type KeyRotatedPayload struct {
	ValidUntil *string `json:"validUntil"`
	Timestamp  string  `json:"timestamp"`
}
