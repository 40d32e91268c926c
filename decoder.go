package flipswitch

import (
	"encoding/json"

	"github.com/flipswitch/go-server-sdk/api"
	"github.com/flipswitch/go-server-sdk/util"
)

// Event types recognized on the realtime stream.
const (
	streamEventFlagUpdated   = "flag-updated"
	streamEventFlagChange    = "flag-change" // legacy alias for flag-updated
	streamEventConfigUpdated = "config-updated"
	streamEventKeyRotated    = "api-key-rotated"
	streamEventHeartbeat     = "heartbeat"
)

// decodeEvent parses a raw stream frame into a typed event. Unknown event
// types and malformed payloads are dropped (ok=false) and logged; decoding
// never returns an error to the stream loop.
func decodeEvent(eventType string, payload []byte) (event api.Event, ok bool) {
	switch eventType {
	case streamEventFlagUpdated, streamEventFlagChange:
		var p api.FlagChangePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			util.Debugf("Dropping malformed %s event: %v", eventType, err)
			return api.Event{}, false
		}
		if p.Timestamp == "" {
			util.Debugf("Dropping %s event with missing timestamp", eventType)
			return api.Event{}, false
		}
		key := ""
		if p.FlagKey != nil {
			key = *p.FlagKey
		}
		return api.Event{Kind: api.EventKind_FlagChanged, Key: key, Timestamp: p.Timestamp}, true

	case streamEventConfigUpdated:
		var p api.ConfigUpdatedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			util.Debugf("Dropping malformed %s event: %v", eventType, err)
			return api.Event{}, false
		}
		return api.Event{Kind: api.EventKind_BulkInvalidation, Timestamp: p.Timestamp, Reason: p.Reason}, true

	case streamEventKeyRotated:
		var p api.KeyRotatedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			util.Debugf("Dropping malformed %s event: %v", eventType, err)
			return api.Event{}, false
		}
		// An absent or empty validUntil means the rotation was aborted.
		validUntil := ""
		if p.ValidUntil != nil {
			validUntil = *p.ValidUntil
		}
		return api.Event{Kind: api.EventKind_KeyRotated, Timestamp: p.Timestamp, ValidUntil: validUntil}, true

	case streamEventHeartbeat:
		// Liveness only, payload ignored.
		return api.Event{Kind: api.EventKind_Heartbeat}, true

	default:
		util.Debugf("Dropping unrecognized stream event type: %q", eventType)
		return api.Event{}, false
	}
}
