package api

type ClientEvent struct {
	EventType ClientEventType `json:"eventType"`
	EventData interface{}     `json:"eventData"`
	Status    string          `json:"status"`
	Error     error           `json:"error"`
}

type ClientEventType string

const (
	ClientEventType_Initialized               ClientEventType = "initialized"
	ClientEventType_Error                     ClientEventType = "error"
	ClientEventType_RealtimeUpdates           ClientEventType = "realtimeUpdates"
	ClientEventType_KeyRotated                ClientEventType = "apiKeyRotated"
	ClientEventType_InternalStreamConnected   ClientEventType = "internalStreamConnected"
	ClientEventType_InternalStreamFailure     ClientEventType = "internalStreamFailure"
	ClientEventType_InternalHeartbeatStale    ClientEventType = "internalHeartbeatStale"
	ClientEventType_InternalPollingFallback   ClientEventType = "internalPollingFallback"
	ClientEventType_InternalPollingDeactivate ClientEventType = "internalPollingDeactivated"
)
