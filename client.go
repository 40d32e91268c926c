package flipswitch

import (
	"context"
	"errors"
	"sync"

	"github.com/flipswitch/go-server-sdk/api"
	"github.com/flipswitch/go-server-sdk/util"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrInvalidAPIKey is returned when the server rejects the SDK key during
	// the initial handshake. Invalid credentials are never retried.
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrFlagNotFound is returned by FetchFlag for an unknown flag key.
	ErrFlagNotFound = errors.New("flag not found")
)

// use a single instance of Validate, it caches struct info
var validate = validator.New()

// ProviderState is the consumer-visible summary of whether flag data is
// current, possibly stale, or unavailable.
type ProviderState string

const (
	ProviderState_NotReady ProviderState = "NOT_READY"
	ProviderState_Ready    ProviderState = "READY"
	ProviderState_Stale    ProviderState = "STALE"
	ProviderState_Error    ProviderState = "ERROR"
)

// EventListener receives decoded realtime events. Listeners run after the
// cache has been updated for the event, so a read-through during the callback
// observes the invalidation.
type EventListener func(event api.Event)

type service struct {
	client *Client
}

// Client keeps a local view of remotely-managed feature flags synchronized in
// near-real-time. It owns the event stream, the flag cache, the polling
// fallback, and the readiness state machine.
//
// In most cases there should be only one, shared, Client.
type Client struct {
	sdkKey  string
	options *Options
	cfg     *HTTPConfiguration
	common  service

	// Flags performs the plain request/response fetch operations.
	Flags *FlagsService

	cache   *FlagCache
	polling *pollingFallbackManager

	mu     sync.Mutex
	sse    *SSEManager
	state  ProviderState
	closed bool

	subscribersMu sync.RWMutex
	subscribers   map[string]EventListener
}

// NewClient builds a client for the given SDK key. The key is validated
// against the server on Connect, not here.
func NewClient(sdkKey string, options *Options) (*Client, error) {
	if sdkKey == "" {
		return nil, errors.New("missing SDK key! Call NewClient with a valid SDK key")
	}
	if options == nil {
		options = &Options{}
	}
	if options.Logger != nil {
		util.SetLogger(options.Logger)
	}
	options.CheckDefaults()
	if err := validate.Struct(options); err != nil {
		return nil, util.Errorf("invalid client options: %v", err)
	}

	c := &Client{
		sdkKey:      sdkKey,
		options:     options,
		cfg:         NewConfiguration(options),
		state:       ProviderState_NotReady,
		subscribers: make(map[string]EventListener),
	}
	c.common.client = c
	c.Flags = (*FlagsService)(&c.common)
	c.cache = NewFlagCache(options.CacheTTL)
	c.polling = newPollingFallbackManager(!options.DisablePollingFallback, options.PollingInterval, options.RetryThreshold, c.refreshAllFlags)
	c.polling.onActivate = func() {
		c.emitClientEvent(api.ClientEvent{
			EventType: api.ClientEventType_InternalPollingFallback,
			EventData: "Polling fallback activated",
			Status:    "warning",
		})
	}
	c.polling.onDeactivate = func() {
		c.emitClientEvent(api.ClientEvent{
			EventType: api.ClientEventType_InternalPollingDeactivate,
			EventData: "Polling fallback deactivated",
			Status:    "info",
		})
	}
	return c, nil
}

// Connect starts the realtime engine. With realtime updates enabled it opens
// the event stream; an authentication failure on this first handshake is
// returned as ErrInvalidAPIKey and not retried. Any other stream failure is
// retried in the background with capped exponential backoff.
//
// With realtime disabled, Connect validates the key with one full fetch and
// marks the client ready.
//
// Connect may be called again after Close; each cycle uses a fresh stream
// connection with a fresh backoff sequence.
func (c *Client) Connect() error {
	c.mu.Lock()
	old := c.sse
	c.sse = nil
	c.closed = false
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	// Each cycle restarts the readiness machine from NotReady so a previous
	// fatal failure does not outlive its connection.
	c.setState(ProviderState_NotReady)

	if c.options.DisableRealtimeUpdates {
		if _, err := c.Flags.FetchAllFlags(context.Background(), nil); err != nil {
			if errors.Is(err, ErrInvalidAPIKey) {
				c.setState(ProviderState_Error)
			}
			return err
		}
		c.setState(ProviderState_Ready)
		c.emitClientEvent(api.ClientEvent{
			EventType: api.ClientEventType_Initialized,
			EventData: "Flipswitch client initialized (realtime disabled)",
			Status:    "success",
		})
		util.Infof("Flipswitch client initialized (realtime=false)")
		return nil
	}

	sse, err := newSSEManager(c.sdkKey, c.options, c.cfg, c.handleStreamEvent, c.handleStatusChange, c.handleHeartbeatStale)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sse = sse
	c.mu.Unlock()

	if err := sse.Connect(); err != nil {
		c.setState(ProviderState_Error)
		c.emitClientEvent(api.ClientEvent{
			EventType: api.ClientEventType_Error,
			EventData: "Failed to connect to event stream",
			Status:    "failure",
			Error:     err,
		})
		return err
	}
	util.Infof("Flipswitch client initialized (realtime=true)")
	return nil
}

// Close shuts the engine down: it cancels the stream and any pending
// reconnect, stops the polling fallback, clears the cache, and returns the
// readiness state to NotReady. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sse := c.sse
	c.sse = nil
	c.mu.Unlock()

	if sse != nil {
		sse.Close()
	}
	c.polling.StopIfActive()
	c.cache.InvalidateAll()
	c.setState(ProviderState_NotReady)
	util.Infof("Flipswitch client shut down")
	return nil
}

// Reconnect forces the stream to drop and dial again immediately.
func (c *Client) Reconnect() {
	c.mu.Lock()
	sse := c.sse
	c.mu.Unlock()
	if sse != nil {
		sse.Reconnect()
	}
}

// Subscribe registers a listener for realtime events and returns a handle
// for Unsubscribe. Registration is safe while a delivery is in progress.
func (c *Client) Subscribe(listener EventListener) string {
	id := uuid.NewString()
	c.subscribersMu.Lock()
	c.subscribers[id] = listener
	c.subscribersMu.Unlock()
	return id
}

// Unsubscribe removes a listener previously registered with Subscribe.
func (c *Client) Unsubscribe(id string) {
	c.subscribersMu.Lock()
	delete(c.subscribers, id)
	c.subscribersMu.Unlock()
}

// GetState returns the current readiness state.
func (c *Client) GetState() ProviderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionStatus returns the status of the underlying stream, or
// Disconnected when no stream exists.
func (c *Client) ConnectionStatus() ConnectionStatus {
	c.mu.Lock()
	sse := c.sse
	c.mu.Unlock()
	if sse == nil {
		return ConnectionStatus_Disconnected
	}
	return sse.Status()
}

// Cache exposes the flag cache.
func (c *Client) Cache() *FlagCache {
	return c.cache
}

// PollingFallbackActive reports whether the client is currently in degraded
// polling mode.
func (c *Client) PollingFallbackActive() bool {
	return c.polling.Active()
}

// MarkStale explicitly downgrades a ready client to stale.
func (c *Client) MarkStale() {
	c.mu.Lock()
	if c.state == ProviderState_Ready {
		c.state = ProviderState_Stale
	}
	c.mu.Unlock()
}

func (c *Client) setState(state ProviderState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// handleStatusChange drives the readiness state machine and the polling
// fallback from stream status transitions. Connected resets the failure
// counter and stops the fallback; Error increments it and may start the
// fallback. A clean Disconnected only differs from Error in logging - the
// retry policy is identical and is handled inside the stream manager.
// Transitions reported after Close are dropped so a late failure cannot
// restart the fallback on a closed client.
func (c *Client) handleStatusChange(status ConnectionStatus) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	switch status {
	case ConnectionStatus_Connected:
		c.polling.RecordSuccess()
		c.mu.Lock()
		first := c.state == ProviderState_NotReady
		if c.state == ProviderState_NotReady || c.state == ProviderState_Stale {
			c.state = ProviderState_Ready
		}
		c.mu.Unlock()
		if first {
			c.emitClientEvent(api.ClientEvent{
				EventType: api.ClientEventType_Initialized,
				EventData: "Flipswitch client initialized",
				Status:    "success",
			})
		}
		c.emitClientEvent(api.ClientEvent{
			EventType: api.ClientEventType_InternalStreamConnected,
			EventData: "Connected to event stream",
			Status:    "success",
		})
	case ConnectionStatus_Error:
		c.polling.RecordFailure()
		c.mu.Lock()
		if c.state == ProviderState_Ready {
			c.state = ProviderState_Stale
		}
		c.mu.Unlock()
		c.emitClientEvent(api.ClientEvent{
			EventType: api.ClientEventType_InternalStreamFailure,
			EventData: "Event stream failed",
			Status:    "failure",
		})
	case ConnectionStatus_Disconnected, ConnectionStatus_Connecting:
		// No readiness transition.
	}
}

// handleStreamEvent applies a decoded event to the cache, then fans it out to
// subscribers. The cache must be consistent before listeners observe the
// change.
func (c *Client) handleStreamEvent(event api.Event) {
	c.cache.ApplyEvent(event)

	if event.Kind == api.EventKind_KeyRotated {
		if validUntil, ok := event.RotationValidUntil(); ok {
			util.Warnf("API key has been rotated, current credentials valid until %s. Update your API key configuration.", validUntil)
			c.emitClientEvent(api.ClientEvent{
				EventType: api.ClientEventType_KeyRotated,
				EventData: event,
				Status:    "warning",
			})
		} else {
			util.Debugf("API key rotation aborted")
		}
	}

	c.notifySubscribers(event)
	c.emitClientEvent(api.ClientEvent{
		EventType: api.ClientEventType_RealtimeUpdates,
		EventData: event,
		Status:    "info",
	})
}

// handleHeartbeatStale surfaces a quiet stream to consumers. This signal is
// advisory and deliberately does not touch the readiness state; only
// connection errors drive Ready/Stale transitions.
func (c *Client) handleHeartbeatStale() {
	c.emitClientEvent(api.ClientEvent{
		EventType: api.ClientEventType_InternalHeartbeatStale,
		EventData: "No stream activity within the heartbeat timeout",
		Status:    "warning",
	})
}

// notifySubscribers delivers an event to a snapshot of the listener list. A
// panicking listener is logged and does not prevent delivery to the rest.
func (c *Client) notifySubscribers(event api.Event) {
	c.subscribersMu.RLock()
	listeners := make([]EventListener, 0, len(c.subscribers))
	for _, listener := range c.subscribers {
		listeners = append(listeners, listener)
	}
	c.subscribersMu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					_ = util.Errorf("recovered from panic in event listener: %v", r)
				}
			}()
			listener(event)
		}()
	}
}

// refreshAllFlags is the polling fallback's refresh callback.
func (c *Client) refreshAllFlags() {
	ctx, cancel := context.WithTimeout(context.Background(), c.options.RequestTimeout)
	defer cancel()
	if _, err := c.Flags.FetchAllFlags(ctx, nil); err != nil {
		util.Warnf("Polling refresh failed: %v", err)
	}
}

// emitClientEvent pushes an advisory notification to the configured handler
// without ever blocking the engine.
func (c *Client) emitClientEvent(event api.ClientEvent) {
	if c.options.ClientEventHandler == nil {
		return
	}
	select {
	case c.options.ClientEventHandler <- event:
	default:
		util.Debugf("Client event handler is full, dropping %s notification", event.EventType)
	}
}
