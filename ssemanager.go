package flipswitch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/flipswitch/go-server-sdk/api"
	"github.com/flipswitch/go-server-sdk/util"
	"github.com/launchdarkly/eventsource"
)

// ConnectionStatus describes the health of the realtime event stream. It is
// owned by the SSEManager; the client reads it to drive the readiness state
// and the polling fallback.
type ConnectionStatus string

const (
	ConnectionStatus_Connecting   ConnectionStatus = "CONNECTING"
	ConnectionStatus_Connected    ConnectionStatus = "CONNECTED"
	ConnectionStatus_Disconnected ConnectionStatus = "DISCONNECTED"
	ConnectionStatus_Error        ConnectionStatus = "ERROR"
)

// SSEManager owns the lifecycle of the push connection: it dials the event
// stream, decodes inbound frames, and drives reconnection with capped
// exponential backoff. One SSEManager lives from Connect to Close; the client
// creates a fresh one for every Connect cycle.
type SSEManager struct {
	sdkKey  string
	options *Options
	cfg     *HTTPConfiguration
	url     string

	onEvent        func(api.Event)
	onStatusChange func(ConnectionStatus)

	liveness *livenessMonitor
	backoff  *backoff

	// context covers the whole manager lifetime; cancelling it interrupts
	// pending reconnect delays and any in-flight connection.
	context          context.Context
	stopEventHandler context.CancelFunc

	mu          sync.Mutex
	status      ConnectionStatus
	closed      bool
	started     bool
	cancelConn  context.CancelFunc
	lastEventID string
}

func newSSEManager(sdkKey string, options *Options, cfg *HTTPConfiguration, onEvent func(api.Event), onStatusChange func(ConnectionStatus), onStale func()) (*SSEManager, error) {
	if options == nil {
		return nil, fmt.Errorf("SSE - Options cannot be nil")
	}
	m := &SSEManager{
		sdkKey:         sdkKey,
		options:        options,
		cfg:            cfg,
		url:            cfg.BasePath + eventStreamPath,
		onEvent:        onEvent,
		onStatusChange: onStatusChange,
		backoff:        newBackoff(options.ReconnectDelay, options.MaxReconnectDelay),
		status:         ConnectionStatus_Disconnected,
	}
	m.liveness = newLivenessMonitor(options.HeartbeatTimeout, defaultHeartbeatCheckInterval, onStale)
	m.context, m.stopEventHandler = context.WithCancel(context.Background())
	return m, nil
}

// Connect opens the event stream. An authentication failure on this first
// handshake is fatal and returned to the caller; any other failure starts the
// backoff-driven reconnect cycle and returns nil. Calling Connect on a closed
// manager is a no-op.
func (m *SSEManager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if m.cancelConn != nil {
		m.cancelConn()
		m.cancelConn = nil
	}
	firstConnect := !m.started
	m.started = true
	m.mu.Unlock()

	if firstConnect {
		m.liveness.Start()
	}

	if err := m.attempt(); err != nil {
		m.setStatus(ConnectionStatus_Error)
		if errors.Is(err, ErrInvalidAPIKey) {
			return err
		}
		util.Warnf("SSE - Initial connection failed: %v", err)
		m.scheduleReconnect()
	}
	return nil
}

// Reconnect drops the current connection, if any, and dials again
// immediately.
func (m *SSEManager) Reconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.cancelConn != nil {
		m.cancelConn()
		m.cancelConn = nil
	}
	m.mu.Unlock()

	if err := m.attempt(); err != nil {
		m.setStatus(ConnectionStatus_Error)
		m.scheduleReconnect()
	}
}

// attempt dials the stream once. On success it marks the manager connected,
// resets the backoff sequence, and hands the response body to the read loop.
func (m *SSEManager) attempt() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	connCtx, cancel := context.WithCancel(m.context)
	m.cancelConn = cancel
	m.mu.Unlock()

	m.setStatus(ConnectionStatus_Connecting)
	resp, err := m.dial(connCtx)
	if err != nil {
		cancel()
		return err
	}

	util.Infof("SSE - Connected to event stream: %s", m.url)
	m.setStatus(ConnectionStatus_Connected)
	m.backoff.Reset()
	m.liveness.Touch()
	go m.receiveFrames(connCtx, resp.Body)
	return nil
}

func (m *SSEManager) dial(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", m.sdkKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", m.cfg.UserAgent)
	for header, value := range m.cfg.DefaultHeader {
		req.Header.Set(header, value)
	}
	// Ask the server to resume after the last delivered frame instead of
	// replaying from the start.
	if id := m.loadLastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	resp, err := m.cfg.StreamHTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, ErrInvalidAPIKey
	}
	if resp.StatusCode != http.StatusOK {
		// A non-success response is a transport failure, never parsed as an
		// event stream.
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected response code %d from event stream", resp.StatusCode)
	}
	return resp, nil
}

// receiveFrames decodes frames from one connection until it ends. Frames are
// processed strictly in arrival order; decode failures drop the single frame
// and never close the connection.
func (m *SSEManager) receiveFrames(ctx context.Context, body io.ReadCloser) {
	decoder := eventsource.NewDecoder(body)
	for {
		frame, err := decoder.Decode()
		if ctx.Err() != nil {
			// Closed or superseded by a newer connection.
			body.Close()
			return
		}
		if err != nil {
			body.Close()
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// Server ended the response. A zero-byte response lands here
				// too; it reconnects like any other close.
				util.Debugf("SSE - Stream closed by server")
				m.setStatus(ConnectionStatus_Disconnected)
			} else {
				util.Warnf("SSE - Stream read error: %v", err)
				m.setStatus(ConnectionStatus_Error)
			}
			m.scheduleReconnect()
			return
		}

		m.liveness.Touch()
		if id := frame.Id(); id != "" {
			m.storeLastEventID(id)
		}

		event, ok := decodeEvent(frame.Event(), []byte(frame.Data()))
		if !ok || event.Kind == api.EventKind_Heartbeat {
			continue
		}
		if m.onEvent != nil {
			m.onEvent(event)
		}
	}
}

// scheduleReconnect waits for the next backoff delay, then dials again. The
// wait is interruptible: Close cancels it promptly.
func (m *SSEManager) scheduleReconnect() {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	delay := m.backoff.NextDelay()
	util.Debugf("SSE - Scheduling reconnect in %s", delay)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-m.context.Done():
			return
		case <-timer.C:
		}

		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		if err := m.attempt(); err != nil {
			// Auth failures after the initial handshake retry like any other
			// transport failure.
			m.setStatus(ConnectionStatus_Error)
			m.scheduleReconnect()
		}
	}()
}

// Status returns the current connection status.
func (m *SSEManager) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *SSEManager) setStatus(status ConnectionStatus) {
	m.mu.Lock()
	// A dial or read loop losing the race with Close must not surface its
	// failure as a post-close transition; Disconnected is the only status a
	// closed manager can report.
	if m.closed && status != ConnectionStatus_Disconnected {
		m.mu.Unlock()
		return
	}
	if m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	handler := m.onStatusChange
	m.mu.Unlock()
	if handler != nil {
		handler(status)
	}
}

func (m *SSEManager) storeLastEventID(id string) {
	m.mu.Lock()
	m.lastEventID = id
	m.mu.Unlock()
}

func (m *SSEManager) loadLastEventID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEventID
}

// Close tears down the connection, cancels any pending reconnect, and leaves
// the manager disconnected. Safe to call multiple times.
func (m *SSEManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancelConn = nil
	m.mu.Unlock()

	m.stopEventHandler()
	m.liveness.Stop()
	m.setStatus(ConnectionStatus_Disconnected)
}
