package flipswitch

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flipswitch/go-server-sdk/api"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string, events chan api.ClientEvent) *Client {
	t.Helper()
	options := testOptions()
	options.BaseURL = baseURL
	options.ClientEventHandler = events
	c, err := NewClient(test_sdkKey, options)
	require.NoError(t, err)
	return c
}

// streamServer serves a held-open event stream at the stream path and bulk
// flag data at the OFREP path, failing stream dials while healthy is false.
func streamServer(healthy *atomic.Bool, streamRequests *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case eventStreamPath:
			streamRequests.Add(1)
			if !healthy.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			writeFrame(w, test_heartbeatFrame)
			<-r.Context().Done()
		case bulkEvaluatePath:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(test_bulkFlagsBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClient_BecomesReadyOnHandshake(t *testing.T) {
	healthy := &atomic.Bool{}
	healthy.Store(true)
	server := streamServer(healthy, &atomic.Int32{})
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	defer c.Close()

	assert.Equal(t, ProviderState_NotReady, c.GetState())
	require.NoError(t, c.Connect())

	assert.Eventually(t, func() bool { return c.GetState() == ProviderState_Ready }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ConnectionStatus_Connected, c.ConnectionStatus())
}

func TestClient_CloseResetsEverything(t *testing.T) {
	healthy := &atomic.Bool{}
	healthy.Store(true)
	server := streamServer(healthy, &atomic.Int32{})
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	require.NoError(t, c.Connect())
	assert.Eventually(t, func() bool { return c.GetState() == ProviderState_Ready }, 2*time.Second, 10*time.Millisecond)

	c.cache.Set("dark-mode", api.Flag{Key: "dark-mode", Value: true})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, ProviderState_NotReady, c.GetState())
	assert.Equal(t, ConnectionStatus_Disconnected, c.ConnectionStatus())
	assert.Equal(t, 0, c.Cache().Len())
	assert.False(t, c.PollingFallbackActive())
}

func TestClient_ReconnectAfterClose(t *testing.T) {
	healthy := &atomic.Bool{}
	healthy.Store(true)
	streamRequests := &atomic.Int32{}
	server := streamServer(healthy, streamRequests)
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	defer c.Close()

	require.NoError(t, c.Connect())
	assert.Eventually(t, func() bool { return c.GetState() == ProviderState_Ready }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())

	require.NoError(t, c.Connect())
	assert.Eventually(t, func() bool { return c.GetState() == ProviderState_Ready }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, streamRequests.Load(), int32(2))
}

func TestClient_ReadinessTransitions(t *testing.T) {
	c := newTestClient(t, defaultBaseURL, nil)

	// handshake promotes NotReady to Ready
	c.handleStatusChange(ConnectionStatus_Connected)
	assert.Equal(t, ProviderState_Ready, c.GetState())

	// a stream error degrades to Stale, never back to NotReady
	c.handleStatusChange(ConnectionStatus_Error)
	assert.Equal(t, ProviderState_Stale, c.GetState())

	// a clean disconnect changes nothing on its own
	c.handleStatusChange(ConnectionStatus_Disconnected)
	assert.Equal(t, ProviderState_Stale, c.GetState())
	c.handleStatusChange(ConnectionStatus_Connecting)
	assert.Equal(t, ProviderState_Stale, c.GetState())

	// recovery promotes Stale back to Ready
	c.handleStatusChange(ConnectionStatus_Connected)
	assert.Equal(t, ProviderState_Ready, c.GetState())
}

func TestClient_MarkStale(t *testing.T) {
	c := newTestClient(t, defaultBaseURL, nil)

	c.MarkStale()
	assert.Equal(t, ProviderState_NotReady, c.GetState(), "MarkStale only applies to a ready client")

	c.handleStatusChange(ConnectionStatus_Connected)
	c.MarkStale()
	assert.Equal(t, ProviderState_Stale, c.GetState())
}

func TestClient_CacheInvalidatedBeforeListenersRun(t *testing.T) {
	c := newTestClient(t, defaultBaseURL, nil)
	c.cache.Set("dark-mode", api.Flag{Key: "dark-mode", Value: true})

	sawCachedValue := make(chan bool, 1)
	c.Subscribe(func(event api.Event) {
		_, ok := c.Cache().Get("dark-mode")
		sawCachedValue <- ok
	})

	c.handleStreamEvent(api.Event{
		Kind:      api.EventKind_FlagChanged,
		Key:       "dark-mode",
		Timestamp: "2024-01-01T00:00:00Z",
	})

	select {
	case ok := <-sawCachedValue:
		assert.False(t, ok, "listener must observe the invalidation")
	default:
		t.Fatal("listener was not called")
	}
}

func TestClient_ListenerPanicDoesNotStopDelivery(t *testing.T) {
	c := newTestClient(t, defaultBaseURL, nil)

	c.Subscribe(func(event api.Event) {
		panic("listener exploded")
	})
	delivered := make(chan api.Event, 1)
	c.Subscribe(func(event api.Event) {
		delivered <- event
	})

	c.handleStreamEvent(api.Event{
		Kind:      api.EventKind_FlagChanged,
		Key:       "dark-mode",
		Timestamp: "2024-01-01T00:00:00Z",
	})

	select {
	case event := <-delivered:
		assert.Equal(t, "dark-mode", event.Key)
	default:
		t.Fatal("second listener was not called after the first panicked")
	}
}

func TestClient_Unsubscribe(t *testing.T) {
	c := newTestClient(t, defaultBaseURL, nil)

	calls := 0
	id := c.Subscribe(func(event api.Event) { calls++ })

	event := api.Event{Kind: api.EventKind_FlagChanged, Key: "dark-mode", Timestamp: "2024-01-01T00:00:00Z"}
	c.handleStreamEvent(event)
	c.Unsubscribe(id)
	c.handleStreamEvent(event)

	assert.Equal(t, 1, calls)
}

func TestClient_KeyRotationEmitsWarningEvent(t *testing.T) {
	events := make(chan api.ClientEvent, 10)
	c := newTestClient(t, defaultBaseURL, events)
	c.cache.Set("dark-mode", api.Flag{Key: "dark-mode", Value: true})

	c.handleStreamEvent(api.Event{
		Kind:       api.EventKind_KeyRotated,
		Timestamp:  "2024-01-01T00:00:00Z",
		ValidUntil: "2024-02-01T00:00:00Z",
	})

	// rotation carries no flag data change
	_, ok := c.Cache().Get("dark-mode")
	assert.True(t, ok)

	var kinds []api.ClientEventType
	for len(events) > 0 {
		kinds = append(kinds, (<-events).EventType)
	}
	assert.Contains(t, kinds, api.ClientEventType_KeyRotated)
}

func TestClient_PollingFallbackActivatesAndRecovers(t *testing.T) {
	healthy := &atomic.Bool{}
	streamRequests := &atomic.Int32{}
	server := streamServer(healthy, streamRequests)
	defer server.Close()

	events := make(chan api.ClientEvent, 100)
	c := newTestClient(t, server.URL, events)
	defer c.Close()

	// stream is failing, so Connect succeeds and retries in the background
	require.NoError(t, c.Connect())

	assert.Eventually(t, c.PollingFallbackActive, 5*time.Second, 10*time.Millisecond,
		"fallback must activate after repeated stream failures")
	assert.GreaterOrEqual(t, streamRequests.Load(), int32(c.options.RetryThreshold))
	assert.Equal(t, ProviderState_NotReady, c.GetState(), "fallback does not make a never-connected client ready")

	// stream comes back: fallback stops and the client becomes ready
	healthy.Store(true)
	assert.Eventually(t, func() bool {
		return c.GetState() == ProviderState_Ready && !c.PollingFallbackActive()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, ConnectionStatus_Connected, c.ConnectionStatus())

	activations, deactivations := 0, 0
	for len(events) > 0 {
		switch (<-events).EventType {
		case api.ClientEventType_InternalPollingFallback:
			activations++
		case api.ClientEventType_InternalPollingDeactivate:
			deactivations++
		}
	}
	assert.Equal(t, 1, activations, "fallback activation must fire exactly once")
	assert.Equal(t, 1, deactivations, "fallback deactivation must fire exactly once")
}

func TestClient_RealtimeDisabledConnectFetchesAndIsReady(t *testing.T) {
	options := testOptions()
	options.DisableRealtimeUpdates = true
	c, err := NewClient(test_sdkKey, options)
	require.NoError(t, err)
	defer c.Close()

	httpmock.ActivateNonDefault(c.cfg.HTTPClient)
	defer httpmock.DeactivateAndReset()
	httpBulkEvaluateMock(200)

	require.NoError(t, c.Connect())

	assert.Equal(t, ProviderState_Ready, c.GetState())
	assert.Equal(t, ConnectionStatus_Disconnected, c.ConnectionStatus())
	flag, ok := c.Cache().Get("dark-mode")
	require.True(t, ok)
	assert.Equal(t, true, flag.(api.Flag).Value)
}

func TestClient_CloseDuringBlockedHandshake(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == eventStreamPath {
			<-release
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(test_bulkFlagsBody))
	}))
	defer server.Close()

	options := testOptions()
	options.BaseURL = server.URL
	options.RetryThreshold = 1 // a single post-close failure would start the fallback
	c, err := NewClient(test_sdkKey, options)
	require.NoError(t, err)

	connectDone := make(chan error, 1)
	go func() { connectDone <- c.Connect() }()
	time.Sleep(50 * time.Millisecond) // let the dial reach the blocked handler

	require.NoError(t, c.Close())
	close(release)
	require.NoError(t, <-connectDone)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, c.PollingFallbackActive(), "polling fallback must not be active after Close")
	assert.Equal(t, ProviderState_NotReady, c.GetState())
	assert.Equal(t, ConnectionStatus_Disconnected, c.ConnectionStatus())
}

func TestClient_ConnectRecoversAfterAuthFailure(t *testing.T) {
	var authorized atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		writeFrame(w, test_heartbeatFrame)
		<-r.Context().Done()
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	defer c.Close()

	err := c.Connect()
	require.ErrorIs(t, err, ErrInvalidAPIKey)
	assert.Equal(t, ProviderState_Error, c.GetState())

	// key becomes valid and the caller retries without an intervening Close
	authorized.Store(true)
	require.NoError(t, c.Connect())
	assert.Eventually(t, func() bool { return c.GetState() == ProviderState_Ready }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ConnectionStatus_Connected, c.ConnectionStatus())
}

func TestClient_ConnectAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)
	defer c.Close()

	err := c.Connect()
	require.ErrorIs(t, err, ErrInvalidAPIKey)
	assert.Equal(t, ProviderState_Error, c.GetState())
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", testOptions())
	require.Error(t, err)

	options := testOptions()
	options.BaseURL = "not a url"
	_, err = NewClient(test_sdkKey, options)
	require.Error(t, err)
}
