package flipswitch

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/flipswitch/go-server-sdk/api"
	"github.com/flipswitch/go-server-sdk/util"
)

const (
	defaultBaseURL         = "https://api.flipswitch.io"
	defaultPollingInterval = 30 * time.Second
	defaultRetryThreshold  = 5
	defaultRequestTimeout  = 5 * time.Second

	eventStreamPath  = "/api/v1/flags/events"
	bulkEvaluatePath = "/ofrep/v1/evaluate/flags"
)

type Options struct {
	// DisableRealtimeUpdates turns off the event stream entirely. The client
	// then relies on fetches and TTL expiry alone.
	DisableRealtimeUpdates bool `env:"FLIPSWITCH_DISABLE_REALTIME"`
	// DisablePollingFallback turns off the periodic full refresh that
	// otherwise activates after repeated stream failures.
	DisablePollingFallback bool `env:"FLIPSWITCH_DISABLE_POLLING_FALLBACK"`

	PollingInterval   time.Duration `env:"FLIPSWITCH_POLLING_INTERVAL"`
	RetryThreshold    int           `env:"FLIPSWITCH_RETRY_THRESHOLD"`
	ReconnectDelay    time.Duration `env:"FLIPSWITCH_RECONNECT_DELAY"`
	MaxReconnectDelay time.Duration `env:"FLIPSWITCH_MAX_RECONNECT_DELAY"`
	HeartbeatTimeout  time.Duration `env:"FLIPSWITCH_HEARTBEAT_TIMEOUT"`
	CacheTTL          time.Duration `env:"FLIPSWITCH_CACHE_TTL"`
	RequestTimeout    time.Duration `env:"FLIPSWITCH_REQUEST_TIMEOUT"`
	BaseURL           string        `env:"FLIPSWITCH_BASE_URL" validate:"omitempty,url"`

	Logger             util.Logger          `env:"-"`
	ClientEventHandler chan api.ClientEvent `env:"-"`
}

// OptionsFromEnv builds Options from FLIPSWITCH_* environment variables.
// Unset variables leave the zero value in place for CheckDefaults to fill.
func OptionsFromEnv() (*Options, error) {
	options := &Options{}
	if err := env.Parse(options); err != nil {
		return nil, fmt.Errorf("failed to parse options from environment: %w", err)
	}
	return options, nil
}

// CheckDefaults clamps out-of-range values and fills in defaults, warning
// when a provided value had to be adjusted.
func (o *Options) CheckDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.PollingInterval < time.Second {
		if o.PollingInterval != 0 {
			util.Warnf("PollingInterval cannot be less than 1 second. Defaulting to 30 seconds.")
		}
		o.PollingInterval = defaultPollingInterval
	}
	if o.RetryThreshold <= 0 {
		o.RetryThreshold = defaultRetryThreshold
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultMinReconnectDelay
	}
	if o.MaxReconnectDelay < o.ReconnectDelay {
		if o.MaxReconnectDelay != 0 {
			util.Warnf("MaxReconnectDelay cannot be less than ReconnectDelay. Defaulting to 30 seconds.")
		}
		o.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if o.HeartbeatTimeout < defaultHeartbeatCheckInterval {
		if o.HeartbeatTimeout != 0 {
			util.Warnf("HeartbeatTimeout cannot be less than %s. Defaulting to 60 seconds.", defaultHeartbeatCheckInterval)
		}
		o.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = defaultCacheTTL
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
}

type HTTPConfiguration struct {
	BasePath      string            `json:"basePath,omitempty"`
	DefaultHeader map[string]string `json:"defaultHeader,omitempty"`
	UserAgent     string            `json:"userAgent,omitempty"`
	// HTTPClient is used for plain request/response fetches and carries the
	// request timeout. StreamHTTPClient has no overall timeout so that a
	// long-lived event stream is never cut off by the client itself.
	HTTPClient       *http.Client
	StreamHTTPClient *http.Client
}

func NewConfiguration(options *Options) *HTTPConfiguration {
	cfg := &HTTPConfiguration{
		BasePath:      options.BaseURL,
		DefaultHeader: make(map[string]string),
		UserAgent:     "Flipswitch-Server-SDK/" + VERSION + "/go",
		HTTPClient: &http.Client{
			// Set an explicit timeout so that we don't wait forever on a request
			Timeout: options.RequestTimeout,
		},
		StreamHTTPClient: &http.Client{},
	}
	cfg.DefaultHeader["X-Flipswitch-SDK"] = "go/" + VERSION
	cfg.DefaultHeader["X-Flipswitch-Runtime"] = "go/" + runtime.Version()
	cfg.DefaultHeader["X-Flipswitch-OS"] = runtime.GOOS + "/" + runtime.GOARCH
	cfg.DefaultHeader["X-Flipswitch-Features"] = fmt.Sprintf("sse=%t", !options.DisableRealtimeUpdates)
	return cfg
}

func (c *HTTPConfiguration) AddDefaultHeader(key string, value string) {
	c.DefaultHeader[key] = value
}
