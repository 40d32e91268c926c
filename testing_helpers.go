package flipswitch

import (
	"io"
	"net/http"
	"time"

	"github.com/flipswitch/go-server-sdk/util"
	"github.com/jarcoal/httpmock"
)

var test_sdkKey = "fs_server_token_hash"

const (
	test_heartbeatFrame   = "event: heartbeat\ndata: {}\n\n"
	test_flagUpdatedFrame = "event: flag-updated\ndata: {\"flagKey\":\"dark-mode\",\"timestamp\":\"2024-01-01T00:00:00Z\"}\n\n"
	test_bulkFlagsBody    = `{"flags":[{"key":"dark-mode","value":true,"reason":"TARGETING_MATCH","metadata":{"flagType":"boolean"}},{"key":"greeting","value":"hello","reason":"STATIC","metadata":{"flagType":"string"}}]}`
)

// testOptions returns options tuned for fast reconnect cycles in tests.
func testOptions() *Options {
	return &Options{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 40 * time.Millisecond,
		PollingInterval:   time.Second,
		RetryThreshold:    5,
		Logger:            util.DiscardLogger{},
	}
}

// writeFrame streams one SSE frame to the client.
func writeFrame(w http.ResponseWriter, frame string) {
	_, _ = io.WriteString(w, frame)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func httpBulkEvaluateMock(respcode int) {
	httpmock.RegisterResponder("POST", "https://api.flipswitch.io/ofrep/v1/evaluate/flags",
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewStringResponse(respcode, test_bulkFlagsBody), nil
		},
	)
}

func httpSingleEvaluateMock(key string, respcode int, body string) {
	httpmock.RegisterResponder("POST", "https://api.flipswitch.io/ofrep/v1/evaluate/flags/"+key,
		httpmock.NewStringResponder(respcode, body))
}
