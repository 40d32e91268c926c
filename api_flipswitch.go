package flipswitch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/flipswitch/go-server-sdk/api"
	"github.com/flipswitch/go-server-sdk/util"
	"github.com/matryer/try"
)

const maxFetchAttempts = 5

// FlagsService performs the plain request/response fetch operations against
// the evaluation API. Fetched values are written through to the flag cache.
type FlagsService service

/*
FlagsService Evaluate every flag for the given context.

The full result set replaces the cache contents.

  - @param evalCtx Targeting attributes; nil evaluates with an anonymous context

@return []api.Flag
*/
func (a *FlagsService) FetchAllFlags(ctx context.Context, evalCtx api.EvaluationContext) ([]api.Flag, error) {
	path := a.client.cfg.BasePath + bulkEvaluatePath

	r, body, err := a.client.performRequest(ctx, http.MethodPost, path, evaluateRequestBody(evalCtx))
	if err != nil {
		return nil, err
	}
	if r.StatusCode >= 300 {
		return nil, a.client.handleError(r, body)
	}

	var result api.BulkEvaluationResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, util.Errorf("invalid bulk evaluation response: %v", err)
	}

	a.client.cache.InvalidateAll()
	for _, flag := range result.Flags {
		a.client.cache.Set(flag.Key, flag)
	}
	return result.Flags, nil
}

/*
FlagsService Evaluate a single flag for the given context.

  - @param key Flag key
  - @param evalCtx Targeting attributes; nil evaluates with an anonymous context

@return api.Flag
*/
func (a *FlagsService) FetchFlag(ctx context.Context, key string, evalCtx api.EvaluationContext) (api.Flag, error) {
	path := a.client.cfg.BasePath + bulkEvaluatePath + "/" + url.PathEscape(key)

	r, body, err := a.client.performRequest(ctx, http.MethodPost, path, evaluateRequestBody(evalCtx))
	if err != nil {
		return api.Flag{}, err
	}
	if r.StatusCode == http.StatusNotFound {
		return api.Flag{}, ErrFlagNotFound
	}
	if r.StatusCode >= 300 {
		return api.Flag{}, a.client.handleError(r, body)
	}

	var flag api.Flag
	if err := json.Unmarshal(body, &flag); err != nil {
		return api.Flag{}, util.Errorf("invalid flag evaluation response: %v", err)
	}
	if flag.Key == "" {
		flag.Key = key
	}
	a.client.cache.Set(flag.Key, flag)
	return flag, nil
}

func evaluateRequestBody(evalCtx api.EvaluationContext) map[string]interface{} {
	if evalCtx == nil {
		evalCtx = api.EvaluationContext{"targetingKey": "anonymous"}
	}
	return map[string]interface{}{"context": evalCtx}
}

func (c *Client) performRequest(ctx context.Context, method string, path string, postBody interface{}) (response *http.Response, body []byte, err error) {
	bodyBytes, err := json.Marshal(postBody)
	if err != nil {
		return nil, nil, err
	}

	var httpResponse *http.Response
	var responseBody []byte

	// This retrying lib works by retrying as long as the bool is true and err is not nil
	// the attempt param is auto-incremented
	err = try.Do(func(attempt int) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, method, path, bytes.NewReader(bodyBytes))
		// Don't retry if theres an error preparing the request
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-API-Key", c.sdkKey)
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		for header, value := range c.cfg.DefaultHeader {
			req.Header.Set(header, value)
		}

		httpResponse, err = c.cfg.HTTPClient.Do(req)
		if httpResponse == nil && err == nil {
			err = errors.New("nil httpResponse")
		}
		if err != nil {
			time.Sleep(fetchRetryDelay(attempt)) // wait with exponential backoff
			return attempt <= maxFetchAttempts, err
		}
		responseBody, err = io.ReadAll(httpResponse.Body)
		httpResponse.Body.Close()

		if err == nil && httpResponse.StatusCode >= 500 && attempt <= maxFetchAttempts {
			err = errors.New("5xx error on request")
		}

		if err != nil {
			time.Sleep(fetchRetryDelay(attempt)) // wait with exponential backoff
		}

		return attempt <= maxFetchAttempts, err
	})
	if err != nil {
		return nil, nil, err
	}

	if httpResponse.StatusCode == http.StatusUnauthorized || httpResponse.StatusCode == http.StatusForbidden {
		return nil, nil, ErrInvalidAPIKey
	}
	return httpResponse, responseBody, nil
}

func fetchRetryDelay(attempt int) time.Duration {
	delay := math.Pow(2, float64(attempt)) * 100
	randomSum := delay * 0.2 * rand.Float64()
	return time.Duration(delay+randomSum) * time.Millisecond
}

func (c *Client) handleError(r *http.Response, body []byte) error {
	newErr := GenericError{
		body:  body,
		error: r.Status,
	}

	var v api.ErrorResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &v); err != nil {
			newErr.error = err.Error()
			return newErr
		}
	}
	newErr.model = v
	return newErr
}

// GenericError provides access to the body and model of an API error response.
type GenericError struct {
	body  []byte
	error string
	model interface{}
}

// Error returns non-empty string if there was an error.
func (e GenericError) Error() string {
	return e.error
}

// Body returns the raw bytes of the response
func (e GenericError) Body() []byte {
	return e.body
}

// Model returns the unpacked model of the error
func (e GenericError) Model() interface{} {
	return e.model
}
