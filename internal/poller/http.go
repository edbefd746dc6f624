package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"mtd-vat-service/internal/api"
	"mtd-vat-service/internal/models"
)

// HTTPOptions describes the logical request to re-issue.
type HTTPOptions struct {
	Client    *http.Client
	Method    string
	URL       string
	Body      []byte
	RequestID string
	// WaitTime asked of the server per poll. Usually zero for re-polls; the
	// poller itself owns the waiting.
	WaitTime time.Duration
	Header   http.Header
}

// NewHTTPRequestFunc adapts the service's header contract into a RequestFunc:
// the same method, URL, body, and request id every time, with the
// initial-request marker cleared after the first call.
func NewHTTPRequestFunc(opts HTTPOptions) RequestFunc {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, firstAttempt bool) (Response, error) {
		req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, bytes.NewReader(opts.Body))
		if err != nil {
			return Response{}, err
		}
		for k, vs := range opts.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if len(opts.Body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set(api.HeaderRequestID, opts.RequestID)
		req.Header.Set(api.HeaderInitialRequest, strconv.FormatBool(firstAttempt))
		req.Header.Set(api.HeaderWaitTime, strconv.FormatInt(opts.WaitTime.Milliseconds(), 10))

		resp, err := client.Do(req)
		if err != nil {
			return Response{}, err
		}
		defer resp.Body.Close()

		var env api.Envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return Response{}, fmt.Errorf("decode response: %w", err)
		}
		requestID := resp.Header.Get(api.HeaderRequestID)
		if requestID == "" {
			requestID = env.RequestID
		}
		if resp.StatusCode == http.StatusAccepted {
			return Response{Pending: true, RequestID: requestID}, nil
		}
		return Response{
			RequestID: requestID,
			Outcome: models.Outcome{
				Status: models.OutcomeStatus(env.Status),
				Body:   env.Body,
			},
		}, nil
	}
}
