package api

// Wire contract shared by the endpoint surface and the client-side poller.
const (
	// HeaderWaitTime carries the client-requested synchronous budget in
	// milliseconds. Absent or zero means fire-and-forget.
	HeaderWaitTime = "X-Wait-Time-Ms"

	// HeaderInitialRequest is "true" on the first submission of a request id
	// and "false" on every reattachment poll.
	HeaderInitialRequest = "X-Initial-Request"

	// HeaderRequestID echoes the correlation id on every response shape so a
	// client can always resume polling.
	HeaderRequestID = "X-Request-ID"

	// HeaderCorrelationID joins logs across systems.
	HeaderCorrelationID = "X-Correlation-ID"
)
