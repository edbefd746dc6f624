package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mtd-vat-service/internal/models"
)

// DeriveUserKey hashes the authenticated subject into the opaque stable key
// the store is addressed by. The raw claim never leaves this function.
func DeriveUserKey(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])[:32]
}

// subjectFromRequest extracts the principal. Token verification is owned by
// the gateway in front of this service; by the time a request lands here the
// bearer token's subject is trustworthy.
func subjectFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-Client-ID")
}

// requestContext assembles the immutable correlation struct for one request.
// The request id comes from the client when reattaching, otherwise it is
// minted here and handed back for polling.
func requestContext(r *http.Request, userKey string) models.RequestContext {
	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	correlationID := r.Header.Get(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return models.RequestContext{
		UserKey:       userKey,
		RequestID:     requestID,
		TraceID:       uuid.NewString(),
		CorrelationID: correlationID,
	}
}

func waitTimeFromRequest(r *http.Request) time.Duration {
	v := r.Header.Get(HeaderWaitTime)
	if v == "" {
		return 0
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func firstAttemptFromRequest(r *http.Request) bool {
	v := r.Header.Get(HeaderInitialRequest)
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}
