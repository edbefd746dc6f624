package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"mtd-vat-service/internal/coordinator"
	"mtd-vat-service/internal/models"
)

func testRC() models.RequestContext {
	return models.RequestContext{
		UserKey:       "user-key",
		RequestID:     "req-1",
		TraceID:       "trace-1",
		CorrelationID: "corr-1",
	}
}

func TestTranslateOutcomeStatuses(t *testing.T) {
	cases := []struct {
		outcome models.OutcomeStatus
		code    int
	}{
		{models.OutcomeGranted, http.StatusCreated},
		{models.OutcomeSubmitted, http.StatusCreated},
		{models.OutcomeAlreadyGranted, http.StatusOK},
		{models.OutcomeDeleted, http.StatusOK},
		{models.OutcomeObligations, http.StatusOK},
		{models.OutcomeCapReached, http.StatusForbidden},
		{models.OutcomeBundleNotFound, http.StatusNotFound},
		{models.OutcomePeriodNotFound, http.StatusNotFound},
		{models.OutcomeQualifierMismatch, http.StatusBadRequest},
		{models.OutcomeDuplicateSubmission, http.StatusConflict},
		{models.OutcomeInternalError, http.StatusInternalServerError},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		WriteResult(w, zap.NewNop(), testRC(), coordinator.Result{
			RequestID: "req-1",
			Outcome:   models.Outcome{Status: c.outcome},
		})
		if w.Code != c.code {
			t.Fatalf("%s: want %d got %d", c.outcome, c.code, w.Code)
		}
		if got := w.Header().Get(HeaderRequestID); got != "req-1" {
			t.Fatalf("%s: request id header missing, got %q", c.outcome, got)
		}
	}
}

func TestPendingWritesAcceptedWithRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	WriteResult(w, zap.NewNop(), testRC(), coordinator.Result{Pending: true, RequestID: "req-1"})

	if w.Code != http.StatusAccepted {
		t.Fatalf("want 202 got %d", w.Code)
	}
	if w.Header().Get(HeaderRequestID) != "req-1" {
		t.Fatal("pending response must carry the request id header")
	}
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !env.Retry || env.RequestID != "req-1" || env.Status != string(models.StatusPending) {
		t.Fatalf("unexpected pending envelope: %+v", env)
	}
}

func TestInternalErrorBodyStaysGeneric(t *testing.T) {
	w := httptest.NewRecorder()
	WriteResult(w, zap.NewNop(), testRC(), coordinator.Result{
		RequestID: "req-1",
		Outcome: models.Outcome{Status: models.OutcomeInternalError, Body: map[string]any{
			"secret": "pg: connection refused at 10.0.0.5",
		}},
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("want 500 got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Fatalf("internal detail leaked to client: %s", w.Body.String())
	}
}
