package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"mtd-vat-service/internal/coordinator"
	"mtd-vat-service/internal/models"
)

// Envelope is the JSON body of every coordinator-backed response.
type Envelope struct {
	RequestID string         `json:"requestId"`
	Status    string         `json:"status"`
	Retry     bool           `json:"retry,omitempty"`
	Body      map[string]any `json:"body,omitempty"`
}

// WriteResult translates a coordinator result to the transport. Pending maps
// to 202 with the request id; terminal outcomes map through an exhaustive
// switch on the tag. The request id header is present on every shape.
func WriteResult(w http.ResponseWriter, log *zap.Logger, rc models.RequestContext, res coordinator.Result) {
	w.Header().Set(HeaderRequestID, res.RequestID)
	w.Header().Set(HeaderCorrelationID, rc.CorrelationID)

	if res.Pending {
		writeJSON(w, http.StatusAccepted, Envelope{
			RequestID: res.RequestID,
			Status:    string(models.StatusPending),
			Retry:     true,
		})
		return
	}

	code, body := translate(res.Outcome)
	if res.Outcome.Status == models.OutcomeInternalError {
		log.Error("surfacing internal error", append(rc.Fields(), zap.Any("body", res.Outcome.Body))...)
	}
	writeJSON(w, code, Envelope{
		RequestID: res.RequestID,
		Status:    string(res.Outcome.Status),
		Body:      body,
	})
}

// WriteError hides infrastructure failures behind a generic 5xx. Correlation
// headers still go out so the client can resume polling later.
func WriteError(w http.ResponseWriter, log *zap.Logger, rc models.RequestContext, err error) {
	log.Error("request failed", append(rc.Fields(), zap.Error(err))...)
	w.Header().Set(HeaderRequestID, rc.RequestID)
	w.Header().Set(HeaderCorrelationID, rc.CorrelationID)
	writeJSON(w, http.StatusInternalServerError, Envelope{
		RequestID: rc.RequestID,
		Status:    string(models.OutcomeInternalError),
		Body:      map[string]any{"message": "the request could not be processed"},
	})
}

// translate is the exhaustive outcome-to-status mapping.
func translate(o models.Outcome) (int, map[string]any) {
	switch o.Status {
	case models.OutcomeGranted, models.OutcomeSubmitted:
		return http.StatusCreated, o.Body
	case models.OutcomeAlreadyGranted, models.OutcomeDeleted, models.OutcomeObligations:
		return http.StatusOK, o.Body
	case models.OutcomeCapReached:
		return http.StatusForbidden, o.Body
	case models.OutcomeBundleNotFound, models.OutcomePeriodNotFound:
		return http.StatusNotFound, o.Body
	case models.OutcomeQualifierMismatch:
		return http.StatusBadRequest, o.Body
	case models.OutcomeDuplicateSubmission:
		return http.StatusConflict, o.Body
	case models.OutcomeInternalError:
		return http.StatusInternalServerError, map[string]any{"message": "the request could not be processed"}
	default:
		return http.StatusInternalServerError, map[string]any{"message": "the request could not be processed"}
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
