package models

import (
	"encoding/json"
	"fmt"
)

// OutcomeStatus tags the result of a domain operation. Response mapping is an
// exhaustive switch over these values, never string comparison on free-form
// error text.
type OutcomeStatus string

const (
	// Bundle operations.
	OutcomeGranted           OutcomeStatus = "granted"
	OutcomeAlreadyGranted    OutcomeStatus = "already_granted"
	OutcomeCapReached        OutcomeStatus = "cap_reached"
	OutcomeBundleNotFound    OutcomeStatus = "bundle_not_found"
	OutcomeQualifierMismatch OutcomeStatus = "qualifier_mismatch"
	OutcomeDeleted           OutcomeStatus = "deleted"

	// VAT operations.
	OutcomeSubmitted           OutcomeStatus = "submitted"
	OutcomeDuplicateSubmission OutcomeStatus = "duplicate_submission"
	OutcomePeriodNotFound      OutcomeStatus = "period_not_found"
	OutcomeObligations         OutcomeStatus = "obligations"

	// Unexpected execution error. The body never reaches clients verbatim.
	OutcomeInternalError OutcomeStatus = "internal_error"
)

// Outcome is the tagged result of running a processor. Domain failures are
// outcomes, not Go errors; an error return from a processor means the
// operation's fate is unknown (infrastructure trouble), not a decided result.
type Outcome struct {
	Status OutcomeStatus  `json:"status"`
	Body   map[string]any `json:"body,omitempty"`
}

// Failure reports whether the outcome is a decided negative result.
func (o Outcome) Failure() bool {
	switch o.Status {
	case OutcomeCapReached, OutcomeBundleNotFound, OutcomeQualifierMismatch,
		OutcomeDuplicateSubmission, OutcomePeriodNotFound, OutcomeInternalError:
		return true
	}
	return false
}

// RecordStatus maps the outcome to the terminal store status it persists as.
func (o Outcome) RecordStatus() RecordStatus {
	if o.Failure() {
		return StatusFailed
	}
	return StatusCompleted
}

// InternalError builds the generic failure outcome for an unexpected error.
// Detail goes to the log, not the body.
func InternalError() Outcome {
	return Outcome{Status: OutcomeInternalError, Body: map[string]any{
		"message": "the request could not be processed",
	}}
}

// EncodeOutcome serializes an outcome for the record's data attribute.
func EncodeOutcome(o Outcome) (json.RawMessage, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode outcome: %w", err)
	}
	return b, nil
}

// DecodeOutcome restores an outcome from a terminal record's data attribute.
func DecodeOutcome(data json.RawMessage) (Outcome, error) {
	var o Outcome
	if len(data) == 0 {
		return Outcome{}, fmt.Errorf("decode outcome: empty data")
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return Outcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	return o, nil
}
