package vat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mtd-vat-service/internal/coordinator"
	"mtd-vat-service/internal/models"
)

// Service exposes VAT submission and obligations lookup as coordinator
// processors. The obligations read goes through the protocol too because the
// upstream call is slow enough to outlive a synchronous budget.
type Service struct {
	client Client
	log    *zap.Logger
}

func NewService(client Client, log *zap.Logger) *Service {
	return &Service{client: client, log: log}
}

// SubmitArgs is the operation payload for vat:submit.
type SubmitArgs struct {
	VRN    string `json:"vrn"`
	Return Return `json:"return"`
}

// ObligationsArgs is the operation payload for vat:obligations.
type ObligationsArgs struct {
	VRN    string `json:"vrn"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Status string `json:"status,omitempty"`
}

// Register binds the VAT operations into the registry.
func (s *Service) Register(reg *coordinator.Registry) {
	reg.Register("vat:submit", s.Submit)
	reg.Register("vat:obligations", s.ListObligations)
}

// Submit sends the return upstream. Decided upstream rejections come back as
// tagged outcomes; anything else is an error left to the transport's retry.
func (s *Service) Submit(ctx context.Context, rc models.RequestContext, raw json.RawMessage) (models.Outcome, error) {
	var args SubmitArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return models.Outcome{}, fmt.Errorf("decode submit args: %w", err)
	}

	receipt, err := s.client.SubmitReturn(ctx, args.VRN, args.Return)
	switch {
	case errors.Is(err, ErrDuplicateSubmission):
		return models.Outcome{Status: models.OutcomeDuplicateSubmission, Body: map[string]any{
			"periodKey": args.Return.PeriodKey,
		}}, nil
	case errors.Is(err, ErrPeriodNotFound):
		return models.Outcome{Status: models.OutcomePeriodNotFound, Body: map[string]any{
			"periodKey": args.Return.PeriodKey,
		}}, nil
	case err != nil:
		return models.Outcome{}, fmt.Errorf("submit return: %w", err)
	}

	s.log.Info("vat return submitted",
		append(rc.Fields(), zap.String("period_key", args.Return.PeriodKey))...)
	return models.Outcome{Status: models.OutcomeSubmitted, Body: map[string]any{
		"periodKey":        args.Return.PeriodKey,
		"processingDate":   receipt.ProcessingDate.Format(time.RFC3339),
		"formBundleNumber": receipt.FormBundleNumber,
		"chargeRefNumber":  receipt.ChargeRefNumber,
	}}, nil
}

// ListObligations fetches reporting periods for the user's registration.
func (s *Service) ListObligations(ctx context.Context, rc models.RequestContext, raw json.RawMessage) (models.Outcome, error) {
	var args ObligationsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return models.Outcome{}, fmt.Errorf("decode obligations args: %w", err)
	}

	q := ObligationsQuery{Status: args.Status}
	if args.From != "" {
		t, err := time.Parse("2006-01-02", args.From)
		if err != nil {
			return models.Outcome{}, fmt.Errorf("parse from date: %w", err)
		}
		q.From = t
	}
	if args.To != "" {
		t, err := time.Parse("2006-01-02", args.To)
		if err != nil {
			return models.Outcome{}, fmt.Errorf("parse to date: %w", err)
		}
		q.To = t
	}

	obligations, err := s.client.Obligations(ctx, args.VRN, q)
	if err != nil {
		return models.Outcome{}, fmt.Errorf("list obligations: %w", err)
	}
	items := make([]any, 0, len(obligations))
	for _, o := range obligations {
		items = append(items, o)
	}
	return models.Outcome{Status: models.OutcomeObligations, Body: map[string]any{
		"obligations": items,
	}}, nil
}
