package vat

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"mtd-vat-service/internal/models"
)

func submitRaw(t *testing.T, args SubmitArgs) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return raw
}

func TestSubmitReturnsReceipt(t *testing.T) {
	svc := NewService(NewStubClient(), zap.NewNop())
	rc := models.RequestContext{UserKey: "u1", RequestID: "req-1"}

	out, err := svc.Submit(context.Background(), rc, submitRaw(t, SubmitArgs{
		VRN:    "123456789",
		Return: Return{PeriodKey: "24A1", TotalVATDue: 100.50, Finalised: true},
	}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Status != models.OutcomeSubmitted {
		t.Fatalf("want submitted got %s", out.Status)
	}
	if fb, _ := out.Body["formBundleNumber"].(string); fb == "" {
		t.Fatalf("receipt missing form bundle number: %+v", out.Body)
	}
}

func TestSubmitDuplicatePeriodIsDecidedOutcome(t *testing.T) {
	svc := NewService(NewStubClient(), zap.NewNop())
	rc := models.RequestContext{UserKey: "u1", RequestID: "req-1"}
	args := submitRaw(t, SubmitArgs{
		VRN:    "123456789",
		Return: Return{PeriodKey: "24A1", Finalised: true},
	})

	if _, err := svc.Submit(context.Background(), rc, args); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	out, err := svc.Submit(context.Background(), rc, args)
	if err != nil {
		t.Fatalf("duplicate must not be an error: %v", err)
	}
	if out.Status != models.OutcomeDuplicateSubmission {
		t.Fatalf("want duplicate_submission got %s", out.Status)
	}
}

func TestSubmitUnknownPeriod(t *testing.T) {
	svc := NewService(NewStubClient(), zap.NewNop())
	rc := models.RequestContext{UserKey: "u1", RequestID: "req-1"}

	out, err := svc.Submit(context.Background(), rc, submitRaw(t, SubmitArgs{
		VRN:    "123456789",
		Return: Return{PeriodKey: "99Z9", Finalised: true},
	}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Status != models.OutcomePeriodNotFound {
		t.Fatalf("want period_not_found got %s", out.Status)
	}
}

func TestObligationsReflectSubmission(t *testing.T) {
	client := NewStubClient()
	svc := NewService(client, zap.NewNop())
	rc := models.RequestContext{UserKey: "u1", RequestID: "req-1"}
	ctx := context.Background()

	out, err := svc.ListObligations(ctx, rc, json.RawMessage(`{"vrn":"123456789","status":"O"}`))
	if err != nil {
		t.Fatalf("obligations: %v", err)
	}
	open, _ := out.Body["obligations"].([]any)
	if len(open) != 1 {
		t.Fatalf("want one open obligation, got %d", len(open))
	}

	if _, err := svc.Submit(ctx, rc, submitRaw(t, SubmitArgs{
		VRN:    "123456789",
		Return: Return{PeriodKey: "24A1", Finalised: true},
	})); err != nil {
		t.Fatalf("submit: %v", err)
	}

	out, err = svc.ListObligations(ctx, rc, json.RawMessage(`{"vrn":"123456789","status":"O"}`))
	if err != nil {
		t.Fatalf("obligations after submit: %v", err)
	}
	open, _ = out.Body["obligations"].([]any)
	if len(open) != 0 {
		t.Fatalf("period still open after submission: %+v", open)
	}

	out, err = svc.ListObligations(ctx, rc, json.RawMessage(`{"vrn":"123456789","status":"F"}`))
	if err != nil {
		t.Fatalf("fulfilled lookup: %v", err)
	}
	fulfilled, _ := out.Body["obligations"].([]any)
	if len(fulfilled) != 1 {
		t.Fatalf("want one fulfilled obligation, got %d", len(fulfilled))
	}
}

func TestObligationsRejectsBadDates(t *testing.T) {
	svc := NewService(NewStubClient(), zap.NewNop())
	rc := models.RequestContext{UserKey: "u1", RequestID: "req-1"}

	if _, err := svc.ListObligations(context.Background(), rc, json.RawMessage(`{"vrn":"123456789","from":"not-a-date"}`)); err == nil {
		t.Fatal("want parse error for malformed from date")
	}
}
