package bundles

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"mtd-vat-service/internal/models"
)

func testService() (*Service, *MemoryGrants) {
	catalog := Catalog{
		"test":       {ID: "test"},
		"single-use": {ID: "single-use", Cap: 1},
		"mtd-vat":    {ID: "mtd-vat", Qualifier: "vat"},
	}
	grants := NewMemoryGrants()
	return NewService(catalog, grants, zap.NewNop()), grants
}

func rc(userKey string) models.RequestContext {
	return models.RequestContext{UserKey: userKey, RequestID: "req-1"}
}

func grantArgs(t *testing.T, args GrantArgs) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return raw
}

func TestGrantUnknownBundle(t *testing.T) {
	svc, _ := testService()
	out, err := svc.Grant(context.Background(), rc("u1"), grantArgs(t, GrantArgs{BundleID: "nope"}))
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if out.Status != models.OutcomeBundleNotFound {
		t.Fatalf("want bundle_not_found got %s", out.Status)
	}
}

func TestGrantQualifierRequired(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	out, err := svc.Grant(ctx, rc("u1"), grantArgs(t, GrantArgs{BundleID: "mtd-vat"}))
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if out.Status != models.OutcomeQualifierMismatch {
		t.Fatalf("want qualifier_mismatch got %s", out.Status)
	}

	out, err = svc.Grant(ctx, rc("u1"), grantArgs(t, GrantArgs{BundleID: "mtd-vat", Qualifier: "vat"}))
	if err != nil {
		t.Fatalf("grant with qualifier: %v", err)
	}
	if out.Status != models.OutcomeGranted {
		t.Fatalf("want granted got %s", out.Status)
	}
}

func TestGrantIsIdempotent(t *testing.T) {
	svc, grants := testService()
	ctx := context.Background()

	out, err := svc.Grant(ctx, rc("u1"), grantArgs(t, GrantArgs{BundleID: "test"}))
	if err != nil || out.Status != models.OutcomeGranted {
		t.Fatalf("first grant: %v %s", err, out.Status)
	}

	out, err = svc.Grant(ctx, rc("u1"), grantArgs(t, GrantArgs{BundleID: "test"}))
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if out.Status != models.OutcomeAlreadyGranted {
		t.Fatalf("want already_granted got %s", out.Status)
	}

	held, err := grants.ListUser(ctx, "u1")
	if err != nil || len(held) != 1 {
		t.Fatalf("want exactly one grant, got %d (err=%v)", len(held), err)
	}
}

func TestGrantCapCountsDistinctHolders(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if out, err := svc.Grant(ctx, rc("u1"), grantArgs(t, GrantArgs{BundleID: "single-use"})); err != nil || out.Status != models.OutcomeGranted {
		t.Fatalf("seed grant: %v %s", err, out.Status)
	}

	// Re-granting to the same holder does not consume the cap.
	if out, _ := svc.Grant(ctx, rc("u1"), grantArgs(t, GrantArgs{BundleID: "single-use"})); out.Status != models.OutcomeAlreadyGranted {
		t.Fatalf("re-grant: want already_granted got %s", out.Status)
	}

	out, err := svc.Grant(ctx, rc("u2"), grantArgs(t, GrantArgs{BundleID: "single-use"}))
	if err != nil {
		t.Fatalf("second holder: %v", err)
	}
	if out.Status != models.OutcomeCapReached {
		t.Fatalf("want cap_reached got %s", out.Status)
	}
	if got, _ := out.Body["cap"].(int); got != 1 {
		t.Fatalf("body cap = %v", out.Body["cap"])
	}
}

func TestDeleteGrant(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if out, _ := svc.Delete(ctx, rc("u1"), grantArgs(t, GrantArgs{BundleID: "test"})); out.Status != models.OutcomeBundleNotFound {
		t.Fatalf("delete missing: want bundle_not_found got %s", out.Status)
	}

	if _, err := svc.Grant(ctx, rc("u1"), grantArgs(t, GrantArgs{BundleID: "test"})); err != nil {
		t.Fatalf("grant: %v", err)
	}
	out, err := svc.Delete(ctx, rc("u1"), grantArgs(t, GrantArgs{BundleID: "test"}))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if out.Status != models.OutcomeDeleted {
		t.Fatalf("want deleted got %s", out.Status)
	}

	held, _ := svc.List(ctx, "u1")
	if len(held) != 0 {
		t.Fatalf("grant survived delete: %+v", held)
	}
}
