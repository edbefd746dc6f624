package bundles

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mtd-vat-service/internal/coordinator"
	"mtd-vat-service/internal/models"
)

// Service implements bundle grant and delete as coordinator processors.
// Both are replace-style writes, safe to re-run on duplicate delivery.
type Service struct {
	catalog Catalog
	store   GrantStore
	log     *zap.Logger
}

func NewService(catalog Catalog, store GrantStore, log *zap.Logger) *Service {
	return &Service{catalog: catalog, store: store, log: log}
}

// GrantArgs is the operation payload for bundle:grant and bundle:delete.
type GrantArgs struct {
	BundleID  string `json:"bundleId"`
	Qualifier string `json:"qualifier,omitempty"`
}

// Register binds the bundle operations into the registry.
func (s *Service) Register(reg *coordinator.Registry) {
	reg.Register("bundle:grant", s.Grant)
	reg.Register("bundle:delete", s.Delete)
}

// Grant allocates a bundle to the requesting user.
func (s *Service) Grant(ctx context.Context, rc models.RequestContext, raw json.RawMessage) (models.Outcome, error) {
	var args GrantArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return models.Outcome{}, fmt.Errorf("decode grant args: %w", err)
	}

	bundle, ok := s.catalog[args.BundleID]
	if !ok {
		return models.Outcome{Status: models.OutcomeBundleNotFound, Body: map[string]any{
			"bundleId": args.BundleID,
		}}, nil
	}
	if bundle.Qualifier != "" && args.Qualifier != bundle.Qualifier {
		return models.Outcome{Status: models.OutcomeQualifierMismatch, Body: map[string]any{
			"bundleId": args.BundleID,
		}}, nil
	}

	held, err := s.store.ListUser(ctx, rc.UserKey)
	if err != nil {
		return models.Outcome{}, err
	}
	for _, g := range held {
		if g.BundleID == args.BundleID {
			return models.Outcome{Status: models.OutcomeAlreadyGranted, Body: map[string]any{
				"bundleId":  g.BundleID,
				"grantedAt": g.GrantedAt.UTC().Format(time.RFC3339),
			}}, nil
		}
	}

	if bundle.Cap > 0 {
		holders, err := s.store.CountHolders(ctx, args.BundleID)
		if err != nil {
			return models.Outcome{}, err
		}
		if holders >= bundle.Cap {
			return models.Outcome{Status: models.OutcomeCapReached, Body: map[string]any{
				"bundleId": args.BundleID,
				"cap":      bundle.Cap,
			}}, nil
		}
	}

	grant := Grant{
		UserKey:   rc.UserKey,
		BundleID:  args.BundleID,
		Qualifier: args.Qualifier,
		GrantedAt: time.Now().UTC(),
	}
	if err := s.store.Upsert(ctx, grant); err != nil {
		return models.Outcome{}, err
	}
	s.log.Info("bundle granted", append(rc.Fields(), zap.String("bundle_id", args.BundleID))...)
	return models.Outcome{Status: models.OutcomeGranted, Body: map[string]any{
		"bundleId":  grant.BundleID,
		"granted":   true,
		"grantedAt": grant.GrantedAt.Format(time.RFC3339),
	}}, nil
}

// Delete removes a user's hold on a bundle.
func (s *Service) Delete(ctx context.Context, rc models.RequestContext, raw json.RawMessage) (models.Outcome, error) {
	var args GrantArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return models.Outcome{}, fmt.Errorf("decode delete args: %w", err)
	}

	removed, err := s.store.Delete(ctx, rc.UserKey, args.BundleID)
	if err != nil {
		return models.Outcome{}, err
	}
	if !removed {
		return models.Outcome{Status: models.OutcomeBundleNotFound, Body: map[string]any{
			"bundleId": args.BundleID,
		}}, nil
	}
	s.log.Info("bundle deleted", append(rc.Fields(), zap.String("bundle_id", args.BundleID))...)
	return models.Outcome{Status: models.OutcomeDeleted, Body: map[string]any{
		"bundleId": args.BundleID,
	}}, nil
}

// List returns the user's current grants. Reads bypass the async protocol.
func (s *Service) List(ctx context.Context, userKey string) ([]Grant, error) {
	return s.store.ListUser(ctx, userKey)
}
