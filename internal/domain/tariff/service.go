package tariff

import (
	"context"
	"strings"

	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/db"
)

type Service struct {
	repo Repository
	tx   db.Transactor
}

func NewService(repo Repository, tx db.Transactor) *Service {
	return &Service{repo: repo, tx: tx}
}

// GetBundle returns the bundle with its components.
func (s *Service) GetBundle(ctx context.Context, id int64) (*ServiceBundle, error) {
	b, err := s.repo.GetBundle(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Components, err = s.repo.ListComponents(ctx, id); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) ListBundles(ctx context.Context, activeOnly bool) ([]*ServiceBundle, error) {
	return s.repo.ListBundles(ctx, activeOnly)
}

func (s *Service) GetComponent(ctx context.Context, id int64) (*BundleComponent, error) {
	return s.repo.GetComponent(ctx, id)
}

// MatchDiagnosis returns the active bundle for a principal diagnosis, or nil.
func (s *Service) MatchDiagnosis(ctx context.Context, diagnosis string) (*ServiceBundle, error) {
	bundles, err := s.repo.ListBundles(ctx, true)
	if err != nil {
		return nil, err
	}
	return MatchBundle(diagnosis, bundles), nil
}

// CreateBundle adds a bundle and its components to the catalog. Used by the
// seed command; the catalog has no public write endpoint.
func (s *Service) CreateBundle(ctx context.Context, in CreateBundleInput) (*ServiceBundle, error) {
	if strings.TrimSpace(in.DiagnosisICD10) == "" {
		return nil, apperr.Field("diagnosis_icd10", "is required")
	}
	b := &ServiceBundle{
		Code:           in.Code,
		Name:           in.Name,
		DiagnosisICD10: NormalizeICD10(in.DiagnosisICD10),
		FixedPrice:     in.FixedPrice,
		IsActive:       true,
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateBundle(ctx, b); err != nil {
			return err
		}
		for _, ci := range in.Components {
			maxQty := ci.MaxQuantity
			if maxQty <= 0 {
				maxQty = 1
			}
			c := &BundleComponent{
				BundleID:    b.ID,
				ServiceCode: ci.ServiceCode,
				Description: ci.Description,
				MaxQuantity: maxQty,
				UnitPrice:   ci.UnitPrice,
			}
			if err := s.repo.AddComponent(ctx, c); err != nil {
				return err
			}
			b.Components = append(b.Components, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
