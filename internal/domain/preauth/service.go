package preauth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/schemehealth/claims/internal/platform/apperr"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

func newCode(t Type) string {
	prefix := "PA-B-"
	if t == TypeFFSTopUp {
		prefix = "PA-F-"
	}
	return prefix + ulid.Make().String()
}

// IssueBundlePA issues the bundle PA that accompanies a referral approval.
// An existing active bundle PA for the referral is returned instead of
// issuing a second one.
func (s *Service) IssueBundlePA(ctx context.Context, referralID uuid.UUID, bundleID int64, actor string) (*PACode, error) {
	existing, err := s.repo.ListActive(ctx, referralID, TypeBundle)
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		if p.ServiceBundleID != nil && *p.ServiceBundleID == bundleID {
			return p, nil
		}
	}

	p := &PACode{
		Code:            newCode(TypeBundle),
		Type:            TypeBundle,
		Status:          StatusActive,
		ReferralID:      referralID,
		ServiceBundleID: &bundleID,
		IssuedBy:        actor,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("pa_code", p.Code).Str("referral_id", referralID.String()).Str("actor", actor).Msg("bundle pa issued")
	return p, nil
}

func (s *Service) Issue(ctx context.Context, actor string, in IssueInput) (*PACode, error) {
	switch in.Type {
	case TypeBundle:
		if in.ServiceBundleID == nil {
			return nil, apperr.Field("service_bundle_id", "is required for BUNDLE codes")
		}
	case TypeFFSTopUp:
		if in.ServiceCode == nil || strings.TrimSpace(*in.ServiceCode) == "" {
			return nil, apperr.Field("service_code", "is required for FFS_TOP_UP codes")
		}
	default:
		return nil, apperr.Field("type", "must be one of: BUNDLE FFS_TOP_UP")
	}
	p := &PACode{
		Code:            newCode(in.Type),
		Type:            in.Type,
		Status:          StatusActive,
		ReferralID:      in.ReferralID,
		ServiceBundleID: in.ServiceBundleID,
		ServiceCode:     in.ServiceCode,
		Justification:   in.Justification,
		IssuedBy:        actor,
		ExpiresAt:       in.ExpiresAt,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*PACode, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*PACode, error) {
	return s.repo.ListByReferral(ctx, referralID)
}

// FindActiveFFS returns the referral's active FFS top-up code for
// serviceCode, or nil when none exists.
func (s *Service) FindActiveFFS(ctx context.Context, referralID uuid.UUID, serviceCode string) (*PACode, error) {
	codes, err := s.repo.ListActive(ctx, referralID, TypeFFSTopUp)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, p := range codes {
		if p.ServiceCode != nil && strings.EqualFold(*p.ServiceCode, serviceCode) && p.Usable(now) {
			return p, nil
		}
	}
	return nil, nil
}

// FindUnlinkedBundlePA returns the referral's active bundle PA that has no
// admission yet, or nil.
func (s *Service) FindUnlinkedBundlePA(ctx context.Context, referralID uuid.UUID) (*PACode, error) {
	codes, err := s.repo.ListActive(ctx, referralID, TypeBundle)
	if err != nil {
		return nil, err
	}
	for _, p := range codes {
		if p.AdmissionID == nil {
			return p, nil
		}
	}
	return nil, nil
}

func (s *Service) LinkAdmission(ctx context.Context, paID, admissionID uuid.UUID) error {
	return s.repo.LinkAdmission(ctx, paID, admissionID)
}

// Authorize loads each presented code and checks it may bill its line as
// type want on referralID. Failures are keyed by the offending code id.
func (s *Service) Authorize(ctx context.Context, referralID uuid.UUID, want Type, uses []Use) (map[string]string, error) {
	failures := make(map[string]string)
	now := s.now()
	for _, u := range uses {
		p, err := s.repo.GetByID(ctx, u.ID)
		if apperr.IsNotFound(err) {
			failures[u.ID.String()] = "does not exist"
			continue
		}
		if err != nil {
			return nil, err
		}
		if problem := p.Problem(referralID, want, u, now); problem != "" {
			failures[u.ID.String()] = problem
		}
	}
	return failures, nil
}
