package referral

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/schemehealth/claims/internal/domain/preauth"
	"github.com/schemehealth/claims/internal/domain/tariff"
	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/db"
)

// DefaultValidityMonths is how long an approved referral stays usable when
// no expiry was set at intake.
const DefaultValidityMonths = 3

type BundleLookup interface {
	GetBundle(ctx context.Context, id int64) (*tariff.ServiceBundle, error)
}

type BundlePAIssuer interface {
	IssueBundlePA(ctx context.Context, referralID uuid.UUID, bundleID int64, actor string) (*preauth.PACode, error)
}

type Service struct {
	repo           Repository
	tx             db.Transactor
	bundles        BundleLookup
	pa             BundlePAIssuer
	logger         zerolog.Logger
	validityMonths int
	now            func() time.Time
}

func NewService(repo Repository, tx db.Transactor, bundles BundleLookup, pa BundlePAIssuer, logger zerolog.Logger) *Service {
	return &Service{
		repo:           repo,
		tx:             tx,
		bundles:        bundles,
		pa:             pa,
		logger:         logger,
		validityMonths: DefaultValidityMonths,
		now:            time.Now,
	}
}

// SetValidityMonths overrides the default referral validity window.
func (s *Service) SetValidityMonths(months int) {
	if months > 0 {
		s.validityMonths = months
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.repo.GetByID(ctx, id)
}

// ValidateUTN reports whether referralID may be admitted or claimed against.
// It has no side effects. A missing referral is an invalid result, not an
// error.
func (s *Service) ValidateUTN(ctx context.Context, referralID uuid.UUID) (*UTNValidation, error) {
	r, err := s.repo.GetByID(ctx, referralID)
	if apperr.IsNotFound(err) {
		r, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	v := Evaluate(r, s.now())
	return &v, nil
}

// LockValid takes the row lock on referralID inside the caller's transaction
// and re-checks its UTN under that lock.
func (s *Service) LockValid(ctx context.Context, referralID uuid.UUID) (*Referral, error) {
	r, err := s.repo.LockForUpdate(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if v := Evaluate(r, s.now()); !v.Valid {
		return nil, apperr.Domain(apperr.CodeInvalidReferralState, v.Message)
	}
	return r, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Referral, error) {
	r := &Referral{
		ReferralCode:        in.ReferralCode,
		EnrolleeID:          in.EnrolleeID,
		ReferringFacilityID: in.ReferringFacilityID,
		ReceivingFacilityID: in.ReceivingFacilityID,
		Status:              StatusPending,
		ServiceBundleID:     in.ServiceBundleID,
	}
	if r.ReferralCode == "" {
		r.ReferralCode = "REF-" + ulid.Make().String()
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Approve moves a pending referral to approved, assigns its UTN and expiry
// and, when a bundle is selected, issues the bundle PA in the same
// transaction.
func (s *Service) Approve(ctx context.Context, referralID uuid.UUID, actor string, in ApproveInput) (*ApprovalResult, error) {
	var result ApprovalResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.LockForUpdate(ctx, referralID)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return apperr.Domain(apperr.CodeInvalidReferralState, "referral is "+string(r.Status)+", expected pending")
		}

		if in.ServiceBundleID != nil {
			b, err := s.bundles.GetBundle(ctx, *in.ServiceBundleID)
			if apperr.IsNotFound(err) || (err == nil && !b.IsActive) {
				return apperr.Field("service_bundle_id", "must reference an active bundle")
			}
			if err != nil {
				return err
			}
			r.ServiceBundleID = in.ServiceBundleID
		}

		now := s.now()
		r.Status = StatusApproved
		r.ApprovedBy = &actor
		r.ApprovedAt = &now
		if r.UTN == nil {
			utn := "UTN-" + ulid.Make().String()
			r.UTN = &utn
		}
		if r.ValidUntil == nil {
			until := r.CreatedAt.AddDate(0, s.validityMonths, 0)
			r.ValidUntil = &until
		}
		if err := s.repo.Update(ctx, r); err != nil {
			return err
		}

		if r.ServiceBundleID != nil {
			pa, err := s.pa.IssueBundlePA(ctx, r.ID, *r.ServiceBundleID, actor)
			if err != nil {
				return err
			}
			result.BundlePA = pa
		}
		result.Referral = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("referral_id", referralID.String()).Str("actor", actor).Msg("referral approved")
	return &result, nil
}

func (s *Service) Deny(ctx context.Context, referralID uuid.UUID, actor, reason string) (*Referral, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Field("reason", "is required")
	}
	var out *Referral
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.LockForUpdate(ctx, referralID)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return apperr.Domain(apperr.CodeInvalidReferralState, "referral is "+string(r.Status)+", expected pending")
		}
		now := s.now()
		r.Status = StatusDenied
		r.DeniedBy = &actor
		r.DeniedAt = &now
		r.DenialReason = &reason
		if err := s.repo.Update(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("referral_id", referralID.String()).Str("actor", actor).Msg("referral denied")
	return out, nil
}

// ConfirmUTN records that the receiving facility presented the referral's
// UTN. Confirming an already validated UTN is a no-op.
func (s *Service) ConfirmUTN(ctx context.Context, referralID uuid.UUID, actor, utn string) (*Referral, error) {
	utn = strings.TrimSpace(utn)
	if utn == "" {
		return nil, apperr.Field("utn", "is required")
	}
	var out *Referral
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.LockForUpdate(ctx, referralID)
		if err != nil {
			return err
		}
		now := s.now()
		switch {
		case r.Status != StatusApproved:
			return apperr.Domain(apperr.CodeInvalidReferralState, "referral is "+string(r.Status)+", not approved")
		case r.UTN == nil || !strings.EqualFold(*r.UTN, utn):
			return apperr.Domain(apperr.CodeInvalidReferralState, "presented UTN does not match the referral")
		case r.ValidUntil != nil && !r.ValidUntil.After(now):
			return apperr.Domain(apperr.CodeInvalidReferralState, "referral expired on "+r.ValidUntil.Format("2006-01-02"))
		}
		if !r.UTNValidated {
			r.UTNValidated = true
			r.UTNValidatedAt = &now
			r.UTNValidatedBy = &actor
			if err := s.repo.Update(ctx, r); err != nil {
				return err
			}
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkClaimSubmitted flips the referral's claim flag. It must run inside the
// claim's transaction; a second flip means a claim already exists.
func (s *Service) MarkClaimSubmitted(ctx context.Context, referralID uuid.UUID) error {
	flipped, err := s.repo.MarkClaimSubmitted(ctx, referralID)
	if err != nil {
		return err
	}
	if !flipped {
		return apperr.Domain(apperr.CodeDuplicateClaim, "a claim has already been submitted for this referral")
	}
	return nil
}
