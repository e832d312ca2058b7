package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/schemehealth/claims/internal/domain/preauth"
	"github.com/schemehealth/claims/internal/domain/referral"
	"github.com/schemehealth/claims/internal/domain/tariff"
	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/db"
	"github.com/schemehealth/claims/internal/platform/events"
)

// ReferralGate validates the referral an admission is raised against.
type ReferralGate interface {
	ValidateUTN(ctx context.Context, referralID uuid.UUID) (*referral.UTNValidation, error)
	LockValid(ctx context.Context, referralID uuid.UUID) (*referral.Referral, error)
}

type BundleMatcher interface {
	GetBundle(ctx context.Context, id int64) (*tariff.ServiceBundle, error)
	MatchDiagnosis(ctx context.Context, diagnosis string) (*tariff.ServiceBundle, error)
}

type BundlePALinker interface {
	FindUnlinkedBundlePA(ctx context.Context, referralID uuid.UUID) (*preauth.PACode, error)
	LinkAdmission(ctx context.Context, paID, admissionID uuid.UUID) error
}

type Service struct {
	repo      Repository
	tx        db.Transactor
	referrals ReferralGate
	bundles   BundleMatcher
	pa        BundlePALinker
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, tx db.Transactor, referrals ReferralGate, bundles BundleMatcher,
	pa BundlePALinker, publisher events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		referrals: referrals,
		bundles:   bundles,
		pa:        pa,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// newAdmissionCode returns ADM-YYYYMMDD-XXXX where XXXX is drawn from the
// random part of a ULID.
func newAdmissionCode(day time.Time) string {
	id := ulid.Make().String()
	return "ADM-" + day.UTC().Format("20060102") + "-" + id[len(id)-4:]
}

// CreateAdmission opens an admission against a referral whose UTN is valid.
// The referral is re-checked under its row lock so the check and the insert
// see the same state.
func (s *Service) CreateAdmission(ctx context.Context, referralID uuid.UUID, actor string, in CreateInput) (*Admission, error) {
	v, err := s.referrals.ValidateUTN(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if v.Referral == nil {
		return nil, apperr.NotFound("referral")
	}
	if !v.Valid {
		return nil, apperr.Domain(apperr.CodeInvalidReferralState, v.Message)
	}

	now := s.now()
	admittedAt := now
	if in.AdmissionDate != nil {
		admittedAt = *in.AdmissionDate
	}
	if admittedAt.After(now.Add(time.Hour)) {
		return nil, apperr.Field("admission_date", "must not be in the future")
	}

	var a *Admission
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ref, err := s.referrals.LockValid(ctx, referralID)
		if err != nil {
			return err
		}

		existing, err := s.repo.GetByReferral(ctx, referralID)
		if err != nil && !apperr.IsNotFound(err) {
			return err
		}
		if existing != nil {
			return apperr.Domain(apperr.CodeAdmissionExists, "an admission already exists for this referral").
				WithDetail("admission_id", existing.ID).
				WithDetail("admission_code", existing.AdmissionCode)
		}

		bundleID, err := s.resolveBundle(ctx, ref, in.PrincipalDiagnosis)
		if err != nil {
			return err
		}

		facilityID := ref.ReceivingFacilityID
		if in.FacilityID != nil {
			facilityID = *in.FacilityID
		}
		a = &Admission{
			AdmissionCode:        newAdmissionCode(admittedAt),
			ReferralID:           ref.ID,
			EnrolleeID:           ref.EnrolleeID,
			FacilityID:           facilityID,
			BundleID:             bundleID,
			PrincipalDiagnosis:   tariff.NormalizeICD10(in.PrincipalDiagnosis),
			DiagnosisDescription: in.DiagnosisDescription,
			AdmissionDate:        admittedAt,
			Status:               StatusActive,
			WardType:             in.WardType,
			AdmittedBy:           actor,
		}
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}

		pa, err := s.pa.FindUnlinkedBundlePA(ctx, ref.ID)
		if err != nil {
			return err
		}
		if pa != nil {
			return s.pa.LinkAdmission(ctx, pa.ID, a.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.LengthOfStayDays = LengthOfStay(a, now)
	s.logger.Info().Str("admission_id", a.ID.String()).Str("referral_id", referralID.String()).Str("actor", actor).Msg("admission created")
	events.PublishAfterCommit(ctx, s.publisher, s.logger, events.New(events.AdmissionCreated, db.SchemeFromContext(ctx), a))
	return a, nil
}

// resolveBundle prefers the referral's pre-selected bundle when it is still
// active and falls back to matching the principal diagnosis.
func (s *Service) resolveBundle(ctx context.Context, ref *referral.Referral, diagnosis string) (*int64, error) {
	if ref.ServiceBundleID != nil {
		b, err := s.bundles.GetBundle(ctx, *ref.ServiceBundleID)
		if err != nil && !apperr.IsNotFound(err) {
			return nil, err
		}
		if b != nil && b.IsActive {
			return &b.ID, nil
		}
	}
	b, err := s.bundles.MatchDiagnosis(ctx, diagnosis)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	return &b.ID, nil
}

// DischargePatient closes an active admission. Ward days default to the
// length of stay.
func (s *Service) DischargePatient(ctx context.Context, admissionID uuid.UUID, actor string, in DischargeInput) (*Admission, error) {
	var a *Admission
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.LockForUpdate(ctx, admissionID)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return apperr.Domain(apperr.CodeAlreadyDischarged, "admission "+a.AdmissionCode+" is already discharged")
		}

		dischargedAt := s.now()
		if in.DischargeDate != nil {
			dischargedAt = *in.DischargeDate
		}
		if dischargedAt.Before(a.AdmissionDate) {
			return apperr.Field("discharge_date", "must not precede the admission date")
		}

		wardDays := stayDays(a.AdmissionDate, dischargedAt)
		if in.WardDays != nil {
			wardDays = *in.WardDays
		}

		a.Status = StatusDischarged
		a.DischargeDate = &dischargedAt
		a.DischargeSummary = in.DischargeSummary
		a.WardDays = &wardDays
		a.DischargedBy = &actor
		return s.repo.Discharge(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	a.LengthOfStayDays = LengthOfStay(a, s.now())
	s.logger.Info().Str("admission_id", a.ID.String()).Str("actor", actor).Int("ward_days", *a.WardDays).Msg("patient discharged")
	events.PublishAfterCommit(ctx, s.publisher, s.logger, events.New(events.PatientDischarged, db.SchemeFromContext(ctx), a))
	return a, nil
}

// GetActiveAdmission returns the enrollee's most recent active admission,
// or nil when there is none.
func (s *Service) GetActiveAdmission(ctx context.Context, enrolleeID uuid.UUID) (*Admission, error) {
	a, err := s.repo.GetActiveByEnrollee(ctx, enrolleeID)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.LengthOfStayDays = LengthOfStay(a, s.now())
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.LengthOfStayDays = LengthOfStay(a, s.now())
	return a, nil
}

// GetByReferral returns the referral's admission, or nil when it has none.
func (s *Service) GetByReferral(ctx context.Context, referralID uuid.UUID) (*Admission, error) {
	a, err := s.repo.GetByReferral(ctx, referralID)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	return a, err
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Admission, int, error) {
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, a := range items {
		a.LengthOfStayDays = LengthOfStay(a, now)
	}
	return items, total, nil
}
