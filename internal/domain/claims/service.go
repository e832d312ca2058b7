package claims

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/schemehealth/claims/internal/domain/admission"
	"github.com/schemehealth/claims/internal/domain/preauth"
	"github.com/schemehealth/claims/internal/domain/referral"
	"github.com/schemehealth/claims/internal/domain/tariff"
	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/db"
	"github.com/schemehealth/claims/internal/platform/events"
	"github.com/schemehealth/claims/internal/platform/lock"
)

type ReferralGate interface {
	ValidateUTN(ctx context.Context, referralID uuid.UUID) (*referral.UTNValidation, error)
	LockValid(ctx context.Context, referralID uuid.UUID) (*referral.Referral, error)
	MarkClaimSubmitted(ctx context.Context, referralID uuid.UUID) error
}

// AdmissionLookup resolves the admission a claim covers. GetByReferral
// returns nil when the referral has no admission.
type AdmissionLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*admission.Admission, error)
	GetByReferral(ctx context.Context, referralID uuid.UUID) (*admission.Admission, error)
}

type Catalog interface {
	GetBundle(ctx context.Context, id int64) (*tariff.ServiceBundle, error)
	GetComponent(ctx context.Context, id int64) (*tariff.BundleComponent, error)
}

type PAAuthorizer interface {
	Authorize(ctx context.Context, referralID uuid.UUID, want preauth.Type, uses []preauth.Use) (map[string]string, error)
	FindActiveFFS(ctx context.Context, referralID uuid.UUID, serviceCode string) (*preauth.PACode, error)
}

type Service struct {
	repo       Repository
	tx         db.Transactor
	referrals  ReferralGate
	admissions AdmissionLookup
	catalog    Catalog
	pa         PAAuthorizer
	locker     lock.Locker
	publisher  events.Publisher
	logger     zerolog.Logger
	now        func() time.Time
	numbers    func(time.Time) string
}

func NewService(repo Repository, tx db.Transactor, referrals ReferralGate, admissions AdmissionLookup,
	catalog Catalog, pa PAAuthorizer, locker lock.Locker, publisher events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		tx:         tx,
		referrals:  referrals,
		admissions: admissions,
		catalog:    catalog,
		pa:         pa,
		locker:     locker,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
		numbers:    newClaimNumber,
	}
}

// claimNumberAttempts bounds how often CreateClaim redraws a colliding
// claim number.
const claimNumberAttempts = 3

func newClaimNumber(now time.Time) string {
	return fmt.Sprintf("CLM-%d-%04d", now.Unix(), rand.Intn(10000))
}

func duplicateClaim(existing *Claim) error {
	if existing == nil {
		return apperr.Domain(apperr.CodeDuplicateClaim, "a claim already exists for this referral")
	}
	return apperr.Domain(apperr.CodeDuplicateClaim, "a claim already exists for this referral: "+existing.ClaimNumber).
		WithDetail("claim_number", existing.ClaimNumber).
		WithDetail("claim_id", existing.ID)
}

func bundleLine(claimID uuid.UUID, comp *tariff.BundleComponent, qty int, amount decimal.Decimal, paCodeID *uuid.UUID) *ClaimLine {
	compID, bundleID := comp.ID, comp.BundleID
	desc := comp.Description
	amount = amount.Round(2)
	return &ClaimLine{
		ClaimID:           claimID,
		TariffType:        TariffBundle,
		ReportingType:     ReportingInBundle,
		ServiceCode:       comp.ServiceCode,
		Description:       &desc,
		Quantity:          qty,
		UnitPrice:         amount.Div(decimal.NewFromInt(int64(qty))).Round(2),
		LineTotal:         amount,
		PACodeID:          paCodeID,
		BundleComponentID: &compID,
		BundleID:          &bundleID,
	}
}

// existingClaim returns the referral's claim, or nil when it has none.
func (s *Service) existingClaim(ctx context.Context, referralID uuid.UUID) (*Claim, error) {
	c, err := s.repo.GetByReferral(ctx, referralID)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	return c, err
}

// resolveAdmission returns the explicit admission after checking it belongs
// to the referral, or the referral's own admission when none is given.
func (s *Service) resolveAdmission(ctx context.Context, referralID uuid.UUID, admissionID *uuid.UUID) (*admission.Admission, error) {
	if admissionID == nil {
		return s.admissions.GetByReferral(ctx, referralID)
	}
	a, err := s.admissions.Get(ctx, *admissionID)
	if err != nil {
		return nil, err
	}
	if a.ReferralID != referralID {
		return nil, apperr.Domain(apperr.CodeAdmissionReferralMismatch, "admission "+a.AdmissionCode+" belongs to a different referral").
			WithDetail("admission_id", a.ID)
	}
	return a, nil
}

// CreateClaim aggregates bundle components and FFS line items into one
// submitted claim. Everything is checked before the transaction opens; the
// referral is then re-checked under its row lock so two concurrent
// submissions cannot both pass.
func (s *Service) CreateClaim(ctx context.Context, actor string, in CreateClaimInput) (*Claim, error) {
	v, err := s.referrals.ValidateUTN(ctx, in.ReferralID)
	if err != nil {
		return nil, err
	}
	if v.Referral == nil {
		return nil, apperr.NotFound("referral")
	}
	if !v.Valid {
		return nil, apperr.Domain(apperr.CodeInvalidReferralState, v.Message)
	}

	existing, err := s.existingClaim(ctx, in.ReferralID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, duplicateClaim(existing)
	}

	adm, err := s.resolveAdmission(ctx, in.ReferralID, in.AdmissionID)
	if err != nil {
		return nil, err
	}

	var lines []*ClaimLine
	var bundleUses, ffsUses []preauth.Use
	missing := map[string]string{}
	bundleAmount := decimal.Zero
	for i, bc := range in.BundleComponents {
		comp, err := s.catalog.GetComponent(ctx, bc.BundleComponentID)
		if apperr.IsNotFound(err) {
			missing[fmt.Sprintf("bundle_components[%d].bundle_component_id", i)] = "does not exist"
			continue
		}
		if err != nil {
			return nil, err
		}
		qty := bc.Quantity
		if qty == 0 {
			qty = 1
		}
		l := bundleLine(uuid.Nil, comp, qty, bc.ActualAmount, bc.PACodeID)
		lines = append(lines, l)
		bundleAmount = bundleAmount.Add(l.LineTotal)
		if bc.PACodeID != nil {
			bundleUses = append(bundleUses, preauth.Use{ID: *bc.PACodeID})
		}
	}
	if len(missing) > 0 {
		return nil, apperr.Validation(missing)
	}

	for _, li := range in.LineItems {
		if li.PACodeID != nil {
			ffsUses = append(ffsUses, preauth.Use{ID: *li.PACodeID, ServiceCode: li.ServiceCode})
		}
	}
	failures := map[string]string{}
	for want, uses := range map[preauth.Type][]preauth.Use{preauth.TypeBundle: bundleUses, preauth.TypeFFSTopUp: ffsUses} {
		if len(uses) == 0 {
			continue
		}
		found, err := s.pa.Authorize(ctx, in.ReferralID, want, uses)
		if err != nil {
			return nil, err
		}
		for id, msg := range found {
			failures[id] = msg
		}
	}
	if err := paProblem(failures); err != nil {
		return nil, err
	}

	reporting := ffsReportingType(adm != nil, len(lines) > 0)
	ffsAmount := decimal.Zero
	for _, li := range in.LineItems {
		l := &ClaimLine{
			TariffType:       TariffFFS,
			ReportingType:    reporting,
			ServiceCode:      li.ServiceCode,
			Description:      li.Description,
			Quantity:         li.Quantity,
			UnitPrice:        li.UnitPrice,
			LineTotal:        lineTotal(li.Quantity, li.UnitPrice),
			PACodeID:         li.PACodeID,
			ComplicationCode: li.ComplicationCode,
		}
		lines = append(lines, l)
		ffsAmount = ffsAmount.Add(l.LineTotal)
	}

	total := bundleAmount.Add(ffsAmount)
	if !total.IsPositive() {
		return nil, apperr.Domain(apperr.CodeEmptyClaim, "claim must bill a positive amount")
	}

	release, err := s.locker.Acquire(ctx, lock.ReferralKey(in.ReferralID))
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, apperr.Conflict(apperr.CodeOperationInProgress, "a claim for this referral is already being submitted")
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("referral_id", in.ReferralID.String()).Msg("release referral lock")
		}
	}()

	var c *Claim
	for attempt := 1; ; attempt++ {
		c, err = s.insertClaim(ctx, actor, in.ReferralID, adm, lines, bundleAmount, ffsAmount, total)
		if !errors.Is(err, ErrClaimNumberTaken) {
			break
		}
		if attempt == claimNumberAttempts {
			return nil, apperr.Conflict(apperr.CodeOperationInProgress, "could not allocate a unique claim number, retry the submission")
		}
		s.logger.Debug().Str("referral_id", in.ReferralID.String()).Int("attempt", attempt).Msg("claim number collision, redrawing")
	}
	if errors.Is(err, ErrDuplicateReferral) || apperr.CodeOf(err) == apperr.CodeDuplicateClaim {
		existing, lookupErr := s.existingClaim(ctx, in.ReferralID)
		if lookupErr != nil {
			return nil, err
		}
		return nil, duplicateClaim(existing)
	}
	if err != nil {
		return nil, err
	}

	c.Lines = lines
	s.logger.Info().
		Str("claim_id", c.ID.String()).
		Str("claim_number", c.ClaimNumber).
		Str("referral_id", c.ReferralID.String()).
		Str("total", c.TotalAmountClaimed.StringFixed(2)).
		Str("actor", actor).
		Msg("claim submitted")
	events.PublishAfterCommit(ctx, s.publisher, s.logger, events.New(events.ClaimSubmitted, db.SchemeFromContext(ctx), c))
	return c, nil
}

// insertClaim writes the claim, its lines, the referral flag and the first
// history row in one transaction, re-checking the referral under its row
// lock.
func (s *Service) insertClaim(ctx context.Context, actor string, referralID uuid.UUID, adm *admission.Admission,
	lines []*ClaimLine, bundleAmount, ffsAmount, total decimal.Decimal) (*Claim, error) {
	var c *Claim
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ref, err := s.referrals.LockValid(ctx, referralID)
		if err != nil {
			return err
		}
		existing, err := s.existingClaim(ctx, referralID)
		if err != nil {
			return err
		}
		if existing != nil {
			return duplicateClaim(existing)
		}

		now := s.now()
		c = &Claim{
			ClaimNumber:        s.numbers(now),
			ReferralID:         ref.ID,
			EnrolleeID:         ref.EnrolleeID,
			FacilityID:         ref.ReceivingFacilityID,
			UTN:                *ref.UTN,
			BundleAmount:       bundleAmount,
			FFSAmount:          ffsAmount,
			TotalAmountClaimed: total,
			Status:             StatusSubmitted,
			PaymentStatus:      PaymentNotProcessed,
			SubmittedAt:        &now,
			SubmittedBy:        &actor,
		}
		if adm != nil {
			c.AdmissionID = &adm.ID
			c.FacilityID = adm.FacilityID
		}
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		for _, l := range lines {
			l.ClaimID = c.ID
			if err := s.repo.AddLine(ctx, l); err != nil {
				return err
			}
		}
		if err := s.referrals.MarkClaimSubmitted(ctx, ref.ID); err != nil {
			return err
		}
		return s.repo.AddHistory(ctx, &StatusHistory{
			ClaimID:   c.ID,
			NewStatus: StatusSubmitted,
			ChangedBy: actor,
			ChangedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a claim with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Lines, err = s.repo.ListLines(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Claim, int, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*StatusHistory, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, id)
}
