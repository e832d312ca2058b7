package claims

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/schemehealth/claims/internal/domain/preauth"
	"github.com/schemehealth/claims/internal/platform/apperr"
)

// Classification partitions a claim's lines by tariff.
type Classification struct {
	Bundle []*ClaimLine `json:"bundle"`
	FFS    []*ClaimLine `json:"ffs"`
}

func ClassifyTreatments(lines []*ClaimLine) Classification {
	out := Classification{Bundle: []*ClaimLine{}, FFS: []*ClaimLine{}}
	for _, l := range lines {
		if l.TariffType == TariffBundle {
			out.Bundle = append(out.Bundle, l)
		} else {
			out.FFS = append(out.FFS, l)
		}
	}
	return out
}

// Totals sums bundle and FFS line totals.
func (c Classification) Totals() (bundle, ffs decimal.Decimal) {
	for _, l := range c.Bundle {
		bundle = bundle.Add(l.LineTotal)
	}
	for _, l := range c.FFS {
		ffs = ffs.Add(l.LineTotal)
	}
	return bundle, ffs
}

// ffsReportingType decides how an FFS line is reported: as a top-up when the
// claim covers an admission or a bundle, otherwise standalone.
func ffsReportingType(hasAdmission, hasBundle bool) ReportingType {
	if hasAdmission || hasBundle {
		return ReportingFFSTopUp
	}
	return ReportingFFSStandalone
}

// lineTotal returns quantity × unit price rounded to cents.
func lineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

func paProblem(failures map[string]string) error {
	if len(failures) == 0 {
		return nil
	}
	return apperr.Domain(apperr.CodeUnauthorizedPA, "one or more PA codes cannot authorize this claim").
		WithDetail("pa_codes", failures)
}

// editable locks the claim and checks it still accepts treatment lines.
func (s *Service) editable(ctx context.Context, claimID uuid.UUID) (*Claim, error) {
	c, err := s.repo.LockForUpdate(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, apperr.Domain(apperr.CodeInvalidTransition, "claim "+c.ClaimNumber+" is "+string(c.Status)+" and no longer accepts treatments")
	}
	if c.PaymentBatchID != nil {
		return nil, apperr.Domain(apperr.CodeClaimBatched, "claim "+c.ClaimNumber+" is in a payment batch")
	}
	return c, nil
}

// recompute rewrites the claim's amounts from its lines.
func (s *Service) recompute(ctx context.Context, c *Claim) error {
	lines, err := s.repo.ListLines(ctx, c.ID)
	if err != nil {
		return err
	}
	bundle, ffs := ClassifyTreatments(lines).Totals()
	if err := s.repo.UpdateAmounts(ctx, c.ID, bundle, ffs); err != nil {
		return err
	}
	c.BundleAmount, c.FFSAmount, c.TotalAmountClaimed = bundle, ffs, bundle.Add(ffs)
	c.Lines = lines
	return nil
}

// AddBundleTreatment bills one bundle component under a BUNDLE PA code.
func (s *Service) AddBundleTreatment(ctx context.Context, claimID uuid.UUID, actor string, paCodeID uuid.UUID, in BundleTreatmentInput) (*Claim, error) {
	comp, err := s.catalog.GetComponent(ctx, in.BundleComponentID)
	if apperr.IsNotFound(err) {
		return nil, apperr.Field("bundle_component_id", "does not exist")
	}
	if err != nil {
		return nil, err
	}
	qty := in.Quantity
	if qty == 0 {
		qty = 1
	}

	var c *Claim
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.editable(ctx, claimID)
		if err != nil {
			return err
		}
		failures, err := s.pa.Authorize(ctx, c.ReferralID, preauth.TypeBundle, []preauth.Use{{ID: paCodeID}})
		if err != nil {
			return err
		}
		if err := paProblem(failures); err != nil {
			return err
		}
		if err := s.repo.AddLine(ctx, bundleLine(c.ID, comp, qty, in.ActualAmount, &paCodeID)); err != nil {
			return err
		}
		return s.recompute(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("claim_id", c.ID.String()).Int64("bundle_component_id", comp.ID).Str("actor", actor).Msg("bundle treatment added")
	return c, nil
}

// AddFFSTreatment bills a fee-for-service line under an FFS_TOP_UP PA code.
// Without an explicit code the referral's active FFS codes are searched for
// the service.
func (s *Service) AddFFSTreatment(ctx context.Context, claimID uuid.UUID, actor string, paCodeID *uuid.UUID, in FFSTreatmentInput) (*Claim, error) {
	var c *Claim
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.editable(ctx, claimID)
		if err != nil {
			return err
		}

		if paCodeID == nil {
			found, err := s.pa.FindActiveFFS(ctx, c.ReferralID, in.ServiceCode)
			if err != nil {
				return err
			}
			if found == nil {
				return apperr.Domain(apperr.CodeMissingAuthorization,
					"no active FFS PA code authorizes service "+strings.ToUpper(in.ServiceCode)).
					WithDetail("service_code", in.ServiceCode)
			}
			paCodeID = &found.ID
		} else {
			failures, err := s.pa.Authorize(ctx, c.ReferralID, preauth.TypeFFSTopUp, []preauth.Use{{ID: *paCodeID, ServiceCode: in.ServiceCode}})
			if err != nil {
				return err
			}
			if err := paProblem(failures); err != nil {
				return err
			}
		}

		lines, err := s.repo.ListLines(ctx, c.ID)
		if err != nil {
			return err
		}
		hasBundle := len(ClassifyTreatments(lines).Bundle) > 0
		l := &ClaimLine{
			ClaimID:          c.ID,
			TariffType:       TariffFFS,
			ReportingType:    ffsReportingType(c.AdmissionID != nil, hasBundle),
			ServiceCode:      in.ServiceCode,
			Description:      in.Description,
			Quantity:         in.Quantity,
			UnitPrice:        in.UnitPrice,
			LineTotal:        lineTotal(in.Quantity, in.UnitPrice),
			PACodeID:         paCodeID,
			ComplicationCode: in.ComplicationCode,
		}
		if err := s.repo.AddLine(ctx, l); err != nil {
			return err
		}
		return s.recompute(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("claim_id", c.ID.String()).Str("service_code", in.ServiceCode).Str("actor", actor).Msg("ffs treatment added")
	return c, nil
}

// Treatments returns the claim's lines split by tariff.
func (s *Service) Treatments(ctx context.Context, claimID uuid.UUID) (Classification, error) {
	if _, err := s.repo.GetByID(ctx, claimID); err != nil {
		return Classification{}, err
	}
	lines, err := s.repo.ListLines(ctx, claimID)
	if err != nil {
		return Classification{}, err
	}
	return ClassifyTreatments(lines), nil
}
