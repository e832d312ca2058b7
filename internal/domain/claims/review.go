package claims

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/schemehealth/claims/internal/domain/tariff"
	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/db"
	"github.com/schemehealth/claims/internal/platform/events"
)

// apply moves c through ev, stamps who did it and records the history row.
func (s *Service) apply(ctx context.Context, c *Claim, ev Event, actor string, reason *string) error {
	next, err := Transition(c.Status, ev)
	if err != nil {
		return err
	}
	now := s.now()
	old := c.Status
	c.Status = next
	switch next {
	case StatusSubmitted:
		c.SubmittedAt, c.SubmittedBy = &now, &actor
	case StatusReviewing:
		c.ReviewStartedAt, c.ReviewStartedBy = &now, &actor
	case StatusApproved:
		c.ApprovedAt, c.ApprovedBy = &now, &actor
		c.ApprovalComments = reason
	case StatusRejected:
		c.RejectedAt, c.RejectedBy = &now, &actor
		c.RejectionReason = reason
	}
	if err := s.repo.UpdateStatus(ctx, c); err != nil {
		return err
	}
	return s.repo.AddHistory(ctx, &StatusHistory{
		ClaimID:   c.ID,
		OldStatus: &old,
		NewStatus: next,
		ChangedBy: actor,
		ChangedAt: now,
		Reason:    reason,
	})
}

// SubmitClaim applies the submit event: a draft becomes submitted, a
// submitted claim moves into review.
func (s *Service) SubmitClaim(ctx context.Context, id uuid.UUID, actor string) (*Claim, error) {
	var c *Claim
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return s.apply(ctx, c, EventSubmit, actor, nil)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("claim_id", c.ID.String()).Str("status", string(c.Status)).Str("actor", actor).Msg("claim submitted for review")
	return c, nil
}

// ValidateClaim runs the rule set, stores alerts not raised before and
// returns the claim's open alerts. The claim's status is left alone.
func (s *Service) ValidateClaim(ctx context.Context, id uuid.UUID) ([]*ClaimAlert, error) {
	var open []*ClaimAlert
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		in, err := s.ruleInput(ctx, c)
		if err != nil {
			return err
		}
		existing, err := s.repo.ListAlerts(ctx, id, false)
		if err != nil {
			return err
		}
		raised := make(map[string]bool, len(existing))
		for _, a := range existing {
			raised[a.key()] = true
		}
		for _, a := range EvaluateRules(in) {
			if raised[a.key()] {
				continue
			}
			raised[a.key()] = true
			if err := s.repo.AddAlert(ctx, a); err != nil {
				return err
			}
		}
		open, err = s.repo.ListAlerts(ctx, id, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	if open == nil {
		open = []*ClaimAlert{}
	}
	return open, nil
}

func (s *Service) ruleInput(ctx context.Context, c *Claim) (RuleInput, error) {
	in := RuleInput{Claim: c, Bundles: map[int64]*tariff.ServiceBundle{}}
	lines, err := s.repo.ListLines(ctx, c.ID)
	if err != nil {
		return in, err
	}
	in.Lines = lines
	if c.AdmissionID != nil {
		in.Admission, err = s.admissions.Get(ctx, *c.AdmissionID)
		if err != nil && !apperr.IsNotFound(err) {
			return in, err
		}
	}
	for _, l := range lines {
		if l.BundleID == nil {
			continue
		}
		if _, ok := in.Bundles[*l.BundleID]; ok {
			continue
		}
		b, err := s.catalog.GetBundle(ctx, *l.BundleID)
		if apperr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return in, err
		}
		in.Bundles[b.ID] = b
	}
	return in, nil
}

// ApproveClaim validates the claim and approves it when no critical alert
// is open. The approved amount defaults to what the reviewed lines allow.
func (s *Service) ApproveClaim(ctx context.Context, id uuid.UUID, actor string, in ApproveInput) (*Claim, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(current.Status, EventApprove); err != nil {
		return nil, err
	}
	if _, err := s.ValidateClaim(ctx, id); err != nil {
		return nil, err
	}

	var c *Claim
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := Transition(c.Status, EventApprove); err != nil {
			return err
		}

		open, err := s.repo.ListAlerts(ctx, id, true)
		if err != nil {
			return err
		}
		var critical []*ClaimAlert
		for _, a := range open {
			if a.Severity == SeverityCritical {
				critical = append(critical, a)
			}
		}
		if len(critical) > 0 {
			return apperr.Domain(apperr.CodeClaimHasCriticalAlerts, "claim has unresolved critical alerts").
				WithDetail("alerts", critical)
		}

		lines, err := s.repo.ListLines(ctx, id)
		if err != nil {
			return err
		}
		amount := payable(lines)
		if in.ApprovedAmount != nil {
			amount = *in.ApprovedAmount
		}
		if amount.IsNegative() || amount.GreaterThan(c.TotalAmountClaimed) {
			return apperr.Domain(apperr.CodeApprovedAmountOutOfRange,
				"approved amount must be between 0 and "+c.TotalAmountClaimed.StringFixed(2)).
				WithDetail("approved_amount", amount).
				WithDetail("total_amount_claimed", c.TotalAmountClaimed)
		}
		amount = amount.Round(2)
		c.ApprovedAmount = &amount
		c.Lines = lines

		var comments *string
		if strings.TrimSpace(in.ApprovalComments) != "" {
			comments = &in.ApprovalComments
		}
		return s.apply(ctx, c, EventApprove, actor, comments)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("claim_id", c.ID.String()).
		Str("approved_amount", c.ApprovedAmount.StringFixed(2)).
		Str("actor", actor).
		Msg("claim approved")
	events.PublishAfterCommit(ctx, s.publisher, s.logger, events.New(events.ClaimApproved, db.SchemeFromContext(ctx), c))
	return c, nil
}

func payable(lines []*ClaimLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Payable())
	}
	return sum
}

func (s *Service) RejectClaim(ctx context.Context, id uuid.UUID, actor, reason string) (*Claim, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Field("rejection_reason", "is required")
	}
	var c *Claim
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return s.apply(ctx, c, EventReject, actor, &reason)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("claim_id", c.ID.String()).Str("actor", actor).Msg("claim rejected")
	events.PublishAfterCommit(ctx, s.publisher, s.logger, events.New(events.ClaimRejected, db.SchemeFromContext(ctx), c))
	return c, nil
}

// ReviewLine records a reviewer's decision on one line.
func (s *Service) ReviewLine(ctx context.Context, claimID, lineID uuid.UUID, actor string, in LineReviewInput) (*ClaimLine, error) {
	if in.Approved == nil {
		return nil, apperr.Field("approved", "is required")
	}
	var l *ClaimLine
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.LockForUpdate(ctx, claimID)
		if err != nil {
			return err
		}
		if c.Status.Terminal() {
			return apperr.Domain(apperr.CodeInvalidTransition, "claim "+c.ClaimNumber+" is "+string(c.Status)+" and can no longer be reviewed")
		}
		l, err = s.repo.GetLine(ctx, claimID, lineID)
		if err != nil {
			return err
		}

		amount := decimal.Zero
		if *in.Approved {
			amount = l.LineTotal
			if in.ApprovedAmount != nil {
				amount = *in.ApprovedAmount
			}
		}
		if amount.IsNegative() || amount.GreaterThan(l.LineTotal) {
			return apperr.Domain(apperr.CodeApprovedAmountOutOfRange,
				"line approved amount must be between 0 and "+l.LineTotal.StringFixed(2)).
				WithDetail("line_id", l.ID)
		}
		amount = amount.Round(2)
		now := s.now()
		approved := *in.Approved
		l.IsApproved = &approved
		l.ApprovedAmount = &amount
		l.ReviewedBy = &actor
		l.ReviewedAt = &now
		l.ReviewNote = nil
		if note := strings.TrimSpace(in.Note); note != "" {
			l.ReviewNote = &note
		}
		return s.repo.UpdateLineReview(ctx, l)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("claim_id", claimID.String()).Str("line_id", lineID.String()).Bool("approved", *in.Approved).Str("actor", actor).Msg("claim line reviewed")
	return l, nil
}

// ApplyAlertAction carries out the alert's action and resolves it.
func (s *Service) ApplyAlertAction(ctx context.Context, claimID, alertID uuid.UUID, actor, note string) (*ClaimAlert, error) {
	var a *ClaimAlert
	var rejected *Claim
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.LockForUpdate(ctx, claimID)
		if err != nil {
			return err
		}
		a, err = s.repo.GetAlert(ctx, claimID, alertID)
		if err != nil {
			return err
		}
		if a.Resolved {
			return apperr.Domain(apperr.CodeInvalidTransition, "alert "+a.AlertCode+" is already resolved")
		}

		now := s.now()
		note = strings.TrimSpace(note)
		switch a.Action {
		case ActionRejectClaim:
			reason := a.AlertCode + ": " + a.Message
			if note != "" {
				reason += " (" + note + ")"
			}
			if err := s.apply(ctx, c, EventReject, actor, &reason); err != nil {
				return err
			}
			rejected = c
		case ActionRejectFFSLines:
			if c.Status.Terminal() {
				return apperr.Domain(apperr.CodeInvalidTransition, "claim "+c.ClaimNumber+" is "+string(c.Status)+" and can no longer be reviewed")
			}
			if err := s.rejectFFSLines(ctx, c.ID, a, actor, now); err != nil {
				return err
			}
		}

		a.Resolved = true
		a.ResolvedBy = &actor
		a.ResolvedAt = &now
		if note != "" {
			a.ResolutionNote = &note
		}
		return s.repo.ResolveAlert(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("claim_id", claimID.String()).Str("alert_code", a.AlertCode).Str("action", string(a.Action)).Str("actor", actor).Msg("claim alert resolved")
	if rejected != nil {
		events.PublishAfterCommit(ctx, s.publisher, s.logger, events.New(events.ClaimRejected, db.SchemeFromContext(ctx), rejected))
	}
	return a, nil
}

// rejectFFSLines rejects the alert's line, or every FFS line when the alert
// is not tied to one.
func (s *Service) rejectFFSLines(ctx context.Context, claimID uuid.UUID, a *ClaimAlert, actor string, now time.Time) error {
	lines, err := s.repo.ListLines(ctx, claimID)
	if err != nil {
		return err
	}
	no := false
	note := "rejected by alert " + a.AlertCode
	for _, l := range ClassifyTreatments(lines).FFS {
		if a.ClaimLineID != nil && l.ID != *a.ClaimLineID {
			continue
		}
		zero := decimal.Zero
		l.IsApproved = &no
		l.ApprovedAmount = &zero
		l.ReviewNote = &note
		l.ReviewedBy = &actor
		l.ReviewedAt = &now
		if err := s.repo.UpdateLineReview(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// GetClaimSummary assembles the read-only review view of a claim.
func (s *Service) GetClaimSummary(ctx context.Context, id uuid.UUID) (*Summary, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	lines, err := s.repo.ListLines(ctx, id)
	if err != nil {
		return nil, err
	}
	alerts, err := s.repo.ListAlerts(ctx, id, false)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Claim:   c,
		Alerts:  alerts,
		History: history,
		Amounts: Amounts{
			BundleAmount:       c.BundleAmount,
			FFSAmount:          c.FFSAmount,
			TotalAmountClaimed: c.TotalAmountClaimed,
			LinesPayable:       payable(lines),
			ApprovedAmount:     c.ApprovedAmount,
		},
	}
	split := ClassifyTreatments(lines)
	sum.BundleLines, sum.FFSLines = split.Bundle, split.FFS
	if sum.Alerts == nil {
		sum.Alerts = []*ClaimAlert{}
	}
	if sum.History == nil {
		sum.History = []*StatusHistory{}
	}
	if c.AdmissionID != nil {
		sum.Admission, err = s.admissions.Get(ctx, *c.AdmissionID)
		if err != nil && !apperr.IsNotFound(err) {
			return nil, err
		}
	}
	return sum, nil
}
