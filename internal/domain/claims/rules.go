package claims

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/schemehealth/claims/internal/domain/admission"
	"github.com/schemehealth/claims/internal/domain/tariff"
)

// RuleInput is everything the validation rules look at.
type RuleInput struct {
	Claim     *Claim
	Lines     []*ClaimLine
	Admission *admission.Admission
	Bundles   map[int64]*tariff.ServiceBundle
}

type rule func(in RuleInput) []*ClaimAlert

var rules = []rule{
	doubleBundle,
	unauthorizedFFSTopUp,
	missingComplicationPA,
	bundleTariffExceeded,
	admissionNotDischarged,
}

// EvaluateRules runs every rule and returns the alerts they raise, unsaved.
func EvaluateRules(in RuleInput) []*ClaimAlert {
	var out []*ClaimAlert
	for _, r := range rules {
		for _, a := range r(in) {
			a.ClaimID = in.Claim.ID
			out = append(out, a)
		}
	}
	return out
}

func alert(code string, sev Severity, action AlertAction, l *ClaimLine, msg string) *ClaimAlert {
	a := &ClaimAlert{AlertCode: code, Severity: sev, Action: action, Message: msg}
	if l != nil {
		id := l.ID
		a.ClaimLineID = &id
	}
	return a
}

func doubleBundle(in RuleInput) []*ClaimAlert {
	var out []*ClaimAlert
	bundles := map[int64]bool{}
	components := map[int64]bool{}
	for _, l := range in.Lines {
		if l.TariffType != TariffBundle || l.Rejected() {
			continue
		}
		if l.BundleID != nil {
			bundles[*l.BundleID] = true
		}
		if l.BundleComponentID == nil {
			continue
		}
		if components[*l.BundleComponentID] {
			out = append(out, alert(AlertDoubleBundle, SeverityCritical, ActionRejectClaim, l,
				fmt.Sprintf("bundle component %s is billed more than once", l.ServiceCode)))
		}
		components[*l.BundleComponentID] = true
	}
	if len(bundles) > 1 {
		out = append(out, alert(AlertDoubleBundle, SeverityCritical, ActionRejectClaim, nil,
			fmt.Sprintf("bundle lines span %d different bundles", len(bundles))))
	}
	return out
}

func unauthorizedFFSTopUp(in RuleInput) []*ClaimAlert {
	hasBundle := false
	for _, l := range in.Lines {
		if l.TariffType == TariffBundle && !l.Rejected() {
			hasBundle = true
			break
		}
	}
	var out []*ClaimAlert
	for _, l := range in.Lines {
		if l.TariffType != TariffFFS || l.Rejected() {
			continue
		}
		switch {
		case l.ReportingType == ReportingFFSTopUp && !hasBundle && in.Claim.AdmissionID == nil:
			out = append(out, alert(AlertUnauthorizedFFSTopUp, SeverityCritical, ActionRejectFFSLines, l,
				fmt.Sprintf("FFS top-up %s has neither a bundle nor an admission to top up", l.ServiceCode)))
		case l.PACodeID == nil && l.ComplicationCode == nil:
			out = append(out, alert(AlertUnauthorizedFFSTopUp, SeverityCritical, ActionRejectFFSLines, l,
				fmt.Sprintf("FFS line %s has no PA code and no complication code", l.ServiceCode)))
		}
	}
	return out
}

func missingComplicationPA(in RuleInput) []*ClaimAlert {
	var out []*ClaimAlert
	for _, l := range in.Lines {
		if l.TariffType != TariffFFS || l.Rejected() {
			continue
		}
		if l.ComplicationCode != nil && l.PACodeID == nil {
			out = append(out, alert(AlertMissingComplicationPA, SeverityWarning, ActionResolveAlert, l,
				fmt.Sprintf("complication %s on %s was billed without a PA code", *l.ComplicationCode, l.ServiceCode)))
		}
	}
	return out
}

func bundleTariffExceeded(in RuleInput) []*ClaimAlert {
	sums := map[int64]decimal.Decimal{}
	var order []int64
	for _, l := range in.Lines {
		if l.TariffType != TariffBundle || l.BundleID == nil || l.Rejected() {
			continue
		}
		id := *l.BundleID
		if _, seen := sums[id]; !seen {
			order = append(order, id)
		}
		sums[id] = sums[id].Add(l.LineTotal)
	}
	var out []*ClaimAlert
	for _, id := range order {
		b, ok := in.Bundles[id]
		if !ok {
			continue
		}
		if total := sums[id]; total.GreaterThan(b.FixedPrice) {
			a := alert(AlertBundleTariffExceeded, SeverityWarning, ActionResolveAlert, nil,
				fmt.Sprintf("bundle %s lines total %s, above the fixed price %s",
					b.Code, total.StringFixed(2), b.FixedPrice.StringFixed(2)))
			bundleID := id
			a.BundleID = &bundleID
			out = append(out, a)
		}
	}
	return out
}

func admissionNotDischarged(in RuleInput) []*ClaimAlert {
	if in.Admission == nil || in.Admission.Status != admission.StatusActive {
		return nil
	}
	return []*ClaimAlert{alert(AlertAdmissionNotDischarged, SeverityInfo, ActionResolveAlert, nil,
		fmt.Sprintf("admission %s has not been discharged", in.Admission.AdmissionCode))}
}
