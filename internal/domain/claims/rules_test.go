package claims

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/schemehealth/claims/internal/domain/admission"
	"github.com/schemehealth/claims/internal/domain/tariff"
)

func int64Ptr(v int64) *int64 { return &v }

func bundleTestLine(component, bundle int64, total string) *ClaimLine {
	return &ClaimLine{
		ID:                uuid.New(),
		TariffType:        TariffBundle,
		ReportingType:     ReportingInBundle,
		ServiceCode:       "B",
		LineTotal:         dec(total),
		BundleComponentID: int64Ptr(component),
		BundleID:          int64Ptr(bundle),
	}
}

func ffsTestLine(rt ReportingType, pa bool, complication *string) *ClaimLine {
	l := &ClaimLine{
		ID:               uuid.New(),
		TariffType:       TariffFFS,
		ReportingType:    rt,
		ServiceCode:      "F",
		LineTotal:        dec("100"),
		ComplicationCode: complication,
	}
	if pa {
		id := uuid.New()
		l.PACodeID = &id
	}
	return l
}

func codes(alerts []*ClaimAlert) []string {
	out := []string{}
	for _, a := range alerts {
		out = append(out, a.AlertCode)
	}
	return out
}

func TestEvaluateRules(t *testing.T) {
	admID := uuid.New()
	bundles := map[int64]*tariff.ServiceBundle{
		1: {ID: 1, Code: "O82", FixedPrice: dec("1000")},
		2: {ID: 2, Code: "K35", FixedPrice: dec("500")},
	}
	rejected := ffsTestLine(ReportingFFSTopUp, false, nil)
	rejected.IsApproved = boolPtr(false)

	tests := []struct {
		name      string
		admission *uuid.UUID
		adm       *admission.Admission
		lines     []*ClaimLine
		want      []string
	}{
		{
			name:  "clean bundle claim",
			lines: []*ClaimLine{bundleTestLine(11, 1, "600"), bundleTestLine(12, 1, "400")},
			want:  []string{},
		},
		{
			name:  "two bundles",
			lines: []*ClaimLine{bundleTestLine(11, 1, "600"), bundleTestLine(21, 2, "400")},
			want:  []string{AlertDoubleBundle},
		},
		{
			name:  "component billed twice",
			lines: []*ClaimLine{bundleTestLine(11, 1, "300"), bundleTestLine(11, 1, "300")},
			want:  []string{AlertDoubleBundle},
		},
		{
			name:  "top-up with nothing to top up",
			lines: []*ClaimLine{ffsTestLine(ReportingFFSTopUp, true, nil)},
			want:  []string{AlertUnauthorizedFFSTopUp},
		},
		{
			name:      "top-up on an admission",
			admission: &admID,
			lines:     []*ClaimLine{ffsTestLine(ReportingFFSTopUp, true, nil)},
			want:      []string{},
		},
		{
			name:  "standalone FFS without PA or complication",
			lines: []*ClaimLine{ffsTestLine(ReportingFFSStandalone, false, nil)},
			want:  []string{AlertUnauthorizedFFSTopUp},
		},
		{
			name:  "complication without PA",
			lines: []*ClaimLine{ffsTestLine(ReportingFFSStandalone, false, strPtr("O72"))},
			want:  []string{AlertMissingComplicationPA},
		},
		{
			name:  "bundle above fixed price",
			lines: []*ClaimLine{bundleTestLine(11, 1, "800"), bundleTestLine(12, 1, "200.01")},
			want:  []string{AlertBundleTariffExceeded},
		},
		{
			name:  "two bundles above their fixed prices",
			lines: []*ClaimLine{bundleTestLine(11, 1, "1100"), bundleTestLine(21, 2, "600")},
			want:  []string{AlertDoubleBundle, AlertBundleTariffExceeded, AlertBundleTariffExceeded},
		},
		{
			name:      "active admission",
			admission: &admID,
			adm:       &admission.Admission{ID: admID, AdmissionCode: "ADM-1", Status: admission.StatusActive},
			lines:     []*ClaimLine{bundleTestLine(11, 1, "500")},
			want:      []string{AlertAdmissionNotDischarged},
		},
		{
			name:  "rejected lines are ignored",
			lines: []*ClaimLine{rejected},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim := &Claim{ID: uuid.New(), AdmissionID: tt.admission}
			got := EvaluateRules(RuleInput{Claim: claim, Lines: tt.lines, Admission: tt.adm, Bundles: bundles})
			if diff := cmp.Diff(tt.want, codes(got)); diff != "" {
				t.Errorf("alerts mismatch (-want +got):\n%s", diff)
			}
			for _, a := range got {
				if a.ClaimID != claim.ID {
					t.Errorf("alert %s not attached to the claim", a.AlertCode)
				}
			}
		})
	}
}

func TestEvaluateRules_Severities(t *testing.T) {
	lines := []*ClaimLine{
		bundleTestLine(11, 1, "300"),
		bundleTestLine(11, 1, "300"),
		ffsTestLine(ReportingFFSTopUp, false, strPtr("O72")),
	}
	got := EvaluateRules(RuleInput{Claim: &Claim{ID: uuid.New()}, Lines: lines})
	want := map[string]struct {
		sev    Severity
		action AlertAction
	}{
		AlertDoubleBundle:          {SeverityCritical, ActionRejectClaim},
		AlertMissingComplicationPA: {SeverityWarning, ActionResolveAlert},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d alerts, got %v", len(want), codes(got))
	}
	for _, a := range got {
		w := want[a.AlertCode]
		if a.Severity != w.sev || a.Action != w.action {
			t.Errorf("%s: got %s/%s, want %s/%s", a.AlertCode, a.Severity, a.Action, w.sev, w.action)
		}
		if a.ClaimLineID == nil {
			t.Errorf("%s should point at the offending line", a.AlertCode)
		}
	}
}

func TestClassifyTreatments(t *testing.T) {
	lines := []*ClaimLine{
		bundleTestLine(11, 1, "600"),
		ffsTestLine(ReportingFFSTopUp, true, nil),
		bundleTestLine(12, 1, "400"),
	}
	split := ClassifyTreatments(lines)
	if len(split.Bundle) != 2 || len(split.FFS) != 1 {
		t.Fatalf("expected 2 bundle + 1 ffs, got %d + %d", len(split.Bundle), len(split.FFS))
	}
	bundle, ffs := split.Totals()
	if !bundle.Equal(dec("1000")) || !ffs.Equal(dec("100")) {
		t.Errorf("totals = %s / %s, want 1000 / 100", bundle, ffs)
	}

	empty := ClassifyTreatments(nil)
	if empty.Bundle == nil || empty.FFS == nil {
		t.Error("empty classification should serialize as empty arrays")
	}
}

func TestLineTotal(t *testing.T) {
	if got := lineTotal(3, dec("1500.555")); !got.Equal(dec("4501.67")) {
		t.Errorf("lineTotal = %s, want 4501.67", got)
	}
}

func TestClaimLine_Payable(t *testing.T) {
	amount := dec("40")
	tests := []struct {
		name string
		line ClaimLine
		want string
	}{
		{"unreviewed", ClaimLine{LineTotal: dec("100")}, "100"},
		{"rejected", ClaimLine{LineTotal: dec("100"), IsApproved: boolPtr(false)}, "0"},
		{"approved in full", ClaimLine{LineTotal: dec("100"), IsApproved: boolPtr(true)}, "100"},
		{"approved partly", ClaimLine{LineTotal: dec("100"), IsApproved: boolPtr(true), ApprovedAmount: &amount}, "40"},
	}
	for _, tt := range tests {
		if got := tt.line.Payable(); !got.Equal(dec(tt.want)) {
			t.Errorf("%s: Payable() = %s, want %s", tt.name, got, tt.want)
		}
	}
}
