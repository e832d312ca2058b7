package referral

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/schemehealth/claims/internal/domain/preauth"
	"github.com/schemehealth/claims/internal/domain/tariff"
	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/db/dbtest"
)

// -- Mocks --

type mockRepo struct {
	items map[uuid.UUID]*Referral
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Referral)}
}

func (m *mockRepo) Snapshot() func() {
	items := make(map[uuid.UUID]*Referral, len(m.items))
	for k, v := range m.items {
		cp := *v
		items[k] = &cp
	}
	return func() { m.items = items }
}

func (m *mockRepo) Create(_ context.Context, r *Referral) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.items[r.ID] = r
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Referral, error) {
	r, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("referral")
	}
	return r, nil
}

func (m *mockRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, r *Referral) error {
	if _, ok := m.items[r.ID]; !ok {
		return apperr.NotFound("referral")
	}
	r.UpdatedAt = time.Now()
	m.items[r.ID] = r
	return nil
}

func (m *mockRepo) MarkClaimSubmitted(_ context.Context, id uuid.UUID) (bool, error) {
	r, ok := m.items[id]
	if !ok {
		return false, apperr.NotFound("referral")
	}
	if r.ClaimSubmitted {
		return false, nil
	}
	now := time.Now()
	r.ClaimSubmitted = true
	r.ClaimSubmittedAt = &now
	return true, nil
}

type fakeBundles map[int64]*tariff.ServiceBundle

func (f fakeBundles) GetBundle(_ context.Context, id int64) (*tariff.ServiceBundle, error) {
	b, ok := f[id]
	if !ok {
		return nil, apperr.NotFound("service bundle")
	}
	return b, nil
}

type fakeIssuer struct {
	issued []int64
	err    error
}

func (f *fakeIssuer) IssueBundlePA(_ context.Context, referralID uuid.UUID, bundleID int64, actor string) (*preauth.PACode, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.issued = append(f.issued, bundleID)
	return &preauth.PACode{ID: uuid.New(), Type: preauth.TypeBundle, ReferralID: referralID, ServiceBundleID: &bundleID, IssuedBy: actor}, nil
}

type testEnv struct {
	svc    *Service
	repo   *mockRepo
	issuer *fakeIssuer
}

func newTestEnv() *testEnv {
	repo := newMockRepo()
	issuer := &fakeIssuer{}
	bundles := fakeBundles{
		1: {ID: 1, Code: "CS-01", IsActive: true},
		2: {ID: 2, Code: "OLD", IsActive: false},
	}
	svc := NewService(repo, dbtest.NewTransactor(repo), bundles, issuer, zerolog.Nop())
	return &testEnv{svc: svc, repo: repo, issuer: issuer}
}

func (e *testEnv) pending(t *testing.T) *Referral {
	t.Helper()
	r, err := e.svc.Create(context.Background(), CreateInput{
		EnrolleeID:          uuid.New(),
		ReferringFacilityID: uuid.New(),
		ReceivingFacilityID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("create referral: %v", err)
	}
	return r
}

// validated returns an approved referral whose UTN has been confirmed.
func (e *testEnv) validated(t *testing.T) *Referral {
	t.Helper()
	ctx := context.Background()
	r := e.pending(t)
	res, err := e.svc.Approve(ctx, r.ID, "reviewer-1", ApproveInput{})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := e.svc.ConfirmUTN(ctx, r.ID, "facility-1", *res.Referral.UTN); err != nil {
		t.Fatalf("confirm utn: %v", err)
	}
	return e.repo.items[r.ID]
}

func TestEvaluate(t *testing.T) {
	now := time.Now()
	utn := "UTN-1"
	tomorrow := now.Add(24 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)

	tests := []struct {
		name    string
		r       *Referral
		valid   bool
		message string
	}{
		{"missing", nil, false, "referral not found"},
		{"pending", &Referral{Status: StatusPending}, false, "referral is pending, not approved"},
		{"denied", &Referral{Status: StatusDenied}, false, "referral is denied, not approved"},
		{"no utn", &Referral{Status: StatusApproved}, false, "referral has no UTN"},
		{"not validated", &Referral{Status: StatusApproved, UTN: &utn, ValidUntil: &tomorrow}, false, "UTN has not been validated"},
		{"expired", &Referral{Status: StatusApproved, UTN: &utn, UTNValidated: true, ValidUntil: &yesterday}, false, "referral expired on " + yesterday.Format("2006-01-02")},
		{"valid", &Referral{Status: StatusApproved, UTN: &utn, UTNValidated: true, ValidUntil: &tomorrow}, true, "UTN is valid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.r, now)
			if got.Valid != tt.valid {
				t.Errorf("expected valid=%v, got %v", tt.valid, got.Valid)
			}
			if got.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, got.Message)
			}
		})
	}
}

func TestService_ValidateUTN_Missing(t *testing.T) {
	env := newTestEnv()
	v, err := env.svc.ValidateUTN(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected invalid result, not error: %v", err)
	}
	if v.Valid || v.Message != "referral not found" {
		t.Errorf("unexpected result %+v", v)
	}
}

func TestService_ValidateUTN_HasNoSideEffects(t *testing.T) {
	env := newTestEnv()
	r := env.validated(t)
	before := *env.repo.items[r.ID]

	v, err := env.svc.ValidateUTN(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Valid {
		t.Fatalf("expected valid, got %q", v.Message)
	}
	if after := env.repo.items[r.ID]; after.UpdatedAt != before.UpdatedAt {
		t.Error("ValidateUTN must not write")
	}
}

func TestService_Approve(t *testing.T) {
	env := newTestEnv()
	r := env.pending(t)
	bundleID := int64(1)

	res, err := env.svc.Approve(context.Background(), r.ID, "reviewer-1", ApproveInput{ServiceBundleID: &bundleID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := res.Referral
	if got.Status != StatusApproved {
		t.Errorf("expected approved, got %s", got.Status)
	}
	if got.UTN == nil || !strings.HasPrefix(*got.UTN, "UTN-") {
		t.Errorf("expected generated UTN, got %v", got.UTN)
	}
	if got.UTNValidated {
		t.Error("approval must not validate the UTN")
	}
	wantUntil := r.CreatedAt.AddDate(0, 3, 0)
	if got.ValidUntil == nil || !got.ValidUntil.Equal(wantUntil) {
		t.Errorf("expected valid_until %v, got %v", wantUntil, got.ValidUntil)
	}
	if got.ApprovedBy == nil || *got.ApprovedBy != "reviewer-1" {
		t.Errorf("expected approved_by reviewer-1, got %v", got.ApprovedBy)
	}
	if res.BundlePA == nil || len(env.issuer.issued) != 1 || env.issuer.issued[0] != 1 {
		t.Errorf("expected bundle PA issued for bundle 1, got %v", env.issuer.issued)
	}
}

func TestService_Approve_CustomValidity(t *testing.T) {
	env := newTestEnv()
	env.svc.SetValidityMonths(6)
	r := env.pending(t)
	res, err := env.svc.Approve(context.Background(), r.ID, "reviewer", ApproveInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Referral.ValidUntil.Equal(r.CreatedAt.AddDate(0, 6, 0)) {
		t.Errorf("expected six month validity, got %v", res.Referral.ValidUntil)
	}
	if res.BundlePA != nil {
		t.Error("expected no PA without a bundle")
	}
}

func TestService_Approve_NotPending(t *testing.T) {
	env := newTestEnv()
	r := env.pending(t)
	ctx := context.Background()
	if _, err := env.svc.Approve(ctx, r.ID, "reviewer", ApproveInput{}); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err := env.svc.Approve(ctx, r.ID, "reviewer", ApproveInput{})
	if apperr.CodeOf(err) != apperr.CodeInvalidReferralState {
		t.Errorf("expected INVALID_REFERRAL_STATE, got %v", err)
	}
}

func TestService_Approve_InactiveBundle(t *testing.T) {
	env := newTestEnv()
	r := env.pending(t)
	inactive := int64(2)
	_, err := env.svc.Approve(context.Background(), r.ID, "reviewer", ApproveInput{ServiceBundleID: &inactive})
	if ae, ok := apperr.As(err); !ok || ae.Fields["service_bundle_id"] == "" {
		t.Errorf("expected service_bundle_id field error, got %v", err)
	}
	if env.repo.items[r.ID].Status != StatusPending {
		t.Error("referral must stay pending")
	}
}

func TestService_Approve_PAFailureRollsBack(t *testing.T) {
	env := newTestEnv()
	env.issuer.err = errors.New("pa store down")
	r := env.pending(t)
	bundleID := int64(1)

	if _, err := env.svc.Approve(context.Background(), r.ID, "reviewer", ApproveInput{ServiceBundleID: &bundleID}); err == nil {
		t.Fatal("expected error")
	}
	got := env.repo.items[r.ID]
	if got.Status != StatusPending || got.UTN != nil {
		t.Errorf("expected approval rolled back, got status %s utn %v", got.Status, got.UTN)
	}
}

func TestService_Deny(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	r := env.pending(t)

	if _, err := env.svc.Deny(ctx, r.ID, "reviewer", "  "); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("expected validation error for blank reason, got %v", err)
	}

	got, err := env.svc.Deny(ctx, r.ID, "reviewer", "outside network")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusDenied || got.DenialReason == nil || *got.DenialReason != "outside network" {
		t.Errorf("unexpected referral %+v", got)
	}

	if _, err := env.svc.Approve(ctx, r.ID, "reviewer", ApproveInput{}); apperr.CodeOf(err) != apperr.CodeInvalidReferralState {
		t.Errorf("expected denied referral not approvable, got %v", err)
	}
}

func TestService_ConfirmUTN(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	r := env.pending(t)

	if _, err := env.svc.ConfirmUTN(ctx, r.ID, "facility", "UTN-X"); apperr.CodeOf(err) != apperr.CodeInvalidReferralState {
		t.Errorf("expected pending referral to refuse confirmation, got %v", err)
	}

	res, _ := env.svc.Approve(ctx, r.ID, "reviewer", ApproveInput{})
	if _, err := env.svc.ConfirmUTN(ctx, r.ID, "facility", "UTN-WRONG"); apperr.CodeOf(err) != apperr.CodeInvalidReferralState {
		t.Errorf("expected mismatch to fail, got %v", err)
	}

	got, err := env.svc.ConfirmUTN(ctx, r.ID, "facility", strings.ToLower(*res.Referral.UTN))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.UTNValidated || got.UTNValidatedBy == nil || *got.UTNValidatedBy != "facility" {
		t.Errorf("expected validated by facility, got %+v", got)
	}
	firstAt := *got.UTNValidatedAt

	again, err := env.svc.ConfirmUTN(ctx, r.ID, "someone-else", *res.Referral.UTN)
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if !again.UTNValidatedAt.Equal(firstAt) || *again.UTNValidatedBy != "facility" {
		t.Error("second confirmation must not overwrite the first")
	}
}

func TestService_ConfirmUTN_Expired(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	r := env.pending(t)
	res, _ := env.svc.Approve(ctx, r.ID, "reviewer", ApproveInput{})

	env.svc.now = func() time.Time { return time.Now().AddDate(0, 4, 0) }
	_, err := env.svc.ConfirmUTN(ctx, r.ID, "facility", *res.Referral.UTN)
	if apperr.CodeOf(err) != apperr.CodeInvalidReferralState {
		t.Errorf("expected expired referral to fail, got %v", err)
	}
}

func TestService_LockValid(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.svc.LockValid(ctx, env.pending(t).ID); apperr.CodeOf(err) != apperr.CodeInvalidReferralState {
		t.Errorf("expected pending referral rejected, got %v", err)
	}
	if _, err := env.svc.LockValid(ctx, uuid.New()); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	r := env.validated(t)
	if _, err := env.svc.LockValid(ctx, r.ID); err != nil {
		t.Errorf("expected valid referral, got %v", err)
	}
}

func TestService_MarkClaimSubmitted_Once(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	r := env.validated(t)

	if err := env.svc.MarkClaimSubmitted(ctx, r.ID); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if !env.repo.items[r.ID].ClaimSubmitted {
		t.Error("expected claim_submitted set")
	}
	if err := env.svc.MarkClaimSubmitted(ctx, r.ID); apperr.CodeOf(err) != apperr.CodeDuplicateClaim {
		t.Errorf("expected DUPLICATE_CLAIM on second mark, got %v", err)
	}
}
