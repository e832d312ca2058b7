package preauth

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeBundle   Type = "BUNDLE"
	TypeFFSTopUp Type = "FFS_TOP_UP"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusUsed      Status = "used"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// PACode authorizes billing of a bundle or an FFS service for a referral.
type PACode struct {
	ID              uuid.UUID  `json:"id"`
	Code            string     `json:"code"`
	Type            Type       `json:"type"`
	Status          Status     `json:"status"`
	ReferralID      uuid.UUID  `json:"referral_id"`
	AdmissionID     *uuid.UUID `json:"admission_id,omitempty"`
	ServiceBundleID *int64     `json:"service_bundle_id,omitempty"`
	ServiceCode     *string    `json:"service_code,omitempty"`
	Justification   *string    `json:"justification,omitempty"`
	IssuedBy        string     `json:"issued_by"`
	IssuedAt        time.Time  `json:"issued_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// Usable reports whether the code is active and unexpired at now.
func (p *PACode) Usable(now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// Use is one PA code presented for a claim line. ServiceCode is the FFS
// service being billed and is empty for bundle lines.
type Use struct {
	ID          uuid.UUID
	ServiceCode string
}

// Problem explains why p cannot authorize u as a line of type want on
// referralID, or returns "" when it can. An FFS code only covers the service
// it was issued for.
func (p *PACode) Problem(referralID uuid.UUID, want Type, u Use, now time.Time) string {
	switch {
	case p.ReferralID != referralID:
		return "belongs to a different referral"
	case p.Type != want:
		return "is a " + string(p.Type) + " code, expected " + string(want)
	case !p.Usable(now):
		return "is not active"
	case p.Type == TypeFFSTopUp && u.ServiceCode != "" &&
		(p.ServiceCode == nil || !strings.EqualFold(*p.ServiceCode, u.ServiceCode)):
		issued := "no service"
		if p.ServiceCode != nil {
			issued = *p.ServiceCode
		}
		return "was issued for " + issued + ", not " + strings.ToUpper(u.ServiceCode)
	}
	return ""
}

// IssueInput creates a PA code outside the referral approval flow. Only the
// seed command uses it; general issuance belongs to the authorization
// service.
type IssueInput struct {
	ReferralID      uuid.UUID  `json:"referral_id" validate:"required"`
	Type            Type       `json:"type" validate:"required,oneof=BUNDLE FFS_TOP_UP"`
	ServiceBundleID *int64     `json:"service_bundle_id"`
	ServiceCode     *string    `json:"service_code"`
	Justification   *string    `json:"justification"`
	ExpiresAt       *time.Time `json:"expires_at"`
}
