package admission

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive     Status = "active"
	StatusDischarged Status = "discharged"
)

// Admission is one inpatient episode, tied one-to-one to a validated
// referral. Admissions are never deleted.
type Admission struct {
	ID                   uuid.UUID  `json:"id"`
	AdmissionCode        string     `json:"admission_code"`
	ReferralID           uuid.UUID  `json:"referral_id"`
	EnrolleeID           uuid.UUID  `json:"enrollee_id"`
	FacilityID           uuid.UUID  `json:"facility_id"`
	BundleID             *int64     `json:"bundle_id,omitempty"`
	PrincipalDiagnosis   string     `json:"principal_diagnosis"`
	DiagnosisDescription *string    `json:"diagnosis_description,omitempty"`
	AdmissionDate        time.Time  `json:"admission_date"`
	DischargeDate        *time.Time `json:"discharge_date,omitempty"`
	Status               Status     `json:"status"`
	WardType             *string    `json:"ward_type,omitempty"`
	WardDays             *int       `json:"ward_days,omitempty"`
	DischargeSummary     *string    `json:"discharge_summary,omitempty"`
	AdmittedBy           string     `json:"admitted_by"`
	DischargedBy         *string    `json:"discharged_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`

	// LengthOfStayDays is computed on read.
	LengthOfStayDays int `json:"length_of_stay_days"`
}

// LengthOfStay counts calendar days from admission to discharge, or to now
// for an ongoing stay. A same-day stay counts as one day.
func LengthOfStay(a *Admission, now time.Time) int {
	end := now
	if a.DischargeDate != nil {
		end = *a.DischargeDate
	}
	return stayDays(a.AdmissionDate, end)
}

func stayDays(from, to time.Time) int {
	start := truncateDay(from)
	stop := truncateDay(to)
	days := int(stop.Sub(start).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type CreateInput struct {
	ReferralID           uuid.UUID  `json:"referral_id" validate:"required"`
	FacilityID           *uuid.UUID `json:"facility_id"`
	PrincipalDiagnosis   string     `json:"principal_diagnosis" validate:"required,max=20"`
	DiagnosisDescription *string    `json:"diagnosis_description" validate:"omitempty,max=1000"`
	AdmissionDate        *time.Time `json:"admission_date"`
	WardType             *string    `json:"ward_type" validate:"omitempty,max=50"`
}

type DischargeInput struct {
	DischargeDate    *time.Time `json:"discharge_date"`
	DischargeSummary *string    `json:"discharge_summary" validate:"omitempty,max=5000"`
	WardDays         *int       `json:"ward_days" validate:"omitempty,gte=0"`
}

type ListFilter struct {
	EnrolleeID *uuid.UUID
	FacilityID *uuid.UUID
	Status     Status
	Limit      int
	Offset     int
}
