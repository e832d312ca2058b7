package tariff

import (
	"time"

	"github.com/shopspring/decimal"
)

// ServiceBundle is a fixed-price package of services tied to a diagnosis.
type ServiceBundle struct {
	ID             int64              `json:"id"`
	Code           string             `json:"code"`
	Name           string             `json:"name"`
	DiagnosisICD10 string             `json:"diagnosis_icd10"`
	FixedPrice     decimal.Decimal    `json:"fixed_price"`
	IsActive       bool               `json:"is_active"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	Components     []*BundleComponent `json:"components,omitempty"`
}

type BundleComponent struct {
	ID          int64           `json:"id"`
	BundleID    int64           `json:"bundle_id"`
	ServiceCode string          `json:"service_code"`
	Description string          `json:"description"`
	MaxQuantity int             `json:"max_quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CreatedAt   time.Time       `json:"created_at"`
}

type CreateBundleInput struct {
	Code           string                 `json:"code" validate:"required,max=50"`
	Name           string                 `json:"name" validate:"required,max=255"`
	DiagnosisICD10 string                 `json:"diagnosis_icd10" validate:"required,max=20"`
	FixedPrice     decimal.Decimal        `json:"fixed_price" validate:"gte=0"`
	Components     []CreateComponentInput `json:"components" validate:"dive"`
}

type CreateComponentInput struct {
	ServiceCode string          `json:"service_code" validate:"required,max=50"`
	Description string          `json:"description" validate:"required,max=255"`
	MaxQuantity int             `json:"max_quantity" validate:"gte=0"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
}
