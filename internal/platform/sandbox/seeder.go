// Package sandbox seeds a scheme with a reproducible demo catalog, approved
// referrals and their PA codes, so the claim endpoints can be exercised end
// to end without an upstream referral system.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/schemehealth/claims/internal/domain/preauth"
	"github.com/schemehealth/claims/internal/domain/referral"
	"github.com/schemehealth/claims/internal/domain/tariff"
)

// SeedActor is recorded as the approver and issuer of everything seeded.
const SeedActor = "seed"

// SeedConfig controls the volume and shape of generated demo data.
type SeedConfig struct {
	ReferralCount int
	// FFSCodesPerReferral is how many FFS top-up codes each referral gets.
	FFSCodesPerReferral int
	Seed                int64
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{ReferralCount: 10, FFSCodesPerReferral: 1, Seed: 1}
}

type SeedResult struct {
	Bundles   []*tariff.ServiceBundle
	Referrals []*referral.Referral
	PACodes   []*preauth.PACode
}

type component struct {
	code, description string
	maxQty            int
	price             string
}

type bundleDef struct {
	code, name, icd10, price string
	components               []component
}

var (
	demoBundles = []bundleDef{
		{"MAT-CS", "Caesarean section", "O82", "150000", []component{
			{"CS-SURG", "Caesarean delivery", 1, "100000"},
			{"WARD-DAY", "General ward day", 5, "15000"},
		}},
		{"SURG-APP", "Appendicectomy", "K35", "90000", []component{
			{"APP-SURG", "Appendicectomy procedure", 1, "70000"},
			{"WARD-DAY", "General ward day", 3, "10000"},
		}},
		{"MED-MAL", "Severe malaria", "B50", "45000", []component{
			{"MAL-IV", "IV artesunate course", 1, "25000"},
			{"WARD-DAY", "General ward day", 4, "5000"},
		}},
	}

	ffsServices = []string{"LAB-FBC", "LAB-UECR", "XRAY-CHEST", "US-PELVIS"}
)

// DataGenerator draws demo identifiers from a seeded source so two runs with
// the same seed produce the same enrollees and facilities.
type DataGenerator struct {
	rng *rand.Rand
}

func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) ID() uuid.UUID {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		// math/rand readers never fail
		panic(err)
	}
	return id
}

func (g *DataGenerator) pick(n int) int {
	return g.rng.Intn(n)
}

// Catalog creates tariff bundles.
type Catalog interface {
	CreateBundle(ctx context.Context, in tariff.CreateBundleInput) (*tariff.ServiceBundle, error)
}

// Referrals runs the intake, approval and UTN confirmation steps.
type Referrals interface {
	Create(ctx context.Context, in referral.CreateInput) (*referral.Referral, error)
	Approve(ctx context.Context, referralID uuid.UUID, actor string, in referral.ApproveInput) (*referral.ApprovalResult, error)
	ConfirmUTN(ctx context.Context, referralID uuid.UUID, actor, utn string) (*referral.Referral, error)
}

type PAIssuer interface {
	Issue(ctx context.Context, actor string, in preauth.IssueInput) (*preauth.PACode, error)
}

type Seeder struct {
	config    SeedConfig
	gen       *DataGenerator
	catalog   Catalog
	referrals Referrals
	pa        PAIssuer
	logger    zerolog.Logger
}

func NewSeeder(config SeedConfig, catalog Catalog, referrals Referrals, pa PAIssuer, logger zerolog.Logger) *Seeder {
	if config.ReferralCount <= 0 {
		config.ReferralCount = DefaultSeedConfig().ReferralCount
	}
	if config.FFSCodesPerReferral < 0 {
		config.FFSCodesPerReferral = 0
	}
	if config.FFSCodesPerReferral > len(ffsServices) {
		config.FFSCodesPerReferral = len(ffsServices)
	}
	return &Seeder{
		config:    config,
		gen:       NewDataGenerator(config.Seed),
		catalog:   catalog,
		referrals: referrals,
		pa:        pa,
		logger:    logger,
	}
}

// Seed creates the demo catalog, then ReferralCount referrals between two
// facilities. Each referral is approved against a bundle (which issues its
// bundle PA), has its UTN confirmed and receives FFS top-up codes.
func (s *Seeder) Seed(ctx context.Context) (*SeedResult, error) {
	res := &SeedResult{}
	for _, def := range demoBundles {
		in := tariff.CreateBundleInput{
			Code:           def.code,
			Name:           def.name,
			DiagnosisICD10: def.icd10,
			FixedPrice:     decimal.RequireFromString(def.price),
		}
		for _, c := range def.components {
			in.Components = append(in.Components, tariff.CreateComponentInput{
				ServiceCode: c.code,
				Description: c.description,
				MaxQuantity: c.maxQty,
				UnitPrice:   decimal.RequireFromString(c.price),
			})
		}
		b, err := s.catalog.CreateBundle(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("create bundle %s: %w", def.code, err)
		}
		res.Bundles = append(res.Bundles, b)
	}

	referring, receiving := s.gen.ID(), s.gen.ID()
	for i := 0; i < s.config.ReferralCount; i++ {
		bundle := res.Bundles[s.gen.pick(len(res.Bundles))]
		r, err := s.referrals.Create(ctx, referral.CreateInput{
			EnrolleeID:          s.gen.ID(),
			ReferringFacilityID: referring,
			ReceivingFacilityID: receiving,
		})
		if err != nil {
			return nil, fmt.Errorf("create referral %d: %w", i, err)
		}

		bundleID := bundle.ID
		approval, err := s.referrals.Approve(ctx, r.ID, SeedActor, referral.ApproveInput{ServiceBundleID: &bundleID})
		if err != nil {
			return nil, fmt.Errorf("approve referral %s: %w", r.ReferralCode, err)
		}
		if approval.BundlePA != nil {
			res.PACodes = append(res.PACodes, approval.BundlePA)
		}
		confirmed, err := s.referrals.ConfirmUTN(ctx, r.ID, SeedActor, *approval.Referral.UTN)
		if err != nil {
			return nil, fmt.Errorf("confirm utn for %s: %w", r.ReferralCode, err)
		}
		r = confirmed

		start := s.gen.pick(len(ffsServices))
		for j := 0; j < s.config.FFSCodesPerReferral; j++ {
			svc := ffsServices[(start+j)%len(ffsServices)]
			p, err := s.pa.Issue(ctx, SeedActor, preauth.IssueInput{
				ReferralID:  r.ID,
				Type:        preauth.TypeFFSTopUp,
				ServiceCode: &svc,
			})
			if err != nil {
				return nil, fmt.Errorf("issue %s pa for %s: %w", svc, r.ReferralCode, err)
			}
			res.PACodes = append(res.PACodes, p)
		}
		res.Referrals = append(res.Referrals, r)
	}

	s.logger.Info().
		Int("bundles", len(res.Bundles)).
		Int("referrals", len(res.Referrals)).
		Int("pa_codes", len(res.PACodes)).
		Msg("demo data seeded")
	return res, nil
}
