package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/schemehealth/claims/internal/domain/claims"
	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/db"
	"github.com/schemehealth/claims/internal/platform/events"
	"github.com/schemehealth/claims/internal/platform/lock"
	"github.com/schemehealth/claims/internal/platform/validation"
)

// ClaimLister lists a batch's member claims.
type ClaimLister interface {
	List(ctx context.Context, f claims.ListFilter) ([]*claims.Claim, int, error)
}

type Service struct {
	repo      Repository
	tx        db.Transactor
	claims    ClaimLister
	locker    lock.Locker
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, tx db.Transactor, claims ClaimLister, locker lock.Locker,
	publisher events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		claims:    claims,
		locker:    locker,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// newBatchNumber returns PB-YYYYMM-<ULID>.
func newBatchNumber(month string) string {
	return "PB-" + strings.ReplaceAll(month, "-", "") + "-" + ulid.Make().String()
}

// CreateBatch sweeps the month's approved, unbatched claims into a new
// pending batch. The selection is locked and the assignment is conditional,
// so a claim can only ever land in one batch.
func (s *Service) CreateBatch(ctx context.Context, actor string, in CreateBatchInput) (*Batch, error) {
	from, to, err := validation.MonthRange(in.BatchMonth)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, lock.BatchKey(in.BatchMonth, in.FacilityID))
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, apperr.Conflict(apperr.CodeOperationInProgress, "a batch for "+in.BatchMonth+" is already being created")
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("batch_month", in.BatchMonth).Msg("release batch lock")
		}
	}()

	var b *Batch
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		eligible, err := s.repo.SelectEligible(ctx, from, to, in.FacilityID)
		if err != nil {
			return err
		}
		if len(eligible) == 0 {
			return apperr.Domain(apperr.CodeNoEligibleClaims, "no approved claims awaiting payment for "+in.BatchMonth)
		}

		b = &Batch{
			BatchNumber:       newBatchNumber(in.BatchMonth),
			BatchMonth:        in.BatchMonth,
			FacilityID:        in.FacilityID,
			Status:            StatusPending,
			ClaimsCount:       len(eligible),
			TotalBundleAmount: decimal.Zero,
			TotalFFSAmount:    decimal.Zero,
			TotalAmount:       decimal.Zero,
			CreatedBy:         actor,
		}
		ids := make([]uuid.UUID, len(eligible))
		for i, c := range eligible {
			ids[i] = c.ID
			b.TotalBundleAmount = b.TotalBundleAmount.Add(c.BundleAmount)
			b.TotalFFSAmount = b.TotalFFSAmount.Add(c.FFSAmount)
			b.TotalAmount = b.TotalAmount.Add(c.PayableAmount())
		}
		if err := s.repo.Create(ctx, b); err != nil {
			return err
		}

		assigned, err := s.repo.AssignClaims(ctx, b.ID, ids)
		if err != nil {
			return err
		}
		if assigned != int64(len(ids)) {
			return apperr.Internal(fmt.Errorf("assigned %d of %d claims to batch %s", assigned, len(ids), b.BatchNumber))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", b.ID.String()).
		Str("batch_number", b.BatchNumber).
		Int("claims_count", b.ClaimsCount).
		Str("total_amount", b.TotalAmount.StringFixed(2)).
		Str("actor", actor).
		Msg("payment batch created")
	events.PublishAfterCommit(ctx, s.publisher, s.logger, events.New(events.BatchCreated, db.SchemeFromContext(ctx), b))
	return b, nil
}

// transition locks the batch, applies ev and lets mutate fill in the
// event's fields before the batch and its claims are written.
func (s *Service) transition(ctx context.Context, id uuid.UUID, ev Event, mutate func(ctx context.Context, b *Batch, now time.Time) error) (*Batch, error) {
	var b *Batch
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Transition(b.Status, ev)
		if err != nil {
			return err
		}
		b.Status = next
		now := s.now()
		if err := mutate(ctx, b, now); err != nil {
			return err
		}
		return s.repo.Update(ctx, b)
	})
	return b, err
}

// Process hands a pending batch to the payment rail.
func (s *Service) Process(ctx context.Context, id uuid.UUID, actor string, in ProcessInput) (*Batch, error) {
	b, err := s.transition(ctx, id, EventProcess, func(ctx context.Context, b *Batch, now time.Time) error {
		b.ProcessedBy, b.ProcessedAt = &actor, &now
		method := in.PaymentMethod
		b.PaymentMethod = &method
		if in.PaymentReference != nil && strings.TrimSpace(*in.PaymentReference) != "" {
			b.PaymentReference = in.PaymentReference
		}
		b.BankDetails = in.BankDetails
		b.PaymentDate = in.PaymentDate
		_, err := s.repo.MarkClaimsProcessed(ctx, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("batch_id", b.ID.String()).Str("payment_method", in.PaymentMethod).Str("actor", actor).Msg("payment batch processing")
	events.PublishAfterCommit(ctx, s.publisher, s.logger, events.New(events.BatchProcessing, db.SchemeFromContext(ctx), b))
	return b, nil
}

// MarkPaid settles a processing batch and every member claim not yet paid.
// The payment reference may have been given when processing started.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, actor string, in MarkPaidInput) (*Batch, error) {
	var paid int64
	b, err := s.transition(ctx, id, EventMarkPaid, func(ctx context.Context, b *Batch, now time.Time) error {
		if in.PaymentReference != nil && strings.TrimSpace(*in.PaymentReference) != "" {
			b.PaymentReference = in.PaymentReference
		}
		if b.PaymentReference == nil {
			return apperr.Field("payment_reference", "is required")
		}
		b.PaidBy, b.PaidAt = &actor, &now
		if in.Notes != nil {
			b.Notes = in.Notes
		}
		var err error
		paid, err = s.repo.MarkClaimsPaid(ctx, b.ID, *b.PaymentReference, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("batch_id", b.ID.String()).Int64("claims_paid", paid).Str("actor", actor).Msg("payment batch paid")
	events.PublishAfterCommit(ctx, s.publisher, s.logger, events.New(events.BatchPaid, db.SchemeFromContext(ctx), b))
	return b, nil
}

// MarkFailed records a failed payment run and releases the unpaid claims so
// a later batch can pick them up.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, actor, reason string) (*Batch, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Field("reason", "is required")
	}
	var released int64
	b, err := s.transition(ctx, id, EventMarkFailed, func(ctx context.Context, b *Batch, now time.Time) error {
		b.FailedAt = &now
		b.FailureReason = &reason
		var err error
		released, err = s.repo.ReleaseClaims(ctx, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn().Str("batch_id", b.ID.String()).Int64("claims_released", released).Str("reason", reason).Str("actor", actor).Msg("payment batch failed")
	events.PublishAfterCommit(ctx, s.publisher, s.logger, events.New(events.BatchFailed, db.SchemeFromContext(ctx), b))
	return b, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Batch, int, error) {
	return s.repo.List(ctx, f)
}

// Claims lists the batch's member claims.
func (s *Service) Claims(ctx context.Context, batchID uuid.UUID, limit, offset int) ([]*claims.Claim, int, error) {
	if _, err := s.repo.GetByID(ctx, batchID); err != nil {
		return nil, 0, err
	}
	return s.claims.List(ctx, claims.ListFilter{PaymentBatchID: &batchID, Limit: limit, Offset: offset})
}
