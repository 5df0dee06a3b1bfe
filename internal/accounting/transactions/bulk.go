package transactions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/eduai/schoolledger/internal/accounting/shared"
)

// MaxBulkIDs caps how many transactions one bulk call may touch.
const MaxBulkIDs = 100

// BulkFailure names a transaction a bulk call could not move and why.
type BulkFailure struct {
	ID    uuid.UUID `json:"id"`
	Error string    `json:"error"`
	Err   error     `json:"-"`
}

// BulkResult splits a bulk call into the transactions that moved and those
// that did not, in request order.
type BulkResult struct {
	Succeeded []Transaction
	Failed    []BulkFailure
}

// BulkApprove approves each PENDING transaction of institutionID. Every id runs
// in its own storage transaction, so one failure never rolls back the others.
func (s *Service) BulkApprove(ctx context.Context, institutionID string, ids []uuid.UUID, approver, comments string) (BulkResult, error) {
	return s.bulk(ctx, institutionID, ids, func(ctx context.Context, id uuid.UUID) (Transaction, error) {
		return s.Approve(ctx, id, approver, comments)
	})
}

// BulkPost posts each APPROVED transaction of institutionID, one storage
// transaction per id.
func (s *Service) BulkPost(ctx context.Context, institutionID string, ids []uuid.UUID, actor string) (BulkResult, error) {
	return s.bulk(ctx, institutionID, ids, func(ctx context.Context, id uuid.UUID) (Transaction, error) {
		return s.Post(ctx, id, actor)
	})
}

func (s *Service) bulk(ctx context.Context, institutionID string, ids []uuid.UUID, apply func(context.Context, uuid.UUID) (Transaction, error)) (BulkResult, error) {
	switch {
	case institutionID == "":
		return BulkResult{}, shared.Invalid("institutionId", "institution is required")
	case len(ids) == 0:
		return BulkResult{}, shared.Invalid("transactionIds", "at least one transaction id is required")
	case len(ids) > MaxBulkIDs:
		return BulkResult{}, shared.Invalid("transactionIds", "at most %d transaction ids per call", MaxBulkIDs)
	}
	result := BulkResult{Succeeded: []Transaction{}, Failed: []BulkFailure{}}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		t, err := s.bulkOne(ctx, institutionID, id, apply)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			result.Failed = append(result.Failed, BulkFailure{ID: id, Error: err.Error(), Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, t)
	}
	return result, nil
}

// bulkOne reports ids owned by another institution as not found.
func (s *Service) bulkOne(ctx context.Context, institutionID string, id uuid.UUID, apply func(context.Context, uuid.UUID) (Transaction, error)) (Transaction, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if current.InstitutionID != institutionID {
		return Transaction{}, fmt.Errorf("%w: %s", shared.ErrTransactionNotFound, id)
	}
	return apply(ctx, id)
}
