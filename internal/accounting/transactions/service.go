package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eduai/schoolledger/internal/accounting/balances"
	"github.com/eduai/schoolledger/internal/accounting/events"
	"github.com/eduai/schoolledger/internal/accounting/shared"
	internalShared "github.com/eduai/schoolledger/internal/shared"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// AuditPort records ledger transitions for compliance.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Publisher announces committed postings and reversals.
type Publisher interface {
	Publish(ctx context.Context, event events.LedgerEvent) error
}

// ChartInvalidator drops cached charts whose balances changed.
type ChartInvalidator interface {
	InvalidateChart(ctx context.Context, institutionID string)
}

// Metrics receives engine counters.
type Metrics interface {
	ObserveTransition(event string)
	ObserveConflictRetry(operation string)
}

// Service drives transactions through their lifecycle.
type Service struct {
	repo      Repository
	ledger    *balances.Ledger
	policy    ApprovalPolicy
	audit     AuditPort
	publisher Publisher
	charts    ChartInvalidator
	metrics   Metrics
	logger    *slog.Logger
	retries   int
	now       func() time.Time
}

// NewService constructs the transaction engine. A nil policy requires approval
// for every transaction.
func NewService(repo Repository, ledger *balances.Ledger, policy ApprovalPolicy, logger *slog.Logger) *Service {
	if policy == nil {
		policy = RequireAll{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		ledger:  ledger,
		policy:  policy,
		logger:  logger,
		retries: shared.DefaultConflictRetries,
		now:     time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRetries overrides the number of attempts made on concurrency conflicts.
func (s *Service) WithRetries(n int) {
	if n > 0 {
		s.retries = n
	}
}

func (s *Service) WithAudit(a AuditPort)                   { s.audit = a }
func (s *Service) WithPublisher(p Publisher)               { s.publisher = p }
func (s *Service) WithChartInvalidator(c ChartInvalidator) { s.charts = c }
func (s *Service) WithMetrics(m Metrics)                   { s.metrics = m }

// Get returns a transaction with its journal entries.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of transactions and the total match count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transaction, int, error) {
	if strings.TrimSpace(filter.InstitutionID) == "" {
		return nil, 0, shared.Invalid("institutionId", "institution id is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, shared.Invalid("status", "unknown status %q", filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

// Statistics summarises transactions dated within [from, to].
func (s *Service) Statistics(ctx context.Context, institutionID string, from, to time.Time) (Statistics, error) {
	if strings.TrimSpace(institutionID) == "" {
		return Statistics{}, shared.Invalid("institutionId", "institution id is required")
	}
	if to.Before(from) {
		return Statistics{}, shared.Invalid("to", "end date precedes start date")
	}
	return s.repo.Statistics(ctx, institutionID, from, to)
}

// Create validates a request and persists it as DRAFT with a fresh number.
func (s *Service) Create(ctx context.Context, in CreateInput) (Transaction, error) {
	total, err := in.Validate()
	if err != nil {
		return Transaction{}, err
	}
	var created Transaction
	err = s.retry(ctx, "create", func(ctx context.Context) error {
		return s.repo.WithInsertTx(ctx, func(ctx context.Context, tx TxRepository) error {
			entries, err := resolveEntries(ctx, tx, in.InstitutionID, in.Currency, in.Entries)
			if err != nil {
				return err
			}
			now := s.now().UTC()
			period := Period(now)
			seq, err := tx.NextSequence(ctx, in.InstitutionID, period)
			if err != nil {
				return err
			}
			t := Transaction{
				ID:             uuid.New(),
				InstitutionID:  in.InstitutionID,
				Number:         FormatNumber(in.InstitutionID, period, seq),
				Status:         StatusDraft,
				ApprovalStatus: ApprovalNotRequired,
				CreatedBy:      in.Actor,
				CreatedAt:      now,
			}
			applyDetails(&t, in.Details, entries, total, in.Actor, now)
			if err := tx.Insert(ctx, t); err != nil {
				return err
			}
			created = t
			return nil
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	s.after(ctx, created, "create", in.Actor, nil)
	return created, nil
}

func applyDetails(t *Transaction, d Details, entries []JournalEntry, total decimal.Decimal, actor string, now time.Time) {
	t.Description = d.Description
	t.Reference = d.Reference
	t.Type = d.Type
	t.Category = d.Category
	t.Currency = d.Currency
	t.StudentID = d.StudentID
	t.EmployeeID = d.EmployeeID
	t.VendorID = d.VendorID
	t.InvoiceID = d.InvoiceID
	t.Payment = d.Payment
	t.Notes = d.Notes
	t.Entries = entries
	t.TotalAmount = total
	t.Date = d.Date
	if t.Date.IsZero() {
		t.Date = now
	}
	t.Date = t.Date.UTC().Truncate(24 * time.Hour)
	t.UpdatedBy = actor
	t.UpdatedAt = now
}

// resolveEntries snapshots account code and name onto each line. Accounts that
// are missing, inactive or owned by another institution do not resolve.
func resolveEntries(ctx context.Context, tx TxRepository, institutionID, currency string, in []EntryInput) ([]JournalEntry, error) {
	out := make([]JournalEntry, 0, len(in))
	for i, e := range in {
		acct, err := tx.GetAccount(ctx, e.AccountID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil, fmt.Errorf("%w: entries[%d] %s", shared.ErrUnknownAccount, i, e.AccountID)
			}
			return nil, err
		}
		if acct.InstitutionID != institutionID || !acct.IsActive {
			return nil, fmt.Errorf("%w: entries[%d] %s", shared.ErrUnknownAccount, i, e.AccountID)
		}
		if acct.Currency != "" && acct.Currency != currency {
			return nil, shared.Invalid(fmt.Sprintf("entries[%d].accountId", i), "account %s is in %s, transaction is in %s", acct.Code, acct.Currency, currency)
		}
		out = append(out, JournalEntry{
			AccountID:    acct.ID,
			AccountCode:  acct.Code,
			AccountName:  acct.Name,
			DebitAmount:  e.DebitAmount,
			CreditAmount: e.CreditAmount,
			Description:  strings.TrimSpace(e.Description),
		})
	}
	return out, nil
}

// Update replaces the details of a transaction that has not been posted.
// PENDING and APPROVED transactions fall back to DRAFT so the edit is re-approved.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (Transaction, error) {
	total, err := in.Validate()
	if err != nil {
		return Transaction{}, err
	}
	var updated Transaction
	err = s.transition(ctx, id, "update", func(ctx context.Context, tx TxRepository, t *Transaction) error {
		if t.Status.Immutable() {
			return fmt.Errorf("%w: %s is %s", shared.ErrPostedImmutable, t.Number, t.Status)
		}
		if t.Status == StatusCancelled {
			return shared.StateError("update", t.Status)
		}
		entries, err := resolveEntries(ctx, tx, t.InstitutionID, in.Currency, in.Entries)
		if err != nil {
			return err
		}
		applyDetails(t, in.Details, entries, total, in.Actor, s.now().UTC())
		if t.Status != StatusDraft {
			t.Status = StatusDraft
			t.ApprovalStatus = ApprovalNotRequired
			t.ApprovedBy = ""
			t.ApprovedAt = nil
			t.ApprovalComments = ""
		}
		if err := tx.ReplaceEntries(ctx, t.ID, t.Entries); err != nil {
			return err
		}
		updated = *t
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.after(ctx, updated, "update", in.Actor, nil)
	return updated, nil
}

// SubmitForApproval moves a balanced DRAFT to PENDING, or straight to APPROVED
// when the approval policy waives review.
func (s *Service) SubmitForApproval(ctx context.Context, id uuid.UUID, actor string) (Transaction, error) {
	var submitted Transaction
	err := s.transition(ctx, id, "submit", func(ctx context.Context, tx TxRepository, t *Transaction) error {
		if t.Status != StatusDraft {
			return shared.StateError("submit", t.Status)
		}
		if !t.IsBalanced() {
			return shared.ErrUnbalanced
		}
		now := s.now().UTC()
		if s.policy.RequiresApproval(*t) {
			t.Status = StatusPending
			t.ApprovalStatus = ApprovalPending
		} else {
			t.Status = StatusApproved
			t.ApprovalStatus = ApprovalNotRequired
			t.ApprovedAt = &now
			t.ApprovalComments = "approval not required by policy"
		}
		t.UpdatedBy = actor
		t.UpdatedAt = now
		submitted = *t
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.after(ctx, submitted, "submit", actor, map[string]any{"approval_status": submitted.ApprovalStatus})
	return submitted, nil
}

// Approve records an approval decision on a PENDING transaction.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approver, comments string) (Transaction, error) {
	if strings.TrimSpace(approver) == "" {
		return Transaction{}, shared.Invalid("approver", "approver is required")
	}
	var approved Transaction
	err := s.transition(ctx, id, "approve", func(ctx context.Context, tx TxRepository, t *Transaction) error {
		if t.Status != StatusPending {
			return shared.StateError("approve", t.Status)
		}
		now := s.now().UTC()
		t.Status = StatusApproved
		t.ApprovalStatus = ApprovalApproved
		t.ApprovedBy = approver
		t.ApprovedAt = &now
		t.ApprovalComments = comments
		t.UpdatedBy = approver
		t.UpdatedAt = now
		approved = *t
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.after(ctx, approved, "approve", approver, map[string]any{"comments": comments})
	return approved, nil
}

// Reject returns a PENDING transaction to DRAFT so it can be amended.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, approver, comments string) (Transaction, error) {
	if strings.TrimSpace(approver) == "" {
		return Transaction{}, shared.Invalid("approver", "approver is required")
	}
	var rejected Transaction
	err := s.transition(ctx, id, "reject", func(ctx context.Context, tx TxRepository, t *Transaction) error {
		if t.Status != StatusPending {
			return shared.StateError("reject", t.Status)
		}
		t.Status = StatusDraft
		t.ApprovalStatus = ApprovalRejected
		t.ApprovedBy = ""
		t.ApprovedAt = nil
		t.ApprovalComments = comments
		t.UpdatedBy = approver
		t.UpdatedAt = s.now().UTC()
		rejected = *t
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.after(ctx, rejected, "reject", approver, map[string]any{"comments": comments})
	return rejected, nil
}

// Post applies an APPROVED transaction to account balances. Balances and the
// status change commit together or not at all.
func (s *Service) Post(ctx context.Context, id uuid.UUID, actor string) (Transaction, error) {
	var posted Transaction
	err := s.transition(ctx, id, "post", func(ctx context.Context, tx TxRepository, t *Transaction) error {
		if t.Status != StatusApproved || (t.ApprovalStatus != ApprovalApproved && t.ApprovalStatus != ApprovalNotRequired) {
			return shared.StateError("post", t.Status)
		}
		if err := s.applyPosting(ctx, tx, t, actor, false); err != nil {
			return err
		}
		posted = *t
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.after(ctx, posted, "post", actor, map[string]any{"total_amount": posted.TotalAmount.String()})
	s.publish(ctx, events.TypeTransactionPosted, posted, actor)
	return posted, nil
}

// applyPosting moves balances for t and marks it POSTED. Reversals may touch
// accounts deactivated since the original was posted.
func (s *Service) applyPosting(ctx context.Context, tx TxRepository, t *Transaction, actor string, reversal bool) error {
	if !t.IsBalanced() {
		return shared.ErrUnbalanced
	}
	deltas := make([]balances.Delta, 0, len(t.Entries))
	for _, e := range t.Entries {
		deltas = append(deltas, balances.Delta{AccountID: e.AccountID, Debit: e.DebitAmount, Credit: e.CreditAmount})
	}
	apply := s.ledger.ApplyAll
	if reversal {
		apply = s.ledger.ApplyReversal
	}
	if _, err := apply(ctx, tx.Balances(), deltas); err != nil {
		return fmt.Errorf("post %s: %w", t.Number, err)
	}
	now := s.now().UTC()
	t.Status = StatusPosted
	t.PostedBy = actor
	t.PostedAt = &now
	t.UpdatedBy = actor
	t.UpdatedAt = now
	return nil
}

// Reverse neutralises a POSTED transaction with a new, flipped, posted
// transaction and marks the original REVERSED. The original's lines are untouched.
func (s *Service) Reverse(ctx context.Context, id uuid.UUID, reason, actor string) (Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Transaction{}, shared.Invalid("reason", "reversal reason is required")
	}
	if strings.TrimSpace(actor) == "" {
		return Transaction{}, shared.Invalid("actor", "actor is required")
	}
	var reversal, original Transaction
	err := s.retry(ctx, "reverse", func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			orig, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if orig.Status != StatusPosted {
				return fmt.Errorf("%w: %s is %s", shared.ErrNotPosted, orig.Number, orig.Status)
			}
			now := s.now().UTC()
			period := Period(now)
			seq, err := tx.NextSequence(ctx, orig.InstitutionID, period)
			if err != nil {
				return err
			}
			origID := orig.ID
			rev := Transaction{
				ID:               uuid.New(),
				InstitutionID:    orig.InstitutionID,
				Number:           FormatNumber(orig.InstitutionID, period, seq),
				Description:      "REVERSAL: " + orig.Description,
				Reference:        "REV-" + orig.Number,
				Type:             orig.Type,
				Category:         orig.Category,
				Status:           StatusApproved,
				ApprovalStatus:   ApprovalApproved,
				Entries:          flip(orig.Entries),
				TotalAmount:      orig.TotalAmount,
				Currency:         orig.Currency,
				Date:             now.Truncate(24 * time.Hour),
				StudentID:        orig.StudentID,
				EmployeeID:       orig.EmployeeID,
				VendorID:         orig.VendorID,
				InvoiceID:        orig.InvoiceID,
				Notes:            fmt.Sprintf("Reversal of transaction %s. Reason: %s", orig.Number, reason),
				ApprovedBy:       actor,
				ApprovedAt:       &now,
				ApprovalComments: "auto-approved reversal",
				ReversalOf:       &origID,
				CreatedBy:        actor,
				UpdatedBy:        actor,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := tx.Insert(ctx, rev); err != nil {
				return err
			}
			if err := s.applyPosting(ctx, tx, &rev, actor, true); err != nil {
				return err
			}
			if err := tx.UpdateHeader(ctx, rev); err != nil {
				return err
			}
			revID := rev.ID
			orig.Status = StatusReversed
			orig.ReversedBy = &revID
			orig.Notes = appendNote(orig.Notes, fmt.Sprintf("REVERSED on %s by %s: %s", now.Format("2006-01-02"), actor, reason))
			orig.UpdatedBy = actor
			orig.UpdatedAt = now
			if err := tx.UpdateHeader(ctx, orig); err != nil {
				return err
			}
			reversal, original = rev, orig
			return nil
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	s.after(ctx, reversal, "post", actor, map[string]any{"reversal_of": original.Number})
	s.after(ctx, original, "reverse", actor, map[string]any{"reason": reason, "reversal": reversal.Number})
	s.publish(ctx, events.TypeTransactionReversed, reversal, actor)
	return reversal, nil
}

func flip(entries []JournalEntry) []JournalEntry {
	out := make([]JournalEntry, len(entries))
	for i, e := range entries {
		out[i] = JournalEntry{
			AccountID:    e.AccountID,
			AccountCode:  e.AccountCode,
			AccountName:  e.AccountName,
			DebitAmount:  e.CreditAmount,
			CreditAmount: e.DebitAmount,
			Description:  "Reversal: " + e.Description,
		}
	}
	return out
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + " | " + note
}

// Cancel abandons a transaction that has not been posted.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor, reason string) (Transaction, error) {
	var cancelled Transaction
	err := s.transition(ctx, id, "cancel", func(ctx context.Context, tx TxRepository, t *Transaction) error {
		switch t.Status {
		case StatusDraft, StatusPending, StatusApproved:
		default:
			return shared.StateError("cancel", t.Status)
		}
		now := s.now().UTC()
		t.Status = StatusCancelled
		if reason = strings.TrimSpace(reason); reason != "" {
			t.Notes = appendNote(t.Notes, fmt.Sprintf("CANCELLED on %s by %s: %s", now.Format("2006-01-02"), actor, reason))
		}
		t.UpdatedBy = actor
		t.UpdatedAt = now
		cancelled = *t
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.after(ctx, cancelled, "cancel", actor, map[string]any{"reason": reason})
	return cancelled, nil
}

// Delete removes a transaction that never reached the books.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	var deleted Transaction
	err := s.retry(ctx, "delete", func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			t, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if t.Status.Immutable() {
				return fmt.Errorf("%w: %s is %s", shared.ErrPostedImmutable, t.Number, t.Status)
			}
			if t.Status == StatusCancelled {
				return shared.StateError("delete", t.Status)
			}
			deleted = t
			return tx.Delete(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	s.after(ctx, deleted, "delete", actor, nil)
	return nil
}

// transition loads the transaction under lock, lets fn mutate it, and persists
// the header in the same storage transaction.
func (s *Service) transition(ctx context.Context, id uuid.UUID, op string, fn func(context.Context, TxRepository, *Transaction) error) error {
	return s.retry(ctx, op, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			t, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := fn(ctx, tx, &t); err != nil {
				return err
			}
			return tx.UpdateHeader(ctx, t)
		})
	})
}

func (s *Service) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := 0
	return shared.RetryOnConflict(ctx, s.retries, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && s.metrics != nil {
			s.metrics.ObserveConflictRetry(op)
		}
		return fn(ctx)
	})
}

func (s *Service) after(ctx context.Context, t Transaction, event, actor string, meta map[string]any) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(event)
	}
	if event == "post" && s.charts != nil {
		s.charts.InvalidateChart(ctx, t.InstitutionID)
	}
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = t.Number
	meta["status"] = t.Status
	if err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:       actor,
		InstitutionID: t.InstitutionID,
		Action:        "transaction." + event,
		Entity:        "transaction",
		EntityID:      t.ID.String(),
		Meta:          meta,
		At:            s.now(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", event), slog.Any("error", err))
	}
}

// publish is best effort: the posting has committed and must not be reported as failed.
func (s *Service) publish(ctx context.Context, eventType string, t Transaction, actor string) {
	if s.publisher == nil {
		return
	}
	ev := events.LedgerEvent{
		Type:          eventType,
		TransactionID: t.ID,
		InstitutionID: t.InstitutionID,
		Number:        t.Number,
		TotalAmount:   t.TotalAmount,
		Currency:      t.Currency,
		Actor:         actor,
		ReversalOf:    t.ReversalOf,
		OccurredAt:    s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish ledger event", slog.String("type", eventType), slog.String("transaction", t.Number), slog.Any("error", err))
	}
}
