package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/eduai/schoolledger/internal/jobs"
)

const integrityParallelism = 4

// BalanceDrift is an account whose stored balances disagree with its posted lines.
type BalanceDrift struct {
	AccountID    uuid.UUID
	Code         string
	StoredDebit  decimal.Decimal
	StoredCredit decimal.Decimal
	LinesDebit   decimal.Decimal
	LinesCredit  decimal.Decimal
}

// UnbalancedTransaction is a posted transaction whose lines do not net to zero.
type UnbalancedTransaction struct {
	TransactionID uuid.UUID
	Number        string
	Debit         decimal.Decimal
	Credit        decimal.Decimal
}

// IntegrityReport summarises one institution's check.
type IntegrityReport struct {
	InstitutionID string
	Drift         []BalanceDrift
	Unbalanced    []UnbalancedTransaction
}

// Clean reports whether no discrepancy was found.
func (r IntegrityReport) Clean() bool {
	return len(r.Drift) == 0 && len(r.Unbalanced) == 0
}

// IntegritySource reads the ledger for the integrity check. Implementations must not write.
type IntegritySource interface {
	Institutions(ctx context.Context) ([]string, error)
	BalanceDrift(ctx context.Context, institutionID string) ([]BalanceDrift, error)
	UnbalancedTransactions(ctx context.Context, institutionID string) ([]UnbalancedTransaction, error)
}

// GLIntegrityJob verifies stored balances against the journal. It never mutates balances.
type GLIntegrityJob struct {
	Source  IntegritySource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob wires dependencies for the integrity handler.
func NewGLIntegrityJob(source IntegritySource, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Source: source, Logger: logger, Metrics: metrics}
}

// Handle processes TaskGLIntegrity tasks.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload.InstitutionID)
	return err
}

// Run checks one institution, or all of them when institutionID is empty.
// Reports are ordered by institution id.
func (j *GLIntegrityJob) Run(ctx context.Context, institutionID string) (reports []IntegrityReport, resultErr error) {
	if j.Source == nil {
		return nil, errors.New("gl integrity: source not configured")
	}
	tracker := j.metrics().Track(TaskGLIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.logger()
	start := time.Now()

	institutions := []string{institutionID}
	if institutionID == "" {
		list, err := j.Source.Institutions(ctx)
		if err != nil {
			logger.Error("load institutions", slog.Any("error", err))
			return nil, err
		}
		institutions = list
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(integrityParallelism)
	for _, inst := range institutions {
		g.Go(func() error {
			report, err := j.check(gctx, inst)
			if err != nil {
				logger.Error("check institution", slog.String("institution", inst), slog.Any("error", err))
				return err
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(reports, func(a, b int) bool { return reports[a].InstitutionID < reports[b].InstitutionID })

	drift, unbalanced := 0, 0
	for _, r := range reports {
		drift += len(r.Drift)
		unbalanced += len(r.Unbalanced)
		j.logReport(logger, r)
	}
	j.metrics().AddMismatches("balance", drift)
	j.metrics().AddMismatches("unbalanced", unbalanced)
	logger.Info("gl integrity check completed",
		slog.Int("institutions", len(reports)),
		slog.Int("balance_mismatches", drift),
		slog.Int("unbalanced_transactions", unbalanced),
		slog.Duration("duration", time.Since(start)))
	return reports, nil
}

func (j *GLIntegrityJob) check(ctx context.Context, institutionID string) (IntegrityReport, error) {
	report := IntegrityReport{InstitutionID: institutionID}
	drift, err := j.Source.BalanceDrift(ctx, institutionID)
	if err != nil {
		return report, err
	}
	unbalanced, err := j.Source.UnbalancedTransactions(ctx, institutionID)
	if err != nil {
		return report, err
	}
	report.Drift, report.Unbalanced = drift, unbalanced
	return report, nil
}

func (j *GLIntegrityJob) logReport(logger *slog.Logger, r IntegrityReport) {
	for _, d := range r.Drift {
		logger.Error("account balance disagrees with posted lines",
			slog.String("institution", r.InstitutionID),
			slog.String("account", d.Code),
			slog.String("stored_debit", d.StoredDebit.String()),
			slog.String("stored_credit", d.StoredCredit.String()),
			slog.String("lines_debit", d.LinesDebit.String()),
			slog.String("lines_credit", d.LinesCredit.String()))
	}
	for _, u := range r.Unbalanced {
		logger.Error("posted transaction is unbalanced",
			slog.String("institution", r.InstitutionID),
			slog.String("number", u.Number),
			slog.String("debit", u.Debit.String()),
			slog.String("credit", u.Credit.String()))
	}
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskGLIntegrity))
}

func (j *GLIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// IntegrityRepository reads integrity data from Postgres.
type IntegrityRepository struct {
	pool *pgxpool.Pool
}

func NewIntegrityRepository(pool *pgxpool.Pool) *IntegrityRepository {
	return &IntegrityRepository{pool: pool}
}

func (r *IntegrityRepository) Institutions(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT institution_id FROM accounts ORDER BY institution_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *IntegrityRepository) BalanceDrift(ctx context.Context, institutionID string) ([]BalanceDrift, error) {
	const query = `
WITH movements AS (
    SELECT l.account_id, SUM(l.debit) AS debit, SUM(l.credit) AS credit
    FROM transaction_lines l
    JOIN transactions t ON t.id = l.transaction_id
    WHERE t.institution_id = $1 AND t.status IN ('POSTED', 'REVERSED')
    GROUP BY l.account_id
)
SELECT a.id, a.code, a.debit_balance, a.credit_balance, COALESCE(m.debit, 0), COALESCE(m.credit, 0)
FROM accounts a
LEFT JOIN movements m ON m.account_id = a.id
WHERE a.institution_id = $1
  AND (a.debit_balance <> COALESCE(m.debit, 0) OR a.credit_balance <> COALESCE(m.credit, 0))
ORDER BY a.code`
	rows, err := r.pool.Query(ctx, query, institutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BalanceDrift
	for rows.Next() {
		var d BalanceDrift
		if err := rows.Scan(&d.AccountID, &d.Code, &d.StoredDebit, &d.StoredCredit, &d.LinesDebit, &d.LinesCredit); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *IntegrityRepository) UnbalancedTransactions(ctx context.Context, institutionID string) ([]UnbalancedTransaction, error) {
	const query = `
SELECT t.id, t.number, SUM(l.debit), SUM(l.credit)
FROM transactions t
JOIN transaction_lines l ON l.transaction_id = t.id
WHERE t.institution_id = $1 AND t.status IN ('POSTED', 'REVERSED')
GROUP BY t.id, t.number
HAVING SUM(l.debit) <> SUM(l.credit) OR SUM(l.debit) <> MAX(t.total_amount)
ORDER BY t.number`
	rows, err := r.pool.Query(ctx, query, institutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnbalancedTransaction
	for rows.Next() {
		var u UnbalancedTransaction
		if err := rows.Scan(&u.TransactionID, &u.Number, &u.Debit, &u.Credit); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
