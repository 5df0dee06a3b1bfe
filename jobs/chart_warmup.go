package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/eduai/schoolledger/internal/accounting/accounts"
	jobmetrics "github.com/eduai/schoolledger/internal/jobs"
)

// ChartSource loads a chart of accounts through the cache.
type ChartSource interface {
	ChartOfAccounts(ctx context.Context, institutionID string) ([]accounts.ChartNode, error)
}

// InstitutionLister enumerates institutions with a chart of accounts.
type InstitutionLister interface {
	Institutions(ctx context.Context) ([]string, error)
}

// ChartWarmupJob pre-populates the chart of accounts cache.
type ChartWarmupJob struct {
	Charts       ChartSource
	Institutions InstitutionLister
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	Timeout      time.Duration
}

// NewChartWarmupJob wires dependencies for the warmup handler.
func NewChartWarmupJob(charts ChartSource, institutions InstitutionLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *ChartWarmupJob {
	return &ChartWarmupJob{Charts: charts, Institutions: institutions, Logger: logger, Metrics: metrics, Timeout: 20 * time.Second}
}

// Handle processes TaskChartWarmup tasks.
func (j *ChartWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Charts == nil {
		return errors.New("chart warmup: handler not configured")
	}
	var payload ChartWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload.InstitutionID)
	return err
}

// Run warms one institution, or all of them when institutionID is empty, and
// returns how many charts were loaded.
func (j *ChartWarmupJob) Run(ctx context.Context, institutionID string) (warmed int, resultErr error) {
	tracker := j.metrics().Track(TaskChartWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.logger()

	institutions := []string{institutionID}
	if institutionID == "" {
		if j.Institutions == nil {
			return 0, errors.New("chart warmup: institution lister not configured")
		}
		list, err := j.Institutions.Institutions(ctx)
		if err != nil {
			logger.Error("load institutions", slog.Any("error", err))
			return 0, err
		}
		institutions = list
	}
	for _, inst := range institutions {
		if err := j.warm(ctx, inst); err != nil {
			logger.Error("warm chart", slog.String("institution", inst), slog.Any("error", err))
			return warmed, err
		}
		warmed++
	}
	logger.Info("completed chart warmup", slog.Int("institutions", warmed))
	return warmed, nil
}

func (j *ChartWarmupJob) warm(ctx context.Context, institutionID string) error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	scopeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := j.Charts.ChartOfAccounts(scopeCtx, institutionID)
	return err
}

func (j *ChartWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskChartWarmup))
	}
	return slog.Default().With(slog.String("job", TaskChartWarmup))
}

func (j *ChartWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
