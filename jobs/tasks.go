package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// queueWeights gives integrity checks most of the worker's capacity.
var queueWeights = map[string]int{
	QueueCritical:    6,
	QueueDefault:     3,
	QueueMaintenance: 1,
}

const (
	// QueueCritical carries integrity checks.
	QueueCritical = "ledger-critical"
	// QueueDefault carries cache maintenance.
	QueueDefault = "default"
	// QueueMaintenance carries housekeeping that may lag.
	QueueMaintenance = "ledger-maintenance"
	// TaskGLIntegrity compares stored balances against posted journal lines.
	TaskGLIntegrity = "gl:integrity"
	// TaskChartWarmup pre-populates the chart of accounts cache.
	TaskChartWarmup = "ledger:chart_warmup"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// GLIntegrityPayload limits a check to one institution. Empty means all.
type GLIntegrityPayload struct {
	InstitutionID string `json:"institution_id,omitempty"`
}

// ChartWarmupPayload limits warmup to one institution. Empty means all.
type ChartWarmupPayload struct {
	InstitutionID string `json:"institution_id,omitempty"`
}

// IdempotencyCleanupPayload carries the key retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewGLIntegrityTask constructs the integrity check task.
func NewGLIntegrityTask(institutionID string) (*asynq.Task, error) {
	body, err := json.Marshal(GLIntegrityPayload{InstitutionID: institutionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, body, asynq.Queue(QueueCritical)), nil
}

// NewChartWarmupTask constructs the chart cache warmup task.
func NewChartWarmupTask(institutionID string) (*asynq.Task, error) {
	body, err := json.Marshal(ChartWarmupPayload{InstitutionID: institutionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskChartWarmup, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs the key purge task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueMaintenance)), nil
}
