package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is one row of audit_logs. A zero At means "now" on the database clock.
type AuditLog struct {
	ActorID       string
	InstitutionID string
	Action        string
	Entity        string
	EntityID      string
	Meta          map[string]any
	At            time.Time
}

// AuditLogger appends ledger events to audit_logs. Rows are never updated.
type AuditLogger struct {
	pool *pgxpool.Pool
}

func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

const insertAuditLog = `INSERT INTO audit_logs (actor_id, institution_id, action, entity, entity_id, meta, occurred_at)
VALUES (@actor, @institution, @action, @entity, @entity_id, @meta, COALESCE(@at, NOW()))`

// Record validates entry and inserts it.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("shared: audit logger has no database")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("shared: encode audit meta: %w", err)
	}
	args := pgx.NamedArgs{
		"actor":       entry.ActorID,
		"institution": entry.InstitutionID,
		"action":      entry.Action,
		"entity":      entry.Entity,
		"entity_id":   entry.EntityID,
		"meta":        meta,
		"at":          nil,
	}
	if !entry.At.IsZero() {
		args["at"] = entry.At
	}
	if _, err := l.pool.Exec(ctx, insertAuditLog, args); err != nil {
		return fmt.Errorf("shared: insert audit log: %w", err)
	}
	return nil
}

func (entry AuditLog) validate() error {
	switch {
	case entry.Action == "":
		return errors.New("shared: audit log needs an action")
	case entry.Entity == "":
		return errors.New("shared: audit log needs an entity")
	case entry.EntityID == "":
		return errors.New("shared: audit log needs an entity id")
	}
	return nil
}
