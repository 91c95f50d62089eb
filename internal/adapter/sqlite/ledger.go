package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/neomorfeo/subiq/internal/domain"
)

// Compile-time check: Ledger implements the domain port.
var _ domain.AuditLedger = (*Ledger)(nil)

// Ledger is the append-only audit event store. Rows are only ever inserted;
// there is no update or delete path.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a ledger on the shared store.
func NewLedger(store *Store) *Ledger {
	return &Ledger{db: store.DB()}
}

// Record appends one event. A write failure is returned to the caller:
// the ledger never drops an event silently.
func (l *Ledger) Record(ctx context.Context, event domain.AuditEvent) error {
	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, entity_type, entity_id, event_type,
		    actor, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.EntityType, event.EntityID, event.EventType,
		event.Actor, string(payload), formatTime(event.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.StateConflictError{
				Message: fmt.Sprintf("audit event %s already recorded", event.ID),
			}
		}
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// ListByEntity returns the recorded events for one entity, oldest first.
func (l *Ledger) ListByEntity(ctx context.Context, entityType, entityID string) ([]domain.AuditEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, entity_type, entity_id, event_type, actor, payload, created_at
		 FROM audit_events
		 WHERE entity_type = ? AND entity_id = ?
		 ORDER BY created_at, id`,
		entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var payload, createdAt string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.EventType,
			&e.Actor, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}
