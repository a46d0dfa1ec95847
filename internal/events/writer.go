package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event types written by the evaluation pipeline.
const (
	TypeGateEvaluated    = "gate.evaluated"
	TypeVerdictPersisted = "verdict.persisted"
	TypeAPIKeyCreated    = "apikey.created"
)

// Writer appends to the audit log. Events are never updated or deleted.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append writes one event. When tx is non-nil the event commits with the caller's
// changes; otherwise it is written directly through DB. taskID may be empty for
// workspace-level events such as key creation.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, taskID, runID, actorID string, payload EventPayload) error {
	if evtType == "" {
		return errors.New("event type is required")
	}
	var c execer = tx
	if tx == nil {
		if w.DB == nil {
			return errors.New("event writer has no database")
		}
		c = w.DB
	}
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", evtType, err)
	}
	_, err = c.ExecContext(ctx, `INSERT INTO events(ts,type,task_id,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, nullable(taskID), nullable(runID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
