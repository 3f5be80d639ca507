package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Actions recorded in the audit trail. Event types are "<entity>.<action>",
// e.g. certificate.approved or issued.invalidated.
const (
	ActionSubmitted   = "submitted"
	ActionApproved    = "approved"
	ActionRejected    = "rejected"
	ActionReleased    = "released"
	ActionProgress    = "progress"
	ActionDeleted     = "deleted"
	ActionIssued      = "issued"
	ActionInvalidated = "invalidated"
	ActionSigned      = "signed"
	ActionCreated     = "created"
)

// EntityIssued and EntityAPIKey complement the request kinds as audit entities.
const (
	EntityIssued = "issued"
	EntityAPIKey = "apikey"
)

func Type(entity, action string) string {
	return entity + "." + action
}

// Writer appends audit rows inside the caller's transaction, so an event is
// visible exactly when the change it describes is.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload Payload) error {
	if tx == nil {
		return fmt.Errorf("append %s event: transaction required", evtType)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
