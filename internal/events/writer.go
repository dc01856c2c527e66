package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends immutable history records. Transition events are written in
// the same transaction as the status change they record.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, siteID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,site_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(siteID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// AppendTransition records one applied workflow action: the edge walked and
// the validated payload that drove it.
func (w Writer) AppendTransition(ctx context.Context, tx *sql.Tx, siteID, entityKind, entityID, actorID, action, from, to string, payload map[string]any) error {
	p := EventPayload{
		"action": action,
		"from":   from,
		"to":     to,
	}
	if len(payload) > 0 {
		p["fields"] = payload
	}
	return w.Append(ctx, tx, entityKind+"."+action, siteID, entityKind, entityID, actorID, p)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
