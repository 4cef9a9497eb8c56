// Package events shares session transitions between client instances that use
// the same durable storage. Events carry no credentials; a receiver re-reads
// the session from storage.
package events

import (
	"fmt"
	"strconv"
	"time"

	"calmie/internal/session"
)

type Event struct {
	Origin string
	State  string
	UserID int64
	At     time.Time
}

func eventFromSnapshot(origin string, snap session.Snapshot) Event {
	e := Event{
		Origin: origin,
		State:  snap.State.String(),
		At:     time.Now().UTC(),
	}
	if snap.User != nil {
		e.UserID = snap.User.ID
	}
	return e
}

func (e Event) values() map[string]any {
	return map[string]any{
		"origin":  e.Origin,
		"state":   e.State,
		"user_id": strconv.FormatInt(e.UserID, 10),
		"at":      e.At.Format(time.RFC3339Nano),
	}
}

func parseEvent(values map[string]interface{}) (Event, error) {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}

	e := Event{Origin: str("origin"), State: str("state")}
	if e.Origin == "" {
		return Event{}, fmt.Errorf("event has no origin")
	}
	if raw := str("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Event{}, fmt.Errorf("parse user_id: %w", err)
		}
		e.UserID = id
	}
	if raw := str("at"); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Event{}, fmt.Errorf("parse at: %w", err)
		}
		e.At = at
	}
	return e, nil
}
