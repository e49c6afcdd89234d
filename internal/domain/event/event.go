package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is raised after a report mutation commits. Events produced by one
// operation share a CorrelationID.
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	ReportID      int64                  `json:"report_id"`
	ActorID       int64                  `json:"actor_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates an event with a fresh ID that is its own correlation
func NewEvent(eventType Type, reportID, actorID int64, payload map[string]interface{}) *Event {
	id := uuid.NewString()
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:            id,
		Type:          eventType,
		ReportID:      reportID,
		ActorID:       actorID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: id,
	}
}

// Correlate stamps every event with the ID of the first one and returns it.
// It returns "" for an empty batch.
func Correlate(events []*Event) string {
	if len(events) == 0 {
		return ""
	}
	id := events[0].ID
	for _, evt := range events {
		evt.CorrelationID = id
	}
	return id
}

// String renders a payload value as text, "" when absent
func (e *Event) String(key string) string {
	val, ok := e.Payload[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
