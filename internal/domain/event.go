package domain

import (
	"encoding/json"
	"fmt"
)

type EventType string

const (
	// EventNew carries a NotificationSummary.
	EventNew EventType = "NEW"
	// EventRead carries the ReadReceipt created by a first read.
	EventRead EventType = "READ"
)

// Event is what the change feed emits and live transports push to clients.
// On the wire it is {"type": ..., "payload": ...}.
type Event struct {
	Type         EventType
	Notification *NotificationSummary
	Receipt      *ReadReceipt
}

func NewNotificationEvent(n *Notification) Event {
	s := n.Summary()
	return Event{Type: EventNew, Notification: &s}
}

func ReadEvent(r ReadReceipt) Event {
	return Event{Type: EventRead, Receipt: &r}
}

// ID identifies the event for per-session de-duplication.
func (e Event) ID() string {
	switch {
	case e.Type == EventNew && e.Notification != nil:
		return "new:" + e.Notification.ID
	case e.Type == EventRead && e.Receipt != nil:
		return "read:" + e.Receipt.UserID + ":" + e.Receipt.NotificationID
	}
	return ""
}

// Channels returns the live channels the event is routed to.
func (e Event) Channels() []string {
	switch {
	case e.Type == EventNew && e.Notification != nil:
		return e.Notification.Audience.Channels()
	case e.Type == EventRead && e.Receipt != nil:
		return []string{UserChannel(e.Receipt.UserID)}
	}
	return nil
}

type eventEnvelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	var payload interface{}
	switch e.Type {
	case EventNew:
		payload = e.Notification
	case EventRead:
		payload = e.Receipt
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Type: e.Type, Payload: raw})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	*e = Event{Type: env.Type}
	switch env.Type {
	case EventNew:
		e.Notification = &NotificationSummary{}
		return json.Unmarshal(env.Payload, e.Notification)
	case EventRead:
		e.Receipt = &ReadReceipt{}
		return json.Unmarshal(env.Payload, e.Receipt)
	}
	return fmt.Errorf("unknown event type %q", env.Type)
}
