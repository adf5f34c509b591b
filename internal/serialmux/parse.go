package serialmux

import (
	"encoding/json"
	"strings"
)

const (
	EventTypeOdometry = "odom"
	EventTypeState    = "state"
	EventTypeAck      = "ack"
	EventTypeUnknown  = "unknown"
)

// ClassifyPayload returns the event type token of a bridge line. Lines are
// JSON objects carrying a "type" member; anything else is unknown.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		return EventTypeUnknown
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return EventTypeUnknown
	}
	switch envelope.Type {
	case EventTypeOdometry, EventTypeState, EventTypeAck:
		return envelope.Type
	}
	return EventTypeUnknown
}
