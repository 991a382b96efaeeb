package model

import "time"

// EventType names a domain event consumed by the notification layer.
type EventType string

// Domain events emitted by the core.
const (
	EventRoundOpened          EventType = "round.opened"
	EventContributionRecorded EventType = "contribution.recorded"
	EventContributionOverdue  EventType = "contribution.overdue"
	EventContributionMissed   EventType = "contribution.missed"
	EventPayoutReleased       EventType = "payout.released"
	EventCircleCompleted      EventType = "circle.completed"
	EventComplianceFailed     EventType = "compliance.failed"
)

// Event is a typed domain event. Data holds event-specific fields.
type Event struct {
	OccurredAt  time.Time      `json:"occurred_at"`
	Data        map[string]any `json:"data,omitempty"`
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	AggregateID string         `json:"aggregate_id"`
}
