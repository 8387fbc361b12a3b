package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus represents the delivery state of an outbox event
type EventStatus string

const (
	EventStatusPending    EventStatus = "PENDING"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusCompleted  EventStatus = "COMPLETED"
	EventStatusFailed     EventStatus = "FAILED"
	EventStatusCancelled  EventStatus = "CANCELLED"
)

// Domain event types recorded in the outbox
const (
	EventTypePledgeCaptured       = "PLEDGE_CAPTURED"
	EventTypePledgeRefunded       = "PLEDGE_REFUNDED"
	EventTypeProjectStatusChanged = "PROJECT_STATUS_CHANGED"
	EventTypeDistributionExecuted = "DISTRIBUTION_EXECUTED"
)

// Aggregate types referenced by outbox events
const (
	AggregateTypeProject      = "PROJECT"
	AggregateTypePledge       = "PLEDGE"
	AggregateTypeDistribution = "DISTRIBUTION"
)

// EventLog represents a durable outbox entry carrying a domain event toward
// external collaborators. RetryCount increases monotonically and is bounded
// by MaxRetries; COMPLETED, FAILED and CANCELLED are immutable terminal
// states.
type EventLog struct {
	ID            uuid.UUID
	EventType     string
	AggregateType string
	AggregateID   uuid.UUID
	Payload       []byte
	Status        EventStatus
	RetryCount    int
	MaxRetries    int
	NextAttemptAt time.Time
	ClaimedAt     *time.Time
	ProcessedAt   *time.Time
	LastError     string
	CreatedAt     time.Time
}

// IsTerminal reports whether the event may no longer change state
func (e *EventLog) IsTerminal() bool {
	switch e.Status {
	case EventStatusCompleted, EventStatusFailed, EventStatusCancelled:
		return true
	}
	return false
}
