package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Atomic runs fn inside a single storage transaction. Repository calls made
// with the ctx passed to fn join that transaction, so multi-aggregate
// mutations (e.g. pledge status + project amount + outbox append) commit
// all-or-nothing.
type Atomic interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProjectRepository defines the interface for funding project persistence
type ProjectRepository interface {
	// GetByID retrieves a project by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*FundingProject, error)

	// Create creates a new project in DRAFT
	Create(ctx context.Context, project *FundingProject) error

	// UpdateStatus applies a status transition guarded by the expected
	// current status and version. Returns StateConflictError if the row
	// moved underneath the caller.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to ProjectStatus, version int) error

	// AdjustCurrentAmount applies a signed delta to CurrentAmount guarded
	// by version. Only the pledge ledger calls this.
	AdjustCurrentAmount(ctx context.Context, id uuid.UUID, delta decimal.Decimal, version int) error

	// ListEnded retrieves COLLECTING projects whose end date has passed,
	// capped at limit. The deadline sweeper consumes this.
	ListEnded(ctx context.Context, now time.Time, limit int) ([]*FundingProject, error)
}

// PledgeRepository defines the interface for pledge persistence
type PledgeRepository interface {
	// GetByID retrieves a pledge by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*Pledge, error)

	// GetByIdempotencyKey retrieves the pledge for one intake attempt.
	// Returns ErrNotFound when no pledge exists for the triple.
	GetByIdempotencyKey(ctx context.Context, projectID, payerID uuid.UUID, key string) (*Pledge, error)

	// Create inserts a new pledge. Returns ErrDuplicatePledge when the
	// (project, payer, idempotency key) unique index rejects the row.
	Create(ctx context.Context, pledge *Pledge) error

	// UpdateStatus applies a status transition guarded by the expected
	// current status and version (compare-and-swap).
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to PledgeStatus, version int) error

	// SetPaymentID records the gateway token obtained on authorize
	SetPaymentID(ctx context.Context, id uuid.UUID, paymentID string, version int) error

	// AddRefund accumulates a refund and optionally moves the pledge to
	// REFUNDED, guarded by version.
	AddRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, toStatus PledgeStatus, version int) error

	// ListByProject retrieves all pledges for a project, newest first
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*Pledge, error)
}

// ExecutionRepository defines the interface for execution persistence
type ExecutionRepository interface {
	// GetByID retrieves an execution with its receipts
	GetByID(ctx context.Context, id uuid.UUID) (*Execution, error)

	// Create inserts a new execution
	Create(ctx context.Context, execution *Execution) error

	// UpdateStatus applies a status transition with an actual amount,
	// guarded by the expected current status and version.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to ExecutionStatus, actualAmount decimal.Decimal, version int) error

	// AttachReceipt appends a receipt record
	AttachReceipt(ctx context.Context, receipt *Receipt) error

	// ListByProject retrieves all executions for a project
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*Execution, error)
}

// DistributionRepository defines the interface for distribution persistence
type DistributionRepository interface {
	// GetByID retrieves a distribution with its rules and items
	GetByID(ctx context.Context, id uuid.UUID) (*Distribution, error)

	// GetByProject retrieves the distribution for a project, if any
	GetByProject(ctx context.Context, projectID uuid.UUID) (*Distribution, error)

	// Create inserts a new distribution with its rules
	Create(ctx context.Context, distribution *Distribution) error

	// UpdateStatus applies a status transition guarded by the expected
	// current status and version.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to DistributionStatus, version int) error

	// SaveItems inserts the computed items
	SaveItems(ctx context.Context, distributionID uuid.UUID, items []DistributionItem) error

	// UpdateItem records an item's payout outcome guarded by its expected
	// current status.
	UpdateItem(ctx context.Context, itemID uuid.UUID, from, to DistributionItemStatus, receiptRef, lastError string) error
}

// EventRepository defines the interface for outbox persistence
type EventRepository interface {
	// Append inserts a PENDING event. It participates in the caller's
	// ambient transaction.
	Append(ctx context.Context, event *EventLog) error

	// GetByID retrieves an event by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*EventLog, error)

	// ListDue retrieves PENDING events with NextAttemptAt at or before
	// now, ordered by creation time, capped at limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*EventLog, error)

	// MarkProcessing moves a PENDING event to PROCESSING, compare-and-swap
	// on status and on retryCount so a stale copy of an already retried
	// event cannot re-claim it. Records claimedAt for stale-claim
	// recovery. Returns StateConflictError when the claim loses, which
	// callers treat as "skip".
	MarkProcessing(ctx context.Context, id uuid.UUID, retryCount int, claimedAt time.Time) error

	// MarkCompleted finalizes a PROCESSING event
	MarkCompleted(ctx context.Context, id uuid.UUID, processedAt time.Time) error

	// Reschedule returns a PROCESSING event to PENDING with an increased
	// retry count, the next attempt time and the failure message.
	Reschedule(ctx context.Context, id uuid.UUID, retryCount int, nextAttemptAt time.Time, lastError string) error

	// MarkFailed moves a PROCESSING event to terminal FAILED
	MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, lastError string) error

	// MarkCancelled moves a PENDING event to terminal CANCELLED
	MarkCancelled(ctx context.Context, id uuid.UUID) error

	// Replay returns a FAILED event to PENDING with counters reset
	Replay(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error

	// ReclaimStale returns PROCESSING events claimed at or before the
	// cutoff to PENDING, capped at limit, and reports how many were
	// reclaimed. Recovers events whose worker died mid-dispatch.
	ReclaimStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// EventAppender records a domain event in the outbox. The append joins the
// caller's ambient transaction so the event commits with the state change
// that produced it.
type EventAppender interface {
	AppendEvent(ctx context.Context, eventType, aggregateType string, aggregateID uuid.UUID, payload any) error
}

// PaymentGateway defines the consumed payment collaborator. Implementations
// live outside this core; calls are made with a timeout and a timeout counts
// as failure, never as implicit success.
type PaymentGateway interface {
	// Authorize places a hold and returns the gateway token
	Authorize(ctx context.Context, amount decimal.Decimal, method string) (token string, err error)

	// Capture settles a previously authorized hold
	Capture(ctx context.Context, token string) (receiptRef string, err error)

	// Refund returns part or all of a captured payment
	Refund(ctx context.Context, token string, amount decimal.Decimal) (receiptRef string, err error)

	// Payout transfers funds to a distribution recipient
	Payout(ctx context.Context, recipientID uuid.UUID, amount decimal.Decimal) (receiptRef string, err error)
}

// NotificationDispatcher defines the consumed notification collaborator,
// invoked from outbox event handlers
type NotificationDispatcher interface {
	Send(ctx context.Context, userID uuid.UUID, templateID string, payload map[string]string) error
}
