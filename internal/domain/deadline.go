package domain

import "time"

// DeadlineStatus is the lifecycle state of a tracked deadline.
type DeadlineStatus string

const (
	DeadlineOpen   DeadlineStatus = "open"
	DeadlineClosed DeadlineStatus = "closed"
)

// DeadlineKind names what the user must act on before the due date.
type DeadlineKind string

const (
	DeadlineReturn DeadlineKind = "return"
)

// DeadlineDecision is the explicit user choice that closes a deadline.
type DeadlineDecision string

const (
	DecisionKeep   DeadlineDecision = "keep"
	DecisionReturn DeadlineDecision = "return"
)

// Milestone names a notification trigger point for a deadline.
type Milestone string

const (
	MilestoneDueToday Milestone = "due_today"
	MilestoneHeadsUp  Milestone = "heads_up"
)

// Deadline tracks a date by which a user must decide on a purchase.
//
// The two Notified* fields are independent notification gates. A gate, once
// set, is cleared only by Reopen; status moves open->closed only through an
// explicit user decision and closed->open only through Reopen. The scheduler
// never touches status.
type Deadline struct {
	ID        int64
	UserID    string
	ReceiptID int64
	Kind      DeadlineKind
	DueAt     time.Time
	Status    DeadlineStatus
	Decision  *DeadlineDecision
	Note      string

	NotifiedDueAt     *time.Time
	NotifiedHeadsUpAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
