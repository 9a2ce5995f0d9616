package payout

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pasar/internal/money"
)

// Status is the payout lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// AllowedTransition encodes the payout state machine. Completion always
// passes through PROCESSING so every completed payout has a recorded
// processing start; cancellation is only possible before processing begins.
func AllowedTransition(current, next Status) bool {
	switch current {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Frequency controls how often the scheduler releases payouts.
type Frequency string

const (
	FrequencyDaily    Frequency = "DAILY"
	FrequencyWeekly   Frequency = "WEEKLY"
	FrequencyBiweekly Frequency = "BIWEEKLY"
	FrequencyMonthly  Frequency = "MONTHLY"
	FrequencyOnDemand Frequency = "ON_DEMAND"
)

// HoldPolicy selects the event that starts the hold-period countdown.
type HoldPolicy string

const (
	// HoldFromDelivery starts the countdown at delivery confirmation.
	HoldFromDelivery HoldPolicy = "delivery-confirmed"
	// HoldFromOrder starts the countdown when the order is placed.
	HoldFromOrder HoldPolicy = "order-placed"
)

// ScheduleConfig drives automatic payout runs. It is read at each tick and
// mutated only by the scheduler after a completed run; admin edits take
// effect on the next tick.
type ScheduleConfig struct {
	ID              uuid.UUID   `json:"id"`
	Frequency       Frequency   `json:"frequency"`
	DayOfWeek       *int        `json:"dayOfWeek,omitempty"` // 0=Sunday, weekly only
	DayOfMonth      *int        `json:"dayOfMonth,omitempty"` // monthly only
	MinPayoutAmount money.Money `json:"minPayoutAmount"`
	HoldPeriodDays  int         `json:"holdPeriodDays"`
	HoldPolicy      HoldPolicy  `json:"holdPolicy"`
	IsAutomatic     bool        `json:"isAutomatic"`
	IsActive        bool        `json:"isActive"`
	LastProcessedAt *time.Time  `json:"lastProcessedAt,omitempty"`
	NextProcessAt   *time.Time  `json:"nextProcessAt,omitempty"`
}

// Due reports whether an automatic run is due at the given instant.
func (c ScheduleConfig) Due(now time.Time) bool {
	if !c.IsActive || !c.IsAutomatic {
		return false
	}
	if c.NextProcessAt == nil {
		return true
	}
	return !now.Before(*c.NextProcessAt)
}

// Next computes the following process time from the frequency. Weekly
// schedules land on the configured weekday, monthly on the configured day of
// month.
func (c ScheduleConfig) Next(now time.Time) time.Time {
	switch c.Frequency {
	case FrequencyDaily:
		return now.AddDate(0, 0, 1)
	case FrequencyWeekly:
		next := now.AddDate(0, 0, 7)
		if c.DayOfWeek != nil {
			for int(next.Weekday()) != *c.DayOfWeek {
				next = next.AddDate(0, 0, 1)
			}
		}
		return next
	case FrequencyBiweekly:
		return now.AddDate(0, 0, 14)
	case FrequencyMonthly:
		next := now.AddDate(0, 1, 0)
		if c.DayOfMonth != nil {
			next = time.Date(next.Year(), next.Month(), *c.DayOfMonth,
				next.Hour(), next.Minute(), next.Second(), 0, next.Location())
		}
		return next
	}
	// ON_DEMAND schedules never auto-fire.
	return now.AddDate(100, 0, 0)
}

// PeriodStart derives the accrual window opening for a run ending at end.
func (c ScheduleConfig) PeriodStart(end time.Time) time.Time {
	switch c.Frequency {
	case FrequencyDaily:
		return end.AddDate(0, 0, -1)
	case FrequencyWeekly:
		return end.AddDate(0, 0, -7)
	case FrequencyBiweekly:
		return end.AddDate(0, 0, -14)
	case FrequencyMonthly:
		return end.AddDate(0, -1, 0)
	}
	return end.AddDate(0, 0, -1)
}

// Payout is a seller settlement record. Rows are never deleted; terminal
// outcomes are stamped in place for the audit trail.
type Payout struct {
	ID               uuid.UUID
	SellerID         uuid.UUID
	StoreID          uuid.UUID
	Amount           money.Money
	Currency         string
	CommissionCount  int
	Status           Status
	PaymentMethod    string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	ScheduledAt      time.Time
	ProcessedAt      *time.Time
	PaymentReference string
	Notes            string
	FailureReason    string
}

// AdjustmentRequest is an admin-supplied manual adjustment. It is validated
// before the engine sees it; the engine never accepts a free-form number.
type AdjustmentRequest struct {
	Amount money.Money `json:"amount" validate:"required"`
	Reason string      `json:"reason" validate:"required,min=3,max=500"`
	Type   string      `json:"type" validate:"required,oneof=CREDIT DEBIT"`
}

// BatchFailure records one failed payout inside a batch run.
type BatchFailure struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// BatchResult summarises a batch run. One seller's failure never blocks or
// rolls back the others.
type BatchResult struct {
	Succeeded []uuid.UUID    `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
	Skipped   int            `json:"skipped"`
}

var (
	// ErrNotFound is returned when a payout id does not exist.
	ErrNotFound = errors.New("payout: not found")
	// ErrBelowMinimumPayout means net earnings fell under the configured
	// minimum: no record is created and the orders roll into the next period.
	ErrBelowMinimumPayout = errors.New("payout: net earnings below minimum payout amount")
	// ErrInvalidTransition is returned for a lifecycle violation.
	ErrInvalidTransition = errors.New("payout: invalid status transition")
	// ErrInvalidAdjustment rejects an adjustment that would zero or invert
	// the payout amount, or that mixes currencies.
	ErrInvalidAdjustment = errors.New("payout: invalid adjustment")
	// ErrNoEligibleEarnings means the seller has no released allocations in
	// the period.
	ErrNoEligibleEarnings = errors.New("payout: no eligible earnings for seller")
	// ErrScheduleInactive is returned when no active automatic schedule
	// configuration exists.
	ErrScheduleInactive = errors.New("payout: schedule configuration inactive")
)
