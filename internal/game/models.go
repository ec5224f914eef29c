package game

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RoundStatus represents the lifecycle state of a round
type RoundStatus string

const (
	RoundStatusOpen   RoundStatus = "OPEN"
	RoundStatusClosed RoundStatus = "CLOSED"
)

// Team represents a registered bidding team
type Team struct {
	TeamNo    int64           `db:"team_no"`
	TeamName  string          `db:"team_name"`
	Budget    decimal.Decimal `db:"budget"`
	CreatedAt time.Time       `db:"created_at"`
}

// Category is the canonical label of an item, used for prediction matching
type Category struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// ItemImage is an image of a mystery item belonging to a category
type ItemImage struct {
	ID         int64  `db:"id"`
	CategoryID int64  `db:"category_id"`
	ImageData  []byte `db:"image_data"`
}

// Round represents one auction round around a single mystery item.
// At most one round may be OPEN at any time.
type Round struct {
	ID          uuid.UUID   `db:"id"`
	ItemImageID int64       `db:"item_image_id"`
	Status      RoundStatus `db:"status"`
	StartTime   time.Time   `db:"start_time"`
	EndTime     *time.Time  `db:"end_time"`
}

// Bid represents a team's sealed bid within a round.
// TeamName is a snapshot taken at bid time so history survives renames.
type Bid struct {
	ID        uuid.UUID       `db:"id"`
	RoundID   uuid.UUID       `db:"round_id"`
	TeamNo    int64           `db:"team_no"`
	TeamName  string          `db:"team_name"`
	Item      string          `db:"item"`
	Amount    decimal.Decimal `db:"amount"`
	CreatedAt time.Time       `db:"created_at"`
}

// OutboxEvent represents an event waiting to be published
type OutboxEvent struct {
	ID          uuid.UUID    `db:"id"`
	EventType   EventType    `db:"event_type"`
	Payload     []byte       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	CreatedAt   time.Time    `db:"created_at"`
	ProcessedAt *time.Time   `db:"processed_at"`
}

// OutboxStatus represents the processing state of an outbox event
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// EventType represents the type of domain event
type EventType string

const (
	EventTypeRoundStarted EventType = "round.started"
	EventTypeBidPlaced    EventType = "bid.placed"
	EventTypeRoundSettled EventType = "round.settled"
)

// String returns the string representation of the event type
func (e EventType) String() string {
	return string(e)
}

// IsValid checks if the event type is valid
func (e EventType) IsValid() bool {
	switch e {
	case EventTypeRoundStarted, EventTypeBidPlaced, EventTypeRoundSettled:
		return true
	default:
		return false
	}
}

// CurrentRoundView is the team-facing projection of the open round.
// It deliberately excludes the category name.
type CurrentRoundView struct {
	RoundID   uuid.UUID   `json:"round_id"`
	ImageData []byte      `json:"image_data"`
	StartTime time.Time   `json:"start_time"`
	Status    RoundStatus `json:"status"`
}

// WinnerSummary describes the settled winner of a closed round
type WinnerSummary struct {
	BidID    uuid.UUID       `json:"bid_id"`
	TeamNo   int64           `json:"team_no"`
	TeamName string          `json:"team_name"`
	Amount   decimal.Decimal `json:"amount"`
}

// SubmitBidCommand represents the command to submit a bid
type SubmitBidCommand struct {
	APIKey        string
	Amount        decimal.Decimal
	PredictedItem string
}

// StartRoundCommand represents the command to start a round.
// CategoryID restricts selection to a single category when set.
type StartRoundCommand struct {
	CategoryID *int64
}

// StartRoundResult is returned to the administrator caller only:
// ActiveCategory is the answer and must never reach bidding teams.
type StartRoundResult struct {
	RoundID        uuid.UUID
	ActiveCategory string
	ActiveImageID  int64
}

// CloseRoundResult reports the outcome of a close operation.
// Closed is false when there was nothing open (informational no-op).
type CloseRoundResult struct {
	Closed        bool
	ClosedRoundID uuid.UUID
	Winner        *WinnerSummary
}
