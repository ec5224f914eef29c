package game

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionManager begins database transactions
type TransactionManager interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

// TeamRepository defines the interface for team persistence
type TeamRepository interface {
	// GetTeamByAPIKey resolves an API key to a team.
	// Returns (nil, nil) when no team holds the key.
	GetTeamByAPIKey(ctx context.Context, apiKey string) (*Team, error)

	// DeductBudget decrements a team's budget within a transaction.
	// The balance is allowed to go negative; solvency is a bid-time check.
	DeductBudget(ctx context.Context, tx pgx.Tx, teamNo int64, amount decimal.Decimal) error
}

// SelectionFilter restricts the candidate set for image selection
type SelectionFilter struct {
	// CategoryID restricts selection to one category when set
	CategoryID *int64

	// ExcludeUsed excludes images already attached to any prior round
	ExcludeUsed bool
}

// SelectedImage is an image picked for a new round along with its category name
type SelectedImage struct {
	ImageID      int64
	CategoryID   int64
	CategoryName string
}

// CatalogRepository defines the interface for category/image reference data
type CatalogRepository interface {
	// PickRandomImage selects uniformly at random among images matching the
	// filter. Returns (nil, nil) when the candidate set is empty.
	PickRandomImage(ctx context.Context, tx pgx.Tx, filter SelectionFilter) (*SelectedImage, error)

	// GetCategoryNameForImage resolves an image to its category name.
	// Returns ("", nil) when the image or its category is missing.
	GetCategoryNameForImage(ctx context.Context, imageID int64) (string, error)
}

// RoundRepository defines the interface for round persistence
type RoundRepository interface {
	// GetOpenRound retrieves the single OPEN round, or (nil, nil) if none
	GetOpenRound(ctx context.Context) (*Round, error)

	// GetOpenRoundForUpdate retrieves the OPEN round and locks its row.
	// Settlement relies on this lock to run at most once per round.
	GetOpenRoundForUpdate(ctx context.Context, tx pgx.Tx) (*Round, error)

	// LockOpenRoundShared takes a shared lock on the OPEN round row so a bid
	// insert cannot interleave with a concurrent close. Returns (nil, nil)
	// when no round is open.
	LockOpenRoundShared(ctx context.Context, tx pgx.Tx) (*Round, error)

	// CreateRound creates a new round within a transaction
	CreateRound(ctx context.Context, tx pgx.Tx, round *Round) error

	// CloseRound marks an OPEN round CLOSED and stamps its end time.
	// Returns false when the round was not open (already settled).
	CloseRound(ctx context.Context, tx pgx.Tx, roundID uuid.UUID, endTime time.Time) (bool, error)

	// GetCurrentRoundView retrieves the team-facing projection of the OPEN
	// round including image data, or (nil, nil) if none
	GetCurrentRoundView(ctx context.Context) (*CurrentRoundView, error)
}

// BidRepository defines the interface for bid persistence
type BidRepository interface {
	// SaveBid appends a bid within a transaction. A uniqueness conflict on
	// (round_id, team_no) is surfaced as ErrDuplicateBid.
	SaveBid(ctx context.Context, tx pgx.Tx, bid *Bid) error

	// ListRoundBids retrieves all bids for a round within a transaction,
	// ordered by creation time ascending (settlement tie-break order)
	ListRoundBids(ctx context.Context, tx pgx.Tx, roundID uuid.UUID) ([]*Bid, error)

	// GetBidsForRound retrieves all bids for a round, most recent first
	GetBidsForRound(ctx context.Context, roundID uuid.UUID) ([]*Bid, error)

	// GetHistoricalBids retrieves all bids belonging to CLOSED rounds
	GetHistoricalBids(ctx context.Context) ([]*Bid, error)
}

// OutboxRepository defines the interface for outbox event persistence
type OutboxRepository interface {
	// SaveEvent saves an outbox event within a transaction
	SaveEvent(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error
}

// RoundCache caches the team-facing current round projection.
// Implementations are best-effort; the engine tolerates cache failures.
type RoundCache interface {
	// GetCurrent returns the cached projection, or (nil, nil) on miss
	GetCurrent(ctx context.Context) (*CurrentRoundView, error)

	// SetCurrent stores the projection with a short TTL
	SetCurrent(ctx context.Context, view *CurrentRoundView) error

	// Invalidate drops the cached projection
	Invalidate(ctx context.Context) error
}
