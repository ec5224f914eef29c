package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Config holds game-level policy knobs
type Config struct {
	// ExcludeUsedImages enables non-repeating selection: images already
	// attached to a prior round are never picked again. When every image
	// has been used, starting a round fails with ErrNoImagesAvailable.
	ExcludeUsedImages bool
}

// GameService implements the round/bid lifecycle engine
type GameService struct {
	cfg       Config
	txManager TransactionManager
	teams     TeamRepository
	catalog   CatalogRepository
	rounds    RoundRepository
	bids      BidRepository
	outbox    OutboxRepository
	minBids   MinBidTable
	cache     RoundCache
	logger    *slog.Logger
}

// NewGameService creates a new game service. cache may be nil.
func NewGameService(
	cfg Config,
	txManager TransactionManager,
	teams TeamRepository,
	catalog CatalogRepository,
	rounds RoundRepository,
	bids BidRepository,
	outbox OutboxRepository,
	minBids MinBidTable,
	cache RoundCache,
	logger *slog.Logger,
) *GameService {
	return &GameService{
		cfg:       cfg,
		txManager: txManager,
		teams:     teams,
		catalog:   catalog,
		rounds:    rounds,
		bids:      bids,
		outbox:    outbox,
		minBids:   minBids,
		cache:     cache,
		logger:    logger,
	}
}

// StartRound opens a new round around a randomly selected image.
// Any round still OPEN is settled and closed first, in the same transaction,
// so the single-open-round invariant holds even if an administrator forgets
// to close before starting.
func (s *GameService) StartRound(ctx context.Context, cmd StartRoundCommand) (*StartRoundResult, error) {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	stale, err := s.rounds.GetOpenRoundForUpdate(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open round: %w", err)
	}
	if stale != nil {
		if _, settleErr := s.settleLocked(ctx, tx, stale); settleErr != nil {
			return nil, fmt.Errorf("failed to settle stale round %s: %w", stale.ID, settleErr)
		}
		s.logger.Warn("force-closed stale round before starting a new one", "round_id", stale.ID)
	}

	selected, err := s.catalog.PickRandomImage(ctx, tx, SelectionFilter{
		CategoryID:  cmd.CategoryID,
		ExcludeUsed: s.cfg.ExcludeUsedImages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select image: %w", err)
	}
	if selected == nil {
		return nil, ErrNoImagesAvailable
	}

	round := &Round{
		ID:          uuid.New(),
		ItemImageID: selected.ImageID,
		Status:      RoundStatusOpen,
		StartTime:   time.Now(),
	}
	if err := s.rounds.CreateRound(ctx, tx, round); err != nil {
		return nil, fmt.Errorf("failed to create round: %w", err)
	}

	if err := s.saveEvent(ctx, tx, EventTypeRoundStarted, roundStartedEvent{
		RoundID:     round.ID,
		ItemImageID: selected.ImageID,
		StartTime:   round.StartTime,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.invalidateCache(ctx)
	s.logger.Info("round started", "round_id", round.ID, "image_id", selected.ImageID)

	return &StartRoundResult{
		RoundID:        round.ID,
		ActiveCategory: selected.CategoryName,
		ActiveImageID:  selected.ImageID,
	}, nil
}

// CloseRound settles and closes the OPEN round. Closing when nothing is open
// is a successful no-op and leaves every budget untouched.
func (s *GameService) CloseRound(ctx context.Context) (*CloseRoundResult, error) {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	round, err := s.rounds.GetOpenRoundForUpdate(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open round: %w", err)
	}
	if round == nil {
		return &CloseRoundResult{Closed: false}, nil
	}

	winner, err := s.settleLocked(ctx, tx, round)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.invalidateCache(ctx)
	s.logger.Info("round closed", "round_id", round.ID, "has_winner", winner != nil)

	return &CloseRoundResult{
		Closed:        true,
		ClosedRoundID: round.ID,
		Winner:        winner,
	}, nil
}

// settleLocked determines the winner and applies the budget decrement together
// with the CLOSED transition. The caller must hold the round row FOR UPDATE:
// the lock is what keeps a late bid from slipping in after the winner is
// computed, and what keeps settlement from running twice.
func (s *GameService) settleLocked(ctx context.Context, tx pgx.Tx, round *Round) (*WinnerSummary, error) {
	roundBids, err := s.bids.ListRoundBids(ctx, tx, round.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bids for round %s: %w", round.ID, err)
	}

	var winner *WinnerSummary
	if winning := selectWinningBid(roundBids); winning != nil {
		if err := s.teams.DeductBudget(ctx, tx, winning.TeamNo, winning.Amount); err != nil {
			return nil, fmt.Errorf("failed to deduct budget for team %d: %w", winning.TeamNo, err)
		}
		winner = &WinnerSummary{
			BidID:    winning.ID,
			TeamNo:   winning.TeamNo,
			TeamName: winning.TeamName,
			Amount:   winning.Amount,
		}
	}

	closed, err := s.rounds.CloseRound(ctx, tx, round.ID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to close round %s: %w", round.ID, err)
	}
	if !closed {
		return nil, fmt.Errorf("round %s is no longer open", round.ID)
	}

	if err := s.saveEvent(ctx, tx, EventTypeRoundSettled, roundSettledEvent{
		RoundID: round.ID,
		Winner:  winner,
	}); err != nil {
		return nil, err
	}

	return winner, nil
}

// selectWinningBid picks the bid with the maximum amount; ties are broken by
// earliest creation time. bids must be ordered by created_at ascending.
func selectWinningBid(bids []*Bid) *Bid {
	var winner *Bid
	for _, bid := range bids {
		if winner == nil || bid.Amount.GreaterThan(winner.Amount) {
			winner = bid
		}
	}
	return winner
}

// SubmitBid validates and appends a bid for the current OPEN round.
// Each validation step short-circuits with its own error; on success the bid
// is persisted and nothing else changes (budgets move only at settlement).
func (s *GameService) SubmitBid(ctx context.Context, cmd SubmitBidCommand) (*Bid, error) {
	if cmd.APIKey == "" {
		return nil, ErrMissingCredential
	}
	if !cmd.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(cmd.PredictedItem) == "" {
		return nil, ErrMissingPrediction
	}

	team, err := s.teams.GetTeamByAPIKey(ctx, cmd.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve api key: %w", err)
	}
	if team == nil {
		return nil, ErrUnknownCredential
	}

	round, err := s.rounds.GetOpenRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open round: %w", err)
	}
	if round == nil {
		return nil, ErrNoActiveRound
	}

	if team.Budget.LessThan(cmd.Amount) {
		return nil, insufficientFundsError(team.Budget, cmd.Amount)
	}

	trueName, err := s.catalog.GetCategoryNameForImage(ctx, round.ItemImageID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve round category: %w", err)
	}
	if trueName == "" {
		return nil, fmt.Errorf("%w: round %s references image %d with no category", ErrDataIntegrity, round.ID, round.ItemImageID)
	}

	if !predictionMatches(cmd.PredictedItem, trueName) {
		return nil, incorrectPredictionError(cmd.PredictedItem, trueName)
	}

	if !s.minBids.MeetsFloor(trueName, cmd.Amount) {
		return nil, bidTooLowError(trueName, s.minBids.FloorFor(trueName), cmd.Amount)
	}

	bid := &Bid{
		ID:        uuid.New(),
		RoundID:   round.ID,
		TeamNo:    team.TeamNo,
		TeamName:  team.TeamName,
		Item:      cmd.PredictedItem,
		Amount:    cmd.Amount,
		CreatedAt: time.Now(),
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Shared lock on the round row: settlement locks it FOR UPDATE, so a bid
	// can never land between winner computation and the CLOSED transition.
	locked, err := s.rounds.LockOpenRoundShared(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock open round: %w", err)
	}
	if locked == nil || locked.ID != round.ID {
		return nil, ErrNoActiveRound
	}

	if err := s.bids.SaveBid(ctx, tx, bid); err != nil {
		return nil, err
	}

	if err := s.saveEvent(ctx, tx, EventTypeBidPlaced, bidPlacedEvent{
		BidID:     bid.ID,
		RoundID:   bid.RoundID,
		TeamNo:    bid.TeamNo,
		Amount:    bid.Amount.String(),
		CreatedAt: bid.CreatedAt,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("bid accepted", "bid_id", bid.ID, "round_id", bid.RoundID, "team_no", bid.TeamNo)
	return bid, nil
}

// LiveBids returns the current round's bids, most recent first.
// Returns an empty slice when no round is open.
func (s *GameService) LiveBids(ctx context.Context, apiKey string) ([]*Bid, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	team, err := s.teams.GetTeamByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve api key: %w", err)
	}
	if team == nil {
		return nil, ErrUnknownCredential
	}

	round, err := s.rounds.GetOpenRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open round: %w", err)
	}
	if round == nil {
		return []*Bid{}, nil
	}

	return s.bids.GetBidsForRound(ctx, round.ID)
}

// History returns every bid belonging to a CLOSED round
func (s *GameService) History(ctx context.Context) ([]*Bid, error) {
	return s.bids.GetHistoricalBids(ctx)
}

// CurrentRound returns the team-facing view of the OPEN round, or (nil, nil)
// when nothing is open. The view never includes the category name.
func (s *GameService) CurrentRound(ctx context.Context, apiKey string) (*CurrentRoundView, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	team, err := s.teams.GetTeamByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve api key: %w", err)
	}
	if team == nil {
		return nil, ErrUnknownCredential
	}

	if s.cache != nil {
		view, cacheErr := s.cache.GetCurrent(ctx)
		if cacheErr != nil {
			s.logger.Warn("round cache read failed", "error", cacheErr)
		} else if view != nil {
			return view, nil
		}
	}

	view, err := s.rounds.GetCurrentRoundView(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current round: %w", err)
	}
	if view == nil {
		return nil, nil
	}

	if s.cache != nil {
		if cacheErr := s.cache.SetCurrent(ctx, view); cacheErr != nil {
			s.logger.Warn("round cache write failed", "error", cacheErr)
		}
	}
	return view, nil
}

func (s *GameService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("round cache invalidation failed", "error", err)
	}
}

type roundStartedEvent struct {
	RoundID     uuid.UUID `json:"round_id"`
	ItemImageID int64     `json:"item_image_id"`
	StartTime   time.Time `json:"start_time"`
}

type bidPlacedEvent struct {
	BidID     uuid.UUID `json:"bid_id"`
	RoundID   uuid.UUID `json:"round_id"`
	TeamNo    int64     `json:"team_no"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type roundSettledEvent struct {
	RoundID uuid.UUID      `json:"round_id"`
	Winner  *WinnerSummary `json:"winner,omitempty"`
}

// saveEvent appends a domain event to the outbox in the same transaction as
// the state change it describes
func (s *GameService) saveEvent(ctx context.Context, tx pgx.Tx, eventType EventType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	event := &OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   body,
		Status:    OutboxStatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.outbox.SaveEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}
