package game_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaham1/raftregatta/internal/auth"
	"github.com/shaham1/raftregatta/internal/game"
	infradb "github.com/shaham1/raftregatta/internal/infra/database"
	"github.com/shaham1/raftregatta/internal/testhelpers"
)

func newTestService(pool *pgxpool.Pool, cfg game.Config, minBids game.MinBidTable) *game.GameService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	txManager := infradb.NewPostgresTransactionManager(pool, 5*time.Second)
	return game.NewGameService(
		cfg,
		txManager,
		infradb.NewPostgresTeamRepository(pool),
		infradb.NewPostgresCatalogRepository(pool),
		infradb.NewPostgresRoundRepository(pool),
		infradb.NewPostgresBidRepository(pool),
		infradb.NewPostgresOutboxRepository(pool),
		minBids,
		nil,
		logger,
	)
}

func seedTeam(t *testing.T, pool *pgxpool.Pool, teamNo int64, name, apiKey, budget string) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO teams (team_no, team_name, api_key_digest, budget)
		VALUES ($1, $2, $3, $4::numeric)
	`, teamNo, name, auth.DigestAPIKey(apiKey), budget)
	require.NoError(t, err, "Failed to seed team")
}

func seedCategory(t *testing.T, pool *pgxpool.Pool, id int64, name string) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO categories (id, name) VALUES ($1, $2)
	`, id, name)
	require.NoError(t, err, "Failed to seed category")
}

func seedImage(t *testing.T, pool *pgxpool.Pool, id, categoryID int64) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO item_images (id, category_id, image_data) VALUES ($1, $2, $3)
	`, id, categoryID, []byte("img-data"))
	require.NoError(t, err, "Failed to seed image")
}

func getTeamBudget(t *testing.T, pool *pgxpool.Pool, teamNo int64) decimal.Decimal {
	t.Helper()
	var raw string
	err := pool.QueryRow(context.Background(),
		"SELECT budget::text FROM teams WHERE team_no = $1", teamNo).Scan(&raw)
	require.NoError(t, err)
	budget, err := decimal.NewFromString(raw)
	require.NoError(t, err)
	return budget
}

func countOpenRounds(t *testing.T, pool *pgxpool.Pool) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM rounds WHERE status = 'OPEN'").Scan(&n)
	require.NoError(t, err)
	return n
}

func TestGameService_Integration(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../migrations")
	defer testDB.Close()

	pool := testDB.Pool
	ctx := context.Background()
	noFloors := game.NewMinBidTable(nil, decimal.Zero)

	t.Run("StartRound_EnforcesSingleOpenRound", func(t *testing.T) {
		testhelpers.CleanDatabase(t, pool)
		seedCategory(t, pool, 1, "barrel")
		seedImage(t, pool, 1, 1)
		seedImage(t, pool, 2, 1)

		service := newTestService(pool, game.Config{}, noFloors)

		first, err := service.StartRound(ctx, game.StartRoundCommand{})
		require.NoError(t, err)
		assert.Equal(t, "barrel", first.ActiveCategory)
		assert.Equal(t, 1, countOpenRounds(t, pool))

		// Starting again force-closes the first round
		second, err := service.StartRound(ctx, game.StartRoundCommand{})
		require.NoError(t, err)
		assert.NotEqual(t, first.RoundID, second.RoundID)
		assert.Equal(t, 1, countOpenRounds(t, pool))

		var status string
		err = pool.QueryRow(ctx, "SELECT status FROM rounds WHERE id = $1", first.RoundID).Scan(&status)
		require.NoError(t, err)
		assert.Equal(t, "CLOSED", status)
	})

	t.Run("StartRound_CategoryFilter", func(t *testing.T) {
		testhelpers.CleanDatabase(t, pool)
		seedCategory(t, pool, 1, "barrel")
		seedCategory(t, pool, 2, "oars")
		seedImage(t, pool, 1, 1)
		seedImage(t, pool, 2, 2)

		service := newTestService(pool, game.Config{}, noFloors)

		categoryID := int64(2)
		result, err := service.StartRound(ctx, game.StartRoundCommand{CategoryID: &categoryID})
		require.NoError(t, err)
		assert.Equal(t, "oars", result.ActiveCategory)
		assert.Equal(t, int64(2), result.ActiveImageID)
	})

	t.Run("StartRound_NoImagesAvailable", func(t *testing.T) {
		testhelpers.CleanDatabase(t, pool)
		seedCategory(t, pool, 1, "barrel")

		service := newTestService(pool, game.Config{}, noFloors)

		_, err := service.StartRound(ctx, game.StartRoundCommand{})
		require.Error(t, err)
		assert.ErrorIs(t, err, game.ErrNoImagesAvailable)
	})

	t.Run("StartRound_ExhaustionWithExcludeUsed", func(t *testing.T) {
		testhelpers.CleanDatabase(t, pool)
		seedCategory(t, pool, 1, "barrel")
		seedImage(t, pool, 1, 1)

		service := newTestService(pool, game.Config{ExcludeUsedImages: true}, noFloors)

		_, err := service.StartRound(ctx, game.StartRoundCommand{})
		require.NoError(t, err)

		_, err = service.CloseRound(ctx)
		require.NoError(t, err)

		// The only image is now used: the game is over
		_, err = service.StartRound(ctx, game.StartRoundCommand{})
		assert.ErrorIs(t, err, game.ErrNoImagesAvailable)
	})

	t.Run("CloseRound_NoOpWhenNothingOpen", func(t *testing.T) {
		testhelpers.CleanDatabase(t, pool)
		seedTeam(t, pool, 1, "Team A", "K1", "1000")

		service := newTestService(pool, game.Config{}, noFloors)

		result, err := service.CloseRound(ctx)
		require.NoError(t, err)
		assert.False(t, result.Closed)
		assert.Nil(t, result.Winner)
		assert.True(t, decimal.NewFromInt(1000).Equal(getTeamBudget(t, pool, 1)), "no-op close must not touch budgets")
	})

	t.Run("Settlement_HighestBidWins_EarliestTieBreak", func(t *testing.T) {
		testhelpers.CleanDatabase(t, pool)
		seedCategory(t, pool, 1, "barrel")
		seedImage(t, pool, 1, 1)
		seedTeam(t, pool, 1, "Team 1", "K1", "1000")
		seedTeam(t, pool, 2, "Team 2", "K2", "1000")
		seedTeam(t, pool, 3, "Team 3", "K3", "1000")

		service := newTestService(pool, game.Config{}, noFloors)

		_, err := service.StartRound(ctx, game.StartRoundCommand{})
		require.NoError(t, err)

		submit := func(key string, amount int64) {
			_, err := service.SubmitBid(ctx, game.SubmitBidCommand{
				APIKey:        key,
				Amount:        decimal.NewFromInt(amount),
				PredictedItem: "barrel",
			})
			require.NoError(t, err)
		}
		submit("K1", 50)
		submit("K2", 80)
		submit("K3", 80) // same amount, later bid

		result, err := service.CloseRound(ctx)
		require.NoError(t, err)
		require.True(t, result.Closed)
		require.NotNil(t, result.Winner)
		assert.Equal(t, int64(2), result.Winner.TeamNo, "earliest of the tied high bids should win")

		assert.True(t, decimal.NewFromInt(1000).Equal(getTeamBudget(t, pool, 1)))
		assert.True(t, decimal.NewFromInt(920).Equal(getTeamBudget(t, pool, 2)))
		assert.True(t, decimal.NewFromInt(1000).Equal(getTeamBudget(t, pool, 3)))

		// Closing again is a no-op: settlement must not run twice
		again, err := service.CloseRound(ctx)
		require.NoError(t, err)
		assert.False(t, again.Closed)
		assert.True(t, decimal.NewFromInt(920).Equal(getTeamBudget(t, pool, 2)))
	})

	t.Run("SubmitBid_ValidationPipeline", func(t *testing.T) {
		testhelpers.CleanDatabase(t, pool)
		seedCategory(t, pool, 1, "barrel")
		seedImage(t, pool, 1, 1)
		seedTeam(t, pool, 1, "Team A", "K1", "100")

		service := newTestService(pool, game.Config{}, noFloors)

		valid := game.SubmitBidCommand{
			APIKey:        "K1",
			Amount:        decimal.NewFromInt(50),
			PredictedItem: "barrel",
		}

		t.Run("missing credential", func(t *testing.T) {
			cmd := valid
			cmd.APIKey = ""
			_, err := service.SubmitBid(ctx, cmd)
			assert.ErrorIs(t, err, game.ErrMissingCredential)
		})

		t.Run("invalid amount", func(t *testing.T) {
			cmd := valid
			cmd.Amount = decimal.NewFromInt(-5)
			_, err := service.SubmitBid(ctx, cmd)
			assert.ErrorIs(t, err, game.ErrInvalidAmount)
		})

		t.Run("missing prediction", func(t *testing.T) {
			cmd := valid
			cmd.PredictedItem = "   "
			_, err := service.SubmitBid(ctx, cmd)
			assert.ErrorIs(t, err, game.ErrMissingPrediction)
		})

		t.Run("unknown credential", func(t *testing.T) {
			cmd := valid
			cmd.APIKey = "nope"
			_, err := service.SubmitBid(ctx, cmd)
			assert.ErrorIs(t, err, game.ErrUnknownCredential)
		})

		t.Run("no active round", func(t *testing.T) {
			_, err := service.SubmitBid(ctx, valid)
			assert.ErrorIs(t, err, game.ErrNoActiveRound)
		})

		_, err := service.StartRound(ctx, game.StartRoundCommand{})
		require.NoError(t, err)

		t.Run("insufficient funds includes budget and amount", func(t *testing.T) {
			cmd := valid
			cmd.Amount = decimal.RequireFromString("100.01")
			_, err := service.SubmitBid(ctx, cmd)
			require.ErrorIs(t, err, game.ErrInsufficientFunds)
			assert.Contains(t, err.Error(), "100")
			assert.Contains(t, err.Error(), "100.01")
		})

		t.Run("incorrect prediction reveals the answer", func(t *testing.T) {
			cmd := valid
			cmd.PredictedItem = "oars"
			_, err := service.SubmitBid(ctx, cmd)
			require.ErrorIs(t, err, game.ErrIncorrectPrediction)
			assert.Contains(t, err.Error(), "oars")
			assert.Contains(t, err.Error(), "barrel")
		})

		t.Run("whitespace and case insensitive prediction", func(t *testing.T) {
			cmd := valid
			cmd.PredictedItem = "  Barrel "
			bid, err := service.SubmitBid(ctx, cmd)
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, bid.ID)
		})

		t.Run("duplicate bid is rejected", func(t *testing.T) {
			_, err := service.SubmitBid(ctx, valid)
			assert.ErrorIs(t, err, game.ErrDuplicateBid)
		})

		t.Run("solvency boundary is inclusive", func(t *testing.T) {
			seedTeam(t, pool, 2, "Team B", "K2", "100")
			cmd := valid
			cmd.APIKey = "K2"
			cmd.Amount = decimal.NewFromInt(100)
			_, err := service.SubmitBid(ctx, cmd)
			assert.NoError(t, err, "a team may bid its entire budget")
		})
	})

	t.Run("EndToEnd_OarsScenario", func(t *testing.T) {
		testhelpers.CleanDatabase(t, pool)
		seedCategory(t, pool, 1, "oars")
		seedImage(t, pool, 1, 1)
		seedTeam(t, pool, 1, "Team A", "K1", "10000")

		minBids := game.NewMinBidTable(map[string]decimal.Decimal{
			"oars":   decimal.NewFromInt(6500),
			"bamboo": decimal.NewFromInt(5000),
		}, decimal.Zero)
		service := newTestService(pool, game.Config{}, minBids)

		_, err := service.StartRound(ctx, game.StartRoundCommand{})
		require.NoError(t, err)

		_, err = service.SubmitBid(ctx, game.SubmitBidCommand{
			APIKey:        "K1",
			Amount:        decimal.NewFromInt(6000),
			PredictedItem: "oars",
		})
		require.ErrorIs(t, err, game.ErrBidTooLow)

		bid, err := service.SubmitBid(ctx, game.SubmitBidCommand{
			APIKey:        "K1",
			Amount:        decimal.NewFromInt(6500),
			PredictedItem: "oars",
		})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, bid.ID)

		result, err := service.CloseRound(ctx)
		require.NoError(t, err)
		require.NotNil(t, result.Winner)
		assert.Equal(t, int64(1), result.Winner.TeamNo)
		assert.True(t, decimal.NewFromInt(3500).Equal(getTeamBudget(t, pool, 1)))
	})

	t.Run("LiveBidsAndHistory", func(t *testing.T) {
		testhelpers.CleanDatabase(t, pool)
		seedCategory(t, pool, 1, "barrel")
		seedImage(t, pool, 1, 1)
		seedImage(t, pool, 2, 1)
		seedTeam(t, pool, 1, "Team A", "K1", "1000")
		seedTeam(t, pool, 2, "Team B", "K2", "1000")

		service := newTestService(pool, game.Config{}, noFloors)

		_, err := service.StartRound(ctx, game.StartRoundCommand{})
		require.NoError(t, err)

		_, err = service.SubmitBid(ctx, game.SubmitBidCommand{
			APIKey: "K1", Amount: decimal.NewFromInt(10), PredictedItem: "barrel",
		})
		require.NoError(t, err)
		_, err = service.SubmitBid(ctx, game.SubmitBidCommand{
			APIKey: "K2", Amount: decimal.NewFromInt(20), PredictedItem: "barrel",
		})
		require.NoError(t, err)

		live, err := service.LiveBids(ctx, "K1")
		require.NoError(t, err)
		require.Len(t, live, 2)
		assert.Equal(t, int64(2), live[0].TeamNo, "most recent bid first")
		assert.Equal(t, "Team B", live[0].TeamName, "team name snapshot is persisted")

		history, err := service.History(ctx)
		require.NoError(t, err)
		assert.Empty(t, history, "open round bids are not history yet")

		_, err = service.CloseRound(ctx)
		require.NoError(t, err)

		history, err = service.History(ctx)
		require.NoError(t, err)
		assert.Len(t, history, 2)

		live, err = service.LiveBids(ctx, "K1")
		require.NoError(t, err)
		assert.Empty(t, live, "no open round means no live bids")
	})

	t.Run("CurrentRound_View", func(t *testing.T) {
		testhelpers.CleanDatabase(t, pool)
		seedCategory(t, pool, 1, "barrel")
		seedImage(t, pool, 1, 1)
		seedTeam(t, pool, 1, "Team A", "K1", "1000")

		service := newTestService(pool, game.Config{}, noFloors)

		_, err := service.CurrentRound(ctx, "")
		assert.ErrorIs(t, err, game.ErrMissingCredential)

		view, err := service.CurrentRound(ctx, "K1")
		require.NoError(t, err)
		assert.Nil(t, view, "no round open yet")

		started, err := service.StartRound(ctx, game.StartRoundCommand{})
		require.NoError(t, err)

		view, err = service.CurrentRound(ctx, "K1")
		require.NoError(t, err)
		require.NotNil(t, view)
		assert.Equal(t, started.RoundID, view.RoundID)
		assert.Equal(t, game.RoundStatusOpen, view.Status)
		assert.Equal(t, []byte("img-data"), view.ImageData)
	})
}

func TestCatalogSelection_IsRoughlyUniform(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, "../../migrations")
	defer testDB.Close()

	pool := testDB.Pool
	ctx := context.Background()

	seedCategory(t, pool, 1, "barrel")
	imageCount := int64(4)
	for i := int64(1); i <= imageCount; i++ {
		seedImage(t, pool, i, 1)
	}

	service := newTestService(pool, game.Config{}, game.NewMinBidTable(nil, decimal.Zero))

	// Start/close many rounds and count how often each image is picked.
	// With 4 images and 200 draws every image should appear well clear of zero;
	// a heavily skewed selection would fail the loose bounds below.
	counts := map[int64]int{}
	draws := 200
	for i := 0; i < draws; i++ {
		result, err := service.StartRound(ctx, game.StartRoundCommand{})
		require.NoError(t, err)
		counts[result.ActiveImageID]++
	}

	expected := draws / int(imageCount)
	for id := int64(1); id <= imageCount; id++ {
		assert.Greater(t, counts[id], expected/3, "image %d drawn too rarely: %v", id, counts)
		assert.Less(t, counts[id], expected*3, "image %d drawn too often: %v", id, counts)
	}
}
