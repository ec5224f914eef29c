package game

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bidAt(teamNo int64, amount int64, createdAt time.Time) *Bid {
	return &Bid{
		ID:        uuid.New(),
		RoundID:   uuid.New(),
		TeamNo:    teamNo,
		Amount:    decimal.NewFromInt(amount),
		CreatedAt: createdAt,
	}
}

func TestSelectWinningBid(t *testing.T) {
	base := time.Now()

	t.Run("no bids means no winner", func(t *testing.T) {
		assert.Nil(t, selectWinningBid(nil))
		assert.Nil(t, selectWinningBid([]*Bid{}))
	})

	t.Run("highest amount wins", func(t *testing.T) {
		bids := []*Bid{
			bidAt(1, 50, base),
			bidAt(2, 80, base.Add(time.Second)),
			bidAt(3, 60, base.Add(2*time.Second)),
		}
		winner := selectWinningBid(bids)
		require.NotNil(t, winner)
		assert.Equal(t, int64(2), winner.TeamNo)
	})

	t.Run("amount tie is broken by earliest bid", func(t *testing.T) {
		// Input is ordered by created_at ascending, as the repository returns it
		bids := []*Bid{
			bidAt(1, 50, base),
			bidAt(2, 80, base.Add(time.Second)),
			bidAt(3, 80, base.Add(2*time.Second)),
		}
		winner := selectWinningBid(bids)
		require.NotNil(t, winner)
		assert.Equal(t, int64(2), winner.TeamNo, "earliest of the tied bids should win")
	})

	t.Run("single bid wins", func(t *testing.T) {
		bids := []*Bid{bidAt(7, 10, base)}
		winner := selectWinningBid(bids)
		require.NotNil(t, winner)
		assert.Equal(t, int64(7), winner.TeamNo)
	})
}
