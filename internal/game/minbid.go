package game

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinBidTable maps normalized category names to their minimum acceptable bid.
// Categories without an entry fall back to the default floor.
type MinBidTable struct {
	floors       map[string]decimal.Decimal
	defaultFloor decimal.Decimal
}

// NewMinBidTable builds a table from category-name floors and a default floor.
// Keys are normalized the same way predictions are.
func NewMinBidTable(floors map[string]decimal.Decimal, defaultFloor decimal.Decimal) MinBidTable {
	normalized := make(map[string]decimal.Decimal, len(floors))
	for name, floor := range floors {
		normalized[normalizeItemName(name)] = floor
	}
	return MinBidTable{
		floors:       normalized,
		defaultFloor: defaultFloor,
	}
}

// FloorFor returns the minimum acceptable bid for a category
func (t MinBidTable) FloorFor(category string) decimal.Decimal {
	if floor, ok := t.floors[normalizeItemName(category)]; ok {
		return floor
	}
	return t.defaultFloor
}

// MeetsFloor returns true if the amount meets or exceeds the category floor.
// The boundary is inclusive: bidding exactly the floor is accepted.
func (t MinBidTable) MeetsFloor(category string, amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(t.FloorFor(category))
}

// normalizeItemName lowercases and trims an item name for comparison
func normalizeItemName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// predictionMatches compares a team's guess against the true category name,
// ignoring case and surrounding whitespace
func predictionMatches(guess, trueName string) bool {
	return normalizeItemName(guess) == normalizeItemName(trueName)
}
