package game

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Validation errors returned by the bid intake pipeline and round operations.
// Handlers map these to response codes with errors.Is.
var (
	ErrMissingCredential   = errors.New("api key is required")
	ErrInvalidAmount       = errors.New("bid amount must be a positive number")
	ErrMissingPrediction   = errors.New("item prediction is required")
	ErrUnknownCredential   = errors.New("unknown api key")
	ErrNoActiveRound       = errors.New("no round is currently open")
	ErrInsufficientFunds   = errors.New("insufficient budget")
	ErrIncorrectPrediction = errors.New("incorrect prediction")
	ErrBidTooLow           = errors.New("bid is below the category minimum")
	ErrDuplicateBid        = errors.New("team has already bid in this round")
	ErrNoImagesAvailable   = errors.New("no images available for selection")
	ErrDataIntegrity       = errors.New("round item linkage is broken")
)

func insufficientFundsError(budget, amount decimal.Decimal) error {
	return fmt.Errorf("%w: current budget %s, attempted bid %s", ErrInsufficientFunds, budget, amount)
}

// Revealing the true name on a wrong guess is intentional game feedback.
func incorrectPredictionError(guess, trueName string) error {
	return fmt.Errorf("%w: you guessed %q, the item was %q", ErrIncorrectPrediction, guess, trueName)
}

func bidTooLowError(category string, floor, amount decimal.Decimal) error {
	return fmt.Errorf("%w: minimum bid for %q is %s, got %s", ErrBidTooLow, category, floor, amount)
}
