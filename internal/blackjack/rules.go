package blackjack

import (
	"time"

	"github.com/samber/lo"

	"github.com/DoyleJ11/casino-backend/internal/cards"
)

type Rules struct {
	MaxClients        int
	BetWait           time.Duration
	MinimumBet        int64
	DealPacing        time.Duration
	TurnTimeout       time.Duration
	DealerStandsAbove int
	BustAbove         int
	ResetDelay        time.Duration
}

func DefaultRules() Rules {
	return Rules{
		MaxClients:        5,
		BetWait:           10 * time.Second,
		MinimumBet:        10,
		DealPacing:        650 * time.Millisecond,
		TurnTimeout:       7500 * time.Millisecond,
		DealerStandsAbove: 16,
		BustAbove:         21,
		ResetDelay:        5 * time.Second,
	}
}

type Outcome int

const (
	Loss Outcome = iota
	Push
	Win
)

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case Push:
		return "push"
	default:
		return "loss"
	}
}

// HandValue sums the card values. Aces always count 11.
func HandValue(hand []cards.Card) int {
	return lo.SumBy(hand, func(c cards.Card) int { return c.Value() })
}

// Settle compares one player's total against the dealer's.
func (r Rules) Settle(player, dealer int) Outcome {
	switch {
	case player > r.BustAbove:
		return Loss
	case player == dealer:
		return Push
	case player > dealer || dealer > r.BustAbove:
		return Win
	default:
		return Loss
	}
}

// Payout is the amount credited back for a settled bet.
func Payout(o Outcome, bet int64) int64 {
	switch o {
	case Win:
		return bet * 2
	case Push:
		return bet
	default:
		return 0
	}
}
