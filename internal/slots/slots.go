// Package slots is a single-seat slot machine.
package slots

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/lobby"
	"github.com/DoyleJ11/casino-backend/internal/store"
	"github.com/DoyleJ11/casino-backend/pkg/types"
)

const (
	Mode       = "slots"
	MaxClients = 1
	SpinCost   = 5
	PairPrize  = 2
)

var Symbols = []string{"🍒", "🍋", "🔔", "💎", "⭐", "7️⃣"}

// Prizes pays out three of a kind.
var Prizes = map[string]int64{
	"🍒":  10,
	"🍋":  20,
	"🔔":  50,
	"💎":  100,
	"⭐":  200,
	"7️⃣": 500,
}

type Spin struct{}

func (Spin) EventName() string { return "SLOTS_SPIN" }

type NotEnoughMoney struct {
	Cost int64 `json:"cost"`
}

func (NotEnoughMoney) EventName() string { return "SLOTS_NOT_ENOUGH_MONEY" }

type SpinResult struct {
	Symbols []string `json:"symbols"`
	Win     int64    `json:"win"`
}

func (SpinResult) EventName() string { return "SLOTS_SPIN_RESULT" }

// Prize is the win for one spin.
func Prize(symbols [3]string) int64 {
	a, b, c := symbols[0], symbols[1], symbols[2]
	switch {
	case a == b && b == c:
		return Prizes[a]
	case a == b || b == c || a == c:
		return PairPrize
	default:
		return 0
	}
}

type Game struct {
	l     *lobby.Lobby
	store store.UserStore
	rng   *rand.Rand
	log   *zap.Logger
}

// New builds a machine bound to l. A nil rng uses the global source.
func New(l *lobby.Lobby, st store.UserStore, rng *rand.Rand) *Game {
	return &Game{l: l, store: st, rng: rng, log: l.Log()}
}

func (g *Game) Mode() string    { return Mode }
func (g *Game) MaxClients() int { return MaxClients }

func (g *Game) Register(d *lobby.Dispatcher) {
	lobby.On(d, g.onReady)
	lobby.On(d, g.onSpin)
}

func (g *Game) onReady(_ lobby.Ready, c lobby.Client) error {
	u, err := g.store.GetUserByID(g.l.Context(), c.UserID())
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	g.l.Unicast(types.UpdateMoney{Money: u.Money}, c)
	return nil
}

func (g *Game) onSpin(_ Spin, c lobby.Client) error {
	ctx := g.l.Context()
	tx, err := g.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin spin: %w", err)
	}

	if _, err := tx.UpdateMoney(ctx, c.UserID(), -SpinCost); err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, store.ErrInsufficientFunds) {
			g.l.Unicast(NotEnoughMoney{Cost: SpinCost}, c)
			return nil
		}
		return fmt.Errorf("charge spin: %w", err)
	}

	symbols := g.roll()
	win := Prize(symbols)
	balance, err := tx.UpdateMoney(ctx, c.UserID(), win)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("credit spin: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit spin: %w", err)
	}

	g.log.Debug("spin", zap.Int64("user", c.UserID()), zap.Strings("symbols", symbols[:]), zap.Int64("win", win))
	g.l.Unicast(SpinResult{Symbols: symbols[:], Win: win}, c)
	g.l.Unicast(types.UpdateMoney{Money: balance}, c)
	return nil
}

func (g *Game) roll() [3]string {
	var out [3]string
	for i := range out {
		if g.rng != nil {
			out[i] = Symbols[g.rng.IntN(len(Symbols))]
		} else {
			out[i] = Symbols[rand.IntN(len(Symbols))]
		}
	}
	return out
}
