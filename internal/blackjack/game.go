// Package blackjack is the turn-based blackjack table.
//
// All state below is owned by the lobby loop: handlers and timer bodies run
// one at a time, so nothing here is locked.
package blackjack

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/cards"
	"github.com/DoyleJ11/casino-backend/internal/lobby"
	"github.com/DoyleJ11/casino-backend/internal/store"
	"github.com/DoyleJ11/casino-backend/pkg/types"
)

const Mode = "blackjack"

var (
	ErrAlreadyStarted    = fmt.Errorf("%w: round already started", lobby.ErrRejected)
	ErrNotSeated         = fmt.Errorf("%w: not an active player", lobby.ErrRejected)
	ErrNotBetting        = fmt.Errorf("%w: not accepting bets", lobby.ErrRejected)
	ErrAlreadyBet        = fmt.Errorf("%w: bet already placed", lobby.ErrRejected)
	ErrInvalidBet        = fmt.Errorf("%w: bet must be positive", lobby.ErrRejected)
	ErrInsufficientFunds = fmt.Errorf("%w: bet exceeds balance", lobby.ErrRejected)
	ErrNotYourTurn       = fmt.Errorf("%w: not your turn", lobby.ErrRejected)
)

type Phase int

const (
	AwaitingPlayers Phase = iota
	Betting
	Dealing
	PlayerTurn
	DealerTurn
	Settlement
)

func (p Phase) String() string {
	switch p {
	case AwaitingPlayers:
		return "AWAITING_PLAYERS"
	case Betting:
		return "BETTING"
	case Dealing:
		return "DEALING"
	case PlayerTurn:
		return "PLAYER_TURN"
	case DealerTurn:
		return "DEALER_TURN"
	case Settlement:
		return "SETTLEMENT"
	default:
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
}

type player struct {
	client lobby.Client
	bet    int64
	hand   []cards.Card
}

type Game struct {
	l     *lobby.Lobby
	store store.UserStore
	rules Rules
	deck  *cards.Deck
	log   *zap.Logger

	phase   Phase
	active  []*player
	waiting []*player

	dealer       []cards.Card
	dealerHidden bool

	// turn indexes active during PLAYER_TURN. vacated is set when the
	// player at turn left; turn then already points at their successor.
	turn    int
	vacated bool

	betTask   *lobby.Task
	dealTask  *lobby.Task
	turnTask  *lobby.Task
	resetTask *lobby.Task
}

// New builds a table bound to l. A nil rng shuffles with the global source.
func New(l *lobby.Lobby, st store.UserStore, rules Rules, rng *rand.Rand) *Game {
	return &Game{
		l:     l,
		store: st,
		rules: rules,
		deck:  cards.NewDeck(rng),
		log:   l.Log(),
	}
}

func (g *Game) Mode() string    { return Mode }
func (g *Game) MaxClients() int { return g.rules.MaxClients }

func (g *Game) Register(d *lobby.Dispatcher) {
	lobby.On(d, g.onReady)
	lobby.On(d, g.onLeave)
	lobby.On(d, g.onStart)
	lobby.On(d, g.onSetBet)
	lobby.On(d, g.onHold)
	lobby.On(d, g.onDraw)
}

// Phase is the current state. Loop only.
func (g *Game) Phase() Phase { return g.phase }

func (g *Game) ctx() context.Context { return g.l.Context() }

func (g *Game) onReady(_ lobby.Ready, c lobby.Client) error {
	p := &player{client: c}
	if g.phase == AwaitingPlayers {
		g.active = append(g.active, p)
	} else {
		g.waiting = append(g.waiting, p)
	}
	g.broadcastUpdate()
	return nil
}

func (g *Game) onLeave(_ lobby.Leave, c lobby.Client) error {
	g.waiting = lo.Reject(g.waiting, func(p *player, _ int) bool { return p.client.ID() == c.ID() })

	if _, i, ok := lo.FindIndexOf(g.active, func(p *player) bool { return p.client.ID() == c.ID() }); ok {
		g.active = append(g.active[:i], g.active[i+1:]...)
		if g.phase == PlayerTurn {
			switch {
			case i < g.turn:
				g.turn--
			case i == g.turn:
				g.vacated = true
			}
		}
	}

	if len(g.l.Clients()) == 0 {
		g.reset()
		return nil
	}
	g.broadcastUpdate()
	if g.phase == Betting {
		g.startIfAllBet()
	}
	return nil
}

func (g *Game) onStart(_ StartGame, c lobby.Client) error {
	if g.phase != AwaitingPlayers {
		return ErrAlreadyStarted
	}
	if g.find(g.active, c) == nil && g.find(g.waiting, c) == nil {
		return ErrNotSeated
	}

	g.active = append(g.active, g.waiting...)
	g.waiting = nil
	g.phase = Betting
	g.broadcastUpdate()

	g.l.Broadcast(WaitingForBet{WaitTime: int(g.rules.BetWait.Seconds())})
	g.betTask = g.l.After(g.rules.BetWait, g.betDeadline)
	return nil
}

func (g *Game) onSetBet(ev SetBet, c lobby.Client) error {
	if g.phase != Betting {
		return ErrNotBetting
	}
	p := g.find(g.active, c)
	if p == nil {
		return ErrNotSeated
	}
	if p.bet != 0 {
		return ErrAlreadyBet
	}
	if ev.Bet <= 0 {
		return ErrInvalidBet
	}

	tx, err := g.store.Begin(g.ctx())
	if err != nil {
		return fmt.Errorf("begin bet: %w", err)
	}
	balance, err := tx.UpdateMoney(g.ctx(), c.UserID(), -ev.Bet)
	if err != nil {
		_ = tx.Rollback(g.ctx())
		if errors.Is(err, store.ErrInsufficientFunds) {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("charge bet: %w", err)
	}
	if err := tx.Commit(g.ctx()); err != nil {
		return fmt.Errorf("commit bet: %w", err)
	}

	p.bet = ev.Bet
	g.broadcastUpdate()
	g.l.Unicast(types.UpdateMoney{Money: balance}, c)
	g.startIfAllBet()
	return nil
}

func (g *Game) startIfAllBet() {
	if len(g.active) == 0 {
		return
	}
	if lo.SomeBy(g.active, func(p *player) bool { return p.bet == 0 }) {
		return
	}
	g.betTask.Cancel()
	g.betTask = nil
	g.startDealing()
}

// betDeadline charges the minimum bet to everyone who has not bet. Players
// who cannot cover it sit the round out.
func (g *Game) betDeadline() {
	g.betTask = nil
	if g.phase != Betting {
		return
	}

	unbet := lo.Filter(g.active, func(p *player, _ int) bool { return p.bet == 0 })
	charged, err := g.chargeMinimum(unbet)
	if err != nil {
		g.log.Error("failed to charge minimum bets", zap.Error(err))
		charged = nil
	}

	for _, p := range unbet {
		bal, ok := charged[p]
		if !ok {
			g.active = lo.Without(g.active, p)
			g.waiting = append(g.waiting, p)
			continue
		}
		p.bet = g.rules.MinimumBet
		g.l.Unicast(types.UpdateMoney{Money: bal}, p.client)
	}
	g.broadcastUpdate()

	if len(g.active) == 0 {
		g.reset()
		return
	}
	g.startDealing()
}

func (g *Game) chargeMinimum(unbet []*player) (map[*player]int64, error) {
	charged := make(map[*player]int64, len(unbet))
	if len(unbet) == 0 {
		return charged, nil
	}
	tx, err := g.store.Begin(g.ctx())
	if err != nil {
		return nil, err
	}
	for _, p := range unbet {
		bal, err := tx.UpdateMoney(g.ctx(), p.client.UserID(), -g.rules.MinimumBet)
		if errors.Is(err, store.ErrInsufficientFunds) {
			g.log.Debug("player cannot cover minimum bet", zap.String("session", p.client.ID()))
			continue
		}
		if err != nil {
			_ = tx.Rollback(g.ctx())
			return nil, err
		}
		charged[p] = bal
	}
	if err := tx.Commit(g.ctx()); err != nil {
		return nil, err
	}
	return charged, nil
}

type dealStep struct {
	to     *player // nil deals to the dealer
	hidden bool
}

func (g *Game) startDealing() {
	g.phase = Dealing
	var steps []dealStep
	for round := range 2 {
		steps = append(steps, dealStep{hidden: round == 1})
		for _, p := range g.active {
			steps = append(steps, dealStep{to: p})
		}
	}
	g.deal(steps, 0)
}

// deal hands out steps[i], then waits DealPacing before the next card.
func (g *Game) deal(steps []dealStep, i int) {
	g.dealTask = nil
	if i == len(steps) {
		g.startTurn(0)
		return
	}

	s := steps[i]
	switch {
	case s.to == nil:
		g.dealer = append(g.dealer, g.draw())
		if s.hidden {
			g.dealerHidden = true
		}
	case lo.Contains(g.active, s.to):
		s.to.hand = append(s.to.hand, g.draw())
	default:
		g.deal(steps, i+1)
		return
	}

	g.broadcastUpdate()
	g.dealTask = g.l.After(g.rules.DealPacing, func() { g.deal(steps, i+1) })
}

func (g *Game) startTurn(i int) {
	g.turnTask.Cancel()
	g.turnTask = nil
	g.vacated = false

	if i >= len(g.active) {
		g.dealerTurn()
		return
	}
	g.phase = PlayerTurn
	g.turn = i
	g.l.Broadcast(PlayerAction{Username: g.active[i].client.Username()})
	g.turnTask = g.l.After(g.rules.TurnTimeout, func() {
		g.turnTask = nil
		g.log.Debug("turn timed out", zap.Int("turn", g.turn))
		g.advance()
	})
}

func (g *Game) advance() {
	next := g.turn + 1
	if g.vacated {
		next = g.turn
	}
	g.startTurn(next)
}

// current returns the player whose turn it is if c is that player.
func (g *Game) current(c lobby.Client) (*player, error) {
	if g.phase != PlayerTurn || g.vacated || g.turn >= len(g.active) {
		return nil, ErrNotYourTurn
	}
	p := g.active[g.turn]
	if p.client.ID() != c.ID() {
		return nil, ErrNotYourTurn
	}
	return p, nil
}

func (g *Game) onHold(_ HoldCard, c lobby.Client) error {
	if _, err := g.current(c); err != nil {
		return err
	}
	g.turnTask.Cancel()
	g.turnTask = nil
	g.advance()
	return nil
}

func (g *Game) onDraw(_ DrawCard, c lobby.Client) error {
	p, err := g.current(c)
	if err != nil {
		return err
	}
	g.turnTask.Cancel()
	g.turnTask = nil

	p.hand = append(p.hand, g.draw())
	g.broadcastUpdate()
	if HandValue(p.hand) >= g.rules.BustAbove {
		g.advance()
	} else {
		g.startTurn(g.turn)
	}
	return nil
}

func (g *Game) dealerTurn() {
	g.phase = DealerTurn
	g.l.Broadcast(PlayerAction{Username: ""})
	g.dealerHidden = false
	g.broadcastUpdate()

	for HandValue(g.dealer) <= g.rules.DealerStandsAbove {
		g.dealer = append(g.dealer, g.draw())
		g.broadcastUpdate()
	}
	g.settle()
}

// settle tells each player their outcome and credits payouts in one
// transaction. If the commit fails the table stays in SETTLEMENT.
func (g *Game) settle() {
	g.phase = Settlement
	dealerTotal := HandValue(g.dealer)

	tx, err := g.store.Begin(g.ctx())
	if err != nil {
		g.log.Error("failed to open settlement transaction", zap.Error(err))
		return
	}

	paid := make(map[*player]int64)
	for _, p := range g.active {
		outcome := g.rules.Settle(HandValue(p.hand), dealerTotal)
		g.l.Unicast(outcomeEvent(outcome), p.client)

		amount := Payout(outcome, p.bet)
		if amount == 0 {
			continue
		}
		bal, err := tx.UpdateMoney(g.ctx(), p.client.UserID(), amount)
		if err != nil {
			g.log.Error("failed to stage payout", zap.Int64("user", p.client.UserID()), zap.Error(err))
			_ = tx.Rollback(g.ctx())
			return
		}
		paid[p] = bal
	}

	if err := tx.Commit(g.ctx()); err != nil {
		g.log.Error("failed to commit settlement, round will not reset", zap.Error(err))
		_ = tx.Rollback(g.ctx())
		return
	}

	for _, p := range g.active {
		if bal, ok := paid[p]; ok {
			g.l.Unicast(types.UpdateMoney{Money: bal}, p.client)
		}
	}
	g.resetTask = g.l.After(g.rules.ResetDelay, g.reset)
}

func outcomeEvent(o Outcome) lobby.Event {
	switch o {
	case Win:
		return RoundWin{}
	case Push:
		return RoundDraw{}
	default:
		return RoundDefeat{}
	}
}

func (g *Game) reset() {
	g.l.Scheduler().CancelAll()
	g.betTask, g.dealTask, g.turnTask, g.resetTask = nil, nil, nil, nil

	for _, p := range g.active {
		p.bet = 0
		p.hand = nil
	}
	g.dealer = nil
	g.dealerHidden = false
	g.turn = 0
	g.vacated = false
	g.deck.Reset()
	g.phase = AwaitingPlayers
	g.broadcastUpdate()
}

// draw takes the next card, reshuffling a fresh deck if the shoe runs out.
func (g *Game) draw() cards.Card {
	c, err := g.deck.Draw()
	if errors.Is(err, cards.ErrEmptySupply) {
		g.log.Warn("deck exhausted mid-round, reshuffling")
		g.deck.Reset()
		c, _ = g.deck.Draw()
	}
	return c
}

func (g *Game) find(list []*player, c lobby.Client) *player {
	p, _ := lo.Find(list, func(p *player) bool { return p.client.ID() == c.ID() })
	return p
}

func (g *Game) broadcastUpdate() {
	g.l.Broadcast(g.snapshot())
}

func (g *Game) snapshot() UpdateGame {
	dealer := PlayerData{Username: "", Cards: make([]CardData, 0, len(g.dealer))}
	for i, c := range g.dealer {
		if i == 1 && g.dealerHidden {
			dealer.Cards = append(dealer.Cards, hiddenCard)
			continue
		}
		dealer.Cards = append(dealer.Cards, cardData(c))
	}

	return UpdateGame{
		Started:        g.phase != AwaitingPlayers,
		ActivePlayers:  append(lo.Map(g.active, playerData), dealer),
		WaitingPlayers: lo.Map(g.waiting, playerData),
	}
}

func playerData(p *player, _ int) PlayerData {
	return PlayerData{
		Username:   p.client.Username(),
		CurrentBet: p.bet,
		Cards:      lo.Map(p.hand, func(c cards.Card, _ int) CardData { return cardData(c) }),
	}
}

func cardData(c cards.Card) CardData {
	return CardData{Name: c.Name(), Value: c.Value()}
}
