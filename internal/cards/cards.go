// Package cards is a shuffled 52-card supply.
package cards

import (
	"errors"
	"math/rand/v2"
	"strconv"
)

var ErrEmptySupply = errors.New("card supply is empty")

type Suit string

const (
	Hearts   Suit = "H"
	Diamonds Suit = "D"
	Clubs    Suit = "C"
	Spades   Suit = "S"
)

var Suits = []Suit{Hearts, Diamonds, Clubs, Spades}

// Ranks in deck order. 2..10 are numeric, then the faces and the ace.
var Ranks = []string{"2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K", "A"}

type Card struct {
	Suit Suit
	Rank string
}

// Name is the wire name of a card, e.g. "HA" or "S10".
func (c Card) Name() string { return string(c.Suit) + c.Rank }

// Value is the blackjack value: face value for numbers, 10 for faces and
// 11 for an ace.
func (c Card) Value() int {
	switch c.Rank {
	case "J", "Q", "K":
		return 10
	case "A":
		return 11
	}
	n, err := strconv.Atoi(c.Rank)
	if err != nil {
		return 0
	}
	return n
}

// Standard returns the 52 cards in suit/rank order.
func Standard() []Card {
	out := make([]Card, 0, len(Suits)*len(Ranks))
	for _, s := range Suits {
		for _, r := range Ranks {
			out = append(out, Card{Suit: s, Rank: r})
		}
	}
	return out
}

// Deck is a fixed slice of cards plus a draw cursor.
type Deck struct {
	cards []Card
	next  int
	rng   *rand.Rand
}

// NewDeck returns a shuffled deck. A nil rng uses the global source.
func NewDeck(rng *rand.Rand) *Deck {
	d := &Deck{cards: Standard(), rng: rng}
	d.Reset()
	return d
}

// Reset restores all 52 cards in a fresh uniform random order.
func (d *Deck) Reset() {
	d.cards = d.cards[:0]
	d.cards = append(d.cards, Standard()...)
	d.next = 0
	shuffle := rand.Shuffle
	if d.rng != nil {
		shuffle = d.rng.Shuffle
	}
	shuffle(len(d.cards), func(i, j int) {
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	})
}

func (d *Deck) Draw() (Card, error) {
	if d.next >= len(d.cards) {
		return Card{}, ErrEmptySupply
	}
	c := d.cards[d.next]
	d.next++
	return c, nil
}

func (d *Deck) Remaining() int { return len(d.cards) - d.next }
