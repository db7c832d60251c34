package blackjack

// Client -> server

type StartGame struct{}

func (StartGame) EventName() string { return "BLACKJACK_START_GAME" }

type SetBet struct {
	Bet int64 `json:"bet"`
}

func (SetBet) EventName() string { return "BLACKJACK_SET_BET" }

type HoldCard struct{}

func (HoldCard) EventName() string { return "BLACKJACK_HOLD_CARD" }

type DrawCard struct{}

func (DrawCard) EventName() string { return "BLACKJACK_DRAW_CARD" }

// Server -> client

type CardData struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// hiddenCard is how the dealer's face-down card goes out on the wire.
var hiddenCard = CardData{Name: "", Value: 0}

type PlayerData struct {
	Username   string     `json:"username"`
	CurrentBet int64      `json:"current_bet"`
	Cards      []CardData `json:"cards"`
}

// UpdateGame is the full table state. The dealer is the last entry of
// ActivePlayers, with an empty username.
type UpdateGame struct {
	Started        bool         `json:"started"`
	ActivePlayers  []PlayerData `json:"active_players"`
	WaitingPlayers []PlayerData `json:"waiting_players"`
}

func (UpdateGame) EventName() string { return "BLACKJACK_UPDATE_GAME" }

type WaitingForBet struct {
	WaitTime int `json:"wait_time"`
}

func (WaitingForBet) EventName() string { return "BLACKJACK_WAITING_FOR_BET" }

// PlayerAction names whose turn it is. An empty username is the dealer.
type PlayerAction struct {
	Username string `json:"username"`
}

func (PlayerAction) EventName() string { return "BLACKJACK_PLAYER_ACTION" }

type RoundWin struct{}

func (RoundWin) EventName() string { return "BLACKJACK_WIN" }

type RoundDraw struct{}

func (RoundDraw) EventName() string { return "BLACKJACK_DRAW" }

type RoundDefeat struct{}

func (RoundDefeat) EventName() string { return "BLACKJACK_DEFEAT" }
