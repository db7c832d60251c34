// Package types holds the payloads clients see on the wire outside of
// game events.
package types

// PublicUser is what other clients and the user itself may see.
type PublicUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Money    int64  `json:"money"`
}

// Ready is the data of the READY frame that ends the handshake.
type Ready struct {
	User        PublicUser `json:"user"`
	SessionID   string     `json:"session_id"`
	MemberCount int        `json:"member_count"`
}

// LobbyListing is one entry of GET /{mode}/ and the body of POST /{mode}/.
type LobbyListing struct {
	Code        string `json:"code"`
	MemberCount int    `json:"member_count"`
	MaxClients  int    `json:"max_clients"`
	Full        bool   `json:"full"`
}

// Error is the body of a failed REST call.
type Error struct {
	Error string `json:"error"`
}

// UpdateMoney tells a client its balance after a change.
type UpdateMoney struct {
	Money int64 `json:"money"`
}

func (UpdateMoney) EventName() string { return "UPDATE_MONEY" }
