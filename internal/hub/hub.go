// Package hub owns every lobby in the process, keyed by join code.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/lobby"
)

const (
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CodeLength   = 5
)

var (
	ErrUnknownMode  = errors.New("unknown game mode")
	ErrInvalidLobby = errors.New("invalid lobby")
	ErrHubClosed    = errors.New("hub closed")
)

// Mode describes one game a lobby can run.
type Mode struct {
	Name string
	New  func(l *lobby.Lobby) lobby.Game
}

// ValidCode reports whether code has the shape of a lobby code.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return false
		}
	}
	return true
}

// GenerateCode returns a random lobby code. It does not check for collisions.
func GenerateCode() (string, error) {
	return gonanoid.Generate(CodeAlphabet, CodeLength)
}

type HubMsg interface{ isHubMsg() }

type createMsg struct {
	mode  string
	reply chan createReply
}

type createReply struct {
	lobby *lobby.Lobby
	err   error
}

type getMsg struct {
	code  string
	reply chan *lobby.Lobby
}

type listMsg struct {
	mode  string
	reply chan []*lobby.Lobby
}

type shutdownMsg struct {
	reply chan struct{}
}

func (createMsg) isHubMsg()   {}
func (getMsg) isHubMsg()      {}
func (listMsg) isHubMsg()     {}
func (shutdownMsg) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	modes   map[string]Mode
	lobbies map[string]*lobby.Lobby
	newCode func() (string, error)
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, modes []Mode, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		modes:   lo.KeyBy(modes, func(m Mode) string { return m.Name }),
		lobbies: make(map[string]*lobby.Lobby),
		newCode: GenerateCode,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

// HasMode reports whether lobbies of this mode can be created.
func (h *Hub) HasMode(mode string) bool {
	_, ok := h.modes[mode]
	return ok
}

// Create starts a new lobby of mode under a fresh code.
func (h *Hub) Create(ctx context.Context, mode string) (lobby.Info, error) {
	if !h.HasMode(mode) {
		return lobby.Info{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	reply := make(chan createReply, 1)
	if err := h.send(ctx, createMsg{mode: mode, reply: reply}); err != nil {
		return lobby.Info{}, err
	}
	select {
	case r := <-reply:
		if r.err != nil {
			return lobby.Info{}, r.err
		}
		return r.lobby.Info(), nil
	case <-ctx.Done():
		return lobby.Info{}, ctx.Err()
	}
}

// Get returns the lobby with code, which must run mode.
func (h *Hub) Get(ctx context.Context, mode, code string) (*lobby.Lobby, error) {
	if !ValidCode(code) {
		return nil, fmt.Errorf("%w: malformed code %q", ErrInvalidLobby, code)
	}
	reply := make(chan *lobby.Lobby, 1)
	if err := h.send(ctx, getMsg{code: code, reply: reply}); err != nil {
		return nil, err
	}
	var lb *lobby.Lobby
	select {
	case lb = <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if lb == nil || lb.Mode() != mode {
		return nil, fmt.Errorf("%w: no %s lobby %q", ErrInvalidLobby, mode, code)
	}
	return lb, nil
}

// List returns a snapshot of every lobby of mode, ordered by code.
func (h *Hub) List(ctx context.Context, mode string) ([]lobby.Info, error) {
	if !h.HasMode(mode) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	reply := make(chan []*lobby.Lobby, 1)
	if err := h.send(ctx, listMsg{mode: mode, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case lbs := <-reply:
		infos := lo.Map(lbs, func(lb *lobby.Lobby, _ int) lobby.Info { return lb.Info() })
		sort.Slice(infos, func(i, j int) bool { return infos[i].Code < infos[j].Code })
		return infos, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown closes every lobby and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	reply := make(chan struct{})
	if err := h.send(ctx, shutdownMsg{reply: reply}); err != nil {
		if errors.Is(err, ErrHubClosed) {
			return nil
		}
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case createMsg:
				lb, err := h.create(msg.mode)
				msg.reply <- createReply{lobby: lb, err: err}

			case getMsg:
				msg.reply <- h.lobbies[msg.code] // May be nil

			case listMsg:
				msg.reply <- lo.Filter(lo.Values(h.lobbies), func(lb *lobby.Lobby, _ int) bool {
					return lb.Mode() == msg.mode
				})

			case shutdownMsg:
				h.closeAll()
				h.cancel()
				close(msg.reply)
				return
			}
		}
	}
}

func (h *Hub) create(mode string) (*lobby.Lobby, error) {
	m := h.modes[mode]
	var code string
	for {
		c, err := h.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate lobby code: %w", err)
		}
		if _, taken := h.lobbies[c]; !taken {
			code = c
			break
		}
		h.log.Debug("collision on lobby code, regenerating", zap.String("code", c))
	}

	lb := lobby.New(h.ctx, code, m.New, h.log)
	h.lobbies[code] = lb
	h.log.Info("lobby created", zap.String("lobby", code), zap.String("mode", mode))
	return lb, nil
}

func (h *Hub) closeAll() {
	for _, lb := range h.lobbies {
		lb.Close()
	}
	h.log.Info("closed lobbies", zap.Int("count", len(h.lobbies)))
	clear(h.lobbies)
}
