package lobby

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/casino-backend/internal/protocol"
)

var (
	ErrLobbyFull     = errors.New("lobby is full")
	ErrAlreadySeated = errors.New("user already holds a seat in this lobby")
	ErrLobbyClosed   = errors.New("lobby closed")
)

// Client is a seated participant as the lobby sees it.
type Client interface {
	ID() string
	UserID() int64
	Username() string
	SendFrame(frame []byte) error
	Close(code protocol.CloseCode, reason string)
}

// Game is one game mode's logic. It is built once per lobby and registers
// its handlers on the lobby's dispatcher.
type Game interface {
	Mode() string
	MaxClients() int
	Register(d *Dispatcher)
}

type Msg interface{ isLobbyMsg() }

type joinMsg struct {
	client   Client
	onSeated func(memberCount int)
	reply    chan error
}

func (joinMsg) isLobbyMsg() {}

type leaveMsg struct {
	clientID string
	reply    chan struct{}
}

func (leaveMsg) isLobbyMsg() {}

type dispatchMsg struct {
	env  protocol.Envelope
	from Client
}

func (dispatchMsg) isLobbyMsg() {}

type doMsg struct {
	fn    func()
	reply chan struct{}
}

func (doMsg) isLobbyMsg() {}

// Info is a point-in-time description of a lobby, safe to read off-loop.
type Info struct {
	Code        string
	Mode        string
	MemberCount int
	MaxClients  int
}

func (i Info) Full() bool { return i.MemberCount >= i.MaxClients }

// Lobby runs one game instance. A single goroutine owns the client list,
// the game state and every timer; everything else talks to it through the
// inbox.
type Lobby struct {
	code       string
	mode       string
	maxClients int

	inbox   chan Msg
	clients []Client
	members atomic.Int32

	dispatcher *Dispatcher
	sched      *Scheduler
	log        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a lobby around the game returned by build and starts its loop.
func New(parent context.Context, code string, build func(*Lobby) Game, log *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		code:   code,
		inbox:  make(chan Msg, 64),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.sched = newScheduler(ctx, l.inbox)

	g := build(l)
	l.mode = g.Mode()
	l.maxClients = g.MaxClients()
	l.log = log.With(zap.String("lobby", code), zap.String("mode", l.mode))
	l.dispatcher = NewDispatcher(l.log)
	g.Register(l.dispatcher)

	go l.loop()
	return l
}

func (l *Lobby) Code() string     { return l.code }
func (l *Lobby) Mode() string     { return l.mode }
func (l *Lobby) MaxClients() int  { return l.maxClients }
func (l *Lobby) Log() *zap.Logger { return l.log }

// Context is cancelled when the lobby shuts down.
func (l *Lobby) Context() context.Context { return l.ctx }

func (l *Lobby) Info() Info {
	return Info{
		Code:        l.code,
		Mode:        l.mode,
		MemberCount: int(l.members.Load()),
		MaxClients:  l.maxClients,
	}
}

// Join seats c. onSeated runs on the loop after the seat is taken and
// before READY_EVENT is emitted, which is where the caller sends READY.
func (l *Lobby) Join(ctx context.Context, c Client, onSeated func(memberCount int)) error {
	reply := make(chan error, 1)
	if err := l.send(ctx, joinMsg{client: c, onSeated: onSeated, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-l.done:
		return ErrLobbyClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave removes the client and waits until LEAVE_EVENT has been handled.
// Unknown ids are ignored.
func (l *Lobby) Leave(clientID string) {
	reply := make(chan struct{})
	if err := l.send(context.Background(), leaveMsg{clientID: clientID, reply: reply}); err != nil {
		return
	}
	select {
	case <-reply:
	case <-l.done:
	}
}

// Dispatch queues an inbound event from a seated client.
func (l *Lobby) Dispatch(ctx context.Context, env protocol.Envelope, from Client) error {
	return l.send(ctx, dispatchMsg{env: env, from: from})
}

// Do runs fn on the loop and waits for it to return.
func (l *Lobby) Do(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	if err := l.send(ctx, doMsg{fn: fn, reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-l.done:
		return ErrLobbyClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop, cancels all timers and disconnects every client.
func (l *Lobby) Close() {
	l.cancel()
	<-l.done
}

// Done is closed once the loop has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

func (l *Lobby) send(ctx context.Context, m Msg) error {
	select {
	case <-l.done:
		return ErrLobbyClosed
	default:
	}
	select {
	case l.inbox <- m:
		return nil
	case <-l.done:
		return ErrLobbyClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// The methods below must only be called from the loop, i.e. from event
// handlers and task bodies.

// After schedules fn on the loop. See Scheduler.After.
func (l *Lobby) After(d time.Duration, fn func()) *Task { return l.sched.After(d, fn) }

// Scheduler exposes the lobby's timers.
func (l *Lobby) Scheduler() *Scheduler { return l.sched }

// Clients returns the seated clients in join order.
func (l *Lobby) Clients() []Client { return slices.Clone(l.clients) }

// Broadcast serializes ev once and sends the same frame to every client in
// join order.
func (l *Lobby) Broadcast(ev Event) {
	frame, err := protocol.EncodeDispatch(ev.EventName(), ev)
	if err != nil {
		l.log.Error("failed to encode broadcast", zap.String("event", ev.EventName()), zap.Error(err))
		return
	}
	for _, c := range l.clients {
		l.deliver(c, ev.EventName(), frame)
	}
}

// Unicast sends ev to one client.
func (l *Lobby) Unicast(ev Event, to Client) {
	frame, err := protocol.EncodeDispatch(ev.EventName(), ev)
	if err != nil {
		l.log.Error("failed to encode event", zap.String("event", ev.EventName()), zap.Error(err))
		return
	}
	l.deliver(to, ev.EventName(), frame)
}

func (l *Lobby) deliver(c Client, name string, frame []byte) {
	if err := c.SendFrame(frame); err != nil {
		l.log.Debug("failed to deliver event", zap.String("event", name), zap.String("session", c.ID()), zap.Error(err))
	}
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case joinMsg:
				msg.reply <- l.join(msg.client, msg.onSeated)

			case leaveMsg:
				l.leave(msg.clientID)
				close(msg.reply)

			case dispatchMsg:
				if l.seated(msg.from.ID()) {
					l.dispatcher.Dispatch(msg.env, msg.from)
				}

			case taskMsg:
				l.sched.fire(msg.task)

			case doMsg:
				msg.fn()
				close(msg.reply)
			}
		}
	}
}

func (l *Lobby) join(c Client, onSeated func(int)) error {
	for _, existing := range l.clients {
		if existing.UserID() == c.UserID() {
			return ErrAlreadySeated
		}
	}
	if len(l.clients) >= l.maxClients {
		return ErrLobbyFull
	}

	l.clients = append(l.clients, c)
	l.members.Store(int32(len(l.clients)))
	l.log.Info("client joined", zap.String("session", c.ID()), zap.Int64("user", c.UserID()), zap.Int("members", len(l.clients)))

	if onSeated != nil {
		onSeated(len(l.clients))
	}
	l.dispatcher.Emit(Ready{}, c)
	return nil
}

func (l *Lobby) leave(clientID string) {
	i := slices.IndexFunc(l.clients, func(c Client) bool { return c.ID() == clientID })
	if i < 0 {
		return
	}
	c := l.clients[i]
	l.clients = slices.Delete(l.clients, i, i+1)
	l.members.Store(int32(len(l.clients)))
	l.log.Info("client left", zap.String("session", c.ID()), zap.Int64("user", c.UserID()), zap.Int("members", len(l.clients)))

	l.dispatcher.Emit(Leave{}, c)
}

func (l *Lobby) seated(clientID string) bool {
	return slices.ContainsFunc(l.clients, func(c Client) bool { return c.ID() == clientID })
}

func (l *Lobby) shutdown() {
	l.sched.CancelAll()
	for _, c := range l.clients {
		c.Close(protocol.CloseGoingAway, "Server shutting down")
	}
	l.clients = nil
	l.members.Store(0)
}
