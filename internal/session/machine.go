// Package session reduces the inbound message stream plus user intents into a
// battle-session snapshot, and runs the ready-check countdown. One goroutine
// owns all state; everything else talks to it through the inbox.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codearena/battle-client/internal/history"
	"github.com/codearena/battle-client/internal/protocol"
)

// Conn is the slice of the connection manager the machine needs.
type Conn interface {
	Send(ctx context.Context, cmd protocol.Command) error
	Subscribe(id string) <-chan protocol.Inbound
	Unsubscribe(id string)
}

// Recorder persists terminal battle results. history.NopStore satisfies it.
type Recorder interface {
	Record(rec history.BattleRecord) error
}

type msg interface{ isSessionMsg() }

type tickMsg struct{ gen int }

type createRoomMsg struct {
	name, languageID, difficulty string
	reply                        chan error
}

type joinRoomMsg struct {
	roomID string
	reply  chan error
}

type toggleReadyMsg struct{ reply chan error }

type submitCodeMsg struct {
	code  string
	reply chan error
}

type leaveRoomMsg struct{ reply chan error }

type watchMsg struct {
	id  string
	out chan State
}

type unwatchMsg struct{ id string }

type getStateMsg struct{ reply chan State }

func (tickMsg) isSessionMsg()        {}
func (createRoomMsg) isSessionMsg()  {}
func (joinRoomMsg) isSessionMsg()    {}
func (toggleReadyMsg) isSessionMsg() {}
func (submitCodeMsg) isSessionMsg()  {}
func (leaveRoomMsg) isSessionMsg()   {}
func (watchMsg) isSessionMsg()       {}
func (unwatchMsg) isSessionMsg()     {}
func (getStateMsg) isSessionMsg()    {}

const (
	subscriberID = "session-machine"
	sendTimeout  = 5 * time.Second
)

type Config struct {
	// TickInterval is the countdown resolution. Defaults to one second;
	// tests shrink it.
	TickInterval time.Duration
	Recorder     Recorder
	Logger       *zap.Logger
}

type Machine struct {
	conn Conn
	rec  Recorder
	log  *zap.Logger
	tick time.Duration

	inbox   chan msg
	inbound <-chan protocol.Inbound
	ctx     context.Context
	cancel  context.CancelFunc

	// Everything below is owned by the loop goroutine.
	phase       Phase
	errorReason string

	roomID       string
	roomName     string
	selfPlayerID string

	roster []*Participant

	readyCount        int
	participantsCount int

	countdownRemaining int
	countdownGen       int
	stopTicker         context.CancelFunc

	gameDuration int
	taskID       string
	taskTitle    string

	selfReady bool

	lastRun    *protocol.TestRunResult
	lastResult *BattleResult

	watchers map[string]chan State
}

func NewMachine(parent context.Context, c Conn, cfg Config) *Machine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Recorder == nil {
		cfg.Recorder = history.NopStore{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	m := &Machine{
		conn:     c,
		rec:      cfg.Recorder,
		log:      cfg.Logger,
		tick:     cfg.TickInterval,
		inbox:    make(chan msg, 64),
		inbound:  c.Subscribe(subscriberID),
		ctx:      ctx,
		cancel:   cancel,
		phase:    PhaseNotConnected,
		watchers: make(map[string]chan State),
	}
	go m.loop()
	return m
}

// Close stops the loop and the countdown deterministically.
func (m *Machine) Close() { m.cancel() }

// ---- intents -------------------------------------------------------------

func (m *Machine) CreateRoom(ctx context.Context, name, languageID, difficulty string) error {
	reply := make(chan error, 1)
	return m.ask(ctx, createRoomMsg{name: name, languageID: languageID, difficulty: difficulty, reply: reply}, reply)
}

func (m *Machine) JoinRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	reply := make(chan error, 1)
	return m.ask(ctx, joinRoomMsg{roomID: roomID, reply: reply}, reply)
}

// ToggleReady sends the negation of the current selfReady flag. The flag
// itself only flips when the server's PlayerReadySet echo comes back.
func (m *Machine) ToggleReady(ctx context.Context) error {
	reply := make(chan error, 1)
	return m.ask(ctx, toggleReadyMsg{reply: reply}, reply)
}

func (m *Machine) SubmitCode(ctx context.Context, code string) error {
	if code == "" {
		return ErrEmptyCode
	}
	reply := make(chan error, 1)
	return m.ask(ctx, submitCodeMsg{code: code, reply: reply}, reply)
}

func (m *Machine) LeaveRoom(ctx context.Context) error {
	reply := make(chan error, 1)
	return m.ask(ctx, leaveRoomMsg{reply: reply}, reply)
}

func (m *Machine) ask(ctx context.Context, req msg, reply chan error) error {
	select {
	case m.inbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
}

// ---- observation ---------------------------------------------------------

func (m *Machine) Snapshot(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	select {
	case m.inbox <- getStateMsg{reply: reply}:
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-m.ctx.Done():
		return State{}, m.ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-m.ctx.Done():
		return State{}, m.ctx.Err()
	}
}

// Watch registers a snapshot receiver; the current snapshot is delivered
// immediately, then one per state change.
func (m *Machine) Watch(id string) <-chan State {
	out := make(chan State, 8)
	select {
	case m.inbox <- watchMsg{id: id, out: out}:
	case <-m.ctx.Done():
		close(out)
	}
	return out
}

func (m *Machine) Unwatch(id string) {
	select {
	case m.inbox <- unwatchMsg{id: id}:
	case <-m.ctx.Done():
	}
}

// ---- loop ----------------------------------------------------------------

func (m *Machine) loop() {
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return

		case in, ok := <-m.inbound:
			if !ok {
				m.inbound = nil
				continue
			}
			if m.apply(in) {
				m.broadcast()
			}

		case raw := <-m.inbox:
			switch msg := raw.(type) {
			case tickMsg:
				if m.applyTick(msg.gen) {
					m.broadcast()
				}

			case createRoomMsg:
				msg.reply <- m.handleCreateRoom(msg)
			case joinRoomMsg:
				msg.reply <- m.handleJoinRoom(msg)
			case toggleReadyMsg:
				msg.reply <- m.handleToggleReady()
			case submitCodeMsg:
				msg.reply <- m.handleSubmitCode(msg)
			case leaveRoomMsg:
				msg.reply <- m.handleLeaveRoom()

			case watchMsg:
				m.watchers[msg.id] = msg.out
				msg.out <- m.snapshot()
			case unwatchMsg:
				if ch, ok := m.watchers[msg.id]; ok {
					close(ch)
					delete(m.watchers, msg.id)
				}
			case getStateMsg:
				msg.reply <- m.snapshot()
			}
		}
	}
}

func (m *Machine) shutdown() {
	m.stopCountdown()
	m.conn.Unsubscribe(subscriberID)
	for id, ch := range m.watchers {
		close(ch)
		delete(m.watchers, id)
	}
	m.cancel()
}

// ---- intent handlers (run on the loop goroutine) -------------------------

func (m *Machine) send(cmd protocol.Command) error {
	ctx, cancel := context.WithTimeout(m.ctx, sendTimeout)
	defer cancel()
	return m.conn.Send(ctx, cmd)
}

func (m *Machine) handleCreateRoom(msg createRoomMsg) error {
	if m.roomID != "" {
		return ErrAlreadyInRoom
	}
	return m.send(protocol.CreateRoom{RoomName: msg.name, LanguageID: msg.languageID, Difficulty: msg.difficulty})
}

func (m *Machine) handleJoinRoom(msg joinRoomMsg) error {
	if m.roomID != "" {
		return ErrAlreadyInRoom
	}
	return m.send(protocol.JoinRoom{RoomID: msg.roomID})
}

func (m *Machine) handleToggleReady() error {
	if m.roomID == "" {
		return ErrNoActiveRoom
	}
	// Optimism stops here: selfReady flips on the PlayerReadySet echo.
	return m.send(protocol.PlayerReady{RoomID: m.roomID, IsReady: !m.selfReady})
}

func (m *Machine) handleSubmitCode(msg submitCodeMsg) error {
	if m.roomID == "" {
		return ErrNoActiveRoom
	}
	return m.send(protocol.SubmitCode{RoomID: m.roomID, Code: msg.code})
}

func (m *Machine) handleLeaveRoom() error {
	if m.roomID == "" {
		return ErrNoActiveRoom
	}
	// State resets when the LeftRoom confirmation lands.
	return m.send(protocol.LeaveRoom{RoomID: m.roomID})
}

// ---- snapshot & broadcast ------------------------------------------------

func (m *Machine) snapshot() State {
	parts := make([]Participant, 0, len(m.roster))
	for _, p := range m.roster {
		parts = append(parts, *p)
	}
	return State{
		Phase:                     m.phase,
		ErrorReason:               m.errorReason,
		RoomID:                    m.roomID,
		RoomName:                  m.roomName,
		SelfPlayerID:              m.selfPlayerID,
		Participants:              parts,
		ReadyCount:                m.readyCount,
		ParticipantsCount:         m.participantsCount,
		CountdownSecondsRemaining: m.countdownRemaining,
		GameDuration:              m.gameDuration,
		CurrentTaskID:             m.taskID,
		CurrentTaskTitle:          m.taskTitle,
		SelfReady:                 m.selfReady,
		LastRun:                   m.lastRun,
		LastResult:                m.lastResult,
	}
}

func (m *Machine) broadcast() {
	snap := m.snapshot()
	for id, ch := range m.watchers {
		select {
		case ch <- snap:
			// ok
		default:
			// Watcher is slow/full - drop them.
			m.log.Warn("dropping slow watcher", zap.String("id", id))
			close(ch)
			delete(m.watchers, id)
		}
	}
}
