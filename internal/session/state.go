package session

import (
	"errors"

	"github.com/codearena/battle-client/internal/protocol"
)

var ErrNoActiveRoom = errors.New("no active room")
var ErrAlreadyInRoom = errors.New("already in a room")
var ErrEmptyRoomID = errors.New("empty room id")
var ErrEmptyCode = errors.New("empty code submission")

type Phase string

const (
	PhaseNotConnected      Phase = "not_connected"
	PhaseWaitingForPlayers Phase = "waiting_for_players"
	PhaseReadyCheck        Phase = "ready_check"
	PhaseStartingGame      Phase = "starting_game"
	PhaseGameStarted       Phase = "game_started"
	PhaseError             Phase = "error"
)

type Participant struct {
	ID          string
	DisplayName string
	IsReady     bool
	IsConnected bool
}

// BattleResult is the terminal outcome of a round, kept on the snapshot until
// the consumer leaves the room.
type BattleResult struct {
	Outcome   string // "won" | "lost" | "finished"
	WinnerID  string
	TaskTitle string
	Message   string
}

// State is the immutable snapshot handed to observers. Participants are in
// join order.
type State struct {
	Phase       Phase
	ErrorReason string

	RoomID       string
	RoomName     string
	SelfPlayerID string

	Participants      []Participant
	ReadyCount        int
	ParticipantsCount int

	CountdownSecondsRemaining int

	GameDuration     int
	CurrentTaskID    string
	CurrentTaskTitle string

	SelfReady bool

	LastRun    *protocol.TestRunResult
	LastResult *BattleResult
}

// Participant returns the roster entry for id, if present.
func (s State) Participant(id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}
