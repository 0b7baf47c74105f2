package protocol

import "encoding/json"

// Inbound is one protocol event received from the backend. The set of
// implementations is closed; anything off the wire that doesn't match a known
// kind decodes to Unknown.
type Inbound interface{ isInbound() }

type Connected struct {
	PlayerID string `json:"playerId"`
	Message  string `json:"message,omitempty"`
}

type RoomCreated struct {
	RoomID     string `json:"roomId"`
	RoomName   string `json:"roomName"`
	Difficulty string `json:"difficulty,omitempty"`
	Message    string `json:"message,omitempty"`
}

type JoinedRoom struct {
	RoomID       string `json:"roomId"`
	RoomName     string `json:"roomName"`
	Participants int    `json:"participants"`
	Status       string `json:"status,omitempty"`
	CanStart     bool   `json:"canStart"`
	Message      string `json:"message,omitempty"`
}

type PlayerJoined struct {
	PlayerID     string `json:"playerId"`
	Participants int    `json:"participants"`
	RoomStatus   string `json:"roomStatus,omitempty"`
}

type PlayerLeft struct {
	PlayerID     string `json:"playerId"`
	Participants int    `json:"participants"`
}

type RoomStatus struct {
	RoomID           string `json:"roomId"`
	Status           string `json:"status,omitempty"`
	ParticipantCount int    `json:"participantCount"`
	ReadyCount       int    `json:"readyCount"`
	CanStart         bool   `json:"canStart"`
	IsActive         bool   `json:"isActive"`
}

type GameCanStart struct {
	Message   string `json:"message,omitempty"`
	Countdown int    `json:"countdown"`
}

type PlayerReadyChanged struct {
	PlayerID     string `json:"playerId"`
	IsReady      bool   `json:"isReady"`
	ReadyCount   int    `json:"readyCount"`
	TotalPlayers int    `json:"totalPlayers"`
}

// PlayerReadySet is the server's echo confirming our own ready toggle.
type PlayerReadySet struct {
	IsReady bool   `json:"isReady"`
	Message string `json:"message,omitempty"`
}

type GameStarted struct {
	Message   string `json:"message,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	Duration  int    `json:"duration"`
	TaskID    string `json:"taskId,omitempty"`
	TaskTitle string `json:"taskTitle,omitempty"`
}

type ReadinessTimeout struct {
	Message      string `json:"message,omitempty"`
	ReadyCount   int    `json:"readyCount"`
	TotalPlayers int    `json:"totalPlayers"`
}

type CodeSubmitted struct {
	TaskTitle string `json:"taskTitle,omitempty"`
}

type CodeSubmittedByPlayer struct {
	PlayerID  string `json:"playerId"`
	TaskTitle string `json:"taskTitle,omitempty"`
}

type TestRunResult struct {
	Status          string `json:"status"`
	PassedTests     int    `json:"passedTests"`
	TotalTests      int    `json:"totalTests"`
	ExecutionTimeMs int    `json:"executionTimeMs"`
}

type CodeResult struct {
	Result      TestRunResult   `json:"result"`
	TestResults json.RawMessage `json:"testResults,omitempty"`
}

type BattleWon struct {
	WinnerID  string `json:"winnerId"`
	TaskTitle string `json:"taskTitle,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type BattleLost struct {
	WinnerID  string `json:"winnerId"`
	TaskTitle string `json:"taskTitle,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type BattleFinished struct {
	WinnerID  string `json:"winnerId"`
	TaskTitle string `json:"taskTitle,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type LeftRoom struct {
	RoomID string `json:"roomId"`
}

type PlayerDisconnected struct {
	PlayerID     string `json:"playerId"`
	Participants int    `json:"participants,omitempty"`
}

type ServerError struct {
	Message string `json:"message"`
}

// Unknown carries any frame whose discriminator we don't recognize or whose
// payload failed to decode. The stream keeps going.
type Unknown struct {
	Type string
	Raw  []byte
}

// Disconnected is synthesized locally when the transport read loop ends.
// It never arrives on the wire.
type Disconnected struct {
	Reason string
}

func (Connected) isInbound()             {}
func (RoomCreated) isInbound()           {}
func (JoinedRoom) isInbound()            {}
func (PlayerJoined) isInbound()          {}
func (PlayerLeft) isInbound()            {}
func (RoomStatus) isInbound()            {}
func (GameCanStart) isInbound()          {}
func (PlayerReadyChanged) isInbound()    {}
func (PlayerReadySet) isInbound()        {}
func (GameStarted) isInbound()           {}
func (ReadinessTimeout) isInbound()      {}
func (CodeSubmitted) isInbound()         {}
func (CodeSubmittedByPlayer) isInbound() {}
func (CodeResult) isInbound()            {}
func (BattleWon) isInbound()             {}
func (BattleLost) isInbound()            {}
func (BattleFinished) isInbound()        {}
func (LeftRoom) isInbound()              {}
func (PlayerDisconnected) isInbound()    {}
func (ServerError) isInbound()           {}
func (Unknown) isInbound()               {}
func (Disconnected) isInbound()          {}

// Command is one client-initiated action headed for the backend.
type Command interface{ isCommand() }

type CreateRoom struct {
	RoomName   string `json:"roomName"`
	LanguageID string `json:"languageId"`
	Difficulty string `json:"difficulty"`
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
}

type PlayerReady struct {
	RoomID  string `json:"roomId"`
	IsReady bool   `json:"isReady"`
}

type SubmitCode struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

func (CreateRoom) isCommand()  {}
func (JoinRoom) isCommand()    {}
func (PlayerReady) isCommand() {}
func (SubmitCode) isCommand()  {}
func (LeaveRoom) isCommand()   {}
