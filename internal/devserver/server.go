// Package devserver is a small battle backend speaking the real protocol.
// It exists for local development and for integration tests that want a live
// peer on the other end of the socket; it is not the production service.
package devserver

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codearena/battle-client/internal/protocol"
	"github.com/codearena/battle-client/internal/taskapi"
)

type Config struct {
	// MinPlayers before a ready check can begin.
	MinPlayers int
	// CountdownSeconds announced in GameCanStart.
	CountdownSeconds int
	// StartDelay between GameCanStart and GameStarted.
	StartDelay time.Duration
	// GameDuration announced in GameStarted, seconds.
	GameDuration int
}

func (c *Config) fill() {
	if c.MinPlayers <= 0 {
		c.MinPlayers = 2
	}
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = 30
	}
	if c.StartDelay <= 0 {
		c.StartDelay = 100 * time.Millisecond
	}
	if c.GameDuration <= 0 {
		c.GameDuration = 1800
	}
}

type Server struct {
	cfg Config
	log *zap.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

type client struct {
	playerID string
	send     chan []byte
}

type room struct {
	id         string
	name       string
	difficulty string
	started    bool
	taskID     string
	taskTitle  string
	clients    map[string]*client
	ready      map[string]bool
}

func New(cfg Config, log *zap.Logger) *Server {
	cfg.fill()
	return &Server{cfg: cfg, log: log, rooms: make(map[string]*room)}
}

// Routes mounts the websocket endpoint plus the task REST surface the client
// hits after GameStarted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Get("/tasks/{id}", s.handleTask)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, taskapi.Task{
		ID:          id,
		Title:       "Two Sum",
		Description: "Given an array of integers, return indices of the two numbers adding to the target.",
		Difficulty:  "easy",
		Template:    "func twoSum(nums []int, target int) []int {\n\t// your code here\n}\n",
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	cl := &client{playerID: uuid.NewString(), send: make(chan []byte, 32)}
	s.log.Info("player connected", zap.String("playerId", cl.playerID))

	// Writer goroutine
	writeCtx, writeCancel := context.WithCancel(r.Context())
	defer writeCancel()
	go func() {
		for frame := range cl.send {
			ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, frame)
			cancel()
		}
	}()

	s.push(cl, protocol.Connected{PlayerID: cl.playerID, Message: "welcome"})
	defer s.dropClient(cl)

	// Reader loop
	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			s.push(cl, protocol.ServerError{Message: "bad command"})
			continue
		}
		s.handleCommand(cl, cmd)
	}
}

func (s *Server) handleCommand(cl *client, cmd protocol.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch c := cmd.(type) {
	case protocol.CreateRoom:
		rm := &room{
			id:         s.newRoomCodeLocked(),
			name:       c.RoomName,
			difficulty: c.Difficulty,
			clients:    map[string]*client{cl.playerID: cl},
			ready:      make(map[string]bool),
		}
		s.rooms[rm.id] = rm
		s.pushLocked(cl, protocol.RoomCreated{RoomID: rm.id, RoomName: rm.name, Difficulty: rm.difficulty, Message: "room created"})

	case protocol.JoinRoom:
		rm := s.rooms[c.RoomID]
		if rm == nil {
			s.pushLocked(cl, protocol.ServerError{Message: "room not found"})
			return
		}
		rm.clients[cl.playerID] = cl
		s.pushLocked(cl, protocol.JoinedRoom{
			RoomID: rm.id, RoomName: rm.name, Participants: len(rm.clients),
			Status: "waiting", CanStart: len(rm.clients) >= s.cfg.MinPlayers,
		})
		s.broadcastLocked(rm, cl.playerID, protocol.PlayerJoined{
			PlayerID: cl.playerID, Participants: len(rm.clients), RoomStatus: "waiting",
		})
		s.roomStatusLocked(rm)

	case protocol.PlayerReady:
		rm := s.rooms[c.RoomID]
		if rm == nil || rm.clients[cl.playerID] == nil {
			s.pushLocked(cl, protocol.ServerError{Message: "not in that room"})
			return
		}
		rm.ready[cl.playerID] = c.IsReady
		if !c.IsReady {
			delete(rm.ready, cl.playerID)
		}
		s.pushLocked(cl, protocol.PlayerReadySet{IsReady: c.IsReady})
		s.broadcastLocked(rm, "", protocol.PlayerReadyChanged{
			PlayerID: cl.playerID, IsReady: c.IsReady,
			ReadyCount: len(rm.ready), TotalPlayers: len(rm.clients),
		})
		if !rm.started && len(rm.clients) >= s.cfg.MinPlayers && len(rm.ready) == len(rm.clients) {
			rm.started = true
			rm.taskID = uuid.NewString()
			rm.taskTitle = "Two Sum"
			s.broadcastLocked(rm, "", protocol.GameCanStart{Message: "all players ready", Countdown: s.cfg.CountdownSeconds})
			go s.startGame(rm.id)
		}

	case protocol.SubmitCode:
		rm := s.rooms[c.RoomID]
		if rm == nil || rm.clients[cl.playerID] == nil {
			s.pushLocked(cl, protocol.ServerError{Message: "not in that room"})
			return
		}
		s.pushLocked(cl, protocol.CodeSubmitted{TaskTitle: rm.taskTitle})
		s.broadcastLocked(rm, cl.playerID, protocol.CodeSubmittedByPlayer{PlayerID: cl.playerID, TaskTitle: rm.taskTitle})
		s.pushLocked(cl, protocol.CodeResult{Result: protocol.TestRunResult{
			Status: "passed", PassedTests: 10, TotalTests: 10, ExecutionTimeMs: 42,
		}})
		now := time.Now().UTC().Format(time.RFC3339)
		s.pushLocked(cl, protocol.BattleWon{WinnerID: cl.playerID, TaskTitle: rm.taskTitle, Message: "you won", Timestamp: now})
		s.broadcastLocked(rm, cl.playerID, protocol.BattleLost{WinnerID: cl.playerID, TaskTitle: rm.taskTitle, Message: "opponent finished first", Timestamp: now})

	case protocol.LeaveRoom:
		rm := s.rooms[c.RoomID]
		if rm == nil {
			s.pushLocked(cl, protocol.ServerError{Message: "room not found"})
			return
		}
		delete(rm.clients, cl.playerID)
		delete(rm.ready, cl.playerID)
		s.pushLocked(cl, protocol.LeftRoom{RoomID: rm.id})
		s.broadcastLocked(rm, "", protocol.PlayerLeft{PlayerID: cl.playerID, Participants: len(rm.clients)})
		if len(rm.clients) == 0 {
			delete(s.rooms, rm.id)
		}
	}
}

// startGame fires GameStarted after the configured delay, unless readiness
// collapsed in the meantime.
func (s *Server) startGame(roomID string) {
	time.Sleep(s.cfg.StartDelay)

	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.rooms[roomID]
	if rm == nil || !rm.started {
		return
	}
	if len(rm.ready) < len(rm.clients) {
		rm.started = false
		s.broadcastLocked(rm, "", protocol.ReadinessTimeout{
			Message: "not all players confirmed", ReadyCount: len(rm.ready), TotalPlayers: len(rm.clients),
		})
		return
	}
	s.broadcastLocked(rm, "", protocol.GameStarted{
		Message:   "go",
		StartTime: time.Now().UTC().Format(time.RFC3339),
		Duration:  s.cfg.GameDuration,
		TaskID:    rm.taskID,
		TaskTitle: rm.taskTitle,
	})
}

func (s *Server) dropClient(cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rm := range s.rooms {
		if rm.clients[cl.playerID] != nil {
			delete(rm.clients, cl.playerID)
			delete(rm.ready, cl.playerID)
			s.broadcastLocked(rm, "", protocol.PlayerDisconnected{PlayerID: cl.playerID, Participants: len(rm.clients)})
			if len(rm.clients) == 0 {
				delete(s.rooms, id)
			}
		}
	}
	close(cl.send)
}

func (s *Server) push(cl *client, msg protocol.Inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushLocked(cl, msg)
}

func (s *Server) pushLocked(cl *client, msg protocol.Inbound) {
	frame, err := protocol.EncodeInbound(msg)
	if err != nil {
		s.log.Error("encode failed", zap.Error(err))
		return
	}
	select {
	case cl.send <- frame:
	default:
		s.log.Warn("dropping frame for slow client", zap.String("playerId", cl.playerID))
	}
}

func (s *Server) broadcastLocked(rm *room, exceptID string, msg protocol.Inbound) {
	for id, cl := range rm.clients {
		if id == exceptID {
			continue
		}
		s.pushLocked(cl, msg)
	}
}

func (s *Server) roomStatusLocked(rm *room) {
	s.broadcastLocked(rm, "", protocol.RoomStatus{
		RoomID: rm.id, Status: "waiting",
		ParticipantCount: len(rm.clients), ReadyCount: len(rm.ready),
		CanStart: len(rm.clients) >= s.cfg.MinPlayers, IsActive: rm.started,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) newRoomCodeLocked() string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for {
		code := make([]byte, 6)
		for i := range code {
			num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
			if err != nil {
				return uuid.NewString()
			}
			code[i] = charset[num.Int64()]
		}
		if s.rooms[string(code)] == nil {
			return string(code)
		}
	}
}
