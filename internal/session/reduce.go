package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codearena/battle-client/internal/history"
	"github.com/codearena/battle-client/internal/protocol"
)

// apply reduces one inbound message into the machine's state. Returns true
// when anything observable changed. Runs on the loop goroutine.
func (m *Machine) apply(in protocol.Inbound) bool {
	switch msg := in.(type) {
	case protocol.Connected:
		if m.selfPlayerID == "" {
			m.selfPlayerID = msg.PlayerID
			return true
		}
		if m.selfPlayerID != msg.PlayerID {
			m.log.Warn("handshake player id changed mid-session, ignoring",
				zap.String("have", m.selfPlayerID), zap.String("got", msg.PlayerID))
		}
		return false

	case protocol.RoomCreated:
		m.enterRoom(msg.RoomID, msg.RoomName, 1)
		return true

	case protocol.JoinedRoom:
		m.enterRoom(msg.RoomID, msg.RoomName, msg.Participants)
		return true

	case protocol.PlayerJoined:
		if m.roomID == "" {
			return m.ignored("PlayerJoined")
		}
		m.addParticipant(msg.PlayerID)
		if msg.Participants > 0 {
			m.participantsCount = msg.Participants
		}
		return true

	case protocol.PlayerLeft:
		if m.roomID == "" {
			return m.ignored("PlayerLeft")
		}
		m.removeParticipant(msg.PlayerID)
		if msg.Participants > 0 {
			m.participantsCount = msg.Participants
		}
		return true

	case protocol.PlayerDisconnected:
		if m.roomID == "" {
			return m.ignored("PlayerDisconnected")
		}
		m.removeParticipant(msg.PlayerID)
		if msg.Participants > 0 {
			m.participantsCount = msg.Participants
		}
		return true

	case protocol.RoomStatus:
		if m.roomID == "" || msg.RoomID != m.roomID {
			return m.staleRoom("RoomStatus", msg.RoomID)
		}
		changed := false
		if m.participantsCount != msg.ParticipantCount {
			m.participantsCount = msg.ParticipantCount
			changed = true
		}
		if m.readyCount != msg.ReadyCount {
			m.readyCount = msg.ReadyCount
			changed = true
		}
		// Backfill an empty roster after a reconnect.
		if len(m.roster) == 0 && m.selfPlayerID != "" {
			m.addParticipant(m.selfPlayerID)
			changed = true
		}
		return changed

	case protocol.GameCanStart:
		if m.phase != PhaseWaitingForPlayers {
			m.log.Warn("GameCanStart outside waiting phase, ignoring", zap.String("phase", string(m.phase)))
			return false
		}
		m.phase = PhaseReadyCheck
		m.countdownRemaining = msg.Countdown
		m.startCountdown()
		return true

	case protocol.PlayerReadyChanged:
		if m.roomID == "" {
			return m.ignored("PlayerReadyChanged")
		}
		p := m.addParticipant(msg.PlayerID)
		p.IsReady = msg.IsReady
		// Backend counts are authoritative over anything derived locally.
		m.readyCount = msg.ReadyCount
		if msg.TotalPlayers > 0 {
			m.participantsCount = msg.TotalPlayers
		}
		return true

	case protocol.PlayerReadySet:
		m.selfReady = msg.IsReady
		if m.selfPlayerID != "" {
			if p := m.findParticipant(m.selfPlayerID); p != nil {
				p.IsReady = msg.IsReady
			}
		}
		return true

	case protocol.ReadinessTimeout:
		return m.abortReadyCheck("readiness timeout")

	case protocol.GameStarted:
		if m.phase != PhaseReadyCheck && m.phase != PhaseStartingGame {
			m.log.Warn("GameStarted outside ready check, ignoring", zap.String("phase", string(m.phase)))
			return false
		}
		m.stopCountdown()
		m.phase = PhaseStartingGame
		m.broadcast()
		m.phase = PhaseGameStarted
		m.gameDuration = msg.Duration
		m.taskID = msg.TaskID
		m.taskTitle = msg.TaskTitle
		return true

	case protocol.CodeSubmitted:
		m.log.Info("code submitted", zap.String("task", msg.TaskTitle))
		return false

	case protocol.CodeSubmittedByPlayer:
		m.log.Info("opponent submitted code", zap.String("player", msg.PlayerID))
		return false

	case protocol.CodeResult:
		run := msg.Result
		m.lastRun = &run
		return true

	case protocol.BattleWon:
		return m.finishBattle("won", msg.WinnerID, msg.TaskTitle, msg.Message)
	case protocol.BattleLost:
		return m.finishBattle("lost", msg.WinnerID, msg.TaskTitle, msg.Message)
	case protocol.BattleFinished:
		return m.finishBattle("finished", msg.WinnerID, msg.TaskTitle, msg.Message)

	case protocol.LeftRoom:
		if m.roomID == "" || msg.RoomID != m.roomID {
			return m.staleRoom("LeftRoom", msg.RoomID)
		}
		m.resetRoom()
		return true

	case protocol.ServerError:
		m.stopCountdown()
		m.phase = PhaseError
		m.errorReason = msg.Message
		return true

	case protocol.Disconnected:
		m.resetSession()
		return true

	case protocol.Unknown:
		m.log.Debug("unknown inbound frame", zap.String("kind", msg.Type))
		return false

	default:
		return false
	}
}

func (m *Machine) ignored(kind string) bool {
	m.log.Debug("inbound message with no active room, ignoring", zap.String("kind", kind))
	return false
}

func (m *Machine) staleRoom(kind, roomID string) bool {
	m.log.Debug("inbound message for another room, ignoring",
		zap.String("kind", kind), zap.String("roomId", roomID), zap.String("current", m.roomID))
	return false
}

// ---- roster --------------------------------------------------------------

func (m *Machine) findParticipant(id string) *Participant {
	for _, p := range m.roster {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// addParticipant is idempotent under duplicate delivery.
func (m *Machine) addParticipant(id string) *Participant {
	if p := m.findParticipant(id); p != nil {
		p.IsConnected = true
		return p
	}
	p := &Participant{ID: id, DisplayName: id, IsConnected: true}
	m.roster = append(m.roster, p)
	return p
}

func (m *Machine) removeParticipant(id string) {
	for i, p := range m.roster {
		if p.ID == id {
			m.roster = append(m.roster[:i], m.roster[i+1:]...)
			return
		}
	}
}

// ---- transitions ---------------------------------------------------------

func (m *Machine) enterRoom(roomID, roomName string, participants int) {
	m.phase = PhaseWaitingForPlayers
	m.roomID = roomID
	m.roomName = roomName
	m.roster = nil
	if m.selfPlayerID != "" {
		m.addParticipant(m.selfPlayerID)
	}
	if participants > 0 {
		m.participantsCount = participants
	} else {
		m.participantsCount = len(m.roster)
	}
	m.readyCount = 0
	m.selfReady = false
	m.lastRun = nil
	m.lastResult = nil
}

// abortReadyCheck handles both the backend's ReadinessTimeout and the local
// countdown fallback. Idempotent: a duplicate trigger after the transition is
// a no-op, so the two can race freely.
func (m *Machine) abortReadyCheck(why string) bool {
	if m.phase != PhaseReadyCheck {
		return false
	}
	m.log.Info("ready check aborted", zap.String("reason", why))
	m.stopCountdown()
	m.phase = PhaseWaitingForPlayers
	for _, p := range m.roster {
		p.IsReady = false
	}
	m.selfReady = false
	m.readyCount = 0
	return true
}

func (m *Machine) finishBattle(outcome, winnerID, taskTitle, message string) bool {
	m.lastResult = &BattleResult{Outcome: outcome, WinnerID: winnerID, TaskTitle: taskTitle, Message: message}
	if err := m.rec.Record(history.BattleRecord{
		RoomID:     m.roomID,
		TaskTitle:  taskTitle,
		WinnerID:   winnerID,
		Outcome:    outcome,
		Message:    message,
		FinishedAt: time.Now(),
	}); err != nil {
		m.log.Warn("failed to record battle result", zap.Error(err))
	}
	return true
}

// resetRoom clears everything tied to the room but keeps the handshake
// identity, so a rejoin on the same connection works.
func (m *Machine) resetRoom() {
	m.stopCountdown()
	m.phase = PhaseNotConnected
	m.errorReason = ""
	m.roomID = ""
	m.roomName = ""
	m.roster = nil
	m.readyCount = 0
	m.participantsCount = 0
	m.gameDuration = 0
	m.taskID = ""
	m.taskTitle = ""
	m.selfReady = false
	m.lastRun = nil
	m.lastResult = nil
}

// resetSession is resetRoom plus the identity: the next connect is a fresh
// handshake.
func (m *Machine) resetSession() {
	m.resetRoom()
	m.selfPlayerID = ""
}

// ---- countdown -----------------------------------------------------------

// startCountdown launches the ticking goroutine for the current ready check.
// Each run carries a generation number; ticks from an older run are dropped,
// so a tick already queued when the phase moves on can't decrement anything.
func (m *Machine) startCountdown() {
	m.stopTickerOnly()
	m.countdownGen++
	gen := m.countdownGen

	ctx, cancel := context.WithCancel(m.ctx)
	m.stopTicker = cancel

	go func() {
		t := time.NewTicker(m.tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case m.inbox <- tickMsg{gen: gen}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (m *Machine) applyTick(gen int) bool {
	if gen != m.countdownGen || m.phase != PhaseReadyCheck {
		return false
	}
	if m.countdownRemaining > 0 {
		m.countdownRemaining--
	}
	if m.countdownRemaining == 0 {
		// Local fallback; the backend's ReadinessTimeout is authoritative
		// and this transition is idempotent with it.
		m.abortReadyCheck("countdown reached zero")
	}
	return true
}

func (m *Machine) stopTickerOnly() {
	if m.stopTicker != nil {
		m.stopTicker()
		m.stopTicker = nil
	}
}

// stopCountdown cancels the ticker and invalidates its generation before any
// transition out of ReadyCheck, so no stale tick fires against the new phase.
func (m *Machine) stopCountdown() {
	m.stopTickerOnly()
	m.countdownGen++
	m.countdownRemaining = 0
}
