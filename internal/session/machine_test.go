package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codearena/battle-client/internal/conn"
	"github.com/codearena/battle-client/internal/protocol"
)

// fakeConn records sent commands and lets tests inject inbound messages.
type fakeConn struct {
	in      chan protocol.Inbound
	mu      sync.Mutex
	sent    []protocol.Command
	sendErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan protocol.Inbound, 16)}
}

func (f *fakeConn) Send(ctx context.Context, cmd protocol.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeConn) Subscribe(id string) <-chan protocol.Inbound { return f.in }
func (f *fakeConn) Unsubscribe(id string)                       {}

func (f *fakeConn) sentCommands() []protocol.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Command(nil), f.sent...)
}

// helper: receive one snapshot with a timeout so tests never hang
func recvState(t *testing.T, ch <-chan State, within time.Duration) State {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatalf("watch channel closed unexpectedly")
		}
		return s
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return State{} // unreachable
	}
}

func recvNoState(t *testing.T, ch <-chan State, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
		// good: quiet
	}
}

// waitState drains snapshots until pred holds.
func waitState(t *testing.T, ch <-chan State, within time.Duration, pred func(State) bool) State {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				t.Fatalf("watch channel closed while waiting")
			}
			if pred(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching snapshot")
			return State{} // unreachable
		}
	}
}

func newTestMachine(t *testing.T, fc *fakeConn) (*Machine, <-chan State) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := NewMachine(ctx, fc, Config{TickInterval: 10 * time.Millisecond})
	t.Cleanup(m.Close)
	watch := m.Watch("test")
	_ = recvState(t, watch, time.Second) // initial snapshot
	return m, watch
}

func enterRoom(t *testing.T, fc *fakeConn, watch <-chan State) State {
	t.Helper()
	fc.in <- protocol.Connected{PlayerID: "self"}
	_ = recvState(t, watch, time.Second)
	fc.in <- protocol.RoomCreated{RoomID: "R1", RoomName: "duel"}
	return recvState(t, watch, time.Second)
}

func TestMachine_RoomCreatedScenario(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)

	snap := enterRoom(t, fc, watch)
	assert.Equal(t, PhaseWaitingForPlayers, snap.Phase)
	assert.Equal(t, "R1", snap.RoomID)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, "self", snap.Participants[0].ID)
	assert.Equal(t, "self", snap.SelfPlayerID)
}

func TestMachine_DuplicatePlayerJoinedIsIdempotent(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	fc.in <- protocol.PlayerJoined{PlayerID: "p2", Participants: 2}
	fc.in <- protocol.PlayerJoined{PlayerID: "p2", Participants: 2}
	fc.in <- protocol.PlayerJoined{PlayerID: "p2", Participants: 2}

	snap := waitState(t, watch, time.Second, func(s State) bool {
		_, ok := s.Participant("p2")
		return ok
	})
	// Drain any further snapshots from the duplicates and recheck the last.
	for {
		select {
		case s := <-watch:
			snap = s
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	assert.Len(t, snap.Participants, 2, "roster must not contain duplicate ids")
	assert.Equal(t, 2, snap.ParticipantsCount)
}

func TestMachine_GameCanStartEntersReadyCheck(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	fc.in <- protocol.PlayerJoined{PlayerID: "p2", Participants: 2}
	_ = recvState(t, watch, time.Second)

	fc.in <- protocol.GameCanStart{Countdown: 10}
	snap := recvState(t, watch, time.Second)
	assert.Equal(t, PhaseReadyCheck, snap.Phase)
	assert.Equal(t, 10, snap.CountdownSecondsRemaining)
}

func TestMachine_CountdownFallbackRunsOut(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	fc.in <- protocol.GameCanStart{Countdown: 3}
	snap := recvState(t, watch, time.Second)
	require.Equal(t, PhaseReadyCheck, snap.Phase)
	require.Equal(t, 3, snap.CountdownSecondsRemaining)

	var seen []int
	waitingTransitions := 0
	deadline := time.After(2 * time.Second)
	for waitingTransitions == 0 {
		select {
		case s := <-watch:
			if s.Phase == PhaseReadyCheck {
				seen = append(seen, s.CountdownSecondsRemaining)
			}
			if s.Phase == PhaseWaitingForPlayers {
				waitingTransitions++
				assert.Zero(t, s.CountdownSecondsRemaining)
			}
		case <-deadline:
			t.Fatal("countdown never ran out")
		}
	}
	assert.Equal(t, []int{2, 1}, seen, "countdown must pass through each value once")

	// No duplicate transition from stale ticks.
	recvNoState(t, watch, 100*time.Millisecond)
}

func TestMachine_ReadinessTimeoutResetsReadyFlags(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	fc.in <- protocol.PlayerJoined{PlayerID: "p2", Participants: 2}
	_ = recvState(t, watch, time.Second)
	fc.in <- protocol.PlayerReadyChanged{PlayerID: "p2", IsReady: true, ReadyCount: 1, TotalPlayers: 2}
	_ = recvState(t, watch, time.Second)
	fc.in <- protocol.PlayerReadySet{IsReady: true}
	_ = recvState(t, watch, time.Second)
	fc.in <- protocol.GameCanStart{Countdown: 30}
	snap := recvState(t, watch, time.Second)
	require.Equal(t, PhaseReadyCheck, snap.Phase)

	fc.in <- protocol.ReadinessTimeout{ReadyCount: 1, TotalPlayers: 2}
	snap = waitState(t, watch, time.Second, func(s State) bool { return s.Phase == PhaseWaitingForPlayers })
	assert.Zero(t, snap.CountdownSecondsRemaining)
	assert.False(t, snap.SelfReady)
	assert.Zero(t, snap.ReadyCount)
	for _, p := range snap.Participants {
		assert.False(t, p.IsReady, "participant %s should have ready reset", p.ID)
	}
}

func TestMachine_GameStartedFromReadyCheck(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	fc.in <- protocol.GameCanStart{Countdown: 30}
	_ = recvState(t, watch, time.Second)

	fc.in <- protocol.GameStarted{TaskID: "T9", Duration: 1800}
	snap := waitState(t, watch, time.Second, func(s State) bool { return s.Phase == PhaseGameStarted })
	assert.Equal(t, "T9", snap.CurrentTaskID)
	assert.Equal(t, 1800, snap.GameDuration)
	assert.Zero(t, snap.CountdownSecondsRemaining)

	// Countdown is cancelled: no stale tick may decrement anything.
	recvNoState(t, watch, 100*time.Millisecond)
}

func TestMachine_GameStartedPassesThroughStartingGame(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	fc.in <- protocol.GameCanStart{Countdown: 30}
	_ = recvState(t, watch, time.Second)

	fc.in <- protocol.GameStarted{TaskID: "T9", Duration: 1800}
	// Countdown ticks may interleave before the message lands; drain to the
	// StartingGame snapshot, whose successor must be GameStarted.
	_ = waitState(t, watch, time.Second, func(s State) bool { return s.Phase == PhaseStartingGame })
	second := recvState(t, watch, time.Second)
	assert.Equal(t, PhaseGameStarted, second.Phase)
}

func TestMachine_ToggleReadyRoundTrip(t *testing.T) {
	fc := newFakeConn()
	m, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	require.NoError(t, m.ToggleReady(context.Background()))

	sent := fc.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.PlayerReady{RoomID: "R1", IsReady: true}, sent[0])

	// Not optimistic: the flag flips only on the server echo.
	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.SelfReady)

	fc.in <- protocol.PlayerReadySet{IsReady: true}
	snap = waitState(t, watch, time.Second, func(s State) bool { return s.SelfReady })
	p, ok := snap.Participant("self")
	require.True(t, ok)
	assert.True(t, p.IsReady)

	// A second toggle now sends the negation.
	require.NoError(t, m.ToggleReady(context.Background()))
	sent = fc.sentCommands()
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.PlayerReady{RoomID: "R1", IsReady: false}, sent[1])
}

func TestMachine_ToggleReadyWithoutRoom(t *testing.T) {
	fc := newFakeConn()
	m, _ := newTestMachine(t, fc)

	err := m.ToggleReady(context.Background())
	require.ErrorIs(t, err, ErrNoActiveRoom)
	assert.Empty(t, fc.sentCommands(), "no transport call expected")
}

func TestMachine_IntentErrorsWhileDisconnected(t *testing.T) {
	fc := newFakeConn()
	fc.sendErr = conn.ErrNotConnected
	m, _ := newTestMachine(t, fc)

	err := m.CreateRoom(context.Background(), "duel", "go", "easy")
	require.ErrorIs(t, err, conn.ErrNotConnected)
}

func TestMachine_RoomStatusIdempotent(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	st := protocol.RoomStatus{RoomID: "R1", ParticipantCount: 2, ReadyCount: 1, CanStart: true}
	fc.in <- st
	snap := recvState(t, watch, time.Second)
	assert.Equal(t, 2, snap.ParticipantsCount)
	assert.Equal(t, 1, snap.ReadyCount)

	fc.in <- st
	recvNoState(t, watch, 100*time.Millisecond)
}

func TestMachine_StaleRoomMessagesIgnored(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	fc.in <- protocol.RoomStatus{RoomID: "OLD", ParticipantCount: 9, ReadyCount: 9}
	fc.in <- protocol.LeftRoom{RoomID: "OLD"}
	recvNoState(t, watch, 100*time.Millisecond)
}

func TestMachine_ServerErrorEntersErrorPhase(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	fc.in <- protocol.ServerError{Message: "room is full"}
	snap := waitState(t, watch, time.Second, func(s State) bool { return s.Phase == PhaseError })
	assert.Equal(t, "room is full", snap.ErrorReason)
}

func TestMachine_LeftRoomResetsSession(t *testing.T) {
	fc := newFakeConn()
	m, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	require.NoError(t, m.LeaveRoom(context.Background()))
	sent := fc.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.LeaveRoom{RoomID: "R1"}, sent[0])

	// Intent alone changes nothing; the LeftRoom confirmation resets.
	fc.in <- protocol.LeftRoom{RoomID: "R1"}
	snap := waitState(t, watch, time.Second, func(s State) bool { return s.Phase == PhaseNotConnected })
	assert.Empty(t, snap.RoomID)
	assert.Empty(t, snap.Participants)
	// Identity survives a leave; only a disconnect clears it.
	assert.Equal(t, "self", snap.SelfPlayerID)
}

func TestMachine_DisconnectedClearsIdentity(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	fc.in <- protocol.Disconnected{Reason: "connection reset"}
	snap := waitState(t, watch, time.Second, func(s State) bool { return s.Phase == PhaseNotConnected })
	assert.Empty(t, snap.SelfPlayerID)
	assert.Empty(t, snap.RoomID)
}

func TestMachine_BattleResultRecorded(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	fc.in <- protocol.GameCanStart{Countdown: 30}
	_ = recvState(t, watch, time.Second)
	fc.in <- protocol.GameStarted{TaskID: "T9", Duration: 1800}
	_ = waitState(t, watch, time.Second, func(s State) bool { return s.Phase == PhaseGameStarted })

	fc.in <- protocol.BattleWon{WinnerID: "self", TaskTitle: "Two Sum", Message: "gg"}
	snap := waitState(t, watch, time.Second, func(s State) bool { return s.LastResult != nil })
	assert.Equal(t, "won", snap.LastResult.Outcome)
	assert.Equal(t, "self", snap.LastResult.WinnerID)
	// Terminal phase change only happens via the explicit leave+disconnect.
	assert.Equal(t, PhaseGameStarted, snap.Phase)
}

func TestMachine_ReadyCheckAbortIdempotentUnderRace(t *testing.T) {
	fc := newFakeConn()
	_, watch := newTestMachine(t, fc)
	enterRoom(t, fc, watch)

	fc.in <- protocol.GameCanStart{Countdown: 1}
	_ = recvState(t, watch, time.Second)

	// Backend timeout and the local fallback may both fire; exactly one
	// transition must result.
	fc.in <- protocol.ReadinessTimeout{ReadyCount: 0, TotalPlayers: 2}

	transitions := 0
	deadline := time.After(500 * time.Millisecond)
drain:
	for {
		select {
		case s := <-watch:
			if s.Phase == PhaseWaitingForPlayers {
				transitions++
			}
		case <-deadline:
			break drain
		}
	}
	assert.Equal(t, 1, transitions)
}
