package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KnownKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{
			name: "connected",
			raw:  `{"type":"Connected","playerId":"p1","message":"welcome"}`,
			want: Connected{PlayerID: "p1", Message: "welcome"},
		},
		{
			name: "room created",
			raw:  `{"type":"RoomCreated","roomId":"R1","roomName":"duel","difficulty":"easy"}`,
			want: RoomCreated{RoomID: "R1", RoomName: "duel", Difficulty: "easy"},
		},
		{
			name: "joined room",
			raw:  `{"type":"JoinedRoom","roomId":"R1","roomName":"duel","participants":2,"status":"waiting","canStart":true}`,
			want: JoinedRoom{RoomID: "R1", RoomName: "duel", Participants: 2, Status: "waiting", CanStart: true},
		},
		{
			name: "game can start",
			raw:  `{"type":"GameCanStart","message":"ready up","countdown":30}`,
			want: GameCanStart{Message: "ready up", Countdown: 30},
		},
		{
			name: "ready changed",
			raw:  `{"type":"PlayerReadyChanged","playerId":"p2","isReady":true,"readyCount":1,"totalPlayers":2}`,
			want: PlayerReadyChanged{PlayerID: "p2", IsReady: true, ReadyCount: 1, TotalPlayers: 2},
		},
		{
			name: "game started",
			raw:  `{"type":"GameStarted","duration":1800,"taskId":"T9","taskTitle":"Two Sum"}`,
			want: GameStarted{Duration: 1800, TaskID: "T9", TaskTitle: "Two Sum"},
		},
		{
			name: "readiness timeout",
			raw:  `{"type":"ReadinessTimeout","readyCount":1,"totalPlayers":2}`,
			want: ReadinessTimeout{ReadyCount: 1, TotalPlayers: 2},
		},
		{
			name: "battle won",
			raw:  `{"type":"BattleWon","winnerId":"p1","taskTitle":"Two Sum","message":"gg"}`,
			want: BattleWon{WinnerID: "p1", TaskTitle: "Two Sum", Message: "gg"},
		},
		{
			name: "error",
			raw:  `{"type":"Error","message":"boom"}`,
			want: ServerError{Message: "boom"},
		},
		{
			name: "left room",
			raw:  `{"type":"LeftRoom","roomId":"R1"}`,
			want: LeftRoom{RoomID: "R1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode([]byte(tt.raw)))
		})
	}
}

func TestDecode_CodeResult(t *testing.T) {
	raw := `{"type":"CodeResult","result":{"status":"passed","passedTests":10,"totalTests":10,"executionTimeMs":42}}`
	got := Decode([]byte(raw))
	res, ok := got.(CodeResult)
	require.True(t, ok, "expected CodeResult, got %T", got)
	assert.Equal(t, TestRunResult{Status: "passed", PassedTests: 10, TotalTests: 10, ExecutionTimeMs: 42}, res.Result)
}

func TestDecode_UnknownDiscriminator(t *testing.T) {
	raw := []byte(`{"type":"SomethingNew","x":1}`)
	got := Decode(raw)
	u, ok := got.(Unknown)
	require.True(t, ok, "expected Unknown, got %T", got)
	assert.Equal(t, "SomethingNew", u.Type)
	assert.Equal(t, raw, u.Raw)
}

func TestDecode_GarbageNeverPanics(t *testing.T) {
	for _, raw := range []string{``, `{`, `[]`, `42`, `{"type":""}`, `{"type":"Connected","playerId":7}`} {
		got := Decode([]byte(raw))
		_, ok := got.(Unknown)
		assert.True(t, ok, "raw %q: expected Unknown, got %T", raw, got)
	}
}

func TestEncode_CommandRoundTrip(t *testing.T) {
	cmds := []Command{
		CreateRoom{RoomName: "duel", LanguageID: "go", Difficulty: "easy"},
		JoinRoom{RoomID: "R1"},
		PlayerReady{RoomID: "R1", IsReady: true},
		SubmitCode{RoomID: "R1", Code: "package main"},
		LeaveRoom{RoomID: "R1"},
	}
	for _, cmd := range cmds {
		frame, err := Encode(cmd)
		require.NoError(t, err)
		back, err := DecodeCommand(frame)
		require.NoError(t, err)
		assert.Equal(t, cmd, back)
	}
}

func TestEncodeInbound_RoundTrip(t *testing.T) {
	msgs := []Inbound{
		Connected{PlayerID: "p1", Message: "welcome"},
		RoomStatus{RoomID: "R1", ParticipantCount: 2, ReadyCount: 1, CanStart: true},
		GameStarted{Duration: 1800, TaskID: "T9"},
	}
	for _, msg := range msgs {
		frame, err := EncodeInbound(msg)
		require.NoError(t, err)
		assert.Equal(t, msg, Decode(frame))
	}
}

func TestEncodeInbound_LocalOnlyKindsRefuse(t *testing.T) {
	_, err := EncodeInbound(Disconnected{})
	assert.Error(t, err)
	_, err = EncodeInbound(Unknown{})
	assert.Error(t, err)
}
