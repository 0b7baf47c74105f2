package protocol

import (
	"encoding/json"
	"errors"
)

var ErrUnsupportedCommand = errors.New("unsupported command")

// Decode maps one wire frame to its Inbound variant. It never fails: frames
// with a bad envelope, an unrecognized discriminator, or a payload that won't
// unmarshal all come back as Unknown so one garbage frame can't kill the
// listening loop.
func Decode(data []byte) Inbound {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return Unknown{Raw: data}
	}

	msg, err := decodeBody(env.Type, data)
	if err != nil {
		return Unknown{Type: env.Type, Raw: data}
	}
	return msg
}

func decodeBody(kind string, data []byte) (Inbound, error) {
	switch kind {
	case "Connected":
		return unmarshalAs[Connected](data)
	case "RoomCreated":
		return unmarshalAs[RoomCreated](data)
	case "JoinedRoom":
		return unmarshalAs[JoinedRoom](data)
	case "PlayerJoined":
		return unmarshalAs[PlayerJoined](data)
	case "PlayerLeft":
		return unmarshalAs[PlayerLeft](data)
	case "RoomStatus":
		return unmarshalAs[RoomStatus](data)
	case "GameCanStart":
		return unmarshalAs[GameCanStart](data)
	case "PlayerReadyChanged":
		return unmarshalAs[PlayerReadyChanged](data)
	case "PlayerReadySet":
		return unmarshalAs[PlayerReadySet](data)
	case "GameStarted":
		return unmarshalAs[GameStarted](data)
	case "ReadinessTimeout":
		return unmarshalAs[ReadinessTimeout](data)
	case "CodeSubmitted":
		return unmarshalAs[CodeSubmitted](data)
	case "CodeSubmittedByPlayer":
		return unmarshalAs[CodeSubmittedByPlayer](data)
	case "CodeResult":
		return unmarshalAs[CodeResult](data)
	case "BattleWon":
		return unmarshalAs[BattleWon](data)
	case "BattleLost":
		return unmarshalAs[BattleLost](data)
	case "BattleFinished":
		return unmarshalAs[BattleFinished](data)
	case "LeftRoom":
		return unmarshalAs[LeftRoom](data)
	case "PlayerDisconnected":
		return unmarshalAs[PlayerDisconnected](data)
	case "Error":
		return unmarshalAs[ServerError](data)
	default:
		return nil, errors.New("unknown kind")
	}
}

func unmarshalAs[T Inbound](data []byte) (Inbound, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode wraps a Command in its discriminated wire envelope.
func Encode(c Command) ([]byte, error) {
	switch cmd := c.(type) {
	case CreateRoom:
		return json.Marshal(struct {
			Type string `json:"type"`
			CreateRoom
		}{"CreateRoom", cmd})
	case JoinRoom:
		return json.Marshal(struct {
			Type string `json:"type"`
			JoinRoom
		}{"JoinRoom", cmd})
	case PlayerReady:
		return json.Marshal(struct {
			Type string `json:"type"`
			PlayerReady
		}{"PlayerReady", cmd})
	case SubmitCode:
		return json.Marshal(struct {
			Type string `json:"type"`
			SubmitCode
		}{"SubmitCode", cmd})
	case LeaveRoom:
		return json.Marshal(struct {
			Type string `json:"type"`
			LeaveRoom
		}{"LeaveRoom", cmd})
	default:
		return nil, ErrUnsupportedCommand
	}
}

// DecodeCommand is the server-side half of Encode. Unlike Decode it does
// fail on garbage: the dev backend answers a bad command with an Error frame
// rather than pressing on.
func DecodeCommand(data []byte) (Command, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case "CreateRoom":
		var c CreateRoom
		return c, json.Unmarshal(data, &c)
	case "JoinRoom":
		var c JoinRoom
		return c, json.Unmarshal(data, &c)
	case "PlayerReady":
		var c PlayerReady
		return c, json.Unmarshal(data, &c)
	case "SubmitCode":
		var c SubmitCode
		return c, json.Unmarshal(data, &c)
	case "LeaveRoom":
		var c LeaveRoom
		return c, json.Unmarshal(data, &c)
	default:
		return nil, ErrUnsupportedCommand
	}
}

// EncodeInbound is the server-side half of the codec, used by the dev backend
// and by tests that feed frames through a fake transport.
func EncodeInbound(m Inbound) ([]byte, error) {
	kind, ok := inboundKind(m)
	if !ok {
		return nil, errors.New("message kind has no wire form")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	// Splice the discriminator into the payload object.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typ, _ := json.Marshal(kind)
	fields["type"] = typ
	return json.Marshal(fields)
}

func inboundKind(m Inbound) (string, bool) {
	switch m.(type) {
	case Connected:
		return "Connected", true
	case RoomCreated:
		return "RoomCreated", true
	case JoinedRoom:
		return "JoinedRoom", true
	case PlayerJoined:
		return "PlayerJoined", true
	case PlayerLeft:
		return "PlayerLeft", true
	case RoomStatus:
		return "RoomStatus", true
	case GameCanStart:
		return "GameCanStart", true
	case PlayerReadyChanged:
		return "PlayerReadyChanged", true
	case PlayerReadySet:
		return "PlayerReadySet", true
	case GameStarted:
		return "GameStarted", true
	case ReadinessTimeout:
		return "ReadinessTimeout", true
	case CodeSubmitted:
		return "CodeSubmitted", true
	case CodeSubmittedByPlayer:
		return "CodeSubmittedByPlayer", true
	case CodeResult:
		return "CodeResult", true
	case BattleWon:
		return "BattleWon", true
	case BattleLost:
		return "BattleLost", true
	case BattleFinished:
		return "BattleFinished", true
	case LeftRoom:
		return "LeftRoom", true
	case PlayerDisconnected:
		return "PlayerDisconnected", true
	case ServerError:
		return "Error", true
	default:
		return "", false
	}
}
