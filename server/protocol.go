package server

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 出站动作（服务端 → 客户端）
const (
	ActionCreateRoomOK     = "create_room_ok"
	ActionCreateRoomFailed = "create_room_failed"
	ActionJoinRoomOK       = "join_room_ok"
	ActionJoinRoomFailed   = "join_room_failed"
	ActionRoomUpdate       = "room_update"
	ActionStartFailed      = "start_failed"
	ActionNewRound         = "new_round"
	ActionPlayerGuessed    = "player_guessed"
	ActionRoundResult      = "round_result"
	ActionGameOver         = "game_over"
)

// ErrEmptyMessage 空消息
var ErrEmptyMessage = errors.New("empty message")

// Envelope 每条逻辑消息一个信封：{"action": ..., "payload": {...}}
type Envelope struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type RoomIDPayload struct {
	RoomID string `json:"room_id"`
}

type ReasonPayload struct {
	Reason string `json:"reason"`
}

type RoomUpdatePayload struct {
	Players []PlayerState `json:"players"`
}

type NewRoundPayload struct {
	Round      int      `json:"round"`
	Multiplier float64  `json:"multiplier"`
	Coords     Location `json:"coords"`
}

type PlayerGuessedPayload struct {
	Username string `json:"username"`
}

// RoundResult 单个玩家在一轮中的结算
type RoundResult struct {
	Username string  `json:"username"`
	DistKm   float64 `json:"dist_km"`
	Damage   int     `json:"damage"`
	NewScore int     `json:"new_score"`
}

type RoundResultPayload struct {
	Results []RoundResult `json:"results"`
	Coords  Location      `json:"coords"`
}

// GameOverPayload 无人存活时 winner 为 null
type GameOverPayload struct {
	Winner *string `json:"winner"`
}

// Encode 编码为信封字节
func Encode(action string, payload any) ([]byte, error) {
	if action == "" {
		return nil, fmt.Errorf("encode: empty action")
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", action, err)
	}
	return json.Marshal(Envelope{Action: action, Payload: pb})
}

// DecodeEnvelope 解析入站信封
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, ErrEmptyMessage
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	if e.Action == "" {
		return Envelope{}, fmt.Errorf("decode: missing action")
	}
	return e, nil
}

// DecodePayload 将信封载荷解析为具体类型
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return out, fmt.Errorf("empty payload for action %q", env.Action)
	}
	err := json.Unmarshal(env.Payload, &out)
	return out, err
}
