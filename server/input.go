package server

// 入站动作（客户端 → 服务端）
const (
	ActionCreateRoom  = "create_room"
	ActionJoinRoom    = "join_room"
	ActionLeaveRoom   = "leave_room"
	ActionStartGame   = "start_game"
	ActionSubmitGuess = "submit_guess"
)

// 入站载荷的 JSON 结构
// 示例：{"action":"submit_guess","payload":{"room_id":"R1","lat":48.8,"lon":2.3}}

type CreateRoomRequest struct {
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
}

type JoinRoomRequest struct {
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
}

type LeaveRoomRequest struct {
	RoomID string `json:"room_id"`
}

type StartGameRequest struct {
	RoomID string `json:"room_id"`
}

// SubmitGuessRequest 坐标用指针区分“缺失”与 0
type SubmitGuessRequest struct {
	RoomID   string   `json:"room_id"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Username string   `json:"username,omitempty"` // 仅展示用，以连接身份为准
}
