package server

import "time"

// ConnID 连接的唯一标识（房间内玩家的规范键，用户名仅用于展示）
type ConnID string

// StartingScore 每局开始时玩家的初始分数
const StartingScore = 5000

// Conn 房间向某个连接推送消息所需的最小能力
type Conn interface {
	ID() ConnID
	Send([]byte) error
	Close() error
}

// PlayerState 为广播给客户端的轻量状态
type PlayerState struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// Player 房间内的玩家实体（服务端权威状态）
type Player struct {
	Username   string
	Score      int
	HasGuessed bool // 本轮是否已提交猜测，每轮开始时重置

	Conn Conn
	seq  int64 // 加入顺序，用于快照排序
}

// Guess 玩家在当前轮次的猜测，新一轮开始时清空
type Guess struct {
	Lat         float64
	Lon         float64
	SubmittedAt time.Time
}
