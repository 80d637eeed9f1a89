package server

import (
	"sync/atomic"
)

// Metrics 记录服务运行期的关键指标（用于监控与调试）
type Metrics struct {
	Connections     int64 // 当前在线连接数
	RoomsCreated    int64 // 创建的房间数
	RoomsDeleted    int64 // 因无人而删除的房间数
	GamesStarted    int64 // 开始的对局数
	GamesFinished   int64 // 正常结束的对局数
	RoundsPlayed    int64 // 完成结算的轮次数
	GuessesAccepted int64 // 被接受的猜测数
	ProtocolErrors  int64 // 被丢弃的非法入站消息数
	SendFailures    int64 // 发送失败（视为断线）次数
	TotalEvalNs     int64 // 结算累计耗时（纳秒）
}

func (m *Metrics) IncConnections()    { atomic.AddInt64(&m.Connections, 1) }
func (m *Metrics) DecConnections()    { atomic.AddInt64(&m.Connections, -1) }
func (m *Metrics) IncRoomsCreated()   { atomic.AddInt64(&m.RoomsCreated, 1) }
func (m *Metrics) IncRoomsDeleted()   { atomic.AddInt64(&m.RoomsDeleted, 1) }
func (m *Metrics) IncGamesStarted()   { atomic.AddInt64(&m.GamesStarted, 1) }
func (m *Metrics) IncGamesFinished()  { atomic.AddInt64(&m.GamesFinished, 1) }
func (m *Metrics) IncGuessAccepted()  { atomic.AddInt64(&m.GuessesAccepted, 1) }
func (m *Metrics) IncProtocolErrors() { atomic.AddInt64(&m.ProtocolErrors, 1) }
func (m *Metrics) IncSendFailures()   { atomic.AddInt64(&m.SendFailures, 1) }
func (m *Metrics) AddRound(ns int64) {
	atomic.AddInt64(&m.RoundsPlayed, 1)
	atomic.AddInt64(&m.TotalEvalNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	rounds := atomic.LoadInt64(&m.RoundsPlayed)
	total := atomic.LoadInt64(&m.TotalEvalNs)
	var avgMs float64
	if rounds > 0 {
		avgMs = float64(total) / float64(rounds) / 1e6
	}
	return map[string]any{
		"connections":      atomic.LoadInt64(&m.Connections),
		"rooms_created":    atomic.LoadInt64(&m.RoomsCreated),
		"rooms_deleted":    atomic.LoadInt64(&m.RoomsDeleted),
		"games_started":    atomic.LoadInt64(&m.GamesStarted),
		"games_finished":   atomic.LoadInt64(&m.GamesFinished),
		"rounds_played":    rounds,
		"guesses_accepted": atomic.LoadInt64(&m.GuessesAccepted),
		"protocol_errors":  atomic.LoadInt64(&m.ProtocolErrors),
		"send_failures":    atomic.LoadInt64(&m.SendFailures),
		"avg_eval_ms":      avgMs,
	}
}
