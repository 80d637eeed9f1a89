package server

import (
	"sort"
	"time"
)

// RoomState 房间生命周期
type RoomState int

const (
	StateWaiting RoomState = iota
	StatePlaying
	StateFinished
)

func (s RoomState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePlaying:
		return "playing"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// roundPhase 轮次状态机：Announcing → Collecting → Evaluating → (Announcing | GameOver)
type roundPhase int

const (
	phaseIdle roundPhase = iota
	phaseAnnouncing
	phaseCollecting
	phaseEvaluating
)

// Room 一局对战的权威状态。除 wake 外的所有字段只在 RoomManager.mu 持有期间读写。
type Room struct {
	ID    string
	State RoomState

	Players map[ConnID]*Player
	Round   int
	Target  *Location
	Guesses map[ConnID]Guess

	phase   roundPhase
	nextSeq int64
	// wake 在提交猜测或玩家离开时通知轮次协程重新检查等待条件
	wake    chan struct{}
	metrics *Metrics
}

// NewRoom 创建房间，初始化数据结构
func NewRoom(id string, metrics *Metrics) *Room {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Room{
		ID:      id,
		State:   StateWaiting,
		Players: make(map[ConnID]*Player),
		Guesses: make(map[ConnID]Guess),
		wake:    make(chan struct{}, 1),
		metrics: metrics,
	}
}

// JoinPlayer 将玩家加入房间；同一连接重复加入时以新的为准
func (r *Room) JoinPlayer(username string, conn Conn) *Player {
	r.nextSeq++
	p := &Player{Username: username, Score: StartingScore, Conn: conn, seq: r.nextSeq}
	r.Players[conn.ID()] = p
	delete(r.Guesses, conn.ID())
	return p
}

// LeavePlayer 将玩家移出房间，连同其本轮猜测
func (r *Room) LeavePlayer(id ConnID) bool {
	if _, ok := r.Players[id]; !ok {
		return false
	}
	delete(r.Players, id)
	delete(r.Guesses, id)
	return true
}

// RecordGuess 记录或覆盖玩家本轮的猜测（后写覆盖先写）
func (r *Room) RecordGuess(id ConnID, lat, lon float64, at time.Time) (*Player, bool) {
	p, ok := r.Players[id]
	if !ok {
		return nil, false
	}
	r.Guesses[id] = Guess{Lat: lat, Lon: lon, SubmittedAt: at}
	p.HasGuessed = true
	return p, true
}

// AllGuessed 当前每位玩家都已提交
func (r *Room) AllGuessed() bool {
	for id := range r.Players {
		if _, ok := r.Guesses[id]; !ok {
			return false
		}
	}
	return true
}

// ResetForGame 开局：分数、轮次、猜测全部清零
func (r *Room) ResetForGame() {
	for _, p := range r.Players {
		p.Score = StartingScore
		p.HasGuessed = false
	}
	r.Round = 0
	r.Target = nil
	r.Guesses = make(map[ConnID]Guess)
}

// BeginRound 进入下一轮：设置目标并清空本轮猜测
func (r *Room) BeginRound(target Location) NewRoundPayload {
	r.Round++
	r.Target = &target
	r.Guesses = make(map[ConnID]Guess)
	for _, p := range r.Players {
		p.HasGuessed = false
	}
	return NewRoundPayload{Round: r.Round, Multiplier: Multiplier(r.Round), Coords: target}
}

// Evaluate 结算当前轮次，直接扣减分数
func (r *Room) Evaluate() RoundResultPayload {
	var target Location
	if r.Target != nil {
		target = *r.Target
	}
	mult := Multiplier(r.Round)
	results := make([]RoundResult, 0, len(r.Players))
	for _, id := range r.orderedIDs() {
		p := r.Players[id]
		var g *Guess
		if guess, ok := r.Guesses[id]; ok {
			g = &guess
		}
		dist := RoundDistance(g, target)
		dmg := Damage(dist, mult)
		p.Score -= dmg
		results = append(results, RoundResult{
			Username: p.Username,
			DistKm:   RoundKm(dist),
			Damage:   dmg,
			NewScore: p.Score,
		})
	}
	return RoundResultPayload{Results: results, Coords: target}
}

// Survivors 分数 > 0 的玩家（按加入顺序）
func (r *Room) Survivors() []*Player {
	var alive []*Player
	for _, id := range r.orderedIDs() {
		if p := r.Players[id]; Alive(p.Score) {
			alive = append(alive, p)
		}
	}
	return alive
}

// Snapshot 房间玩家列表快照
func (r *Room) Snapshot() []PlayerState {
	out := make([]PlayerState, 0, len(r.Players))
	for _, id := range r.orderedIDs() {
		p := r.Players[id]
		out = append(out, PlayerState{Username: p.Username, Score: p.Score})
	}
	return out
}

func (r *Room) orderedIDs() []ConnID {
	ids := make([]ConnID, 0, len(r.Players))
	for id := range r.Players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return r.Players[ids[i]].seq < r.Players[ids[j]].seq })
	return ids
}

// Broadcast 将消息发送给房间内所有玩家（编码一次）
func (r *Room) Broadcast(action string, payload any) {
	b, err := Encode(action, payload)
	if err != nil {
		Log.Errorf("room=%s encode %s: %v", r.ID, action, err)
		return
	}
	for _, id := range r.orderedIDs() {
		r.deliver(r.Players[id].Conn, action, b)
	}
}

// BroadcastRoomUpdate 广播玩家列表与分数
func (r *Room) BroadcastRoomUpdate() {
	r.Broadcast(ActionRoomUpdate, RoomUpdatePayload{Players: r.Snapshot()})
}

// sendTo 单独回复某个连接
func sendTo(c Conn, action string, payload any, metrics *Metrics) {
	b, err := Encode(action, payload)
	if err != nil {
		Log.Errorf("encode %s: %v", action, err)
		return
	}
	deliverBytes(c, action, b, metrics)
}

func (r *Room) deliver(c Conn, action string, b []byte) {
	deliverBytes(c, action, b, r.metrics)
}

// deliverBytes 发送失败视为断线：关闭连接，由读协程走正常的离开流程
func deliverBytes(c Conn, action string, b []byte, metrics *Metrics) {
	if c == nil {
		return
	}
	if err := c.Send(b); err != nil {
		if metrics != nil {
			metrics.IncSendFailures()
		}
		Log.Warnf("send %s to conn=%s failed, closing: %v", action, c.ID(), err)
		_ = c.Close()
	}
}

// signal 非阻塞唤醒轮次协程
func (r *Room) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
