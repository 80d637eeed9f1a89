package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// MinPlayers 开局所需的最少玩家数
	MinPlayers = 2
	// DefaultRoundTimeout 每轮收集猜测的上限
	DefaultRoundTimeout = 60 * time.Second
	// DefaultRoundPause 两轮之间的停顿
	DefaultRoundPause = 2 * time.Second
)

// 失败原因（原样发送给客户端）
const (
	ReasonRoomExists       = "Room exists"
	ReasonNoSuchRoom       = "No such room"
	ReasonNotEnoughPlayers = "Need at least 2 players"
	ReasonGameInProgress   = "Game already in progress"
)

var (
	ErrRoomExists       = errors.New("room exists")
	ErrNoSuchRoom       = errors.New("no such room")
	ErrNotEnoughPlayers = errors.New("need at least 2 players")
	ErrGameInProgress   = errors.New("game already in progress")
	ErrNotInRoom        = errors.New("connection is not in room")
)

// GameConfig RoomManager 的依赖与参数，零值字段使用默认值（RoundPause 除外）
type GameConfig struct {
	RoundTimeout time.Duration // <= 0 使用 DefaultRoundTimeout
	RoundPause   time.Duration // 0 表示不停顿，< 0 使用 DefaultRoundPause
	Clock        clockwork.Clock
	Source       LocationSource
	Publisher    EventPublisher
	Metrics      *Metrics
}

// RoomInfo 管理接口输出的房间概要
type RoomInfo struct {
	ID      string        `json:"id"`
	State   string        `json:"state"`
	Players int           `json:"players"`
	Round   int           `json:"round"`
	Scores  []PlayerState `json:"scores,omitempty"`
}

// RoomManager 管理多个房间的生命周期。
// 单把互斥锁同时保护房间表与每个房间的内部状态，房间内的广播因此全序。
type RoomManager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	roundTimeout time.Duration
	roundPause   time.Duration

	clock     clockwork.Clock
	source    LocationSource
	publisher EventPublisher
	metrics   *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRoomManager 在服务启动时创建，Close 时销毁
func NewRoomManager(cfg GameConfig) *RoomManager {
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = DefaultRoundTimeout
	}
	if cfg.RoundPause < 0 {
		cfg.RoundPause = DefaultRoundPause
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Source == nil {
		cfg.Source = NewRandomSource(SampleLocations)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = nopPublisher{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RoomManager{
		rooms:        make(map[string]*Room),
		roundTimeout: cfg.RoundTimeout,
		roundPause:   cfg.RoundPause,
		clock:        cfg.Clock,
		source:       cfg.Source,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Metrics 返回共享的指标对象
func (m *RoomManager) Metrics() *Metrics { return m.metrics }

// CreateRoom 创建房间，调用者成为唯一玩家
func (m *RoomManager) CreateRoom(roomID, username string, conn Conn) error {
	return m.CreateRoomLeaving("", roomID, username, conn)
}

// CreateRoomLeaving 同 CreateRoom；成功后连接离开 prevRoomID（与新房间相同或为空时不离开）。
// 失败时不改变任何房间。
func (m *RoomManager) CreateRoomLeaving(prevRoomID, roomID, username string, conn Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; ok {
		sendTo(conn, ActionCreateRoomFailed, ReasonPayload{Reason: ReasonRoomExists}, m.metrics)
		return ErrRoomExists
	}
	if prevRoomID != roomID {
		m.leaveLocked(prevRoomID, conn.ID())
	}
	r := NewRoom(roomID, m.metrics)
	r.JoinPlayer(username, conn)
	m.rooms[roomID] = r
	m.metrics.IncRoomsCreated()

	sendTo(conn, ActionCreateRoomOK, RoomIDPayload{RoomID: roomID}, m.metrics)
	r.BroadcastRoomUpdate()
	Log.Infof("room created: room=%s by=%s conn=%s", roomID, username, conn.ID())
	return nil
}

// JoinRoom 加入已有房间，任何状态均可加入（进行中加入者以默认分数参与当前轮）
func (m *RoomManager) JoinRoom(roomID, username string, conn Conn) error {
	return m.JoinRoomLeaving("", roomID, username, conn)
}

// JoinRoomLeaving 同 JoinRoom；目标房间存在时才离开 prevRoomID
func (m *RoomManager) JoinRoomLeaving(prevRoomID, roomID, username string, conn Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		sendTo(conn, ActionJoinRoomFailed, ReasonPayload{Reason: ReasonNoSuchRoom}, m.metrics)
		return ErrNoSuchRoom
	}
	if prevRoomID != roomID {
		m.leaveLocked(prevRoomID, conn.ID())
	}
	r.JoinPlayer(username, conn)

	sendTo(conn, ActionJoinRoomOK, RoomIDPayload{RoomID: roomID}, m.metrics)
	r.BroadcastRoomUpdate()
	Log.Infof("player joined: room=%s user=%s conn=%s state=%s", roomID, username, conn.ID(), r.State)
	return nil
}

// LeaveRoom 离开房间；房间为空时立即删除，其轮次协程随之退出
func (m *RoomManager) LeaveRoom(roomID string, id ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(roomID, id)
}

// leaveLocked 调用方须持有 m.mu
func (m *RoomManager) leaveLocked(roomID string, id ConnID) {
	r, ok := m.rooms[roomID]
	if !ok || !r.LeavePlayer(id) {
		return
	}
	r.signal()
	if len(r.Players) == 0 {
		delete(m.rooms, roomID)
		m.metrics.IncRoomsDeleted()
		m.publisher.Publish(roomID, EventRoomDeleted, RoomIDPayload{RoomID: roomID})
		Log.Infof("room deleted (empty): room=%s", roomID)
		return
	}
	r.BroadcastRoomUpdate()
	Log.Infof("player left: room=%s conn=%s remaining=%d", roomID, id, len(r.Players))
}

// StartGame 开局并启动该房间唯一的轮次协程
func (m *RoomManager) StartGame(roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNoSuchRoom
	}
	if r.State == StatePlaying {
		r.Broadcast(ActionStartFailed, ReasonPayload{Reason: ReasonGameInProgress})
		return ErrGameInProgress
	}
	if len(r.Players) < MinPlayers {
		r.Broadcast(ActionStartFailed, ReasonPayload{Reason: ReasonNotEnoughPlayers})
		return ErrNotEnoughPlayers
	}
	if m.ctx.Err() != nil {
		return m.ctx.Err()
	}

	r.ResetForGame()
	r.State = StatePlaying
	r.phase = phaseAnnouncing
	m.metrics.IncGamesStarted()
	m.publisher.Publish(roomID, EventGameStarted, RoomUpdatePayload{Players: r.Snapshot()})

	m.wg.Add(1)
	go m.runRounds(m.ctx, r)
	Log.Infof("game started: room=%s players=%d", roomID, len(r.Players))
	return nil
}

// SubmitGuess 记录或覆盖猜测并广播 player_guessed；房间不存在或非成员时忽略。
// 收集阶段之外的猜测会在下一轮公布时被清空，不参与计分。
func (m *RoomManager) SubmitGuess(roomID string, id ConnID, lat, lon float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNoSuchRoom
	}
	p, ok := r.RecordGuess(id, lat, lon, m.clock.Now())
	if !ok {
		return ErrNotInRoom
	}
	m.metrics.IncGuessAccepted()
	r.Broadcast(ActionPlayerGuessed, PlayerGuessedPayload{Username: p.Username})
	if r.phase == phaseCollecting {
		r.signal()
	}
	return nil
}

// Rooms 房间概要列表（按 ID 排序）
func (m *RoomManager) Rooms() []RoomInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, RoomInfo{ID: r.ID, State: r.State.String(), Players: len(r.Players), Round: r.Round})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Room 单个房间的详情（含分数）
func (m *RoomManager) Room(roomID string) (RoomInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return RoomInfo{}, false
	}
	return RoomInfo{
		ID:      r.ID,
		State:   r.State.String(),
		Players: len(r.Players),
		Round:   r.Round,
		Scores:  r.Snapshot(),
	}, true
}

// RoundTiming 当前的轮次时长与停顿
func (m *RoomManager) RoundTiming() (timeout, pause time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roundTimeout, m.roundPause
}

// SetRoundTiming 热更新，对之后开始的轮次生效。
// timeout 非正、pause 为负时该项不修改；pause 为 0 表示不停顿。
func (m *RoomManager) SetRoundTiming(timeout, pause time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timeout > 0 {
		m.roundTimeout = timeout
	}
	if pause >= 0 {
		m.roundPause = pause
	}
}

// Close 停止所有轮次协程并等待其退出
func (m *RoomManager) Close() {
	// 与 StartGame 的 wg.Add 串行，取消之后不会再有新的轮次协程
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
	m.publisher.Close()
}

// live 房间仍在表中且是同一个实例（同名房间可能被删除后重建）
func (m *RoomManager) live(r *Room) bool {
	cur, ok := m.rooms[r.ID]
	return ok && cur == r
}
