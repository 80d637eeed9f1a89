package server

import (
	"errors"
	"sync"
)

var errMissingField = errors.New("missing required field")

// session 连接的会话信息：最近一次使用的用户名与所在房间
type session struct {
	conn     Conn
	username string
	roomID   string
}

// Gateway 传输层与房间管理器之间的薄层：解析入站消息并分发，不含任何游戏逻辑
type Gateway struct {
	rooms   *RoomManager
	metrics *Metrics

	mu       sync.Mutex
	sessions map[ConnID]*session
}

func NewGateway(rooms *RoomManager) *Gateway {
	return &Gateway{
		rooms:    rooms,
		metrics:  rooms.Metrics(),
		sessions: make(map[ConnID]*session),
	}
}

// Connect 注册新连接
func (g *Gateway) Connect(c Conn) {
	g.mu.Lock()
	g.sessions[c.ID()] = &session{conn: c}
	g.mu.Unlock()
	g.metrics.IncConnections()
	Log.Debugf("conn connected: %s", c.ID())
}

// Disconnect 断线：离开最后所在的房间并丢弃会话。重复调用无副作用。
func (g *Gateway) Disconnect(id ConnID) {
	g.mu.Lock()
	s, ok := g.sessions[id]
	delete(g.sessions, id)
	g.mu.Unlock()
	if !ok {
		return
	}
	g.metrics.DecConnections()
	if s.roomID != "" {
		g.rooms.LeaveRoom(s.roomID, id)
	}
	Log.Debugf("conn disconnected: %s user=%s room=%s", id, s.username, s.roomID)
}

// Session 返回连接当前的用户名与房间
func (g *Gateway) Session(id ConnID) (username, roomID string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return "", "", false
	}
	return s.username, s.roomID, true
}

// HandleMessage 处理一条入站消息；非法消息与未知动作静默丢弃
func (g *Gateway) HandleMessage(id ConnID, raw []byte) {
	g.mu.Lock()
	s, ok := g.sessions[id]
	g.mu.Unlock()
	if !ok {
		return
	}

	env, err := DecodeEnvelope(raw)
	if err != nil {
		g.dropped(id, "", err)
		return
	}

	switch env.Action {
	case ActionCreateRoom:
		req, err := DecodePayload[CreateRoomRequest](env)
		if err == nil && (req.RoomID == "" || req.Username == "") {
			err = errMissingField
		}
		if err != nil {
			g.dropped(id, env.Action, err)
			return
		}
		// 一个连接同一时刻只属于一个房间：创建成功后才离开原房间
		if g.rooms.CreateRoomLeaving(g.currentRoom(id), req.RoomID, req.Username, s.conn) == nil {
			g.setRoom(id, req.Username, req.RoomID)
		}

	case ActionJoinRoom:
		req, err := DecodePayload[JoinRoomRequest](env)
		if err == nil && (req.RoomID == "" || req.Username == "") {
			err = errMissingField
		}
		if err != nil {
			g.dropped(id, env.Action, err)
			return
		}
		if g.rooms.JoinRoomLeaving(g.currentRoom(id), req.RoomID, req.Username, s.conn) == nil {
			g.setRoom(id, req.Username, req.RoomID)
		}

	case ActionLeaveRoom:
		req, err := DecodePayload[LeaveRoomRequest](env)
		if err == nil && req.RoomID == "" {
			err = errMissingField
		}
		if err != nil {
			g.dropped(id, env.Action, err)
			return
		}
		g.rooms.LeaveRoom(req.RoomID, id)
		g.clearRoom(id, req.RoomID)

	case ActionStartGame:
		req, err := DecodePayload[StartGameRequest](env)
		if err == nil && req.RoomID == "" {
			err = errMissingField
		}
		if err != nil {
			g.dropped(id, env.Action, err)
			return
		}
		_ = g.rooms.StartGame(req.RoomID)

	case ActionSubmitGuess:
		req, err := DecodePayload[SubmitGuessRequest](env)
		if err == nil && (req.RoomID == "" || req.Lat == nil || req.Lon == nil) {
			err = errMissingField
		}
		if err == nil && !validCoords(*req.Lat, *req.Lon) {
			err = errors.New("coordinates out of range")
		}
		if err != nil {
			g.dropped(id, env.Action, err)
			return
		}
		if err := g.rooms.SubmitGuess(req.RoomID, id, *req.Lat, *req.Lon); err != nil {
			Log.Debugf("guess ignored: conn=%s room=%s: %v", id, req.RoomID, err)
		}

	default:
		Log.Debugf("unknown action ignored: conn=%s action=%q", id, env.Action)
	}
}

func (g *Gateway) currentRoom(id ConnID) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[id]; ok {
		return s.roomID
	}
	return ""
}

func (g *Gateway) setRoom(id ConnID, username, roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[id]; ok {
		s.username = username
		s.roomID = roomID
	}
}

func (g *Gateway) clearRoom(id ConnID, roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[id]; ok && s.roomID == roomID {
		s.roomID = ""
	}
}

func (g *Gateway) dropped(id ConnID, action string, err error) {
	g.metrics.IncProtocolErrors()
	Log.Debugf("protocol error dropped: conn=%s action=%q: %v", id, action, err)
}
