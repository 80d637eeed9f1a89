package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 64 << 10 // 64KB
	sendQueueSize  = 256
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	id   ConnID
	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func NewClientConn(ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		id:   ConnID(uuid.NewString()),
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *ClientConn) ID() ConnID { return c.id }

// Send 将消息压入发送队列（非阻塞）。队列满说明客户端过慢，返回错误由调用方断开。
func (c *ClientConn) Send(b []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close 关闭底层连接；读写协程随之退出
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				Log.Debugf("ws write conn=%s: %v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息交给网关；退出时走断线清理
func (c *ClientConn) readPump(g *Gateway) {
	defer func() {
		g.Disconnect(c.id)
		_ = c.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Log.Infof("ws read conn=%s: %v", c.id, err)
			}
			return
		}
		g.HandleMessage(c.id, payload)
	}
}

// WSHandler WebSocket 接入：GET /ws
type WSHandler struct {
	gateway  *Gateway
	upgrader websocket.Upgrader
}

// NewWSHandler originAllowed 为 nil 时允许所有来源
func NewWSHandler(g *Gateway, originAllowed func(*http.Request) bool) *WSHandler {
	if originAllowed == nil {
		originAllowed = func(*http.Request) bool { return true }
	}
	return &WSHandler{
		gateway: g,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originAllowed,
		},
	}
}

// OriginChecker 按白名单校验 Origin；包含 "*" 或为空时返回 nil（不限制）
func OriginChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		allowed[o] = true
	}
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// Handle 升级连接并启动读写协程
func (h *WSHandler) Handle(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}
	client := NewClientConn(ws)
	h.gateway.Connect(client)
	Log.Infof("ws connected: conn=%s remote=%s", client.id, r.RemoteAddr)

	go client.writePump()
	go client.readPump(h.gateway)
}
