package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// 对外发布的对局生命周期事件
const (
	EventGameStarted = "game_started"
	EventRoundResult = "round_result"
	EventGameOver    = "game_over"
	EventRoomDeleted = "room_deleted"
)

// EventPublisher 将房间事件旁路发布给外部订阅者（观战、统计等）
type EventPublisher interface {
	Publish(roomID, event string, payload any)
	Close()
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}
func (nopPublisher) Close()                      {}

// NATSPublisher 发布到 <prefix>.<room>.<event>
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher 连接 NATS；断线自动重连，发布失败只记录日志
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("geoarena"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				Log.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			Log.Infof("nats reconnected: %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) Publish(roomID, event string, payload any) {
	b, err := Encode(event, payload)
	if err != nil {
		Log.Errorf("encode event %s: %v", event, err)
		return
	}
	subj := EventSubject(p.prefix, roomID, event)
	if err := p.nc.Publish(subj, b); err != nil {
		Log.Warnf("publish %s: %v", subj, err)
	}
}

// Close 刷出缓冲后断开
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		Log.Warnf("nats drain: %v", err)
	}
}

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

// EventSubject 房间 ID 由客户端决定，需转义成合法的 subject token
func EventSubject(prefix, roomID, event string) string {
	token := subjectReplacer.Replace(roomID)
	if token == "" {
		token = "_"
	}
	return prefix + "." + token + "." + event
}
