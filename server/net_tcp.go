package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// lineConn 基于 TCP 的连接：每行一条 JSON 信封
type lineConn struct {
	id   ConnID
	nc   net.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newLineConn(nc net.Conn) *lineConn {
	return &lineConn{
		id:   ConnID(uuid.NewString()),
		nc:   nc,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *lineConn) ID() ConnID { return c.id }

func (c *lineConn) Send(b []byte) error {
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

func (c *lineConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.nc.Close()
	})
	return err
}

func (c *lineConn) writeLoop() {
	defer c.Close()
	w := bufio.NewWriter(c.nc)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.nc.SetWriteDeadline(time.Now().Add(writeWait))
			// msg 可能被多个连接共享，不能原地追加
			_, _ = w.Write(msg)
			_ = w.WriteByte('\n')
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func (c *lineConn) readLoop(g *Gateway) {
	defer func() {
		g.Disconnect(c.id)
		_ = c.Close()
	}()
	sc := bufio.NewScanner(c.nc)
	sc.Buffer(make([]byte, 4096), maxMessageSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		g.HandleMessage(c.id, line)
	}
	if err := sc.Err(); err != nil {
		Log.Debugf("tcp read conn=%s: %v", c.id, err)
	}
}

// ServeTCP 在 ln 上接受连接，直到 ctx 结束或监听关闭
func ServeTCP(ctx context.Context, ln net.Listener, g *Gateway) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c := newLineConn(nc)
		g.Connect(c)
		Log.Infof("tcp connected: conn=%s remote=%s", c.id, nc.RemoteAddr())
		go c.writeLoop()
		go c.readLoop(g)
	}
}
