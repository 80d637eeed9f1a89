package server

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type fakeConn struct {
	id     ConnID
	sendCh chan []byte
	closed atomic.Bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: ConnID(id), sendCh: make(chan []byte, 256)}
}

func (f *fakeConn) ID() ConnID { return f.id }

func (f *fakeConn) Send(b []byte) error {
	if f.closed.Load() {
		return ErrConnClosed
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case f.sendCh <- cp:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

// expectAction 读取直到出现指定动作，跳过其他消息
func expectAction(t *testing.T, fc *fakeConn, action string) Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case b := <-fc.sendCh:
			env, err := DecodeEnvelope(b)
			if err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if env.Action == action {
				return env
			}
		case <-timeout:
			t.Fatalf("%s: timed out waiting for %q", fc.id, action)
		}
	}
}

func expectPayload[T any](t *testing.T, fc *fakeConn, action string) T {
	t.Helper()
	env := expectAction(t, fc, action)
	out, err := DecodePayload[T](env)
	if err != nil {
		t.Fatalf("decode %s payload: %v", action, err)
	}
	return out
}

// nextAction 返回下一条消息，不跳过
func nextAction(t *testing.T, fc *fakeConn) Envelope {
	t.Helper()
	select {
	case b := <-fc.sendCh:
		env, err := DecodeEnvelope(b)
		if err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timed out waiting for a message", fc.id)
	}
	return Envelope{}
}

// assertSilent d 内收到任何消息即失败
func assertSilent(t *testing.T, fc *fakeConn, d time.Duration) {
	t.Helper()
	select {
	case b := <-fc.sendCh:
		t.Fatalf("%s: expected no message, got %s", fc.id, b)
	case <-time.After(d):
	}
}

// refuteAction 在 d 内读取所有消息，出现 action 即失败
func refuteAction(t *testing.T, fc *fakeConn, action string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case b := <-fc.sendCh:
			env, err := DecodeEnvelope(b)
			if err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if env.Action == action {
				t.Fatalf("%s: unexpected %q: %s", fc.id, action, env.Payload)
			}
		case <-deadline:
			return
		}
	}
}

func drain(fc *fakeConn) {
	for {
		select {
		case <-fc.sendCh:
		default:
			return
		}
	}
}

type publishedEvent struct {
	roomID string
	event  string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(roomID, event string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{roomID: roomID, event: event})
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.event)
	}
	return out
}

var (
	paris = Location{Name: "Eiffel Tower, Paris", Lat: 48.8584, Lon: 2.2945}
	tokyo = Location{Name: "Shibuya Crossing, Tokyo", Lat: 35.6595, Lon: 139.7005}
)

func newTestManager(t *testing.T, clock clockwork.Clock, pub EventPublisher, locs ...Location) *RoomManager {
	t.Helper()
	if len(locs) == 0 {
		locs = []Location{paris}
	}
	m := NewRoomManager(GameConfig{
		RoundPause: DefaultRoundPause,
		Clock:      clock,
		Source:     NewSequenceSource(locs...),
		Publisher:  pub,
	})
	t.Cleanup(m.Close)
	return m
}

// startTwoPlayerGame 创建房间 R1（alice、bob）并开局
func startTwoPlayerGame(t *testing.T, m *RoomManager) (alice, bob *fakeConn) {
	t.Helper()
	alice, bob = newFakeConn("c-alice"), newFakeConn("c-bob")
	if err := m.CreateRoom("R1", "alice", alice); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := m.JoinRoom("R1", "bob", bob); err != nil {
		t.Fatalf("join room: %v", err)
	}
	if err := m.StartGame("R1"); err != nil {
		t.Fatalf("start game: %v", err)
	}
	return alice, bob
}

func waitForWaiters(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d clock waiters: %v", n, err)
	}
}
