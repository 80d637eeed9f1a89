package server

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestGateway(t *testing.T) (*Gateway, *RoomManager) {
	t.Helper()
	m := newTestManager(t, clockwork.NewFakeClock(), nil)
	return NewGateway(m), m
}

func connect(g *Gateway, id string) *fakeConn {
	fc := newFakeConn(id)
	g.Connect(fc)
	return fc
}

func send(g *Gateway, fc *fakeConn, raw string) {
	g.HandleMessage(fc.ID(), []byte(raw))
}

func TestGatewayDispatchesLifecycle(t *testing.T) {
	g, m := newTestGateway(t)
	alice, bob := connect(g, "c-alice"), connect(g, "c-bob")

	send(g, alice, `{"action":"create_room","payload":{"room_id":"R1","username":"alice"}}`)
	if ok := expectPayload[RoomIDPayload](t, alice, ActionCreateRoomOK); ok.RoomID != "R1" {
		t.Fatalf("create_room_ok %+v", ok)
	}
	send(g, bob, `{"action":"join_room","payload":{"room_id":"R1","username":"bob"}}`)
	expectAction(t, bob, ActionJoinRoomOK)

	if user, room, ok := g.Session(bob.ID()); !ok || user != "bob" || room != "R1" {
		t.Fatalf("session = %q %q %v", user, room, ok)
	}

	send(g, alice, `{"action":"start_game","payload":{"room_id":"R1"}}`)
	expectAction(t, bob, ActionNewRound)

	send(g, alice, `{"action":"submit_guess","payload":{"room_id":"R1","lat":48.8584,"lon":2.2945}}`)
	send(g, bob, `{"action":"submit_guess","payload":{"room_id":"R1","lat":0,"lon":0,"username":"someone-else"}}`)
	res := expectPayload[RoundResultPayload](t, alice, ActionRoundResult)
	if len(res.Results) != 2 || res.Results[1].Username != "bob" {
		t.Fatalf("results %+v", res.Results)
	}

	if got := m.Metrics().Snapshot()["guesses_accepted"]; got != int64(2) {
		t.Fatalf("guesses_accepted = %v", got)
	}
}

func TestGatewayDropsMalformedMessages(t *testing.T) {
	g, m := newTestGateway(t)
	alice := connect(g, "c-alice")

	bad := []string{
		``,
		`not json`,
		`{"payload":{}}`,
		`{"action":"create_room"}`,
		`{"action":"create_room","payload":{"room_id":"R1"}}`,
		`{"action":"join_room","payload":{"username":"alice"}}`,
		`{"action":"leave_room","payload":{}}`,
		`{"action":"start_game","payload":null}`,
		`{"action":"submit_guess","payload":{"room_id":"R1","lat":1}}`,
		`{"action":"submit_guess","payload":{"room_id":"R1","lat":95,"lon":0}}`,
		`{"action":"submit_guess","payload":{"room_id":"R1","lat":0,"lon":-181}}`,
	}
	for _, raw := range bad {
		send(g, alice, raw)
	}
	assertSilent(t, alice, 50*time.Millisecond)

	if got := m.Metrics().Snapshot()["protocol_errors"]; got != int64(len(bad)) {
		t.Fatalf("protocol_errors = %v, want %d", got, len(bad))
	}
	if len(m.Rooms()) != 0 {
		t.Fatal("malformed message mutated the registry")
	}
}

func TestGatewayIgnoresUnknownAction(t *testing.T) {
	g, m := newTestGateway(t)
	alice := connect(g, "c-alice")

	send(g, alice, `{"action":"dance","payload":{"room_id":"R1"}}`)
	assertSilent(t, alice, 50*time.Millisecond)
	if got := m.Metrics().Snapshot()["protocol_errors"]; got != int64(0) {
		t.Fatalf("protocol_errors = %v", got)
	}
}

func TestGatewayIgnoresUnregisteredConn(t *testing.T) {
	g, m := newTestGateway(t)
	ghost := newFakeConn("ghost")

	send(g, ghost, `{"action":"create_room","payload":{"room_id":"R1","username":"ghost"}}`)
	assertSilent(t, ghost, 50*time.Millisecond)
	if len(m.Rooms()) != 0 {
		t.Fatal("unregistered connection created a room")
	}
}

func TestGatewayDisconnectLeavesRoom(t *testing.T) {
	g, m := newTestGateway(t)
	alice, bob := connect(g, "c-alice"), connect(g, "c-bob")
	send(g, alice, `{"action":"create_room","payload":{"room_id":"R1","username":"alice"}}`)
	send(g, bob, `{"action":"join_room","payload":{"room_id":"R1","username":"bob"}}`)
	drain(alice)

	g.Disconnect(bob.ID())
	upd := expectPayload[RoomUpdatePayload](t, alice, ActionRoomUpdate)
	if len(upd.Players) != 1 || upd.Players[0].Username != "alice" {
		t.Fatalf("snapshot after disconnect %+v", upd.Players)
	}
	if _, _, ok := g.Session(bob.ID()); ok {
		t.Fatal("session kept after disconnect")
	}

	// 重复断线无副作用
	g.Disconnect(bob.ID())
	assertSilent(t, alice, 50*time.Millisecond)

	g.Disconnect(alice.ID())
	if _, ok := m.Room("R1"); ok {
		t.Fatal("room survived its last connection")
	}
	if got := m.Metrics().Snapshot()["connections"]; got != int64(0) {
		t.Fatalf("connections = %v", got)
	}
}

func TestGatewaySwitchingRoomsLeavesPrevious(t *testing.T) {
	g, m := newTestGateway(t)
	alice, bob := connect(g, "c-alice"), connect(g, "c-bob")
	send(g, alice, `{"action":"create_room","payload":{"room_id":"R1","username":"alice"}}`)
	send(g, bob, `{"action":"join_room","payload":{"room_id":"R1","username":"bob"}}`)
	drain(alice)

	send(g, bob, `{"action":"create_room","payload":{"room_id":"R2","username":"bob"}}`)
	upd := expectPayload[RoomUpdatePayload](t, alice, ActionRoomUpdate)
	if len(upd.Players) != 1 {
		t.Fatalf("R1 still lists bob: %+v", upd.Players)
	}
	if _, room, _ := g.Session(bob.ID()); room != "R2" {
		t.Fatalf("bob session room = %q", room)
	}

	// 加入失败不影响当前房间
	send(g, bob, `{"action":"join_room","payload":{"room_id":"R9","username":"bob"}}`)
	expectAction(t, bob, ActionJoinRoomFailed)
	if info, ok := m.Room("R2"); !ok || info.Players != 1 {
		t.Fatalf("R2 after failed join %+v %v", info, ok)
	}
	if _, room, _ := g.Session(bob.ID()); room != "R2" {
		t.Fatalf("bob session room = %q", room)
	}
}

func TestGatewayFailedMoveKeepsLiveGame(t *testing.T) {
	g, m := newTestGateway(t)
	alice, bob := connect(g, "c-alice"), connect(g, "c-bob")
	send(g, alice, `{"action":"create_room","payload":{"room_id":"R1","username":"alice"}}`)
	send(g, bob, `{"action":"join_room","payload":{"room_id":"R1","username":"bob"}}`)
	send(g, alice, `{"action":"start_game","payload":{"room_id":"R1"}}`)
	expectAction(t, alice, ActionNewRound)
	drain(alice)

	send(g, bob, `{"action":"join_room","payload":{"room_id":"R9","username":"bob"}}`)
	expectAction(t, bob, ActionJoinRoomFailed)
	send(g, bob, `{"action":"create_room","payload":{"room_id":"R1","username":"bob"}}`)
	expectAction(t, bob, ActionCreateRoomFailed)

	assertSilent(t, alice, 50*time.Millisecond)
	info, _ := m.Room("R1")
	if info.Players != 2 || info.State != "playing" {
		t.Fatalf("R1 after failed moves %+v", info)
	}
	if _, room, _ := g.Session(bob.ID()); room != "R1" {
		t.Fatalf("bob session room = %q", room)
	}
}

func TestGatewayLeaveRoom(t *testing.T) {
	g, m := newTestGateway(t)
	alice := connect(g, "c-alice")
	send(g, alice, `{"action":"create_room","payload":{"room_id":"R1","username":"alice"}}`)
	send(g, alice, `{"action":"leave_room","payload":{"room_id":"R1"}}`)

	if _, ok := m.Room("R1"); ok {
		t.Fatal("room not deleted")
	}
	if _, room, _ := g.Session(alice.ID()); room != "" {
		t.Fatalf("session room = %q", room)
	}
}
