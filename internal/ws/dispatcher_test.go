package ws

import (
	"bytes"
	"testing"
	"time"

	"github.com/zsurvival/game-server/internal/protocol"
)

func testConn(id string) (*Connection, *captureConn) {
	cc := &captureConn{}
	return &Connection{ID: id, Conn: cc, CreatedAt: time.Now()}, cc
}

func TestDispatch_RoutesToHandler(t *testing.T) {
	d := NewMessageDispatcher(nil)

	var got protocol.CreateGameMsg
	d.Register(protocol.TypeCreateGame, func(conn *Connection, msg interface{}) {
		got = msg.(protocol.CreateGameMsg)
	})

	conn, _ := testConn("conn-1")
	d.Dispatch(conn, []byte(`{"type":"createGame","hostName":"Rick","requestId":"req-1"}`))

	if got.HostName != "Rick" {
		t.Fatalf("handler did not receive the parsed message: %+v", got)
	}
}

func TestDispatch_PingAnsweredWithPong(t *testing.T) {
	d := NewMessageDispatcher(nil)

	conn, cc := testConn("conn-1")
	before := conn.LastActive()
	time.Sleep(time.Millisecond)

	d.Dispatch(conn, []byte(`{"type":"ping"}`))

	if !bytes.Contains(cc.Bytes(), []byte(`"pong"`)) {
		t.Error("expected a pong frame on the wire")
	}
	if !conn.LastActive().After(before) {
		t.Error("ping should refresh the connection's activity time")
	}
}

func TestDispatch_UnregisteredTypeSendsError(t *testing.T) {
	d := NewMessageDispatcher(nil)

	conn, cc := testConn("conn-1")
	d.Dispatch(conn, []byte(`{"type":"startGame"}`))

	if !bytes.Contains(cc.Bytes(), []byte(`"error"`)) {
		t.Error("expected an error frame for an unregistered type")
	}
}

func TestDispatch_MalformedMessageSendsError(t *testing.T) {
	d := NewMessageDispatcher(nil)

	conn, cc := testConn("conn-1")
	d.Dispatch(conn, []byte(`not json`))

	if !bytes.Contains(cc.Bytes(), []byte(`"error"`)) {
		t.Error("expected an error frame for malformed input")
	}
}
