package app

import (
	"io"
	"net"
	"testing"

	"github.com/louisbranch/notdnd/internal/services/realtime/wire"
)

func pipeConnection(t *testing.T, id, roomKey string) (*connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return &connection{id: id, identity: userOne, peer: newPeer(server, 0), roomKey: roomKey}, client
}

func readText(t *testing.T, conn net.Conn) string {
	t.Helper()
	head := make([]byte, 2)
	if _, err := io.ReadFull(conn, head); err != nil {
		t.Fatalf("read header: %v", err)
	}
	body := make([]byte, int(head[1]&0x7F))
	if _, err := io.ReadFull(conn, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	decoded, err := wire.Decode(append(head, body...))
	if err != nil || len(decoded.Messages) != 1 {
		t.Fatalf("decode: %v %v", decoded, err)
	}
	return decoded.Messages[0]
}

func TestRegistrySnapshotKeepsRegistrationOrder(t *testing.T) {
	reg := newRegistry()
	for _, id := range []string{"c", "a", "b"} {
		c, _ := pipeConnection(t, id, "R")
		reg.add(c)
	}
	got := reg.snapshot(nil)
	if len(got) != 3 || got[0].id != "c" || got[1].id != "a" || got[2].id != "b" {
		t.Fatalf("order = %v %v %v", got[0].id, got[1].id, got[2].id)
	}
	if !reg.remove("a") || reg.remove("a") {
		t.Fatal("remove should succeed exactly once")
	}
	if reg.count() != 2 {
		t.Fatalf("count = %d", reg.count())
	}
}

func TestRegistryInRoomAndSendTo(t *testing.T) {
	reg := newRegistry()
	a, aClient := pipeConnection(t, "a", "R")
	b, _ := pipeConnection(t, "b", "S")
	reg.add(a)
	reg.add(b)

	if got := reg.inRoom("R"); len(got) != 1 || got[0].id != "a" {
		t.Fatalf("inRoom = %v", got)
	}
	b.setRoom("R")
	if got := reg.inRoom("R"); len(got) != 2 {
		t.Fatalf("inRoom after switch = %d", len(got))
	}

	done := make(chan string, 1)
	go func() { done <- readText(t, aClient) }()
	if err := reg.sendTo("a", map[string]string{"type": "hello"}); err != nil {
		t.Fatalf("sendTo: %v", err)
	}
	if got := <-done; got != `{"type":"hello"}` {
		t.Fatalf("received %q", got)
	}
	if err := reg.sendTo("missing", map[string]string{}); err != nil {
		t.Fatalf("sendTo unknown: %v", err)
	}
}

func TestPeerRejectsWritesAfterClose(t *testing.T) {
	c, client := pipeConnection(t, "a", "R")
	go func() { _, _ = io.Copy(io.Discard, client) }()
	c.peer.close(wire.CloseNormal)
	if err := c.peer.writeFrame(wire.EncodeText("late")); err == nil {
		t.Fatal("expected write after close to fail")
	}
}
