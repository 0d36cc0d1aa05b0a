package app

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

// An independent client implementation must interoperate with the
// hand-written handshake and codec.
func TestInteropWithXNetWebsocketClient(t *testing.T) {
	h := newHarness(t)
	url := "ws://" + h.addr() + "/ws?token=tok-1&campaignId=R"
	ws, err := websocket.Dial(url, "", "http://"+h.addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetDeadline(time.Now().Add(5 * time.Second))

	receive := func(typ string) map[string]any {
		t.Helper()
		for {
			var raw string
			if err := websocket.Message.Receive(ws, &raw); err != nil {
				t.Fatalf("receive %s: %v", typ, err)
			}
			var msg map[string]any
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg["type"] == typ {
				return msg
			}
		}
	}

	connected := receive("connected")
	if connected["campaignId"] != "R" || field(connected["user"], "id") != "u1" {
		t.Fatalf("connected = %v", connected)
	}

	// Large enough to need the 16-bit extended length in both directions.
	label := strings.Repeat("L", 60)
	padding := strings.Repeat("p", 300)
	if err := websocket.Message.Send(ws, `{"type":"cursor_update","x":7,"y":8,"label":"`+label+`","pad":"`+padding+`"}`); err != nil {
		t.Fatalf("send: %v", err)
	}
	state := receive("cursor_state")
	cursors := list(state, "cursors")
	if len(cursors) != 1 || field(cursors[0], "label") != label || field(cursors[0], "x") != float64(7) {
		t.Fatalf("cursor_state = %v", state)
	}

	if err := websocket.Message.Send(ws, `{"type":"lock_acquire","resource":"token_move"}`); err != nil {
		t.Fatalf("send lock: %v", err)
	}
	if res := receive("lock_acquire_result"); res["ok"] != true {
		t.Fatalf("lock result = %v", res)
	}
}
