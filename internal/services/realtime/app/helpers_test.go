package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/notdnd/internal/platform/errors"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
	"github.com/louisbranch/notdnd/internal/services/realtime/wire"
)

const testKey = "dGhlIHNhbXBsZSBub25jZQ=="

type fakeAuthenticator struct {
	identities map[string]contract.Identity
}

func (f fakeAuthenticator) Authenticate(_ context.Context, token string) (contract.Identity, error) {
	identity, ok := f.identities[token]
	if !ok {
		return contract.Identity{}, apperrors.New(apperrors.CodeUnauthorized, "unknown token")
	}
	return identity, nil
}

type fakeAuthorizer struct {
	mu     sync.Mutex
	denied map[string]bool
}

func (f *fakeAuthorizer) deny(userID, roomKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied == nil {
		f.denied = map[string]bool{}
	}
	f.denied[userID+"|"+roomKey] = true
}

func (f *fakeAuthorizer) CanJoin(_ context.Context, identity contract.Identity, roomKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.denied[identity.UserID+"|"+roomKey], nil
}

// fakeExecutor keeps one global counter and enforces the expected version
// precondition the way a real executor must.
type fakeExecutor struct {
	mu      sync.Mutex
	global  int64
	calls   []contract.Operation
	fail    error
	resetOn string
}

func (f *fakeExecutor) Execute(_ context.Context, op contract.Operation) (contract.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if f.fail != nil {
		return contract.Result{}, f.fail
	}
	if op.ExpectedVersion != nil && *op.ExpectedVersion != f.global {
		return contract.Result{}, apperrors.WithDetails(apperrors.CodeVersionConflict, "state version changed",
			map[string]any{"expectedVersion": *op.ExpectedVersion, "currentVersion": f.global})
	}
	f.global++
	return contract.Result{
		Value:    map[string]any{"op": op.Name},
		Versions: contract.Versions{Global: f.global, Room: f.global},
		Reset:    op.Name == f.resetOn && f.resetOn != "",
	}, nil
}

func (f *fakeExecutor) version() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.global
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSnapshots struct {
	exec *fakeExecutor
}

func (f fakeSnapshots) Snapshot(_ context.Context, identity contract.Identity, roomKey string) (contract.Snapshot, error) {
	v := f.exec.version()
	return contract.Snapshot{
		Versions: contract.Versions{Global: v, Room: v},
		State:    map[string]any{"viewer": identity.UserID, "room": roomKey},
	}, nil
}

var (
	userOne = contract.Identity{UserID: "u1", DisplayName: "User One"}
	userTwo = contract.Identity{UserID: "u2", DisplayName: "User Two"}
)

type harness struct {
	t     *testing.T
	svc   *service
	srv   *httptest.Server
	authz *fakeAuthorizer
	exec  *fakeExecutor
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	exec := &fakeExecutor{}
	authz := &fakeAuthorizer{}
	config := Config{
		Authenticator: fakeAuthenticator{identities: map[string]contract.Identity{
			"tok-1":  userOne,
			"tok-1b": userOne,
			"tok-2":  userTwo,
		}},
		Authorizer: authz,
		Executor:   exec,
		Snapshots:  fakeSnapshots{exec: exec},
	}
	for _, m := range mutate {
		m(&config)
	}
	svc, err := newService(config)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	srv := httptest.NewServer(newHandler(svc))
	t.Cleanup(func() {
		svc.shutdown()
		srv.Close()
	})
	return &harness{t: t, svc: svc, srv: srv, authz: authz, exec: exec}
}

func (h *harness) addr() string {
	return strings.TrimPrefix(h.srv.URL, "http://")
}

// testClient speaks the framed protocol over a raw socket, masking every
// frame as a browser would.
type testClient struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
	buf  []byte
	msgs []map[string]any
	// closed is set after a close frame or EOF.
	closed bool
}

func rawUpgrade(t *testing.T, addr, query string, headers map[string]string) (net.Conn, *bufio.Reader, *http.Response) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	var req strings.Builder
	fmt.Fprintf(&req, "GET /ws?%s HTTP/1.1\r\nHost: %s\r\n", query, addr)
	base := map[string]string{
		"Upgrade":               "websocket",
		"Connection":            "Upgrade",
		"Sec-WebSocket-Version": "13",
		"Sec-WebSocket-Key":     testKey,
	}
	for k, v := range headers {
		base[k] = v
	}
	for k, v := range base {
		if v == "" {
			continue
		}
		fmt.Fprintf(&req, "%s: %s\r\n", k, v)
	}
	req.WriteString("\r\n")
	if _, err := io.WriteString(conn, req.String()); err != nil {
		t.Fatalf("write upgrade: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read upgrade response: %v", err)
	}
	return conn, br, resp
}

func (h *harness) connect(token, roomKey string) *testClient {
	h.t.Helper()
	query := "token=" + token
	if roomKey != "" {
		query += "&campaignId=" + roomKey
	}
	conn, br, resp := rawUpgrade(h.t, h.addr(), query, nil)
	if resp.StatusCode != http.StatusSwitchingProtocols {
		h.t.Fatalf("upgrade status = %d", resp.StatusCode)
	}
	c := &testClient{t: h.t, conn: conn, br: br}
	c.expect("connected", nil)
	return c
}

func (c *testClient) sendRaw(frame []byte) {
	c.t.Helper()
	if _, err := c.conn.Write(frame); err != nil {
		c.t.Fatalf("write frame: %v", err)
	}
}

func (c *testClient) sendText(text string) {
	c.t.Helper()
	c.sendRaw(wire.Encode(wire.OpcodeText, []byte(text), &[4]byte{0x11, 0x22, 0x33, 0x44}))
}

func (c *testClient) send(v any) {
	c.t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	c.sendText(string(body))
}

// fill reads until at least one message is queued, the peer closes, or the
// deadline passes.
func (c *testClient) fill(deadline time.Time) error {
	chunk := make([]byte, 4096)
	for len(c.msgs) == 0 && !c.closed {
		_ = c.conn.SetReadDeadline(deadline)
		n, err := c.br.Read(chunk)
		c.buf = append(c.buf, chunk[:n]...)
		decoded, derr := wire.Decode(c.buf)
		if derr != nil {
			return derr
		}
		c.buf = decoded.Rest
		for _, raw := range decoded.Messages {
			var msg map[string]any
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				return err
			}
			c.msgs = append(c.msgs, msg)
		}
		if decoded.Close {
			c.closed = true
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.closed = true
				return nil
			}
			return err
		}
	}
	return nil
}

// expect skips messages until one of type typ matches pred.
func (c *testClient) expect(typ string, pred func(map[string]any) bool) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := c.fill(deadline); err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if len(c.msgs) == 0 {
			c.t.Fatalf("connection closed while waiting for %s", typ)
		}
		msg := c.msgs[0]
		c.msgs = c.msgs[1:]
		if msg["type"] == typ && (pred == nil || pred(msg)) {
			return msg
		}
	}
}

// collectUntil returns every message up to and including the first of type typ.
func (c *testClient) collectUntil(typ string) []map[string]any {
	c.t.Helper()
	var seen []map[string]any
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := c.fill(deadline); err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if len(c.msgs) == 0 {
			c.t.Fatalf("connection closed while waiting for %s", typ)
		}
		msg := c.msgs[0]
		c.msgs = c.msgs[1:]
		seen = append(seen, msg)
		if msg["type"] == typ {
			return seen
		}
	}
}

// expectClosed drains until the server ends the session.
func (c *testClient) expectClosed() {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !c.closed {
		c.msgs = nil
		if err := c.fill(deadline); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.t.Fatal("server did not close the connection")
			}
			return
		}
	}
}

func (c *testClient) close() {
	_ = c.conn.Close()
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func list(msg map[string]any, key string) []any {
	v, _ := msg[key].([]any)
	return v
}

func field(v any, key string) any {
	m, _ := v.(map[string]any)
	return m[key]
}

func userIDs(msg map[string]any) []string {
	var ids []string
	for _, u := range list(msg, "users") {
		ids = append(ids, fmt.Sprint(field(u, "id")))
	}
	return ids
}
