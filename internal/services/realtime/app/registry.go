package app

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
	"github.com/louisbranch/notdnd/internal/services/realtime/wire"
	"golang.org/x/time/rate"
)

// peer serialises frame writes to one socket.
type peer struct {
	mu           sync.Mutex
	conn         net.Conn
	writeTimeout time.Duration
	closed       bool
}

func newPeer(conn net.Conn, writeTimeout time.Duration) *peer {
	return &peer{conn: conn, writeTimeout: writeTimeout}
}

func (p *peer) writeFrame(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return net.ErrClosed
	}
	if p.writeTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	_, err := p.conn.Write(frame)
	return err
}

func (p *peer) sendJSON(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal realtime message: %w", err)
	}
	return p.writeFrame(wire.EncodeText(string(body)))
}

// close sends a close frame with status, best effort, then drops the socket.
func (p *peer) close(status uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if status != 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		_, _ = p.conn.Write(wire.EncodeClose(status))
	}
	_ = p.conn.Close()
}

// connection is one accepted socket and its session state.
type connection struct {
	id       string
	identity contract.Identity
	peer     *peer
	limiter  *rate.Limiter

	// cursorLimiter paces this connection's cursor_state fan-out. Updates
	// beyond it are still recorded and go out with one trailing publish.
	cursorLimiter *rate.Limiter

	mu          sync.Mutex
	roomKey     string
	cursorFlush bool
}

func (c *connection) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomKey
}

func (c *connection) setRoom(next string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.roomKey
	c.roomKey = next
	return prev
}

// deferCursorFlush marks a trailing cursor publish as scheduled. It reports
// false when one already is.
func (c *connection) deferCursorFlush() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursorFlush {
		return false
	}
	c.cursorFlush = true
	return true
}

func (c *connection) cursorFlushed() {
	c.mu.Lock()
	c.cursorFlush = false
	c.mu.Unlock()
}

// registry tracks every live connection. Its mutex is never held while
// writing to a socket; fan-out iterates a snapshot.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
	order map[string]uint64
	seq   uint64
}

func newRegistry() *registry {
	return &registry{
		conns: make(map[string]*connection),
		order: make(map[string]uint64),
	}
}

func (r *registry) add(c *connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.conns[c.id] = c
	r.order[c.id] = r.seq
}

func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	delete(r.order, id)
	return true
}

func (r *registry) get(id string) (*connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// snapshot returns the connections matching keep, in registration order.
func (r *registry) snapshot(keep func(*connection) bool) []*connection {
	r.mu.RLock()
	out := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		if keep == nil || keep(c) {
			out = append(out, c)
		}
	}
	order := make(map[string]uint64, len(out))
	for _, c := range out {
		order[c.id] = r.order[c.id]
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return order[out[i].id] < order[out[j].id] })
	return out
}

func (r *registry) inRoom(key string) []*connection {
	return r.snapshot(func(c *connection) bool { return c.room() == key })
}

// sendTo delivers msg to one connection. Unknown ids are ignored.
func (r *registry) sendTo(id string, msg any) error {
	c, ok := r.get(id)
	if !ok {
		return nil
	}
	return c.peer.sendJSON(msg)
}

// broadcast delivers msg to every connection matching keep and returns how
// many writes succeeded. The payload is encoded once.
func (r *registry) broadcast(msg any, keep func(*connection) bool) int {
	body, err := json.Marshal(msg)
	if err != nil {
		return 0
	}
	frame := wire.EncodeText(string(body))
	sent := 0
	for _, c := range r.snapshot(keep) {
		if err := c.peer.writeFrame(frame); err == nil {
			sent++
		}
	}
	return sent
}
