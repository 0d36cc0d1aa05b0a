package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/notdnd/internal/platform/id"
	"github.com/louisbranch/notdnd/internal/platform/timeouts"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
	"github.com/louisbranch/notdnd/internal/services/realtime/room"
	"github.com/louisbranch/notdnd/internal/services/realtime/wire"
	"golang.org/x/time/rate"
)

const (
	readChunkBytes          = 32 * 1024
	defaultMaxBufferedBytes = 1 << 20
	defaultMessagesPerSec   = 40
	defaultMessageBurst     = 80

	// Pointer movement is paced separately and never counts against the
	// message limit.
	cursorPublishesPerSec = 20
	cursorPublishBurst    = 5
	cursorFlushDelay      = 60 * time.Millisecond
)

// DefaultProtectedOperations maps operation names to the lock resource a
// submitter must not be blocked on.
func DefaultProtectedOperations() map[string]string {
	return map[string]string{
		"set_token_position": "token_move",
		"move_token":         "token_move",
		"toggle_fog_cell":    "fog_edit",
	}
}

// service is the single coordinating object per process. It owns the
// connection registry and the room hub and passes them explicitly to the
// gateway.
type service struct {
	registry  *registry
	rooms     *room.Hub
	gateway   *gateway
	authn     contract.Authenticator
	authz     contract.Authorizer
	now       func() time.Time
	newID     func() (string, error)
	writeTO   time.Duration
	maxBuffer int
	rateLimit rate.Limit
	rateBurst int

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closing bool
}

func newService(config Config) (*service, error) {
	if config.Authenticator == nil {
		return nil, errors.New("authenticator is required")
	}
	if config.Executor == nil {
		return nil, errors.New("operation executor is required")
	}
	if config.Snapshots == nil {
		return nil, errors.New("snapshot provider is required")
	}
	if config.Authorizer == nil {
		config.Authorizer = contract.AuthorizerFunc(func(context.Context, contract.Identity, string) (bool, error) {
			return true, nil
		})
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewID == nil {
		config.NewID = id.NewID
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = timeouts.SocketWrite
	}
	if config.MaxBufferedBytes <= 0 {
		config.MaxBufferedBytes = defaultMaxBufferedBytes
	}
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = defaultMessagesPerSec
	}
	if config.MessageBurst <= 0 {
		config.MessageBurst = defaultMessageBurst
	}
	protected := config.ProtectedOperations
	if protected == nil {
		protected = DefaultProtectedOperations()
	}

	rooms := room.NewHub(room.Config{LockTTL: config.LockTTL, Now: config.Now})
	reg := newRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	s := &service{
		registry:  reg,
		rooms:     rooms,
		authn:     config.Authenticator,
		authz:     config.Authorizer,
		now:       config.Now,
		newID:     config.NewID,
		writeTO:   config.WriteTimeout,
		maxBuffer: config.MaxBufferedBytes,
		rateLimit: rate.Limit(config.MessagesPerSecond),
		rateBurst: config.MessageBurst,
		baseCtx:   ctx,
		cancel:    cancel,
	}
	resolver, _ := config.Executor.(contract.RoomResolver)
	s.gateway = newGateway(gatewayDeps{
		registry:     reg,
		rooms:        rooms,
		executor:     config.Executor,
		resolver:     resolver,
		snapshots:    config.Snapshots,
		protected:    protected,
		publishLocks: s.publishLocks,
		now:          config.Now,
	})
	return s, nil
}

func (s *service) timestamp() int64 {
	return s.now().UnixMilli()
}

// attach registers an upgraded socket and announces it to its room.
func (s *service) attach(conn net.Conn, identity contract.Identity, roomKey string) (*connection, error) {
	connID, err := s.newID()
	if err != nil {
		return nil, err
	}
	c := &connection{
		id:       connID,
		identity: identity,
		peer:     newPeer(conn, s.writeTO),
		limiter:  rate.NewLimiter(s.rateLimit, s.rateBurst),
		roomKey:  roomKey,

		cursorLimiter: rate.NewLimiter(cursorPublishesPerSec, cursorPublishBurst),
	}
	s.registry.add(c)
	r := s.rooms.Room(roomKey)
	r.Join(c.id, identity)

	_ = c.peer.sendJSON(connectedMessage{
		Type:       "connected",
		ClientID:   c.id,
		CampaignID: roomKey,
		User:       identity,
		Timestamp:  s.timestamp(),
	})
	s.publishRoom(r)
	return c, nil
}

// track admits one more session unless shutdown has begun. Every true
// return must be paired with s.wg.Done.
func (s *service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

// serve runs the connection's read loop until the socket ends. Each chunk is
// fully decoded and dispatched before the next read. The caller holds a
// track slot for the duration.
func (s *service) serve(c *connection, leftover []byte) {
	defer s.detach(c)
	if s.baseCtx.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	go func() {
		<-ctx.Done()
		c.peer.close(wire.CloseNormal)
	}()

	buf := leftover
	chunk := make([]byte, readChunkBytes)
	for {
		if len(buf) > 0 {
			decoded, err := wire.Decode(buf)
			if err != nil {
				log.Printf("realtime: protocol error conn=%q user=%q err=%v", c.id, c.identity.UserID, err)
				c.peer.close(wire.CloseProtocolError)
				return
			}
			buf = decoded.Rest
			if len(buf) > s.maxBuffer {
				log.Printf("realtime: frame exceeds buffer limit conn=%q bytes=%d", c.id, len(buf))
				c.peer.close(wire.CloseProtocolError)
				return
			}
			if !s.handleDecoded(ctx, c, decoded) {
				return
			}
		}

		n, err := c.peer.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if n > 0 {
				// Dispatch whatever arrived alongside the error before leaving.
				if decoded, derr := wire.Decode(buf); derr == nil {
					s.handleDecoded(ctx, c, decoded)
				}
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Printf("realtime: read failed conn=%q err=%v", c.id, err)
			}
			return
		}
	}
}

// handleDecoded answers pings and dispatches messages. It reports false when
// the connection must end.
//
// Consecutive cursor updates collapse into the last one and are exempt from
// the message limit; everything else counts against it.
func (s *service) handleDecoded(ctx context.Context, c *connection, decoded wire.Decoded) bool {
	for _, ping := range decoded.Pings {
		if err := c.peer.writeFrame(wire.EncodePong(ping)); err != nil {
			return false
		}
	}
	var cursor *cursorUpdate
	for _, raw := range decoded.Messages {
		msg, err := parseClientMessage(raw)
		if update, ok := msg.(cursorUpdate); ok {
			cursor = &update
			continue
		}
		if cursor != nil {
			s.updateCursor(c, *cursor)
			cursor = nil
		}
		if !c.limiter.Allow() {
			log.Printf("realtime: rate limit exceeded conn=%q user=%q", c.id, c.identity.UserID)
			_ = c.peer.sendJSON(rateLimitedMessage(s.timestamp()))
			c.peer.close(wire.CloseProtocolError)
			return false
		}
		if err != nil {
			continue
		}
		s.dispatch(ctx, c, msg)
	}
	if cursor != nil {
		s.updateCursor(c, *cursor)
	}
	if decoded.Close {
		c.peer.close(wire.CloseNormal)
		return false
	}
	return true
}

func (s *service) dispatch(ctx context.Context, c *connection, msg clientMessage) {
	switch m := msg.(type) {
	case joinCampaign:
		s.switchRoom(ctx, c, m.CampaignID)
	case lockAcquire:
		s.acquireLock(c, m.Resource)
	case lockRelease:
		s.releaseLock(c, m.Resource)
	case operationRequest:
		s.gateway.submit(ctx, c, m)
	}
}

// switchRoom moves c to next when the authorizer allows it. Joining the
// current room only acknowledges.
func (s *service) switchRoom(ctx context.Context, c *connection, next string) {
	next = strings.TrimSpace(next)
	authCtx, cancel := context.WithTimeout(ctx, timeouts.AuthCall)
	allowed, err := s.authz.CanJoin(authCtx, c.identity, next)
	cancel()
	if err != nil || !allowed {
		reason := "forbidden"
		if err != nil {
			log.Printf("realtime: join authorization failed conn=%q room=%q err=%v", c.id, next, err)
			reason = "unavailable"
		}
		_ = c.peer.sendJSON(joinDeniedMessage{
			Type:       "join_denied",
			CampaignID: next,
			Reason:     reason,
			Timestamp:  s.timestamp(),
		})
		return
	}

	_ = c.peer.sendJSON(joinedMessage{Type: "joined_campaign", CampaignID: next, Timestamp: s.timestamp()})

	prev := c.room()
	if prev == next {
		return
	}
	c.setRoom(next)
	left := s.rooms.Room(prev)
	departure := left.Leave(c.id)
	joined := s.rooms.Room(next)
	joined.Join(c.id, c.identity)
	s.publishDeparture(left, departure)
	s.publishRoom(joined)
}

// updateCursor records the pointer and fans it out at most at the cursor
// pace. A throttled update is covered by one trailing publish.
func (s *service) updateCursor(c *connection, m cursorUpdate) {
	r := s.rooms.Room(c.room())
	r.SetCursor(c.identity, m.X, m.Y, m.Label)
	if c.cursorLimiter.Allow() {
		s.publishCursors(r)
		return
	}
	if !c.deferCursorFlush() {
		return
	}
	time.AfterFunc(cursorFlushDelay, func() {
		c.cursorFlushed()
		s.publishCursors(r)
		if current := s.rooms.Room(c.room()); current != r {
			s.publishCursors(current)
		}
	})
}

func (s *service) acquireLock(c *connection, resource string) {
	key := c.room()
	r := s.rooms.Room(key)
	lock, ok := r.Acquire(resource, c.identity)
	_ = c.peer.sendJSON(lockAcquireResultMessage{
		Type:       "lock_acquire_result",
		CampaignID: key,
		Resource:   resource,
		OK:         ok,
		Lock:       lock,
		Timestamp:  s.timestamp(),
	})
	s.publishLocks(r)
}

func (s *service) releaseLock(c *connection, resource string) {
	key := c.room()
	r := s.rooms.Room(key)
	ok := r.Release(resource, c.identity.UserID)
	_ = c.peer.sendJSON(lockReleaseResultMessage{
		Type:       "lock_release_result",
		CampaignID: key,
		Resource:   resource,
		OK:         ok,
		Timestamp:  s.timestamp(),
	})
	s.publishLocks(r)
}

// detach runs the disconnect cleanup: unregister, leave the room (dropping
// the identity's cursor and locks), and republish what the departure changed.
func (s *service) detach(c *connection) {
	c.peer.close(0)
	if !s.registry.remove(c.id) {
		return
	}
	r := s.rooms.Room(c.room())
	departure := r.Leave(c.id)
	if len(departure.Released) > 0 {
		log.Printf("realtime: released locks on disconnect conn=%q user=%q resources=%v", c.id, c.identity.UserID, departure.Released)
	}
	s.publishDeparture(r, departure)
}

// publishRoom sends presence, cursors, and locks from one consistent copy.
func (s *service) publishRoom(r *room.Room) {
	r.Publish(func(state room.State) {
		s.sendPresence(r.Key(), state)
		s.sendCursors(r.Key(), state)
		s.sendLocks(r.Key(), state)
	})
}

// publishDeparture republishes only the parts of the room a Leave changed.
func (s *service) publishDeparture(r *room.Room, d room.Departure) {
	if !d.Left {
		return
	}
	r.Publish(func(state room.State) {
		if !d.StillPresent {
			s.sendPresence(r.Key(), state)
		}
		if d.CursorCleared {
			s.sendCursors(r.Key(), state)
		}
		if len(d.Released) > 0 {
			s.sendLocks(r.Key(), state)
		}
	})
}

func (s *service) publishCursors(r *room.Room) {
	r.Publish(func(state room.State) { s.sendCursors(r.Key(), state) })
}

func (s *service) publishLocks(r *room.Room) {
	r.Publish(func(state room.State) { s.sendLocks(r.Key(), state) })
}

func (s *service) sendPresence(key string, state room.State) {
	s.registry.broadcast(presenceMessage{
		Type:       "presence",
		CampaignID: key,
		Revision:   state.Revision,
		Users:      state.Presence,
		Timestamp:  s.timestamp(),
	}, inRoom(key))
}

func (s *service) sendCursors(key string, state room.State) {
	s.registry.broadcast(cursorStateMessage{
		Type:       "cursor_state",
		CampaignID: key,
		Revision:   state.Revision,
		Cursors:    state.Cursors,
		Timestamp:  s.timestamp(),
	}, inRoom(key))
}

func (s *service) sendLocks(key string, state room.State) {
	s.registry.broadcast(lockStateMessage{
		Type:       "lock_state",
		CampaignID: key,
		Revision:   state.Revision,
		Locks:      state.Locks,
		Timestamp:  s.timestamp(),
	}, inRoom(key))
}

func inRoom(key string) func(*connection) bool {
	return func(c *connection) bool { return c.room() == key }
}

// shutdown refuses new sessions, closes every live one, and waits for their
// cleanup.
func (s *service) shutdown() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
