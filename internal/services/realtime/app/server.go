// Package app hosts the realtime synchronization process: the upgrade
// endpoint, the connection registry, per-connection dispatch, and the
// operation gateway.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/notdnd/internal/platform/errors"
	"github.com/louisbranch/notdnd/internal/platform/timeouts"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
	"github.com/louisbranch/notdnd/internal/services/realtime/handshake"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "notdnd-realtime"

// Config defines the inputs for the realtime transport boundary.
//
// Credential checks, room authorization, operation semantics, and state
// views are all delegated to the collaborators below.
type Config struct {
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	WriteTimeout      time.Duration

	LockTTL           time.Duration
	MessagesPerSecond float64
	MessageBurst      int
	MaxBufferedBytes  int
	// ProtectedOperations maps operation name to lock resource. Nil uses
	// DefaultProtectedOperations.
	ProtectedOperations map[string]string

	Authenticator contract.Authenticator
	Authorizer    contract.Authorizer
	Executor      contract.Executor
	Snapshots     contract.SnapshotProvider

	Now   func() time.Time
	NewID func() (string, error)
}

// Server hosts the realtime HTTP/upgrade process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	svc             *service
}

type healthResponse struct {
	OK                  bool     `json:"ok"`
	Service             string   `json:"service"`
	Timestamp           int64    `json:"timestamp"`
	RealtimeConnections int      `json:"realtimeConnections"`
	Rooms               []string `json:"rooms"`
	LockTTLMillis       int64    `json:"lockTtlMs"`
}

// NewServer builds a configured realtime server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	svc, err := newService(config)
	if err != nil {
		return nil, err
	}
	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           newHandler(svc),
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		svc: svc,
	}, nil
}

// Run creates and serves a realtime server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init realtime server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve realtime: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("realtime server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("realtime server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		s.svc.shutdown()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Handler exposes the routes for embedding in another server or a test.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Close releases server resources. Upgraded sockets are not tracked by the
// HTTP server, so they are closed here.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.svc.shutdown()
}

func newHandler(svc *service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{
			OK:                  true,
			Service:             ServiceName,
			Timestamp:           svc.timestamp(),
			RealtimeConnections: svc.registry.count(),
			Rooms:               svc.rooms.Keys(),
			LockTTLMillis:       svc.rooms.LockTTL().Milliseconds(),
		})
	})
	mux.HandleFunc("/ws", svc.handleUpgrade)
	return mux
}

// handleUpgrade negotiates a realtime session. Header validation, then
// authentication, then room authorization must all pass before the protocol
// switches; any refusal leaves nothing registered.
func (s *service) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	key, err := handshake.Validate(r)
	if err != nil {
		var hsErr *handshake.Error
		status := http.StatusBadRequest
		if errors.As(err, &hsErr) {
			status = hsErr.Status
		}
		handshake.Refuse(w, status, err.Error())
		return
	}

	query := r.URL.Query()
	token := strings.TrimSpace(query.Get("token"))
	roomKey := strings.TrimSpace(query.Get("campaignId"))
	if roomKey == "" {
		roomKey = contract.GlobalRoom
	}

	authCtx, cancel := context.WithTimeout(r.Context(), timeouts.AuthCall)
	defer cancel()

	identity, err := s.authn.Authenticate(authCtx, token)
	if err != nil || strings.TrimSpace(identity.UserID) == "" {
		if err != nil {
			log.Printf("realtime: upgrade unauthorized remote=%s err=%v", r.RemoteAddr, err)
		}
		handshake.Refuse(w, apperrors.CodeUnauthorized.HTTPStatus(), "authentication required")
		return
	}

	allowed, err := s.authz.CanJoin(authCtx, identity, roomKey)
	if err != nil {
		log.Printf("realtime: upgrade authorization failed user=%q room=%q err=%v", identity.UserID, roomKey, err)
		handshake.Refuse(w, http.StatusInternalServerError, "authorization unavailable")
		return
	}
	if !allowed {
		log.Printf("realtime: upgrade forbidden user=%q room=%q", identity.UserID, roomKey)
		handshake.Refuse(w, apperrors.CodeForbidden.HTTPStatus(), "forbidden")
		return
	}
	if !s.track() {
		handshake.Refuse(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	defer s.wg.Done()

	conn, leftover, err := handshake.Upgrade(w, key, s.writeTO)
	if err != nil {
		log.Printf("realtime: upgrade failed remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	c, err := s.attach(conn, identity, roomKey)
	if err != nil {
		log.Printf("realtime: register connection failed err=%v", err)
		_ = conn.Close()
		return
	}
	s.serve(c, leftover)
}
