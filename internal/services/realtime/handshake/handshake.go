// Package handshake validates realtime upgrade requests and switches an HTTP
// connection into framed mode.
package handshake

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// acceptGUID is the fixed value appended to the client key before hashing.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Handshake errors.
var (
	ErrMethodNotAllowed = errors.New("upgrade requires GET")
	ErrMissingUpgrade   = errors.New("missing Upgrade: websocket header")
	ErrMissingConnUpg   = errors.New("connection header does not request upgrade")
	ErrBadVersion       = errors.New("unsupported Sec-WebSocket-Version")
	ErrMissingKey       = errors.New("missing Sec-WebSocket-Key header")
	ErrNotHijackable    = errors.New("response writer does not support hijacking")
)

// Error pairs a handshake failure with the HTTP status used to refuse it.
type Error struct {
	Err    error
	Status int
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AcceptKey derives the Sec-WebSocket-Accept token for a client key.
func AcceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Validate checks the negotiation headers and returns the client key.
func Validate(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", &Error{Err: ErrMethodNotAllowed, Status: http.StatusMethodNotAllowed}
	}
	if !strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket") {
		return "", &Error{Err: ErrMissingUpgrade, Status: http.StatusBadRequest}
	}
	if !headerHasToken(r.Header, "Connection", "upgrade") {
		return "", &Error{Err: ErrMissingConnUpg, Status: http.StatusBadRequest}
	}
	if strings.TrimSpace(r.Header.Get("Sec-WebSocket-Version")) != "13" {
		return "", &Error{Err: ErrBadVersion, Status: http.StatusBadRequest}
	}
	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return "", &Error{Err: ErrMissingKey, Status: http.StatusBadRequest}
	}
	return key, nil
}

// Refuse answers an upgrade request with status and asks the client to drop
// the connection. The protocol is never switched.
func Refuse(w http.ResponseWriter, status int, message string) {
	if status == http.StatusMethodNotAllowed {
		w.Header().Set("Allow", http.MethodGet)
	}
	if status == http.StatusBadRequest {
		w.Header().Set("Sec-WebSocket-Version", "13")
	}
	w.Header().Set("Connection", "close")
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(status)
	}
	http.Error(w, message, status)
}

// Upgrade hijacks the connection and writes the switching-protocols response.
// It returns the raw socket plus any bytes the HTTP server had already read
// past the request headers; those bytes belong to the first frames.
func Upgrade(w http.ResponseWriter, key string, writeTimeout time.Duration) (net.Conn, []byte, error) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, &Error{Err: ErrNotHijackable, Status: http.StatusInternalServerError}
	}
	conn, brw, err := hijacker.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijack connection: %w", err)
	}
	// The server's read deadline must not leak into the framed session.
	_ = conn.SetDeadline(time.Time{})

	var leftover []byte
	if n := brw.Reader.Buffered(); n > 0 {
		peeked, _ := brw.Reader.Peek(n)
		leftover = append([]byte(nil), peeked...)
	}

	if writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	if _, err := conn.Write([]byte(switchingResponse(AcceptKey(key)))); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("write upgrade response: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return conn, leftover, nil
}

func switchingResponse(accept string) string {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString("Sec-WebSocket-Accept: ")
	sb.WriteString(accept)
	sb.WriteString("\r\n\r\n")
	return sb.String()
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, value := range h.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
