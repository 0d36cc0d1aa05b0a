package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	apperrors "github.com/louisbranch/notdnd/internal/platform/errors"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
	"github.com/louisbranch/notdnd/internal/services/realtime/room"
)

// clientMessage is the closed set of control messages a client may send.
type clientMessage interface {
	clientMessage()
}

type joinCampaign struct {
	CampaignID string
}

type cursorUpdate struct {
	X, Y  int
	Label string
}

type lockAcquire struct {
	Resource string
}

type lockRelease struct {
	Resource string
}

type operationRequest struct {
	Op              string
	RequestID       string
	Payload         json.RawMessage
	ExpectedVersion *int64
	// Invalid is set when the request is addressable but unusable; the
	// gateway answers it with op_error instead of executing.
	Invalid error
}

func (joinCampaign) clientMessage()     {}
func (cursorUpdate) clientMessage()     {}
func (lockAcquire) clientMessage()      {}
func (lockRelease) clientMessage()      {}
func (operationRequest) clientMessage() {}

var errIgnoredMessage = errors.New("ignored client message")

// inboundEnvelope is the union of every client field; type selects which
// ones are read.
type inboundEnvelope struct {
	Type            string          `json:"type"`
	CampaignID      string          `json:"campaignId"`
	X               *float64        `json:"x"`
	Y               *float64        `json:"y"`
	Label           string          `json:"label"`
	Resource        string          `json:"resource"`
	Op              string          `json:"op"`
	RequestID       string          `json:"requestId"`
	Payload         json.RawMessage `json:"payload"`
	ExpectedVersion json.RawMessage `json:"expectedVersion"`
}

// parseClientMessage decodes one text frame. Malformed JSON, unknown types,
// and messages missing their required field all return an error; callers
// drop those silently.
func parseClientMessage(raw string) (clientMessage, error) {
	var env inboundEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}
	switch env.Type {
	case "join_campaign":
		campaignID := strings.TrimSpace(env.CampaignID)
		if campaignID == "" {
			return nil, errIgnoredMessage
		}
		return joinCampaign{CampaignID: campaignID}, nil
	case "cursor_update":
		return cursorUpdate{X: coordinate(env.X), Y: coordinate(env.Y), Label: env.Label}, nil
	case "lock_acquire", "lock_release":
		resource := strings.TrimSpace(env.Resource)
		if resource == "" {
			return nil, errIgnoredMessage
		}
		if env.Type == "lock_acquire" {
			return lockAcquire{Resource: resource}, nil
		}
		return lockRelease{Resource: resource}, nil
	case "op":
		op := strings.TrimSpace(env.Op)
		if op == "" {
			return nil, errIgnoredMessage
		}
		req := operationRequest{Op: op, RequestID: env.RequestID, Payload: env.Payload}
		if len(req.Payload) == 0 || string(req.Payload) == "null" {
			req.Payload = json.RawMessage("{}")
		}
		version, err := parseExpectedVersion(env.ExpectedVersion)
		if err != nil {
			req.Invalid = apperrors.Wrap(apperrors.CodeBadRequest, "expectedVersion must be an integer", err)
		}
		req.ExpectedVersion = version
		return req, nil
	default:
		return nil, errIgnoredMessage
	}
}

// parseExpectedVersion reads an optional version precondition. Integral
// numbers and numeric strings are accepted; anything else is an error.
func parseExpectedVersion(raw json.RawMessage) (*int64, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return nil, nil
	}
	if strings.HasPrefix(text, `"`) {
		var quoted string
		if err := json.Unmarshal(raw, &quoted); err != nil {
			return nil, err
		}
		text = strings.TrimSpace(quoted)
	}
	n := json.Number(text)
	if v, err := n.Int64(); err == nil {
		return &v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", text, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > maxExactVersion {
		return nil, fmt.Errorf("%q is not an integral version", text)
	}
	v := int64(f)
	return &v, nil
}

// maxExactVersion is the largest integer a float64 represents exactly.
const maxExactVersion = 1 << 53

func coordinate(v *float64) int {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return int(math.Round(*v))
}

// payloadCampaignID reads an optional top-level campaignId from an
// operation payload.
func payloadCampaignID(payload json.RawMessage) string {
	var ref struct {
		CampaignID any `json:"campaignId"`
	}
	if err := json.Unmarshal(payload, &ref); err != nil {
		return ""
	}
	switch v := ref.CampaignID.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}

// Server to client messages. Every message carries a unix-millisecond
// timestamp. Room state messages also carry the room revision they were
// copied at; a client keeps the highest revision it has seen.

type connectedMessage struct {
	Type       string            `json:"type"`
	ClientID   string            `json:"clientId"`
	CampaignID string            `json:"campaignId"`
	User       contract.Identity `json:"user"`
	Timestamp  int64             `json:"timestamp"`
}

type joinedMessage struct {
	Type       string `json:"type"`
	CampaignID string `json:"campaignId"`
	Timestamp  int64  `json:"timestamp"`
}

type joinDeniedMessage struct {
	Type       string `json:"type"`
	CampaignID string `json:"campaignId"`
	Reason     string `json:"reason"`
	Timestamp  int64  `json:"timestamp"`
}

type presenceMessage struct {
	Type       string              `json:"type"`
	CampaignID string              `json:"campaignId"`
	Revision   uint64              `json:"revision"`
	Users      []contract.Identity `json:"users"`
	Timestamp  int64               `json:"timestamp"`
}

type cursorStateMessage struct {
	Type       string        `json:"type"`
	CampaignID string        `json:"campaignId"`
	Revision   uint64        `json:"revision"`
	Cursors    []room.Cursor `json:"cursors"`
	Timestamp  int64         `json:"timestamp"`
}

type lockStateMessage struct {
	Type       string      `json:"type"`
	CampaignID string      `json:"campaignId"`
	Revision   uint64      `json:"revision"`
	Locks      []room.Lock `json:"locks"`
	Timestamp  int64       `json:"timestamp"`
}

type lockAcquireResultMessage struct {
	Type       string    `json:"type"`
	CampaignID string    `json:"campaignId"`
	Resource   string    `json:"resource"`
	OK         bool      `json:"ok"`
	Lock       room.Lock `json:"lock"`
	Timestamp  int64     `json:"timestamp"`
}

type lockReleaseResultMessage struct {
	Type       string `json:"type"`
	CampaignID string `json:"campaignId"`
	Resource   string `json:"resource"`
	OK         bool   `json:"ok"`
	Timestamp  int64  `json:"timestamp"`
}

type opAppliedMessage struct {
	Type       string            `json:"type"`
	Op         string            `json:"op"`
	RequestID  string            `json:"requestId,omitempty"`
	CampaignID string            `json:"campaignId"`
	Result     any               `json:"result"`
	Versions   contract.Versions `json:"versions"`
	Timestamp  int64             `json:"timestamp"`
}

type opErrorMessage struct {
	Type      string    `json:"type"`
	Op        string    `json:"op,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Error     wireError `json:"error"`
	Timestamp int64     `json:"timestamp"`
}

type wireError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

type syncStateMessage struct {
	Type       string            `json:"type"`
	CampaignID string            `json:"campaignId"`
	Reason     string            `json:"reason"`
	Op         string            `json:"op,omitempty"`
	Versions   contract.Versions `json:"versions"`
	State      any               `json:"state"`
	Timestamp  int64             `json:"timestamp"`
}

func toWireError(err *apperrors.Error) wireError {
	return wireError{
		Code:      string(err.Code),
		Message:   err.Message,
		Retryable: err.Code.Retryable(),
		Details:   err.Details,
	}
}
