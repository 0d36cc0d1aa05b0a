package operation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/notdnd/internal/platform/errors"
	"github.com/louisbranch/notdnd/internal/platform/id"
	"github.com/louisbranch/notdnd/internal/services/game/storage"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
)

// DefaultChatHistory is how many chat lines a snapshot carries.
const DefaultChatHistory = 50

// Config wires an Executor.
type Config struct {
	Store storage.Store
	// Admins lists user ids allowed to run reset_all.
	Admins []string
	// ChatHistory bounds chat lines per snapshot. Zero means DefaultChatHistory.
	ChatHistory int
	Now         func() time.Time
	NewID       func() (string, error)
}

// handler applies one operation inside a write transaction.
type handler func(c *opContext) (any, error)

// opContext is the per-operation state handed to handlers.
type opContext struct {
	tx       storage.Tx
	actor    contract.Identity
	payload  json.RawMessage
	roomKey  string
	now      time.Time
	newID    func(prefix string) (string, error)
	isAdmin  bool
	campaign string
	reset    bool
}

// touch records the campaign whose version the operation bumps.
func (c *opContext) touch(campaignID string) {
	c.campaign = campaignID
}

// Executor applies campaign operations and renders snapshots.
type Executor struct {
	store       storage.Store
	admins      map[string]bool
	chatHistory int
	now         func() time.Time
	newID       func() (string, error)
	handlers    map[string]handler
}

var (
	_ contract.Executor         = (*Executor)(nil)
	_ contract.SnapshotProvider = (*Executor)(nil)
	_ contract.Authorizer       = (*Executor)(nil)
	_ contract.RoomResolver     = (*Executor)(nil)
)

// New builds an Executor with the built-in handler table.
func New(cfg Config) (*Executor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	e := &Executor{
		store:       cfg.Store,
		admins:      make(map[string]bool, len(cfg.Admins)),
		chatHistory: cfg.ChatHistory,
		now:         cfg.Now,
		newID:       cfg.NewID,
	}
	for _, admin := range cfg.Admins {
		if admin = strings.TrimSpace(admin); admin != "" {
			e.admins[admin] = true
		}
	}
	if e.chatHistory <= 0 {
		e.chatHistory = DefaultChatHistory
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = id.NewID
	}
	e.handlers = map[string]handler{
		"create_campaign":     createCampaign,
		"select_campaign":     selectCampaign,
		"add_campaign_member": addCampaignMember,
		"upsert_map":          upsertMap,
		"add_token":           addToken,
		"set_token_position":  setTokenPosition,
		"toggle_fog_cell":     toggleFogCell,
		"push_chat_line":      pushChatLine,
		"reset_all":           resetAll,
	}
	return e, nil
}

// Operations lists registered operation names.
func (e *Executor) Operations() []string {
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	return names
}

// Execute applies op in one transaction. The version precondition, the
// handler, and the version bump commit together or not at all.
func (e *Executor) Execute(ctx context.Context, op contract.Operation) (contract.Result, error) {
	if strings.TrimSpace(op.Actor.UserID) == "" {
		return contract.Result{}, apperrors.New(apperrors.CodeUnauthorized, "authentication required")
	}
	h, ok := e.handlers[op.Name]
	if !ok {
		return contract.Result{}, apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("unknown operation %q", op.Name))
	}

	var result contract.Result
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		now := e.now()
		if err := tx.UpsertUser(storage.User{
			ID:          op.Actor.UserID,
			DisplayName: op.Actor.DisplayName,
			Email:       op.Actor.Email,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		if err := assertExpectedVersion(tx, op.ExpectedVersion); err != nil {
			return err
		}

		c := &opContext{
			tx:      tx,
			actor:   op.Actor,
			payload: op.Payload,
			roomKey: op.RoomKey,
			now:     now,
			newID:   e.prefixedID,
			isAdmin: e.admins[op.Actor.UserID],
		}
		value, err := h(c)
		if err != nil {
			return err
		}

		result = contract.Result{Value: value, RoomKey: c.campaign, Reset: c.reset}
		if c.reset {
			return nil
		}
		versions, err := tx.BumpVersion(c.campaign)
		if err != nil {
			return err
		}
		result.Versions = contract.Versions{Global: versions.Global, Room: versions.Campaign}
		return nil
	})
	if err != nil {
		return contract.Result{}, err
	}
	return result, nil
}

// RoomFor names the campaign op will touch. A payload mapId wins, because
// map-scoped handlers act on the map's campaign whatever else the payload
// says; otherwise the payload campaignId is used. Operations naming neither,
// or naming an unknown map, resolve to "" and are left for Execute to judge.
func (e *Executor) RoomFor(ctx context.Context, op contract.Operation) (string, error) {
	var ref struct {
		CampaignID string `json:"campaignId"`
		MapID      string `json:"mapId"`
	}
	if err := json.Unmarshal(op.Payload, &ref); err != nil {
		return "", nil
	}
	if strings.TrimSpace(ref.MapID) == "" {
		return strings.TrimSpace(ref.CampaignID), nil
	}

	var campaignID string
	err := e.store.View(ctx, func(tx storage.Tx) error {
		m, err := loadMap(tx, ref.MapID)
		if err != nil {
			return err
		}
		campaignID = m.CampaignID
		return nil
	})
	if apperrors.CodeOf(err) == apperrors.CodeNotFound {
		return "", nil
	}
	return campaignID, err
}

func (e *Executor) prefixedID(prefix string) (string, error) {
	raw, err := e.newID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return prefix + "_" + raw, nil
}

// assertExpectedVersion rejects the operation when expected is set and
// differs from the committed global version.
func assertExpectedVersion(tx storage.Tx, expected *int64) error {
	if expected == nil {
		return nil
	}
	current, err := tx.GlobalVersion()
	if err != nil {
		return err
	}
	if *expected != current {
		return apperrors.WithDetails(apperrors.CodeVersionConflict, "state version conflict", map[string]any{
			"expectedVersion": *expected,
			"currentVersion":  current,
		})
	}
	return nil
}

// decodePayload unmarshals the operation payload into dst. An empty payload
// leaves dst at its zero value.
func decodePayload(raw json.RawMessage, dst any) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.Wrap(apperrors.CodeBadRequest, "invalid operation payload", err)
	}
	return nil
}

// resolveCampaign picks the campaign an operation targets: the payload
// value, else the submitter's campaign room, else the actor's selection.
func resolveCampaign(c *opContext, fromPayload string) (string, error) {
	if campaignID := strings.TrimSpace(fromPayload); campaignID != "" {
		return campaignID, nil
	}
	if c.roomKey != "" && c.roomKey != contract.GlobalRoom {
		return c.roomKey, nil
	}
	campaigns, err := c.tx.ListCampaignsForUser(c.actor.UserID)
	if err != nil {
		return "", err
	}
	selected, err := selectedCampaign(c.tx, c.actor.UserID, campaigns)
	if err != nil {
		return "", err
	}
	if selected == "" {
		return "", apperrors.New(apperrors.CodeBadRequest, "no campaign selected")
	}
	return selected, nil
}

// selectedCampaign returns the user's stored selection when it is still
// visible, else the first visible campaign, else "".
func selectedCampaign(tx storage.Tx, userID string, visible []storage.Campaign) (string, error) {
	if len(visible) == 0 {
		return "", nil
	}
	pref, err := tx.SelectedCampaign(userID)
	if err != nil {
		return "", err
	}
	for _, campaign := range visible {
		if campaign.ID == pref {
			return pref, nil
		}
	}
	return visible[0].ID, nil
}

// loadMap returns the map or NOT_FOUND.
func loadMap(tx storage.Tx, mapID string) (storage.Map, error) {
	mapID = strings.TrimSpace(mapID)
	if mapID == "" {
		return storage.Map{}, apperrors.New(apperrors.CodeBadRequest, "mapId is required")
	}
	m, err := tx.GetMap(mapID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Map{}, apperrors.New(apperrors.CodeNotFound, "map not found")
	}
	return m, err
}
