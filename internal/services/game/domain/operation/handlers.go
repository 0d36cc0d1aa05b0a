package operation

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"

	apperrors "github.com/louisbranch/notdnd/internal/platform/errors"
	"github.com/louisbranch/notdnd/internal/services/game/storage"
)

const (
	defaultMapSize    = 10
	maxMapSize        = 500
	maxChatTextRunes  = 2000
	defaultTokenName  = "Token"
	defaultCampaign   = "Unnamed Campaign"
	defaultSetting    = "Unknown Setting"
	defaultMapName    = "Untitled Map"
	defaultMemberRole = storage.RoleViewer
)

// cleanText trims and NFC-normalises user-supplied text.
func cleanText(value string) string {
	return strings.TrimSpace(norm.NFC.String(value))
}

func createCampaign(c *opContext) (any, error) {
	var p struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Setting string `json:"setting"`
		Status  string `json:"status"`
	}
	if err := decodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	campaignID := strings.TrimSpace(p.ID)
	if campaignID == "" {
		var err error
		if campaignID, err = c.newID("cmp"); err != nil {
			return nil, err
		}
	}
	name := cleanText(p.Name)
	if name == "" {
		name = defaultCampaign
	}
	setting := cleanText(p.Setting)
	if setting == "" {
		setting = defaultSetting
	}

	err := c.tx.CreateCampaign(storage.Campaign{
		ID:        campaignID,
		Name:      name,
		Setting:   setting,
		Status:    cleanText(p.Status),
		CreatedAt: c.now,
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, apperrors.New(apperrors.CodeBadRequest, "campaign already exists")
	}
	if err != nil {
		return nil, err
	}
	if err := c.tx.PutMember(storage.Member{CampaignID: campaignID, UserID: c.actor.UserID, Role: storage.RoleOwner, AddedAt: c.now}); err != nil {
		return nil, err
	}
	if err := c.tx.SetSelectedCampaign(c.actor.UserID, campaignID); err != nil {
		return nil, err
	}
	c.touch(campaignID)
	return map[string]any{"id": campaignID}, nil
}

func selectCampaign(c *opContext) (any, error) {
	var p struct {
		CampaignID string `json:"campaignId"`
	}
	if err := decodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	campaignID := strings.TrimSpace(p.CampaignID)
	if campaignID == "" {
		return nil, apperrors.New(apperrors.CodeBadRequest, "campaignId is required")
	}
	if _, err := requireCapability(c.tx, c.actor.UserID, campaignID, capabilityRead); err != nil {
		return nil, err
	}
	if err := c.tx.SetSelectedCampaign(c.actor.UserID, campaignID); err != nil {
		return nil, err
	}
	c.touch(campaignID)
	return map[string]any{"campaignId": campaignID}, nil
}

func addCampaignMember(c *opContext) (any, error) {
	var p struct {
		CampaignID string `json:"campaignId"`
		Email      string `json:"email"`
		Role       string `json:"role"`
	}
	if err := decodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	campaignID, err := resolveCampaign(c, p.CampaignID)
	if err != nil {
		return nil, err
	}
	if _, err := requireCapability(c.tx, c.actor.UserID, campaignID, capabilityManage); err != nil {
		return nil, err
	}
	role := strings.ToLower(strings.TrimSpace(p.Role))
	if role == "" {
		role = defaultMemberRole
	}
	if !validRole(role) {
		return nil, apperrors.New(apperrors.CodeBadRequest, "invalid role")
	}
	user, err := c.tx.GetUserByEmail(p.Email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "user with that email does not exist")
	}
	if err != nil {
		return nil, err
	}
	if err := c.tx.PutMember(storage.Member{CampaignID: campaignID, UserID: user.ID, Role: role, AddedAt: c.now}); err != nil {
		return nil, err
	}
	c.touch(campaignID)
	return map[string]any{
		"campaignId": campaignID,
		"role":       role,
		"user":       userView{ID: user.ID, DisplayName: user.DisplayName, Email: user.Email},
	}, nil
}

func upsertMap(c *opContext) (any, error) {
	var p struct {
		ID              string  `json:"id"`
		CampaignID      string  `json:"campaignId"`
		Name            string  `json:"name"`
		Width           int     `json:"width"`
		Height          int     `json:"height"`
		FogEnabled      *bool   `json:"fogEnabled"`
		DynamicLighting *bool   `json:"dynamicLighting"`
		ImageURL        *string `json:"imageUrl"`
	}
	if err := decodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	campaignID, err := resolveCampaign(c, p.CampaignID)
	if err != nil {
		return nil, err
	}
	if _, err := requireCapability(c.tx, c.actor.UserID, campaignID, capabilityWrite); err != nil {
		return nil, err
	}
	if p.Width < 0 || p.Height < 0 || p.Width > maxMapSize || p.Height > maxMapSize {
		return nil, apperrors.New(apperrors.CodeBadRequest, "map dimensions out of range")
	}

	mapID := strings.TrimSpace(p.ID)
	m := storage.Map{
		ID:         mapID,
		CampaignID: campaignID,
		Name:       defaultMapName,
		Width:      defaultMapSize,
		Height:     defaultMapSize,
		CreatedAt:  c.now,
	}
	if mapID == "" {
		if m.ID, err = c.newID("map"); err != nil {
			return nil, err
		}
	} else {
		existing, err := c.tx.GetMap(mapID)
		switch {
		case err == nil:
			if existing.CampaignID != campaignID {
				return nil, apperrors.New(apperrors.CodeNotFound, "map not found for campaign")
			}
			m = existing
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
	}

	if name := cleanText(p.Name); name != "" {
		m.Name = name
	}
	if p.Width > 0 {
		m.Width = p.Width
	}
	if p.Height > 0 {
		m.Height = p.Height
	}
	if p.FogEnabled != nil {
		m.FogEnabled = *p.FogEnabled
	}
	if p.DynamicLighting != nil {
		m.DynamicLighting = *p.DynamicLighting
	}
	if p.ImageURL != nil {
		m.ImageURL = strings.TrimSpace(*p.ImageURL)
	}
	if err := c.tx.PutMap(m); err != nil {
		return nil, err
	}
	c.touch(campaignID)
	return map[string]any{"id": m.ID}, nil
}

func addToken(c *opContext) (any, error) {
	var p struct {
		MapID  string `json:"mapId"`
		ID     string `json:"id"`
		Name   string `json:"name"`
		X      int    `json:"x"`
		Y      int    `json:"y"`
		Color  string `json:"color"`
		UserID string `json:"userId"`
	}
	if err := decodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	m, err := loadMap(c.tx, p.MapID)
	if err != nil {
		return nil, err
	}
	if _, err := requireCapability(c.tx, c.actor.UserID, m.CampaignID, capabilityWrite); err != nil {
		return nil, err
	}
	if !inBounds(m, p.X, p.Y) {
		return nil, apperrors.New(apperrors.CodeBadRequest, "token position outside map")
	}
	tokenID := strings.TrimSpace(p.ID)
	if tokenID == "" {
		if tokenID, err = c.newID("tok"); err != nil {
			return nil, err
		}
	}
	name := cleanText(p.Name)
	if name == "" {
		name = defaultTokenName
	}
	if err := c.tx.PutToken(storage.Token{
		ID:     tokenID,
		MapID:  m.ID,
		Name:   name,
		X:      p.X,
		Y:      p.Y,
		Color:  strings.TrimSpace(p.Color),
		UserID: strings.TrimSpace(p.UserID),
	}); err != nil {
		return nil, err
	}
	c.touch(m.CampaignID)
	return map[string]any{"mapId": m.ID, "tokenId": tokenID}, nil
}

func setTokenPosition(c *opContext) (any, error) {
	var p struct {
		MapID   string `json:"mapId"`
		TokenID string `json:"tokenId"`
		X       int    `json:"x"`
		Y       int    `json:"y"`
	}
	if err := decodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.MapID) == "" || strings.TrimSpace(p.TokenID) == "" {
		return nil, apperrors.New(apperrors.CodeBadRequest, "mapId and tokenId are required")
	}
	m, err := loadMap(c.tx, p.MapID)
	if err != nil {
		return nil, err
	}
	if _, err := requireCapability(c.tx, c.actor.UserID, m.CampaignID, capabilityPlay); err != nil {
		return nil, err
	}
	token, err := c.tx.GetToken(m.ID, strings.TrimSpace(p.TokenID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "token not found")
	}
	if err != nil {
		return nil, err
	}
	if !inBounds(m, p.X, p.Y) {
		return nil, apperrors.New(apperrors.CodeBadRequest, "token position outside map")
	}
	token.X, token.Y = p.X, p.Y
	if err := c.tx.PutToken(token); err != nil {
		return nil, err
	}
	c.touch(m.CampaignID)
	return map[string]any{"mapId": m.ID, "tokenId": token.ID}, nil
}

func toggleFogCell(c *opContext) (any, error) {
	var p struct {
		MapID    string `json:"mapId"`
		X        *int   `json:"x"`
		Y        *int   `json:"y"`
		Revealed *bool  `json:"revealed"`
	}
	if err := decodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	m, err := loadMap(c.tx, p.MapID)
	if err != nil {
		return nil, err
	}
	if _, err := requireCapability(c.tx, c.actor.UserID, m.CampaignID, capabilityWrite); err != nil {
		return nil, err
	}
	if p.X == nil || p.Y == nil {
		return nil, apperrors.New(apperrors.CodeBadRequest, "x and y are required")
	}
	x, y := *p.X, *p.Y
	if !inBounds(m, x, y) {
		return nil, apperrors.New(apperrors.CodeBadRequest, "cell outside map")
	}
	var revealed bool
	if p.Revealed != nil {
		revealed = *p.Revealed
	} else {
		current, err := c.tx.FogRevealed(m.ID, x, y)
		if err != nil {
			return nil, err
		}
		revealed = !current
	}
	if err := c.tx.SetFog(m.ID, x, y, revealed); err != nil {
		return nil, err
	}
	c.touch(m.CampaignID)
	return map[string]any{"mapId": m.ID, "x": x, "y": y, "revealed": revealed}, nil
}

func pushChatLine(c *opContext) (any, error) {
	var p struct {
		CampaignID string `json:"campaignId"`
		ID         string `json:"id"`
		Speaker    string `json:"speaker"`
		Text       string `json:"text"`
	}
	if err := decodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	campaignID, err := resolveCampaign(c, p.CampaignID)
	if err != nil {
		return nil, err
	}
	if _, err := requireCapability(c.tx, c.actor.UserID, campaignID, capabilityPlay); err != nil {
		return nil, err
	}
	text := cleanText(p.Text)
	if text == "" {
		return nil, apperrors.New(apperrors.CodeBadRequest, "text is required")
	}
	if len([]rune(text)) > maxChatTextRunes {
		return nil, apperrors.New(apperrors.CodeBadRequest, "text is too long")
	}
	speaker := cleanText(p.Speaker)
	if speaker == "" {
		speaker = c.actor.DisplayName
	}
	lineID := strings.TrimSpace(p.ID)
	if lineID == "" {
		if lineID, err = c.newID("chat"); err != nil {
			return nil, err
		}
	}
	err = c.tx.AppendChat(storage.ChatLine{
		ID:         lineID,
		CampaignID: campaignID,
		Speaker:    speaker,
		Text:       text,
		CreatedAt:  c.now,
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, apperrors.New(apperrors.CodeBadRequest, "chat line already exists")
	}
	if err != nil {
		return nil, err
	}
	c.touch(campaignID)
	return map[string]any{"id": lineID}, nil
}

func resetAll(c *opContext) (any, error) {
	if !c.isAdmin {
		return nil, apperrors.New(apperrors.CodeForbidden, "admin access required for reset_all")
	}
	if err := c.tx.Reset(); err != nil {
		return nil, err
	}
	c.reset = true
	return map[string]any{"ok": true}, nil
}

func inBounds(m storage.Map, x, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}
