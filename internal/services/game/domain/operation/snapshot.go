package operation

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/louisbranch/notdnd/internal/platform/errors"
	"github.com/louisbranch/notdnd/internal/services/game/storage"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
)

// State is one user's view of campaign state.
type State struct {
	User               userView       `json:"user"`
	Campaigns          []campaignView `json:"campaigns"`
	SelectedCampaignID string         `json:"selectedCampaignId"`
	// Campaign details the requested room, or the selected campaign when
	// the room is global.
	Campaign *CampaignState `json:"campaign,omitempty"`
}

// CampaignState is the detailed view of one readable campaign.
type CampaignState struct {
	campaignView
	Role          string                 `json:"role"`
	Members       []memberView           `json:"members"`
	Maps          []mapView              `json:"maps"`
	TokensByMap   map[string][]tokenView `json:"tokensByMap"`
	RevealedByMap map[string][]cellView  `json:"revealedCellsByMap"`
	Chat          []chatView             `json:"chatLog"`
}

type userView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

type campaignView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Setting   string `json:"setting"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

type memberView struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type mapView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	FogEnabled      bool   `json:"fogEnabled"`
	DynamicLighting bool   `json:"dynamicLighting"`
	ImageURL        string `json:"imageUrl"`
}

type tokenView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Color  string `json:"color,omitempty"`
	UserID string `json:"userId,omitempty"`
}

type cellView struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type chatView struct {
	ID        string `json:"id"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

func toCampaignView(c storage.Campaign) campaignView {
	return campaignView{ID: c.ID, Name: c.Name, Setting: c.Setting, Status: c.Status, CreatedAt: c.CreatedAt.UnixMilli()}
}

// Snapshot renders identity's view for roomKey. Campaign rooms the identity
// cannot read are FORBIDDEN.
func (e *Executor) Snapshot(ctx context.Context, identity contract.Identity, roomKey string) (contract.Snapshot, error) {
	var snap contract.Snapshot
	err := e.store.View(ctx, func(tx storage.Tx) error {
		global, err := tx.GlobalVersion()
		if err != nil {
			return err
		}
		campaigns, err := tx.ListCampaignsForUser(identity.UserID)
		if err != nil {
			return err
		}
		selected, err := selectedCampaign(tx, identity.UserID, campaigns)
		if err != nil {
			return err
		}

		state := State{
			User:               userView{ID: identity.UserID, DisplayName: identity.DisplayName, Email: identity.Email},
			Campaigns:          make([]campaignView, 0, len(campaigns)),
			SelectedCampaignID: selected,
		}
		for _, c := range campaigns {
			state.Campaigns = append(state.Campaigns, toCampaignView(c))
		}

		versions := contract.Versions{Global: global, Room: global}
		detailID := selected
		if roomKey != "" && roomKey != contract.GlobalRoom {
			detailID = roomKey
			if versions.Room, err = tx.CampaignVersion(roomKey); err != nil {
				return err
			}
		}
		if detailID != "" {
			detail, err := e.campaignState(tx, identity.UserID, detailID)
			if err != nil {
				return err
			}
			state.Campaign = detail
		}
		snap = contract.Snapshot{Versions: versions, State: state}
		return nil
	})
	if err != nil {
		return contract.Snapshot{}, err
	}
	return snap, nil
}

func (e *Executor) campaignState(tx storage.Tx, userID, campaignID string) (*CampaignState, error) {
	role, err := requireCapability(tx, userID, campaignID, capabilityRead)
	if err != nil {
		return nil, err
	}
	campaign, err := tx.GetCampaign(campaignID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "campaign not found")
	}
	if err != nil {
		return nil, err
	}

	members, err := tx.ListMembers(campaignID)
	if err != nil {
		return nil, err
	}
	maps, err := tx.ListMaps(campaignID)
	if err != nil {
		return nil, err
	}
	chat, err := tx.RecentChat(campaignID, e.chatHistory)
	if err != nil {
		return nil, err
	}

	state := &CampaignState{
		campaignView:  toCampaignView(campaign),
		Role:          role,
		Members:       make([]memberView, 0, len(members)),
		Maps:          make([]mapView, 0, len(maps)),
		TokensByMap:   make(map[string][]tokenView, len(maps)),
		RevealedByMap: make(map[string][]cellView, len(maps)),
		Chat:          make([]chatView, 0, len(chat)),
	}
	for _, m := range members {
		state.Members = append(state.Members, memberView{UserID: m.UserID, Role: m.Role})
	}
	for _, m := range maps {
		state.Maps = append(state.Maps, mapView{
			ID: m.ID, Name: m.Name, Width: m.Width, Height: m.Height,
			FogEnabled: m.FogEnabled, DynamicLighting: m.DynamicLighting, ImageURL: m.ImageURL,
		})
		tokens, err := tx.ListTokens(m.ID)
		if err != nil {
			return nil, err
		}
		views := make([]tokenView, 0, len(tokens))
		for _, t := range tokens {
			views = append(views, tokenView{ID: t.ID, Name: t.Name, X: t.X, Y: t.Y, Color: t.Color, UserID: t.UserID})
		}
		state.TokensByMap[m.ID] = views

		cells, err := tx.ListRevealed(m.ID)
		if err != nil {
			return nil, err
		}
		revealed := make([]cellView, 0, len(cells))
		for _, cell := range cells {
			revealed = append(revealed, cellView{X: cell.X, Y: cell.Y})
		}
		state.RevealedByMap[m.ID] = revealed
	}
	for _, line := range chat {
		state.Chat = append(state.Chat, chatView{ID: line.ID, Speaker: line.Speaker, Text: line.Text, CreatedAt: line.CreatedAt.UnixMilli()})
	}
	return state, nil
}

// CanJoin allows the global room for anyone and campaign rooms for members
// holding read access.
func (e *Executor) CanJoin(ctx context.Context, identity contract.Identity, roomKey string) (bool, error) {
	roomKey = strings.TrimSpace(roomKey)
	if roomKey == "" || roomKey == contract.GlobalRoom {
		return true, nil
	}
	allowed := false
	err := e.store.View(ctx, func(tx storage.Tx) error {
		role, err := tx.MemberRole(roomKey, identity.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		allowed = allows(role, capabilityRead)
		return nil
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}
