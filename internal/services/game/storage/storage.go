package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// Campaign member roles.
const (
	RoleOwner  = "owner"
	RoleGM     = "gm"
	RoleEditor = "editor"
	RolePlayer = "player"
	RoleViewer = "viewer"
)

// User is a known principal. Rows are upserted from authenticated identities.
type User struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

// Campaign is the unit of shared state and the key of a realtime room.
type Campaign struct {
	ID        string
	Name      string
	Setting   string
	Status    string
	CreatedAt time.Time
}

// Member grants one user a role in one campaign.
type Member struct {
	CampaignID string
	UserID     string
	Role       string
	AddedAt    time.Time
}

// Map is a battle map owned by a campaign.
type Map struct {
	ID              string
	CampaignID      string
	Name            string
	Width           int
	Height          int
	FogEnabled      bool
	DynamicLighting bool
	ImageURL        string
	CreatedAt       time.Time
}

// Token is a piece placed on a map.
type Token struct {
	ID     string
	MapID  string
	Name   string
	X      int
	Y      int
	Color  string
	UserID string
}

// FogCell is one revealed grid cell.
type FogCell struct {
	MapID string
	X     int
	Y     int
}

// ChatLine is one table chat entry.
type ChatLine struct {
	ID         string
	CampaignID string
	Speaker    string
	Text       string
	CreatedAt  time.Time
}

// Session is an opaque bearer token issued to a user.
type Session struct {
	Token       string
	UserID      string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Versions carries the global counter and one campaign counter.
type Versions struct {
	Global   int64
	Campaign int64
}

// Tx is one transactional view of campaign state. Every method runs inside
// the transaction that created it.
type Tx interface {
	GlobalVersion() (int64, error)
	CampaignVersion(campaignID string) (int64, error)
	// BumpVersion increments the global counter and, when campaignID is set,
	// that campaign's counter.
	BumpVersion(campaignID string) (Versions, error)

	UpsertUser(user User) error
	GetUser(userID string) (User, error)
	GetUserByEmail(email string) (User, error)

	CreateCampaign(campaign Campaign) error
	GetCampaign(campaignID string) (Campaign, error)
	ListCampaignsForUser(userID string) ([]Campaign, error)

	PutMember(member Member) error
	MemberRole(campaignID, userID string) (string, error)
	ListMembers(campaignID string) ([]Member, error)

	SetSelectedCampaign(userID, campaignID string) error
	SelectedCampaign(userID string) (string, error)

	PutMap(m Map) error
	GetMap(mapID string) (Map, error)
	ListMaps(campaignID string) ([]Map, error)

	PutToken(token Token) error
	GetToken(mapID, tokenID string) (Token, error)
	ListTokens(mapID string) ([]Token, error)

	FogRevealed(mapID string, x, y int) (bool, error)
	SetFog(mapID string, x, y int, revealed bool) error
	ListRevealed(mapID string) ([]FogCell, error)

	AppendChat(line ChatLine) error
	RecentChat(campaignID string, limit int) ([]ChatLine, error)

	// Reset clears all campaign state and versions. Users and sessions stay.
	Reset() error
}

// Store runs read-write and read-only transactions.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// SessionStore persists opaque session tokens.
type SessionStore interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, token string) (Session, error)
	DeleteSession(ctx context.Context, token string) error
	PruneSessions(ctx context.Context, now time.Time) (int64, error)
}
