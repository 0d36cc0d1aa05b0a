package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/notdnd/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/notdnd/internal/services/game/storage"
	"github.com/louisbranch/notdnd/internal/services/game/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const globalScope = "global"

// Store persists campaign state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ storage.Store        = (*Store)(nil)
	_ storage.SessionStore = (*Store)(nil)
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// Open opens a SQLite campaign store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Writers serialize anyway; one connection keeps version bumps ordered.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Update runs fn in a read-write transaction. The transaction commits only
// when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, fn)
}

// View runs fn in a transaction for reads. Writes made by fn are committed
// too, so callers keep View for lookups.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, fn)
}

func (s *Store) run(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&tx{ctx: ctx, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type tx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *tx) exec(query string, args ...any) error {
	_, err := t.tx.ExecContext(t.ctx, query, args...)
	return err
}

func (t *tx) version(scope string) (int64, error) {
	var version int64
	err := t.tx.QueryRowContext(t.ctx, `SELECT version FROM state_versions WHERE scope = ?`, scope).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version %q: %w", scope, err)
	}
	return version, nil
}

func (t *tx) bump(scope string) (int64, error) {
	var version int64
	err := t.tx.QueryRowContext(t.ctx, `
INSERT INTO state_versions (scope, version) VALUES (?, 1)
ON CONFLICT(scope) DO UPDATE SET version = version + 1
RETURNING version`, scope).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("bump version %q: %w", scope, err)
	}
	return version, nil
}

func campaignScope(campaignID string) string {
	return "campaign:" + campaignID
}

func (t *tx) GlobalVersion() (int64, error) {
	return t.version(globalScope)
}

func (t *tx) CampaignVersion(campaignID string) (int64, error) {
	return t.version(campaignScope(campaignID))
}

func (t *tx) BumpVersion(campaignID string) (storage.Versions, error) {
	global, err := t.bump(globalScope)
	if err != nil {
		return storage.Versions{}, err
	}
	versions := storage.Versions{Global: global}
	if campaignID == "" {
		return versions, nil
	}
	versions.Campaign, err = t.bump(campaignScope(campaignID))
	if err != nil {
		return storage.Versions{}, err
	}
	return versions, nil
}

func (t *tx) UpsertUser(user storage.User) error {
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := t.exec(`
INSERT INTO users (id, display_name, email, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    display_name = excluded.display_name,
    email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END`,
		userID, strings.TrimSpace(user.DisplayName), strings.ToLower(strings.TrimSpace(user.Email)), toMillis(createdAt))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (t *tx) GetUser(userID string) (storage.User, error) {
	return t.scanUser(`SELECT id, display_name, email, created_at FROM users WHERE id = ?`, strings.TrimSpace(userID))
}

func (t *tx) GetUserByEmail(email string) (storage.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return storage.User{}, storage.ErrNotFound
	}
	return t.scanUser(`SELECT id, display_name, email, created_at FROM users WHERE email = ? ORDER BY created_at LIMIT 1`, email)
}

func (t *tx) scanUser(query string, arg any) (storage.User, error) {
	var (
		user      storage.User
		createdAt int64
	)
	err := t.tx.QueryRowContext(t.ctx, query, arg).Scan(&user.ID, &user.DisplayName, &user.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

func (t *tx) CreateCampaign(campaign storage.Campaign) error {
	campaignID := strings.TrimSpace(campaign.ID)
	name := strings.TrimSpace(campaign.Name)
	if campaignID == "" {
		return fmt.Errorf("campaign id is required")
	}
	if name == "" {
		return fmt.Errorf("campaign name is required")
	}
	status := strings.TrimSpace(campaign.Status)
	if status == "" {
		status = "Prep"
	}
	err := t.exec(`INSERT INTO campaigns (id, name, setting, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		campaignID, name, strings.TrimSpace(campaign.Setting), status, toMillis(campaign.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (t *tx) GetCampaign(campaignID string) (storage.Campaign, error) {
	var (
		campaign  storage.Campaign
		createdAt int64
	)
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT id, name, setting, status, created_at FROM campaigns WHERE id = ?`, strings.TrimSpace(campaignID),
	).Scan(&campaign.ID, &campaign.Name, &campaign.Setting, &campaign.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Campaign{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	campaign.CreatedAt = fromMillis(createdAt)
	return campaign, nil
}

func (t *tx) ListCampaignsForUser(userID string) ([]storage.Campaign, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
SELECT c.id, c.name, c.setting, c.status, c.created_at
FROM campaigns c
JOIN campaign_members m ON m.campaign_id = c.id
WHERE m.user_id = ?
ORDER BY c.created_at, c.id`, strings.TrimSpace(userID))
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := make([]storage.Campaign, 0)
	for rows.Next() {
		var (
			campaign  storage.Campaign
			createdAt int64
		)
		if err := rows.Scan(&campaign.ID, &campaign.Name, &campaign.Setting, &campaign.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaign.CreatedAt = fromMillis(createdAt)
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return campaigns, nil
}

func (t *tx) PutMember(member storage.Member) error {
	if strings.TrimSpace(member.CampaignID) == "" || strings.TrimSpace(member.UserID) == "" {
		return fmt.Errorf("campaign id and user id are required")
	}
	if strings.TrimSpace(member.Role) == "" {
		return fmt.Errorf("member role is required")
	}
	err := t.exec(`
INSERT INTO campaign_members (campaign_id, user_id, role, added_at) VALUES (?, ?, ?, ?)
ON CONFLICT(campaign_id, user_id) DO UPDATE SET role = excluded.role`,
		member.CampaignID, member.UserID, member.Role, toMillis(member.AddedAt))
	if err != nil {
		return fmt.Errorf("put member: %w", err)
	}
	return nil
}

func (t *tx) MemberRole(campaignID, userID string) (string, error) {
	var role string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT role FROM campaign_members WHERE campaign_id = ? AND user_id = ?`, campaignID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get member role: %w", err)
	}
	return role, nil
}

func (t *tx) ListMembers(campaignID string) ([]storage.Member, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
SELECT campaign_id, user_id, role, added_at FROM campaign_members
WHERE campaign_id = ? ORDER BY added_at, user_id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]storage.Member, 0)
	for rows.Next() {
		var (
			member  storage.Member
			addedAt int64
		)
		if err := rows.Scan(&member.CampaignID, &member.UserID, &member.Role, &addedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		member.AddedAt = fromMillis(addedAt)
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (t *tx) SetSelectedCampaign(userID, campaignID string) error {
	err := t.exec(`
INSERT INTO user_prefs (user_id, selected_campaign_id) VALUES (?, ?)
ON CONFLICT(user_id) DO UPDATE SET selected_campaign_id = excluded.selected_campaign_id`,
		userID, campaignID)
	if err != nil {
		return fmt.Errorf("set selected campaign: %w", err)
	}
	return nil
}

func (t *tx) SelectedCampaign(userID string) (string, error) {
	var campaignID string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT selected_campaign_id FROM user_prefs WHERE user_id = ?`, userID,
	).Scan(&campaignID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get selected campaign: %w", err)
	}
	return campaignID, nil
}

func (t *tx) PutMap(m storage.Map) error {
	if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.CampaignID) == "" {
		return fmt.Errorf("map id and campaign id are required")
	}
	err := t.exec(`
INSERT INTO maps (id, campaign_id, name, width, height, fog_enabled, dynamic_lighting, image_url, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    width = excluded.width,
    height = excluded.height,
    fog_enabled = excluded.fog_enabled,
    dynamic_lighting = excluded.dynamic_lighting,
    image_url = excluded.image_url`,
		m.ID, m.CampaignID, m.Name, m.Width, m.Height,
		boolInt(m.FogEnabled), boolInt(m.DynamicLighting), m.ImageURL, toMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("put map: %w", err)
	}
	return nil
}

const mapColumns = `id, campaign_id, name, width, height, fog_enabled, dynamic_lighting, image_url, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMap(row rowScanner) (storage.Map, error) {
	var (
		m               storage.Map
		fog, lighting   int
		createdAtMillis int64
	)
	if err := row.Scan(&m.ID, &m.CampaignID, &m.Name, &m.Width, &m.Height, &fog, &lighting, &m.ImageURL, &createdAtMillis); err != nil {
		return storage.Map{}, err
	}
	m.FogEnabled = fog != 0
	m.DynamicLighting = lighting != 0
	m.CreatedAt = fromMillis(createdAtMillis)
	return m, nil
}

func (t *tx) GetMap(mapID string) (storage.Map, error) {
	m, err := scanMap(t.tx.QueryRowContext(t.ctx, `SELECT `+mapColumns+` FROM maps WHERE id = ?`, strings.TrimSpace(mapID)))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Map{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Map{}, fmt.Errorf("get map: %w", err)
	}
	return m, nil
}

func (t *tx) ListMaps(campaignID string) ([]storage.Map, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT `+mapColumns+` FROM maps WHERE campaign_id = ? ORDER BY created_at, id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list maps: %w", err)
	}
	defer rows.Close()

	maps := make([]storage.Map, 0)
	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan map: %w", err)
		}
		maps = append(maps, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate maps: %w", err)
	}
	return maps, nil
}

func (t *tx) PutToken(token storage.Token) error {
	if strings.TrimSpace(token.ID) == "" || strings.TrimSpace(token.MapID) == "" {
		return fmt.Errorf("token id and map id are required")
	}
	err := t.exec(`
INSERT INTO tokens (map_id, id, name, x, y, color, user_id) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(map_id, id) DO UPDATE SET
    name = excluded.name,
    x = excluded.x,
    y = excluded.y,
    color = excluded.color,
    user_id = excluded.user_id`,
		token.MapID, token.ID, token.Name, token.X, token.Y, token.Color, token.UserID)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

func (t *tx) GetToken(mapID, tokenID string) (storage.Token, error) {
	var token storage.Token
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT map_id, id, name, x, y, color, user_id FROM tokens WHERE map_id = ? AND id = ?`, mapID, tokenID,
	).Scan(&token.MapID, &token.ID, &token.Name, &token.X, &token.Y, &token.Color, &token.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Token{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Token{}, fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

func (t *tx) ListTokens(mapID string) ([]storage.Token, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT map_id, id, name, x, y, color, user_id FROM tokens WHERE map_id = ? ORDER BY rowid`, mapID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]storage.Token, 0)
	for rows.Next() {
		var token storage.Token
		if err := rows.Scan(&token.MapID, &token.ID, &token.Name, &token.X, &token.Y, &token.Color, &token.UserID); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

func (t *tx) FogRevealed(mapID string, x, y int) (bool, error) {
	var revealed int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT revealed FROM fog_cells WHERE map_id = ? AND x = ? AND y = ?`, mapID, x, y,
	).Scan(&revealed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get fog cell: %w", err)
	}
	return revealed != 0, nil
}

func (t *tx) SetFog(mapID string, x, y int, revealed bool) error {
	err := t.exec(`
INSERT INTO fog_cells (map_id, x, y, revealed) VALUES (?, ?, ?, ?)
ON CONFLICT(map_id, x, y) DO UPDATE SET revealed = excluded.revealed`,
		mapID, x, y, boolInt(revealed))
	if err != nil {
		return fmt.Errorf("set fog cell: %w", err)
	}
	return nil
}

func (t *tx) ListRevealed(mapID string) ([]storage.FogCell, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT map_id, x, y FROM fog_cells WHERE map_id = ? AND revealed = 1 ORDER BY y, x`, mapID)
	if err != nil {
		return nil, fmt.Errorf("list fog cells: %w", err)
	}
	defer rows.Close()

	cells := make([]storage.FogCell, 0)
	for rows.Next() {
		var cell storage.FogCell
		if err := rows.Scan(&cell.MapID, &cell.X, &cell.Y); err != nil {
			return nil, fmt.Errorf("scan fog cell: %w", err)
		}
		cells = append(cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fog cells: %w", err)
	}
	return cells, nil
}

func (t *tx) AppendChat(line storage.ChatLine) error {
	if strings.TrimSpace(line.ID) == "" || strings.TrimSpace(line.CampaignID) == "" {
		return fmt.Errorf("chat line id and campaign id are required")
	}
	err := t.exec(`INSERT INTO chat_lines (id, campaign_id, speaker, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		line.ID, line.CampaignID, line.Speaker, line.Text, toMillis(line.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("append chat line: %w", err)
	}
	return nil
}

// RecentChat returns up to limit most recent lines, oldest first.
func (t *tx) RecentChat(campaignID string, limit int) ([]storage.ChatLine, error) {
	if limit <= 0 {
		return []storage.ChatLine{}, nil
	}
	rows, err := t.tx.QueryContext(t.ctx, `
SELECT id, campaign_id, speaker, text, created_at FROM (
    SELECT seq, id, campaign_id, speaker, text, created_at FROM chat_lines
    WHERE campaign_id = ? ORDER BY seq DESC LIMIT ?
) ORDER BY seq`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat lines: %w", err)
	}
	defer rows.Close()

	lines := make([]storage.ChatLine, 0, limit)
	for rows.Next() {
		var (
			line      storage.ChatLine
			createdAt int64
		)
		if err := rows.Scan(&line.ID, &line.CampaignID, &line.Speaker, &line.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat line: %w", err)
		}
		line.CreatedAt = fromMillis(createdAt)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat lines: %w", err)
	}
	return lines, nil
}

func (t *tx) Reset() error {
	for _, table := range []string{"chat_lines", "fog_cells", "tokens", "maps", "campaign_members", "campaigns", "user_prefs", "state_versions"} {
		if err := t.exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// CreateSession stores one session token.
func (s *Store) CreateSession(ctx context.Context, session storage.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	token := strings.TrimSpace(session.Token)
	userID := strings.TrimSpace(session.UserID)
	if token == "" || userID == "" {
		return fmt.Errorf("session token and user id are required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO web_sessions (token, user_id, display_name, email, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		token, userID, session.DisplayName, session.Email, toMillis(session.CreatedAt), toMillis(session.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns one session by token, expired or not.
func (s *Store) GetSession(ctx context.Context, token string) (storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return storage.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Session{}, fmt.Errorf("storage is not configured")
	}
	var (
		session              storage.Session
		createdAt, expiresAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT token, user_id, display_name, email, created_at, expires_at
FROM web_sessions WHERE token = ?`, strings.TrimSpace(token),
	).Scan(&session.Token, &session.UserID, &session.DisplayName, &session.Email, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Session{}, fmt.Errorf("get session: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	return session, nil
}

// DeleteSession removes one session. Missing tokens are not an error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM web_sessions WHERE token = ?`, strings.TrimSpace(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PruneSessions deletes sessions that expired at or before now.
func (s *Store) PruneSessions(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM web_sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return result.RowsAffected()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
