package operation

import (
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/notdnd/internal/platform/errors"
	"github.com/louisbranch/notdnd/internal/services/game/storage"
)

// capability is one class of campaign access.
type capability string

const (
	capabilityRead   capability = "read"
	capabilityWrite  capability = "write"
	capabilityPlay   capability = "play"
	capabilityManage capability = "manage members"
)

// policyTable maps each capability to the member roles that hold it.
var policyTable = map[capability]map[string]bool{
	capabilityRead: {
		storage.RoleOwner: true, storage.RoleGM: true, storage.RoleEditor: true,
		storage.RolePlayer: true, storage.RoleViewer: true,
	},
	capabilityWrite: {
		storage.RoleOwner: true, storage.RoleGM: true, storage.RoleEditor: true,
	},
	capabilityPlay: {
		storage.RoleOwner: true, storage.RoleGM: true, storage.RoleEditor: true, storage.RolePlayer: true,
	},
	capabilityManage: {
		storage.RoleOwner: true, storage.RoleGM: true,
	},
}

// allows reports whether role holds capability.
func allows(role string, c capability) bool {
	return policyTable[c][role]
}

// validRole reports whether role may be granted to a member.
func validRole(role string) bool {
	return allows(role, capabilityRead)
}

// requireCapability returns FORBIDDEN unless userID holds c in campaignID.
func requireCapability(tx storage.Tx, userID, campaignID string, c capability) (string, error) {
	role, err := tx.MemberRole(campaignID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", apperrors.New(apperrors.CodeForbidden, fmt.Sprintf("user does not have %s access to this campaign", c))
	}
	if err != nil {
		return "", fmt.Errorf("load member role: %w", err)
	}
	if !allows(role, c) {
		return "", apperrors.New(apperrors.CodeForbidden, fmt.Sprintf("user does not have %s access to this campaign", c))
	}
	return role, nil
}
