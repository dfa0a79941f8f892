// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/flotilla-app/flotilla/internal/models"
)

// Store-level error kinds. Implementations wrap backend failures with one of
// these sentinels so callers can distinguish "retry later" from
// "misconfigured" without knowing the backend.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates a transient backend failure (network,
	// deadline, database locked). Generally retryable.
	ErrUnavailable = errors.New("store unavailable")

	// ErrPermissionDenied indicates the backend rejected the operation for
	// authorization reasons. Implies misconfiguration, not a retry path.
	ErrPermissionDenied = errors.New("store permission denied")
)

// GroupStore is the durable record of group membership and invite-code
// lookup. Member mutations are atomic at the store so concurrent joins or
// leaves on the same group cannot lose updates.
type GroupStore interface {
	// CreateGroup persists a new group. The group's ID and CreatedAt are
	// populated by the store if unset.
	CreateGroup(ctx context.Context, group *models.Group) error

	// GetGroup retrieves a group by ID. Returns ErrNotFound if absent.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// GetGroupByInviteCode retrieves a group by its invite code.
	// Returns ErrNotFound if no group has that code.
	GetGroupByInviteCode(ctx context.Context, code string) (*models.Group, error)

	// InviteCodeExists reports whether any group holds the given code.
	InviteCodeExists(ctx context.Context, code string) (bool, error)

	// GroupsWithMember returns every group that lists userID as a member.
	GroupsWithMember(ctx context.Context, userID string) ([]*models.Group, error)

	// AddMember appends userID to the group's member list as a single
	// atomic set-add. Returns false if the user was already a member,
	// ErrNotFound if the group does not exist.
	AddMember(ctx context.Context, groupID, userID string) (bool, error)

	// RemoveMember removes userID from the group's member list as a single
	// atomic set-remove. Returns false if the user was not a member,
	// ErrNotFound if the group does not exist. An emptied group is kept.
	RemoveMember(ctx context.Context, groupID, userID string) (bool, error)

	// WatchGroup delivers the current group snapshot immediately, then a
	// fresh snapshot after every change. A nil element means the group is
	// gone. Intermediate states may be coalesced. The channel closes when
	// ctx is done.
	WatchGroup(ctx context.Context, groupID string) (<-chan *models.Group, error)
}

// LocationStore is the durable record of each user's latest known position.
type LocationStore interface {
	// UpsertLocation writes the user's position with merge semantics:
	// optional attributes left nil keep their stored values. The store
	// assigns a monotonically non-decreasing timestamp and returns the
	// record as written. An empty groupID keeps the previous tag.
	UpsertLocation(ctx context.Context, userID string, pos models.Position, groupID string) (*models.LocationRecord, error)

	// GetLocation retrieves the user's latest record.
	// Returns ErrNotFound if the user has never published.
	GetLocation(ctx context.Context, userID string) (*models.LocationRecord, error)

	// LocationsByGroup returns all records tagged with the given group.
	LocationsByGroup(ctx context.Context, groupID string) ([]*models.LocationRecord, error)

	// WatchLocation delivers the user's current record immediately (nil if
	// absent), then a fresh record after every accepted write. Coalescing
	// is permitted. The channel closes when ctx is done.
	WatchLocation(ctx context.Context, userID string) (<-chan *models.LocationRecord, error)
}
