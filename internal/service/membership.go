// Package service implements the membership rules on top of the stores.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/flotilla-app/flotilla/internal/metrics"
	"github.com/flotilla-app/flotilla/internal/models"
	"github.com/flotilla-app/flotilla/internal/storage"
	"github.com/flotilla-app/flotilla/internal/validation"
)

const (
	inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	inviteCodeLength   = 6
	maxCodeAttempts    = 10
)

var inviteCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// NormalizeInviteCode trims whitespace and uppercases a user-supplied invite
// code. Applied before every comparison and validation.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// MembershipService implements create/join/leave against the group store,
// enforcing the single-group invariant and invite-code uniqueness.
type MembershipService struct {
	groups storage.GroupStore
	log    *slog.Logger
}

// NewMembershipService creates a MembershipService.
func NewMembershipService(groups storage.GroupStore, log *slog.Logger) *MembershipService {
	return &MembershipService{groups: groups, log: log}
}

// CreateGroup creates a new group with the caller as sole member and a
// freshly generated unique invite code.
//
// The "already in a group" check is a lookup immediately before creation;
// two concurrent creates from the same user can both pass it. This is a
// known consistency gap, kept deliberate rather than papered over: closing
// it needs a storage-level unique constraint on membership.
func (s *MembershipService) CreateGroup(ctx context.Context, userID string, trip models.TripInfo) (*models.Group, error) {
	trip.TripName = strings.TrimSpace(trip.TripName)
	trip.Destination = strings.TrimSpace(trip.Destination)
	trip.Description = strings.TrimSpace(trip.Description)
	if err := validation.Struct(trip); err != nil {
		return nil, validationErrorf("%v", err)
	}

	existing, err := s.groups.GroupsWithMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check memberships: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: leave %q first", ErrAlreadyInGroup, existing[0].ID)
	}

	code, err := s.generateUniqueInviteCode(ctx)
	if err != nil {
		return nil, err
	}

	group := &models.Group{
		InviteCode: code,
		Members:    []string{userID},
		CreatedBy:  userID,
		TripInfo:   trip,
	}
	if err := s.groups.CreateGroup(ctx, group); err != nil {
		s.log.Error("CreateGroup failed", "user_id", userID, "error", err)
		return nil, err
	}

	metrics.GroupsCreated.Inc()
	s.log.Info("Group created",
		"group_id", group.ID,
		"invite_code", group.InviteCode,
		"created_by", userID,
	)
	return group, nil
}

// JoinGroup adds the user to the group matching the invite code. The code is
// normalized (trim + uppercase) before validation and lookup.
func (s *MembershipService) JoinGroup(ctx context.Context, inviteCode, userID string) (*models.Group, error) {
	code := NormalizeInviteCode(inviteCode)
	if !inviteCodePattern.MatchString(code) {
		return nil, validationErrorf("invite code must be %d letters or digits", inviteCodeLength)
	}

	group, err := s.groups.GetGroupByInviteCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("invite code %q: %w", code, ErrGroupNotFound)
		}
		return nil, err
	}

	if group.HasMember(userID) {
		return nil, ErrAlreadyMember
	}

	existing, err := s.groups.GroupsWithMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check memberships: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: leave %q first", ErrAlreadyInGroup, existing[0].ID)
	}

	added, err := s.groups.AddMember(ctx, group.ID, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	if !added {
		// Lost a race with an identical join; the outcome is the same.
		return nil, ErrAlreadyMember
	}

	group, err = s.groups.GetGroup(ctx, group.ID)
	if err != nil {
		return nil, err
	}

	metrics.GroupsJoined.Inc()
	s.log.Info("Group joined", "group_id", group.ID, "user_id", userID)
	return group, nil
}

// LeaveGroup removes the user from the group. A group left empty is kept
// around; its invite code stays reserved.
func (s *MembershipService) LeaveGroup(ctx context.Context, groupID, userID string) error {
	removed, err := s.groups.RemoveMember(ctx, groupID, userID)
	if err != nil {
		if isNotFound(err) {
			return ErrGroupNotFound
		}
		return err
	}
	if !removed {
		return ErrNotMember
	}

	metrics.GroupsLeft.Inc()
	s.log.Info("Group left", "group_id", groupID, "user_id", userID)
	return nil
}

// GetGroup retrieves a group by ID.
func (s *MembershipService) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return group, nil
}

func (s *MembershipService) generateUniqueInviteCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := randomInviteCode()
		exists, err := s.groups.InviteCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check invite code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

func randomInviteCode() string {
	b := make([]byte, inviteCodeLength)
	for i := range b {
		b[i] = inviteCodeAlphabet[rand.IntN(len(inviteCodeAlphabet))]
	}
	return string(b)
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, ErrGroupNotFound)
}
