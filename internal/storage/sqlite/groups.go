package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flotilla-app/flotilla/internal/models"
	"github.com/flotilla-app/flotilla/internal/storage"
)

// CreateGroup persists a new group with its initial member list in one
// transaction. ID and CreatedAt are generated if unset.
func (s *Store) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt == 0 {
		group.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transient("failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO groups (id, invite_code, created_by, created_at, trip_name, destination, start_date, end_date, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.InviteCode, group.CreatedBy, group.CreatedAt,
		group.TripName, group.Destination,
		nullable(group.StartDate), nullable(group.EndDate), nullable(group.Description),
	)
	if err != nil {
		return transient("failed to insert group", err)
	}

	for _, member := range group.Members {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO group_members (group_id, user_id) VALUES (?, ?)",
			group.ID, member,
		)
		if err != nil {
			return transient("failed to insert member", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return transient("failed to commit transaction", err)
	}

	s.bus.PublishGroupChanged(group.ID)
	return nil
}

// GetGroup retrieves a group and its ordered member list.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	return s.getGroup(ctx, "id = ?", groupID)
}

// GetGroupByInviteCode retrieves a group by its invite code.
func (s *Store) GetGroupByInviteCode(ctx context.Context, code string) (*models.Group, error) {
	return s.getGroup(ctx, "invite_code = ?", code)
}

func (s *Store) getGroup(ctx context.Context, where string, arg any) (*models.Group, error) {
	group := &models.Group{}
	var startDate, endDate, description sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, invite_code, created_by, created_at, trip_name, destination, start_date, end_date, description FROM groups WHERE "+where,
		arg,
	).Scan(&group.ID, &group.InviteCode, &group.CreatedBy, &group.CreatedAt,
		&group.TripName, &group.Destination, &startDate, &endDate, &description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, transient("failed to get group", err)
	}
	group.StartDate = startDate.String
	group.EndDate = endDate.String
	group.Description = description.String

	group.Members, err = s.members(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (s *Store) members(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM group_members WHERE group_id = ? ORDER BY seq",
		groupID,
	)
	if err != nil {
		return nil, transient("failed to get members", err)
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, transient("failed to scan member", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("failed to iterate members", err)
	}
	return members, nil
}

// InviteCodeExists reports whether any group holds the given code.
func (s *Store) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM groups WHERE invite_code = ?", code,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, transient("failed to check invite code", err)
	}
	return true, nil
}

// GroupsWithMember returns every group that lists userID as a member.
func (s *Store) GroupsWithMember(ctx context.Context, userID string) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT group_id FROM group_members WHERE user_id = ?", userID,
	)
	if err != nil {
		return nil, transient("failed to query memberships", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, transient("failed to scan membership", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("failed to iterate memberships", err)
	}

	groups := make([]*models.Group, 0, len(ids))
	for _, id := range ids {
		group, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// AddMember appends userID to the group as a single atomic set-add.
// INSERT OR IGNORE makes concurrent joins safe: one wins, the other is a
// no-op, and neither can lose a previously committed member.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) (bool, error) {
	if err := s.groupExists(ctx, groupID); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)",
		groupID, userID,
	)
	if err != nil {
		return false, transient("failed to add member", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, transient("failed to add member", err)
	}
	if n == 0 {
		return false, nil
	}

	s.bus.PublishGroupChanged(groupID)
	return true, nil
}

// RemoveMember removes userID from the group as a single atomic set-remove.
// An emptied group is deliberately kept so its invite code stays reserved.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) (bool, error) {
	if err := s.groupExists(ctx, groupID); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = ? AND user_id = ?",
		groupID, userID,
	)
	if err != nil {
		return false, transient("failed to remove member", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, transient("failed to remove member", err)
	}
	if n == 0 {
		return false, nil
	}

	s.bus.PublishGroupChanged(groupID)
	return true, nil
}

func (s *Store) groupExists(ctx context.Context, groupID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM groups WHERE id = ?", groupID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("group: %w", storage.ErrNotFound)
	}
	if err != nil {
		return transient("failed to check group", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
