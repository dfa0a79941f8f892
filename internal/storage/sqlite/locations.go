package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flotilla-app/flotilla/internal/models"
	"github.com/flotilla-app/flotilla/internal/storage"
)

// UpsertLocation writes the user's latest position with merge semantics:
// optional attributes left nil keep their stored values, an empty groupID
// keeps the previous tag. The stored timestamp is server-assigned and never
// decreases for a given user.
func (s *Store) UpsertLocation(ctx context.Context, userID string, pos models.Position, groupID string) (*models.LocationRecord, error) {
	now := time.Now().UnixMilli()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (user_id, latitude, longitude, accuracy, altitude, heading, speed, updated_at, group_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			latitude   = excluded.latitude,
			longitude  = excluded.longitude,
			accuracy   = COALESCE(excluded.accuracy, locations.accuracy),
			altitude   = COALESCE(excluded.altitude, locations.altitude),
			heading    = COALESCE(excluded.heading, locations.heading),
			speed      = COALESCE(excluded.speed, locations.speed),
			updated_at = MAX(excluded.updated_at, locations.updated_at),
			group_id   = COALESCE(excluded.group_id, locations.group_id)`,
		userID, pos.Latitude, pos.Longitude,
		nullFloat(pos.Accuracy), nullFloat(pos.Altitude), nullFloat(pos.Heading), nullFloat(pos.Speed),
		now, nullable(groupID),
	)
	if err != nil {
		return nil, transient("failed to upsert location", err)
	}

	record, err := s.GetLocation(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.bus.PublishLocationChanged(userID)
	return record, nil
}

// GetLocation retrieves the user's latest record.
func (s *Store) GetLocation(ctx context.Context, userID string) (*models.LocationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT user_id, latitude, longitude, accuracy, altitude, heading, speed, updated_at, group_id FROM locations WHERE user_id = ?",
		userID,
	)
	record, err := scanLocation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("location: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, transient("failed to get location", err)
	}
	return record, nil
}

// LocationsByGroup returns all records tagged with the given group.
func (s *Store) LocationsByGroup(ctx context.Context, groupID string) ([]*models.LocationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, latitude, longitude, accuracy, altitude, heading, speed, updated_at, group_id FROM locations WHERE group_id = ?",
		groupID,
	)
	if err != nil {
		return nil, transient("failed to query locations", err)
	}
	defer rows.Close()

	var records []*models.LocationRecord
	for rows.Next() {
		record, err := scanLocation(rows.Scan)
		if err != nil {
			return nil, transient("failed to scan location", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("failed to iterate locations", err)
	}
	return records, nil
}

func scanLocation(scan func(dest ...any) error) (*models.LocationRecord, error) {
	record := &models.LocationRecord{}
	var accuracy, altitude, heading, speed sql.NullFloat64
	var groupID sql.NullString
	err := scan(&record.UserID, &record.Latitude, &record.Longitude,
		&accuracy, &altitude, &heading, &speed, &record.Timestamp, &groupID)
	if err != nil {
		return nil, err
	}
	record.Accuracy = floatPtr(accuracy)
	record.Altitude = floatPtr(altitude)
	record.Heading = floatPtr(heading)
	record.Speed = floatPtr(speed)
	record.GroupID = groupID.String
	return record, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
