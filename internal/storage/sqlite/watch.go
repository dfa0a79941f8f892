package sqlite

import (
	"context"
	"errors"

	"github.com/goccy/go-json"

	"github.com/flotilla-app/flotilla/internal/events"
	"github.com/flotilla-app/flotilla/internal/models"
	"github.com/flotilla-app/flotilla/internal/storage"
)

// WatchGroup delivers the current group snapshot immediately, then a fresh
// snapshot after every change event for this group. A nil element means the
// group is gone. Slow consumers see coalesced snapshots, never stale ones.
func (s *Store) WatchGroup(ctx context.Context, groupID string) (<-chan *models.Group, error) {
	msgs, err := s.bus.SubscribeGroups(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan *models.Group, 1)
	go func() {
		defer close(out)
		s.deliverGroup(ctx, groupID, out)
		for msg := range msgs {
			var ev events.GroupChanged
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				s.log.Error("Malformed group event", "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			if ev.GroupID != groupID {
				continue
			}
			s.deliverGroup(ctx, groupID, out)
		}
	}()
	return out, nil
}

func (s *Store) deliverGroup(ctx context.Context, groupID string, out chan *models.Group) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("Group watch re-read failed", "group_id", groupID, "error", err)
		return
	}
	sendLatest(ctx, out, group)
}

// WatchLocation delivers the user's current record immediately (nil if
// absent), then a fresh record after every accepted write.
func (s *Store) WatchLocation(ctx context.Context, userID string) (<-chan *models.LocationRecord, error) {
	msgs, err := s.bus.SubscribeLocations(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan *models.LocationRecord, 1)
	go func() {
		defer close(out)
		s.deliverLocation(ctx, userID, out)
		for msg := range msgs {
			var ev events.LocationChanged
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				s.log.Error("Malformed location event", "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			if ev.UserID != userID {
				continue
			}
			s.deliverLocation(ctx, userID, out)
		}
	}()
	return out, nil
}

func (s *Store) deliverLocation(ctx context.Context, userID string, out chan *models.LocationRecord) {
	record, err := s.GetLocation(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("Location watch re-read failed", "user_id", userID, "error", err)
		return
	}
	sendLatest(ctx, out, record)
}

// sendLatest offers v on a 1-buffered channel, displacing any undelivered
// older snapshot. Coalescing intermediate states is permitted by the watch
// contract; delivering a stale one is not.
func sendLatest[T any](ctx context.Context, ch chan *T, v *T) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
