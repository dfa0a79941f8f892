// Package session holds the device's single "active group" slot on top of a
// small key-value collaborator. At most one group is active per device; an
// absent value means "not in a group".
package session

import "fmt"

const currentGroupKey = "current_group_id"

// KV is the local key-value persistence collaborator. Get returns "" for an
// absent key.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Session wraps the current-group slot.
type Session struct {
	kv KV
}

// New creates a Session over the given KV.
func New(kv KV) *Session {
	return &Session{kv: kv}
}

// CurrentGroupID returns the active group id, or "" when not in a group.
func (s *Session) CurrentGroupID() (string, error) {
	id, err := s.kv.Get(currentGroupKey)
	if err != nil {
		return "", fmt.Errorf("failed to read current group: %w", err)
	}
	return id, nil
}

// SetCurrentGroupID records the active group.
func (s *Session) SetCurrentGroupID(groupID string) error {
	if groupID == "" {
		return s.ClearGroup()
	}
	if err := s.kv.Set(currentGroupKey, groupID); err != nil {
		return fmt.Errorf("failed to save current group: %w", err)
	}
	return nil
}

// ClearGroup empties the slot (used on leave).
func (s *Session) ClearGroup() error {
	if err := s.kv.Delete(currentGroupKey); err != nil {
		return fmt.Errorf("failed to clear current group: %w", err)
	}
	return nil
}
