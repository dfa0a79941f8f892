package models

// Position is a single fix as produced by a positioning sensor.
// Optional attributes are pointers so "not reported" survives the trip
// to storage, where merge semantics leave prior values untouched.
type Position struct {
	Latitude  float64  `json:"latitude" validate:"latitude"`
	Longitude float64  `json:"longitude" validate:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`

	// Timestamp is the device clock at sampling time, in Unix milliseconds.
	// The stored record carries a server-assigned timestamp instead.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// LocationRecord is the latest known position of one user. There is exactly
// one record per user, overwritten in place on each accepted publish.
type LocationRecord struct {
	UserID    string   `json:"user_id"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`

	// Timestamp is server-assigned, in Unix milliseconds, and never
	// decreases for a given user.
	Timestamp int64 `json:"timestamp"`

	// GroupID tags the record with the group that was active when it was
	// written, so read paths can narrow queries by group.
	GroupID string `json:"group_id,omitempty"`
}
