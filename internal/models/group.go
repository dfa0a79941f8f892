package models

// Group represents a travel group whose members share their live location.
// A user belongs to at most one group at a time; that rule is enforced by
// MembershipService, not by this type.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string `json:"id"`

	// InviteCode is the 6-character [A-Z0-9] token used to join the group.
	// Unique across all groups, immutable once assigned.
	InviteCode string `json:"invite_code"`

	// Members is the ordered list of member user IDs. Mutated only by
	// join (append) and leave (remove).
	Members []string `json:"members"`

	// CreatedBy is the user ID of the group creator.
	CreatedBy string `json:"created_by"`

	// CreatedAt is the Unix timestamp when the group was created.
	CreatedAt int64 `json:"created_at"`

	TripInfo
}

// TripInfo holds the free-form trip metadata attached to a group at creation.
// TripName and Destination are required; the rest is optional.
type TripInfo struct {
	TripName    string `json:"trip_name" validate:"required"`
	Destination string `json:"destination" validate:"required"`
	StartDate   string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate     string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Description string `json:"description,omitempty"`
}

// HasMember reports whether userID is in the group's member list.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Others returns the member IDs excluding selfID, preserving order.
func (g *Group) Others(selfID string) []string {
	others := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		if m != selfID {
			others = append(others, m)
		}
	}
	return others
}
