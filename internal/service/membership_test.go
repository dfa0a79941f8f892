package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"

	"github.com/flotilla-app/flotilla/internal/models"
	"github.com/flotilla-app/flotilla/internal/storage"
)

// fakeGroupStore is an in-memory GroupStore for exercising the membership
// rules without a database.
type fakeGroupStore struct {
	mu     sync.Mutex
	groups map[string]*models.Group
	nextID int

	// allCodesTaken makes every invite code look used.
	allCodesTaken bool
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{groups: map[string]*models.Group{}}
}

func (f *fakeGroupStore) CreateGroup(ctx context.Context, group *models.Group) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if group.ID == "" {
		f.nextID++
		group.ID = fmt.Sprintf("group-%d", f.nextID)
	}
	if group.CreatedAt == 0 {
		group.CreatedAt = 1700000000
	}
	copied := *group
	copied.Members = append([]string(nil), group.Members...)
	f.groups[group.ID] = &copied
	return nil
}

func (f *fakeGroupStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[groupID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *group
	copied.Members = append([]string(nil), group.Members...)
	return &copied, nil
}

func (f *fakeGroupStore) GetGroupByInviteCode(ctx context.Context, code string) (*models.Group, error) {
	f.mu.Lock()
	var id string
	for _, g := range f.groups {
		if g.InviteCode == code {
			id = g.ID
			break
		}
	}
	f.mu.Unlock()
	if id == "" {
		return nil, storage.ErrNotFound
	}
	return f.GetGroup(ctx, id)
}

func (f *fakeGroupStore) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allCodesTaken {
		return true, nil
	}
	for _, g := range f.groups {
		if g.InviteCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGroupStore) GroupsWithMember(ctx context.Context, userID string) ([]*models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Group
	for _, g := range f.groups {
		if g.HasMember(userID) {
			copied := *g
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeGroupStore) AddMember(ctx context.Context, groupID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[groupID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if group.HasMember(userID) {
		return false, nil
	}
	group.Members = append(group.Members, userID)
	return true, nil
}

func (f *fakeGroupStore) RemoveMember(ctx context.Context, groupID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[groupID]
	if !ok {
		return false, storage.ErrNotFound
	}
	for i, m := range group.Members {
		if m == userID {
			group.Members = append(group.Members[:i], group.Members[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGroupStore) WatchGroup(ctx context.Context, groupID string) (<-chan *models.Group, error) {
	ch := make(chan *models.Group)
	close(ch)
	return ch, nil
}

func newTestService(store storage.GroupStore) *MembershipService {
	return NewMembershipService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func validTrip() models.TripInfo {
	return models.TripInfo{TripName: "Sapa Trek", Destination: "Sapa"}
}

var codeShape = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestCreateGroup(t *testing.T) {
	svc := newTestService(newFakeGroupStore())

	group, err := svc.CreateGroup(context.Background(), "alice", models.TripInfo{
		TripName:    "  Sapa Trek  ",
		Destination: " Sapa ",
	})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if !codeShape.MatchString(group.InviteCode) {
		t.Errorf("invite code %q does not match the 6-char alphabet", group.InviteCode)
	}
	if len(group.Members) != 1 || group.Members[0] != "alice" {
		t.Errorf("creator should be the sole member, got %v", group.Members)
	}
	if group.CreatedBy != "alice" {
		t.Errorf("unexpected creator: %q", group.CreatedBy)
	}
	if group.TripName != "Sapa Trek" || group.Destination != "Sapa" {
		t.Errorf("trip fields not trimmed: %q %q", group.TripName, group.Destination)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	svc := newTestService(newFakeGroupStore())

	cases := []models.TripInfo{
		{TripName: "", Destination: "Sapa"},
		{TripName: "   ", Destination: "Sapa"},
		{TripName: "Trek", Destination: ""},
		{TripName: "Trek", Destination: "Sapa", StartDate: "tomorrow"},
	}
	for _, trip := range cases {
		if _, err := svc.CreateGroup(context.Background(), "alice", trip); !IsValidation(err) {
			t.Errorf("trip %+v: expected validation error, got %v", trip, err)
		}
	}
}

func TestCreateGroupWhileInGroup(t *testing.T) {
	svc := newTestService(newFakeGroupStore())
	ctx := context.Background()

	if _, err := svc.CreateGroup(ctx, "alice", validTrip()); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	_, err := svc.CreateGroup(ctx, "alice", validTrip())
	if !errors.Is(err, ErrAlreadyInGroup) {
		t.Errorf("expected ErrAlreadyInGroup, got %v", err)
	}
}

func TestCreateGroupCodeExhausted(t *testing.T) {
	store := newFakeGroupStore()
	store.allCodesTaken = true
	svc := newTestService(store)

	_, err := svc.CreateGroup(context.Background(), "alice", validTrip())
	if !errors.Is(err, ErrCodeExhausted) {
		t.Errorf("expected ErrCodeExhausted, got %v", err)
	}
}

func TestInviteCodesUnique(t *testing.T) {
	store := newFakeGroupStore()
	svc := newTestService(store)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		group, err := svc.CreateGroup(ctx, fmt.Sprintf("user-%d", i), validTrip())
		if err != nil {
			t.Fatalf("CreateGroup %d failed: %v", i, err)
		}
		if seen[group.InviteCode] {
			t.Fatalf("invite code %q issued twice", group.InviteCode)
		}
		seen[group.InviteCode] = true
	}
}

func TestJoinGroup(t *testing.T) {
	svc := newTestService(newFakeGroupStore())
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, "alice", validTrip())
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	// Codes are normalized before lookup.
	raw := "  " + lower(group.InviteCode) + " "
	joined, err := svc.JoinGroup(ctx, raw, "bob")
	if err != nil {
		t.Fatalf("JoinGroup failed: %v", err)
	}
	if len(joined.Members) != 2 || joined.Members[1] != "bob" {
		t.Errorf("joiner should be appended, got %v", joined.Members)
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func TestJoinGroupErrors(t *testing.T) {
	svc := newTestService(newFakeGroupStore())
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, "alice", validTrip())
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	if _, err := svc.JoinGroup(ctx, "ab!", "bob"); !IsValidation(err) {
		t.Errorf("malformed code: expected validation error, got %v", err)
	}
	if _, err := svc.JoinGroup(ctx, "ZZZZZ9", "bob"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("unknown code: expected ErrGroupNotFound, got %v", err)
	}
	if _, err := svc.JoinGroup(ctx, group.InviteCode, "alice"); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("rejoin: expected ErrAlreadyMember, got %v", err)
	}

	other, err := svc.CreateGroup(ctx, "carol", validTrip())
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if _, err := svc.JoinGroup(ctx, other.InviteCode, "alice"); !errors.Is(err, ErrAlreadyInGroup) {
		t.Errorf("second group: expected ErrAlreadyInGroup, got %v", err)
	}
}

func TestLeaveGroup(t *testing.T) {
	store := newFakeGroupStore()
	svc := newTestService(store)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, "alice", validTrip())
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if _, err := svc.JoinGroup(ctx, group.InviteCode, "bob"); err != nil {
		t.Fatalf("JoinGroup failed: %v", err)
	}

	if err := svc.LeaveGroup(ctx, group.ID, "bob"); err != nil {
		t.Fatalf("LeaveGroup failed: %v", err)
	}
	if err := svc.LeaveGroup(ctx, group.ID, "bob"); !errors.Is(err, ErrNotMember) {
		t.Errorf("second leave: expected ErrNotMember, got %v", err)
	}
	if err := svc.LeaveGroup(ctx, "missing", "bob"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("unknown group: expected ErrGroupNotFound, got %v", err)
	}

	// Leaving frees the user to join again; the code still resolves even if
	// the group was emptied.
	if err := svc.LeaveGroup(ctx, group.ID, "alice"); err != nil {
		t.Fatalf("LeaveGroup failed: %v", err)
	}
	rejoined, err := svc.JoinGroup(ctx, group.InviteCode, "alice")
	if err != nil {
		t.Fatalf("rejoin after emptying failed: %v", err)
	}
	if len(rejoined.Members) != 1 || rejoined.Members[0] != "alice" {
		t.Errorf("unexpected members after rejoin: %v", rejoined.Members)
	}
}

func TestGetGroup(t *testing.T) {
	svc := newTestService(newFakeGroupStore())
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, "alice", validTrip())
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	got, err := svc.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if got.ID != group.ID {
		t.Errorf("expected %s, got %s", group.ID, got.ID)
	}
	if _, err := svc.GetGroup(ctx, "missing"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestNormalizeInviteCode(t *testing.T) {
	if got := NormalizeInviteCode("  ab12cd "); got != "AB12CD" {
		t.Errorf("expected AB12CD, got %q", got)
	}
}
