package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flotilla-app/flotilla/internal/models"
)

type fakeWriter struct {
	mu    sync.Mutex
	calls int
	err   error
	last  models.Position
	group string
}

func (f *fakeWriter) UpsertLocation(ctx context.Context, userID string, pos models.Position, groupID string) (*models.LocationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.last = pos
	f.group = groupID
	return &models.LocationRecord{UserID: userID, Latitude: pos.Latitude, Longitude: pos.Longitude, GroupID: groupID}, nil
}

func (f *fakeWriter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeWriter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pos(lat float64) models.Position {
	return models.Position{Latitude: lat, Longitude: lat}
}

func TestPublishThrottle(t *testing.T) {
	writer := &fakeWriter{}
	clock := newFakeClock()
	p := New(writer, discardLogger(), WithClock(clock.Now))

	ctx := context.Background()
	p.Publish(ctx, "alice", pos(1), "g1")
	if writer.callCount() != 1 {
		t.Fatalf("first publish should write, got %d calls", writer.callCount())
	}

	// Within the cooldown: silent no-op.
	p.Publish(ctx, "alice", pos(2), "g1")
	clock.Advance(DefaultMinInterval - time.Second)
	p.Publish(ctx, "alice", pos(3), "g1")
	if writer.callCount() != 1 {
		t.Fatalf("throttled publishes should not write, got %d calls", writer.callCount())
	}

	clock.Advance(time.Second)
	p.Publish(ctx, "alice", pos(4), "g1")
	if writer.callCount() != 2 {
		t.Fatalf("publish after the interval should write, got %d calls", writer.callCount())
	}
	if writer.last.Latitude != 4 {
		t.Errorf("expected latest accepted position, got %+v", writer.last)
	}
}

func TestFailedWriteDoesNotConsumeInterval(t *testing.T) {
	writer := &fakeWriter{}
	clock := newFakeClock()
	p := New(writer, discardLogger(), WithClock(clock.Now))
	ctx := context.Background()

	writer.setErr(errors.New("backend down"))
	p.Publish(ctx, "alice", pos(1), "g1")
	if writer.callCount() != 1 {
		t.Fatalf("expected 1 attempt, got %d", writer.callCount())
	}

	// The failed attempt gave the interval back: the very next sample may
	// retry without waiting out the cooldown.
	writer.setErr(nil)
	p.Publish(ctx, "alice", pos(2), "g1")
	if writer.callCount() != 2 {
		t.Fatalf("retry after failure should write, got %d calls", writer.callCount())
	}
}

func TestPublishNeverPanicsOnFailure(t *testing.T) {
	writer := &fakeWriter{}
	writer.setErr(errors.New("permanently broken"))
	clock := newFakeClock()
	p := New(writer, discardLogger(), WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		p.Publish(context.Background(), "alice", pos(float64(i)), "g1")
		clock.Advance(DefaultMinInterval)
	}
}

func TestBreakerShedsAfterConsecutiveFailures(t *testing.T) {
	writer := &fakeWriter{}
	writer.setErr(errors.New("backend down"))
	clock := newFakeClock()
	p := New(writer, discardLogger(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p.Publish(ctx, "alice", pos(1), "g1")
		clock.Advance(DefaultMinInterval)
	}
	if writer.callCount() != 3 {
		t.Fatalf("expected 3 attempts before the breaker opens, got %d", writer.callCount())
	}

	// Open breaker: publishes are shed without touching the writer.
	p.Publish(ctx, "alice", pos(1), "g1")
	if writer.callCount() != 3 {
		t.Fatalf("open breaker should shed the write, got %d calls", writer.callCount())
	}
}

func TestResetThrottle(t *testing.T) {
	writer := &fakeWriter{}
	clock := newFakeClock()
	p := New(writer, discardLogger(), WithClock(clock.Now))
	ctx := context.Background()

	p.Publish(ctx, "alice", pos(1), "g1")
	p.Publish(ctx, "alice", pos(2), "g1")
	if writer.callCount() != 1 {
		t.Fatalf("expected second publish throttled, got %d calls", writer.callCount())
	}

	p.ResetThrottle()
	p.Publish(ctx, "alice", pos(3), "g1")
	if writer.callCount() != 2 {
		t.Fatalf("publish after reset should write, got %d calls", writer.callCount())
	}
}

func TestCustomMinInterval(t *testing.T) {
	writer := &fakeWriter{}
	clock := newFakeClock()
	p := New(writer, discardLogger(), WithClock(clock.Now), WithMinInterval(5*time.Second))
	ctx := context.Background()

	p.Publish(ctx, "alice", pos(1), "g1")
	clock.Advance(4 * time.Second)
	p.Publish(ctx, "alice", pos(2), "g1")
	if writer.callCount() != 1 {
		t.Fatalf("expected throttle at 4s, got %d calls", writer.callCount())
	}
	clock.Advance(time.Second)
	p.Publish(ctx, "alice", pos(3), "g1")
	if writer.callCount() != 2 {
		t.Fatalf("expected write at 5s, got %d calls", writer.callCount())
	}
}

func TestRegistryIsolatesUsers(t *testing.T) {
	writer := &fakeWriter{}
	clock := newFakeClock()
	reg := NewRegistry(writer, discardLogger(), WithClock(clock.Now))
	ctx := context.Background()

	if reg.For("alice") != reg.For("alice") {
		t.Error("same user should map to the same publisher")
	}
	if reg.For("alice") == reg.For("bob") {
		t.Error("different users should map to different publishers")
	}

	// One user's cooldown does not gate another's.
	reg.For("alice").Publish(ctx, "alice", pos(1), "g1")
	reg.For("bob").Publish(ctx, "bob", pos(2), "g1")
	if writer.callCount() != 2 {
		t.Fatalf("expected both users' writes accepted, got %d calls", writer.callCount())
	}
}
