package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flotilla-app/flotilla/internal/models"
)

type fakeSensor struct {
	mu      sync.Mutex
	perm    Permission
	enabled bool
	lat     float64
	err     error
}

func newFakeSensor() *fakeSensor {
	return &fakeSensor{perm: PermissionGranted, enabled: true}
}

func (f *fakeSensor) Permission(ctx context.Context) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perm, nil
}

func (f *fakeSensor) ServicesEnabled(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, nil
}

func (f *fakeSensor) Sample(ctx context.Context) (models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Position{}, f.err
	}
	f.lat++
	return models.Position{Latitude: f.lat, Longitude: 1}, nil
}

func (f *fakeSensor) set(fn func(*fakeSensor)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collector() (chan models.Position, func(models.Position)) {
	ch := make(chan models.Position, 128)
	return ch, func(p models.Position) { ch <- p }
}

func awaitSamples(t *testing.T, ch chan models.Position, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("timed out waiting for sample %d of %d", i+1, n)
		}
	}
}

func TestStartRequiresPermission(t *testing.T) {
	sensor := newFakeSensor()
	sensor.set(func(f *fakeSensor) { f.perm = PermissionDenied })
	loop := New(sensor, discardLogger())

	_, fn := collector()
	err := loop.Start(fn, 10*time.Millisecond, false)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if loop.Active() {
		t.Error("loop should not be active after a refused start")
	}

	sensor.set(func(f *fakeSensor) { f.perm = PermissionUndetermined })
	if err := loop.Start(fn, 10*time.Millisecond, false); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("undetermined permission should refuse start, got %v", err)
	}
}

func TestImmediateSample(t *testing.T) {
	sensor := newFakeSensor()
	loop := New(sensor, discardLogger())

	ch, fn := collector()
	if err := loop.Start(fn, time.Hour, false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer loop.Stop()

	// The first sample arrives without waiting for the first tick.
	awaitSamples(t, ch, 1)
}

func TestPeriodicSampling(t *testing.T) {
	sensor := newFakeSensor()
	loop := New(sensor, discardLogger())

	ch, fn := collector()
	if err := loop.Start(fn, 10*time.Millisecond, false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer loop.Stop()

	awaitSamples(t, ch, 4)
	if !loop.Active() {
		t.Error("loop should be active while sampling")
	}
}

func TestForegroundGating(t *testing.T) {
	sensor := newFakeSensor()
	var foreground atomic.Bool
	loop := New(sensor, discardLogger(), WithForegroundCheck(foreground.Load))

	ch, fn := collector()
	if err := loop.Start(fn, 10*time.Millisecond, true); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer loop.Stop()

	// The immediate sample is taken regardless of foreground state.
	awaitSamples(t, ch, 1)

	// Backgrounded: ticks are skipped, no catch-up later.
	time.Sleep(100 * time.Millisecond)
	select {
	case p := <-ch:
		t.Fatalf("sample delivered while backgrounded: %+v", p)
	default:
	}

	foreground.Store(true)
	awaitSamples(t, ch, 2)
}

func TestSampleFailuresKeepLoopRunning(t *testing.T) {
	sensor := newFakeSensor()
	sensor.set(func(f *fakeSensor) { f.enabled = false })
	loop := New(sensor, discardLogger())

	ch, fn := collector()
	if err := loop.Start(fn, 10*time.Millisecond, false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer loop.Stop()

	time.Sleep(50 * time.Millisecond)
	select {
	case p := <-ch:
		t.Fatalf("sample delivered while services disabled: %+v", p)
	default:
	}

	// The schedule survived the failures.
	sensor.set(func(f *fakeSensor) { f.enabled = true })
	awaitSamples(t, ch, 2)
}

func TestStopIsIdempotent(t *testing.T) {
	sensor := newFakeSensor()
	loop := New(sensor, discardLogger())

	loop.Stop() // stop while idle is a no-op

	_, fn := collector()
	if err := loop.Start(fn, 10*time.Millisecond, false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	loop.Stop()
	loop.Stop()
	if loop.Active() {
		t.Error("loop should be idle after Stop")
	}
}

func TestStartWhileTrackingRestarts(t *testing.T) {
	sensor := newFakeSensor()
	loop := New(sensor, discardLogger())

	first, fn1 := collector()
	if err := loop.Start(fn1, 10*time.Millisecond, false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	awaitSamples(t, first, 1)

	second, fn2 := collector()
	if err := loop.Start(fn2, 10*time.Millisecond, false); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer loop.Stop()

	awaitSamples(t, second, 2)

	// The old callback is no longer fed.
	for len(first) > 0 {
		<-first
	}
	time.Sleep(50 * time.Millisecond)
	select {
	case p := <-first:
		t.Fatalf("old callback still receiving: %+v", p)
	default:
	}
}
