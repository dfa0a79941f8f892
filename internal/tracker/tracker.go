// Package tracker implements the periodic sampling loop that feeds the
// local display and the location publisher.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flotilla-app/flotilla/internal/models"
)

// DefaultInterval is the default gap between samples.
const DefaultInterval = time.Minute

// Loop errors.
var (
	// ErrPermissionDenied indicates the positioning permission is not granted.
	ErrPermissionDenied = errors.New("location permission not granted")

	// ErrServicesDisabled indicates positioning services are switched off.
	ErrServicesDisabled = errors.New("location services are disabled")
)

// Permission is the positioning permission state reported by a sensor.
type Permission int

const (
	PermissionUndetermined Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

// Sensor is the positioning hardware as this loop sees it.
type Sensor interface {
	// Permission reports the current permission state.
	Permission(ctx context.Context) (Permission, error)

	// ServicesEnabled reports whether positioning services are switched on.
	ServicesEnabled(ctx context.Context) (bool, error)

	// Sample returns one fix.
	Sample(ctx context.Context) (models.Position, error)
}

// ForegroundFunc reports whether the host process is in the foreground.
type ForegroundFunc func() bool

// Loop is the Idle <-> Tracking state machine. Starting while tracking is a
// stop-then-start; stopping while idle is a no-op.
type Loop struct {
	sensor     Sensor
	foreground ForegroundFunc
	log        *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithForegroundCheck injects the foreground probe consulted at each tick
// when tracking foreground-only. Defaults to always-foreground.
func WithForegroundCheck(f ForegroundFunc) Option {
	return func(l *Loop) { l.foreground = f }
}

// New creates a Loop.
func New(sensor Sensor, log *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		sensor:     sensor,
		foreground: func() bool { return true },
		log:        log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start begins tracking: one immediate sample, then one per interval.
// Requires the positioning permission to be granted already. With
// foregroundOnly set, ticks that land while the process is backgrounded are
// skipped outright; there is no catch-up sample on returning to the
// foreground. Sample failures are logged and the schedule continues.
func (l *Loop) Start(fn func(models.Position), interval time.Duration, foregroundOnly bool) error {
	perm, err := l.sensor.Permission(context.Background())
	if err != nil {
		return fmt.Errorf("failed to check permission: %w", err)
	}
	if perm != PermissionGranted {
		return fmt.Errorf("%w: permission is %s", ErrPermissionDenied, perm)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	l.mu.Lock()
	l.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	if pos, err := l.sample(ctx); err != nil {
		l.log.Warn("Initial location sample failed", "error", err)
	} else {
		fn(pos)
	}

	go l.run(ctx, done, fn, interval, foregroundOnly)
	l.log.Info("Location tracking started",
		"interval", interval,
		"foreground_only", foregroundOnly,
	)
	return nil
}

func (l *Loop) run(ctx context.Context, done chan struct{}, fn func(models.Position), interval time.Duration, foregroundOnly bool) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if foregroundOnly && !l.foreground() {
				l.log.Debug("Tick skipped, process backgrounded")
				continue
			}
			pos, err := l.sample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.log.Warn("Location sample failed", "error", err)
				continue
			}
			fn(pos)
		}
	}
}

func (l *Loop) sample(ctx context.Context) (models.Position, error) {
	enabled, err := l.sensor.ServicesEnabled(ctx)
	if err != nil {
		return models.Position{}, fmt.Errorf("failed to check services: %w", err)
	}
	if !enabled {
		return models.Position{}, ErrServicesDisabled
	}
	return l.sensor.Sample(ctx)
}

// Stop cancels the schedule and waits for the loop to finish. Safe to call
// from any state, any number of times.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopLocked()
	l.mu.Unlock()
	l.log.Info("Location tracking stopped")
}

func (l *Loop) stopLocked() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil
}

// Active reports whether the loop is currently tracking.
func (l *Loop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}
