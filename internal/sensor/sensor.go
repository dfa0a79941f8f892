// Package sensor provides positioning Sensor implementations for the agent.
// Real GPS hardware sits behind the same interface; these simulators keep
// the agent runnable anywhere.
package sensor

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/flotilla-app/flotilla/internal/models"
	"github.com/flotilla-app/flotilla/internal/tracker"
)

// Fixed reports the same point on every sample, with a fresh timestamp.
type Fixed struct {
	Latitude  float64
	Longitude float64
}

func (f *Fixed) Permission(ctx context.Context) (tracker.Permission, error) {
	return tracker.PermissionGranted, nil
}

func (f *Fixed) ServicesEnabled(ctx context.Context) (bool, error) {
	return true, nil
}

func (f *Fixed) Sample(ctx context.Context) (models.Position, error) {
	return models.Position{
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// RandomWalk wanders from a starting point, one bounded random step per
// sample. Useful for exercising live propagation end to end.
type RandomWalk struct {
	mu       sync.Mutex
	lat, lon float64
	step     float64
}

// NewRandomWalk creates a walk starting at (lat, lon) moving up to stepDeg
// degrees per sample on each axis.
func NewRandomWalk(lat, lon, stepDeg float64) *RandomWalk {
	return &RandomWalk{lat: lat, lon: lon, step: stepDeg}
}

func (w *RandomWalk) Permission(ctx context.Context) (tracker.Permission, error) {
	return tracker.PermissionGranted, nil
}

func (w *RandomWalk) ServicesEnabled(ctx context.Context) (bool, error) {
	return true, nil
}

func (w *RandomWalk) Sample(ctx context.Context) (models.Position, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lat = clampLat(w.lat + (rand.Float64()*2-1)*w.step)
	w.lon = wrapLon(w.lon + (rand.Float64()*2-1)*w.step)
	accuracy := 5 + rand.Float64()*10
	return models.Position{
		Latitude:  w.lat,
		Longitude: w.lon,
		Accuracy:  &accuracy,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func clampLat(lat float64) float64 {
	if lat > 90 {
		return 90
	}
	if lat < -90 {
		return -90
	}
	return lat
}

func wrapLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
