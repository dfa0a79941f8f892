// Package presence maintains, per watcher, a live composed mapping from
// each other group member to their latest known location.
//
// Each watch is a small supervision tree: one service follows the group
// document, and one service per other member follows that member's location
// record. When membership changes, the group service diffs the new member
// set against the currently supervised set and adds or removes member
// services accordingly. A member service that fails is restarted with
// backoff by the supervisor and degrades only its own entry; the rest of the
// tree is untouched.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/flotilla-app/flotilla/internal/metrics"
	"github.com/flotilla-app/flotilla/internal/models"
)

// GroupWatcher is the slice of the group store the propagator needs.
type GroupWatcher interface {
	WatchGroup(ctx context.Context, groupID string) (<-chan *models.Group, error)
}

// LocationWatcher is the slice of the location store the propagator needs.
type LocationWatcher interface {
	WatchLocation(ctx context.Context, userID string) (<-chan *models.LocationRecord, error)
}

// Update is one delivery to a watcher. Locations is a full snapshot of all
// other members' latest known locations; a nil value means that member has
// not published yet. GroupGone is set, with an empty snapshot, when the
// group document disappears.
type Update struct {
	Locations map[string]*models.LocationRecord
	GroupGone bool
}

// UpdateFunc receives composed snapshots. Each delivery is authoritative;
// consumers may always discard everything but the latest.
type UpdateFunc func(Update)

// CancelFunc tears down a watch. Idempotent.
type CancelFunc func()

// Propagator creates presence watches over a pair of stores.
type Propagator struct {
	groups    GroupWatcher
	locations LocationWatcher
	log       *slog.Logger
}

// New creates a Propagator.
func New(groups GroupWatcher, locations LocationWatcher, log *slog.Logger) *Propagator {
	return &Propagator{groups: groups, locations: locations, log: log}
}

// Watch starts following the group's membership and every other member's
// location, delivering a composed snapshot to fn after each structural
// change and each location update. selfID is never a key in the snapshots.
//
// The returned cancel is idempotent and blocks until the whole watch tree
// has stopped; after it returns, fn is not called again.
func (p *Propagator) Watch(groupID, selfID string, fn UpdateFunc) CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &sutureslog.Handler{Logger: p.log}
	sup := suture.New("presence-"+groupID, suture.Spec{EventHook: handler.MustHook()})

	w := &watch{
		groups:    p.groups,
		locations: p.locations,
		log:       p.log,
		groupID:   groupID,
		selfID:    selfID,
		fn:        fn,
		sup:       sup,
		locs:      make(map[string]*models.LocationRecord),
		children:  make(map[string]suture.ServiceToken),
		updates:   make(chan Update, 1),
	}

	sup.Add(&groupWatcher{w: w})
	errs := sup.ServeBackground(ctx)
	go w.deliver(ctx)

	metrics.WatchesActive.Inc()
	var once sync.Once
	return func() {
		once.Do(func() {
			w.closed.Store(true)
			cancel()
			<-errs
			metrics.WatchesActive.Dec()
		})
	}
}

// watch owns the composed mapping and the member-id -> service-token
// bookkeeping for one Watch invocation.
type watch struct {
	groups    GroupWatcher
	locations LocationWatcher
	log       *slog.Logger
	groupID   string
	selfID    string
	fn        UpdateFunc
	sup       *suture.Supervisor

	mu       sync.Mutex
	locs     map[string]*models.LocationRecord
	children map[string]suture.ServiceToken

	updates chan Update
	closed  atomic.Bool
}

// deliver serializes snapshot deliveries so fn is never called concurrently.
func (w *watch) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-w.updates:
			if w.closed.Load() {
				return
			}
			w.fn(u)
			metrics.WatchUpdates.Inc()
		}
	}
}

// send offers u for delivery, displacing an older undelivered snapshot.
// Snapshots are full state, so newest-wins is always safe.
func (w *watch) send(u Update) {
	if w.closed.Load() {
		return
	}
	for {
		select {
		case w.updates <- u:
			return
		default:
			select {
			case <-w.updates:
			default:
			}
		}
	}
}

func (w *watch) snapshotLocked() Update {
	snap := make(map[string]*models.LocationRecord, len(w.locs))
	for id, rec := range w.locs {
		snap[id] = rec
	}
	return Update{Locations: snap}
}

// reconcile diffs the group's member set against the currently supervised
// set: new others gain a location watch, departed others lose theirs. A nil
// group tears everything down and signals the group is gone.
func (w *watch) reconcile(group *models.Group) {
	w.mu.Lock()
	if group == nil {
		for id, token := range w.children {
			if err := w.sup.Remove(token); err != nil {
				w.log.Warn("Failed to remove location watch", "member_id", id, "error", err)
			}
			delete(w.children, id)
		}
		w.locs = make(map[string]*models.LocationRecord)
		w.mu.Unlock()
		w.send(Update{Locations: map[string]*models.LocationRecord{}, GroupGone: true})
		return
	}

	others := make(map[string]bool)
	for _, id := range group.Others(w.selfID) {
		others[id] = true
	}

	for id := range others {
		if _, ok := w.children[id]; ok {
			continue
		}
		w.children[id] = w.sup.Add(&memberWatcher{w: w, memberID: id})
		w.locs[id] = nil // key appears before the member first publishes
	}

	for id, token := range w.children {
		if others[id] {
			continue
		}
		if err := w.sup.Remove(token); err != nil {
			w.log.Warn("Failed to remove location watch", "member_id", id, "error", err)
		}
		delete(w.children, id)
		delete(w.locs, id)
	}

	u := w.snapshotLocked()
	w.mu.Unlock()
	w.send(u)
}

// setLocation updates one member's entry. Late events from a member whose
// watch has been removed are dropped.
func (w *watch) setLocation(memberID string, rec *models.LocationRecord) {
	w.mu.Lock()
	if _, ok := w.children[memberID]; !ok {
		w.mu.Unlock()
		return
	}
	w.locs[memberID] = rec
	u := w.snapshotLocked()
	w.mu.Unlock()
	w.send(u)
}

// groupWatcher follows the group document and drives reconciliation.
type groupWatcher struct {
	w *watch
}

func (g *groupWatcher) String() string { return "group-watch-" + g.w.groupID }

func (g *groupWatcher) Serve(ctx context.Context) error {
	ch, err := g.w.groups.WatchGroup(ctx, g.w.groupID)
	if err != nil {
		g.w.log.Error("Group watch failed to start", "group_id", g.w.groupID, "error", err)
		return err
	}
	for group := range ch {
		g.w.reconcile(group)
	}
	return ctx.Err()
}

// memberWatcher follows one member's location record. A failure degrades
// only this member's entry to absent; the supervisor restarts the watch
// with backoff.
type memberWatcher struct {
	w        *watch
	memberID string
}

func (m *memberWatcher) String() string { return "location-watch-" + m.memberID }

func (m *memberWatcher) Serve(ctx context.Context) error {
	ch, err := m.w.locations.WatchLocation(ctx, m.memberID)
	if err != nil {
		m.w.log.Warn("Location watch failed, degrading member to absent",
			"member_id", m.memberID, "error", err)
		m.w.setLocation(m.memberID, nil)
		return err
	}
	for rec := range ch {
		m.w.setLocation(m.memberID, rec)
	}
	return ctx.Err()
}
