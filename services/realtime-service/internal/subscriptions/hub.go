package subscriptions

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/telecare-platform/telecare/services/realtime-service/internal/model"
)

// ConnState is the hub's link to the upstream store.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

// DeltaKind tags an incremental change. Exactly one of the three kinds
// arrives per event; Appointment is nil only for deleted.
type DeltaKind string

const (
	DeltaCreated DeltaKind = "created"
	DeltaUpdated DeltaKind = "updated"
	DeltaDeleted DeltaKind = "deleted"
)

type Delta struct {
	Kind          DeltaKind
	AppointmentID string
	Appointment   *model.Appointment
}

// SnapshotSource loads the full current state, used on (re)connect to seed
// the in-memory projection before deltas stream in.
type SnapshotSource interface {
	Load(ctx context.Context) ([]model.Appointment, []model.Doctor, error)
}

// Snapshot is the full filtered view delivered to a subscriber. Every
// applied change re-delivers the whole snapshot rather than a diff, so a
// consumer can always replace its state wholesale; re-applying the same
// change yields an identical snapshot.
type Snapshot []model.Appointment

type apptSubscription struct {
	filter Filter
	fn     func(Snapshot)
}

type doctorSubscription struct {
	fn func([]model.Doctor)
}

// Hub maintains the live appointment projection and fans filtered snapshots
// out to subscribers. Reconnection to the snapshot source backs off
// linearly (delay, 2*delay, ...) up to MaxAttempts; after that the hub
// parks in the error state until Reconnect is called.
type Hub struct {
	source SnapshotSource
	logger *slog.Logger

	reconnectDelay time.Duration
	maxAttempts    int
	sleep          func(ctx context.Context, d time.Duration) error

	mu         sync.RWMutex
	state      ConnState
	attempt    int
	appts      map[string]model.Appointment
	doctors    map[string]model.Doctor
	subs       map[uint64]*apptSubscription
	doctorSubs map[uint64]*doctorSubscription
	nextSubID  uint64
	stateSubs  map[uint64]func(ConnState)

	kick chan struct{}
}

type Config struct {
	ReconnectDelay time.Duration
	MaxAttempts    int
}

func NewHub(source SnapshotSource, logger *slog.Logger, cfg Config) *Hub {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Hub{
		source:         source,
		logger:         logger,
		reconnectDelay: cfg.ReconnectDelay,
		maxAttempts:    cfg.MaxAttempts,
		sleep:          sleepCtx,
		state:          StateDisconnected,
		appts:          map[string]model.Appointment{},
		doctors:        map[string]model.Doctor{},
		subs:           map[uint64]*apptSubscription{},
		doctorSubs:     map[uint64]*doctorSubscription{},
		stateSubs:      map[uint64]func(ConnState){},
		kick:           make(chan struct{}, 1),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (h *Hub) State() ConnState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Hub) setState(s ConnState) {
	h.mu.Lock()
	if h.state == s {
		h.mu.Unlock()
		return
	}
	h.state = s
	listeners := make([]func(ConnState), 0, len(h.stateSubs))
	for _, fn := range h.stateSubs {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// Run drives the connect/retry loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		if err := h.connect(ctx); err == nil {
			// Connected. Stay connected until kicked (a consumer error
			// forces a resync) or cancelled.
			select {
			case <-ctx.Done():
				h.setState(StateDisconnected)
				return
			case <-h.kick:
				continue
			}
		}

		h.mu.Lock()
		h.attempt++
		attempt := h.attempt
		h.mu.Unlock()

		if attempt >= h.maxAttempts {
			h.setState(StateError)
			h.logger.Error("snapshot source unreachable; waiting for manual reconnect", "attempts", attempt)
			select {
			case <-ctx.Done():
				h.setState(StateDisconnected)
				return
			case <-h.kick:
				continue
			}
		}

		delay := h.reconnectDelay * time.Duration(attempt)
		h.logger.Warn("snapshot load failed; retrying", "attempt", attempt, "delay", delay)
		if err := h.sleep(ctx, delay); err != nil {
			h.setState(StateDisconnected)
			return
		}
	}
}

func (h *Hub) connect(ctx context.Context) error {
	h.setState(StateConnecting)
	appts, doctors, err := h.source.Load(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.attempt = 0
	h.appts = make(map[string]model.Appointment, len(appts))
	for _, a := range appts {
		h.appts[a.ID] = a
	}
	h.doctors = make(map[string]model.Doctor, len(doctors))
	for _, d := range doctors {
		h.doctors[d.ID] = d
	}
	h.mu.Unlock()

	h.setState(StateConnected)
	h.logger.Info("snapshot loaded", "appointments", len(appts), "doctors", len(doctors))
	h.broadcastAll()
	return nil
}

// Reconnect resets the retry budget and forces a fresh snapshot load. Wired
// to the portal's manual "reconnect" button.
func (h *Hub) Reconnect() {
	h.mu.Lock()
	h.attempt = 0
	h.mu.Unlock()
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// SubscribeAppointments registers fn for filtered snapshots. fn is invoked
// immediately with the current snapshot, then after every applied change
// that touches the filter. The returned func cancels the subscription;
// after it returns fn is never called again.
func (h *Hub) SubscribeAppointments(f Filter, fn func(Snapshot)) func() {
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = &apptSubscription{filter: f, fn: fn}
	snap := h.snapshotLocked(f)
	h.mu.Unlock()

	fn(snap)
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// SubscribeDoctors mirrors SubscribeAppointments for the doctor directory.
func (h *Hub) SubscribeDoctors(fn func([]model.Doctor)) func() {
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.doctorSubs[id] = &doctorSubscription{fn: fn}
	docs := h.doctorsLocked()
	h.mu.Unlock()

	fn(docs)
	return func() {
		h.mu.Lock()
		delete(h.doctorSubs, id)
		h.mu.Unlock()
	}
}

// SubscribeState registers fn for connection-state transitions.
func (h *Hub) SubscribeState(fn func(ConnState)) func() {
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.stateSubs[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.stateSubs, id)
		h.mu.Unlock()
	}
}

// Apply folds one delta into the projection and notifies the subscribers
// whose filtered view it touches. Applying the same delta twice is
// harmless: the second application produces the identical snapshot.
func (h *Hub) Apply(d Delta) {
	h.mu.Lock()
	prev, existed := h.appts[d.AppointmentID]

	switch d.Kind {
	case DeltaCreated, DeltaUpdated:
		if d.Appointment == nil {
			h.mu.Unlock()
			h.logger.Error("delta missing appointment body", "kind", string(d.Kind), "appointment_id", d.AppointmentID)
			return
		}
		h.appts[d.AppointmentID] = *d.Appointment
	case DeltaDeleted:
		delete(h.appts, d.AppointmentID)
	default:
		h.mu.Unlock()
		h.logger.Error("unknown delta kind", "kind", string(d.Kind))
		return
	}

	type notification struct {
		fn   func(Snapshot)
		snap Snapshot
	}
	var notify []notification
	for _, sub := range h.subs {
		touched := false
		if existed && sub.filter.Matches(prev) {
			touched = true
		}
		if d.Appointment != nil && sub.filter.Matches(*d.Appointment) {
			touched = true
		}
		if touched {
			notify = append(notify, notification{fn: sub.fn, snap: h.snapshotLocked(sub.filter)})
		}
	}
	h.mu.Unlock()

	for _, n := range notify {
		n.fn(n.snap)
	}
}

// ApplyDoctor folds a doctor directory change.
func (h *Hub) ApplyDoctor(doc model.Doctor) {
	h.mu.Lock()
	h.doctors[doc.ID] = doc
	docs := h.doctorsLocked()
	notify := make([]func([]model.Doctor), 0, len(h.doctorSubs))
	for _, sub := range h.doctorSubs {
		notify = append(notify, sub.fn)
	}
	h.mu.Unlock()
	for _, fn := range notify {
		fn(docs)
	}
}

func (h *Hub) broadcastAll() {
	h.mu.Lock()
	type notification struct {
		fn   func(Snapshot)
		snap Snapshot
	}
	notify := make([]notification, 0, len(h.subs))
	for _, sub := range h.subs {
		notify = append(notify, notification{fn: sub.fn, snap: h.snapshotLocked(sub.filter)})
	}
	docs := h.doctorsLocked()
	docNotify := make([]func([]model.Doctor), 0, len(h.doctorSubs))
	for _, sub := range h.doctorSubs {
		docNotify = append(docNotify, sub.fn)
	}
	h.mu.Unlock()

	for _, n := range notify {
		n.fn(n.snap)
	}
	for _, fn := range docNotify {
		fn(docs)
	}
}

// Snapshot returns the current filtered view without subscribing.
func (h *Hub) Snapshot(f Filter) Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked(f)
}

func (h *Hub) snapshotLocked(f Filter) Snapshot {
	snap := make(Snapshot, 0, len(h.appts))
	for _, a := range h.appts {
		if f.Matches(a) {
			snap = append(snap, a)
		}
	}
	sort.Slice(snap, func(i, j int) bool {
		if snap[i].ScheduledAt.Equal(snap[j].ScheduledAt) {
			return snap[i].ID < snap[j].ID
		}
		return snap[i].ScheduledAt.Before(snap[j].ScheduledAt)
	})
	return snap
}

func (h *Hub) doctorsLocked() []model.Doctor {
	docs := make([]model.Doctor, 0, len(h.doctors))
	for _, d := range h.doctors {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs
}
