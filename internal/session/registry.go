package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vitalsync/internal/apperror"
	"vitalsync/internal/models"
)

// CardScanWindow is how long an armed card-scan slot waits for a tag before
// it falls back to idle. No other modality expires on its own.
const CardScanWindow = 3 * time.Second

// Store persists finished readings.
type Store interface {
	SaveReading(ctx context.Context, m models.Modality, r models.Reading) error
}

// Notifier receives an event whenever a session ends.
type Notifier interface {
	Notify(ev models.ResultEvent)
}

// Timer is the part of *time.Timer the registry needs.
type Timer interface {
	Stop() bool
}

type slot struct {
	mu         sync.Mutex
	modality   models.Modality
	owner      string
	active     bool
	signaled   bool
	pending    *models.Reading
	armedAt    time.Time
	generation uint64
	timer      Timer
}

// SlotState is a read-only view of one slot.
type SlotState struct {
	Modality  models.Modality
	Owner     string
	Active    bool
	Signaled  bool
	HasResult bool
	ArmedAt   time.Time
}

// Registry holds one single-slot state machine per modality. Each slot has
// its own mutex, so modalities never block each other.
type Registry struct {
	slots     map[models.Modality]*slot
	store     Store
	notifiers []Notifier
	log       *zap.Logger
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithAfterFunc replaces time.AfterFunc for the card-scan expiry timer.
func WithAfterFunc(f func(time.Duration, func()) Timer) Option {
	return func(r *Registry) { r.afterFunc = f }
}

func WithNotifier(n Notifier) Option {
	return func(r *Registry) {
		if n != nil {
			r.notifiers = append(r.notifiers, n)
		}
	}
}

func NewRegistry(store Store, log *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		slots: make(map[models.Modality]*slot, len(models.Modalities)),
		store: store,
		log:   log,
		now:   time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, m := range models.Modalities {
		r.slots[m] = &slot{modality: m}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddNotifier registers a notifier after construction, before serving.
func (r *Registry) AddNotifier(n Notifier) {
	if n != nil {
		r.notifiers = append(r.notifiers, n)
	}
}

func (r *Registry) slot(m models.Modality) (*slot, error) {
	s, ok := r.slots[m]
	if !ok {
		return nil, apperror.Validation("unknown modality %q", m)
	}
	return s, nil
}

// RequestStart arms the modality's slot for owner. It fails with a
// ConflictError while the slot is active and leaves the session untouched.
func (r *Registry) RequestStart(m models.Modality, owner string) error {
	s, err := r.slot(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return apperror.Conflict("A %s measurement is already in progress.", m)
	}

	s.owner = owner
	s.active = true
	s.signaled = false
	s.pending = nil
	s.armedAt = r.now()
	s.generation++
	s.stopTimer()

	if m == models.CardScan {
		gen := s.generation
		s.timer = r.afterFunc(CardScanWindow, func() { r.expire(m, gen) })
	}

	r.log.Info("Measurement armed", zap.String("modality", m.String()), zap.String("owner", owner))
	return nil
}

// PollForActivation hands the device its start token once per armed session.
func (r *Registry) PollForActivation(m models.Modality) (string, bool) {
	s, err := r.slot(m)
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.signaled {
		return "", false
	}
	s.signaled = true
	r.log.Debug("Activation signal delivered", zap.String("modality", m.String()))
	return m.ActivationToken(), true
}

// SubmitResult completes the active session: the reading is persisted under
// the session owner, kept as the pending result, and the slot goes idle.
// A failed write leaves the slot idle without a result.
func (r *Registry) SubmitResult(ctx context.Context, m models.Modality, reading models.Reading) error {
	s, err := r.slot(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return apperror.NotActive("No %s measurement has been started.", m)
	}

	reading.Owner = s.owner
	if reading.RecordedAt.IsZero() {
		reading.RecordedAt = r.now()
	}

	if err := r.store.SaveReading(ctx, m, reading); err != nil {
		s.reset()
		s.mu.Unlock()
		r.log.Error("Failed to persist reading", zap.String("modality", m.String()), zap.Error(err))
		r.notify(r.event(m, reading.Owner, models.EventFailed, nil, "persistence failure"))
		var ae *apperror.Error
		if errors.As(err, &ae) {
			return err
		}
		return apperror.Persistence(err, "Could not save the %s result.", m)
	}

	s.pending = &reading
	s.active = false
	s.signaled = false
	s.stopTimer()
	s.mu.Unlock()

	r.log.Info("Measurement completed", zap.String("modality", m.String()), zap.String("owner", reading.Owner))
	r.notify(r.event(m, reading.Owner, models.EventCompleted, eventValue(m, reading), ""))
	return nil
}

// PollForResult returns the pending result exactly once.
func (r *Registry) PollForResult(m models.Modality) (models.Reading, bool) {
	s, err := r.slot(m)
	if err != nil {
		return models.Reading{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return models.Reading{}, false
	}
	res := *s.pending
	s.pending = nil
	return res, true
}

// ClaimResult is PollForResult restricted to the session owner. A result
// belonging to someone else stays pending.
func (r *Registry) ClaimResult(m models.Modality, owner string) (models.Reading, bool) {
	s, err := r.slot(m)
	if err != nil {
		return models.Reading{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || s.pending.Owner != owner {
		return models.Reading{}, false
	}
	res := *s.pending
	s.pending = nil
	return res, true
}

// Release forces an active slot back to idle without a result. It reports
// whether the slot was active.
func (r *Registry) Release(m models.Modality, reason string) bool {
	s, err := r.slot(m)
	if err != nil {
		return false
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	owner := s.owner
	s.reset()
	s.mu.Unlock()

	r.log.Warn("Measurement released without result",
		zap.String("modality", m.String()), zap.String("owner", owner), zap.String("reason", reason))
	r.notify(r.event(m, owner, models.EventFailed, nil, reason))
	return true
}

// Owner reports who armed the slot while it is active.
func (r *Registry) Owner(m models.Modality) (string, bool) {
	s, err := r.slot(m)
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner, s.active
}

func (r *Registry) Snapshot() []SlotState {
	states := make([]SlotState, 0, len(models.Modalities))
	for _, m := range models.Modalities {
		s := r.slots[m]
		s.mu.Lock()
		states = append(states, SlotState{
			Modality:  m,
			Owner:     s.owner,
			Active:    s.active,
			Signaled:  s.signaled,
			HasResult: s.pending != nil,
			ArmedAt:   s.armedAt,
		})
		s.mu.Unlock()
	}
	return states
}

func (r *Registry) expire(m models.Modality, generation uint64) {
	s := r.slots[m]

	s.mu.Lock()
	if s.generation != generation || !s.active {
		s.mu.Unlock()
		return
	}
	owner := s.owner
	s.reset()
	s.mu.Unlock()

	r.log.Info("Measurement window expired", zap.String("modality", m.String()))
	r.notify(r.event(m, owner, models.EventExpired, nil, "no result within window"))
}

func (r *Registry) event(m models.Modality, owner string, status models.EventStatus, value *float64, reason string) models.ResultEvent {
	return models.ResultEvent{
		ID:       uuid.NewString(),
		Modality: m,
		Owner:    owner,
		Status:   status,
		Value:    value,
		Reason:   reason,
		At:       r.now(),
	}
}

func (r *Registry) notify(ev models.ResultEvent) {
	for _, n := range r.notifiers {
		n.Notify(ev)
	}
}

// reset must be called with s.mu held.
func (s *slot) reset() {
	s.active = false
	s.signaled = false
	s.pending = nil
	s.stopTimer()
}

func (s *slot) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func eventValue(m models.Modality, r models.Reading) *float64 {
	switch m {
	case models.BodyTemp, models.SpO2, models.BloodPressure:
		v := r.Value
		return &v
	}
	return nil
}
