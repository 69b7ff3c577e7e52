package storage

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
)

// LocalStore is the degraded, process-local appointment store used when
// Postgres is unreachable. Writes land only in this process: ids are
// fabricated with a "local-" prefix and nothing here is replicated to other
// instances or surfaced to subscriptions. It keeps the portal usable during
// an outage at the cost of durability.
type LocalStore struct {
	mu    sync.RWMutex
	appts map[string]model.Appointment
}

func NewLocalStore() *LocalStore {
	return &LocalStore{appts: map[string]model.Appointment{}}
}

func (s *LocalStore) Create(appt model.Appointment) string {
	id := "local-" + uuid.NewString()
	appt.ID = id
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now

	s.mu.Lock()
	s.appts[id] = appt
	s.mu.Unlock()
	return id
}

func (s *LocalStore) Get(id string) (model.Appointment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appts[id]
	return appt, ok
}

func (s *LocalStore) List() []model.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Appointment, 0, len(s.appts))
	for _, appt := range s.appts {
		out = append(out, appt)
	}
	return out
}

func (s *LocalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.appts)
}

// IsLocalID reports whether an id was fabricated by the degraded path.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, "local-")
}
