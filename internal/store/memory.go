package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mail-forward-scheduler/internal/models"
)

// MemoryStore is an in-memory ScheduleStore with the same conditional
// transition semantics as the gorm implementation. Used in tests.
type MemoryStore struct {
	mu        sync.Mutex
	schedules map[string]models.ForwardingSchedule
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{schedules: make(map[string]models.ForwardingSchedule)}
}

func (s *MemoryStore) Create(schedule *models.ForwardingSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now()
	}
	schedule.UpdatedAt = schedule.CreatedAt
	s.schedules[schedule.ID] = *schedule
	return nil
}

func (s *MemoryStore) GetByID(id string) (*models.ForwardingSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return nil, nil
	}
	return &schedule, nil
}

func (s *MemoryStore) ListByUser(userEmail string) ([]models.ForwardingSchedule, error) {
	return s.filter(func(sc models.ForwardingSchedule) bool {
		return sc.UserEmail == userEmail
	}, true), nil
}

func (s *MemoryStore) ListByUserInStatuses(userEmail string, statuses ...string) ([]models.ForwardingSchedule, error) {
	return s.filter(func(sc models.ForwardingSchedule) bool {
		return sc.UserEmail == userEmail && statusIn(sc.Status, statuses)
	}, false), nil
}

func (s *MemoryStore) ListDueForActivation(now time.Time) ([]models.ForwardingSchedule, error) {
	return s.filter(func(sc models.ForwardingSchedule) bool {
		return sc.Status == models.StatusPending && !sc.StartsAt.After(now)
	}, false), nil
}

func (s *MemoryStore) ListDueForDeactivation(now time.Time) ([]models.ForwardingSchedule, error) {
	return s.filter(func(sc models.ForwardingSchedule) bool {
		return sc.Status == models.StatusActive && !sc.EndsAt.After(now)
	}, false), nil
}

func (s *MemoryStore) TransitionStatus(id, from, to string, externalRuleID *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok || schedule.Status != from {
		return false, nil
	}

	schedule.Status = to
	if externalRuleID != nil {
		ruleID := *externalRuleID
		schedule.ExternalRuleID = &ruleID
	}
	schedule.UpdatedAt = time.Now()
	s.schedules[id] = schedule
	return true, nil
}

func (s *MemoryStore) CountInStatuses(statuses ...string) (int64, error) {
	matched := s.filter(func(sc models.ForwardingSchedule) bool {
		return statusIn(sc.Status, statuses)
	}, false)
	return int64(len(matched)), nil
}

func (s *MemoryStore) filter(keep func(models.ForwardingSchedule) bool, newestFirst bool) []models.ForwardingSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ForwardingSchedule
	for _, schedule := range s.schedules {
		if keep(schedule) {
			out = append(out, schedule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func statusIn(status string, statuses []string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
