package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mail-forward-scheduler/internal/models"
)

// ScheduleStore is the durable table of forwarding schedules. It is the
// single source of declared intent; the external mail system holds the
// enforced state and the reconciler corrects drift between the two.
type ScheduleStore interface {
	Create(schedule *models.ForwardingSchedule) error
	GetByID(id string) (*models.ForwardingSchedule, error)
	ListByUser(userEmail string) ([]models.ForwardingSchedule, error)
	ListByUserInStatuses(userEmail string, statuses ...string) ([]models.ForwardingSchedule, error)
	ListDueForActivation(now time.Time) ([]models.ForwardingSchedule, error)
	ListDueForDeactivation(now time.Time) ([]models.ForwardingSchedule, error)

	// TransitionStatus applies status change from -> to only if the row is
	// still in the from status at write time, so two overlapping passes
	// cannot both claim the same transition. externalRuleID is stored when
	// non-nil, left untouched otherwise. Returns false when the row was no
	// longer in the expected status (lost race or already transitioned).
	TransitionStatus(id, from, to string, externalRuleID *string) (bool, error)

	CountInStatuses(statuses ...string) (int64, error)
}

// GormStore implements ScheduleStore on top of gorm/MySQL
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a gorm-backed schedule store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Create persists a new schedule, generating its ID if unset
func (s *GormStore) Create(schedule *models.ForwardingSchedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	if err := s.db.Create(schedule).Error; err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// GetByID returns the schedule with the given id, or nil if absent
func (s *GormStore) GetByID(id string) (*models.ForwardingSchedule, error) {
	var schedule models.ForwardingSchedule
	result := s.db.Where("id = ?", id).First(&schedule)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", result.Error)
	}
	return &schedule, nil
}

// ListByUser returns all schedules for a user, newest first
func (s *GormStore) ListByUser(userEmail string) ([]models.ForwardingSchedule, error) {
	var schedules []models.ForwardingSchedule
	result := s.db.Where("user_email = ?", userEmail).Order("created_at DESC").Find(&schedules)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", result.Error)
	}
	return schedules, nil
}

// ListByUserInStatuses returns a user's schedules in any of the given statuses
func (s *GormStore) ListByUserInStatuses(userEmail string, statuses ...string) ([]models.ForwardingSchedule, error) {
	var schedules []models.ForwardingSchedule
	result := s.db.Where("user_email = ? AND status IN ?", userEmail, statuses).
		Order("created_at ASC").Find(&schedules)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", result.Error)
	}
	return schedules, nil
}

// ListDueForActivation returns PENDING schedules whose window has started
func (s *GormStore) ListDueForActivation(now time.Time) ([]models.ForwardingSchedule, error) {
	var schedules []models.ForwardingSchedule
	result := s.db.Where("status = ? AND starts_at <= ?", models.StatusPending, now).
		Order("created_at ASC").Find(&schedules)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due activations: %w", result.Error)
	}
	return schedules, nil
}

// ListDueForDeactivation returns ACTIVE schedules whose window has ended
func (s *GormStore) ListDueForDeactivation(now time.Time) ([]models.ForwardingSchedule, error) {
	var schedules []models.ForwardingSchedule
	result := s.db.Where("status = ? AND ends_at <= ?", models.StatusActive, now).
		Order("created_at ASC").Find(&schedules)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list due deactivations: %w", result.Error)
	}
	return schedules, nil
}

// TransitionStatus performs the conditional status update described on the
// interface. The WHERE on the old status is what makes concurrent passes safe.
func (s *GormStore) TransitionStatus(id, from, to string, externalRuleID *string) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if externalRuleID != nil {
		updates["external_rule_id"] = *externalRuleID
	}

	result := s.db.Model(&models.ForwardingSchedule{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition schedule %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CountInStatuses counts schedules in any of the given statuses
func (s *GormStore) CountInStatuses(statuses ...string) (int64, error) {
	var count int64
	result := s.db.Model(&models.ForwardingSchedule{}).Where("status IN ?", statuses).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count schedules: %w", result.Error)
	}
	return count, nil
}
