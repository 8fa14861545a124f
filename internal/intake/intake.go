package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mail-forward-scheduler/internal/gateway"
	"mail-forward-scheduler/internal/models"
	"mail-forward-scheduler/internal/store"
)

// Validation and state errors surfaced to the API layer.
var (
	ErrInvalidWindow      = errors.New("starts_at must be before ends_at")
	ErrMissingDestination = errors.New("forward_to_email is required")
	ErrNotFound           = errors.New("schedule not found")
	ErrNotCancellable     = errors.New("schedule is not pending or active")
)

// Service validates and creates forwarding schedules. It owns the
// single-pending-or-active-per-user invariant: a new schedule always
// supersedes whatever the user had in flight.
type Service struct {
	store   store.ScheduleStore
	gateway gateway.RuleGateway
	now     func() time.Time
}

// NewService creates a schedule intake service
func NewService(scheduleStore store.ScheduleStore, ruleGateway gateway.RuleGateway) *Service {
	return &Service{
		store:   scheduleStore,
		gateway: ruleGateway,
		now:     time.Now,
	}
}

// Create validates the request, supersedes any existing pending or active
// schedule for the user, and persists the new one. When the window is
// already open it activates the external rule immediately; if that call
// fails the schedule is still persisted as PENDING and the returned
// warning tells the caller activation was deferred to the reconciler.
func (s *Service) Create(ctx context.Context, userEmail, forwardToEmail, forwardToName string, startsAt, endsAt time.Time) (*models.ForwardingSchedule, string, error) {
	if forwardToEmail == "" {
		return nil, "", ErrMissingDestination
	}
	if !startsAt.Before(endsAt) {
		return nil, "", ErrInvalidWindow
	}

	if err := s.supersedeExisting(ctx, userEmail); err != nil {
		return nil, "", err
	}

	now := s.now()
	schedule := &models.ForwardingSchedule{
		UserEmail:      userEmail,
		ForwardToEmail: forwardToEmail,
		ForwardToName:  forwardToName,
		StartsAt:       startsAt,
		EndsAt:         endsAt,
		Status:         models.StatusPending,
	}

	warning := ""
	if schedule.WindowContains(now) {
		rule, err := s.gateway.CreateOrUpdateRule(ctx, userEmail, forwardToEmail, forwardToName, true)
		if err != nil {
			// Persist anyway; the reconciler retries activation on its next
			// pass as long as the window is still open.
			logrus.Errorf("Immediate activation failed for %s: %v", userEmail, err)
			warning = fmt.Sprintf("forwarding rule could not be enabled yet: %v; it will be retried shortly", err)
		} else {
			schedule.Status = models.StatusActive
			schedule.ExternalRuleID = &rule.ID
		}
	}

	if err := s.store.Create(schedule); err != nil {
		return nil, "", err
	}

	logrus.Infof("Created forwarding schedule %s for %s -> %s (%s)",
		schedule.ID, userEmail, forwardToEmail, schedule.Status)
	return schedule, warning, nil
}

// Cancel transitions a pending or active schedule to CANCELLED,
// disabling the external rule first when it was active.
func (s *Service) Cancel(ctx context.Context, scheduleID string) (*models.ForwardingSchedule, error) {
	schedule, err := s.store.GetByID(scheduleID)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, ErrNotFound
	}
	if schedule.IsTerminal() {
		return nil, ErrNotCancellable
	}

	if err := s.cancelOne(ctx, schedule); err != nil {
		return nil, err
	}

	cancelled, err := s.store.GetByID(scheduleID)
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// CancelCurrent cancels the caller's pending or active schedule, if any
func (s *Service) CancelCurrent(ctx context.Context, userEmail string) (*models.ForwardingSchedule, error) {
	existing, err := s.store.ListByUserInStatuses(userEmail, models.StatusPending, models.StatusActive)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, ErrNotFound
	}

	// The invariant keeps this to one row; cancel all just in case.
	for i := range existing {
		if err := s.cancelOne(ctx, &existing[i]); err != nil {
			return nil, err
		}
	}
	return s.store.GetByID(existing[len(existing)-1].ID)
}

// supersedeExisting cancels whatever pending or active schedule the user
// already has so the invariant holds before the new row is persisted.
func (s *Service) supersedeExisting(ctx context.Context, userEmail string) error {
	existing, err := s.store.ListByUserInStatuses(userEmail, models.StatusPending, models.StatusActive)
	if err != nil {
		return err
	}

	for i := range existing {
		old := &existing[i]
		logrus.Infof("Superseding schedule %s (%s) for %s", old.ID, old.Status, userEmail)
		if err := s.cancelOne(ctx, old); err != nil {
			return fmt.Errorf("failed to supersede schedule %s: %w", old.ID, err)
		}
	}
	return nil
}

// cancelOne disables the external rule when the schedule was active, then
// marks the row CANCELLED. The store transition proceeds even when the
// external disable fails: intent must never stay in force in the store
// because the mail system was unreachable, and the reconciler is the
// backstop that re-corrects actual external drift. A failed STORE
// transition is a hard error though; callers must not persist a
// replacement row while the old one is still pending or active.
func (s *Service) cancelOne(ctx context.Context, schedule *models.ForwardingSchedule) error {
	if schedule.Status == models.StatusActive && schedule.ExternalRuleID != nil {
		if err := s.gateway.Disable(ctx, schedule.UserEmail, *schedule.ExternalRuleID); err != nil {
			logrus.Errorf("Failed to disable rule for superseded schedule %s: %v", schedule.ID, err)
		}
	}

	applied, err := s.store.TransitionStatus(schedule.ID, schedule.Status, models.StatusCancelled, nil)
	if err != nil {
		return fmt.Errorf("failed to cancel schedule %s: %w", schedule.ID, err)
	}
	if applied {
		return nil
	}

	// The row changed state under us, for example the reconciler activated
	// it between our load and write. Re-read and cancel from its current
	// state; a row that already went terminal needs nothing.
	current, err := s.store.GetByID(schedule.ID)
	if err != nil {
		return err
	}
	if current == nil || current.IsTerminal() {
		return nil
	}

	applied, err = s.store.TransitionStatus(current.ID, current.Status, models.StatusCancelled, nil)
	if err != nil {
		return fmt.Errorf("failed to cancel schedule %s: %w", current.ID, err)
	}
	if !applied {
		return fmt.Errorf("schedule %s could not be driven to CANCELLED", current.ID)
	}
	return nil
}
