package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mail-forward-scheduler/internal/gateway"
	"mail-forward-scheduler/internal/metrics"
	"mail-forward-scheduler/internal/models"
	"mail-forward-scheduler/internal/store"
)

// Notifier is told about window transitions so the mailbox owner can get
// a courtesy email. Calls are best-effort; failures never affect state.
type Notifier interface {
	ScheduleActivated(ctx context.Context, schedule *models.ForwardingSchedule) error
	ScheduleExpired(ctx context.Context, schedule *models.ForwardingSchedule) error
}

// Reconciler compares declared intent in the schedule store against the
// mail system's enforced state and corrects drift. Run is the single
// entry point shared by the interval timer and the on-demand endpoint.
type Reconciler struct {
	store    store.ScheduleStore
	gateway  gateway.RuleGateway
	metrics  *metrics.Metrics
	notifier Notifier
	now      func() time.Time
}

// New creates a reconciler. notifier may be nil.
func New(scheduleStore store.ScheduleStore, ruleGateway gateway.RuleGateway, m *metrics.Metrics, notifier Notifier) *Reconciler {
	return &Reconciler{
		store:    scheduleStore,
		gateway:  ruleGateway,
		metrics:  m,
		notifier: notifier,
		now:      time.Now,
	}
}

// Run executes one reconciliation pass: activate pending schedules whose
// window has opened, expire active ones whose window has closed. Safe to
// call from concurrent triggers; every transition is conditioned on the
// row still being in its expected state at write time, so a lost race
// just skips that row.
func (r *Reconciler) Run(ctx context.Context) models.ReconcileReport {
	started := r.now()
	r.metrics.PassCount.Inc()
	logrus.Info("Starting reconciliation pass")

	var report models.ReconcileReport
	r.activatePass(ctx, &report)
	r.deactivatePass(ctx, &report)
	r.updateGauges()

	duration := time.Since(started)
	r.metrics.PassDuration.Observe(duration.Seconds())
	logrus.Infof("Reconciliation pass completed in %v: activated=%d deactivated=%d missed=%d errors=%d",
		duration, report.Activated, report.Deactivated, report.Missed, len(report.Errors))
	return report
}

// activatePass drives PENDING schedules whose start time has passed.
// A window that fully elapsed before anyone could act on it is counted
// as missed and expired directly; enabling forwarding for it now would
// forward mail for a period already in the past.
func (r *Reconciler) activatePass(ctx context.Context, report *models.ReconcileReport) {
	now := r.now()

	due, err := r.store.ListDueForActivation(now)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("activation scan: %v", err))
		return
	}

	for i := range due {
		schedule := &due[i]

		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("schedule %s: %v", schedule.ID, err))
			return
		}

		if schedule.WindowElapsed(now) {
			applied, err := r.store.TransitionStatus(schedule.ID, models.StatusPending, models.StatusExpired, nil)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("schedule %s: %v", schedule.ID, err))
				continue
			}
			if applied {
				report.Missed++
				r.metrics.MissedWindows.Inc()
				logrus.Warnf("Schedule %s for %s missed its window [%s, %s)",
					schedule.ID, schedule.UserEmail,
					schedule.StartsAt.Format(time.RFC3339), schedule.EndsAt.Format(time.RFC3339))
			}
			continue
		}

		rule, err := r.gateway.CreateOrUpdateRule(ctx, schedule.UserEmail, schedule.ForwardToEmail, schedule.ForwardToName, true)
		if err != nil {
			// Stays PENDING and eligible for retry next pass.
			r.metrics.GatewayFailures.Inc()
			report.Errors = append(report.Errors, fmt.Sprintf("schedule %s: enable failed: %v", schedule.ID, err))
			logrus.Errorf("Failed to enable forwarding for schedule %s: %v", schedule.ID, err)
			continue
		}

		applied, err := r.store.TransitionStatus(schedule.ID, models.StatusPending, models.StatusActive, &rule.ID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("schedule %s: %v", schedule.ID, err))
			continue
		}
		if !applied {
			// A concurrent pass got there first; its gateway call and ours
			// were the same idempotent create-or-update.
			logrus.Infof("Schedule %s already transitioned by a concurrent pass", schedule.ID)
			continue
		}

		report.Activated++
		r.metrics.Activated.Inc()
		logrus.Infof("Activated schedule %s: forwarding %s -> %s until %s",
			schedule.ID, schedule.UserEmail, schedule.ForwardToEmail,
			schedule.EndsAt.Format(time.RFC3339))
		r.notifyActivated(ctx, schedule)
	}
}

// deactivatePass expires ACTIVE schedules whose end time has passed. The
// external disable happens before the store transition so the store never
// claims a window ended while mail is still being forwarded.
func (r *Reconciler) deactivatePass(ctx context.Context, report *models.ReconcileReport) {
	now := r.now()

	due, err := r.store.ListDueForDeactivation(now)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("deactivation scan: %v", err))
		return
	}

	for i := range due {
		schedule := &due[i]

		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("schedule %s: %v", schedule.ID, err))
			return
		}

		ruleID := gateway.RuleName
		if schedule.ExternalRuleID != nil {
			ruleID = *schedule.ExternalRuleID
		}

		if err := r.gateway.Disable(ctx, schedule.UserEmail, ruleID); err != nil {
			// Stays ACTIVE; retried next pass rather than silently expired
			// while the rule may still be forwarding.
			r.metrics.GatewayFailures.Inc()
			report.Errors = append(report.Errors, fmt.Sprintf("schedule %s: disable failed: %v", schedule.ID, err))
			logrus.Errorf("Failed to disable forwarding for schedule %s: %v", schedule.ID, err)
			continue
		}

		applied, err := r.store.TransitionStatus(schedule.ID, models.StatusActive, models.StatusExpired, nil)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("schedule %s: %v", schedule.ID, err))
			continue
		}
		if !applied {
			logrus.Infof("Schedule %s already transitioned by a concurrent pass", schedule.ID)
			continue
		}

		report.Deactivated++
		r.metrics.Deactivated.Inc()
		logrus.Infof("Expired schedule %s: forwarding %s -> %s ended",
			schedule.ID, schedule.UserEmail, schedule.ForwardToEmail)
		r.notifyExpired(ctx, schedule)
	}
}

func (r *Reconciler) notifyActivated(ctx context.Context, schedule *models.ForwardingSchedule) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.ScheduleActivated(ctx, schedule); err != nil {
		logrus.Warnf("Activation notification for schedule %s failed: %v", schedule.ID, err)
	}
}

func (r *Reconciler) notifyExpired(ctx context.Context, schedule *models.ForwardingSchedule) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.ScheduleExpired(ctx, schedule); err != nil {
		logrus.Warnf("Expiry notification for schedule %s failed: %v", schedule.ID, err)
	}
}

func (r *Reconciler) updateGauges() {
	if active, err := r.store.CountInStatuses(models.StatusActive); err == nil {
		r.metrics.ActiveSchedules.Set(float64(active))
	}
	if pending, err := r.store.CountInStatuses(models.StatusPending); err == nil {
		r.metrics.PendingSchedules.Set(float64(pending))
	}
}
