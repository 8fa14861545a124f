package models

import (
	"time"
)

// Schedule status values. EXPIRED and CANCELLED are terminal; rows are
// never hard-deleted so history stays queryable.
const (
	StatusPending   = "PENDING"
	StatusActive    = "ACTIVE"
	StatusExpired   = "EXPIRED"
	StatusCancelled = "CANCELLED"
)

// ForwardingSchedule represents one declared forwarding intent: forward
// UserEmail's mail to ForwardToEmail for the half-open window
// [StartsAt, EndsAt). ExternalRuleID is set once the rule has actually
// been created in the mail system.
type ForwardingSchedule struct {
	ID             string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserEmail      string    `json:"user_email" gorm:"type:varchar(255);not null;index"`
	ForwardToEmail string    `json:"forward_to_email" gorm:"type:varchar(255);not null"`
	ForwardToName  string    `json:"forward_to_name" gorm:"type:varchar(255)"`
	StartsAt       time.Time `json:"starts_at" gorm:"not null"`
	EndsAt         time.Time `json:"ends_at" gorm:"not null"`
	Status         string    `json:"status" gorm:"type:varchar(20);not null;index"`
	ExternalRuleID *string   `json:"external_rule_id" gorm:"type:varchar(255)"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for ForwardingSchedule
func (ForwardingSchedule) TableName() string {
	return "forwarding_schedules"
}

// IsTerminal reports whether the schedule is in a terminal state
func (s *ForwardingSchedule) IsTerminal() bool {
	return s.Status == StatusExpired || s.Status == StatusCancelled
}

// WindowContains reports whether t falls inside the activation window
func (s *ForwardingSchedule) WindowContains(t time.Time) bool {
	return !t.Before(s.StartsAt) && t.Before(s.EndsAt)
}

// WindowElapsed reports whether the entire window lies in the past
func (s *ForwardingSchedule) WindowElapsed(t time.Time) bool {
	return !t.Before(s.EndsAt)
}

// ScheduleRequest represents the request structure for creating a schedule
type ScheduleRequest struct {
	ForwardToEmail string    `json:"forward_to_email" binding:"required,email"`
	ForwardToName  string    `json:"forward_to_name"`
	StartsAt       time.Time `json:"starts_at" binding:"required"`
	EndsAt         time.Time `json:"ends_at" binding:"required"`
}

// ScheduleResponse represents the response structure for schedules
type ScheduleResponse struct {
	ID             string    `json:"id"`
	UserEmail      string    `json:"user_email"`
	ForwardToEmail string    `json:"forward_to_email"`
	ForwardToName  string    `json:"forward_to_name,omitempty"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	Status         string    `json:"status"`
	ExternalRuleID *string   `json:"external_rule_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Warning        string    `json:"warning,omitempty"`
}

// NewScheduleResponse converts a schedule to its response form
func NewScheduleResponse(s *ForwardingSchedule) ScheduleResponse {
	return ScheduleResponse{
		ID:             s.ID,
		UserEmail:      s.UserEmail,
		ForwardToEmail: s.ForwardToEmail,
		ForwardToName:  s.ForwardToName,
		StartsAt:       s.StartsAt,
		EndsAt:         s.EndsAt,
		Status:         s.Status,
		ExternalRuleID: s.ExternalRuleID,
		CreatedAt:      s.CreatedAt,
	}
}

// ReconcileReport summarizes one reconciliation pass
type ReconcileReport struct {
	Activated   int      `json:"activated"`
	Deactivated int      `json:"deactivated"`
	Missed      int      `json:"missed"`
	Errors      []string `json:"errors,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
