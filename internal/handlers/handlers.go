package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mail-forward-scheduler/internal/config"
	"mail-forward-scheduler/internal/intake"
	"mail-forward-scheduler/internal/models"
	"mail-forward-scheduler/internal/scheduler"
	"mail-forward-scheduler/internal/store"
)

// userHeader carries the caller's mailbox identity, set by the portal's
// auth layer in front of this service.
const userHeader = "X-User-Email"

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	store     store.ScheduleStore
	intake    *intake.Service
	scheduler *scheduler.Scheduler
	trigger   config.TriggerConfig
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, scheduleStore store.ScheduleStore, intakeService *intake.Service, sched *scheduler.Scheduler, trigger config.TriggerConfig) *Handlers {
	return &Handlers{
		db:        db,
		store:     scheduleStore,
		intake:    intakeService,
		scheduler: sched,
		trigger:   trigger,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Health check
	router.GET("/healthz", h.HealthCheck)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api/v1")
	{
		// Forwarding schedules
		api.POST("/schedules", h.CreateSchedule)
		api.GET("/schedules", h.GetSchedules)
		api.GET("/schedules/:id", h.GetSchedule)
		api.DELETE("/schedules/:id", h.CancelSchedule)

		// Reconciliation trigger (shared-secret authenticated)
		api.POST("/reconcile", h.requireTriggerSecret, h.Reconcile)

		// Scheduler status
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := models.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if h.db != nil {
		if err := h.db.Raw("SELECT 1").Error; err != nil {
			response.Status = "error"
			response.Database = "error"
			logrus.Errorf("Database health check failed: %v", err)
		}
	}

	if h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		response.Metrics["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// CreateSchedule creates a forwarding schedule for the calling user,
// superseding any schedule they already have in flight
func (h *Handlers) CreateSchedule(c *gin.Context) {
	userEmail := c.GetHeader(userHeader)
	if userEmail == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "unauthenticated",
			Message: "Caller identity header is missing",
			Code:    http.StatusUnauthorized,
		})
		return
	}

	var req models.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	schedule, warning, err := h.intake.Create(c.Request.Context(), userEmail, req.ForwardToEmail, req.ForwardToName, req.StartsAt, req.EndsAt)
	if err != nil {
		if errors.Is(err, intake.ErrInvalidWindow) || errors.Is(err, intake.ErrMissingDestination) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: err.Error(),
				Code:    http.StatusBadRequest,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to create schedule",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	response := models.NewScheduleResponse(schedule)
	response.Warning = warning
	c.JSON(http.StatusCreated, response)
}

// GetSchedules returns the calling user's schedules, newest first
func (h *Handlers) GetSchedules(c *gin.Context) {
	userEmail := c.GetHeader(userHeader)
	if userEmail == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "unauthenticated",
			Message: "Caller identity header is missing",
			Code:    http.StatusUnauthorized,
		})
		return
	}

	schedules, err := h.store.ListByUser(userEmail)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch schedules",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]models.ScheduleResponse, 0, len(schedules))
	for i := range schedules {
		responses = append(responses, models.NewScheduleResponse(&schedules[i]))
	}

	c.JSON(http.StatusOK, responses)
}

// GetSchedule returns a specific schedule
func (h *Handlers) GetSchedule(c *gin.Context) {
	schedule, err := h.store.GetByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch schedule",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if schedule == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Schedule not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, models.NewScheduleResponse(schedule))
}

// CancelSchedule cancels a schedule. The literal id "current" cancels the
// calling user's pending or active schedule.
func (h *Handlers) CancelSchedule(c *gin.Context) {
	var (
		schedule *models.ForwardingSchedule
		err      error
	)

	if id := c.Param("id"); id == "current" {
		userEmail := c.GetHeader(userHeader)
		if userEmail == "" {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "unauthenticated",
				Message: "Caller identity header is missing",
				Code:    http.StatusUnauthorized,
			})
			return
		}
		schedule, err = h.intake.CancelCurrent(c.Request.Context(), userEmail)
	} else {
		schedule, err = h.intake.Cancel(c.Request.Context(), id)
	}

	if err != nil {
		switch {
		case errors.Is(err, intake.ErrNotFound):
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "not_found",
				Message: "Schedule not found",
				Code:    http.StatusNotFound,
			})
		case errors.Is(err, intake.ErrNotCancellable):
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "not_cancellable",
				Message: "Schedule is not pending or active",
				Code:    http.StatusConflict,
			})
		default:
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "database_error",
				Message: "Failed to cancel schedule",
				Code:    http.StatusInternalServerError,
			})
		}
		return
	}

	c.JSON(http.StatusOK, models.NewScheduleResponse(schedule))
}

// Reconcile runs one reconciliation pass on demand. Same entry point as
// the interval trigger.
func (h *Handlers) Reconcile(c *gin.Context) {
	report := h.scheduler.RunOnce(c.Request.Context())
	c.JSON(http.StatusOK, report)
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.scheduler.GetNextRun(),
		"last_run": h.scheduler.GetLastRun(),
	})
}

// requireTriggerSecret authenticates the reconcile trigger with the
// shared secret, taken from a bearer header or a query parameter. When no
// secret is configured the request is allowed only outside production.
func (h *Handlers) requireTriggerSecret(c *gin.Context) {
	if h.trigger.Secret == "" {
		if h.trigger.IsProduction() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, models.ErrorResponse{
				Error:   "trigger_disabled",
				Message: "No trigger secret configured",
				Code:    http.StatusServiceUnavailable,
			})
			return
		}
		// development-mode bypass
		c.Next()
		return
	}

	provided := c.Query("secret")
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		provided = strings.TrimPrefix(auth, "Bearer ")
	}

	if provided != h.trigger.Secret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "unauthorized",
			Message: "Invalid or missing trigger secret",
			Code:    http.StatusUnauthorized,
		})
		return
	}

	c.Next()
}
