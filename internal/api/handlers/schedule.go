// Package handlers contains the HTTP handler implementations for the PushPoint API.
//
// This file implements the schedule handler. It covers:
//   - Registering push tokens and full notification schedules
//   - Fetching, deleting (full document and single slot), and snoozing
//   - One-off test notifications
//   - Route registration
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pushpoint/internal/core"
	"pushpoint/internal/schedule"
	"pushpoint/internal/types"
)

// --- Service Interfaces ---
//
// These interfaces are defined locally following the handler injection
// pattern: the handler depends on abstractions for testability and to avoid
// coupling to concrete implementations.

// ScheduleReconciler drives the schedule mutations. Mirrors the concrete
// schedule.Reconciler methods used by this handler.
type ScheduleReconciler interface {
	Register(ctx context.Context, userID, destination string, rules []types.NotificationRule) (*schedule.RegisterResult, error)
	RegisterToken(ctx context.Context, userID, destination string) (*types.Schedule, error)
	Delete(ctx context.Context, userID string, dayOfWeek, timeIndex int) error
	Snooze(ctx context.Context, userID string, dayOfWeek int, tm, destination string) (string, error)
	DeleteAll(ctx context.Context, userID string) error
}

// ScheduleReader provides read access to stored schedules.
type ScheduleReader interface {
	FindByUser(ctx context.Context, userID string) (*types.Schedule, error)
}

// PushSender sends a single push immediately, outside any recurring job.
// Mirrors the concrete external.ExpoClient methods used by this handler.
type PushSender interface {
	IsValidDestination(token string) bool
	Send(ctx context.Context, destination, title, body string) error
}

// --- Request/Response Models ---

// RuleInput is one incoming notification rule in a register request.
type RuleInput struct {
	DayOfWeek int      `json:"day_of_week" validate:"day_of_week"`
	Times     []string `json:"times" validate:"required,min=1"`
	Messages  []string `json:"messages" validate:"required,min=1"`
}

// RegisterScheduleRequest is the request body for POST /v1/schedule.
type RegisterScheduleRequest struct {
	UserID      string      `json:"user_id" validate:"required"`
	Destination string      `json:"destination" validate:"required,push_token"`
	Rules       []RuleInput `json:"rules" validate:"required,min=1,dive"`
}

// RegisterTokenRequest is the request body for POST /v1/schedule/register-token.
type RegisterTokenRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	Destination string `json:"destination" validate:"required,push_token"`
}

// SnoozeRequest is the request body for POST /v1/schedule/snooze/....
type SnoozeRequest struct {
	Destination string `json:"destination" validate:"required,push_token"`
}

// SnoozeResponse carries the rescheduled slot time back to the caller.
type SnoozeResponse struct {
	NewTime string `json:"new_time"`
}

// TestNotificationRequest is the request body for POST /v1/schedule/test-notification.
type TestNotificationRequest struct {
	Destination string `json:"destination" validate:"required,push_token"`
	Message     string `json:"message" validate:"required"`
}

// TestNotificationResponse acknowledges a delivered test push.
type TestNotificationResponse struct {
	Delivered bool `json:"delivered"`
}

// --- Handler ---

// ScheduleHandler manages schedule registration, mutation, and test pushes.
type ScheduleHandler struct {
	reconciler ScheduleReconciler
	reader     ScheduleReader
	sender     PushSender
	validator  *core.Validator
	logger     *slog.Logger
}

// NewScheduleHandler creates a new ScheduleHandler with the provided dependencies.
func NewScheduleHandler(
	reconciler ScheduleReconciler,
	reader ScheduleReader,
	sender PushSender,
	v *core.Validator,
	l *slog.Logger,
) *ScheduleHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ScheduleHandler{
		reconciler: reconciler,
		reader:     reader,
		sender:     sender,
		validator:  v,
		logger:     l,
	}
}

// RegisterRoutes mounts schedule routes on the provided chi.Router.
func (h *ScheduleHandler) RegisterRoutes(r chi.Router) {
	r.Route("/schedule", func(r chi.Router) {
		r.Post("/", h.Register)
		r.Post("/register-token", h.RegisterToken)
		r.Post("/test-notification", h.TestNotification)
		r.Post("/snooze/{userID}/{dayOfWeek}/{time}", h.Snooze)

		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.DeleteAll)
			r.Delete("/{dayOfWeek}/{index}", h.DeleteSlot)
		})
	})
}

// --- Handler Methods ---

// Register handles POST /v1/schedule.
//
// Decodes and validates the batch, then hands it to the reconciler. Job
// registration failures inside the batch are advisory and surface in the
// failed_jobs field of the 200 response; only validation or persistence
// failures fail the call.
func (h *ScheduleHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	rules := make([]types.NotificationRule, len(req.Rules))
	for i, in := range req.Rules {
		rules[i] = types.NotificationRule{
			DayOfWeek: in.DayOfWeek,
			Times:     in.Times,
			Messages:  in.Messages,
		}
	}

	result, err := h.reconciler.Register(r.Context(), req.UserID, req.Destination, rules)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if len(result.FailedJobs) > 0 {
		h.logger.WarnContext(r.Context(), "schedule registered with job failures",
			"user_id", req.UserID,
			"failed_jobs", len(result.FailedJobs),
		)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// RegisterToken handles POST /v1/schedule/register-token.
//
// Adds a push destination to the user's schedule without touching rules,
// creating the schedule document if it does not exist yet.
func (h *ScheduleHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	var req RegisterTokenRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sched, err := h.reconciler.RegisterToken(r.Context(), req.UserID, req.Destination)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: sched})
}

// Get handles GET /v1/schedule/{userID}.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	sched, err := h.reader.FindByUser(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: sched})
}

// DeleteAll handles DELETE /v1/schedule/{userID}.
//
// Cancels every derivable recurring job before removing the stored document,
// so a cancellation failure retains the document for a later retry.
func (h *ScheduleHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.reconciler.DeleteAll(r.Context(), userID); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteSlot handles DELETE /v1/schedule/{userID}/{dayOfWeek}/{index}.
//
// Removes a single notification slot. The job key is recomputed from the
// stored time at that index, and the job is cancelled before the slot is
// removed from the store.
func (h *ScheduleHandler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	dayOfWeek, appErr := parseDayOfWeek(chi.URLParam(r, "dayOfWeek"))
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"time index must be a non-negative integer",
			nil,
			map[string]any{"index": chi.URLParam(r, "index")},
		))
		return
	}

	if err := h.reconciler.Delete(r.Context(), userID, dayOfWeek, index); err != nil {
		core.Error(w, r, err)
		return
	}

	sched, err := h.reader.FindByUser(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: sched})
}

// Snooze handles POST /v1/schedule/snooze/{userID}/{dayOfWeek}/{time}.
//
// Pushes the matching slot 15 minutes forward: the existing job is cancelled
// and a replacement registered before the store is updated, so an engine
// failure leaves the prior slot intact.
func (h *ScheduleHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	dayOfWeek, appErr := parseDayOfWeek(chi.URLParam(r, "dayOfWeek"))
	if appErr != nil {
		core.Error(w, r, appErr)
		return
	}

	slotTime := chi.URLParam(r, "time")

	var req SnoozeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	newTime, err := h.reconciler.Snooze(r.Context(), userID, dayOfWeek, slotTime, req.Destination)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: SnoozeResponse{NewTime: newTime}})
}

// TestNotification handles POST /v1/schedule/test-notification.
//
// Sends one immediate push through the transport, bypassing the job engine.
// The destination is validated against the transport's own predicate first.
func (h *ScheduleHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	var req TestNotificationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if !h.sender.IsValidDestination(req.Destination) {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidDestination,
			"destination is not a well-formed push token",
			nil,
		))
		return
	}

	if err := h.sender.Send(r.Context(), req.Destination, schedule.NotificationTitle, req.Message); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: TestNotificationResponse{Delivered: true}})
}

// parseDayOfWeek parses and range-checks a day-of-week path parameter.
func parseDayOfWeek(raw string) (int, *types.AppError) {
	day, err := strconv.Atoi(raw)
	if err != nil || !types.ValidDayOfWeek(day) {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidDayOfWeek,
			"day of week must be an integer between 0 (Sunday) and 6 (Saturday)",
			nil,
			map[string]any{"day_of_week": raw},
		)
	}
	return day, nil
}
