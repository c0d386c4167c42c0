package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushpoint/internal/core"
	"pushpoint/internal/schedule"
	"pushpoint/internal/types"
)

// =============================================================================
// Mock Implementations for Schedule Handler
// =============================================================================

type mockReconciler struct {
	registerFn      func(ctx context.Context, userID, destination string, rules []types.NotificationRule) (*schedule.RegisterResult, error)
	registerTokenFn func(ctx context.Context, userID, destination string) (*types.Schedule, error)
	deleteFn        func(ctx context.Context, userID string, dayOfWeek, timeIndex int) error
	snoozeFn        func(ctx context.Context, userID string, dayOfWeek int, tm, destination string) (string, error)
	deleteAllFn     func(ctx context.Context, userID string) error

	// Track calls for assertions.
	lastRegisterUser  string
	lastRegisterRules []types.NotificationRule
	deleteCalls       []struct {
		UserID    string
		DayOfWeek int
		TimeIndex int
	}
	deleteAllCalls []string
}

func (m *mockReconciler) Register(ctx context.Context, userID, destination string, rules []types.NotificationRule) (*schedule.RegisterResult, error) {
	m.lastRegisterUser = userID
	m.lastRegisterRules = rules
	if m.registerFn != nil {
		return m.registerFn(ctx, userID, destination, rules)
	}
	return &schedule.RegisterResult{Schedule: testSchedule(userID, destination)}, nil
}

func (m *mockReconciler) RegisterToken(ctx context.Context, userID, destination string) (*types.Schedule, error) {
	if m.registerTokenFn != nil {
		return m.registerTokenFn(ctx, userID, destination)
	}
	return testSchedule(userID, destination), nil
}

func (m *mockReconciler) Delete(ctx context.Context, userID string, dayOfWeek, timeIndex int) error {
	m.deleteCalls = append(m.deleteCalls, struct {
		UserID    string
		DayOfWeek int
		TimeIndex int
	}{userID, dayOfWeek, timeIndex})
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, dayOfWeek, timeIndex)
	}
	return nil
}

func (m *mockReconciler) Snooze(ctx context.Context, userID string, dayOfWeek int, tm, destination string) (string, error) {
	if m.snoozeFn != nil {
		return m.snoozeFn(ctx, userID, dayOfWeek, tm, destination)
	}
	return "15:05", nil
}

func (m *mockReconciler) DeleteAll(ctx context.Context, userID string) error {
	m.deleteAllCalls = append(m.deleteAllCalls, userID)
	if m.deleteAllFn != nil {
		return m.deleteAllFn(ctx, userID)
	}
	return nil
}

type mockReader struct {
	findByUserFn func(ctx context.Context, userID string) (*types.Schedule, error)
}

func (m *mockReader) FindByUser(ctx context.Context, userID string) (*types.Schedule, error) {
	if m.findByUserFn != nil {
		return m.findByUserFn(ctx, userID)
	}
	return testSchedule(userID, handlerTestToken), nil
}

type mockSender struct {
	sendFn func(ctx context.Context, destination, title, body string) error
	valid  bool

	sends []struct {
		Destination string
		Title       string
		Body        string
	}
}

func (m *mockSender) IsValidDestination(token string) bool {
	return m.valid
}

func (m *mockSender) Send(ctx context.Context, destination, title, body string) error {
	m.sends = append(m.sends, struct {
		Destination string
		Title       string
		Body        string
	}{destination, title, body})
	if m.sendFn != nil {
		return m.sendFn(ctx, destination, title, body)
	}
	return nil
}

// =============================================================================
// Test Helpers
// =============================================================================

const handlerTestToken = "ExponentPushToken[handler-test-device]"

func testSchedule(userID, destination string) *types.Schedule {
	return &types.Schedule{
		UserID:       userID,
		Destinations: []string{destination},
		Rules: types.NotificationRules{
			{DayOfWeek: 1, Times: []string{"09:00"}, Messages: []string{"stand up"}},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func newTestScheduleHandler() (*ScheduleHandler, *mockReconciler, *mockReader, *mockSender) {
	rec := &mockReconciler{}
	reader := &mockReader{}
	sender := &mockSender{valid: true}

	logger := slog.Default()
	validator := core.NewValidator(logger)

	handler := NewScheduleHandler(rec, reader, sender, validator, logger)
	return handler, rec, reader, sender
}

func newScheduleRouter(handler *ScheduleHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// =============================================================================
// Register Tests
// =============================================================================

func TestScheduleHandler_Register_Success(t *testing.T) {
	handler, rec, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	reqBody := RegisterScheduleRequest{
		UserID:      "user-1",
		Destination: handlerTestToken,
		Rules: []RuleInput{
			{DayOfWeek: 1, Times: []string{"9:00 AM", "6:30 PM"}, Messages: []string{"stand up", "log off"}},
		},
	}

	rr := postJSON(t, router, "/v1/schedule", reqBody)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-1", rec.lastRegisterUser)
	require.Len(t, rec.lastRegisterRules, 1)
	assert.Equal(t, []string{"9:00 AM", "6:30 PM"}, rec.lastRegisterRules[0].Times)

	var resp struct {
		Data schedule.RegisterResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.Data.Schedule.UserID)
	assert.Empty(t, resp.Data.FailedJobs)
}

func TestScheduleHandler_Register_ReportsFailedJobs(t *testing.T) {
	handler, rec, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	rec.registerFn = func(_ context.Context, userID, destination string, _ []types.NotificationRule) (*schedule.RegisterResult, error) {
		return &schedule.RegisterResult{
			Schedule: testSchedule(userID, destination),
			FailedJobs: []schedule.FailedJob{
				{DayOfWeek: 1, Time: "whenever", Reason: "unparseable time"},
			},
		}, nil
	}

	reqBody := RegisterScheduleRequest{
		UserID:      "user-1",
		Destination: handlerTestToken,
		Rules: []RuleInput{
			{DayOfWeek: 1, Times: []string{"whenever"}, Messages: []string{"hm"}},
		},
	}

	rr := postJSON(t, router, "/v1/schedule", reqBody)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data schedule.RegisterResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data.FailedJobs, 1)
	assert.Equal(t, "unparseable time", resp.Data.FailedJobs[0].Reason)
}

func TestScheduleHandler_Register_RejectsMalformedToken(t *testing.T) {
	handler, rec, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	reqBody := RegisterScheduleRequest{
		UserID:      "user-1",
		Destination: "not-a-push-token",
		Rules: []RuleInput{
			{DayOfWeek: 1, Times: []string{"9:00 AM"}, Messages: []string{"hi"}},
		},
	}

	rr := postJSON(t, router, "/v1/schedule", reqBody)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, rec.lastRegisterUser, "reconciler must not be called for invalid input")
}

func TestScheduleHandler_Register_RejectsMalformedJSON(t *testing.T) {
	handler, _, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/v1/schedule", bytes.NewReader([]byte(`{"user_id":`)))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestScheduleHandler_Register_PersistenceFailure(t *testing.T) {
	handler, rec, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	rec.registerFn = func(context.Context, string, string, []types.NotificationRule) (*schedule.RegisterResult, error) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "upsert failed", nil)
	}

	reqBody := RegisterScheduleRequest{
		UserID:      "user-1",
		Destination: handlerTestToken,
		Rules: []RuleInput{
			{DayOfWeek: 1, Times: []string{"9:00 AM"}, Messages: []string{"hi"}},
		},
	}

	rr := postJSON(t, router, "/v1/schedule", reqBody)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), string(types.ErrCodeInternalDB))
}

// =============================================================================
// RegisterToken Tests
// =============================================================================

func TestScheduleHandler_RegisterToken_Success(t *testing.T) {
	handler, _, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	rr := postJSON(t, router, "/v1/schedule/register-token", RegisterTokenRequest{
		UserID:      "user-1",
		Destination: handlerTestToken,
	})

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data types.Schedule `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp.Data.Destinations, handlerTestToken)
}

func TestScheduleHandler_RegisterToken_MissingUserID(t *testing.T) {
	handler, _, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	rr := postJSON(t, router, "/v1/schedule/register-token", RegisterTokenRequest{
		Destination: handlerTestToken,
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// Get Tests
// =============================================================================

func TestScheduleHandler_Get_Success(t *testing.T) {
	handler, _, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/v1/schedule/user-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data types.Schedule `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.Data.UserID)
}

func TestScheduleHandler_Get_NotFound(t *testing.T) {
	handler, _, reader, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	reader.findByUserFn = func(context.Context, string) (*types.Schedule, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", nil)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/schedule/ghost", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =============================================================================
// Delete Tests
// =============================================================================

func TestScheduleHandler_DeleteAll_Success(t *testing.T) {
	handler, rec, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	req := httptest.NewRequest(http.MethodDelete, "/v1/schedule/user-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"user-1"}, rec.deleteAllCalls)
}

func TestScheduleHandler_DeleteSlot_Success(t *testing.T) {
	handler, rec, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	req := httptest.NewRequest(http.MethodDelete, "/v1/schedule/user-1/1/0", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, rec.deleteCalls, 1)
	assert.Equal(t, "user-1", rec.deleteCalls[0].UserID)
	assert.Equal(t, 1, rec.deleteCalls[0].DayOfWeek)
	assert.Equal(t, 0, rec.deleteCalls[0].TimeIndex)
}

func TestScheduleHandler_DeleteSlot_InvalidDayOfWeek(t *testing.T) {
	handler, rec, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	for _, day := range []string{"7", "-1", "monday"} {
		req := httptest.NewRequest(http.MethodDelete, "/v1/schedule/user-1/"+day+"/0", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, "day %q should be rejected", day)
	}
	assert.Empty(t, rec.deleteCalls)
}

func TestScheduleHandler_DeleteSlot_InvalidIndex(t *testing.T) {
	handler, rec, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	req := httptest.NewRequest(http.MethodDelete, "/v1/schedule/user-1/1/first", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, rec.deleteCalls)
}

func TestScheduleHandler_DeleteSlot_UnknownSlot(t *testing.T) {
	handler, rec, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	rec.deleteFn = func(context.Context, string, int, int) error {
		return types.NewAppError(types.ErrCodeNotFoundSlot, "no slot at index", nil)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v1/schedule/user-1/1/9", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =============================================================================
// Snooze Tests
// =============================================================================

func TestScheduleHandler_Snooze_Success(t *testing.T) {
	handler, rec, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	var gotTime string
	rec.snoozeFn = func(_ context.Context, _ string, _ int, tm, _ string) (string, error) {
		gotTime = tm
		return "15:05", nil
	}

	rr := postJSON(t, router, "/v1/schedule/snooze/user-1/2/14:50", SnoozeRequest{
		Destination: handlerTestToken,
	})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "14:50", gotTime)

	var resp struct {
		Data SnoozeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "15:05", resp.Data.NewTime)
}

func TestScheduleHandler_Snooze_EngineFailure(t *testing.T) {
	handler, rec, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	rec.snoozeFn = func(context.Context, string, int, string, string) (string, error) {
		return "", types.NewAppError(types.ErrCodeUpstreamJobEngine, "failed to cancel snoozed job", nil)
	}

	rr := postJSON(t, router, "/v1/schedule/snooze/user-1/2/14:50", SnoozeRequest{
		Destination: handlerTestToken,
	})

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestScheduleHandler_Snooze_MissingDestination(t *testing.T) {
	handler, _, _, _ := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	rr := postJSON(t, router, "/v1/schedule/snooze/user-1/2/14:50", SnoozeRequest{})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// Test Notification Tests
// =============================================================================

func TestScheduleHandler_TestNotification_Success(t *testing.T) {
	handler, _, _, sender := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	rr := postJSON(t, router, "/v1/schedule/test-notification", TestNotificationRequest{
		Destination: handlerTestToken,
		Message:     "hello from the test endpoint",
	})

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, sender.sends, 1)
	assert.Equal(t, handlerTestToken, sender.sends[0].Destination)
	assert.Equal(t, schedule.NotificationTitle, sender.sends[0].Title)
	assert.Equal(t, "hello from the test endpoint", sender.sends[0].Body)
}

func TestScheduleHandler_TestNotification_InvalidDestination(t *testing.T) {
	handler, _, _, sender := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	// Token passes the shape validator but the transport rejects it.
	sender.valid = false

	rr := postJSON(t, router, "/v1/schedule/test-notification", TestNotificationRequest{
		Destination: handlerTestToken,
		Message:     "hello",
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, sender.sends)
}

func TestScheduleHandler_TestNotification_SendFailure(t *testing.T) {
	handler, _, _, sender := newTestScheduleHandler()
	router := newScheduleRouter(handler)

	sender.sendFn = func(context.Context, string, string, string) error {
		return types.NewAppError(types.ErrCodeUpstreamPushProvider, "push provider returned an error", nil)
	}

	rr := postJSON(t, router, "/v1/schedule/test-notification", TestNotificationRequest{
		Destination: handlerTestToken,
		Message:     "hello",
	})

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}
