package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/infra/logger"
)

// MockStatsService is a mock implementation of StatsService
type MockStatsService struct {
	mock.Mock
}

func (m *MockStatsService) Compute(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(map[string]int)
	return stats, args.Error(1)
}

// MockHistoryService is a mock implementation of HistoryService
type MockHistoryService struct {
	mock.Mock
}

func (m *MockHistoryService) List(ctx context.Context, filter domain.ActionFilter) ([]*domain.Action, error) {
	args := m.Called(ctx, filter)
	actions, _ := args.Get(0).([]*domain.Action)
	return actions, args.Error(1)
}

func (m *MockHistoryService) ListRuns(ctx context.Context, limit int) ([]*domain.AuditRun, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]*domain.AuditRun)
	return runs, args.Error(1)
}

type failingPing struct{ err error }

func (p failingPing) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T, stats *MockStatsService, history *MockHistoryService) (*mux.Router, string) {
	t.Helper()
	tokens, err := NewTokenService("test-secret", "sqlaudit", time.Hour)
	require.NoError(t, err)
	token, err := tokens.Generate("auditor")
	require.NoError(t, err)

	return NewRouter(NewAuditHandler(stats, history), tokens, nil, nil, logger.NewNop()), token
}

func serve(router http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAuditHandler_GetStats(t *testing.T) {
	tests := []struct {
		name           string
		mockStats      map[string]int
		mockError      error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "stats computed",
			mockStats:      map[string]int{"runs_total": 2},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":true,"message":"Stats computed successfully","data":{"runs_total":2}}`,
		},
		{
			name:           "store busy",
			mockError:      &domain.PersistenceConflictError{Operation: "read"},
			expectedStatus: http.StatusConflict,
			expectedBody:   `{"status":false,"message":"Store is busy, retry later","data":null,"code":"STORE_3001"}`,
		},
		{
			name:           "unexpected failure",
			mockError:      assert.AnError,
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":false,"message":"Internal server error","data":null,"code":"internal_error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := &MockStatsService{}
			stats.On("Compute", mock.Anything).Return(tt.mockStats, tt.mockError)
			router, token := newTestRouter(t, stats, &MockHistoryService{})

			rr := serve(router, "/api/v1/stats", token)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.JSONEq(t, tt.expectedBody, rr.Body.String())
			stats.AssertExpectations(t)
		})
	}
}

func TestAuditHandler_ListActions(t *testing.T) {
	runID := int64(4)
	key := domain.EntityKey("sql01|master|login|sa|sa_account_enabled")
	regressed := domain.ActionRegressed

	tests := []struct {
		name           string
		path           string
		expectFilter   *domain.ActionFilter
		expectedStatus int
	}{
		{
			name:           "filters by run entity and type",
			path:           "/api/v1/actions?run=4&entity=SQL01|Master|login|sa|sa_account_enabled&type=REGRESSED&limit=5",
			expectFilter:   &domain.ActionFilter{SyncRunID: &runID, EntityKey: &key, ActionType: &regressed, Limit: 5},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid run",
			path:           "/api/v1/actions?run=abc",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown type",
			path:           "/api/v1/actions?type=FIXED",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "negative limit",
			path:           "/api/v1/actions?limit=-1",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &MockHistoryService{}
			if tt.expectFilter != nil {
				history.On("List", mock.Anything, *tt.expectFilter).Return([]*domain.Action{{ID: "a1", EntityKey: key}}, nil)
			}
			router, token := newTestRouter(t, &MockStatsService{}, history)

			rr := serve(router, tt.path, token)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectFilter != nil {
				assert.Contains(t, rr.Body.String(), `"total":1`)
			}
			history.AssertExpectations(t)
		})
	}
}

func TestAuditHandler_ListRuns(t *testing.T) {
	history := &MockHistoryService{}
	history.On("ListRuns", mock.Anything, 0).Return([]*domain.AuditRun{{ID: 1, Status: domain.RunStatusCompleted}}, nil)
	router, token := newTestRouter(t, &MockStatsService{}, history)

	rr := serve(router, "/api/v1/runs", token)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"COMPLETED"`)
	history.AssertExpectations(t)
}

func TestRouter_Auth(t *testing.T) {
	router, _ := newTestRouter(t, &MockStatsService{}, &MockHistoryService{})

	rr := serve(router, "/api/v1/stats", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(router, "/api/v1/stats", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	other, err := NewTokenService("other-secret", "sqlaudit", time.Hour)
	require.NoError(t, err)
	forged, err := other.Generate("auditor")
	require.NoError(t, err)
	rr = serve(router, "/api/v1/stats", forged)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_HealthAndCorrelation(t *testing.T) {
	tokens, err := NewTokenService("s", "", time.Hour)
	require.NoError(t, err)
	router := NewRouter(NewAuditHandler(&MockStatsService{}, &MockHistoryService{}), tokens, nil, nil, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(correlationHeader, "req-42")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "req-42", rr.Header().Get(correlationHeader))

	down := NewRouter(NewAuditHandler(&MockStatsService{}, &MockHistoryService{}), tokens, failingPing{assert.AnError}, nil, nil)
	rr = serve(down, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(correlationHeader))
}

func TestTokenService_Expired(t *testing.T) {
	tokens, err := NewTokenService("s", "sqlaudit", time.Minute)
	require.NoError(t, err)
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return issued }
	token, err := tokens.Generate("auditor")
	require.NoError(t, err)

	claims, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "auditor", claims.Subject)

	tokens.now = func() time.Time { return issued.Add(time.Hour) }
	_, err = tokens.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := NewTokenService("", "", 0)
	assert.Error(t, err)
}
