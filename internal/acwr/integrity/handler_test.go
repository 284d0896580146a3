package integrity_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/results"
	"github.com/robkhoughton/trainingmonkey/internal/middleware"
)

func newRouter(t *testing.T) (*mux.Router, *MockrollbackService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockService := NewMockrollbackService(ctrl)
	r := mux.NewRouter()
	integrity.NewHandler(mockService).SetupRoutes(r)
	return r, mockService
}

func serve(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req = req.WithContext(middleware.WithOperator(req.Context(), "rob"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHandler_HandleRollback(t *testing.T) {
	r, mockService := newRouter(t)

	mockService.EXPECT().
		Rollback(gomock.Any(), integrity.RollbackRequest{
			MigrationID: "m1",
			Scope:       integrity.ScopeSingleBatch,
			Target:      3,
			Reason:      "wrong decay",
			InitiatedBy: "rob",
		}).
		Return(&integrity.RollbackRecord{ID: "rb-1", MigrationID: "m1", Status: integrity.RollbackCompleted, AffectedRecords: 12}, nil)

	rr := serve(r, "POST", "/acwr/migrations/m1/rollback", integrity.RollbackRequestBody{
		Scope:  integrity.ScopeSingleBatch,
		Target: 3,
		Reason: "wrong decay",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp integrity.RollbackResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Rollback)
	assert.Equal(t, integrity.RollbackCompleted, resp.Rollback.Status)
	assert.Equal(t, 12, resp.Rollback.AffectedRecords)
	assert.Empty(t, resp.Error)
}

func TestHandler_HandleRollback_Failure(t *testing.T) {
	r, mockService := newRouter(t)

	mockService.EXPECT().
		Rollback(gomock.Any(), gomock.Any()).
		Return(
			&integrity.RollbackRecord{ID: "rb-2", MigrationID: "m1", Status: integrity.RollbackFailed},
			&acwrerr.RollbackFailure{RollbackID: "rb-2", MigrationID: "m1", Reason: "restored state differs"},
		)
	rr := serve(r, "POST", "/acwr/migrations/m1/rollback", integrity.RollbackRequestBody{Scope: integrity.ScopeFullSystem, Reason: "x"})
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var resp integrity.RollbackResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "rb-2", resp.Rollback.ID)
	assert.Contains(t, resp.Error, "restored state differs")

	mockService.EXPECT().
		Rollback(gomock.Any(), gomock.Any()).
		Return(nil, acwrerr.NewValidation("reason", "must not be empty"))
	rr = serve(r, "POST", "/acwr/migrations/m1/rollback", integrity.RollbackRequestBody{Scope: integrity.ScopeFullSystem})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	mockService.EXPECT().
		Rollback(gomock.Any(), gomock.Any()).
		Return(&integrity.RollbackRecord{ID: "rb-3", Status: integrity.RollbackFailed}, acwrerr.NewConflict("migration m1 is running"))
	rr = serve(r, "POST", "/acwr/migrations/m1/rollback", integrity.RollbackRequestBody{Scope: integrity.ScopeFullSystem, Reason: "x"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandler_HandleRollback_InvalidContentType(t *testing.T) {
	r, _ := newRouter(t)

	req := httptest.NewRequest("POST", "/acwr/migrations/m1/rollback", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_HandleGetAndList(t *testing.T) {
	r, mockService := newRouter(t)

	mockService.EXPECT().Get(gomock.Any(), "rb-1").Return(&integrity.RollbackRecord{ID: "rb-1", Status: integrity.RollbackExecuting}, nil)
	rr := serve(r, "GET", "/acwr/rollbacks/rb-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"executing"`)

	mockService.EXPECT().Get(gomock.Any(), "none").Return(nil, acwrerr.NewNotFound("rollback", "none"))
	rr = serve(r, "GET", "/acwr/rollbacks/none", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	mockService.EXPECT().List(gomock.Any(), "m1").Return(nil, nil)
	rr = serve(r, "GET", "/acwr/migrations/m1/rollbacks", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestHandler_HandleAudit(t *testing.T) {
	r, mockService := newRouter(t)

	mockService.EXPECT().Audit(gomock.Any(), "rb-1").Return([]integrity.AuditEntry{
		{ID: 1, RollbackID: "rb-1", Status: integrity.RollbackPreparing, Message: "selecting"},
		{ID: 2, RollbackID: "rb-1", Status: integrity.RollbackCompleted, AffectedRecords: 4},
	}, nil)
	rr := serve(r, "GET", "/acwr/rollbacks/rb-1/audit", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp integrity.AuditResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "rb-1", resp.RollbackID)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, integrity.RollbackCompleted, resp.Entries[1].Status)
}

func TestHandler_HandleCheckpoints(t *testing.T) {
	r, mockService := newRouter(t)

	row := fakeResult(1, day0, 1)
	mockService.EXPECT().
		Checkpoints(gomock.Any(), integrity.CheckpointFilter{MigrationID: "m1", IncludeBackups: true}).
		Return([]integrity.Checkpoint{{
			ID:           "cp-1",
			MigrationID:  "m1",
			UserID:       1,
			BatchID:      1,
			CreatedAt:    time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
			Snapshot:     []results.Result{row},
			RollbackData: integrity.RollbackData{Keys: []results.Key{row.Key(), results.NewKey(1, day0.AddDate(0, 0, 1), 1)}},
			Checksum:     "abc",
		}}, nil)

	rr := serve(r, "GET", "/acwr/migrations/m1/checkpoints?include_backups=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var summaries []integrity.CheckpointSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].Rows)
	assert.Equal(t, 2, summaries[0].Keys)
	assert.Equal(t, "2024-03-02T10:00:00.000000Z", summaries[0].CreatedAt)
	assert.NotContains(t, rr.Body.String(), "dataSnapshot")
}

func TestHandler_HandleCheckpoints_Filters(t *testing.T) {
	r, mockService := newRouter(t)

	user, cfg := int64(7), int64(3)
	mockService.EXPECT().
		Checkpoints(gomock.Any(), integrity.CheckpointFilter{MigrationID: "m1", UserID: &user, ConfigurationID: &cfg}).
		Return([]integrity.Checkpoint{}, nil)

	rr := serve(r, "GET", "/acwr/migrations/m1/checkpoints?user_id=7&configuration_id=3", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(r, "GET", "/acwr/migrations/m1/checkpoints?user_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
