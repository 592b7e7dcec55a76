package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Daskott/deadman/server/clock"
	"github.com/Daskott/deadman/server/dispatch"
	"github.com/Daskott/deadman/server/engine"
	"github.com/Daskott/deadman/server/gstorage"
	"github.com/Daskott/deadman/server/models"
	"github.com/Daskott/deadman/server/notify"
	"github.com/Daskott/deadman/server/store"
	"github.com/Daskott/deadman/server/work"
	"github.com/Daskott/deadman/shared"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type response struct {
	Errors  []string        `json:"errors"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*Server, *clock.Fake) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), store.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	st := store.New(db)
	require.NoError(t, st.Migrate())

	clk := clock.NewFake(t0)
	s := &Server{config: &shared.ServerConfig{}, clock: clk, store: st}

	// Workers are never started, queued jobs stay in the table
	s.workers = work.NewWorkerAdapter(st, "UTC", 1)
	s.dispatcher = dispatch.New(st, s.workers, notify.NewRouter(notify.LogChannel{}), clk, dispatch.Options{})
	s.engine = engine.New(st, clk, s.dispatcher)
	require.NoError(t, s.registerJobHandlers())

	return s, clk
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (int, response) {
	t.Helper()

	var reader bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reader).Encode(body))
	}

	req := httptest.NewRequest(method, path, &reader)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	res := response{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	}
	return rec.Code, res
}

func createTestSwitch(t *testing.T, s *Server) map[string]interface{} {
	t.Helper()

	code, res := do(t, s, "POST", "/switches", map[string]interface{}{
		"user_id":                 7,
		"name":                    "Solo sailing",
		"check_in_interval_hours": 24,
		"grace_period_hours":      2,
	})
	require.Equal(t, http.StatusCreated, code, res.Errors)

	sw := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(res.Data, &sw))
	return sw
}

func TestCreateSwitchAndReadStatus(t *testing.T) {
	s, clk := newTestServer(t)
	sw := createTestSwitch(t, s)

	assert.Equal(t, "active", sw["status"])
	assert.Equal(t, true, sw["is_enabled"])
	assert.Equal(t, "24h0m0s", sw["time_remaining"])

	clk.Advance(27 * time.Hour)

	code, res := do(t, s, "GET", fmt.Sprintf("/switches/%v/status", sw["id"]), nil)
	require.Equal(t, http.StatusOK, code)

	status := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(res.Data, &status))
	assert.Equal(t, true, status["is_overdue"])
	assert.Equal(t, "0s", status["time_remaining"])
}

func TestCreateSwitchValidation(t *testing.T) {
	s, _ := newTestServer(t)

	code, res := do(t, s, "POST", "/switches", map[string]interface{}{
		"user_id": 7, "name": "x", "check_in_interval_hours": 0,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, res.Errors)

	code, _ = do(t, s, "POST", "/switches", map[string]interface{}{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, code)

	// Large enough to overflow time.Duration once converted from hours
	for _, body := range []map[string]interface{}{
		{"user_id": 7, "name": "x", "check_in_interval_hours": 3000000},
		{"user_id": 7, "name": "x", "check_in_interval_hours": 24, "grace_period_hours": 3000000},
		{"user_id": 7, "name": "x", "check_in_interval_hours": 8785},
	} {
		code, res = do(t, s, "POST", "/switches", body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.NotEmpty(t, res.Errors)
	}

	code, res = do(t, s, "POST", "/switches", map[string]interface{}{
		"user_id": 7, "name": "x", "check_in_interval_hours": 8784, "grace_period_hours": 8784,
	})
	assert.Equal(t, http.StatusCreated, code, res.Errors)
}

func TestCheckInEndpoint(t *testing.T) {
	s, clk := newTestServer(t)
	sw := createTestSwitch(t, s)
	path := fmt.Sprintf("/switches/%v/check-in", sw["id"])

	clk.Advance(time.Hour)
	code, res := do(t, s, "POST", path, map[string]interface{}{"user_id": 7, "notes": "all good"})
	require.Equal(t, http.StatusOK, code, res.Errors)

	code, _ = do(t, s, "POST", path, map[string]interface{}{"user_id": 8})
	assert.Equal(t, http.StatusNotFound, code, "someone else's switch")

	code, _ = do(t, s, "POST", "/switches/999/check-in", map[string]interface{}{"user_id": 7})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, s, "POST", "/switches/abc/check-in", map[string]interface{}{"user_id": 7})
	assert.Equal(t, http.StatusBadRequest, code)

	code, res = do(t, s, "GET", fmt.Sprintf("/switches/%v/check-ins", sw["id"]), nil)
	require.Equal(t, http.StatusOK, code)

	checkIns := []models.CheckIn{}
	require.NoError(t, json.Unmarshal(res.Data, &checkIns))
	require.Len(t, checkIns, 1)
	assert.Equal(t, "all good", checkIns[0].Notes)
	assert.NotEmpty(t, checkIns[0].IPAddress)
}

func TestPausedSwitchRefusesCheckIn(t *testing.T) {
	s, _ := newTestServer(t)
	sw := createTestSwitch(t, s)
	id := sw["id"]

	code, res := do(t, s, "PUT", fmt.Sprintf("/switches/%v/enabled", id), map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, code, res.Errors)

	code, _ = do(t, s, "POST", fmt.Sprintf("/switches/%v/check-in", id), map[string]interface{}{"user_id": 7})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, s, "PUT", fmt.Sprintf("/switches/%v/disabled", id), map[string]bool{"disabled": true})
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, s, "PUT", fmt.Sprintf("/switches/%v/enabled", id), map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusConflict, code, "admin lock wins")

	code, _ = do(t, s, "PUT", fmt.Sprintf("/switches/%v/enabled", id), map[string]string{"enabled": "yes"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, "PUT", fmt.Sprintf("/switches/%v/enabled", id), map[string]bool{"other": true})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestContactsAndTestNotification(t *testing.T) {
	s, _ := newTestServer(t)
	sw := createTestSwitch(t, s)
	id := sw["id"]

	code, res := do(t, s, "POST", fmt.Sprintf("/switches/%v/contacts", id), map[string]interface{}{
		"name": "Ann", "email": "ann@example.com", "priority": 1,
	})
	require.Equal(t, http.StatusCreated, code, res.Errors)

	code, res = do(t, s, "POST", fmt.Sprintf("/switches/%v/contacts", id), map[string]interface{}{
		"name": "Bo", "phone": "+14165550100", "priority": 2,
	})
	require.Equal(t, http.StatusCreated, code, res.Errors)

	code, _ = do(t, s, "POST", fmt.Sprintf("/switches/%v/contacts", id), map[string]interface{}{"name": "No way to reach"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, res = do(t, s, "POST", fmt.Sprintf("/switches/%v/test-notification", id), nil)
	require.Equal(t, http.StatusAccepted, code, res.Errors)
	assert.JSONEq(t, `{"queued":2}`, string(res.Data))

	type notificationPage struct {
		Notifications []models.Notification `json:"notifications"`
		Paging        models.Paging         `json:"paging"`
	}

	code, res = do(t, s, "GET", fmt.Sprintf("/switches/%v/notifications", id), nil)
	require.Equal(t, http.StatusOK, code)

	all := notificationPage{}
	require.NoError(t, json.Unmarshal(res.Data, &all))
	require.Len(t, all.Notifications, 2)
	assert.Equal(t, models.TEST_NOTIFICATION, all.Notifications[0].Type)
	assert.Equal(t, models.PENDING_NOTIFICATION, all.Notifications[0].Status)
	assert.Equal(t, models.Paging{Total: 2, Page: 1, Pages: 1}, all.Paging)

	code, res = do(t, s, "GET", fmt.Sprintf("/switches/%v/notifications?page=2&page_size=1", id), nil)
	require.Equal(t, http.StatusOK, code)

	second := notificationPage{}
	require.NoError(t, json.Unmarshal(res.Data, &second))
	require.Len(t, second.Notifications, 1)
	assert.Equal(t, all.Notifications[1].ID, second.Notifications[0].ID)
	assert.Equal(t, models.Paging{Total: 2, Page: 2, Pages: 2}, second.Paging)

	code, _ = do(t, s, "GET", fmt.Sprintf("/switches/%v/notifications?page=0", id), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	jobs := []models.Job{}
	require.NoError(t, s.store.DB().Where("handler = ?", dispatch.DELIVER_NOTIFICATION_JOB).Find(&jobs).Error)
	assert.Len(t, jobs, 2)
}

func TestDeleteAndStats(t *testing.T) {
	s, _ := newTestServer(t)
	createTestSwitch(t, s)
	sw := createTestSwitch(t, s)

	code, res := do(t, s, "DELETE", fmt.Sprintf("/switches/%v", sw["id"]), nil)
	require.Equal(t, http.StatusOK, code, res.Errors)

	code, _ = do(t, s, "GET", fmt.Sprintf("/switches/%v/status", sw["id"]), nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, res = do(t, s, "GET", "/stats", nil)
	require.Equal(t, http.StatusOK, code)

	stats := models.Stats{}
	require.NoError(t, json.Unmarshal(res.Data, &stats))
	assert.Equal(t, int64(1), stats.TotalSwitches)
	assert.Equal(t, int64(1), stats.ActiveSwitches)
	require.NotNil(t, stats.Jobs)
	assert.Zero(t, stats.Jobs.DeadJobCount)

	code, res = do(t, s, "DELETE", "/users/7/switches", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"deleted":1}`, string(res.Data))
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	code, res := do(t, s, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Success)

	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadman_")
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, errorStatus(fmt.Errorf("x: %w", models.ErrNotFound)))
	assert.Equal(t, http.StatusConflict, errorStatus(models.ErrInvalidState))
	assert.Equal(t, http.StatusConflict, errorStatus(models.ErrConflict))
	assert.Equal(t, http.StatusBadRequest, errorStatus(models.ErrInvalidInput))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(models.NewPersistenceError("op", fmt.Errorf("boom"))))
}

type mockBlob struct {
	mock.Mock
}

func (m *mockBlob) UploadFile(ctx context.Context, filePath string) error {
	return m.Called(filePath).Error(0)
}

func (m *mockBlob) DownloadFile(ctx context.Context, destFilePath string) error {
	return m.Called(destFilePath).Error(0)
}

func TestRestoreSqliteDb(t *testing.T) {
	dir := t.TempDir()
	dbFilePath := filepath.Join(dir, "deadman.db")

	blob := &mockBlob{}
	blob.On("DownloadFile", dbFilePath).Return(gstorage.ErrObjectNotExist).Once()
	assert.NoError(t, restoreSqliteDb(context.Background(), blob, dbFilePath), "fresh install")

	blob.On("DownloadFile", dbFilePath).Return(fmt.Errorf("permission denied")).Once()
	assert.Error(t, restoreSqliteDb(context.Background(), blob, dbFilePath))
	blob.AssertExpectations(t)

	existing := &mockBlob{}
	require.NoError(t, os.WriteFile(dbFilePath, []byte("db"), 0600))
	assert.NoError(t, restoreSqliteDb(context.Background(), existing, dbFilePath))
	existing.AssertNotCalled(t, "DownloadFile", mock.Anything)
}

func TestBackupSqliteDb(t *testing.T) {
	s, _ := newTestServer(t)
	s.dbFilePath = "/data/db/deadman.db"

	blob := &mockBlob{}
	blob.On("UploadFile", s.dbFilePath).Return(nil).Once()
	s.storage = blob

	require.NoError(t, s.backupSqliteDb(context.Background(), nil))
	blob.AssertExpectations(t)
}
