package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/anexgohan/pankha/internal/dispatch"
	"github.com/anexgohan/pankha/internal/gateway"
	"github.com/anexgohan/pankha/internal/license"
	"github.com/anexgohan/pankha/internal/middleware"
	"github.com/anexgohan/pankha/internal/models"
	"github.com/anexgohan/pankha/internal/registry"
	"github.com/anexgohan/pankha/internal/store"
)

var systemColumnNames = []string{
	"id", "agent_id", "name", "hostname", "platform", "agent_version", "capabilities", "auth_token_hash",
	"status", "update_interval_ms", "fan_step_percent", "hysteresis_c", "emergency_temp_c", "failsafe_speed_pct",
	"log_level", "enable_fan_control", "last_seen_at", "created_at", "updated_at",
}

func systemRow(rows *sqlmock.Rows, id, status string, createdAt time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "agent-"+id, "name-"+id, "host", "linux", "1.0", []byte("{}"), "hash",
		status, 2000, 5, 3.0, 85.0, 100, "info", true, nil, createdAt, createdAt)
}

// setupAPITest wires a real registry (community tier, agentLimit=1) and
// dispatcher against a mocked database, for the systems described by
// statuses (one system per status), in creation order.
func setupAPITest(t *testing.T, statuses ...string) (*API, sqlmock.Sqlmock, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectQuery("FROM licenses").WillReturnError(errors.New("no rows"))
	mock.ExpectExec("INSERT INTO licenses").WillReturnResult(sqlmock.NewResult(1, 1))

	database := store.NewDatabaseForTesting(mockDB)
	lic, err := license.New(database, nil)
	require.NoError(t, err)

	now := time.Now()
	buildRows := func() *sqlmock.Rows {
		rows := sqlmock.NewRows(systemColumnNames)
		for i, status := range statuses {
			systemRow(rows, "sys-"+string(rune('1'+i)), status, now.Add(time.Duration(i)*time.Minute))
		}
		return rows
	}
	mock.ExpectQuery("FROM systems").WillReturnRows(buildRows())
	mock.ExpectQuery("FROM systems").WillReturnRows(buildRows())

	reg, err := registry.New(database, lic)
	require.NoError(t, err)

	hub := gateway.NewHub(database, make(chan gateway.Event, 8))
	dispatcher := dispatch.New(database, hub)

	api := &API{
		database:   database,
		registry:   reg,
		dispatcher: dispatcher,
		license:    lic,
		sanitizer:  middleware.NewInputValidator(),
	}
	return api, mock, func() { mockDB.Close() }
}

func TestEmergencyStop_DispatchesOnlyToOnlineSystems(t *testing.T) {
	api, mock, cleanup := setupAPITest(t, models.SystemStatusOnline, models.SystemStatusOffline)
	defer cleanup()

	mock.ExpectExec("INSERT INTO agent_commands").WillReturnResult(sqlmock.NewResult(1, 1))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/emergency-stop", nil)

	api.emergencyStop(c)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body["dispatched"])
	require.Equal(t, 2, body["total"])
}

func TestSetFanStep_RejectsReadOnlySystemWithAdmissionDenied(t *testing.T) {
	api, _, cleanup := setupAPITest(t, models.SystemStatusOnline, models.SystemStatusOnline)
	defer cleanup()

	body, _ := json.Marshal(fanStepRequest{StepPercent: 10})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPut, "/api/systems/sys-2/fan-step", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "sys-2"}}

	api.setFanStep(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ADMISSION_DENIED", resp["code"])
}

func TestSetFanStep_AllowsWritableSystem(t *testing.T) {
	api, mock, cleanup := setupAPITest(t, models.SystemStatusOnline)
	defer cleanup()

	mock.ExpectExec("UPDATE systems SET fan_step_percent").
		WithArgs("sys-1", 15, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO agent_commands").WillReturnResult(sqlmock.NewResult(1, 1))

	body, _ := json.Marshal(fanStepRequest{StepPercent: 15})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPut, "/api/systems/sys-1/fan-step", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "sys-1"}}

	api.setFanStep(c)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSystem_UnknownIDReturnsNotFound(t *testing.T) {
	api, _, cleanup := setupAPITest(t, models.SystemStatusOnline)
	defer cleanup()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/systems/ghost", nil)
	c.Params = gin.Params{{Key: "id", Value: "ghost"}}

	api.getSystem(c)

	require.Equal(t, http.StatusNotFound, w.Code)
}
