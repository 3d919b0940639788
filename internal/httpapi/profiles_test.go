package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/anexgohan/pankha/internal/models"
)

func TestSaveProfile_RejectsReadOnlySystem(t *testing.T) {
	api, _, cleanup := setupAPITest(t, models.SystemStatusOnline, models.SystemStatusOnline)
	defer cleanup()

	req := saveProfileRequest{
		Name:        "Quiet",
		CurvePoints: []curvePointRequest{{TemperatureC: 30, SpeedPercent: 20}, {TemperatureC: 70, SpeedPercent: 80}},
		StepPercent: 5,
	}
	body, _ := json.Marshal(req)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/systems/sys-2/profiles", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "sys-2"}}

	api.saveProfile(c)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestSaveProfile_PersistsProfileAndCurvePointsInOneTransaction(t *testing.T) {
	api, mock, cleanup := setupAPITest(t, models.SystemStatusOnline)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fan_profiles").
		WithArgs(sqlmock.AnyArg(), "sys-1", "Quiet", 3.0, 5, 80.0, 30, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO fan_curve_points").
		WithArgs(sqlmock.AnyArg(), 30.0, 20, 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO fan_curve_points").
		WithArgs(sqlmock.AnyArg(), 70.0, 80, 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	req := saveProfileRequest{
		Name:             "Quiet",
		CurvePoints:      []curvePointRequest{{TemperatureC: 30, SpeedPercent: 20}, {TemperatureC: 70, SpeedPercent: 80}},
		HysteresisC:      3.0,
		StepPercent:      5,
		EmergencyTempC:   80.0,
		FailsafeSpeedPct: 30,
	}
	body, _ := json.Marshal(req)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/systems/sys-1/profiles", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "sys-1"}}

	api.saveProfile(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyProfile_NotFoundWhenFanBelongsToAnotherSystem(t *testing.T) {
	api, mock, cleanup := setupAPITest(t, models.SystemStatusOnline)
	defer cleanup()

	mock.ExpectQuery("FROM fans").WillReturnRows(
		sqlmock.NewRows([]string{
			"id", "system_id", "fan_key", "label", "last_rpm", "last_speed_pct",
			"has_pwm_control", "min_speed_pct", "max_speed_pct", "control_mode", "last_seen_at", "created_at",
		}).AddRow("fan-1", "sys-other", "fan0", "Fan 1", 1200, 40, true, 0, 100, models.FanModeUnassigned, nil, time.Now()))

	req := applyProfileRequest{FanID: "fan-1", SensorID: "sensor-1", ProfileID: "profile-1"}
	body, _ := json.Marshal(req)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPut, "/api/systems/sys-1/profile", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "sys-1"}}

	api.applyProfile(c)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
