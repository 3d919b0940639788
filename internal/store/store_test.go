package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/anexgohan/pankha/internal/models"
)

var errBoom = errors.New("boom")

func newTestDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewDatabaseForTesting(mockDB), mock, func() { mockDB.Close() }
}

func TestCreateDeploymentTemplate_InsertsWithZeroUsedCount(t *testing.T) {
	db, mock, cleanup := newTestDatabase(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO deployment_templates").
		WithArgs("tmpl-1", "Installer", "linux", "#!/bin/sh", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := db.CreateDeploymentTemplate(&DeploymentTemplate{ID: "tmpl-1", Name: "Installer", Platform: "linux", Script: "#!/bin/sh"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeploymentTemplate_ReturnsErrorForUnknownID(t *testing.T) {
	db, mock, cleanup := newTestDatabase(t)
	defer cleanup()

	mock.ExpectQuery("FROM deployment_templates").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := db.GetDeploymentTemplate("ghost")
	require.Error(t, err)
}

func TestIncrementDeploymentUsedCount_Execs(t *testing.T) {
	db, mock, cleanup := newTestDatabase(t)
	defer cleanup()

	mock.ExpectExec("UPDATE deployment_templates SET used_count").
		WithArgs("tmpl-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, db.IncrementDeploymentUsedCount("tmpl-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFanProfile_RollsBackWhenCurvePointInsertFails(t *testing.T) {
	db, mock, cleanup := newTestDatabase(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fan_profiles").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO fan_curve_points").WillReturnError(errBoom)
	mock.ExpectRollback()

	profile := &models.FanProfile{
		ID: "p1", SystemID: "sys-1", Name: "Quiet",
		CurvePoints: []models.FanCurvePoint{{TemperatureC: 30, SpeedPercent: 20}},
	}
	err := db.CreateFanProfile(profile)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFanProfile_LoadsCurvePointsInOrdinalOrder(t *testing.T) {
	db, mock, cleanup := newTestDatabase(t)
	defer cleanup()

	mock.ExpectQuery("FROM fan_profiles").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{
			"system_id", "name", "hysteresis_c", "step_percent", "emergency_temp_c", "failsafe_speed_pct", "created_at", "updated_at",
		}).AddRow("sys-1", "Quiet", 3.0, 5, 80.0, 30, time.Now(), time.Now()))
	mock.ExpectQuery("FROM fan_curve_points").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"temperature_c", "speed_percent"}).
			AddRow(30.0, 20).
			AddRow(70.0, 80))

	profile, err := db.GetFanProfile("p1")
	require.NoError(t, err)
	require.Equal(t, "Quiet", profile.Name)
	require.Len(t, profile.CurvePoints, 2)
	require.Equal(t, 70.0, profile.CurvePoints[1].TemperatureC)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertFanAssignment_PersistsBinding(t *testing.T) {
	db, mock, cleanup := newTestDatabase(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO fan_profile_assignments").
		WithArgs("a1", "sys-1", "fan-1", "sensor-1", "profile-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := db.UpsertFanAssignment(FanAssignmentRow{ID: "a1", SystemID: "sys-1", FanID: "fan-1", SensorID: "sensor-1", ProfileID: "profile-1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAllActiveAssignments_JoinsSystemAndFanState(t *testing.T) {
	db, mock, cleanup := newTestDatabase(t)
	defer cleanup()

	mock.ExpectQuery("FROM fan_profile_assignments").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "system_id", "fan_id", "sensor_id", "profile_id", "status", "agent_id", "has_pwm_control", "min_speed_pct", "max_speed_pct", "last_speed_pct",
		}).AddRow("a1", "sys-1", "fan-1", "sensor-1", "profile-1", models.SystemStatusOnline, "agent-1", true, 0, 100, 40))

	out, err := db.ListAllActiveAssignments()
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, models.SystemStatusOnline, out[0].SystemStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSetting_ReturnsFalseWhenAbsent(t *testing.T) {
	db, mock, cleanup := newTestDatabase(t)
	defer cleanup()

	mock.ExpectQuery("FROM backend_settings").
		WithArgs("graph_history_hours").
		WillReturnError(sql.ErrNoRows)

	var out interface{}
	found, err := db.GetSetting("graph_history_hours", &out)
	require.NoError(t, err)
	require.False(t, found)
}
