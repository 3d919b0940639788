package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anexgohan/pankha/internal/models"
)

func TestComputeDelta_NilBaselineMeansNoDelta(t *testing.T) {
	assert.Nil(t, computeDelta(nil, models.DataPayload{CPUUsage: 10}))
}

func TestComputeDelta_NoChangeBelowThresholdsReturnsNil(t *testing.T) {
	baseline := &models.DataPayload{
		CPUUsage: 10, MemUsage: 20, UptimeSec: 1000,
		Sensors: []models.SensorReading{{SensorID: "cpu0", TemperatureC: 50}},
		Fans:    []models.FanReading{{FanID: "fan0", RPM: 1200, SpeedPct: 40}},
	}
	current := models.DataPayload{
		CPUUsage: 10.5, MemUsage: 20.5, UptimeSec: 1005,
		Sensors: []models.SensorReading{{SensorID: "cpu0", TemperatureC: 50.05}},
		Fans:    []models.FanReading{{FanID: "fan0", RPM: 1203, SpeedPct: 40}},
	}
	assert.Nil(t, computeDelta(baseline, current))
}

func TestComputeDelta_CPUMoveAboveThresholdIsReported(t *testing.T) {
	baseline := &models.DataPayload{CPUUsage: 10}
	current := models.DataPayload{CPUUsage: 12, AgentID: "sys-1"}

	delta := computeDelta(baseline, current)
	if assert.NotNil(t, delta) {
		assert.Equal(t, "sys-1", delta.SystemID)
		if assert.NotNil(t, delta.CPUUsage) {
			assert.Equal(t, 12.0, *delta.CPUUsage)
		}
		assert.Nil(t, delta.MemUsage)
	}
}

func TestComputeDelta_SensorTemperatureMoveIsReported(t *testing.T) {
	baseline := &models.DataPayload{Sensors: []models.SensorReading{{SensorID: "cpu0", TemperatureC: 50}}}
	current := models.DataPayload{Sensors: []models.SensorReading{{SensorID: "cpu0", TemperatureC: 51}}}

	delta := computeDelta(baseline, current)
	if assert.NotNil(t, delta) {
		assert.Len(t, delta.Sensors, 1)
		assert.Equal(t, 51.0, delta.Sensors[0].TemperatureC)
	}
}

func TestComputeDelta_NewSensorNotInBaselineIsReported(t *testing.T) {
	baseline := &models.DataPayload{Sensors: []models.SensorReading{{SensorID: "cpu0", TemperatureC: 50}}}
	current := models.DataPayload{Sensors: []models.SensorReading{
		{SensorID: "cpu0", TemperatureC: 50},
		{SensorID: "gpu0", TemperatureC: 60},
	}}

	delta := computeDelta(baseline, current)
	if assert.NotNil(t, delta) {
		assert.Len(t, delta.Sensors, 1)
		assert.Equal(t, "gpu0", delta.Sensors[0].SensorID)
	}
}

func TestComputeDelta_FanSpeedPctChangeIsReportedEvenWithoutRPMMove(t *testing.T) {
	baseline := &models.DataPayload{Fans: []models.FanReading{{FanID: "fan0", RPM: 1200, SpeedPct: 40}}}
	current := models.DataPayload{Fans: []models.FanReading{{FanID: "fan0", RPM: 1200, SpeedPct: 45}}}

	delta := computeDelta(baseline, current)
	if assert.NotNil(t, delta) {
		assert.Len(t, delta.Fans, 1)
		assert.Equal(t, 45, delta.Fans[0].SpeedPct)
	}
}

func TestComputeDelta_FanRPMMoveAboveThresholdIsReported(t *testing.T) {
	baseline := &models.DataPayload{Fans: []models.FanReading{{FanID: "fan0", RPM: 1200, SpeedPct: 40}}}
	current := models.DataPayload{Fans: []models.FanReading{{FanID: "fan0", RPM: 1210, SpeedPct: 40}}}

	delta := computeDelta(baseline, current)
	assert.NotNil(t, delta)
}

func TestIndexSensors_KeysByID(t *testing.T) {
	idx := indexSensors([]models.SensorReading{{SensorID: "a", TemperatureC: 1}, {SensorID: "b", TemperatureC: 2}})
	assert.Equal(t, 2.0, idx["b"].TemperatureC)
}

func TestIndexFans_KeysByID(t *testing.T) {
	idx := indexFans([]models.FanReading{{FanID: "x", RPM: 100}})
	assert.Equal(t, 100, idx["x"].RPM)
}

func TestAbsInt(t *testing.T) {
	assert.Equal(t, 3, absInt(-3))
	assert.Equal(t, 3, absInt(3))
}

func TestAbsInt64(t *testing.T) {
	assert.Equal(t, int64(4), absInt64(-4))
	assert.Equal(t, int64(4), absInt64(4))
}
