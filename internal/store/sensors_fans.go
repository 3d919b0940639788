package store

import (
	"database/sql"
	"time"

	"github.com/anexgohan/pankha/internal/models"
)

// UpsertSensor inserts a sensor on first sighting or refreshes its last
// reading on subsequent ones.
func (d *Database) UpsertSensor(systemID string, reading models.SensorReading) (string, error) {
	var id string
	err := d.db.QueryRow(`
		INSERT INTO sensors (id, system_id, sensor_key, label, last_value_c, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (system_id, sensor_key) DO UPDATE SET
			last_value_c = EXCLUDED.last_value_c,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING id
	`, sensorRowID(systemID, reading.SensorID), systemID, reading.SensorID, reading.Label, reading.TemperatureC, time.Now()).Scan(&id)
	return id, err
}

// UpsertFan inserts a fan on first sighting or refreshes its last
// reading on subsequent ones. ControlMode is left untouched on update,
// since it is owned by the assignment/registry layer, not telemetry.
// A fan is assumed PWM-controllable until an agent reports otherwise
// via capability metadata; telemetry alone carries no such signal.
func (d *Database) UpsertFan(systemID string, reading models.FanReading) (string, error) {
	var id string
	err := d.db.QueryRow(`
		INSERT INTO fans (id, system_id, fan_key, label, last_rpm, last_speed_pct, has_pwm_control, control_mode, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8, $8)
		ON CONFLICT (system_id, fan_key) DO UPDATE SET
			last_rpm = EXCLUDED.last_rpm,
			last_speed_pct = EXCLUDED.last_speed_pct,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING id
	`, fanRowID(systemID, reading.FanID), systemID, reading.FanID, reading.Label, reading.RPM, reading.SpeedPct, models.FanModeUnassigned, time.Now()).Scan(&id)
	return id, err
}

// ListSensors returns every sensor known for a system.
func (d *Database) ListSensors(systemID string) ([]*models.Sensor, error) {
	rows, err := d.db.Query(`
		SELECT id, system_id, sensor_key, label, visible, last_value_c, last_seen_at, created_at
		FROM sensors WHERE system_id = $1 ORDER BY sensor_key
	`, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Sensor
	for rows.Next() {
		var s models.Sensor
		var lastSeen sql.NullTime
		if err := rows.Scan(&s.ID, &s.SystemID, &s.SensorKey, &s.Label, &s.Visible, &s.LastValueC, &lastSeen, &s.CreatedAt); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			s.LastSeenAt = lastSeen.Time
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// SetSensorVisibility toggles whether one sensor is shown on the dashboard.
func (d *Database) SetSensorVisibility(sensorID string, visible bool) error {
	_, err := d.db.Exec(`UPDATE sensors SET visible = $2 WHERE id = $1`, sensorID, visible)
	return err
}

// SetGroupVisibility sets the visibility of every sensor on a system
// whose label case-insensitively starts with group, and records the
// group's default so newly discovered sensors in it inherit it.
func (d *Database) SetGroupVisibility(systemID, group string, visible bool) (int64, error) {
	res, err := d.db.Exec(`
		UPDATE sensors SET visible = $3
		WHERE system_id = $1 AND label ILIKE $2 || '%'
	`, systemID, group, visible)
	if err != nil {
		return 0, err
	}
	_, err = d.db.Exec(`
		INSERT INTO sensor_group_visibility (system_id, sensor_key, visible, label)
		VALUES ($1, $2, $3, $2)
		ON CONFLICT (system_id, sensor_key) DO UPDATE SET visible = EXCLUDED.visible
	`, systemID, group, visible)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListGroupVisibility returns the recorded group-default visibility
// map for a system, keyed by group tag.
func (d *Database) ListGroupVisibility(systemID string) (map[string]bool, error) {
	rows, err := d.db.Query(`SELECT sensor_key, visible FROM sensor_group_visibility WHERE system_id = $1`, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var key string
		var visible bool
		if err := rows.Scan(&key, &visible); err != nil {
			return nil, err
		}
		out[key] = visible
	}
	return out, rows.Err()
}

// ListFans returns every fan known for a system.
func (d *Database) ListFans(systemID string) ([]*models.Fan, error) {
	rows, err := d.db.Query(`
		SELECT id, system_id, fan_key, label, last_rpm, last_speed_pct, has_pwm_control, min_speed_pct, max_speed_pct, control_mode, last_seen_at, created_at
		FROM fans WHERE system_id = $1 ORDER BY fan_key
	`, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Fan
	for rows.Next() {
		f, err := scanFan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFan fetches a single fan by its primary key.
func (d *Database) GetFan(fanID string) (*models.Fan, error) {
	row := d.db.QueryRow(`
		SELECT id, system_id, fan_key, label, last_rpm, last_speed_pct, has_pwm_control, min_speed_pct, max_speed_pct, control_mode, last_seen_at, created_at
		FROM fans WHERE id = $1
	`, fanID)
	return scanFan(row)
}

func scanFan(row rowScanner) (*models.Fan, error) {
	var f models.Fan
	var lastSeen sql.NullTime
	if err := row.Scan(&f.ID, &f.SystemID, &f.FanKey, &f.Label, &f.LastRPM, &f.LastSpeedPct, &f.HasPWMControl, &f.MinSpeedPct, &f.MaxSpeedPct, &f.ControlMode, &lastSeen, &f.CreatedAt); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		f.LastSeenAt = lastSeen.Time
	}
	return &f, nil
}

// SetFanControlMode updates a fan's control mode (unassigned, manual,
// controlled, emergency).
func (d *Database) SetFanControlMode(fanID, mode string) error {
	_, err := d.db.Exec(`UPDATE fans SET control_mode = $2 WHERE id = $1`, fanID, mode)
	return err
}

// SetSensorLabel renames a sensor's display label.
func (d *Database) SetSensorLabel(sensorID, label string) error {
	_, err := d.db.Exec(`UPDATE sensors SET label = $2 WHERE id = $1`, sensorID, label)
	return err
}

// SetFanLabel renames a fan's display label.
func (d *Database) SetFanLabel(fanID, label string) error {
	_, err := d.db.Exec(`UPDATE fans SET label = $2 WHERE id = $1`, fanID, label)
	return err
}

// sensorRowID and fanRowID derive a stable, deterministic primary key
// from (systemID, agent-local key), so repeated upserts never create a
// duplicate row even before the unique index round-trips once.
func sensorRowID(systemID, sensorKey string) string { return systemID + ":" + sensorKey }
func fanRowID(systemID, fanKey string) string       { return systemID + ":" + fanKey }
