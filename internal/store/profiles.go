package store

import (
	"database/sql"
	"time"

	"github.com/anexgohan/pankha/internal/models"
)

// CreateFanProfile inserts a new fan profile and its curve points.
func (d *Database) CreateFanProfile(p *models.FanProfile) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.Exec(`
		INSERT INTO fan_profiles (id, system_id, name, hysteresis_c, step_percent, emergency_temp_c, failsafe_speed_pct, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, p.ID, p.SystemID, p.Name, p.HysteresisC, p.StepPercent, p.EmergencyTempC, p.FailsafeSpeed, now)
	if err != nil {
		return err
	}

	if err := insertCurvePoints(tx, p.ID, p.CurvePoints); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateFanProfile replaces a profile's parameters and curve points.
func (d *Database) UpdateFanProfile(p *models.FanProfile) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE fan_profiles SET name = $2, hysteresis_c = $3, step_percent = $4, emergency_temp_c = $5, failsafe_speed_pct = $6, updated_at = $7
		WHERE id = $1
	`, p.ID, p.Name, p.HysteresisC, p.StepPercent, p.EmergencyTempC, p.FailsafeSpeed, time.Now())
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM fan_curve_points WHERE profile_id = $1`, p.ID); err != nil {
		return err
	}
	if err := insertCurvePoints(tx, p.ID, p.CurvePoints); err != nil {
		return err
	}

	return tx.Commit()
}

func insertCurvePoints(tx *sql.Tx, profileID string, points []models.FanCurvePoint) error {
	for i, pt := range points {
		if _, err := tx.Exec(`
			INSERT INTO fan_curve_points (profile_id, temperature_c, speed_percent, ordinal) VALUES ($1, $2, $3, $4)
		`, profileID, pt.TemperatureC, pt.SpeedPercent, i); err != nil {
			return err
		}
	}
	return nil
}

// GetFanProfile loads a profile and its curve points.
func (d *Database) GetFanProfile(id string) (*models.FanProfile, error) {
	var p models.FanProfile
	p.ID = id
	err := d.db.QueryRow(`
		SELECT system_id, name, hysteresis_c, step_percent, emergency_temp_c, failsafe_speed_pct, created_at, updated_at
		FROM fan_profiles WHERE id = $1
	`, id).Scan(&p.SystemID, &p.Name, &p.HysteresisC, &p.StepPercent, &p.EmergencyTempC, &p.FailsafeSpeed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.Query(`
		SELECT temperature_c, speed_percent FROM fan_curve_points WHERE profile_id = $1 ORDER BY ordinal ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pt models.FanCurvePoint
		if err := rows.Scan(&pt.TemperatureC, &pt.SpeedPercent); err != nil {
			return nil, err
		}
		p.CurvePoints = append(p.CurvePoints, pt)
	}
	return &p, rows.Err()
}

// ListFanProfiles returns every profile defined for a system.
func (d *Database) ListFanProfiles(systemID string) ([]*models.FanProfile, error) {
	rows, err := d.db.Query(`SELECT id FROM fan_profiles WHERE system_id = $1 ORDER BY name`, systemID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	var out []*models.FanProfile
	for _, id := range ids {
		p, err := d.GetFanProfile(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// DeleteFanProfile removes a profile; assignments referencing it cascade.
func (d *Database) DeleteFanProfile(id string) error {
	_, err := d.db.Exec(`DELETE FROM fan_profiles WHERE id = $1`, id)
	return err
}
