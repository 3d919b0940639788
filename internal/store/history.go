package store

import (
	"encoding/json"
	"time"

	"github.com/anexgohan/pankha/internal/models"
)

// InsertHistoryPoint appends one retained monitoring sample.
func (d *Database) InsertHistoryPoint(p models.HistoryPoint) error {
	sensors, err := json.Marshal(p.Sensors)
	if err != nil {
		return err
	}
	fans, err := json.Marshal(p.Fans)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
		INSERT INTO monitoring_data (system_id, recorded_at, sensors, fans, cpu_usage, memory_usage)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.SystemID, p.RecordedAt, sensors, fans, p.CPUUsage, p.MemUsage)
	return err
}

// QueryHistory returns retained samples for a system within [from, to].
func (d *Database) QueryHistory(systemID string, from, to time.Time) ([]models.HistoryPoint, error) {
	rows, err := d.db.Query(`
		SELECT id, recorded_at, sensors, fans, cpu_usage, memory_usage
		FROM monitoring_data WHERE system_id = $1 AND recorded_at BETWEEN $2 AND $3
		ORDER BY recorded_at ASC
	`, systemID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoryPoint
	for rows.Next() {
		var p models.HistoryPoint
		var sensorsRaw, fansRaw []byte
		p.SystemID = systemID
		if err := rows.Scan(&p.ID, &p.RecordedAt, &sensorsRaw, &fansRaw, &p.CPUUsage, &p.MemUsage); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(sensorsRaw, &p.Sensors)
		_ = json.Unmarshal(fansRaw, &p.Fans)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PurgeHistoryOlderThan deletes retained samples past the retention
// window, returning the number of rows removed.
func (d *Database) PurgeHistoryOlderThan(cutoff time.Time) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM monitoring_data WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
