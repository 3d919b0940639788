package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// GetSetting loads and unmarshals a backend_settings value by key.
func (d *Database) GetSetting(key string, out interface{}) (bool, error) {
	var raw []byte
	err := d.db.QueryRow(`SELECT value FROM backend_settings WHERE key = $1`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, out)
}

// SetSetting upserts a backend_settings value.
func (d *Database) SetSetting(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
		INSERT INTO backend_settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, raw, time.Now())
	return err
}
