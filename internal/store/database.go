// Package store provides PostgreSQL-backed persistence for the control
// plane: systems, sensors, fans, fan profiles, assignments, monitoring
// history, backend settings, and the license cache.
package store

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database wraps a connection pool to PostgreSQL.
type Database struct {
	db *sql.DB
}

func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// NewDatabase opens a connection pool and verifies connectivity.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: db}, nil
}

// NewDatabaseForTesting wraps an existing *sql.DB, for sqlmock injection.
func NewDatabaseForTesting(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sql.DB for callers that need raw access.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate runs schema migrations in order. Every statement is
// CREATE TABLE IF NOT EXISTS, so it is safe to call on every startup.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS systems (
			id VARCHAR(64) PRIMARY KEY,
			agent_id VARCHAR(255) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			hostname VARCHAR(255),
			platform VARCHAR(100),
			agent_version VARCHAR(50),
			capabilities JSONB DEFAULT '[]',
			auth_token_hash VARCHAR(255) NOT NULL,
			status VARCHAR(20) DEFAULT 'offline',
			update_interval_ms INT DEFAULT 2000,
			fan_step_percent INT DEFAULT 5,
			hysteresis_c DOUBLE PRECISION DEFAULT 3.0,
			emergency_temp_c DOUBLE PRECISION DEFAULT 85.0,
			failsafe_speed_pct INT DEFAULT 100,
			log_level VARCHAR(20) DEFAULT 'info',
			enable_fan_control BOOLEAN DEFAULT true,
			last_seen_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS sensor_group_visibility (
			system_id VARCHAR(64) REFERENCES systems(id) ON DELETE CASCADE,
			sensor_key VARCHAR(255) NOT NULL,
			visible BOOLEAN DEFAULT true,
			label VARCHAR(255),
			PRIMARY KEY (system_id, sensor_key)
		)`,

		`CREATE TABLE IF NOT EXISTS sensors (
			id VARCHAR(64) PRIMARY KEY,
			system_id VARCHAR(64) REFERENCES systems(id) ON DELETE CASCADE,
			sensor_key VARCHAR(255) NOT NULL,
			label VARCHAR(255),
			visible BOOLEAN DEFAULT true,
			last_value_c DOUBLE PRECISION,
			last_seen_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (system_id, sensor_key)
		)`,

		`CREATE TABLE IF NOT EXISTS fans (
			id VARCHAR(64) PRIMARY KEY,
			system_id VARCHAR(64) REFERENCES systems(id) ON DELETE CASCADE,
			fan_key VARCHAR(255) NOT NULL,
			label VARCHAR(255),
			last_rpm INT,
			last_speed_pct INT,
			has_pwm_control BOOLEAN DEFAULT true,
			min_speed_pct INT DEFAULT 0,
			max_speed_pct INT DEFAULT 100,
			control_mode VARCHAR(20) DEFAULT 'unassigned',
			last_seen_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (system_id, fan_key)
		)`,

		`CREATE TABLE IF NOT EXISTS fan_profiles (
			id VARCHAR(64) PRIMARY KEY,
			system_id VARCHAR(64) REFERENCES systems(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			hysteresis_c DOUBLE PRECISION DEFAULT 3.0,
			step_percent INT DEFAULT 5,
			emergency_temp_c DOUBLE PRECISION DEFAULT 85.0,
			failsafe_speed_pct INT DEFAULT 100,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS fan_curve_points (
			id SERIAL PRIMARY KEY,
			profile_id VARCHAR(64) REFERENCES fan_profiles(id) ON DELETE CASCADE,
			temperature_c DOUBLE PRECISION NOT NULL,
			speed_percent INT NOT NULL,
			ordinal INT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS fan_profile_assignments (
			id VARCHAR(64) PRIMARY KEY,
			system_id VARCHAR(64) REFERENCES systems(id) ON DELETE CASCADE,
			fan_id VARCHAR(64) REFERENCES fans(id) ON DELETE CASCADE,
			sensor_id VARCHAR(64) REFERENCES sensors(id) ON DELETE CASCADE,
			profile_id VARCHAR(64) REFERENCES fan_profiles(id) ON DELETE CASCADE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (system_id, fan_id)
		)`,

		`CREATE TABLE IF NOT EXISTS monitoring_data (
			id BIGSERIAL PRIMARY KEY,
			system_id VARCHAR(64) REFERENCES systems(id) ON DELETE CASCADE,
			recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			sensors JSONB,
			fans JSONB,
			cpu_usage DOUBLE PRECISION,
			memory_usage DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monitoring_data_system_time ON monitoring_data (system_id, recorded_at DESC)`,

		`CREATE TABLE IF NOT EXISTS agent_commands (
			id VARCHAR(64) PRIMARY KEY,
			system_id VARCHAR(64) REFERENCES systems(id) ON DELETE CASCADE,
			type VARCHAR(100) NOT NULL,
			priority VARCHAR(20) DEFAULT 'normal',
			payload JSONB,
			status VARCHAR(20) DEFAULT 'pending',
			attempts INT DEFAULT 0,
			error_message TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS backend_settings (
			key VARCHAR(100) PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS licenses (
			id VARCHAR(64) PRIMARY KEY,
			license_key VARCHAR(255) NOT NULL,
			tier VARCHAR(20) NOT NULL,
			agent_limit INT,
			retention_days INT DEFAULT 30,
			valid BOOLEAN DEFAULT false,
			last_validated_at TIMESTAMP,
			expires_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS deployment_templates (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			platform VARCHAR(100) NOT NULL,
			script TEXT NOT NULL,
			used_count INT DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
