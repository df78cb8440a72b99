// Package store provides storage backends for GiftFlow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/ModalMetrics/GiftFlow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveConditionAssignment stores or updates the condition cached for a device.
func (s *PostgresStore) SaveConditionAssignment(a models.ConditionAssignment) error {
	query := `
		INSERT INTO condition_assignments (device_id, condition, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (device_id)
		DO UPDATE SET
			condition = EXCLUDED.condition,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.Exec(query, a.DeviceID, string(a.Condition), a.Source, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConditionAssignment failed", "error", err, "deviceID", a.DeviceID)
		return fmt.Errorf("failed to save condition assignment for %s: %w", a.DeviceID, err)
	}
	slog.Debug("PostgresStore SaveConditionAssignment succeeded", "deviceID", a.DeviceID, "condition", a.Condition, "source", a.Source)
	return nil
}

// GetConditionAssignment retrieves the cached assignment for a device.
func (s *PostgresStore) GetConditionAssignment(deviceID string) (*models.ConditionAssignment, error) {
	query := `SELECT device_id, condition, source, created_at, updated_at
			  FROM condition_assignments WHERE device_id = $1`

	var a models.ConditionAssignment
	var condition string

	err := s.db.QueryRow(query, deviceID).Scan(&a.DeviceID, &condition, &a.Source, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConditionAssignment not found", "deviceID", deviceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConditionAssignment failed", "error", err, "deviceID", deviceID)
		return nil, err
	}

	a.Condition = models.Condition(condition)
	slog.Debug("PostgresStore GetConditionAssignment found", "deviceID", deviceID, "condition", a.Condition)
	return &a, nil
}

// AddStudyRecord appends one completed-study document.
func (s *PostgresStore) AddStudyRecord(rec models.StudyRecord) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		slog.Error("PostgresStore AddStudyRecord JSON marshal failed", "error", err)
		return fmt.Errorf("failed to marshal study payload: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO study_records (record_type, payload, ts) VALUES ($1, $2, $3)`,
		rec.Type, payloadJSON, rec.TS)
	if err != nil {
		slog.Error("PostgresStore AddStudyRecord failed", "error", err, "type", rec.Type)
		return fmt.Errorf("failed to insert study record: %w", err)
	}
	slog.Debug("PostgresStore AddStudyRecord succeeded", "type", rec.Type, "condition", rec.Payload.Condition)
	return nil
}

// GetStudyRecords retrieves all stored study documents.
func (s *PostgresStore) GetStudyRecords() ([]models.StudyRecord, error) {
	rows, err := s.db.Query(`SELECT record_type, payload, ts FROM study_records ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetStudyRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query study records: %w", err)
	}
	defer rows.Close()

	var records []models.StudyRecord
	for rows.Next() {
		rec, err := scanStudyRecord(rows)
		if err != nil {
			slog.Error("PostgresStore GetStudyRecords scan failed", "error", err)
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetStudyRecords rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate study record rows: %w", err)
	}
	slog.Debug("PostgresStore GetStudyRecords succeeded", "count", len(records))
	return records, nil
}

// AddInvitation appends one sent recruitment invitation.
func (s *PostgresStore) AddInvitation(inv models.Invitation) error {
	_, err := s.db.Exec(`INSERT INTO invitations (id, phone, channel, condition, link, sent_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		inv.ID, inv.Phone, string(inv.Channel), nilIfEmpty(inv.Condition), inv.Link, inv.SentAt)
	if err != nil {
		slog.Error("PostgresStore AddInvitation failed", "error", err, "id", inv.ID)
		return fmt.Errorf("failed to insert invitation %s: %w", inv.ID, err)
	}
	slog.Debug("PostgresStore AddInvitation succeeded", "id", inv.ID, "phone", inv.Phone, "channel", inv.Channel)
	return nil
}

// GetInvitations retrieves the invitation log.
func (s *PostgresStore) GetInvitations() ([]models.Invitation, error) {
	rows, err := s.db.Query(`SELECT id, phone, channel, condition, link, sent_at FROM invitations ORDER BY sent_at`)
	if err != nil {
		slog.Error("PostgresStore GetInvitations query failed", "error", err)
		return nil, fmt.Errorf("failed to query invitations: %w", err)
	}
	defer rows.Close()

	var invitations []models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			slog.Error("PostgresStore GetInvitations scan failed", "error", err)
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetInvitations rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate invitation rows: %w", err)
	}
	slog.Debug("PostgresStore GetInvitations succeeded", "count", len(invitations))
	return invitations, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	} else {
		slog.Debug("PostgreSQL database connection closed successfully")
	}
	return err
}
