// Package store provides storage backends for GiftFlow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/ModalMetrics/GiftFlow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveConditionAssignment stores or updates the condition cached for a device.
func (s *SQLiteStore) SaveConditionAssignment(a models.ConditionAssignment) error {
	query := `
		INSERT OR REPLACE INTO condition_assignments (device_id, condition, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, a.DeviceID, string(a.Condition), a.Source, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConditionAssignment failed", "error", err, "deviceID", a.DeviceID)
		return fmt.Errorf("failed to save condition assignment for %s: %w", a.DeviceID, err)
	}
	slog.Debug("SQLiteStore SaveConditionAssignment succeeded", "deviceID", a.DeviceID, "condition", a.Condition, "source", a.Source)
	return nil
}

// GetConditionAssignment retrieves the cached assignment for a device.
func (s *SQLiteStore) GetConditionAssignment(deviceID string) (*models.ConditionAssignment, error) {
	query := `SELECT device_id, condition, source, created_at, updated_at
			  FROM condition_assignments WHERE device_id = ?`

	var a models.ConditionAssignment
	var condition string

	err := s.db.QueryRow(query, deviceID).Scan(&a.DeviceID, &condition, &a.Source, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConditionAssignment not found", "deviceID", deviceID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConditionAssignment failed", "error", err, "deviceID", deviceID)
		return nil, err
	}

	a.Condition = models.Condition(condition)
	slog.Debug("SQLiteStore GetConditionAssignment found", "deviceID", deviceID, "condition", a.Condition)
	return &a, nil
}

// AddStudyRecord appends one completed-study document.
func (s *SQLiteStore) AddStudyRecord(rec models.StudyRecord) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		slog.Error("SQLiteStore AddStudyRecord JSON marshal failed", "error", err)
		return fmt.Errorf("failed to marshal study payload: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO study_records (record_type, payload, ts) VALUES (?, ?, ?)`,
		rec.Type, string(payloadJSON), rec.TS)
	if err != nil {
		slog.Error("SQLiteStore AddStudyRecord failed", "error", err, "type", rec.Type)
		return fmt.Errorf("failed to insert study record: %w", err)
	}
	slog.Debug("SQLiteStore AddStudyRecord succeeded", "type", rec.Type, "condition", rec.Payload.Condition)
	return nil
}

// GetStudyRecords retrieves all stored study documents.
func (s *SQLiteStore) GetStudyRecords() ([]models.StudyRecord, error) {
	rows, err := s.db.Query(`SELECT record_type, payload, ts FROM study_records ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetStudyRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query study records: %w", err)
	}
	defer rows.Close()

	var records []models.StudyRecord
	for rows.Next() {
		rec, err := scanStudyRecord(rows)
		if err != nil {
			slog.Error("SQLiteStore GetStudyRecords scan failed", "error", err)
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetStudyRecords rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate study record rows: %w", err)
	}
	slog.Debug("SQLiteStore GetStudyRecords succeeded", "count", len(records))
	return records, nil
}

// AddInvitation appends one sent recruitment invitation.
func (s *SQLiteStore) AddInvitation(inv models.Invitation) error {
	_, err := s.db.Exec(`INSERT INTO invitations (id, phone, channel, condition, link, sent_at) VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Phone, string(inv.Channel), nilIfEmpty(inv.Condition), inv.Link, inv.SentAt)
	if err != nil {
		slog.Error("SQLiteStore AddInvitation failed", "error", err, "id", inv.ID)
		return fmt.Errorf("failed to insert invitation %s: %w", inv.ID, err)
	}
	slog.Debug("SQLiteStore AddInvitation succeeded", "id", inv.ID, "phone", inv.Phone, "channel", inv.Channel)
	return nil
}

// GetInvitations retrieves the invitation log.
func (s *SQLiteStore) GetInvitations() ([]models.Invitation, error) {
	rows, err := s.db.Query(`SELECT id, phone, channel, condition, link, sent_at FROM invitations ORDER BY sent_at`)
	if err != nil {
		slog.Error("SQLiteStore GetInvitations query failed", "error", err)
		return nil, fmt.Errorf("failed to query invitations: %w", err)
	}
	defer rows.Close()

	var invitations []models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			slog.Error("SQLiteStore GetInvitations scan failed", "error", err)
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetInvitations rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate invitation rows: %w", err)
	}
	slog.Debug("SQLiteStore GetInvitations succeeded", "count", len(invitations))
	return invitations, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
