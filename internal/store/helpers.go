package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ModalMetrics/GiftFlow/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanStudyRecord scans a StudyRecord from sql.Rows, decoding the JSON
// payload column.
func scanStudyRecord(rows *sql.Rows) (models.StudyRecord, error) {
	var rec models.StudyRecord
	var payloadJSON []byte
	if err := rows.Scan(&rec.Type, &payloadJSON, &rec.TS); err != nil {
		return rec, fmt.Errorf("scan study record failed: %w", err)
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
			return rec, fmt.Errorf("decode study payload failed: %w", err)
		}
	}
	return rec, nil
}

// scanInvitation scans an Invitation from sql.Rows.
func scanInvitation(rows *sql.Rows) (models.Invitation, error) {
	var inv models.Invitation
	var channel string
	var condition sql.NullString
	if err := rows.Scan(&inv.ID, &inv.Phone, &channel, &condition, &inv.Link, &inv.SentAt); err != nil {
		return inv, fmt.Errorf("scan invitation failed: %w", err)
	}
	inv.Channel = models.InvitationChannel(channel)
	inv.Condition = condition.String
	return inv, nil
}
