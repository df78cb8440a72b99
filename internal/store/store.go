// Package store provides storage backends for GiftFlow.
//
// It includes an in-memory store for tests and single-run deployments plus
// SQLite and PostgreSQL backends for persistent study data: per-device
// condition assignments, completed study records, and the invitation log.
package store

import (
	"sync"

	"github.com/ModalMetrics/GiftFlow/internal/models"
)

// Store is the persistence surface the rest of GiftFlow programs against.
// Lookups that find nothing return (nil, nil).
type Store interface {
	// SaveConditionAssignment inserts or updates the condition cached for a device.
	SaveConditionAssignment(a models.ConditionAssignment) error
	// GetConditionAssignment returns the cached assignment for a device, or nil.
	GetConditionAssignment(deviceID string) (*models.ConditionAssignment, error)
	// AddStudyRecord appends one completed-study document.
	AddStudyRecord(rec models.StudyRecord) error
	// GetStudyRecords returns all stored study documents.
	GetStudyRecords() ([]models.StudyRecord, error)
	// AddInvitation appends one sent recruitment invitation.
	AddInvitation(inv models.Invitation) error
	// GetInvitations returns the invitation log.
	GetInvitations() ([]models.Invitation, error)
	// Close releases the backend's resources.
	Close() error
}

// InMemoryStore keeps everything in process memory. API handlers hit it
// concurrently, so access is guarded by a RWMutex.
type InMemoryStore struct {
	mu          sync.RWMutex
	assignments map[string]models.ConditionAssignment
	records     []models.StudyRecord
	invitations []models.Invitation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{assignments: make(map[string]models.ConditionAssignment)}
}

func (s *InMemoryStore) SaveConditionAssignment(a models.ConditionAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.DeviceID] = a
	return nil
}

func (s *InMemoryStore) GetConditionAssignment(deviceID string) (*models.ConditionAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[deviceID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *InMemoryStore) AddStudyRecord(rec models.StudyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *InMemoryStore) GetStudyRecords() ([]models.StudyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StudyRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *InMemoryStore) AddInvitation(inv models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invitations = append(s.invitations, inv)
	return nil
}

func (s *InMemoryStore) GetInvitations() ([]models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Invitation, len(s.invitations))
	copy(out, s.invitations)
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (s *InMemoryStore) Close() error {
	return nil
}
