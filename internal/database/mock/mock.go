// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/database"
)

// MockEnrollmentStore is a mock implementation of database.EnrollmentWriter
type MockEnrollmentStore struct {
	mu          sync.RWMutex
	enrollments []database.Enrollment
	nextID      int64

	// Error injection
	ListError   error
	CountError  error
	SaveError   error
	DeleteError error
}

// NewMockEnrollmentStore creates a new mock enrollment store
func NewMockEnrollmentStore() *MockEnrollmentStore {
	return &MockEnrollmentStore{nextID: 1}
}

// AddEnrollment adds an enrollment without going through Save
func (m *MockEnrollmentStore) AddEnrollment(e database.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		e.ID = m.nextID
	}
	if e.ID >= m.nextID {
		m.nextID = e.ID + 1
	}
	m.enrollments = append(m.enrollments, e)
}

// ListBySection returns enrollments of a section
func (m *MockEnrollmentStore) ListBySection(ctx context.Context, section string) ([]database.Enrollment, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Enrollment
	for _, e := range m.enrollments {
		if e.Section == section {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListAll returns every enrollment
func (m *MockEnrollmentStore) ListAll(ctx context.Context) ([]database.Enrollment, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Enrollment, len(m.enrollments))
	copy(out, m.enrollments)
	return out, nil
}

// Count returns the number of enrollments
func (m *MockEnrollmentStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.enrollments), nil
}

// Save stores an enrollment and assigns an ID
func (m *MockEnrollmentStore) Save(ctx context.Context, e *database.Enrollment) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.nextID
	m.nextID++
	e.CreatedAt = time.Now()
	m.enrollments = append(m.enrollments, *e)
	return nil
}

// DeleteByIdentity removes all samples of an identity in a section
func (m *MockEnrollmentStore) DeleteByIdentity(ctx context.Context, identityID, section string) ([]int64, error) {
	if m.DeleteError != nil {
		return nil, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted []int64
	kept := m.enrollments[:0]
	for _, e := range m.enrollments {
		if e.IdentityID == identityID && e.Section == section {
			deleted = append(deleted, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	m.enrollments = kept
	if len(deleted) == 0 {
		return nil, fmt.Errorf("identity %s in section %s: %w", identityID, section, database.ErrNotFound)
	}
	return deleted, nil
}

// MockAttendanceStore is a mock implementation of database.AttendanceWriter
type MockAttendanceStore struct {
	mu   sync.RWMutex
	rows map[string]database.Attendance

	// Error injection
	InsertError error
	ListError   error
}

// NewMockAttendanceStore creates a new mock attendance store
func NewMockAttendanceStore() *MockAttendanceStore {
	return &MockAttendanceStore{rows: make(map[string]database.Attendance)}
}

func attendanceKey(identityID, section, subject, date string) string {
	return identityID + "|" + section + "|" + subject + "|" + date
}

// Insert stores a row unless it duplicates an existing one
func (m *MockAttendanceStore) Insert(ctx context.Context, a *database.Attendance) (bool, error) {
	if m.InsertError != nil {
		return false, m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attendanceKey(a.IdentityID, a.Section, a.Subject, a.Date)
	if _, ok := m.rows[key]; ok {
		return false, nil
	}
	if a.ID == "" {
		a.ID = fmt.Sprintf("att-%d", len(m.rows)+1)
	}
	m.rows[key] = *a
	return true, nil
}

// ListByDate returns the attendance of a class on a day
func (m *MockAttendanceStore) ListByDate(ctx context.Context, section, subject, date string) ([]database.Attendance, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Attendance
	for _, a := range m.rows {
		if a.Section == section && a.Subject == subject && a.Date == date {
			out = append(out, a)
		}
	}
	return out, nil
}

// Len returns the number of stored rows
func (m *MockAttendanceStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
