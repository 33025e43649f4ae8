package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/attendance-scanner/internal/database"
)

// AttendanceRepository stores attendance rows. The unique constraint on
// (identity_id, section, subject, attendance_date) is the authoritative duplicate check.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// Insert stores a row and returns false when the student is already recorded for
// that class and day.
func (r *AttendanceRepository) Insert(ctx context.Context, a *database.Attendance) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = time.Now()
	}

	result, err := r.pool.Exec(ctx, `
		INSERT INTO attendance (id, identity_id, section, subject, attendance_date, recorded_at, status)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7)
		ON CONFLICT (identity_id, section, subject, attendance_date) DO NOTHING
	`, a.ID, a.IdentityID, a.Section, a.Subject, a.Date, a.RecordedAt, a.Status)
	if err != nil {
		return false, fmt.Errorf("insert attendance for %s: %w", a.IdentityID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListByDate returns the attendance of a class on a day, earliest first.
func (r *AttendanceRepository) ListByDate(ctx context.Context, section, subject, date string) ([]database.Attendance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity_id, section, subject, to_char(attendance_date, 'YYYY-MM-DD'), recorded_at, status
		FROM attendance
		WHERE section = $1 AND subject = $2 AND attendance_date = $3::date
		ORDER BY recorded_at
	`, section, subject, date)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var out []database.Attendance
	for rows.Next() {
		var a database.Attendance
		if err := rows.Scan(&a.ID, &a.IdentityID, &a.Section, &a.Subject, &a.Date, &a.RecordedAt, &a.Status); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return out, nil
}
