package recorder

import (
	"context"
	"fmt"

	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

// DatabaseRecorder stores attendance in the local attendance table. The table's
// unique key is the authoritative duplicate check.
type DatabaseRecorder struct {
	store database.AttendanceWriter
}

// NewDatabaseRecorder creates a recorder over store.
func NewDatabaseRecorder(store database.AttendanceWriter) *DatabaseRecorder {
	return &DatabaseRecorder{store: store}
}

// Record inserts the attendance row and returns its id.
func (r *DatabaseRecorder) Record(ctx context.Context, rec scan.AttendanceRecord) (string, error) {
	row := &database.Attendance{
		IdentityID: rec.IdentityID,
		Section:    rec.Section,
		Subject:    rec.Subject,
		Date:       rec.Date,
		RecordedAt: rec.RecordedAt,
		Status:     rec.Status,
	}
	inserted, err := r.store.Insert(ctx, row)
	if err != nil {
		return "", fmt.Errorf("insert attendance: %w", err)
	}
	if !inserted {
		return "", fmt.Errorf("%w: %s on %s", scan.ErrDuplicate, rec.IdentityID, rec.Date)
	}
	return row.ID, nil
}
