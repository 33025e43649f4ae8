package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/pgvector/pgvector-go"
)

// EnrollmentRepository provides PostgreSQL-backed enrollment storage.
type EnrollmentRepository struct {
	pool *Pool
}

// NewEnrollmentRepository creates a new PostgreSQL enrollment repository.
func NewEnrollmentRepository(pool *Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

const enrollmentColumns = `id, identity_id, display_name, section, descriptor, created_at`

// ListBySection returns every enrollment of a section ordered by identity.
func (r *EnrollmentRepository) ListBySection(ctx context.Context, section string) ([]database.Enrollment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+enrollmentColumns+`
		FROM enrollments
		WHERE section = $1
		ORDER BY identity_id, id
	`, section)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	return scanEnrollments(rows)
}

// ListAll returns every enrollment ordered by id.
func (r *EnrollmentRepository) ListAll(ctx context.Context) ([]database.Enrollment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+enrollmentColumns+` FROM enrollments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query all enrollments: %w", err)
	}
	defer rows.Close()

	return scanEnrollments(rows)
}

// Count returns the total number of enrollments.
func (r *EnrollmentRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM enrollments").Scan(&count); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return count, nil
}

// Save inserts an enrollment and fills in its ID and CreatedAt.
func (r *EnrollmentRepository) Save(ctx context.Context, e *database.Enrollment) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO enrollments (identity_id, display_name, section, descriptor)
		VALUES ($1, $2, $3, $4::vector)
		RETURNING id, created_at
	`, e.IdentityID, e.DisplayName, e.Section, pgvector.NewVector(e.Descriptor)).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert enrollment for %s: %w", e.IdentityID, err)
	}
	return nil
}

// DeleteByIdentity removes all samples of an identity in a section.
func (r *EnrollmentRepository) DeleteByIdentity(ctx context.Context, identityID, section string) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM enrollments
		WHERE identity_id = $1 AND section = $2
		RETURNING id
	`, identityID, section)
	if err != nil {
		return nil, fmt.Errorf("delete enrollments: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("identity %s in section %s: %w", identityID, section, database.ErrNotFound)
	}
	return ids, nil
}

func scanEnrollments(rows *sql.Rows) ([]database.Enrollment, error) {
	var out []database.Enrollment
	for rows.Next() {
		var e database.Enrollment
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.DisplayName, &e.Section, &vec, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		e.Descriptor = vec.Slice()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}
	return out, nil
}
