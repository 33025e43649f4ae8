package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kozaktomas/attendance-scanner/internal/database"
)

// LegacyEnrollmentRepository reads enrollments from the user_faces table of the
// previous attendance system. Embeddings there are stored as JSON arrays.
type LegacyEnrollmentRepository struct {
	pool *Pool
}

// NewLegacyEnrollmentRepository creates a read-only repository over user_faces.
func NewLegacyEnrollmentRepository(pool *Pool) *LegacyEnrollmentRepository {
	return &LegacyEnrollmentRepository{pool: pool}
}

// ListBySection returns all faces of a section.
func (r *LegacyEnrollmentRepository) ListBySection(ctx context.Context, section string) ([]database.Enrollment, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT id, identity_id, name, section, embedding, created_at
		FROM user_faces
		WHERE section = ?
		ORDER BY id
	`, section)
	if err != nil {
		return nil, fmt.Errorf("query user_faces: %w", err)
	}
	defer rows.Close()

	return scanLegacyFaces(rows)
}

// ListAll returns every face ordered by id.
func (r *LegacyEnrollmentRepository) ListAll(ctx context.Context) ([]database.Enrollment, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT id, identity_id, name, section, embedding, created_at
		FROM user_faces
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query user_faces: %w", err)
	}
	defer rows.Close()

	return scanLegacyFaces(rows)
}

// Count returns the number of rows in user_faces.
func (r *LegacyEnrollmentRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_faces`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count user_faces: %w", err)
	}
	return count, nil
}

func scanLegacyFaces(rows *sql.Rows) ([]database.Enrollment, error) {
	var result []database.Enrollment
	for rows.Next() {
		var e database.Enrollment
		var name sql.NullString
		var raw []byte
		if err := rows.Scan(&e.ID, &e.IdentityID, &name, &e.Section, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user_faces row: %w", err)
		}
		e.DisplayName = name.String
		e.Descriptor = DecodeEmbedding(raw)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user_faces: %w", err)
	}
	return result, nil
}

// DecodeEmbedding parses a JSON number array. Unparseable input yields nil so the
// row is still listed and later counted as malformed.
func DecodeEmbedding(raw []byte) []float32 {
	if len(raw) == 0 {
		return nil
	}
	var values []float32
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}
