package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/attendance-scanner/internal/config"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/database/mariadb"
	"github.com/kozaktomas/attendance-scanner/internal/database/postgres"
	"github.com/kozaktomas/attendance-scanner/internal/logger"
	"github.com/kozaktomas/attendance-scanner/internal/recorder"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

// stores are the databases a command works with. PostgreSQL is the primary store;
// the legacy MariaDB table is read-only and serves enrollments when PostgreSQL is not
// configured.
type stores struct {
	pg     *postgres.Pool
	legacy *mariadb.Pool

	enrollments      database.EnrollmentReader
	enrollmentWriter database.EnrollmentWriter
	attendance       database.AttendanceWriter
	legacyReader     *mariadb.LegacyEnrollmentRepository
}

// openStores connects to every configured database.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	s := &stores{}

	if cfg.Database.URL != "" {
		fmt.Fprintln(os.Stderr, "Connecting to PostgreSQL database...")
		pool, err := postgres.Initialize(ctx, &cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		s.pg = pool
		repo := postgres.NewEnrollmentRepository(pool)
		s.enrollments = repo
		s.enrollmentWriter = repo
		s.attendance = postgres.NewAttendanceRepository(pool)
	}

	if cfg.Legacy.DatabaseURL != "" {
		fmt.Fprintln(os.Stderr, "Connecting to legacy enrollment database...")
		pool, err := mariadb.NewPool(cfg.Legacy.DatabaseURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open legacy database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			s.Close()
			return nil, fmt.Errorf("failed to reach legacy database: %w", err)
		}
		s.legacy = pool
		s.legacyReader = mariadb.NewLegacyEnrollmentRepository(pool)
		if s.enrollments == nil {
			s.enrollments = s.legacyReader
			fmt.Fprintln(os.Stderr, "Using legacy enrollments (read-only)")
		}
	}

	if s.enrollments == nil {
		return nil, errors.New("DATABASE_URL or LEGACY_DATABASE_URL environment variable is required")
	}
	return s, nil
}

// recorder selects the attendance backend: the school REST API when configured,
// otherwise the PostgreSQL attendance table.
func (s *stores) recorder(cfg *config.Config) (scan.Recorder, error) {
	if cfg.Recorder.URL != "" {
		r, err := recorder.NewHTTPRecorder(cfg.Recorder.URL, cfg.Recorder.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to create attendance recorder: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Recording attendance to %s\n", cfg.Recorder.URL)
		return r, nil
	}
	if s.attendance != nil {
		fmt.Fprintln(os.Stderr, "Recording attendance to PostgreSQL")
		return recorder.NewDatabaseRecorder(s.attendance), nil
	}
	return nil, errors.New("RECORDER_URL or DATABASE_URL environment variable is required to record attendance")
}

// Close closes every open pool.
func (s *stores) Close() {
	if s.pg != nil {
		s.pg.Close()
	}
	if s.legacy != nil {
		s.legacy.Close()
	}
}
