package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance-scanner/internal/config"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/facematch"
)

var enrollImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy enrollments from the legacy database into PostgreSQL",
	Long: `Copy face samples from the legacy MariaDB user_faces table into the
PostgreSQL enrollments table. Samples already present are skipped, so the
import can be repeated. Samples with a malformed descriptor are skipped
unless --include-malformed is set.

Examples:
  attendance-scanner enroll import
  attendance-scanner enroll import --section 7A --dry-run`,
	RunE: runEnrollImport,
}

func init() {
	enrollCmd.AddCommand(enrollImportCmd)

	enrollImportCmd.Flags().String("section", "", "Only import this section")
	enrollImportCmd.Flags().Bool("include-malformed", false, "Also import samples with a malformed descriptor")
	enrollImportCmd.Flags().Bool("dry-run", false, "Only report what would be imported")
}

// enrollmentKey identifies a sample independently of its row id.
func enrollmentKey(e *database.Enrollment) string {
	return fmt.Sprintf("%s|%s|%v", e.IdentityID, e.Section, e.Descriptor)
}

func runEnrollImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	section := mustGetString(cmd, "section")
	includeMalformed := mustGetBool(cmd, "include-malformed")
	dryRun := mustGetBool(cmd, "dry-run")

	st, err := openStores(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	if st.legacyReader == nil {
		return errors.New("LEGACY_DATABASE_URL environment variable is required")
	}
	if st.enrollmentWriter == nil {
		return errors.New("DATABASE_URL environment variable is required")
	}

	var legacy []database.Enrollment
	if section != "" {
		legacy, err = st.legacyReader.ListBySection(ctx, section)
	} else {
		legacy, err = st.legacyReader.ListAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to read legacy enrollments: %w", err)
	}

	existing, err := st.enrollmentWriter.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to read enrollments: %w", err)
	}
	seen := make(map[string]struct{}, len(existing))
	for i := range existing {
		seen[enrollmentKey(&existing[i])] = struct{}{}
	}

	fmt.Printf("Legacy samples: %d, already in PostgreSQL: %d\n", len(legacy), len(existing))

	bar := progressbar.NewOptions(len(legacy),
		progressbar.OptionSetDescription("Importing enrollments"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	var imported, skipped, malformed int
	for i := range legacy {
		e := legacy[i]
		bar.Add(1)

		if !facematch.Descriptor(e.Descriptor).Valid() {
			malformed++
			if !includeMalformed {
				continue
			}
		}
		key := enrollmentKey(&e)
		if _, ok := seen[key]; ok {
			skipped++
			continue
		}
		seen[key] = struct{}{}

		if dryRun {
			imported++
			continue
		}
		e.ID = 0
		if err := st.enrollmentWriter.Save(ctx, &e); err != nil {
			bar.Finish()
			return fmt.Errorf("failed to save %s: %w", e.IdentityID, err)
		}
		imported++
	}
	bar.Finish()

	verb := "Imported"
	if dryRun {
		verb = "Would import"
	}
	fmt.Printf("\n%s %d samples (%d already present, %d malformed)\n", verb, imported, skipped, malformed)
	return nil
}
