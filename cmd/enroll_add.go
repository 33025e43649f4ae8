package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance-scanner/internal/config"
	"github.com/kozaktomas/attendance-scanner/internal/constants"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/embedding"
)

var enrollAddCmd = &cobra.Command{
	Use:   "add <photo>...",
	Short: "Enroll a student from one or more photos",
	Long: `Compute the face descriptor of each photo and store it as an enrollment
sample of the student. Each photo should show the student from a slightly
different angle.

Examples:
  attendance-scanner enroll add --identity S123 --name "Jan Novák" --section 7A front.jpg left.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnrollAdd,
}

func init() {
	enrollCmd.AddCommand(enrollAddCmd)

	enrollAddCmd.Flags().String("identity", "", "Student identifier (required)")
	enrollAddCmd.Flags().String("name", "", "Student display name")
	enrollAddCmd.Flags().String("section", "", "Class section (required)")
	enrollAddCmd.Flags().Bool("force", false, "Save samples that look like another student")
	_ = enrollAddCmd.MarkFlagRequired("identity")
	_ = enrollAddCmd.MarkFlagRequired("section")
}

func runEnrollAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	identity := mustGetString(cmd, "identity")
	name := mustGetString(cmd, "name")
	section := mustGetString(cmd, "section")
	force := mustGetBool(cmd, "force")

	st, err := openStores(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()
	if st.enrollmentWriter == nil {
		return errors.New("DATABASE_URL environment variable is required")
	}

	all, err := st.enrollmentWriter.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to read enrollments: %w", err)
	}
	index := database.NewEnrollmentIndex()
	index.Build(all)

	client := embedding.NewClient(cfg.Embedding.URL)
	var saved int
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		descriptor, err := client.Describe(ctx, data)
		if err != nil {
			fmt.Printf("  %s: %v\n", path, err)
			continue
		}

		if n, found := index.FindCollision(descriptor, identity, cfg.Enrollment.CollisionThreshold, constants.DefaultCollisionNeighbors); found {
			fmt.Printf("  %s: looks like %s (%s, section %s) at distance %.4f\n",
				path, n.Enrollment.DisplayName, n.Enrollment.IdentityID, n.Enrollment.Section, n.Distance)
			if !force {
				fmt.Println("    skipped, use --force to save anyway")
				continue
			}
		}

		e := &database.Enrollment{IdentityID: identity, DisplayName: name, Section: section, Descriptor: descriptor}
		if err := st.enrollmentWriter.Save(ctx, e); err != nil {
			return fmt.Errorf("failed to save enrollment: %w", err)
		}
		_ = index.Add(*e)
		saved++
		fmt.Printf("  %s: saved as enrollment %d\n", path, e.ID)
	}

	fmt.Printf("Saved %d of %d samples for %s\n", saved, len(args), identity)
	return nil
}
