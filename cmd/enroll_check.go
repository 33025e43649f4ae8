package cmd

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance-scanner/internal/config"
	"github.com/kozaktomas/attendance-scanner/internal/constants"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/facematch"
)

var enrollCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Find students whose samples look alike",
	Long: `Compare every enrolled sample with its nearest neighbours and list pairs of
different students closer than the collision threshold. Such pairs are
likely to be confused by the scanner.

Examples:
  attendance-scanner enroll check
  attendance-scanner enroll check --threshold 0.5 --json`,
	RunE: runEnrollCheck,
}

func init() {
	enrollCmd.AddCommand(enrollCheckCmd)

	enrollCheckCmd.Flags().Float64("threshold", -1, "Collision threshold (default ENROLLMENT_COLLISION_THRESHOLD)")
	enrollCheckCmd.Flags().Bool("json", false, "Output as JSON")
}

// collisionPair is two students with samples closer than the collision threshold.
type collisionPair struct {
	A        string  `json:"a"`
	ASection string  `json:"a_section"`
	B        string  `json:"b"`
	BSection string  `json:"b_section"`
	Distance float64 `json:"distance"`
}

func runEnrollCheck(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	jsonOutput := mustGetBool(cmd, "json")

	threshold := cfg.Enrollment.CollisionThreshold
	if t := mustGetFloat64(cmd, "threshold"); t >= 0 {
		threshold = t
	}

	st, err := openStores(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	all, err := st.enrollments.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to read enrollments: %w", err)
	}
	index := database.NewEnrollmentIndex()
	indexed := index.Build(all)
	if !jsonOutput {
		fmt.Printf("Indexed %d of %d samples\n", indexed, len(all))
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(all),
			progressbar.OptionSetDescription("Checking samples"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("samples"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	best := make(map[string]collisionPair)
	for i := range all {
		e := &all[i]
		if bar != nil {
			bar.Add(1)
		}
		if !facematch.Descriptor(e.Descriptor).Valid() {
			continue
		}
		n, found := index.FindCollision(e.Descriptor, e.IdentityID, threshold, constants.DefaultCollisionNeighbors)
		if !found {
			continue
		}
		pair := collisionPair{A: e.IdentityID, ASection: e.Section, B: n.Enrollment.IdentityID, BSection: n.Enrollment.Section, Distance: n.Distance}
		if pair.B < pair.A {
			pair.A, pair.B = pair.B, pair.A
			pair.ASection, pair.BSection = pair.BSection, pair.ASection
		}
		key := pair.A + "|" + pair.B
		if prev, ok := best[key]; !ok || pair.Distance < prev.Distance {
			best[key] = pair
		}
	}
	if bar != nil {
		bar.Finish()
	}

	pairs := sortedPairs(best)
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pairs)
	}

	if len(pairs) == 0 {
		fmt.Printf("\nNo students closer than %.2f\n", threshold)
		return nil
	}
	fmt.Printf("\n%d pairs closer than %.2f:\n", len(pairs), threshold)
	for _, p := range pairs {
		fmt.Printf("  %-12s (%s)  %-12s (%s)  %.4f\n", p.A, p.ASection, p.B, p.BSection, p.Distance)
	}
	return nil
}

// sortedPairs orders collision pairs by distance, closest first.
func sortedPairs(m map[string]collisionPair) []collisionPair {
	pairs := slices.Collect(maps.Values(m))
	slices.SortFunc(pairs, func(a, b collisionPair) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.A+a.B, b.A+b.B)
	})
	return pairs
}
