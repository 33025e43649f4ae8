package cmd

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance-scanner/internal/config"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/embedding"
	"github.com/kozaktomas/attendance-scanner/internal/facematch"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

var matchCmd = &cobra.Command{
	Use:   "match <photo>",
	Short: "Match the face in a photo against a section",
	Long: `Detect the most confident face in a photo and find the closest enrolled
student of a section. Nothing is recorded.

Examples:
  attendance-scanner match --section 7A face.jpg
  attendance-scanner match --section 7A --threshold 0.5 --top 5 face.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("section", "", "Class section to match against (required)")
	matchCmd.Flags().Float64("threshold", -1, "Match threshold (default MATCH_THRESHOLD)")
	matchCmd.Flags().Int("top", 3, "Number of closest students to list")
	_ = matchCmd.MarkFlagRequired("section")
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	threshold := cfg.Scan.Threshold
	if t := mustGetFloat64(cmd, "threshold"); t >= 0 {
		threshold = t
	}
	matcher, err := facematch.NewMatcher(threshold)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}

	st, err := openStores(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	section := mustGetString(cmd, "section")
	entries, err := database.NewReferenceStore(st.enrollments).ListEnrolled(ctx, scan.GroupFilter{Section: section})
	if err != nil {
		return err
	}

	fmt.Println("Computing face descriptor...")
	probe, err := embedding.NewClient(cfg.Embedding.URL).Describe(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to describe photo: %w", err)
	}

	result, stats := matcher.Match(probe, entries, nil)
	fmt.Printf("Compared %d samples of section %s (%d malformed skipped)\n", stats.Compared, section, stats.Malformed)
	if result.Matched {
		fmt.Printf("Match: %s (%s) distance %.4f < %.2f\n", result.DisplayName, result.IdentityID, result.Distance, threshold)
	} else if d := scan.FiniteDistance(result.Distance); d != nil {
		fmt.Printf("No match: closest distance %.4f >= %.2f\n", *d, threshold)
	} else {
		fmt.Println("No match: no usable enrollments")
	}

	printClosest(probe, entries, mustGetInt(cmd, "top"))
	return nil
}

// printClosest lists the closest distinct students, nearest first.
func printClosest(probe facematch.Descriptor, entries []facematch.ReferenceEntry, top int) {
	type candidate struct {
		entry    facematch.ReferenceEntry
		distance float64
	}
	byIdentity := make(map[string]candidate)
	for _, e := range entries {
		if !e.Descriptor.Valid() {
			continue
		}
		d := facematch.EuclideanDistance(probe, e.Descriptor)
		if c, ok := byIdentity[e.IdentityID]; !ok || d < c.distance {
			byIdentity[e.IdentityID] = candidate{entry: e, distance: d}
		}
	}
	if top <= 0 || len(byIdentity) == 0 {
		return
	}

	ranked := slices.SortedFunc(maps.Values(byIdentity), func(a, b candidate) int {
		return cmp.Compare(a.distance, b.distance)
	})
	fmt.Println("\nClosest students:")
	for i, c := range ranked[:min(top, len(ranked))] {
		fmt.Printf("  %d. %-30s %-12s %.4f\n", i+1, c.entry.DisplayName, c.entry.IdentityID, c.distance)
	}
}
