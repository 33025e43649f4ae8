package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance-scanner/internal/calibrate"
	"github.com/kozaktomas/attendance-scanner/internal/config"
	"github.com/kozaktomas/attendance-scanner/internal/constants"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/facematch"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Evaluate the match threshold against enrolled samples",
	Long: `Compare every pair of enrolled samples and report how well the match
threshold separates samples of the same student (genuine pairs) from samples
of different students (impostor pairs). A threshold with the fewest total
errors is suggested when students have several samples.

Examples:
  attendance-scanner calibrate
  attendance-scanner calibrate --section 7A --bins 10
  attendance-scanner calibrate --json`,
	RunE: runCalibrate,
}

func init() {
	rootCmd.AddCommand(calibrateCmd)

	calibrateCmd.Flags().String("section", "", "Only compare samples of this section")
	calibrateCmd.Flags().Float64("threshold", -1, "Threshold to evaluate (default MATCH_THRESHOLD)")
	calibrateCmd.Flags().Int("bins", constants.CalibrationHistogramBins, "Histogram buckets")
	calibrateCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	section := mustGetString(cmd, "section")

	threshold := cfg.Scan.Threshold
	if t := mustGetFloat64(cmd, "threshold"); t >= 0 {
		threshold = t
	}

	st, err := openStores(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	var enrollments []database.Enrollment
	if section != "" {
		enrollments, err = st.enrollments.ListBySection(ctx, section)
	} else {
		enrollments, err = st.enrollments.ListAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to read enrollments: %w", err)
	}

	entries := make([]facematch.ReferenceEntry, len(enrollments))
	for i := range enrollments {
		entries[i] = enrollments[i].Reference()
	}

	report, err := calibrate.Run(entries, threshold, mustGetInt(cmd, "bins"))
	if errors.Is(err, calibrate.ErrNoPairs) {
		return fmt.Errorf("%w: found %d samples", err, len(entries))
	}
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printCalibration(report)
	return nil
}

func printCalibration(r *calibrate.Report) {
	fmt.Printf("Samples: %d (%d students, %d malformed skipped)\n\n", r.Samples, r.Identities, r.Malformed)

	fmt.Printf("%-10s %8s %8s %8s %8s %8s %8s\n", "pairs", "count", "mean", "std", "p05", "p50", "p95")
	for _, row := range []struct {
		name string
		d    calibrate.Distribution
	}{{"genuine", r.Genuine}, {"impostor", r.Impostor}} {
		fmt.Printf("%-10s %8d %8.4f %8.4f %8.4f %8.4f %8.4f\n", row.name, row.d.Count, row.d.Mean, row.d.StdDev, row.d.P05, row.d.P50, row.d.P95)
	}

	fmt.Println("\nDistance histogram:")
	for _, b := range r.Histogram {
		fmt.Printf("  [%6.3f, %6.3f)  genuine %5d  impostor %5d\n", b.Lower, b.Upper, b.Genuine, b.Impostors)
	}

	printRates("Current", r.Current)
	if r.Suggested != nil {
		printRates("Suggested", *r.Suggested)
	} else {
		fmt.Println("\nNo suggestion: enroll several samples per student to measure genuine distances")
	}
}

func printRates(label string, rt calibrate.Rates) {
	fmt.Printf("\n%s threshold %.4f: false accepts %d (%.2f%%), false rejects %d (%.2f%%)\n",
		label, rt.Threshold, rt.FalseAccepts, rt.FalseAcceptRate*100, rt.FalseRejects, rt.FalseRejectRate*100)
}
