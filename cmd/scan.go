package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance-scanner/internal/capture"
	"github.com/kozaktomas/attendance-scanner/internal/config"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/embedding"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a scan session without the API server",
	Long: `Run one scan session in the terminal and print recognition events.

Frames come from the configured camera snapshot URL or from a directory of
images replayed in name order.

Examples:
  # Scan with the camera for the 7A math lesson
  attendance-scanner scan --section 7A --subject math

  # Replay recorded frames once
  attendance-scanner scan --section 7A --subject math --dir ./frames`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("section", "", "Class section to scan (required)")
	scanCmd.Flags().String("subject", "", "Subject being taught (required)")
	scanCmd.Flags().String("dir", "", "Replay images from this directory instead of the camera")
	scanCmd.Flags().Bool("loop", false, "Replay the directory endlessly")
	scanCmd.Flags().String("camera", "", "Camera snapshot URL (overrides CAMERA_SNAPSHOT_URL)")
	scanCmd.Flags().Duration("interval", 0, "Detection interval (overrides SCAN_TICK_INTERVAL)")
	_ = scanCmd.MarkFlagRequired("section")
	_ = scanCmd.MarkFlagRequired("subject")
}

// scanFrameSource builds the frame source from flags. The returned count is the number
// of frames to replay, or zero for an endless source.
func scanFrameSource(cmd *cobra.Command, cfg *config.Config) (scan.FrameSource, int, error) {
	if dir := mustGetString(cmd, "dir"); dir != "" {
		loop := mustGetBool(cmd, "loop")
		src, err := capture.NewDirSource(dir, cfg.Scan.MaxFrameSize, loop)
		if err != nil {
			return nil, 0, err
		}
		fmt.Printf("Replaying %d frames from %s\n", src.Len(), dir)
		if loop {
			return src, 0, nil
		}
		return src, src.Len(), nil
	}

	url := mustGetString(cmd, "camera")
	if url == "" {
		url = cfg.Camera.SnapshotURL
	}
	if url == "" {
		return nil, 0, errors.New("--dir, --camera or CAMERA_SNAPSHOT_URL is required")
	}
	fmt.Printf("Reading frames from %s\n", url)
	return capture.NewSnapshotSource(url, cfg.Scan.MaxFrameSize, capture.DefaultStillThreshold), 0, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if interval := mustGetDuration(cmd, "interval"); interval > 0 {
		cfg.Scan.TickInterval = interval
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	frames, replay, err := scanFrameSource(cmd, cfg)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.recorder(cfg)
	if err != nil {
		return err
	}

	manager := scan.NewManager(scan.Options{
		Threshold:     cfg.Scan.Threshold,
		TickInterval:  cfg.Scan.TickInterval,
		RecordTimeout: cfg.Scan.RecordTimeout,
		Location:      cfg.Scan.Location(),
	}, scan.Deps{
		Detector: embedding.NewClient(cfg.Embedding.URL),
		Store:    database.NewReferenceStore(st.enrollments),
		Recorder: rec,
		Logger:   log,
	})
	defer manager.Shutdown()

	session, err := manager.Create(ctx, scan.GroupFilter{
		Section: mustGetString(cmd, "section"),
		Subject: mustGetString(cmd, "subject"),
	}, frames)
	if err != nil {
		return fmt.Errorf("failed to start scan session: %w", err)
	}
	status := session.Status()
	fmt.Printf("Scanning %s %s: %d enrolled samples (%d malformed), threshold %.2f\n",
		status.Section, status.Subject, status.Candidates, status.Malformed, status.Threshold)
	fmt.Println("Press Ctrl+C to stop")

	events := session.AddListener()
	defer session.RemoveListener(events)

	check := time.NewTicker(cfg.Scan.TickInterval)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			printScanSummary(session)
			return nil
		case ev := <-events:
			printScanEvent(ev)
		case <-check.C:
			if replay > 0 && session.Status().Ticks > int64(replay) {
				// the last frames may still be recording
				session.Wait()
				session.Stop()
				printPendingEvents(events)
				printScanSummary(session)
				return nil
			}
		}
	}
}

func printPendingEvents(events <-chan scan.Event) {
	for {
		select {
		case ev := <-events:
			printScanEvent(ev)
		default:
			return
		}
	}
}

func printScanEvent(ev scan.Event) {
	ts := ev.Time.Format("15:04:05")
	switch ev.Type {
	case scan.EventRecognized, scan.EventRecorded, scan.EventAlreadyScanned:
		fmt.Printf("%s  %-16s %s (%s)%s\n", ts, ev.Type, ev.DisplayName, ev.IdentityID, formatDistance(ev.Distance))
	case scan.EventNotRecognized:
		fmt.Printf("%s  %-16s%s\n", ts, ev.Type, formatDistance(ev.Distance))
	case scan.EventError:
		fmt.Printf("%s  %-16s %s\n", ts, ev.Type, ev.Message)
	case scan.EventNoFace:
		// too noisy for the terminal
	default:
		fmt.Printf("%s  %s\n", ts, ev.Type)
	}
}

func formatDistance(d *float64) string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf(" distance %.3f", *d)
}

func printScanSummary(session *scan.Session) {
	st := session.Status()
	fmt.Printf("\nRecorded: %d, duplicates: %d, errors: %d, frames: %d\n", st.Recorded, st.Duplicates, st.Errors, st.Ticks)
	for _, id := range st.Scanned {
		fmt.Printf("  %s\n", id)
	}
}
