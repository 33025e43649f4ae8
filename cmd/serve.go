package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance-scanner/internal/config"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/embedding"
	"github.com/kozaktomas/attendance-scanner/internal/events"
	"github.com/kozaktomas/attendance-scanner/internal/logger"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
	"github.com/kozaktomas/attendance-scanner/internal/scheduler"
	"github.com/kozaktomas/attendance-scanner/internal/web"
	"github.com/kozaktomas/attendance-scanner/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the Attendance Scanner API server.
Kiosks create a scan session per class, push camera frames (or let the server
poll a camera snapshot URL) and follow recognition events over SSE.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil && p > 0 {
			port = p
		}
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// setupEventBus returns the publisher sessions report recorded attendance to. With
// redis configured, events go through the channel and come back into hub, so every
// instance's feed shows attendance recorded anywhere.
func setupEventBus(ctx context.Context, cfg *config.Config, hub *events.Hub, log *logger.Logger) (scan.Publisher, *events.RedisBus) {
	if cfg.Redis.Addr == "" {
		return hub, nil
	}
	bus, err := events.NewRedisBus(cfg.Redis.Addr, cfg.Redis.Channel, log)
	if err != nil {
		fmt.Printf("Warning: redis unavailable, attendance feed is local only: %v\n", err)
		return hub, nil
	}
	if err := bus.StartForwarder(ctx, hub.SendEvent); err != nil {
		fmt.Printf("Warning: failed to subscribe to redis channel: %v\n", err)
		bus.Close()
		return hub, nil
	}
	fmt.Printf("Publishing attendance to redis channel %q\n", bus.Channel())
	return bus, bus
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.recorder(cfg)
	if err != nil {
		return err
	}

	embedClient := embedding.NewClient(cfg.Embedding.URL)
	hub := events.NewHub()
	publisher, bus := setupEventBus(ctx, cfg, hub, log)
	if bus != nil {
		defer bus.Close()
	}

	loc := cfg.Scan.Location()
	manager := scan.NewManager(scan.Options{
		Threshold:     cfg.Scan.Threshold,
		TickInterval:  cfg.Scan.TickInterval,
		RecordTimeout: cfg.Scan.RecordTimeout,
		Location:      loc,
	}, scan.Deps{
		Detector:  embedClient,
		Store:     database.NewReferenceStore(st.enrollments),
		Recorder:  rec,
		Publisher: publisher,
		Logger:    log,
	})

	sched, err := scheduler.New(manager, loc, cfg.Scan.PurgeAfter, log)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, port, host, web.Dependencies{
		Manager:          manager,
		Hub:              hub,
		Enrollments:      st.enrollments,
		EnrollmentWriter: st.enrollmentWriter,
		Attendance:       st.attendance,
		Describer:        embedClient,
		Sources:          handlers.NewFrameSourceFactory(cfg),
		Logger:           log,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Attendance Scanner on http://%s:%d (match threshold %.2f)\n", host, port, cfg.Scan.Threshold)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	// Start returns as soon as the listener closes; the stores must outlive the sessions.
	<-shutdownDone
	return nil
}
