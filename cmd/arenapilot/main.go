package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"arenapilot/internal/api"
	"arenapilot/pkg/config"
	"arenapilot/pkg/core"
	"arenapilot/pkg/frame"
	"arenapilot/pkg/logging"
	"arenapilot/pkg/probe"
	"arenapilot/pkg/recorder"
	"arenapilot/pkg/sequencer"
	"arenapilot/pkg/setpoint"
	"arenapilot/pkg/vehicle"
	"arenapilot/pkg/version"
	"arenapilot/pkg/waypoint"
)

const defaultConfigPath = "configs/arenapilot.yaml"

var (
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath = flag.String("config", defaultConfigPath, "Path to the YAML config file")
)

func main() {
	flag.Parse()

	// .env only feeds the ARENAPILOT_* overrides; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

// flightStack is everything the control loop and the API share.
type flightStack struct {
	aligner *frame.Aligner
	target  *setpoint.Target
	inbox   *waypoint.Inbox
	env     waypoint.Envelope
	sched   *core.Scheduler
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("ArenaPilot Started", "version", version.Version, "provider", appCfg.Link.Provider)

	rec, err := recorder.Open(ctx, recorder.Options{
		Path:     appCfg.Recorder.Path,
		Buffer:   appCfg.Recorder.Buffer,
		Provider: appCfg.Link.Provider,
		Version:  version.Version,
		Retain:   appCfg.Recorder.Retain.Std(),
	})
	if err != nil {
		return fmt.Errorf("failed to open flight recorder: %w", err)
	}
	defer func() {
		if err := rec.Close(); err != nil {
			slog.Error("Failed to close flight recorder", "error", err)
		}
	}()

	client, err := initializeVehicleClient(appCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize vehicle client: %w", err)
	}
	defer client.Close()

	// Telemetry Handler (must be created before scheduler to receive updates)
	telH := api.NewTelemetryHandler()

	stack, err := buildFlightStack(appCfg, client, rec, telH)
	if err != nil {
		return err
	}

	// Startup Probes
	probes := []probe.Probe{
		probe.ConfigProbe(appCfg),
		probe.RecorderProbe(rec),
		probe.LinkProbe(client, appCfg.Link.HeartbeatTimeout.Std()),
	}
	results := probe.Run(ctx, probes)
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	loopErr := make(chan error, 1)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loopErr <- stack.sched.Run(ctx)
	}()

	var flightH *api.FlightHandler
	if rec.Enabled() {
		flightH = api.NewFlightHandler(rec)
	}
	srv := api.NewServer(
		appCfg.Server.Address,
		telH,
		api.NewConfigHandler(appCfg),
		api.NewStatusHandler(stack.sched),
		api.NewWaypointHandler(stack.inbox),
		api.NewArenaHandler(stack.env, stack.aligner, stack.target, telH),
		flightH,
		cancel,
	)
	srv.Handler = loggingMiddleware(srv.Handler)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	err = runServerLifecycle(ctx, srv, quit, loopErr)
	cancel()
	<-loopDone
	return err
}

func buildFlightStack(cfg *config.Config, client vehicle.Client, rec *recorder.Recorder, sink core.TelemetrySink) (*flightStack, error) {
	s := &flightStack{
		aligner: frame.NewAligner(),
		target:  setpoint.NewTarget(),
		env:     arenaEnvelope(cfg),
	}

	stream, err := setpoint.NewStream(s.target, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create setpoint stream: %w", err)
	}
	s.inbox, err = waypoint.NewInbox(cfg.Waypoint.InboxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create waypoint inbox: %w", err)
	}
	intake, err := waypoint.NewIntake(waypoint.NewValidator(s.env), s.aligner, s.target)
	if err != nil {
		return nil, fmt.Errorf("failed to create waypoint intake: %w", err)
	}

	s.sched, err = core.NewScheduler(core.Options{
		RateHz:      cfg.Stream.RateHz,
		ReportEvery: cfg.Stream.ReportEvery.Std(),
		PoseEvery:   cfg.Log.PoseEvery.Meters(),
		OffsetDeg:   cfg.Frame.OffsetDeg,
	}, core.Components{
		Client:    client,
		Sequencer: sequencer.New(sequencerConfig(cfg), client, s.aligner, s.target),
		Aligner:   s.aligner,
		Target:    s.target,
		Stream:    stream,
		Inbox:     s.inbox,
		Intake:    intake,
		Recorder:  rec,
		Sink:      sink,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return s, nil
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal, loopErr <-chan error) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	var result error
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-loopErr:
		if err != nil {
			result = fmt.Errorf("control loop failed: %w", err)
		}
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(result, srv.Shutdown(shutdownCtx))
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
