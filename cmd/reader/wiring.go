package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/capture"
	"github.com/book-expert/reading-assistant/internal/config"
	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/book-expert/reading-assistant/internal/device"
	"github.com/book-expert/reading-assistant/internal/extract"
	"github.com/book-expert/reading-assistant/internal/input"
	"github.com/book-expert/reading-assistant/internal/notify"
	"github.com/book-expert/reading-assistant/internal/orchestrator"
	"github.com/book-expert/reading-assistant/internal/player"
	"github.com/book-expert/reading-assistant/internal/progress"
	"github.com/book-expert/reading-assistant/internal/remote"
	"github.com/book-expert/reading-assistant/internal/render"
	"github.com/book-expert/reading-assistant/internal/session"
	"github.com/nats-io/nats.go"
)

const (
	healthCheckTimeout = 10 * time.Second
	workDirPermissions = 0o750
)

// appliance holds the collaborators shared by both commands.
type appliance struct {
	cfg        *config.Config
	log        *logger.Logger
	nats       *nats.Conn
	renderer   core.Renderer
	player     core.Player
	store      progress.Store
	announcer  core.Announcer
	controller *session.Controller
}

func newAppliance(ctx context.Context, cfg *config.Config, log *logger.Logger) (*appliance, error) {
	dirErr := os.MkdirAll(cfg.Paths.WorkDir, workDirPermissions)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", dirErr)
	}

	app := &appliance{cfg: cfg, log: log}

	if cfg.NATS.URL != "" {
		natsConnection, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}

		app.nats = natsConnection
		log.Info("Connected to NATS at %s", cfg.NATS.URL)
	}

	err := app.build(ctx)
	if err != nil {
		app.close()

		return nil, err
	}

	return app, nil
}

func (a *appliance) build(ctx context.Context) error {
	renderer, err := newRenderer(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}

	a.renderer = renderer

	a.player, err = player.New(player.Config{
		Binary:    a.cfg.Player.Binary,
		Args:      a.cfg.Player.Args,
		StopGrace: config.Millis(a.cfg.Player.StopGraceMs),
	}, a.log)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}

	a.store, err = a.openStore()
	if err != nil {
		return err
	}

	sinks, err := a.eventSinks()
	if err != nil {
		return err
	}

	a.announcer = notify.NewSpeaker(a.renderer, a.player, a.log)

	a.controller, err = session.New(session.Dependencies{
		Renderer:  a.renderer,
		Player:    a.player,
		Store:     a.store,
		Events:    sinks,
		Announcer: a.announcer,
		Log:       a.log,
		Now:       nil,
	}, session.Config{
		SessionBudget: config.Seconds(a.cfg.Session.BudgetSeconds),
		PollInterval:  config.Millis(a.cfg.Session.PollIntervalMs),
		ResumeMode:    a.cfg.Session.ResumeMode,
	})
	if err != nil {
		return fmt.Errorf("failed to create session controller: %w", err)
	}

	return nil
}

func newRenderer(ctx context.Context, cfg *config.Config, log *logger.Logger) (core.Renderer, error) {
	clipDir := filepath.Join(cfg.Paths.WorkDir, "clips")

	if cfg.TTS.Engine == config.EngineCommand {
		renderer, err := render.NewCommandRenderer(render.CommandConfig{
			Binary:    cfg.TTS.Binary,
			Args:      cfg.TTS.Args,
			Extension: cfg.TTS.Extension,
			MIMEType:  "",
			WorkDir:   clipDir,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create command renderer: %w", err)
		}

		return renderer, nil
	}

	client := render.NewHTTPClient(cfg.TTS.BaseURL, config.Seconds(cfg.TTS.TimeoutSeconds))

	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	healthErr := client.HealthCheck(healthCtx)
	if healthErr != nil {
		log.Warn("TTS service at %s is not healthy yet: %v", cfg.TTS.BaseURL, healthErr)
	}

	renderer, err := render.NewHTTPRenderer(client, render.HTTPRendererConfig{
		WorkDir:        clipDir,
		Language:       cfg.TTS.Language,
		SpeakerRefPath: cfg.TTS.SpeakerRefPath,
		Temperature:    cfg.TTS.Temperature,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create http renderer: %w", err)
	}

	return renderer, nil
}

func (a *appliance) openStore() (progress.Store, error) {
	opts := progress.Options{
		Backend:   a.cfg.Progress.Backend,
		Path:      a.cfg.Progress.Path,
		Bucket:    a.cfg.Progress.Bucket,
		JetStream: nil,
	}

	if opts.Backend == progress.BackendNATS {
		jetStream, err := a.nats.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}

		opts.JetStream = jetStream
	}

	store, err := progress.Open(opts, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress store: %w", err)
	}

	a.log.Info("Checkpoints stored with the %s backend", opts.Backend)

	return store, nil
}

func (a *appliance) eventSinks() (core.EventSink, error) {
	sinks := notify.Multi{notify.NewLogSink(a.log)}

	if a.nats == nil {
		return sinks, nil
	}

	publisher, err := notify.NewPublisher(a.nats, a.cfg.NATS.EventsSubject, a.cfg.Device.DeviceID, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	return append(sinks, publisher), nil
}

func (a *appliance) close() {
	if a.store != nil {
		closeErr := a.store.Close()
		if closeErr != nil {
			a.log.Error("Failed to close progress store: %v", closeErr)
		}
	}

	if a.nats != nil {
		drainErr := a.nats.Drain()
		if drainErr != nil {
			a.log.Error("Failed to drain NATS connection: %v", drainErr)
		}
	}
}

// buttons combines every configured button input.
type buttons struct {
	pins    input.AnyPins
	console *input.ConsolePins
	remote  *remote.Buttons
}

func (a *appliance) newButtons(useConsole bool) (*buttons, error) {
	result := &buttons{}

	if useConsole {
		console, err := input.NewConsolePins(a.log)
		if err != nil {
			return nil, fmt.Errorf("failed to open console: %w", err)
		}

		result.console = console
		result.pins = append(result.pins, console)
	} else {
		sysfs := input.NewSysfsPins(a.cfg.Device.SysfsRoot, map[core.Button]int{
			core.ButtonCapture:     a.cfg.Device.Pins.Capture,
			core.ButtonPauseToggle: a.cfg.Device.Pins.Pause,
			core.ButtonCancel:      a.cfg.Device.Pins.Cancel,
		}, a.cfg.Device.ActiveHigh)

		exportErr := sysfs.Export()
		if exportErr != nil {
			return nil, fmt.Errorf("failed to export gpio pins: %w", exportErr)
		}

		result.pins = append(result.pins, sysfs)
	}

	if a.nats != nil {
		remoteButtons, err := remote.NewButtons(a.nats, a.cfg.NATS.ControlSubject, a.log)
		if err != nil {
			return nil, fmt.Errorf("failed to create remote buttons: %w", err)
		}

		result.remote = remoteButtons
		result.pins = append(result.pins, remoteButtons)
	}

	return result, nil
}

// start runs the remote listener and stops ctx when the console closes.
func (b *buttons) start(ctx context.Context, cancel context.CancelCauseFunc, log *logger.Logger) {
	if b.remote != nil {
		go func() {
			runErr := b.remote.Run(ctx)
			if runErr != nil {
				log.Error("Remote buttons stopped: %v", runErr)
			}
		}()
	}

	if b.console != nil {
		go func() {
			select {
			case <-b.console.Done():
				cancel(ErrConsoleClosed)
			case <-ctx.Done():
			}
		}()
	}
}

func (b *buttons) close(log *logger.Logger) {
	if b.console == nil {
		return
	}

	closeErr := b.console.Close()
	if closeErr != nil {
		log.Warn("Failed to close console: %v", closeErr)
	}
}

func (a *appliance) newLoop(pins core.PinReader, extraction device.Extraction) (*device.Loop, error) {
	source := input.NewSource(pins, input.SourceConfig{
		Debounce: config.Millis(a.cfg.Device.DebounceMs),
		Now:      nil,
	}, a.log)

	loop, err := device.New(source, a.controller, extraction, config.Millis(a.cfg.Device.PollIntervalMs), a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create device loop: %w", err)
	}

	return loop, nil
}

func (a *appliance) newExtraction(ctx context.Context) (*orchestrator.Orchestrator, error) {
	camera, err := capture.New(capture.Config{
		Binary:    a.cfg.Camera.Binary,
		Args:      a.cfg.Camera.Args,
		Directory: a.cfg.Paths.ImageDir,
		FileName:  "",
		Width:     a.cfg.Camera.Width,
		Height:    a.cfg.Camera.Height,
		Warmup:    config.Millis(a.cfg.Camera.WarmupMs),
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera: %w", err)
	}

	extractor, err := extract.NewGemini(ctx, extract.Config{
		APIKey: a.cfg.Extraction.APIKey,
		Model:  a.cfg.Extraction.Model,
		Prompt: a.cfg.Extraction.Prompt,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	extraction, err := orchestrator.New(camera, extractor, a.announcer, orchestrator.Config{
		MaxAttempts: a.cfg.Extraction.MaxAttempts,
		Backoff:     config.Millis(a.cfg.Extraction.BackoffMs),
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction: %w", err)
	}

	return extraction, nil
}

func runAppliance(parent context.Context, cfg *config.Config, useConsole bool, log *logger.Logger) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	app, err := newAppliance(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	extraction, err := app.newExtraction(ctx)
	if err != nil {
		return err
	}

	inputs, err := app.newButtons(useConsole)
	if err != nil {
		return err
	}
	defer inputs.close(log)

	loop, err := app.newLoop(inputs.pins, extraction)
	if err != nil {
		return err
	}

	inputs.start(ctx, cancel, log)

	log.System("Reading assistant ready (device %s)", cfg.Device.DeviceID)

	runErr := loop.Run(ctx)

	log.System("Reading assistant stopped: %v", context.Cause(ctx))

	return runErr
}

func narrateFile(parent context.Context, cfg *config.Config, path string, log *logger.Logger) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	app, err := newAppliance(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	inputs, err := app.newButtons(true)
	if err != nil {
		return err
	}
	defer inputs.close(log)

	loop, err := app.newLoop(inputs.pins, nil)
	if err != nil {
		return err
	}

	inputs.start(ctx, cancel, log)

	outcome, err := loop.RunText(ctx, string(body))
	if err != nil {
		return fmt.Errorf("narration of %s interrupted: %w", path, err)
	}

	log.System(
		"Narrated %s: %s (%s), %d played, %d skipped of %d",
		path, outcome.State, outcome.Reason, len(outcome.Played), len(outcome.Skipped), outcome.Total,
	)

	return nil
}
