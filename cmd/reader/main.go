// main package for the reading assistant
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/config"
)

// ErrConsoleClosed is returned when console input ends a run.
var ErrConsoleClosed = errors.New("console input closed")

type options struct {
	console  bool
	textFile string
}

func newApp(opts *options) (*kingpin.Application, *kingpin.CmdClause, *kingpin.CmdClause) {
	app := kingpin.New("reader", "Assistive reading appliance: capture a page, read it aloud.")

	runCmd := app.Command("run", "Run the appliance loop.").Default()
	runCmd.Flag("console", "Read button presses from the terminal instead of GPIO.").
		BoolVar(&opts.console)

	narrateCmd := app.Command("narrate", "Read a text file aloud with console controls.")
	narrateCmd.Arg("file", "Text file to narrate.").Required().ExistingFileVar(&opts.textFile)

	return app, runCmd, narrateCmd
}

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run(args []string) error {
	var opts options

	app, runCmd, narrateCmd := newApp(&opts)

	command, err := app.Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse arguments: %w", err)
	}

	bootstrapLog, err := setupLogger(os.TempDir(), "reader-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "reader.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case runCmd.FullCommand():
		return runAppliance(ctx, cfg, opts.console, finalLog)
	case narrateCmd.FullCommand():
		return narrateFile(ctx, cfg, opts.textFile, finalLog)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
