// Package orchestrator runs one capture followed by a bounded number of
// text extraction attempts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/book-expert/reading-assistant/internal/text"
)

// Defaults of the retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
)

// NoticeCaptured is spoken once the picture has been taken.
const NoticeCaptured = "Image captured. Processing now."

// ErrMissingDependency indicates an orchestrator without camera or extractor.
var ErrMissingDependency = errors.New("orchestrator dependency is missing")

// Config is the retry policy of the extraction.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Orchestrator owns the camera and the extractor.
type Orchestrator struct {
	camera       core.Camera
	extractor    core.Extractor
	announcer    core.Announcer
	preprocessor *text.Preprocessor
	config       Config
	log          *logger.Logger
}

// New creates an orchestrator. The announcer is optional.
func New(
	camera core.Camera,
	extractor core.Extractor,
	announcer core.Announcer,
	cfg Config,
	log *logger.Logger,
) (*Orchestrator, error) {
	if camera == nil || extractor == nil {
		return nil, ErrMissingDependency
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}

	return &Orchestrator{
		camera:       camera,
		extractor:    extractor,
		announcer:    announcer,
		preprocessor: text.NewPreprocessor(),
		config:       cfg,
		log:          log,
	}, nil
}

// Run captures an image and extracts its text. Cancelling ctx aborts the
// capture, the extraction and the backoff between attempts and yields
// core.ErrCancelled. A successful extraction without text yields
// text.NoReadableText.
func (o *Orchestrator) Run(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", cancelled(ctx)
	}

	image, err := o.camera.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", cancelled(ctx)
		}

		if !errors.Is(err, core.ErrCapture) {
			err = fmt.Errorf("%w: %w", core.ErrCapture, err)
		}

		return "", err
	}

	if o.announcer != nil {
		o.announcer.Announce(ctx, NoticeCaptured)
	}

	var lastErr error

	for attempt := 1; attempt <= o.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			waitErr := o.backoff(ctx)
			if waitErr != nil {
				return "", waitErr
			}
		}

		if ctx.Err() != nil {
			return "", cancelled(ctx)
		}

		raw, extractErr := o.extractor.Extract(ctx, image)

		// A reply that arrives after the user cancelled is discarded.
		if ctx.Err() != nil {
			return "", cancelled(ctx)
		}

		if extractErr == nil {
			return o.finalize(raw), nil
		}

		lastErr = extractErr

		if o.log != nil {
			o.log.Warn("Extraction attempt %d of %d failed: %v", attempt, o.config.MaxAttempts, extractErr)
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %w", core.ErrExtractionExhausted, o.config.MaxAttempts, lastErr)
}

func (o *Orchestrator) finalize(raw string) string {
	normalized := o.preprocessor.Normalize(raw)
	if strings.TrimSpace(normalized) == "" {
		return text.NoReadableText
	}

	return normalized
}

func (o *Orchestrator) backoff(ctx context.Context) error {
	if o.config.Backoff == 0 {
		return nil
	}

	timer := time.NewTimer(o.config.Backoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return cancelled(ctx)
	}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", core.ErrCancelled, context.Cause(ctx))
}
