package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
	"github.com/google/uuid"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// ErrWorkDirEmpty indicates a renderer without an output directory.
var ErrWorkDirEmpty = errors.New("render work directory cannot be empty")

// HTTPRenderer renders sentences through the TTS HTTP service.
type HTTPRenderer struct {
	client      *HTTPClient
	workDir     string
	language    string
	speakerRef  string
	temperature float64
	log         *logger.Logger
}

// HTTPRendererConfig configures an HTTPRenderer.
type HTTPRendererConfig struct {
	WorkDir        string
	Language       string
	SpeakerRefPath string
	Temperature    float64
}

// NewHTTPRenderer creates a renderer writing WAV clips into cfg.WorkDir.
func NewHTTPRenderer(client *HTTPClient, cfg HTTPRendererConfig, log *logger.Logger) (*HTTPRenderer, error) {
	workErr := prepareWorkDir(cfg.WorkDir)
	if workErr != nil {
		return nil, workErr
	}

	return &HTTPRenderer{
		client:      client,
		workDir:     cfg.WorkDir,
		language:    cfg.Language,
		speakerRef:  cfg.SpeakerRefPath,
		temperature: cfg.Temperature,
		log:         log,
	}, nil
}

// Render synthesizes one sentence into a new WAV file.
func (r *HTTPRenderer) Render(ctx context.Context, sentence string) (core.AudioClip, error) {
	audioData, err := r.client.GenerateSpeech(ctx, Request{
		Text:           sentence,
		SpeakerRefPath: r.speakerRef,
		Language:       r.language,
		Temperature:    r.temperature,
	})
	if err != nil {
		return core.AudioClip{}, fmt.Errorf("%w: %w", core.ErrRender, err)
	}

	path := newClipPath(r.workDir, ".wav")

	writeErr := os.WriteFile(path, audioData, filePermissions)
	if writeErr != nil {
		return core.AudioClip{}, fmt.Errorf("%w: failed to write audio file: %w", core.ErrRender, writeErr)
	}

	if r.log != nil {
		r.log.Info("Generated audio: %s (%d bytes)", path, len(audioData))
	}

	return core.AudioClip{Path: path, MIMEType: contentTypeWAV, Size: len(audioData)}, nil
}

// Release deletes a clip once it has been played.
func (r *HTTPRenderer) Release(clip core.AudioClip) error {
	return releaseClip(clip)
}

func releaseClip(clip core.AudioClip) error {
	if clip.Path == "" {
		return nil
	}

	err := os.Remove(clip.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove audio file '%s': %w", clip.Path, err)
	}

	return nil
}

func prepareWorkDir(workDir string) error {
	if workDir == "" {
		return ErrWorkDirEmpty
	}

	dirErr := os.MkdirAll(workDir, dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("failed to create render work directory: %w", dirErr)
	}

	return nil
}

func newClipPath(workDir, extension string) string {
	return filepath.Join(workDir, "clip-"+uuid.NewString()+extension)
}
