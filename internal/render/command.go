package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
)

// Argument placeholders substituted by CommandRenderer.
const (
	PlaceholderText   = "{text}"
	PlaceholderOutput = "{output}"
)

var (
	// ErrBinaryEmpty indicates a command renderer without a binary.
	ErrBinaryEmpty = errors.New("synthesizer binary cannot be empty")
	// ErrOutputPlaceholder indicates arguments that never name the output file.
	ErrOutputPlaceholder = errors.New("synthesizer arguments must contain " + PlaceholderOutput)
)

// CommandConfig configures a CommandRenderer.
type CommandConfig struct {
	Binary string
	// Args may contain {text} and must contain {output}.
	Args      []string
	Extension string
	MIMEType  string
	WorkDir   string
}

// CommandRenderer renders sentences by running a local synthesizer such as
// pico2wave or espeak-ng once per sentence.
type CommandRenderer struct {
	config CommandConfig
	log    *logger.Logger
}

// NewCommandRenderer validates cfg and prepares the work directory.
func NewCommandRenderer(cfg CommandConfig, log *logger.Logger) (*CommandRenderer, error) {
	if cfg.Binary == "" {
		return nil, ErrBinaryEmpty
	}

	hasOutput := false

	for _, arg := range cfg.Args {
		if strings.Contains(arg, PlaceholderOutput) {
			hasOutput = true
		}
	}

	if !hasOutput {
		return nil, ErrOutputPlaceholder
	}

	if cfg.Extension == "" {
		cfg.Extension = ".wav"
	}

	if cfg.MIMEType == "" {
		cfg.MIMEType = contentTypeWAV
	}

	workErr := prepareWorkDir(cfg.WorkDir)
	if workErr != nil {
		return nil, workErr
	}

	return &CommandRenderer{
		config: cfg,
		log:    log,
	}, nil
}

// Render runs the synthesizer and returns the produced clip. Cancelling ctx kills the process.
func (r *CommandRenderer) Render(ctx context.Context, sentence string) (core.AudioClip, error) {
	if strings.TrimSpace(sentence) == "" {
		return core.AudioClip{}, fmt.Errorf("%w: %w", core.ErrRender, ErrTextEmpty)
	}

	path := newClipPath(r.config.WorkDir, r.config.Extension)

	replacer := strings.NewReplacer(PlaceholderText, sentence, PlaceholderOutput, path)

	args := make([]string, 0, len(r.config.Args))
	for _, arg := range r.config.Args {
		args = append(args, replacer.Replace(arg))
	}

	// #nosec G204 -- binary and argument template come from the device configuration
	cmd := exec.CommandContext(ctx, r.config.Binary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = releaseClip(core.AudioClip{Path: path})

		return core.AudioClip{}, fmt.Errorf(
			"%w: %s execution failed: %w - output: %s",
			core.ErrRender, r.config.Binary, err, strings.TrimSpace(string(output)),
		)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return core.AudioClip{}, fmt.Errorf("%w: synthesizer produced no audio file: %w", core.ErrRender, statErr)
	}

	if info.Size() == 0 {
		_ = releaseClip(core.AudioClip{Path: path})

		return core.AudioClip{}, fmt.Errorf("%w: %w", core.ErrRender, ErrEmptyAudio)
	}

	if r.log != nil {
		r.log.Info("Generated audio: %s (%d bytes)", path, info.Size())
	}

	return core.AudioClip{Path: path, MIMEType: r.config.MIMEType, Size: int(info.Size())}, nil
}

// Release deletes a clip once it has been played.
func (r *CommandRenderer) Release(clip core.AudioClip) error {
	return releaseClip(clip)
}
