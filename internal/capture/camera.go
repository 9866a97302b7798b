// Package capture takes still pictures with a command line camera tool.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/reading-assistant/internal/core"
)

// Argument placeholders substituted by Camera.
const (
	PlaceholderOutput   = "{output}"
	PlaceholderWidth    = "{width}"
	PlaceholderHeight   = "{height}"
	PlaceholderWarmupMS = "{warmup_ms}"
)

// Defaults of the still configuration.
const (
	DefaultBinary   = "rpicam-still"
	DefaultFileName = "image.jpg"
	DefaultWidth    = 1024
	DefaultHeight   = 768
	DefaultWarmup   = 2 * time.Second

	dirPermissions = 0o750
)

// DefaultArgs suit rpicam-still and libcamera-still.
var DefaultArgs = []string{
	"--nopreview",
	"--timeout", PlaceholderWarmupMS,
	"--width", PlaceholderWidth,
	"--height", PlaceholderHeight,
	"--output", PlaceholderOutput,
}

var (
	// ErrDirectoryEmpty indicates a camera without an image directory.
	ErrDirectoryEmpty = errors.New("image directory cannot be empty")
	// ErrNoImage indicates a camera run that produced no picture.
	ErrNoImage = errors.New("camera produced no image")
)

// Config configures a Camera.
type Config struct {
	Binary    string
	Args      []string
	Directory string
	FileName  string
	Width     int
	Height    int
	Warmup    time.Duration
}

// Camera implements core.Camera by running a still capture tool.
type Camera struct {
	config Config
	log    *logger.Logger
}

// New applies defaults and prepares the image directory.
func New(cfg Config, log *logger.Logger) (*Camera, error) {
	if cfg.Directory == "" {
		return nil, ErrDirectoryEmpty
	}

	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}

	if len(cfg.Args) == 0 {
		cfg.Args = DefaultArgs
	}

	if cfg.FileName == "" {
		cfg.FileName = DefaultFileName
	}

	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}

	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}

	if cfg.Warmup <= 0 {
		cfg.Warmup = DefaultWarmup
	}

	dirErr := os.MkdirAll(cfg.Directory, dirPermissions)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", dirErr)
	}

	return &Camera{config: cfg, log: log}, nil
}

// Capture removes earlier pictures and takes a new one. Cancelling ctx kills the tool.
func (c *Camera) Capture(ctx context.Context) (core.Image, error) {
	cleanErr := c.removeOldImages()
	if cleanErr != nil {
		return core.Image{}, fmt.Errorf("%w: %w", core.ErrCapture, cleanErr)
	}

	output := filepath.Join(c.config.Directory, c.config.FileName)
	replacer := strings.NewReplacer(
		PlaceholderOutput, output,
		PlaceholderWidth, strconv.Itoa(c.config.Width),
		PlaceholderHeight, strconv.Itoa(c.config.Height),
		PlaceholderWarmupMS, strconv.FormatInt(c.config.Warmup.Milliseconds(), 10),
	)

	args := make([]string, 0, len(c.config.Args))
	for _, arg := range c.config.Args {
		args = append(args, replacer.Replace(arg))
	}

	// #nosec G204 -- binary and argument template come from the device configuration
	cmd := exec.CommandContext(ctx, c.config.Binary, args...)

	combined, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return core.Image{}, fmt.Errorf(
			"%w: %s failed: %w - output: %s",
			core.ErrCapture, c.config.Binary, runErr, strings.TrimSpace(string(combined)),
		)
	}

	info, statErr := os.Stat(output)
	if statErr != nil || info.Size() == 0 {
		return core.Image{}, fmt.Errorf("%w: %w: %s", core.ErrCapture, ErrNoImage, output)
	}

	if c.log != nil {
		c.log.Info("Captured image: %s (%d bytes)", output, info.Size())
	}

	return core.Image{Path: output, MIMEType: mimeTypeFor(output)}, nil
}

func (c *Camera) removeOldImages() error {
	entries, err := os.ReadDir(c.config.Directory)
	if err != nil {
		return fmt.Errorf("failed to list image directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		removeErr := os.Remove(filepath.Join(c.config.Directory, entry.Name()))
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("failed to remove old image %s: %w", entry.Name(), removeErr)
		}
	}

	return nil
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
