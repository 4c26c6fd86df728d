package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Muxer combines already encoded streams into one container without re-encoding.
type Muxer interface {
	Mux(ctx context.Context, inputs []string, output string) error
}

type CLIFFmpeg struct {
	BinaryPath string
}

// NewCLIFFmpeg resolves binary (a name on PATH or an absolute path).
func NewCLIFFmpeg(binary string) (*CLIFFmpeg, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found in PATH: %w", err)
	}
	return &CLIFFmpeg{BinaryPath: path}, nil
}

func (c *CLIFFmpeg) Mux(ctx context.Context, inputs []string, output string) error {
	args, err := muxArgs(inputs, output)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, c.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return fmt.Errorf("ffmpeg exited with code %d: %s", exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

// muxArgs builds a stream-copy command: video+audio into mp4, or a single
// stream rewrapped as is.
func muxArgs(inputs []string, output string) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}

	switch len(inputs) {
	case 1:
		args = append(args, "-i", inputs[0], "-c", "copy")
	case 2:
		args = append(args,
			"-i", inputs[0],
			"-i", inputs[1],
			"-c:v", "copy",
			"-c:a", "copy",
			"-f", "mp4",
		)
	default:
		return nil, fmt.Errorf("ffmpeg mux needs 1 or 2 inputs, got %d", len(inputs))
	}

	return append(args, output), nil
}
