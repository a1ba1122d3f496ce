// Package watermark stamps a fixed mark onto rendered videos with ffmpeg.
package watermark

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"continuity/internal/domain"
	"continuity/internal/infra"
)

const (
	defaultBinary = "ffmpeg"
	defaultText   = "Continuity Studio"
	margin        = 24
	stderrTail    = 2048
)

// Options configures the ffmpeg invocation.
type Options struct {
	// Binary is the ffmpeg executable, resolved through PATH when not absolute.
	Binary string
	// Text is drawn when ImagePath is empty.
	Text string
	// ImagePath, when set, is overlaid instead of the text mark.
	ImagePath string
	Timeout   time.Duration
	Logger    *infra.Logger
}

// FFmpeg applies the watermark by spawning one ffmpeg process per call.
type FFmpeg struct {
	binary    string
	text      string
	imagePath string
	timeout   time.Duration
	logger    *infra.Logger
}

func New(opts Options) *FFmpeg {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = defaultBinary
	}
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		text = defaultText
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &FFmpeg{
		binary:    binary,
		text:      text,
		imagePath: strings.TrimSpace(opts.ImagePath),
		timeout:   opts.Timeout,
		logger:    logger,
	}
}

// Args returns the ffmpeg argument list for one run.
func (f *FFmpeg) Args(inputPath, outputPath string) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y", "-i", inputPath}
	if f.imagePath != "" {
		args = append(args,
			"-i", f.imagePath,
			"-filter_complex", fmt.Sprintf("overlay=W-w-%d:H-h-%d", margin, margin),
		)
	} else {
		args = append(args, "-vf", drawText(f.text))
	}
	return append(args,
		"-codec:a", "copy",
		"-codec:v", "libx264",
		"-preset", "veryfast",
		outputPath,
	)
}

// Apply writes a watermarked copy of inputPath to outputPath. It returns only
// after the process has been waited on. Failures are processing errors whose
// ExitCode is the process exit status, ExitCodeSpawnFailure when the process
// could not start, or ExitCodeKilled when it was terminated.
func (f *FFmpeg) Apply(ctx context.Context, inputPath, outputPath string) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, f.binary, f.Args(inputPath, outputPath)...)
	command.Stderr = &stderr
	command.WaitDelay = 2 * time.Second

	start := time.Now()
	if err := command.Start(); err != nil {
		return domain.Processing(domain.ExitCodeSpawnFailure, "start "+f.binary, err)
	}
	err := command.Wait()
	if err != nil {
		detail := tail(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				msg := "ffmpeg terminated"
				if ctxErr := ctx.Err(); ctxErr != nil {
					msg = "ffmpeg timed out"
					err = ctxErr
				}
				return domain.Processing(domain.ExitCodeKilled, msg, err)
			}
			return domain.Processing(code, fmt.Sprintf("ffmpeg exited with status %d: %s", code, detail), err)
		}
		return domain.Processing(domain.ExitCodeKilled, "wait for ffmpeg", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return domain.Processing(0, "ffmpeg produced no output", err)
	}
	f.logger.Debug().
		Str("input", inputPath).
		Int64("bytes", info.Size()).
		Dur("took", time.Since(start)).
		Msg("watermark applied")
	return nil
}

// drawText renders the bottom-right text mark filter.
func drawText(text string) string {
	return fmt.Sprintf(
		"drawtext=text='%s':fontcolor=white@0.6:fontsize=28:x=w-tw-%d:y=h-th-%d:box=1:boxcolor=black@0.35:boxborderw=12",
		escapeDrawText(text), margin, margin,
	)
}

var drawTextEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)

func escapeDrawText(text string) string {
	return drawTextEscaper.Replace(text)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}
