// Package probe measures audio duration. The ffprobe binary is consulted
// first; WAV headers and MP3 frame scans serve as fallbacks when ffprobe is
// missing or fails.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/tcolgate/mp3"
)

// ErrUnsupported is returned by a prober that does not handle the file.
var ErrUnsupported = errors.New("unsupported audio format")

// Prober returns the duration of an audio file in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Chain tries each prober in order and returns the first positive result.
type Chain []Prober

// Duration implements Prober.
func (c Chain) Duration(ctx context.Context, path string) (float64, error) {
	var errs []error
	for _, p := range c {
		d, err := p.Duration(ctx, path)
		if err == nil && d > 0 {
			return d, nil
		}
		if err == nil {
			err = fmt.Errorf("%T reported non-positive duration %v", p, d)
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return 0, errors.New("no probers configured")
	}
	return 0, errors.Join(errs...)
}

// Default returns the standard chain: ffprobe, then WAV, then MP3.
func Default(ffprobePath string, timeout time.Duration) Chain {
	return Chain{
		FFprobe{Path: ffprobePath, Timeout: timeout},
		WAV{},
		MP3{},
	}
}

// FFprobe runs the ffprobe binary.
type FFprobe struct {
	Path    string
	Timeout time.Duration
}

// Duration implements Prober.
func (f FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	bin := f.Path
	if bin == "" {
		bin = "ffprobe"
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin,
		"-i", path,
		"-show_entries", "format=duration",
		"-v", "quiet",
		"-of", "csv=p=0",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return 0, fmt.Errorf("ffprobe: %w: %s", err, msg)
		}
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return parseFFprobeOutput(out)
}

func parseFFprobeOutput(out []byte) (float64, error) {
	s := strings.TrimSpace(string(out))
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("ffprobe: no duration in output %q", s)
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: parse duration %q: %w", s, err)
	}
	return d, nil
}

// WAV reads the duration from a RIFF/WAVE header.
type WAV struct{}

// Duration implements Prober.
func (WAV) Duration(_ context.Context, path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("wav: %w", ErrUnsupported)
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("wav: %w", err)
	}
	return d.Seconds(), nil
}

// MP3 sums frame durations of an MPEG audio stream. Only files with an
// .mp3 extension are scanned.
type MP3 struct{}

// Duration implements Prober.
func (MP3) Duration(ctx context.Context, path string) (float64, error) {
	if !strings.EqualFold(filepath.Ext(path), ".mp3") {
		return 0, fmt.Errorf("mp3: %w", ErrUnsupported)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var (
		dec     = mp3.NewDecoder(f)
		frame   mp3.Frame
		skipped int
		total   time.Duration
		frames  int
	)
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			if frames == 0 {
				return 0, fmt.Errorf("mp3: %w", err)
			}
			break
		}
		total += frame.Duration()
		frames++
		if frames%1000 == 0 && ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	if frames == 0 {
		return 0, fmt.Errorf("mp3: no frames: %w", ErrUnsupported)
	}
	return total.Seconds(), nil
}
