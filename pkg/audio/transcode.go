// Package audio shells out to ffmpeg/ffprobe for transcoding, probing and
// concatenation. Audio codec work stays in the external tools; this
// package only manages processes and file lifecycle.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Transcoder runs external codec processes. Zero-value paths mean the
// binaries are resolved from PATH.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
}

func NewTranscoder(ffmpegPath, ffprobePath string) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Transcoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

func (t *Transcoder) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 400 {
			detail = detail[len(detail)-400:]
		}
		return fmt.Errorf("audio: %s failed: %w: %s", filepath.Base(name), err, detail)
	}
	return nil
}

// ToVoiceNote converts a WAV file to an opus-in-ogg voice note next to the
// input, returning the new path. A partial output is removed on failure.
func (t *Transcoder) ToVoiceNote(ctx context.Context, wavPath string) (string, error) {
	oggPath := swapExt(wavPath, ".ogg")
	err := t.run(ctx, t.ffmpegPath, "-y", "-i", wavPath, "-c:a", "libopus", oggPath)
	if err != nil {
		os.Remove(oggPath)
		return "", err
	}
	return oggPath, nil
}

// ToWAV converts any input audio (voice notes, uploaded files) to 16-bit
// PCM WAV at outPath. The input file is always removed; it is a temporary
// download that must not outlive the conversion attempt.
func (t *Transcoder) ToWAV(ctx context.Context, inputPath, outPath string) error {
	defer os.Remove(inputPath)
	err := t.run(ctx, t.ffmpegPath, "-y", "-i", inputPath, "-c:a", "pcm_s16le", outPath)
	if err != nil {
		os.Remove(outPath)
		return err
	}
	return nil
}

// ConcatWAV joins the inputs in order into outPath using the concat
// demuxer, copying streams without re-encoding.
func (t *Transcoder) ConcatWAV(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("audio: nothing to concatenate")
	}
	if len(inputs) == 1 {
		return os.Rename(inputs[0], outPath)
	}

	list, err := os.CreateTemp(filepath.Dir(outPath), "concat-*.txt")
	if err != nil {
		return fmt.Errorf("audio: create concat list: %w", err)
	}
	defer os.Remove(list.Name())

	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			list.Close()
			return fmt.Errorf("audio: resolve %s: %w", in, err)
		}
		fmt.Fprintf(list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := list.Close(); err != nil {
		return fmt.Errorf("audio: write concat list: %w", err)
	}

	err = t.run(ctx, t.ffmpegPath,
		"-y", "-f", "concat", "-safe", "0", "-i", list.Name(), "-c", "copy", outPath)
	if err != nil {
		os.Remove(outPath)
		return err
	}
	return nil
}

// Duration probes the length of an audio file in seconds.
func (t *Transcoder) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("audio: ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("audio: parse duration of %s: %w", path, err)
	}
	return secs, nil
}

func swapExt(path, newExt string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + newExt
}
