package transcode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/vodcomb/vod-comb/app/pipeline"
)

var _ pipeline.Transcoder = (*FFmpeg)(nil)

// ProgressFunc receives transcode progress in the range [0, 1].
type ProgressFunc func(percent float64)

// FFmpeg produces podcast-ready audio and video renditions of downloaded
// media by shelling out to ffmpeg.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string

	// OnProgress, when set, is called as the encode advances.
	OnProgress ProgressFunc
}

func NewFFmpeg(ffmpegPath string, ffprobePath string) *FFmpeg {
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// TranscodeAudio extracts an AAC audio rendition suitable for audio-only
// podcast feeds.
func (f *FFmpeg) TranscodeAudio(ctx context.Context, inputPath string, outputPath string) (*pipeline.TranscodeResult, error) {
	return f.run(ctx, "transcode audio", buildAudioArgs(inputPath, outputPath), inputPath, outputPath)
}

// TranscodeVideo re-encodes the source into a web-friendly H.264 MP4.
func (f *FFmpeg) TranscodeVideo(ctx context.Context, inputPath string, outputPath string) (*pipeline.TranscodeResult, error) {
	return f.run(ctx, "transcode video", buildVideoArgs(inputPath, outputPath), inputPath, outputPath)
}

func buildAudioArgs(inputPath string, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-nostats",
		"-progress", "pipe:1",
		outputPath,
	}
}

func buildVideoArgs(inputPath string, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-c:v", "libx264",
		"-crf", "23",
		"-preset", "medium",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-nostats",
		"-progress", "pipe:1",
		outputPath,
	}
}

func (f *FFmpeg) run(ctx context.Context, op string, args []string, inputPath string, outputPath string) (*pipeline.TranscodeResult, error) {
	total, err := f.ProbeDuration(ctx, inputPath)
	if err != nil {
		slog.Debug("Failed to probe input duration", "input", inputPath, "error", err)
		total = 0
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pipeline.NewError(pipeline.CategoryTranscode, op, err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, pipeline.NewError(pipeline.CategoryTranscode, op, err)
	}

	parseProgress(stdout, total, f.OnProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, pipeline.NewError(pipeline.CategoryCancelled, op, ctx.Err())
		}
		if detail := lastStderrLine(stderr.String()); detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return nil, pipeline.NewError(pipeline.CategoryTranscode, op, err)
	}

	stat, err := os.Stat(outputPath)
	if err != nil {
		return nil, pipeline.NewError(pipeline.CategoryTranscode, op,
			fmt.Errorf("output file missing: %w", err))
	}

	return &pipeline.TranscodeResult{
		OutputPath: outputPath,
		Size:       stat.Size(),
		Elapsed:    time.Since(start),
	}, nil
}

// ProbeDuration reads the media duration via ffprobe.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	out, err := exec.CommandContext(ctx, f.ffprobePath, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// parseProgress consumes ffmpeg's key=value progress stream and reports the
// completed fraction. The stream must be drained even when no callback is
// set, otherwise ffmpeg blocks on a full pipe.
func parseProgress(r io.Reader, total time.Duration, emit ProgressFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		value, ok := strings.CutPrefix(line, "out_time_us=")
		if !ok {
			continue
		}
		if emit == nil || total <= 0 {
			continue
		}
		us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		percent := float64(us) * float64(time.Microsecond) / float64(total)
		if percent > 1 {
			percent = 1
		}
		emit(percent)
	}
}

func lastStderrLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
