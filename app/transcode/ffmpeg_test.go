package transcode

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vodcomb/vod-comb/app/pipeline"
)

func TestBuildAudioArgs(t *testing.T) {
	args := buildAudioArgs("/tmp/in.mp4", "/data/out.m4a")
	joined := strings.Join(args, " ")

	for _, want := range []string{"-i /tmp/in.mp4", "-vn", "-c:a aac", "-b:a 128k", "-progress pipe:1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("audio args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "/data/out.m4a" {
		t.Errorf("expected output path last, got %s", args[len(args)-1])
	}
	if strings.Contains(joined, "libx264") {
		t.Error("audio args must not carry a video codec")
	}
}

func TestBuildVideoArgs(t *testing.T) {
	args := buildVideoArgs("/tmp/in.mp4", "/data/out.mp4")
	joined := strings.Join(args, " ")

	for _, want := range []string{"-c:v libx264", "-crf 23", "-c:a aac", "-movflags +faststart"} {
		if !strings.Contains(joined, want) {
			t.Errorf("video args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "/data/out.mp4" {
		t.Errorf("expected output path last, got %s", args[len(args)-1])
	}
}

func TestParseProgress(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		"frame=10",
		"out_time_us=30000000",
		"progress=continue",
		"out_time_us=60000000",
		"out_time_us=150000000",
		"progress=end",
	}, "\n"))

	var got []float64
	parseProgress(stream, 2*time.Minute, func(p float64) { got = append(got, p) })

	if len(got) != 3 {
		t.Fatalf("expected 3 progress reports, got %d", len(got))
	}
	if got[0] != 0.25 || got[1] != 0.5 {
		t.Errorf("unexpected fractions: %v", got)
	}
	// Past-the-end timestamps clamp to 1.
	if got[2] != 1 {
		t.Errorf("expected clamped fraction 1, got %f", got[2])
	}
}

func TestParseProgressNoCallback(t *testing.T) {
	// Must drain the stream without panicking.
	parseProgress(strings.NewReader("out_time_us=1000\nprogress=end\n"), time.Minute, nil)
}

// writeStub creates an executable shell script standing in for ffmpeg or
// ffprobe.
func writeStub(t *testing.T, name string, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscodeAudioSuccess(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.mp4")
	output := filepath.Join(dir, "out.m4a")
	if err := os.WriteFile(input, []byte("source"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The stub writes the output file named by its final argument and emits
	// one progress line.
	ffmpeg := writeStub(t, "ffmpeg", `echo "out_time_us=5000000"
for out; do :; done
printf 'encoded' > "$out"
`)
	ffprobe := writeStub(t, "ffprobe", "echo 10.0\n")

	var progress []float64
	tc := NewFFmpeg(ffmpeg, ffprobe)
	tc.OnProgress = func(p float64) { progress = append(progress, p) }

	result, err := tc.TranscodeAudio(context.Background(), input, output)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OutputPath != output {
		t.Errorf("expected output path %s, got %s", output, result.OutputPath)
	}
	if result.Size != int64(len("encoded")) {
		t.Errorf("unexpected output size %d", result.Size)
	}
	if len(progress) != 1 || progress[0] != 0.5 {
		t.Errorf("unexpected progress reports: %v", progress)
	}
}

func TestTranscodeFailureClassified(t *testing.T) {
	ffmpeg := writeStub(t, "ffmpeg", "echo 'Error while opening encoder' >&2\nexit 1\n")
	ffprobe := writeStub(t, "ffprobe", "echo 10.0\n")

	tc := NewFFmpeg(ffmpeg, ffprobe)
	_, err := tc.TranscodeVideo(context.Background(), "/tmp/in.mp4", "/tmp/out.mp4")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := pipeline.Classify(err); got != pipeline.CategoryTranscode {
		t.Errorf("expected transcode category, got %s", got)
	}
	if !strings.Contains(err.Error(), "Error while opening encoder") {
		t.Errorf("expected stderr detail in error, got %v", err)
	}
}

func TestTranscodeCancelled(t *testing.T) {
	ffmpeg := writeStub(t, "ffmpeg", "sleep 5\n")
	ffprobe := writeStub(t, "ffprobe", "echo 10.0\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	tc := NewFFmpeg(ffmpeg, ffprobe)
	_, err := tc.TranscodeAudio(ctx, "/tmp/in.mp4", "/tmp/out.m4a")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := pipeline.Classify(err); got != pipeline.CategoryCancelled {
		t.Errorf("expected cancelled category, got %s", got)
	}
}

func TestProbeDuration(t *testing.T) {
	ffprobe := writeStub(t, "ffprobe", "echo 630.566000\n")

	tc := NewFFmpeg("/nonexistent/ffmpeg", ffprobe)
	d, err := tc.ProbeDuration(context.Background(), "/tmp/in.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Duration(630.566 * float64(time.Second)); d != want {
		t.Errorf("expected %v, got %v", want, d)
	}
}

func TestProbeDurationBadOutput(t *testing.T) {
	ffprobe := writeStub(t, "ffprobe", "echo N/A\n")

	tc := NewFFmpeg("/nonexistent/ffmpeg", ffprobe)
	if _, err := tc.ProbeDuration(context.Background(), "/tmp/in.mp4"); err == nil {
		t.Fatal("expected parse error")
	}
}
