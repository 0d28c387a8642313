// Package media wraps the ffmpeg and ffprobe command-line tools: audio
// extraction for transcription and stream probing for frame-rate lookup.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors returned by ExtractAudio.
var (
	ErrExtractFailed = errors.New("media: audio extraction failed")
	ErrTimeout       = errors.New("media: audio extraction timed out")
	ErrEmptyOutput   = errors.New("media: extracted audio is empty")
)

const (
	defaultFFmpeg  = "ffmpeg"
	defaultFFprobe = "ffprobe"
	defaultTimeout = 60 * time.Second

	// stderrTail is how much ffmpeg stderr is attached to errors.
	stderrTail = 1024
)

// Frame rates outside [MinFPS, MaxFPS] are container timebases rather than
// capture rates (MediaRecorder WebM probes as "1000/1") and are ignored.
const (
	MinFPS = 1
	MaxFPS = 120
)

// PlausibleFPS reports whether fps can be a real capture rate.
func PlausibleFPS(fps float64) bool {
	return fps >= MinFPS && fps <= MaxFPS
}

// VideoInfo is the subset of ffprobe output the analysis needs.
type VideoInfo struct {
	FPS      float64
	Duration time.Duration
	Width    int
	Height   int
	Frames   int
}

// Extractor runs ffmpeg/ffprobe. The zero value is not usable; use New.
type Extractor struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithFFmpegPath sets the ffmpeg binary. Defaults to "ffmpeg" on PATH.
func WithFFmpegPath(p string) Option {
	return func(e *Extractor) {
		if p != "" {
			e.ffmpeg = p
		}
	}
}

// WithFFprobePath sets the ffprobe binary. Defaults to "ffprobe" on PATH.
func WithFFprobePath(p string) Option {
	return func(e *Extractor) {
		if p != "" {
			e.ffprobe = p
		}
	}
}

// WithTimeout bounds a single ffmpeg or ffprobe run. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New returns an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		ffmpeg:  defaultFFmpeg,
		ffprobe: defaultFFprobe,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractAudio writes the audio track of videoPath to wavPath as 16 kHz mono
// 16-bit PCM WAV, overwriting any existing file.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath, wavPath string) error {
	if _, err := os.Stat(videoPath); err != nil {
		return fmt.Errorf("%w: %w", ErrExtractFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffmpeg,
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		wavPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
	}
	if err != nil {
		return fmt.Errorf("%w: %w: %s", ErrExtractFailed, err, tail(stderr.String(), stderrTail))
	}

	st, err := os.Stat(wavPath)
	if err != nil || st.Size() == 0 {
		return ErrEmptyOutput
	}
	slog.Debug("media: audio extracted", "video", videoPath, "bytes", st.Size(), "elapsed", time.Since(start))
	return nil
}

// probeOutput mirrors `ffprobe -of json` for the requested entries.
type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads stream information of the first video stream in videoPath.
func (e *Extractor) Probe(ctx context.Context, videoPath string) (VideoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames:format=duration",
		"-of", "json",
		videoPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("media: ffprobe: %w: %s", err, tail(stderr.String(), stderrTail))
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (VideoInfo, error) {
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return VideoInfo{}, fmt.Errorf("media: decode ffprobe output: %w", err)
	}
	if len(po.Streams) == 0 {
		return VideoInfo{}, errors.New("media: no video stream")
	}
	s := po.Streams[0]
	info := VideoInfo{Width: s.Width, Height: s.Height}

	// avg_frame_rate is the better estimate for variable-rate recordings.
	// FPS stays 0 when neither rate is plausible.
	for _, r := range []string{s.AvgFrameRate, s.RFrameRate} {
		if fps := parseRate(r); PlausibleFPS(fps) {
			info.FPS = fps
			break
		}
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil {
		info.Frames = n
	}
	if secs, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	return info, nil
}

// parseRate parses an ffprobe rational like "30000/1001". Invalid or
// zero-denominator values give 0.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Check verifies that ffmpeg can be executed.
func (e *Extractor) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, e.ffmpeg, "-version").Run(); err != nil {
		return fmt.Errorf("media: ffmpeg unavailable: %w", err)
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
