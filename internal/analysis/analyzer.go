// Package analysis turns per-frame face detections into behavioural signals
// (head pose, gaze, blinks, speaking, emotion) and aggregates them into a
// summary for one recorded interview answer.
//
// Detection itself is delegated to a [vision.Provider]. A frame without a face
// only counts towards the frame total; a frame whose landmarks are unusable
// for one signal skips just that signal.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"
	"time"

	"github.com/MrWong99/interviewlens/internal/media"
	"github.com/MrWong99/interviewlens/internal/observe"
	"github.com/MrWong99/interviewlens/internal/resilience"
	"github.com/MrWong99/interviewlens/pkg/vision"
)

// Prober reports container metadata for a video. Satisfied by
// [media.Extractor].
type Prober interface {
	Probe(ctx context.Context, videoPath string) (media.VideoInfo, error)
}

// Report is the outcome of analysing one video.
type Report struct {
	// Summary is always set; on failure it carries the error message.
	Summary Summary

	// Raw holds the per-frame observations. Nil when the analysis failed.
	Raw *RawResults

	// FPS is the frame rate used for the time-based figures.
	FPS float64
}

// RawOrEmpty returns Raw, or an empty JSON object when the analysis failed.
func (r *Report) RawOrEmpty() any {
	if r.Raw == nil {
		return struct{}{}
	}
	return r.Raw
}

// FailedReport wraps err into a Report with the error summary.
func FailedReport(err error) *Report {
	return &Report{Summary: ErrorSummary(err)}
}

// Analyzer runs a vision provider over a video and aggregates the results.
// It is safe for concurrent use; thresholds may be swapped at runtime.
type Analyzer struct {
	vision     vision.Provider
	prober     Prober
	fps        float64
	confidence float64
	attempts   int
	retryDelay time.Duration
	metrics    *observe.Metrics

	thresholds atomic.Pointer[Thresholds]
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithProber sets the source of frame rate and frame size. Without one, the
// detector's stream info is used for the frame rate and the aspect ratio is
// assumed square.
func WithProber(p Prober) Option {
	return func(a *Analyzer) { a.prober = p }
}

// WithFPS fixes the frame rate used for durations. Zero (the default) uses
// the probed or detected rate, falling back to [DefaultFPS].
func WithFPS(fps float64) Option {
	return func(a *Analyzer) { a.fps = fps }
}

// WithConfidenceScore overrides [DefaultConfidenceScore].
func WithConfidenceScore(v float64) Option {
	return func(a *Analyzer) { a.confidence = v }
}

// WithThresholds sets the initial classifier thresholds.
func WithThresholds(t Thresholds) Option {
	return func(a *Analyzer) { a.thresholds.Store(&t) }
}

// WithRetry sets how often detection is attempted and the pause between
// attempts. Defaults to 3 attempts, 2 s apart.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(a *Analyzer) {
		a.attempts = attempts
		a.retryDelay = delay
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// New creates an Analyzer on top of v.
func New(v vision.Provider, opts ...Option) *Analyzer {
	a := &Analyzer{
		vision:     v,
		confidence: DefaultConfidenceScore,
		attempts:   3,
		retryDelay: 2 * time.Second,
	}
	for _, o := range opts {
		o(a)
	}
	if a.thresholds.Load() == nil {
		t := DefaultThresholds()
		a.thresholds.Store(&t)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Thresholds returns the thresholds currently in effect.
func (a *Analyzer) Thresholds() Thresholds {
	return *a.thresholds.Load()
}

// SetThresholds replaces the thresholds for subsequent analyses.
func (a *Analyzer) SetThresholds(t Thresholds) {
	a.thresholds.Store(&t)
}

// Analyze processes the video at videoPath. On error the returned Report is
// nil; callers report [FailedReport] instead.
func (a *Analyzer) Analyze(ctx context.Context, videoPath string) (*Report, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "analysis.analyze")
	defer span.End()

	fps := a.fps
	aspect := 1.0
	if a.prober != nil {
		info, err := a.prober.Probe(ctx, videoPath)
		if err != nil {
			observe.Logger(ctx).Warn("probe failed, using defaults", "path", videoPath, "err", err)
		} else {
			if fps <= 0 && media.PlausibleFPS(info.FPS) {
				fps = info.FPS
			}
			if info.Width > 0 && info.Height > 0 {
				aspect = float64(info.Width) / float64(info.Height)
			}
		}
	}

	th := a.Thresholds()
	var (
		raw   *RawResults
		info  vision.StreamInfo
		faces int64
	)
	err := resilience.Retry(ctx, a.attempts, a.retryDelay, func(ctx context.Context) error {
		raw, faces = newRawResults(), 0
		var err error
		info, err = a.vision.Detect(ctx, videoPath, func(f vision.Frame) error {
			if f.FaceFound {
				faces++
			}
			a.observe(raw, f, th, aspect)
			return nil
		})
		if isLocal(err) {
			return resilience.Permanent(err)
		}
		return err
	})
	a.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, observe.RecordError(ctx, fmt.Errorf("analysis: detect: %w", err))
	}
	a.metrics.RecordFrames(ctx, true, faces)
	a.metrics.RecordFrames(ctx, false, int64(raw.TotalFrames)-faces)

	if fps <= 0 {
		if media.PlausibleFPS(info.FPS) {
			fps = info.FPS
		} else if info.FPS != 0 {
			observe.Logger(ctx).Debug("ignoring detector frame rate", "fps", info.FPS)
		}
	}
	if fps <= 0 {
		fps = DefaultFPS
	}

	observe.Logger(ctx).Debug("video analysed",
		"path", videoPath,
		"frames", raw.TotalFrames,
		"fps", fps,
		"duration", time.Since(start),
	)
	return &Report{
		Summary: Summarize(raw, fps, a.confidence),
		Raw:     raw,
		FPS:     fps,
	}, nil
}

// isLocal reports errors from reading the video itself, which another
// attempt cannot fix.
func isLocal(err error) bool {
	var pe *fs.PathError
	return errors.As(err, &pe)
}

// observe folds one frame into raw.
func (a *Analyzer) observe(raw *RawResults, f vision.Frame, th Thresholds, aspect float64) {
	raw.TotalFrames++
	if !f.FaceFound {
		return
	}

	var (
		pose vision.Pose
		ok   bool
	)
	if f.Pose != nil {
		pose, ok = *f.Pose, true
	} else {
		pose, ok = EstimatePose(f.Landmarks, aspect)
	}
	if ok {
		raw.HeadPose = append(raw.HeadPose, pose)
		raw.Gaze = append(raw.Gaze, GazeDirection(pose, th.GazeAngle))
	}

	if blink, ok := IsBlink(f.Landmarks, th.BlinkEAR); ok && blink {
		raw.Blinks++
	}
	if IsSpeaking(f.Landmarks, th.SpeakingLip) {
		raw.SpeakingFrames++
	}
	if label, ok := DominantEmotion(f.EmotionScores); ok {
		raw.Emotions = append(raw.Emotions, label)
	}
}
