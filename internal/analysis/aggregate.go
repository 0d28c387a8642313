package analysis

import (
	"math"

	"github.com/MrWong99/interviewlens/pkg/vision"
)

// DefaultFPS is the frame rate assumed when neither configuration nor the
// container reports one.
const DefaultFPS = 30

// DefaultConfidenceScore is reported as confidence_score for every analysed
// answer.
const DefaultConfidenceScore = 85.0

// RawResults are the per-frame observations of one video.
type RawResults struct {
	HeadPose       []vision.Pose `json:"head_pose"`
	Gaze           []string      `json:"gaze"`
	Blinks         int           `json:"blinks"`
	SpeakingFrames int           `json:"speaking_frames"`
	Emotions       []string      `json:"emotions"`
	TotalFrames    int           `json:"total_frames"`
}

// newRawResults returns RawResults whose slices marshal as [] rather than null.
func newRawResults() *RawResults {
	return &RawResults{
		HeadPose: []vision.Pose{},
		Gaze:     []string{},
		Emotions: []string{},
	}
}

// Summary is the aggregated behavioural report sent to clients.
type Summary struct {
	Duration           float64 `json:"duration"`
	SpeakingPercentage float64 `json:"speaking_percentage"`
	BlinksPerMinute    float64 `json:"blinks_per_minute"`
	DominantGaze       string  `json:"dominant_gaze"`
	DominantEmotion    string  `json:"dominant_emotion"`
	TotalBlinks        int     `json:"total_blinks"`
	TotalFrames        int     `json:"total_frames"`
	SpeakingFrames     int     `json:"speaking_frames"`
	ConfidenceScore    float64 `json:"confidence_score"`
	EngagementScore    float64 `json:"engagement_score"`
	Error              string  `json:"error,omitempty"`
}

// Summarize aggregates raw observations. fps must be positive; confidence is
// copied into the summary as is.
func Summarize(raw *RawResults, fps, confidence float64) Summary {
	if fps <= 0 {
		fps = DefaultFPS
	}
	total := raw.TotalFrames

	var speakingPct float64
	if total > 0 {
		speakingPct = float64(raw.SpeakingFrames) / float64(total) * 100
	}

	durationMinutes := 1.0
	if total > 0 {
		durationMinutes = float64(total) / fps / 60
	}
	bpm := float64(raw.Blinks) / durationMinutes

	return Summary{
		Duration:           round2(float64(total) / fps),
		SpeakingPercentage: round2(speakingPct),
		BlinksPerMinute:    round2(bpm),
		DominantGaze:       mode(raw.Gaze),
		DominantEmotion:    mode(raw.Emotions),
		TotalBlinks:        raw.Blinks,
		TotalFrames:        total,
		SpeakingFrames:     raw.SpeakingFrames,
		ConfidenceScore:    confidence,
		EngagementScore:    math.Min(100, speakingPct+(100-bpm*2)),
	}
}

// ErrorSummary is the summary reported when the video could not be analysed.
func ErrorSummary(err error) Summary {
	return Summary{
		DominantGaze:    unknownLabel,
		DominantEmotion: unknownLabel,
		Error:           err.Error(),
	}
}

// mode returns the most frequent value. Ties go to the value seen first;
// an empty slice yields "Unknown".
func mode(values []string) string {
	if len(values) == 0 {
		return unknownLabel
	}
	counts := make(map[string]int, 8)
	best, bestCount := "", 0
	for _, v := range values {
		counts[v]++
	}
	for _, v := range values {
		if c := counts[v]; c > bestCount {
			best, bestCount = v, c
		}
	}
	return best
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
