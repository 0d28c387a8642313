// Package vision defines the Provider interface for per-frame face analysis.
//
// A vision provider decodes a video and, for every frame, reports the face
// landmarks (MediaPipe FaceMesh topology, 468 points in normalised image
// coordinates), an optional head pose, and optional emotion scores. Landmark
// detection and emotion classification run outside this process; the
// behavioural signals built on top of them are computed by the analysis
// package.
//
// Implementations must be safe for concurrent use.
package vision

import "context"

// EmotionLabels lists the emotion classes in the order the classifier
// reports its scores (FER+).
var EmotionLabels = []string{
	"neutral",
	"happiness",
	"surprise",
	"sadness",
	"anger",
	"disgust",
	"fear",
	"contempt",
}

// Landmark is one face mesh point. X and Y are normalised to [0, 1] by the
// image width and height; Z is relative depth on roughly the same scale as X.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pose is a head orientation in degrees. Positive yaw turns the face to the
// subject's left as seen by the camera (image right); positive pitch tilts
// the face up.
type Pose struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Frame is the detector output for a single decoded video frame.
type Frame struct {
	// Index is the zero-based frame number.
	Index int

	// FaceFound reports whether a face was detected. When false the other
	// fields are empty.
	FaceFound bool

	// Landmarks holds the face mesh points of the first detected face.
	Landmarks []Landmark

	// Pose is the head pose if the detector solved it. Nil means the caller
	// should estimate it from Landmarks.
	Pose *Pose

	// EmotionScores holds one score per EmotionLabels entry. Empty when the
	// face crop could not be classified.
	EmotionScores []float64
}

// StreamInfo describes the decoded video.
type StreamInfo struct {
	FPS    float64 `json:"fps"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Frames int     `json:"frames"`
}

// Provider is the abstraction over any landmark/emotion detector.
type Provider interface {
	// Detect decodes the video at videoPath and calls fn once per frame, in
	// frame order. If fn returns an error, detection stops and that error is
	// returned. The returned StreamInfo reflects what the detector reported
	// about the stream; Frames is the number of frames delivered to fn.
	Detect(ctx context.Context, videoPath string, fn func(Frame) error) (StreamInfo, error)
}
