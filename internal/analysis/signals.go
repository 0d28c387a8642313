package analysis

import (
	"math"

	"github.com/MrWong99/interviewlens/pkg/vision"
)

// Face mesh indices used by the per-frame signals.
const (
	idxNoseTip       = 1
	idxRightEyeOuter = 33
	idxLeftEyeOuter  = 263
	idxRightMouth    = 61
	idxLeftMouth     = 291
	idxChin          = 199
	minMeshLandmarks = 468
	radToDeg         = 180 / math.Pi
	gazeForward      = "Forward"
	gazeLeft         = "Looking Left"
	gazeRight        = "Looking Right"
	gazeDown         = "Looking Down"
	unknownLabel     = "Unknown"
)

var (
	// Eye contours ordered p1..p6 for the eye aspect ratio: p1/p4 are the
	// corners, p2/p6 and p3/p5 the vertical pairs.
	leftEye  = [6]int{362, 385, 387, 263, 373, 380}
	rightEye = [6]int{33, 160, 158, 133, 153, 144}

	upperLip = []int{61, 185, 40, 39, 37, 0, 267, 269, 270, 409, 291}
	lowerLip = []int{61, 146, 91, 181, 84, 17, 314, 405, 321, 375, 291}
)

// Thresholds tunes the per-frame classifiers.
type Thresholds struct {
	// BlinkEAR marks a blink frame when the mean eye aspect ratio is below it.
	BlinkEAR float64

	// SpeakingLip marks a speaking frame when the distance between the upper
	// and lower lip centroids exceeds it (normalised image units).
	SpeakingLip float64

	// GazeAngle is the yaw/pitch magnitude in degrees beyond which the gaze
	// is no longer "Forward".
	GazeAngle float64
}

// DefaultThresholds returns the thresholds the classifiers were tuned with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BlinkEAR:    0.2,
		SpeakingLip: 0.04,
		GazeAngle:   15,
	}
}

// ---- geometry ----

type vec3 struct{ x, y, z float64 }

func (a vec3) sub(b vec3) vec3      { return vec3{a.x - b.x, a.y - b.y, a.z - b.z} }
func (a vec3) add(b vec3) vec3      { return vec3{a.x + b.x, a.y + b.y, a.z + b.z} }
func (a vec3) scale(s float64) vec3 { return vec3{a.x * s, a.y * s, a.z * s} }
func (a vec3) dot(b vec3) float64   { return a.x*b.x + a.y*b.y + a.z*b.z }
func (a vec3) norm() float64        { return math.Sqrt(a.dot(a)) }

func (a vec3) cross(b vec3) vec3 {
	return vec3{
		a.y*b.z - a.z*b.y,
		a.z*b.x - a.x*b.z,
		a.x*b.y - a.y*b.x,
	}
}

// unit returns a normalised copy of a; ok is false for a zero-length vector.
func (a vec3) unit() (vec3, bool) {
	n := a.norm()
	if n < 1e-9 {
		return vec3{}, false
	}
	return a.scale(1 / n), true
}

// dist2D is the Euclidean distance between two landmarks in the image plane.
func dist2D(a, b vision.Landmark) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// ---- head pose ----

// EstimatePose derives a head pose from face mesh landmarks. aspect is the
// frame width divided by its height; pass 1 when unknown.
//
// The face frame is spanned by the eye and mouth corners (X, towards image
// right) and the chin-to-eyes direction (Y, up); its normal Z points out of
// the face. Yaw and pitch are the angles of Z, roll the tilt of X. ok is false
// when there are too few landmarks or the geometry is degenerate.
func EstimatePose(lms []vision.Landmark, aspect float64) (vision.Pose, bool) {
	if len(lms) < minMeshLandmarks {
		return vision.Pose{}, false
	}
	if aspect <= 0 {
		aspect = 1
	}
	p := func(i int) vec3 {
		l := lms[i]
		// Image y grows downwards and MediaPipe z grows away from the camera.
		return vec3{l.X * aspect, -l.Y, -l.Z * aspect}
	}

	eyeR, eyeL := p(idxRightEyeOuter), p(idxLeftEyeOuter)
	mouthR, mouthL := p(idxRightMouth), p(idxLeftMouth)

	xAxis, ok := eyeL.sub(eyeR).add(mouthL.sub(mouthR)).unit()
	if !ok {
		return vision.Pose{}, false
	}
	midEyes := eyeR.add(eyeL).scale(0.5)
	up := midEyes.sub(p(idxChin))
	yAxis, ok := up.sub(xAxis.scale(up.dot(xAxis))).unit()
	if !ok {
		return vision.Pose{}, false
	}
	zAxis := xAxis.cross(yAxis)

	if p(idxNoseTip).sub(midEyes).dot(zAxis) < 0 {
		return vision.Pose{}, false
	}

	return vision.Pose{
		Pitch: math.Atan2(zAxis.y, math.Hypot(zAxis.x, zAxis.z)) * radToDeg,
		Yaw:   math.Atan2(zAxis.x, zAxis.z) * radToDeg,
		Roll:  math.Atan2(xAxis.y, xAxis.x) * radToDeg,
	}, true
}

// GazeDirection classifies a head pose. Horizontal deviation wins over
// vertical; looking up counts as forward.
func GazeDirection(pose vision.Pose, threshold float64) string {
	switch {
	case pose.Yaw < -threshold:
		return gazeLeft
	case pose.Yaw > threshold:
		return gazeRight
	case pose.Pitch < -threshold:
		return gazeDown
	default:
		return gazeForward
	}
}

// ---- blink ----

// EyeAspectRatio computes the EAR of one eye given its six contour indices.
// ok is false when the eye corners coincide.
func EyeAspectRatio(lms []vision.Landmark, eye [6]int) (float64, bool) {
	horizontal := dist2D(lms[eye[0]], lms[eye[3]])
	if horizontal == 0 {
		return 0, false
	}
	vertical := dist2D(lms[eye[1]], lms[eye[5]]) + dist2D(lms[eye[2]], lms[eye[4]])
	return vertical / (2 * horizontal), true
}

// IsBlink reports whether the mean EAR of both eyes is below threshold. ok is
// false when either eye is degenerate and the frame should be skipped.
func IsBlink(lms []vision.Landmark, threshold float64) (blink, ok bool) {
	if len(lms) < minMeshLandmarks {
		return false, false
	}
	l, okL := EyeAspectRatio(lms, leftEye)
	r, okR := EyeAspectRatio(lms, rightEye)
	if !okL || !okR {
		return false, false
	}
	return (l+r)/2 < threshold, true
}

// ---- speaking ----

// LipDistance is the image-plane distance between the upper and lower lip
// centroids.
func LipDistance(lms []vision.Landmark) float64 {
	u, l := centroid(lms, upperLip), centroid(lms, lowerLip)
	return dist2D(u, l)
}

// IsSpeaking reports whether the mouth is open wider than threshold.
func IsSpeaking(lms []vision.Landmark, threshold float64) bool {
	if len(lms) < minMeshLandmarks {
		return false
	}
	return LipDistance(lms) > threshold
}

func centroid(lms []vision.Landmark, idx []int) vision.Landmark {
	var c vision.Landmark
	for _, i := range idx {
		c.X += lms[i].X
		c.Y += lms[i].Y
	}
	n := float64(len(idx))
	c.X /= n
	c.Y /= n
	return c
}

// ---- emotion ----

// DominantEmotion returns the label with the highest score. ok is false when
// scores is empty.
func DominantEmotion(scores []float64) (string, bool) {
	if len(scores) == 0 {
		return "", false
	}
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	if best >= len(vision.EmotionLabels) {
		return unknownLabel, true
	}
	return vision.EmotionLabels[best], true
}
