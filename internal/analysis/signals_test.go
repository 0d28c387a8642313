package analysis

import (
	"math"
	"testing"

	"github.com/MrWong99/interviewlens/pkg/vision"
)

// faceModel holds a frontal face in a camera-facing frame (x right, y up,
// z towards the camera), centred on the origin.
var faceModel = map[int][3]float64{
	idxRightEyeOuter: {-0.10, 0.10, 0},
	idxLeftEyeOuter:  {0.10, 0.10, 0},
	idxRightMouth:    {-0.06, -0.12, 0},
	idxLeftMouth:     {0.06, -0.12, 0},
	idxChin:          {0, -0.25, 0},
	idxNoseTip:       {0, -0.02, 0.08},
}

// posedFace returns a 468-point mesh of the model rotated by yaw (about the
// vertical axis) and then pitch (about the horizontal axis), projected into
// normalised image coordinates.
func posedFace(yawDeg, pitchDeg float64) []vision.Landmark {
	lms := make([]vision.Landmark, minMeshLandmarks)
	for i := range lms {
		lms[i] = vision.Landmark{X: 0.5, Y: 0.5}
	}
	yaw, pitch := yawDeg/radToDeg, pitchDeg/radToDeg
	for idx, m := range faceModel {
		x, y, z := m[0], m[1], m[2]
		x, z = x*math.Cos(yaw)+z*math.Sin(yaw), -x*math.Sin(yaw)+z*math.Cos(yaw)
		y, z = y*math.Cos(pitch)+z*math.Sin(pitch), -y*math.Sin(pitch)+z*math.Cos(pitch)
		lms[idx] = vision.Landmark{X: 0.5 + x, Y: 0.5 - y, Z: -z}
	}
	return lms
}

// frontalFace returns a frontal mesh with the given eye opening (per vertical
// pair) and mouth opening (between upper and lower lip rows).
func frontalFace(eyeOpen, mouthOpen float64) []vision.Landmark {
	lms := posedFace(0, 0)

	// Right eye: corners 33 and 133 at y=0.40, 0.06 apart.
	lms[33] = vision.Landmark{X: 0.40, Y: 0.40}
	lms[133] = vision.Landmark{X: 0.46, Y: 0.40}
	lms[160] = vision.Landmark{X: 0.42, Y: 0.40 - eyeOpen/2}
	lms[144] = vision.Landmark{X: 0.42, Y: 0.40 + eyeOpen/2}
	lms[158] = vision.Landmark{X: 0.44, Y: 0.40 - eyeOpen/2}
	lms[153] = vision.Landmark{X: 0.44, Y: 0.40 + eyeOpen/2}

	// Left eye: corners 362 and 263.
	lms[362] = vision.Landmark{X: 0.54, Y: 0.40}
	lms[263] = vision.Landmark{X: 0.60, Y: 0.40}
	lms[385] = vision.Landmark{X: 0.56, Y: 0.40 - eyeOpen/2}
	lms[380] = vision.Landmark{X: 0.56, Y: 0.40 + eyeOpen/2}
	lms[387] = vision.Landmark{X: 0.58, Y: 0.40 - eyeOpen/2}
	lms[373] = vision.Landmark{X: 0.58, Y: 0.40 + eyeOpen/2}

	for _, i := range upperLip {
		lms[i] = vision.Landmark{X: lms[i].X, Y: 0.62 - mouthOpen/2}
	}
	for _, i := range lowerLip {
		lms[i] = vision.Landmark{X: lms[i].X, Y: 0.62 + mouthOpen/2}
	}
	// Mouth corners belong to both rows.
	lms[61] = vision.Landmark{X: 0.44, Y: 0.62}
	lms[291] = vision.Landmark{X: 0.56, Y: 0.62}
	return lms
}

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestEstimatePose_Frontal(t *testing.T) {
	pose, ok := EstimatePose(posedFace(0, 0), 1)
	if !ok {
		t.Fatal("EstimatePose reported degenerate geometry for a frontal face")
	}
	if !approx(pose.Yaw, 0, 1e-6) || !approx(pose.Pitch, 0, 1e-6) || !approx(pose.Roll, 0, 1e-6) {
		t.Fatalf("pose = %+v, want all zero", pose)
	}
}

func TestEstimatePose_RecoversRotation(t *testing.T) {
	tests := []struct {
		name       string
		yaw, pitch float64
	}{
		{"turned right", 30, 0},
		{"turned left", -25, 0},
		{"looking down", 0, -20},
		{"looking up", 0, 18},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pose, ok := EstimatePose(posedFace(tt.yaw, tt.pitch), 1)
			if !ok {
				t.Fatal("EstimatePose returned !ok")
			}
			if !approx(pose.Yaw, tt.yaw, 1e-6) {
				t.Errorf("Yaw = %.4f, want %.1f", pose.Yaw, tt.yaw)
			}
			if !approx(pose.Pitch, tt.pitch, 1e-6) {
				t.Errorf("Pitch = %.4f, want %.1f", pose.Pitch, tt.pitch)
			}
		})
	}
}

func TestEstimatePose_Roll(t *testing.T) {
	lms := posedFace(0, 0)
	// Raise the subject's left side (image right) to tilt the head.
	for _, idx := range []int{idxLeftEyeOuter, idxLeftMouth} {
		lms[idx].Y -= 0.05
	}
	pose, ok := EstimatePose(lms, 1)
	if !ok {
		t.Fatal("EstimatePose returned !ok")
	}
	if pose.Roll <= 0 {
		t.Fatalf("Roll = %.2f, want positive", pose.Roll)
	}
}

func TestEstimatePose_Degenerate(t *testing.T) {
	t.Run("too few landmarks", func(t *testing.T) {
		if _, ok := EstimatePose(make([]vision.Landmark, 10), 1); ok {
			t.Fatal("want !ok")
		}
	})
	t.Run("collapsed face", func(t *testing.T) {
		lms := make([]vision.Landmark, minMeshLandmarks)
		if _, ok := EstimatePose(lms, 1); ok {
			t.Fatal("want !ok")
		}
	})
	t.Run("nose behind the face", func(t *testing.T) {
		lms := posedFace(0, 0)
		lms[idxNoseTip].Z = 0.08
		if _, ok := EstimatePose(lms, 1); ok {
			t.Fatal("want !ok")
		}
	})
}

func TestEstimatePose_AspectRatio(t *testing.T) {
	// A 16:9 frame squeezes x in normalised coordinates; the estimate must
	// undo that before measuring the angle.
	lms := posedFace(30, 0)
	const aspect = 16.0 / 9
	for i := range lms {
		lms[i].X = 0.5 + (lms[i].X-0.5)/aspect
		lms[i].Z /= aspect
	}
	pose, ok := EstimatePose(lms, aspect)
	if !ok {
		t.Fatal("EstimatePose returned !ok")
	}
	if !approx(pose.Yaw, 30, 1e-6) {
		t.Fatalf("Yaw = %.4f, want 30", pose.Yaw)
	}
}

func TestGazeDirection(t *testing.T) {
	tests := []struct {
		pose vision.Pose
		want string
	}{
		{vision.Pose{}, "Forward"},
		{vision.Pose{Yaw: -16}, "Looking Left"},
		{vision.Pose{Yaw: 16}, "Looking Right"},
		{vision.Pose{Pitch: -16}, "Looking Down"},
		{vision.Pose{Pitch: 40}, "Forward"},
		{vision.Pose{Yaw: 15, Pitch: -15}, "Forward"},
		{vision.Pose{Yaw: 20, Pitch: -30}, "Looking Right"},
	}
	for _, tt := range tests {
		if got := GazeDirection(tt.pose, 15); got != tt.want {
			t.Errorf("GazeDirection(%+v) = %q, want %q", tt.pose, got, tt.want)
		}
	}
}

func TestEyeAspectRatio(t *testing.T) {
	lms := frontalFace(0.03, 0)
	ear, ok := EyeAspectRatio(lms, rightEye)
	if !ok {
		t.Fatal("EyeAspectRatio returned !ok")
	}
	// (0.03 + 0.03) / (2 * 0.06)
	if !approx(ear, 0.5, 1e-9) {
		t.Fatalf("EAR = %v, want 0.5", ear)
	}
}

func TestIsBlink(t *testing.T) {
	tests := []struct {
		name    string
		eyeOpen float64
		blink   bool
	}{
		{"open", 0.03, false},
		{"closed", 0.006, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blink, ok := IsBlink(frontalFace(tt.eyeOpen, 0), 0.2)
			if !ok {
				t.Fatal("IsBlink returned !ok")
			}
			if blink != tt.blink {
				t.Fatalf("blink = %v, want %v", blink, tt.blink)
			}
		})
	}
}

func TestIsBlink_DegenerateEyeSkipsFrame(t *testing.T) {
	lms := frontalFace(0.006, 0)
	lms[133] = lms[33]
	if _, ok := IsBlink(lms, 0.2); ok {
		t.Fatal("want !ok when the eye corners coincide")
	}
}

func TestIsSpeaking(t *testing.T) {
	tests := []struct {
		name      string
		mouthOpen float64
		want      bool
	}{
		{"closed", 0.01, false},
		{"open", 0.08, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSpeaking(frontalFace(0.03, tt.mouthOpen), 0.04); got != tt.want {
				t.Fatalf("IsSpeaking = %v (distance %.4f), want %v",
					got, LipDistance(frontalFace(0.03, tt.mouthOpen)), tt.want)
			}
		})
	}
	if IsSpeaking(nil, 0.04) {
		t.Error("IsSpeaking(nil) = true")
	}
}

func TestDominantEmotion(t *testing.T) {
	if _, ok := DominantEmotion(nil); ok {
		t.Fatal("want !ok for no scores")
	}
	got, ok := DominantEmotion([]float64{0.1, 0.7, 0.05, 0.05, 0.02, 0.02, 0.03, 0.03})
	if !ok || got != "happiness" {
		t.Fatalf("DominantEmotion = %q, %v; want happiness", got, ok)
	}
	// First maximum wins.
	got, _ = DominantEmotion([]float64{0.4, 0.4, 0.2})
	if got != "neutral" {
		t.Fatalf("tie: got %q, want neutral", got)
	}
}
