package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ThresholdsChanged is true if any per-frame classifier threshold changed.
	ThresholdsChanged bool
	NewThresholds     ThresholdValues

	// Restart lists changed sections that only take effect after a restart.
	Restart []string
}

// ThresholdValues mirrors the hot-reloadable part of [AnalysisConfig].
type ThresholdValues struct {
	BlinkEAR    float64
	SpeakingLip float64
	GazeAngle   float64
}

// Thresholds returns the classifier thresholds of a.
func (a AnalysisConfig) Thresholds() ThresholdValues {
	return ThresholdValues{
		BlinkEAR:    a.BlinkEAR,
		SpeakingLip: a.SpeakingLip,
		GazeAngle:   a.GazeAngle,
	}
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; anything else
// that differs is named in [ConfigDiff.Restart].
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Analysis.Thresholds() != new.Analysis.Thresholds() {
		d.ThresholdsChanged = true
		d.NewThresholds = new.Analysis.Thresholds()
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.Restart = append(d.Restart, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.Restart = append(d.Restart, "providers")
	}
	if old.Media != new.Media {
		d.Restart = append(d.Restart, "media")
	}
	oldA, newA := old.Analysis, new.Analysis
	if oldA.FPS != newA.FPS || oldA.ConfidenceScore != newA.ConfidenceScore || oldA.MaxConcurrent != newA.MaxConcurrent {
		d.Restart = append(d.Restart, "analysis")
	}
	if old.Feedback != new.Feedback {
		d.Restart = append(d.Restart, "feedback")
	}
	if old.Storage != new.Storage {
		d.Restart = append(d.Restart, "storage")
	}
	if old.Telemetry != new.Telemetry {
		d.Restart = append(d.Restart, "telemetry")
	}

	return d
}
