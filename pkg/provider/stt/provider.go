// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription engine (a cloud API such as OpenAI or
// Deepgram, a local whisper.cpp server, or the in-process whisper.cpp
// bindings) and exposes a uniform batch interface: one recorded answer in,
// one Transcript out. Audio is always handed over as a path to a 16-bit PCM
// WAV file produced by the media extraction step.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrNoSpeech is returned when the engine processed the audio but could not
// recognise any speech in it. Callers typically try the next engine.
var ErrNoSpeech = errors.New("stt: no intelligible speech")

// Request describes one recorded clip to transcribe.
type Request struct {
	// AudioPath is the path of a 16-bit PCM WAV file.
	AudioPath string

	// SampleRate is the sample rate of the file in Hz. Zero means the
	// provider reads it from the file header or assumes 16000.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string selects the provider default.
	Language string

	// Keywords is a list of vocabulary hints (e.g., terms from the interview
	// question). Providers without keyword support ignore it.
	Keywords []KeywordBoost
}

// Transcript is the result of a completed transcription.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available. May be nil.
	Words []WordDetail

	// Duration is the length of the transcribed audio.
	Duration time.Duration

	// Engine names the provider that produced this transcript.
	Engine string
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a keyword to boost during recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Kubernetes").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts the audio referenced by req into text.
	//
	// Returns ErrNoSpeech (possibly wrapped) when the audio holds nothing
	// intelligible, and any other error for transport, authentication, or
	// decoding failures.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}
