// Package mock provides a test double for the vision.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Frames: []vision.Frame{{Index: 0}}, Info: vision.StreamInfo{FPS: 30}}
//	info, err := p.Detect(ctx, "answer.mp4", func(f vision.Frame) error { return nil })
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/interviewlens/pkg/vision"
)

// DetectCall records a single invocation of Detect.
type DetectCall struct {
	Ctx       context.Context
	VideoPath string
}

// Provider is a mock implementation of vision.Provider.
type Provider struct {
	mu sync.Mutex

	// Frames are delivered to the callback in order.
	Frames []vision.Frame

	// Info is returned by Detect; Frames is overwritten with the number of
	// frames delivered.
	Info vision.StreamInfo

	// Err, if non-nil, is returned before any frame is delivered.
	Err error

	// FailAfter, when positive, makes Detect return Err after that many
	// frames instead of before the first one.
	FailAfter int

	// DetectCalls records every call to Detect.
	DetectCalls []DetectCall
}

// Detect records the call and replays Frames.
func (p *Provider) Detect(ctx context.Context, videoPath string, fn func(vision.Frame) error) (vision.StreamInfo, error) {
	p.mu.Lock()
	p.DetectCalls = append(p.DetectCalls, DetectCall{Ctx: ctx, VideoPath: videoPath})
	frames := p.Frames
	info, err, failAfter := p.Info, p.Err, p.FailAfter
	p.mu.Unlock()

	if err != nil && failAfter <= 0 {
		return vision.StreamInfo{}, err
	}
	info.Frames = 0
	for i, f := range frames {
		if err != nil && i == failAfter {
			return info, err
		}
		if cerr := ctx.Err(); cerr != nil {
			return info, cerr
		}
		if ferr := fn(f); ferr != nil {
			return info, ferr
		}
		info.Frames++
	}
	return info, nil
}

// CallCount returns the number of Detect calls made so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.DetectCalls)
}

var _ vision.Provider = (*Provider)(nil)
