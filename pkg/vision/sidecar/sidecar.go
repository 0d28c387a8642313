// Package sidecar implements vision.Provider against an HTTP face-analysis
// service that runs the landmark detector and the emotion classifier.
//
// The video is uploaded as multipart/form-data to POST {base}/landmarks. The
// service answers with newline-delimited JSON: one "meta" object describing
// the stream, then one "frame" object per decoded frame. An "error" object
// aborts the stream. Frames are decoded and handed to the callback as they
// arrive, so memory use does not grow with video length.
package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/interviewlens/pkg/vision"
)

const defaultTimeout = 10 * time.Minute

// Compile-time assertion that Client implements vision.Provider.
var _ vision.Provider = (*Client)(nil)

// Client talks to the face-analysis sidecar.
type Client struct {
	baseURL string
	c       *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.c = hc }
}

// WithTimeout sets the timeout for one whole Detect call. Defaults to 10 min.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.c.Timeout = d
		}
	}
}

// New returns a Client for the sidecar at baseURL (e.g., "http://localhost:8001").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("sidecar: baseURL must not be empty")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		c:       &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// --- wire format ---

type message struct {
	Type string `json:"type"`

	// meta
	FPS    float64 `json:"fps"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Frames int     `json:"frames"`

	// frame
	Index     int          `json:"index"`
	Face      bool         `json:"face"`
	Landmarks [][3]float64 `json:"landmarks"`
	Pose      *vision.Pose `json:"pose"`
	Emotions  []float64    `json:"emotions"`

	// error
	Message string `json:"message"`
}

// Detect implements vision.Provider.
func (c *Client) Detect(ctx context.Context, videoPath string, fn func(vision.Frame) error) (vision.StreamInfo, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return vision.StreamInfo{}, fmt.Errorf("sidecar: open video: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, f, filepath.Base(videoPath)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/landmarks", pr)
	if err != nil {
		pr.Close()
		return vision.StreamInfo{}, fmt.Errorf("sidecar: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.c.Do(req)
	if err != nil {
		pr.Close()
		return vision.StreamInfo{}, fmt.Errorf("sidecar: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		const maxErr = 4096
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErr))
		return vision.StreamInfo{}, fmt.Errorf("sidecar: landmarks %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return decodeStream(resp.Body, fn)
}

// writeForm streams the video into the multipart body.
func writeForm(mw *multipart.Writer, src io.Reader, name string) error {
	part, err := mw.CreateFormFile("video", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}

// decodeStream reads NDJSON messages from r and forwards frames to fn.
func decodeStream(r io.Reader, fn func(vision.Frame) error) (vision.StreamInfo, error) {
	var (
		info      vision.StreamInfo
		delivered int
	)
	dec := json.NewDecoder(r)
	for {
		var m message
		err := dec.Decode(&m)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return info, fmt.Errorf("sidecar: decode: %w", err)
		}

		switch m.Type {
		case "meta":
			info.FPS, info.Width, info.Height = m.FPS, m.Width, m.Height
		case "frame":
			if err := fn(toFrame(m)); err != nil {
				return info, err
			}
			delivered++
		case "error":
			return info, fmt.Errorf("sidecar: remote: %s", m.Message)
		}
	}
	info.Frames = delivered
	return info, nil
}

func toFrame(m message) vision.Frame {
	fr := vision.Frame{
		Index:         m.Index,
		FaceFound:     m.Face && len(m.Landmarks) > 0,
		EmotionScores: m.Emotions,
	}
	if !fr.FaceFound {
		fr.EmotionScores = nil
		return fr
	}
	fr.Landmarks = make([]vision.Landmark, len(m.Landmarks))
	for i, p := range m.Landmarks {
		fr.Landmarks[i] = vision.Landmark{X: p[0], Y: p[1], Z: p[2]}
	}
	fr.Pose = m.Pose
	return fr
}

// Ping checks that the sidecar is up and its models are loaded.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("sidecar: create request: %w", err)
	}
	resp, err := c.c.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar: health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar: health %s", resp.Status)
	}
	return nil
}
