// Package interview runs one submitted interview answer through the full
// analysis: audio extraction and transcription, frame-by-frame video
// analysis, optional coaching feedback and transcript embedding, and
// persistence of the outcome.
//
// Transcription and video analysis run concurrently and never fail the
// submission on their own; their problems are reported inside the result.
// Only storage failures and cancellation abort a submission.
package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/interviewlens/internal/analysis"
	"github.com/MrWong99/interviewlens/internal/coach"
	"github.com/MrWong99/interviewlens/internal/observe"
	"github.com/MrWong99/interviewlens/internal/store"
	"github.com/MrWong99/interviewlens/pkg/audio/wavfile"
	"github.com/MrWong99/interviewlens/pkg/provider/embeddings"
	"github.com/MrWong99/interviewlens/pkg/provider/stt"
)

// Transcription texts reported when no transcript could be produced.
const (
	MsgExtractFailed = "Could not extract or transcribe audio"
	MsgNotUnderstood = "Could not understand audio (tried multiple engines)"
)

// ResultMessage is the message of every successful [Result].
const ResultMessage = "Analysis complete"

const (
	defaultMaxConcurrent = 2
	defaultLanguage      = "en-US"
	keywordBoost         = 2.0
)

// AudioExtractor writes the audio track of a video as 16 kHz mono WAV.
// Satisfied by [media.Extractor].
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, wavPath string) error
}

// VideoAnalyzer produces the behavioural analysis of a video. Satisfied by
// [analysis.Analyzer].
type VideoAnalyzer interface {
	Analyze(ctx context.Context, videoPath string) (*analysis.Report, error)
}

// Evaluator grades a transcribed answer. Satisfied by [coach.Coach].
type Evaluator interface {
	Evaluate(ctx context.Context, req coach.Request) *coach.Feedback
}

// Metadata identifies the question a submission answers.
type Metadata struct {
	UserID        string `json:"userId"`
	SessionID     string `json:"sessionId"`
	QuestionIndex int    `json:"questionIndex"`
	QuestionText  string `json:"questionText"`
}

// Result is returned to the client after a completed analysis.
type Result struct {
	Message       string           `json:"message"`
	AnalysisID    string           `json:"analysisId"`
	Transcription string           `json:"transcription"`
	VideoAnalysis analysis.Summary `json:"videoAnalysis"`
	RawResults    any              `json:"rawResults"`
	Feedback      *coach.Feedback  `json:"feedback,omitempty"`
	Metadata      Metadata         `json:"metadata"`
}

// Pipeline processes submissions. It is safe for concurrent use; at most
// maxConcurrent submissions are processed at once, the rest wait.
type Pipeline struct {
	store     store.Store
	extractor AudioExtractor
	stt       stt.Provider
	analyzer  VideoAnalyzer
	evaluator Evaluator
	embedder  embeddings.Provider
	language  string
	workDir   string
	slots     *semaphore.Weighted
	metrics   *observe.Metrics
}

// Option configures a Pipeline.
type Option func(*pipelineConfig)

type pipelineConfig struct {
	evaluator     Evaluator
	embedder      embeddings.Provider
	language      string
	workDir       string
	maxConcurrent int64
	metrics       *observe.Metrics
}

// WithEvaluator enables coaching feedback.
func WithEvaluator(e Evaluator) Option {
	return func(c *pipelineConfig) { c.evaluator = e }
}

// WithEmbedder enables transcript embeddings for similarity search.
func WithEmbedder(p embeddings.Provider) Option {
	return func(c *pipelineConfig) { c.embedder = p }
}

// WithLanguage sets the recognition language. Default "en-US".
func WithLanguage(lang string) Option {
	return func(c *pipelineConfig) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithWorkDir sets where temporary files are written. Default is the OS
// temp directory.
func WithWorkDir(dir string) Option {
	return func(c *pipelineConfig) { c.workDir = dir }
}

// WithMaxConcurrent bounds the number of submissions processed at once.
// Default 2.
func WithMaxConcurrent(n int) Option {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.maxConcurrent = int64(n)
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *pipelineConfig) { c.metrics = m }
}

// New creates a Pipeline. transcriber may be nil, in which case every
// submission reports [MsgNotUnderstood].
func New(st store.Store, ex AudioExtractor, transcriber stt.Provider, an VideoAnalyzer, opts ...Option) *Pipeline {
	cfg := pipelineConfig{
		language:      defaultLanguage,
		maxConcurrent: defaultMaxConcurrent,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}
	return &Pipeline{
		store:     st,
		extractor: ex,
		stt:       transcriber,
		analyzer:  an,
		evaluator: cfg.evaluator,
		embedder:  cfg.embedder,
		language:  cfg.language,
		workDir:   cfg.workDir,
		slots:     semaphore.NewWeighted(cfg.maxConcurrent),
		metrics:   cfg.metrics,
	}
}

// transcription is the outcome of the audio branch.
type transcription struct {
	text    string
	ok      bool
	engine  string
	seconds float64
}

// Analyze processes one submission. Invalid metadata yields an error
// wrapping [ErrInvalidSubmission] before anything is stored.
func (p *Pipeline) Analyze(ctx context.Context, sub Submission) (*Result, error) {
	meta, err := sub.Validate()
	if err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "interview.analyze")
	defer span.End()

	rec := &store.Record{
		UserID:        meta.UserID,
		SessionID:     meta.SessionID,
		QuestionIndex: meta.QuestionIndex,
		QuestionText:  meta.QuestionText,
	}
	if err := p.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("interview: create record: %w", err)
	}
	ctx = observe.WithAnalysisID(ctx, rec.ID)
	log := observe.Logger(ctx).With("session_id", meta.SessionID, "question_index", meta.QuestionIndex)

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, p.fail(ctx, rec.ID, fmt.Errorf("interview: wait for slot: %w", err))
	}
	defer p.slots.Release(1)

	p.metrics.ActiveAnalyses.Add(ctx, 1)
	defer p.metrics.ActiveAnalyses.Add(ctx, -1)

	if err := p.store.SetStatus(ctx, rec.ID, store.StatusProcessing); err != nil {
		return nil, p.fail(ctx, rec.ID, fmt.Errorf("interview: mark processing: %w", err))
	}

	dir, err := os.MkdirTemp(p.workDir, "interviewlens-*")
	if err != nil {
		return nil, p.fail(ctx, rec.ID, fmt.Errorf("interview: create work dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("failed to remove work dir", "dir", dir, "err", err)
		}
	}()

	videoPath := filepath.Join(dir, "answer"+videoExt(sub.Filename))
	if err := writeFile(videoPath, sub.Video); err != nil {
		return nil, p.fail(ctx, rec.ID, fmt.Errorf("interview: save upload: %w", err))
	}
	wavPath := filepath.Join(dir, "answer.wav")

	var (
		tr     transcription
		report *analysis.Report
		g      errgroup.Group
	)
	g.Go(func() error {
		tr = p.transcribe(ctx, videoPath, wavPath, meta.QuestionText)
		return nil
	})
	g.Go(func() error {
		rep, err := p.analyzer.Analyze(ctx, videoPath)
		if err != nil {
			log.Error("video analysis failed", "err", err)
			rep = analysis.FailedReport(err)
		}
		report = rep
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, p.fail(ctx, rec.ID, fmt.Errorf("interview: %w", err))
	}

	var fb *coach.Feedback
	if p.evaluator != nil && tr.ok {
		fb = p.evaluator.Evaluate(ctx, coach.Request{
			Question: meta.QuestionText,
			Answer:   tr.text,
			Audio:    coach.NewAudioMetrics(tr.text, tr.seconds),
		})
	}

	var embedding []float32
	if p.embedder != nil && tr.ok {
		embedding, err = p.embedder.Embed(ctx, tr.text)
		if err != nil {
			log.Warn("transcript embedding failed", "err", err)
			embedding = nil
		}
	}

	res := &Result{
		Message:       ResultMessage,
		AnalysisID:    rec.ID,
		Transcription: tr.text,
		VideoAnalysis: report.Summary,
		RawResults:    report.RawOrEmpty(),
		Feedback:      fb,
		Metadata:      meta,
	}

	out, err := outcome(res, embedding)
	if err != nil {
		return nil, p.fail(ctx, rec.ID, err)
	}
	if err := p.store.Complete(ctx, rec.ID, out); err != nil {
		return nil, p.fail(ctx, rec.ID, fmt.Errorf("interview: store outcome: %w", err))
	}

	p.metrics.RecordAnalysis(ctx, string(store.StatusProcessed))
	log.Info("analysis complete",
		"engine", tr.engine,
		"frames", report.Summary.TotalFrames,
		"feedback", fb != nil,
		"embedded", embedding != nil,
	)
	return res, nil
}

// transcribe never fails; problems are reported through the returned text.
func (p *Pipeline) transcribe(ctx context.Context, videoPath, wavPath, question string) transcription {
	log := observe.Logger(ctx)

	start := time.Now()
	err := p.extractor.ExtractAudio(ctx, videoPath, wavPath)
	p.metrics.ExtractDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		log.Warn("audio extraction failed", "err", err)
		return transcription{text: MsgExtractFailed}
	}
	if p.stt == nil {
		return transcription{text: MsgNotUnderstood}
	}

	start = time.Now()
	t, err := p.stt.Transcribe(ctx, stt.Request{
		AudioPath:  wavPath,
		SampleRate: 16000,
		Language:   p.language,
		Keywords:   keywordBoosts(question),
	})
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		log.Warn("transcription failed", "err", err)
		return transcription{text: MsgNotUnderstood}
	}
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return transcription{text: MsgNotUnderstood}
	}

	seconds := t.Duration.Seconds()
	if seconds <= 0 {
		if pcm, err := wavfile.Load(wavPath); err == nil {
			seconds = pcm.Duration().Seconds()
		}
	}
	return transcription{text: text, ok: true, engine: t.Engine, seconds: seconds}
}

// fail marks the record as error and returns err. The store update runs even
// when ctx is already cancelled.
func (p *Pipeline) fail(ctx context.Context, id string, err error) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if serr := p.store.Fail(sctx, id, err.Error()); serr != nil {
		observe.Logger(ctx).Error("failed to mark analysis as failed", "err", serr)
	}
	p.metrics.RecordAnalysis(ctx, string(store.StatusError))
	return observe.RecordError(ctx, err)
}

func outcome(res *Result, embedding []float32) (store.Outcome, error) {
	va, err := json.Marshal(res.VideoAnalysis)
	if err != nil {
		return store.Outcome{}, fmt.Errorf("interview: encode video analysis: %w", err)
	}
	raw, err := json.Marshal(res.RawResults)
	if err != nil {
		return store.Outcome{}, fmt.Errorf("interview: encode raw results: %w", err)
	}
	var fb json.RawMessage
	if res.Feedback != nil {
		if fb, err = json.Marshal(res.Feedback); err != nil {
			return store.Outcome{}, fmt.Errorf("interview: encode feedback: %w", err)
		}
	}
	return store.Outcome{
		Transcription: res.Transcription,
		VideoAnalysis: va,
		RawResults:    raw,
		Feedback:      fb,
		Embedding:     embedding,
	}, nil
}

func keywordBoosts(question string) []stt.KeywordBoost {
	words := coach.Keywords(question)
	if len(words) == 0 {
		return nil
	}
	out := make([]stt.KeywordBoost, len(words))
	for i, w := range words {
		out[i] = stt.KeywordBoost{Keyword: w, Boost: keywordBoost}
	}
	return out
}

// videoExt keeps a short alphanumeric extension of the uploaded file name so
// ffmpeg can pick the demuxer; anything else becomes ".mp4".
func videoExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 6 {
		return ".mp4"
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ".mp4"
		}
	}
	return ext
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("empty video")
	}
	return nil
}
