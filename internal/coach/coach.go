// Package coach grades a transcribed interview answer with an LLM.
//
// The model is asked for a fixed JSON shape (scores on a 1..10 scale, STAR
// method breakdown, strengths, improvements). Replies are parsed leniently:
// the first balanced JSON object in the text is used. When the model is
// unreachable or its reply cannot be parsed, a neutral fallback evaluation
// is returned instead of an error.
package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/interviewlens/internal/observe"
	"github.com/MrWong99/interviewlens/pkg/provider/llm"
)

// ErrNoJSON is returned by [ExtractJSON] when the text holds no JSON object.
var ErrNoJSON = errors.New("coach: no JSON object in reply")

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 1024
)

// StarMethod rates the answer against the Situation/Task/Action/Result
// structure. Each part is "present", "partial", or "missing".
type StarMethod struct {
	Situation string  `json:"situation"`
	Task      string  `json:"task"`
	Action    string  `json:"action"`
	Result    string  `json:"result"`
	Score     float64 `json:"score"`
}

// Feedback is the evaluation of one answer.
type Feedback struct {
	OverallScore       float64    `json:"overallScore"`
	ContentScore       float64    `json:"contentScore"`
	StructureScore     float64    `json:"structureScore"`
	CommunicationScore float64    `json:"communicationScore"`
	ConfidenceScore    float64    `json:"confidenceScore"`
	Feedback           string     `json:"feedback"`
	Strengths          []string   `json:"strengths"`
	Improvements       []string   `json:"improvements"`
	StarMethod         StarMethod `json:"starMethod"`
	KeywordMatch       float64    `json:"keywordMatch"`
	SpecificExamples   bool       `json:"specificExamples"`
	Recommendations    []string   `json:"recommendations"`

	// KeywordCoverage is computed locally, never by the model.
	KeywordCoverage Coverage `json:"keywordCoverage"`

	// Fallback is set when the evaluation did not come from the model.
	Fallback bool `json:"fallback,omitempty"`
}

// AudioMetrics describes the spoken answer. Optional in a [Request].
type AudioMetrics struct {
	Duration       float64
	WordsPerMinute float64
	WordCount      int
}

// NewAudioMetrics derives metrics from a transcript and its duration in
// seconds. Returns nil when the duration is unknown.
func NewAudioMetrics(transcript string, seconds float64) *AudioMetrics {
	if seconds <= 0 {
		return nil
	}
	words := len(strings.Fields(transcript))
	return &AudioMetrics{
		Duration:       seconds,
		WordCount:      words,
		WordsPerMinute: float64(words) / seconds * 60,
	}
}

// Request is one answer to evaluate.
type Request struct {
	Question string
	Answer   string
	Audio    *AudioMetrics
}

// Coach evaluates answers. It is safe for concurrent use.
type Coach struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
}

// Option configures a Coach.
type Option func(*Coach)

// WithTemperature sets the sampling temperature. Default 0.3.
func WithTemperature(t float64) Option {
	return func(c *Coach) { c.temperature = t }
}

// WithMaxTokens caps the reply length. Default 1024.
func WithMaxTokens(n int) Option {
	return func(c *Coach) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coach) { c.metrics = m }
}

// New creates a Coach backed by p.
func New(p llm.Provider, opts ...Option) *Coach {
	c := &Coach{
		llm:         p,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Evaluate grades the answer. It never fails: any LLM or parsing problem
// yields [Fallback] and is logged.
func (c *Coach) Evaluate(ctx context.Context, req Request) *Feedback {
	cov := KeywordCoverage(req.Question, req.Answer)
	log := observe.Logger(ctx)

	fb, err := c.evaluate(ctx, req)
	if err != nil {
		log.Warn("answer evaluation failed, using fallback", "err", err)
		fb = Fallback(req.Answer, cov)
	}
	fb.KeywordCoverage = cov
	return fb
}

func (c *Coach) evaluate(ctx context.Context, req Request) (*Feedback, error) {
	start := time.Now()
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: buildPrompt(req)}},
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		JSONMode:     true,
	})
	c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("coach: complete: %w", err)
	}
	observe.Logger(ctx).Debug("answer graded", "model", resp.Model, "total_tokens", resp.Usage.TotalTokens)
	return Parse(resp.Content)
}

// Parse decodes a model reply into Feedback.
func Parse(reply string) (*Feedback, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	var fb Feedback
	if err := json.Unmarshal([]byte(raw), &fb); err != nil {
		return nil, fmt.Errorf("coach: decode reply: %w", err)
	}
	if fb.OverallScore == 0 && fb.Feedback == "" {
		return nil, errors.New("coach: reply has neither score nor feedback")
	}
	fb.Fallback = false
	return &fb, nil
}

// ExtractJSON returns the first balanced {...} block of text. Braces inside
// JSON strings are ignored.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", ErrNoJSON
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSON
}

// Fallback returns the neutral evaluation used when the model cannot help.
func Fallback(answer string, cov Coverage) *Feedback {
	lower := strings.ToLower(answer)
	return &Feedback{
		OverallScore:       6,
		ContentScore:       6,
		StructureScore:     6,
		CommunicationScore: 6,
		ConfidenceScore:    6,
		Feedback: "Your answer provides some relevant information. Consider providing more specific " +
			"examples and structuring your response using the STAR method (Situation, Task, Action, " +
			"Result) for better clarity.",
		Strengths:    []string{"Shows relevant experience", "Demonstrates understanding"},
		Improvements: []string{"Add specific examples", "Improve structure", "Provide quantifiable results"},
		StarMethod: StarMethod{
			Situation: "partial",
			Task:      "partial",
			Action:    "present",
			Result:    "missing",
			Score:     5,
		},
		KeywordMatch:     cov.Score(),
		SpecificExamples: strings.Contains(lower, "example") || strings.Contains(lower, "instance"),
		Recommendations: []string{
			"Use the STAR method to structure your response",
			"Include specific, quantifiable examples",
			"Connect your experience directly to the job requirements",
		},
		KeywordCoverage: cov,
		Fallback:        true,
	}
}

// ---- prompt ----

const systemPrompt = "You are an expert interview coach. You answer with a single JSON object and nothing else."

// promptTemplate takes the question, the answer, and an optional audio
// metrics block.
const promptTemplate = `Analyze the following answer to an interview question and provide detailed, constructive feedback across multiple dimensions.

Interview question:
%s

Candidate's answer:
%s
%s
Respond with JSON of exactly this shape:
{
  "overallScore": 7,
  "contentScore": 8,
  "structureScore": 6,
  "communicationScore": 7,
  "confidenceScore": 7,
  "feedback": "Detailed feedback paragraph",
  "strengths": ["strength1", "strength2"],
  "improvements": ["improvement1", "improvement2"],
  "starMethod": {"situation": "present/partial/missing", "task": "present/partial/missing", "action": "present/partial/missing", "result": "present/partial/missing", "score": 6},
  "keywordMatch": 8,
  "specificExamples": true,
  "recommendations": ["rec1", "rec2", "rec3"]
}

Scores range from 1 to 10:
- Content: relevance, depth, accuracy
- Structure: organisation, flow, STAR method usage
- Communication: clarity, pace, articulation
- Confidence: assertiveness, conviction
- Overall: holistic assessment`

func buildPrompt(req Request) string {
	var sb strings.Builder
	if a := req.Audio; a != nil {
		sb.WriteString("\nAudio metrics:\n")
		fmt.Fprintf(&sb, "- Duration: %.1f seconds\n", a.Duration)
		fmt.Fprintf(&sb, "- Words per minute: %.0f\n", a.WordsPerMinute)
		fmt.Fprintf(&sb, "- Word count: %d\n", a.WordCount)
	}
	return fmt.Sprintf(promptTemplate, req.Question, req.Answer, sb.String())
}
