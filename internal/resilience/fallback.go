package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/MrWong99/interviewlens/internal/observe"
)

// ErrAllFailed matches the error returned when no member of a
// [FallbackGroup] produced a result.
var ErrAllFailed = errors.New("all providers failed")

// Provider request outcomes recorded in interviewlens.provider.requests.
const (
	statusOK       = "ok"
	statusDeclined = "declined"
	statusError    = "error"
	statusSkipped  = "skipped"
)

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each member's breaker; Name is set
	// per member.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels metrics and logs ("stt", "llm").
	Kind string

	// Metrics receives one provider request sample per attempt. Nil disables
	// recording.
	Metrics *observe.Metrics
}

// Attempt is one member's contribution to an [AllFailedError].
type Attempt struct {
	Provider string
	Err      error
}

// AllFailedError lists why every member of a group was passed over. It
// matches [ErrAllFailed] and unwraps to each attempt's error, so
// errors.Is(err, stt.ErrNoSpeech) holds when some engine heard nothing.
type AllFailedError struct {
	Kind     string
	Attempts []Attempt
}

func (e *AllFailedError) Error() string {
	var b strings.Builder
	if e.Kind != "" {
		b.WriteString(e.Kind)
		b.WriteString(": ")
	}
	b.WriteString(ErrAllFailed.Error())
	for i, a := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(a.Provider)
		b.WriteString(": ")
		b.WriteString(a.Err.Error())
	}
	return b.String()
}

// Is reports whether target is [ErrAllFailed].
func (e *AllFailedError) Is(target error) bool {
	return target == ErrAllFailed
}

func (e *AllFailedError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// MemberState is a snapshot of one group member's breaker.
type MemberState struct {
	Name  string
	State State
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary provider and ordered fallbacks of the same
// type, each guarded by its own [CircuitBreaker]. Register fallbacks before
// the group is used; calls are then safe for concurrent use.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose first member is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a member tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Names returns the member names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.members))
	for i, m := range fg.members {
		names[i] = m.name
	}
	return names
}

// States returns each member's breaker state in order.
func (fg *FallbackGroup[T]) States() []MemberState {
	out := make([]MemberState, len(fg.members))
	for i, m := range fg.members {
		out[i] = MemberState{Name: m.name, State: m.breaker.State()}
	}
	return out
}

// Available reports whether at least one member would accept a call.
func (fg *FallbackGroup[T]) Available() bool {
	for _, m := range fg.members {
		if m.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Execute is [Do] for calls without a result.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, _, err := Do(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// Do calls fn with each member in order until one succeeds and returns its
// result and name. Members with an open breaker are skipped. If ctx ends
// between attempts, ctx.Err() is returned. Otherwise a failure of every
// member yields an [*AllFailedError].
func Do[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var zero R
	failed := &AllFailedError{Kind: fg.cfg.Kind}
	for i := range fg.members {
		m := &fg.members[i]
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		var res R
		err := m.breaker.Execute(func() error {
			var err error
			res, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			fg.record(ctx, m.name, statusOK)
			return res, m.name, nil
		}
		failed.Attempts = append(failed.Attempts, Attempt{Provider: m.name, Err: err})

		switch {
		case errors.Is(err, ErrCircuitOpen):
			fg.record(ctx, m.name, statusSkipped)
			slog.Debug("provider skipped, circuit open", "kind", fg.cfg.Kind, "provider", m.name)
		case fg.cfg.CircuitBreaker.IsSuccessful != nil && fg.cfg.CircuitBreaker.IsSuccessful(err):
			fg.record(ctx, m.name, statusDeclined)
			slog.Info("provider declined, trying next", "kind", fg.cfg.Kind, "provider", m.name, "err", err)
		default:
			fg.record(ctx, m.name, statusError)
			if fg.cfg.Metrics != nil {
				fg.cfg.Metrics.RecordProviderError(ctx, m.name, fg.cfg.Kind)
			}
			slog.Warn("provider failed, trying next", "kind", fg.cfg.Kind, "provider", m.name, "err", err)
		}
	}
	return zero, "", failed
}

func (fg *FallbackGroup[T]) record(ctx context.Context, provider, status string) {
	if fg.cfg.Metrics != nil {
		fg.cfg.Metrics.RecordProviderRequest(ctx, provider, fg.cfg.Kind, status)
	}
}
