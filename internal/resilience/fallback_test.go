package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/interviewlens/internal/observe"
)

// failFor returns a call that fails for the named members and records every
// member it reaches.
func failFor(reached *[]string, failing ...string) func(context.Context, string) error {
	return func(_ context.Context, v string) error {
		*reached = append(*reached, v)
		for _, f := range failing {
			if v == f {
				return errTest
			}
		}
		return nil
	}
}

func newGroup(cb CircuitBreakerConfig, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{CircuitBreaker: cb, Kind: "stt"})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	tests := []struct {
		name        string
		failing     []string
		wantReached string
		wantErr     bool
	}{
		{name: "primary answers", wantReached: "deepgram"},
		{name: "first fallback answers", failing: []string{"deepgram"}, wantReached: "deepgram,openai"},
		{name: "last fallback answers", failing: []string{"deepgram", "openai"}, wantReached: "deepgram,openai,whisper"},
		{name: "all fail", failing: []string{"deepgram", "openai", "whisper"}, wantReached: "deepgram,openai,whisper", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := newGroup(CircuitBreakerConfig{MaxFailures: 3}, "deepgram", "openai", "whisper")
			var reached []string
			err := fg.Execute(context.Background(), failFor(&reached, tt.failing...))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := strings.Join(reached, ","); got != tt.wantReached {
				t.Errorf("reached = %s, want %s", got, tt.wantReached)
			}
		})
	}
}

func TestFallbackGroup_AllFailedError(t *testing.T) {
	errQuota := errors.New("quota exceeded")
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 3}, "deepgram", "whisper")

	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		if v == "deepgram" {
			return errQuota
		}
		return errTest
	})

	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errQuota) {
		t.Errorf("err must unwrap to each attempt's error")
	}
	var afe *AllFailedError
	if !errors.As(err, &afe) {
		t.Fatalf("err is %T, want *AllFailedError", err)
	}
	if len(afe.Attempts) != 2 || afe.Attempts[0].Provider != "deepgram" || afe.Attempts[1].Provider != "whisper" {
		t.Errorf("attempts = %+v", afe.Attempts)
	}
	want := "stt: all providers failed: deepgram: quota exceeded; whisper: test error"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestFallbackGroup_SkipsOpenMember(t *testing.T) {
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, "deepgram", "whisper")

	var reached []string
	for range 2 {
		_ = fg.Execute(context.Background(), failFor(&reached, "deepgram"))
	}
	reached = nil
	if err := fg.Execute(context.Background(), failFor(&reached)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(reached, ","); got != "whisper" {
		t.Errorf("reached = %s, want whisper only", got)
	}

	states := fg.States()
	if states[0].Name != "deepgram" || states[0].State != StateOpen || states[1].State != StateClosed {
		t.Errorf("States = %+v", states)
	}
	if !fg.Available() {
		t.Error("Available = false with a closed fallback")
	}
}

func TestFallbackGroup_Available(t *testing.T) {
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, "deepgram", "whisper")
	if !fg.Available() {
		t.Fatal("fresh group must be available")
	}
	var reached []string
	_ = fg.Execute(context.Background(), failFor(&reached, "deepgram", "whisper"))
	if fg.Available() {
		t.Error("Available = true with every breaker open")
	}
	err := fg.Execute(context.Background(), failFor(&reached))
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
}

func TestFallbackGroup_StopsOnCancelledContext(t *testing.T) {
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 1}, "deepgram", "whisper")
	ctx, cancel := context.WithCancel(context.Background())

	var reached []string
	err := fg.Execute(ctx, func(_ context.Context, v string) error {
		reached = append(reached, v)
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(reached) != 1 {
		t.Errorf("reached = %v, want only the primary", reached)
	}
	if fg.States()[0].State != StateClosed {
		t.Error("a cancelled call must not open the breaker")
	}
}

func TestDo_ReturnsServingMember(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	got, name, err := Do(context.Background(), fg, func(_ context.Context, v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 40 || name != "twenty" {
		t.Errorf("Do = %d from %q, want 40 from twenty", got, name)
	}
	if names := fg.Names(); len(names) != 2 || names[0] != "ten" {
		t.Errorf("Names = %v", names)
	}
}

func TestFallbackGroup_RecordsProviderMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	errDeclined := errors.New("nothing heard")
	fg := NewFallbackGroup("deepgram", "deepgram", FallbackConfig{
		Kind:    "stt",
		Metrics: m,
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  1,
			ResetTimeout: time.Hour,
			IsSuccessful: func(err error) bool { return errors.Is(err, errDeclined) },
		},
	})
	fg.AddFallback("openai", "openai")
	fg.AddFallback("whisper", "whisper")

	call := func(_ context.Context, v string) error {
		switch v {
		case "deepgram":
			return errTest
		case "openai":
			return errDeclined
		}
		return nil
	}
	_ = fg.Execute(context.Background(), call) // deepgram error, openai declined, whisper ok
	_ = fg.Execute(context.Background(), call) // deepgram skipped, openai declined, whisper ok

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	requests := counterByAttrs(rm, "interviewlens.provider.requests", "provider", "status")
	want := map[string]int64{
		"deepgram/error":   1,
		"deepgram/skipped": 1,
		"openai/declined":  2,
		"whisper/ok":       2,
	}
	for k, v := range want {
		if requests[k] != v {
			t.Errorf("requests[%s] = %d, want %d (all: %v)", k, requests[k], v, requests)
		}
	}
	errs := counterByAttrs(rm, "interviewlens.provider.errors", "provider", "kind")
	if errs["deepgram/stt"] != 1 || len(errs) != 1 {
		t.Errorf("errors = %v, want only deepgram/stt=1", errs)
	}
}

// counterByAttrs flattens an int64 sum into "a/b" keyed values.
func counterByAttrs(rm metricdata.ResourceMetrics, name, a, b string) map[string]int64 {
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				va, _ := dp.Attributes.Value(attribute.Key(a))
				vb, _ := dp.Attributes.Value(attribute.Key(b))
				out[va.AsString()+"/"+vb.AsString()] += dp.Value
			}
		}
	}
	return out
}
