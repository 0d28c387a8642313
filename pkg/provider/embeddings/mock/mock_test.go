package mock

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestProvider_DerivedVectors(t *testing.T) {
	p := &Provider{DimensionsValue: 8}
	ctx := context.Background()

	a1, _ := p.Embed(ctx, "I led the migration")
	a2, _ := p.Embed(ctx, "I led the migration")
	b, _ := p.Embed(ctx, "I fixed a bug")

	if len(a1) != 8 {
		t.Fatalf("len = %d, want 8", len(a1))
	}
	if !slices.Equal(a1, a2) {
		t.Error("equal texts must embed equally")
	}
	if slices.Equal(a1, b) {
		t.Error("different texts produced the same vector")
	}
	for _, v := range a1 {
		if v < -1 || v > 1 {
			t.Errorf("component %v outside [-1, 1]", v)
		}
	}
	if p.CallCount() != 3 || p.Texts[2] != "I fixed a bug" {
		t.Errorf("Texts = %q", p.Texts)
	}
}

func TestProvider_CannedAndError(t *testing.T) {
	p := &Provider{EmbedResult: []float32{1, 2}, DimensionsValue: 8}
	if v, _ := p.Embed(context.Background(), "x"); !slices.Equal(v, []float32{1, 2}) {
		t.Errorf("Embed = %v, want canned result", v)
	}
	p.EmbedErr = errors.New("rate limited")
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Error("expected EmbedErr")
	}
}
