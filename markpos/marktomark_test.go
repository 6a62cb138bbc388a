package markpos

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/npillmayer/fontbuild/font"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
)

// stackFixture reuses the accent arrays in mark-to-mark form; with stacker
// set, glyph 40 additionally becomes an attaching mark while staying a base
// mark, so accents can pile on it without bound.
func stackFixture(stacker bool) *MarkToMark {
	src := accentFixture()
	mtm := &MarkToMark{AttachingMarks: src.Marks, BaseMarks: src.Bases}
	if stacker {
		mtm.AttachingMarks[40] = MarkRecord{Class: 0, Anchor: &Anchor{X: 102, Y: 104}}
	}
	return mtm
}

func TestMarkToMarkRunLTR(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	mtm := NewMarkToMark()
	mtm.AttachingMarks[15] = MarkRecord{Class: 0, Anchor: &Anchor{X: 400, Y: 500}}
	mtm.BaseMarks[12] = BaseRecord{&Anchor{X: 950, Y: 1300}}
	run := font.NewRun([]font.GlyphIndex{35, 12, 77, 15})
	cumul := make([]font.Effect, len(run))
	cumul[1] = font.Effect{XPlacement: -1650, YPlacement: 700, BackIndex: -1}
	ctx := &font.Context{
		Metrics: font.MetricsMap{35: 1900},
		Ignore: ignoreFlags(
			[]bool{false, false, true, false},
			[]bool{false, true, false, true}),
		Cumul: cumul,
	}
	eff, count := mtm.RunOne(run, 3, false, ctx)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	want := font.Effect{XPlacement: -1100, YPlacement: 1500, BackIndex: -2}
	if eff[3] != want {
		t.Errorf("eff[3] = %+v, want %+v", eff[3], want)
	}
	if eff[1] != cumul[1] {
		t.Errorf("the base mark's accumulated effect changed: %+v", eff[1])
	}
}

func TestMarkToMarkRunRTL(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	mtm := NewMarkToMark()
	mtm.AttachingMarks[15] = MarkRecord{Class: 0, Anchor: &Anchor{X: 400, Y: 500}}
	mtm.BaseMarks[12] = BaseRecord{&Anchor{X: 950, Y: 1300}}
	run := font.NewRun([]font.GlyphIndex{35, 12, 77, 15})
	cumul := make([]font.Effect, len(run))
	cumul[1] = font.Effect{XPlacement: -1650, YPlacement: 700, BackIndex: -1}
	ctx := &font.Context{
		Ignore: ignoreFlags(
			[]bool{false, false, true, false},
			[]bool{false, true, false, true}),
		Cumul: cumul,
	}
	eff, count := mtm.RunOne(run, 3, true, ctx)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	want := font.Effect{XPlacement: -1100, YPlacement: 1500, BackIndex: -2}
	if eff[3] != want {
		t.Errorf("eff[3] = %+v, want %+v", eff[3], want)
	}
}

func TestMarkToMarkRunNoPrecedingMark(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	mtm := NewMarkToMark()
	mtm.AttachingMarks[15] = MarkRecord{Class: 0, Anchor: &Anchor{X: 400, Y: 500}}
	mtm.BaseMarks[12] = BaseRecord{&Anchor{X: 950, Y: 1300}}
	run := font.NewRun([]font.GlyphIndex{15})
	ctx := &font.Context{
		Ignore: ignoreFlags([]bool{false}, []bool{true}),
	}
	if eff, count := mtm.RunOne(run, 0, false, ctx); eff != nil || count != 0 {
		t.Errorf("expected no effect, got (%v, %d)", eff, count)
	}
}

func TestMarkToMarkRoundTrip(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	mtm := stackFixture(true)
	b, err := mtm.Binary()
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	rep := &font.Report{}
	got, err := MarkToMarkFromValidatedBytes(font.Seg(b), rep)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if rep.HasErrors() {
		t.Fatalf("unexpected validation errors: %v", rep.Errors)
	}
	if diff := cmp.Diff(mtm, got); diff != "" {
		t.Errorf("round trip mismatch:\n%s", diff)
	}
}

func TestMarkToMarkExtrema(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	mtm := stackFixture(false)
	want := map[font.GlyphIndex]Extrema{
		12: {Max: 1590},
		13: {Max: 1600},
		14: {Min: -55},
		15: {Min: -80},
	}
	got := mtm.EffectExtrema(true)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("extrema mismatch:\n%s", diff)
	}
}

func TestMarkToMarkExtremaStacking(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	mtm := stackFixture(true)
	got := mtm.EffectExtrema(true)
	want := map[font.GlyphIndex]Extrema{
		12: {Max: 1590},
		13: {Max: 1600},
		14: {Min: -55},
		15: {Min: -80},
		40: {MaxUnbounded: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("extrema mismatch:\n%s", diff)
	}
}
