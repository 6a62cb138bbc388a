package markpos

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/npillmayer/fontbuild/font"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"golang.org/x/image/math/fixed"
)

func TestAnchorKindsRoundTrip(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	mtb := NewMarkToBase()
	mtb.Marks[12] = MarkRecord{Class: 0, Anchor: &Anchor{
		Kind: AnchorPoint, X: 250, Y: 110, PointIndex: 7,
	}}
	mtb.Marks[13] = MarkRecord{Class: 0, Anchor: &Anchor{
		Kind:    AnchorDevice,
		X:       350, Y: 100,
		XDevice: &Device{Tweaks: map[uint16]int8{12: -2, 14: -1, 18: 1}},
	}}
	mtb.Bases[40] = BaseRecord{&Anchor{X: 300, Y: 1700}}
	mtb.Bases[45] = BaseRecord{&Anchor{
		Kind:    AnchorVariation,
		X:       450, Y: 1600,
		XDevice: &Device{Variable: true, OuterIndex: 1, InnerIndex: 5},
		YDevice: &Device{Variable: true, OuterIndex: 1, InnerIndex: 6},
	}}
	b, err := mtb.Binary()
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	rep := &font.Report{}
	got, err := MarkToBaseFromValidatedBytes(font.Seg(b), rep)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if rep.HasErrors() {
		t.Fatalf("unexpected validation errors: %v", rep.Errors)
	}
	diff := cmp.Diff(mtb, got,
		cmpopts.IgnoreFields(Anchor{}, "XVariation", "YVariation"))
	if diff != "" {
		t.Errorf("round trip mismatch:\n%s", diff)
	}
}

func TestAnchorPoolSharing(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	// both bases carry an identical class-0 anchor: the pool must write it
	// once, and decoding must share a single object again
	mtb := NewMarkToBase()
	mtb.Marks[12] = MarkRecord{Class: 0, Anchor: &Anchor{X: 250, Y: 110}}
	mtb.Bases[40] = BaseRecord{&Anchor{X: 300, Y: 1700}}
	mtb.Bases[45] = BaseRecord{&Anchor{X: 300, Y: 1700}}
	b, err := mtb.Binary()
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	dedup := NewMarkToBase()
	dedup.Marks = mtb.Marks
	dedup.Bases = BaseArray{40: mtb.Bases[40], 45: mtb.Bases[40]}
	bShared, err := dedup.Binary()
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if len(b) != len(bShared) {
		t.Errorf("equal anchors were not pooled: %d bytes vs %d", len(b), len(bShared))
	}
	got, err := MarkToBaseFromBytes(font.Seg(b))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Bases[40][0] != got.Bases[45][0] {
		t.Error("decoded bases do not share the pooled anchor")
	}
}

func TestRunOneVariationAnchors(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	mtb := NewMarkToBase()
	mtb.Marks[12] = MarkRecord{Class: 0, Anchor: &Anchor{
		Kind: AnchorVariation, X: 950, Y: 1100,
		XDevice:    &Device{Variable: true, OuterIndex: 0, InnerIndex: 0},
		YDevice:    &Device{Variable: true, OuterIndex: 0, InnerIndex: 1},
		XVariation: func(coord []fixed.Int26_6) float64 { return 10 },
		YVariation: func(coord []fixed.Int26_6) float64 { return 20 },
	}}
	mtb.Bases[35] = BaseRecord{&Anchor{
		Kind: AnchorVariation, X: 1200, Y: 1800,
		XDevice:    &Device{Variable: true, OuterIndex: 0, InnerIndex: 2},
		XVariation: func(coord []fixed.Int26_6) float64 { return 30 },
	}}
	run := font.NewRun([]font.GlyphIndex{35, 12})
	ctx := &font.Context{
		Metrics: font.MetricsMap{35: 1900},
		Ignore:  ignoreFlags([]bool{false, false}, []bool{false, true}),
		Coord:   []fixed.Int26_6{fixed.I(1) / 2},
	}
	eff, count := mtb.RunOne(run, 1, false, ctx)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	// deltaX = -(950+10) - 1900 + (1200-30), deltaY = -(1100+20) + 1800
	want := font.Effect{XPlacement: -1690, YPlacement: 680, BackIndex: -1}
	if eff[1] != want {
		t.Errorf("eff[1] = %+v, want %+v", eff[1], want)
	}
	// without a design-space coordinate the variation deltas must vanish
	ctx.Coord = nil
	eff, _ = mtb.RunOne(run, 1, false, ctx)
	want = font.Effect{XPlacement: -1650, YPlacement: 700, BackIndex: -1}
	if eff[1] != want {
		t.Errorf("static eff[1] = %+v, want %+v", eff[1], want)
	}
}
