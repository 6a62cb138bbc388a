package font

import "golang.org/x/image/math/fixed"

// GlyphIndex is a glyph ID within a font, i.e. an index into a font's glyf
// (or equivalent) table.
type GlyphIndex uint16

// Deleted glyph sentinels. AAT processing replaces consumed glyphs with the
// deleted glyph rather than compacting the stream, so downstream subtables
// see stable indices. 0xFFFF is the value mandated by the 'morx' spec;
// 0xFFFE occurs in fonts produced by legacy tooling and is honored as well.
const (
	DeletedGlyph    GlyphIndex = 0xFFFF
	DeletedGlyphAlt GlyphIndex = 0xFFFE
)

// IsDeleted reports whether g is one of the deleted-glyph sentinels.
func IsDeleted(g GlyphIndex) bool {
	return g == DeletedGlyph || g == DeletedGlyphAlt
}

// RunGlyph is one glyph in a processing run. Orig is the index of the glyph
// in the original input stream, or -1 for glyphs synthesized during
// processing (e.g. by an insertion subtable). Original indices survive
// substitution, so a client can map effects back to input positions.
type RunGlyph struct {
	Orig int
	ID   GlyphIndex
}

// Deleted reports whether the run glyph carries a deleted-glyph sentinel.
func (rg RunGlyph) Deleted() bool {
	return IsDeleted(rg.ID)
}

// NewRun wraps a plain glyph sequence into a run, numbering original
// positions 0…n-1.
func NewRun(glyphs []GlyphIndex) []RunGlyph {
	run := make([]RunGlyph, len(glyphs))
	for i, g := range glyphs {
		run[i] = RunGlyph{Orig: i, ID: g}
	}
	return run
}

// Effect is the positioning outcome for a single glyph: placement shifts
// move the glyph's outline without affecting subsequent glyphs, advance
// deltas change how far the pen moves. All values are in font units.
//
// BackIndex is non-zero for mark glyphs that attached to an earlier glyph:
// it is the offset from the mark back to its base (-1 = immediately
// preceding glyph), counted in pre-bidi glyph positions. Clients rendering
// top-down need it to re-anchor marks after the base moved.
type Effect struct {
	XPlacement int32
	YPlacement int32
	XAdvance   int32
	YAdvance   int32
	BackIndex  int
}

// Any reports whether the effect changes anything at all.
func (e Effect) Any() bool {
	return e.XPlacement != 0 || e.YPlacement != 0 ||
		e.XAdvance != 0 || e.YAdvance != 0 || e.BackIndex != 0
}

// Add accumulates another effect into e. BackIndex is overwritten, not
// summed: a glyph re-attaching supersedes its previous attachment.
func (e *Effect) Add(other Effect) {
	e.XPlacement += other.XPlacement
	e.YPlacement += other.YPlacement
	e.XAdvance += other.XAdvance
	e.YAdvance += other.YAdvance
	if other.BackIndex != 0 {
		e.BackIndex = other.BackIndex
	}
}

// Metrics supplies horizontal advance widths to positioning engines.
// Implementations typically wrap a font's hmtx data.
type Metrics interface {
	Advance(g GlyphIndex) int32
}

// MetricsMap is a map-backed Metrics, convenient for tests and tools.
type MetricsMap map[GlyphIndex]int32

func (m MetricsMap) Advance(g GlyphIndex) int32 {
	return m[g]
}

// IgnoreFunc classifies the glyphs of a run for a positioning pass.
// ignored[i] is true for glyphs the pass must skip (per lookup flags);
// marks[i] is true for glyphs that are marks. Both slices have the length
// of the run.
type IgnoreFunc func(run []RunGlyph) (ignored, marks []bool)

// Context carries the environment a positioning engine needs beyond the
// glyph run itself. All fields are optional unless the concrete engine
// documents otherwise.
type Context struct {
	Metrics Metrics     // advance widths; required by LTR mark attachment
	Ignore  IgnoreFunc  // glyph classification; engines default to "nothing ignored"
	Coord   []fixed.Int26_6 // normalized variation coordinates, empty for static fonts
	Cumul   []Effect    // accumulated effects of earlier passes, indexed like the run
}

// CumulEffect returns the accumulated effect for run position i, or a zero
// effect when no earlier pass ran.
func (ctx *Context) CumulEffect(i int) Effect {
	if ctx == nil || i < 0 || i >= len(ctx.Cumul) {
		return Effect{}
	}
	return ctx.Cumul[i]
}
