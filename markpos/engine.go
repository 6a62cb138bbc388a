package markpos

import (
	"math"

	"github.com/npillmayer/fontbuild/font"
	"golang.org/x/image/math/fixed"
)

// classify runs the context's ignore function over the glyph run, defaulting
// to "nothing ignored, nothing is a mark" when no function is configured.
func classify(run []font.RunGlyph, ctx *font.Context) (igs, marks []bool) {
	if ctx != nil && ctx.Ignore != nil {
		return ctx.Ignore(run)
	}
	return make([]bool, len(run)), make([]bool, len(run))
}

// effectsFor returns the effect slots RunOne accumulates into: the
// context's cumulative slots when they match the run, a fresh slice
// otherwise.
func effectsFor(run []font.RunGlyph, ctx *font.Context) []font.Effect {
	if ctx != nil && len(ctx.Cumul) == len(run) {
		return ctx.Cumul
	}
	return make([]font.Effect, len(run))
}

func advanceOf(ctx *font.Context, g font.GlyphIndex) int32 {
	if ctx == nil || ctx.Metrics == nil {
		return 0
	}
	return ctx.Metrics.Advance(g)
}

func designCoord(ctx *font.Context) []fixed.Int26_6 {
	if ctx == nil {
		return nil
	}
	return ctx.Coord
}

// variationDelta resolves the anchor's variation deltas at the given
// design-space position. Non-variation anchors, an unset coordinate, and
// anchors decoded from a font (whose delta data lives in the item variation
// store) all yield zero.
func (a *Anchor) variationDelta(coord []fixed.Int26_6) (dx, dy int32) {
	if a.Kind != AnchorVariation || len(coord) == 0 {
		return 0, 0
	}
	if a.XVariation != nil {
		dx = int32(math.Round(a.XVariation(coord)))
	}
	if a.YVariation != nil {
		dy = int32(math.Round(a.YVariation(coord)))
	}
	return dx, dy
}

// Extrema bounds the placement shift a subtable can apply to a mark glyph,
// in font units perpendicular to the text direction. MaxUnbounded or
// MinUnbounded flag marks that can stack on themselves indefinitely, where
// no finite bound exists.
type Extrema struct {
	Max, Min                   int32
	MaxUnbounded, MinUnbounded bool
}

// effectExtrema computes per-mark shift bounds over all (base, mark) anchor
// pairings. For horizontal text the relevant shift is vertical (y), for
// vertical text horizontal (x). stacks reports glyphs that occur on both
// sides of the attachment relation; their growing bound is unbounded.
func effectExtrema(marks MarkArray, bases BaseArray, horizontal bool,
	stacks func(font.GlyphIndex) bool) map[font.GlyphIndex]Extrema {
	//
	r := make(map[font.GlyphIndex]Extrema)
	for _, baseRec := range bases {
		for markGlyph, markRec := range marks {
			if markRec.Anchor == nil || markRec.Class >= len(baseRec) {
				continue
			}
			baseAnchor := baseRec[markRec.Class]
			if baseAnchor == nil {
				continue
			}
			var shift int32
			if horizontal {
				shift = int32(baseAnchor.Y) - int32(markRec.Anchor.Y)
			} else {
				shift = int32(baseAnchor.X) - int32(markRec.Anchor.X)
			}
			if shift == 0 {
				continue
			}
			ext, seen := r[markGlyph]
			stacker := stacks != nil && stacks(markGlyph)
			if shift > 0 {
				switch {
				case stacker:
					ext.Max, ext.MaxUnbounded = 0, true
				case !ext.MaxUnbounded && (!seen || shift > ext.Max):
					ext.Max = shift
				}
			} else {
				switch {
				case stacker:
					ext.Min, ext.MinUnbounded = 0, true
				case !ext.MinUnbounded && (!seen || shift < ext.Min):
					ext.Min = shift
				}
			}
			r[markGlyph] = ext
		}
	}
	return r
}
