package markpos

import (
	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// MarkToBase is a GPOS lookup type 4 subtable: it attaches mark glyphs
// (accents, vowel signs, …) to the nearest preceding base glyph by aligning
// the mark's anchor with the base's anchor for the mark's class.
type MarkToBase struct {
	Marks MarkArray
	Bases BaseArray
}

// NewMarkToBase returns an empty subtable.
func NewMarkToBase() *MarkToBase {
	return &MarkToBase{Marks: make(MarkArray), Bases: make(BaseArray)}
}

// Validate checks that every mark has an anchor and every base record has
// one anchor slot per mark class.
func (m *MarkToBase) Validate() error {
	return validateMarkAttachment(m.Marks, m.Bases)
}

// Write appends the subtable in format 1.
func (m *MarkToBase) Write(w *binlink.LinkedWriter) error {
	return writeMarkAttachment(w, m.Marks, m.Bases)
}

// Binary serializes the subtable into a fresh byte slice.
func (m *MarkToBase) Binary() ([]byte, error) {
	w := binlink.NewWriter()
	if err := m.Write(w); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// MarkToBaseFromBytes decodes a subtable without source validation.
func MarkToBaseFromBytes(data font.Seg) (*MarkToBase, error) {
	return readMarkToBase(data, nil)
}

// MarkToBaseFromValidatedBytes decodes a subtable with source validation,
// recording defects in rep.
func MarkToBaseFromValidatedBytes(data font.Seg, rep *font.Report) (*MarkToBase, error) {
	return readMarkToBase(data, rep)
}

func readMarkToBase(data font.Seg, rep *font.Report) (*MarkToBase, error) {
	marks, bases, err := readMarkAttachment(data, "mark-to-base", rep)
	if err != nil {
		return nil, err
	}
	return &MarkToBase{Marks: marks, Bases: bases}, nil
}

// RunOne tries to attach the mark glyph at startIndex to a preceding base.
// It returns the effect slots (the context's cumulative slots when those
// were supplied) and the number of glyphs consumed, or (nil, 0) when the
// subtable does not apply at startIndex.
//
// The left-to-right variant compensates for the advance widths of glyphs
// between base and mark; the right-to-left variant runs pre-bidi, where
// base and mark still share a pen position, and instead references the
// base's already-accumulated placement.
func (m *MarkToBase) RunOne(run []font.RunGlyph, startIndex int, rightToLeft bool,
	ctx *font.Context) ([]font.Effect, int) {
	//
	if startIndex < 0 || startIndex >= len(run) {
		return nil, 0
	}
	igs, isMark := classify(run, ctx)
	gMark := run[startIndex].ID
	markRec, inMarks := m.Marks[gMark]
	if !isMark[startIndex] || !inMarks {
		return nil, 0
	}

	// Walk back over ignorables and marks to the nearest base candidate.
	walk := startIndex
	for walk >= 0 && (igs[walk] || isMark[walk]) {
		walk--
	}
	if walk < 0 {
		return nil, 0
	}
	baseRec, inBases := m.Bases[run[walk].ID]
	if !inBases || markRec.Class >= len(baseRec) || baseRec[markRec.Class] == nil {
		return nil, 0
	}
	baseAnchor := baseRec[markRec.Class]
	tracer().Debugf("mark %d attaches to base %d at distance %d",
		gMark, run[walk].ID, startIndex-walk)

	eff := effectsFor(run, ctx)
	effLeft := eff[walk]
	coord := designCoord(ctx)
	varMX, varMY := markRec.Anchor.variationDelta(coord)
	varBX, varBY := baseAnchor.variationDelta(coord)

	var deltaX, deltaY int32
	if rightToLeft {
		deltaX = -(int32(markRec.Anchor.X) + varMX) -
			eff[startIndex].XPlacement + effLeft.XPlacement +
			(int32(baseAnchor.X) - varBX)
		deltaY = -(int32(markRec.Anchor.Y) + varMY) -
			eff[startIndex].YPlacement + effLeft.YPlacement +
			(int32(baseAnchor.Y) - varBY)
	} else {
		// Ignored glyphs may still have advances: accumulate real widths
		// from the base up to, but not including, the mark, substituting
		// advance deltas earlier lookups put on skipped glyphs.
		var cumulWidth int32
		for i := walk; i < startIndex; i++ {
			if !igs[i] && !isMark[i] {
				cumulWidth += advanceOf(ctx, run[i].ID)
			} else if eff[i].XAdvance != 0 {
				cumulWidth += eff[i].XAdvance
			}
		}
		deltaX = -(int32(markRec.Anchor.X) + varMX) -
			effLeft.XAdvance - cumulWidth + effLeft.XPlacement +
			(int32(baseAnchor.X) - varBX)
		// Vertical advances of intervening glyphs are not compensated for;
		// this mirrors horizontal-only metrics handling.
		deltaY = -(int32(markRec.Anchor.Y) + varMY) -
			effLeft.YAdvance + effLeft.YPlacement +
			(int32(baseAnchor.Y) - varBY)
	}
	eff[startIndex].XPlacement += deltaX
	eff[startIndex].YPlacement += deltaY
	eff[startIndex].BackIndex = walk - startIndex
	return eff, 1
}

// EffectExtrema bounds the placement shift each mark glyph can receive from
// this subtable, perpendicular to the text direction.
func (m *MarkToBase) EffectExtrema(horizontal bool) map[font.GlyphIndex]Extrema {
	return effectExtrema(m.Marks, m.Bases, horizontal, nil)
}
