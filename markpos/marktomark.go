package markpos

import (
	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// MarkToMark is a GPOS lookup type 6 subtable: it attaches a mark glyph to
// a preceding mark, which is how accents stack. AttachingMarks plays the
// MarkArray role, BaseMarks the BaseArray role; a glyph present in both can
// stack on itself without bound, which EffectExtrema reports as unbounded.
type MarkToMark struct {
	AttachingMarks MarkArray
	BaseMarks      BaseArray
}

// NewMarkToMark returns an empty subtable.
func NewMarkToMark() *MarkToMark {
	return &MarkToMark{AttachingMarks: make(MarkArray), BaseMarks: make(BaseArray)}
}

// Validate checks that every attaching mark has an anchor and every base
// mark record has one anchor slot per mark class.
func (m *MarkToMark) Validate() error {
	return validateMarkAttachment(m.AttachingMarks, m.BaseMarks)
}

// Write appends the subtable in format 1; the wire layout is identical to
// mark-to-base.
func (m *MarkToMark) Write(w *binlink.LinkedWriter) error {
	return writeMarkAttachment(w, m.AttachingMarks, m.BaseMarks)
}

// Binary serializes the subtable into a fresh byte slice.
func (m *MarkToMark) Binary() ([]byte, error) {
	w := binlink.NewWriter()
	if err := m.Write(w); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// MarkToMarkFromBytes decodes a subtable without source validation.
func MarkToMarkFromBytes(data font.Seg) (*MarkToMark, error) {
	return readMarkToMark(data, nil)
}

// MarkToMarkFromValidatedBytes decodes a subtable with source validation,
// recording defects in rep.
func MarkToMarkFromValidatedBytes(data font.Seg, rep *font.Report) (*MarkToMark, error) {
	return readMarkToMark(data, rep)
}

func readMarkToMark(data font.Seg, rep *font.Report) (*MarkToMark, error) {
	marks, bases, err := readMarkAttachment(data, "mark-to-mark", rep)
	if err != nil {
		return nil, err
	}
	return &MarkToMark{AttachingMarks: marks, BaseMarks: bases}, nil
}

// RunOne tries to attach the mark glyph at startIndex to the nearest
// preceding non-ignored glyph, which must be a base mark. Unlike
// mark-to-base, the backward walk does not skip marks — stacking attaches
// to the immediately preceding mark — and the computed placement replaces
// the slot's placement instead of accumulating, since a re-attachment
// supersedes an earlier one.
func (m *MarkToMark) RunOne(run []font.RunGlyph, startIndex int, rightToLeft bool,
	ctx *font.Context) ([]font.Effect, int) {
	//
	if startIndex < 0 || startIndex >= len(run) {
		return nil, 0
	}
	igs, isMark := classify(run, ctx)
	gMark := run[startIndex].ID
	markRec, inMarks := m.AttachingMarks[gMark]
	if !isMark[startIndex] || !inMarks {
		return nil, 0
	}

	// Pre-bidi in both directions: the logically previous mark is the
	// previous glyph index.
	walk := startIndex - 1
	for walk >= 0 && igs[walk] {
		walk--
	}
	if walk < 0 {
		return nil, 0
	}
	baseRec, inBases := m.BaseMarks[run[walk].ID]
	if !inBases || markRec.Class >= len(baseRec) || baseRec[markRec.Class] == nil {
		return nil, 0
	}
	baseAnchor := baseRec[markRec.Class]
	tracer().Debugf("mark %d stacks on mark %d at distance %d",
		gMark, run[walk].ID, startIndex-walk)

	eff := effectsFor(run, ctx)
	effLeft := eff[walk]
	coord := designCoord(ctx)
	varMX, varMY := markRec.Anchor.variationDelta(coord)
	varBX, varBY := baseAnchor.variationDelta(coord)

	var deltaX, deltaY int32
	if rightToLeft {
		deltaX = -(int32(markRec.Anchor.X) + varMX) +
			effLeft.XPlacement + (int32(baseAnchor.X) - varBX)
		deltaY = -(int32(markRec.Anchor.Y) + varMY) +
			effLeft.YPlacement + (int32(baseAnchor.Y) - varBY)
	} else {
		var cumulWidth int32
		for i := walk; i < startIndex; i++ {
			if !igs[i] {
				cumulWidth += advanceOf(ctx, run[i].ID)
			} else if eff[i].XAdvance != 0 {
				cumulWidth += eff[i].XAdvance
			}
		}
		deltaX = -(int32(markRec.Anchor.X) + varMX) -
			effLeft.XAdvance - cumulWidth + effLeft.XPlacement +
			(int32(baseAnchor.X) - varBX)
		deltaY = -(int32(markRec.Anchor.Y) + varMY) -
			effLeft.YAdvance + effLeft.YPlacement +
			(int32(baseAnchor.Y) - varBY)
	}
	eff[startIndex].XPlacement = deltaX
	eff[startIndex].YPlacement = deltaY
	eff[startIndex].BackIndex = walk - startIndex
	return eff, 1
}

// EffectExtrema bounds the placement shift each attaching mark can receive.
// Glyphs appearing in both arrays can stack on themselves indefinitely;
// their growing bound comes back unbounded rather than as a finite number.
func (m *MarkToMark) EffectExtrema(horizontal bool) map[font.GlyphIndex]Extrema {
	return effectExtrema(m.AttachingMarks, m.BaseMarks, horizontal,
		func(g font.GlyphIndex) bool {
			_, ok := m.BaseMarks[g]
			return ok
		})
}
