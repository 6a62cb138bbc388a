package statetable

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// AAT lookup tables map glyph indices to 16-bit values. Five formats exist
// (0 simple array, 2 segment single, 4 segment array, 6 single table,
// 8 trimmed array); writing picks the smallest encoding unless the caller
// pins one.

// LookupOptions steer lookup serialization.
type LookupOptions struct {
	PreferredFormat int    // -1 = choose smallest
	SentinelValue   uint16 // value of the binary-search sentinel unit
}

// DefaultLookupOptions returns smallest-format selection with the
// conventional 0xFFFF sentinel.
func DefaultLookupOptions() LookupOptions {
	return LookupOptions{PreferredFormat: -1, SentinelValue: 0xFFFF}
}

// bsh holds the binary-search header values prepended to formats 2, 4
// and 6.
type bsh struct {
	unitSize, nUnits, searchRange, entrySelector, rangeShift uint16
}

func makeBSH(unitSize, nUnits int) bsh {
	if nUnits == 0 {
		return bsh{unitSize: uint16(unitSize)}
	}
	sel := bits.Len(uint(nUnits)) - 1
	sr := unitSize << sel
	return bsh{
		unitSize:      uint16(unitSize),
		nUnits:        uint16(nUnits),
		searchRange:   uint16(sr),
		entrySelector: uint16(sel),
		rangeShift:    uint16(nUnits*unitSize - sr),
	}
}

func (h bsh) addTo(w *binlink.LinkedWriter) {
	w.AddU16(h.unitSize)
	w.AddU16(h.nUnits)
	w.AddU16(h.searchRange)
	w.AddU16(h.entrySelector)
	w.AddU16(h.rangeShift)
}

// lookupSegment is a run of consecutive glyphs sharing segment membership.
type lookupSegment struct {
	first, last font.GlyphIndex
	values      []uint16 // one per glyph in [first,last]
}

func segmentsOf(m map[font.GlyphIndex]uint16) []lookupSegment {
	glyphs := make([]font.GlyphIndex, 0, len(m))
	for g := range m {
		glyphs = append(glyphs, g)
	}
	sort.Slice(glyphs, func(i, j int) bool { return glyphs[i] < glyphs[j] })
	var segs []lookupSegment
	for _, g := range glyphs {
		if n := len(segs); n > 0 && segs[n-1].last+1 == g {
			segs[n-1].last = g
			segs[n-1].values = append(segs[n-1].values, m[g])
			continue
		}
		segs = append(segs, lookupSegment{first: g, last: g, values: []uint16{m[g]}})
	}
	return segs
}

func constantSegments(segs []lookupSegment) bool {
	for _, s := range segs {
		for _, v := range s.values[1:] {
			if v != s.values[0] {
				return false
			}
		}
	}
	return true
}

// WriteLookup serializes the glyph→value map in the smallest AAT lookup
// format (or the pinned one). Gaps inside formats 0 and 8 are filled with
// the filler value. An empty map writes a format 6 table with no units.
func WriteLookup(w *binlink.LinkedWriter, m map[font.GlyphIndex]uint16,
	filler uint16, opts LookupOptions) error {
	//
	for g := range m {
		if font.IsDeleted(g) {
			return fmt.Errorf("deleted glyph sentinel %d cannot be a lookup key", g)
		}
	}
	segs := segmentsOf(m)
	format := opts.PreferredFormat
	if format < 0 {
		format = chooseLookupFormat(m, segs)
	}
	switch format {
	case 0:
		writeLookup0(w, m, filler)
	case 2:
		if !constantSegments(segs) {
			return fmt.Errorf("format 2 requires constant values per segment")
		}
		writeLookup2(w, segs, opts.SentinelValue)
	case 4:
		writeLookup4(w, segs)
	case 6:
		writeLookup6(w, m, opts.SentinelValue)
	case 8:
		writeLookup8(w, m, filler)
	default:
		return fmt.Errorf("unknown lookup format %d", format)
	}
	return nil
}

func chooseLookupFormat(m map[font.GlyphIndex]uint16, segs []lookupSegment) int {
	if len(m) == 0 {
		return 6
	}
	var maxGlyph font.GlyphIndex
	var minGlyph font.GlyphIndex = 0xFFFF
	for g := range m {
		if g > maxGlyph {
			maxGlyph = g
		}
		if g < minGlyph {
			minGlyph = g
		}
	}
	// format 4 is decoded but never chosen automatically; callers may
	// still force it through LookupOptions.PreferredFormat
	sizes := map[int]int{
		0: 2 + 2*(int(maxGlyph)+1),
		6: 2 + 10 + 4*(len(m)+1),
		8: 2 + 4 + 2*(int(maxGlyph)-int(minGlyph)+1),
	}
	if constantSegments(segs) {
		sizes[2] = 2 + 10 + 6*(len(segs)+1)
	}
	best, bestSize := 0, sizes[0]
	for _, f := range []int{2, 6, 8} {
		if sz, ok := sizes[f]; ok && sz < bestSize {
			best, bestSize = f, sz
		}
	}
	return best
}

func writeLookup0(w *binlink.LinkedWriter, m map[font.GlyphIndex]uint16, filler uint16) {
	var maxGlyph font.GlyphIndex
	for g := range m {
		if g > maxGlyph {
			maxGlyph = g
		}
	}
	w.AddU16(0)
	for g := font.GlyphIndex(0); g <= maxGlyph; g++ {
		v, ok := m[g]
		if !ok {
			v = filler
		}
		w.AddU16(v)
	}
}

func writeLookup2(w *binlink.LinkedWriter, segs []lookupSegment, sentinel uint16) {
	w.AddU16(2)
	makeBSH(6, len(segs)).addTo(w)
	for _, s := range segs {
		w.AddU16(uint16(s.last))
		w.AddU16(uint16(s.first))
		w.AddU16(s.values[0])
	}
	w.AddU16(0xFFFF)
	w.AddU16(0xFFFF)
	w.AddU16(sentinel)
}

func writeLookup4(w *binlink.LinkedWriter, segs []lookupSegment) {
	start := w.StakeCurrent()
	w.AddU16(4)
	makeBSH(6, len(segs)).addTo(w)
	valueStakes := make([]binlink.Stake, len(segs))
	for i, s := range segs {
		valueStakes[i] = w.NewStake()
		w.AddU16(uint16(s.last))
		w.AddU16(uint16(s.first))
		w.AddUnresolvedOffset(binlink.U16, start, valueStakes[i])
	}
	w.AddU16(0xFFFF)
	w.AddU16(0xFFFF)
	w.AddU16(0xFFFF)
	for i, s := range segs {
		_ = w.StakeHere(valueStakes[i]) // freshly allocated, cannot collide
		for _, v := range s.values {
			w.AddU16(v)
		}
	}
}

func writeLookup6(w *binlink.LinkedWriter, m map[font.GlyphIndex]uint16, sentinel uint16) {
	glyphs := make([]font.GlyphIndex, 0, len(m))
	for g := range m {
		glyphs = append(glyphs, g)
	}
	sort.Slice(glyphs, func(i, j int) bool { return glyphs[i] < glyphs[j] })
	w.AddU16(6)
	makeBSH(4, len(glyphs)).addTo(w)
	for _, g := range glyphs {
		w.AddU16(uint16(g))
		w.AddU16(m[g])
	}
	w.AddU16(0xFFFF)
	w.AddU16(sentinel)
}

func writeLookup8(w *binlink.LinkedWriter, m map[font.GlyphIndex]uint16, filler uint16) {
	if len(m) == 0 {
		w.AddU16(8)
		w.AddU16(0)
		w.AddU16(0)
		return
	}
	var maxGlyph font.GlyphIndex
	var minGlyph font.GlyphIndex = 0xFFFF
	for g := range m {
		if g > maxGlyph {
			maxGlyph = g
		}
		if g < minGlyph {
			minGlyph = g
		}
	}
	w.AddU16(8)
	w.AddU16(uint16(minGlyph))
	count := int(maxGlyph) - int(minGlyph) + 1
	w.AddU16(uint16(count))
	for g := minGlyph; ; g++ {
		v, ok := m[g]
		if !ok {
			v = filler
		}
		w.AddU16(v)
		if g == maxGlyph {
			break
		}
	}
}

// ReadLookup decodes an AAT lookup table into a glyph→value map. data must
// start at the lookup and may extend past it. When rep is non-nil, defects
// are collected there instead of failing the decode where recovery is
// possible.
func ReadLookup(data font.Seg, rep *font.Report) (map[font.GlyphIndex]uint16, error) {
	format, err := data.CheckedU16(0)
	if err != nil {
		return nil, reportCritical(rep, "lookup", font.CodeInsufficientBytes,
			"lookup table shorter than its format word", 0)
	}
	switch format {
	case 0:
		return readLookup0(data)
	case 2:
		return readLookupSegments(data, rep, false)
	case 4:
		return readLookupSegments(data, rep, true)
	case 6:
		return readLookup6(data, rep)
	case 8:
		return readLookup8(data, rep)
	}
	return nil, reportCritical(rep, "lookup", font.CodeBadFormat,
		fmt.Sprintf("unknown lookup format %d", format), 0)
}

func readLookup0(data font.Seg) (map[font.GlyphIndex]uint16, error) {
	m := make(map[font.GlyphIndex]uint16)
	n := (len(data) - 2) / 2
	for i := 0; i < n; i++ {
		m[font.GlyphIndex(i)] = data.U16(2 + 2*i)
	}
	return m, nil
}

func readLookupSegments(data font.Seg, rep *font.Report, perGlyph bool) (map[font.GlyphIndex]uint16, error) {
	nUnits := int(data.U16(4))
	m := make(map[font.GlyphIndex]uint16)
	for i := 0; i < nUnits; i++ {
		base := 12 + 6*i
		last, err := data.CheckedU16(base)
		if err != nil {
			return nil, reportCritical(rep, "lookup", font.CodeInsufficientBytes,
				fmt.Sprintf("segment %d extends past the table", i), uint32(base))
		}
		first := data.U16(base + 2)
		value := data.U16(base + 4)
		if last == 0xFFFF && first == 0xFFFF {
			continue // sentinel unit
		}
		if first > last {
			reportCritical(rep, "lookup", font.CodeBadEnumValue,
				fmt.Sprintf("segment %d has first glyph %d after last glyph %d", i, first, last),
				uint32(base))
			if rep == nil {
				return nil, fmt.Errorf("lookup segment %d has first glyph after last glyph", i)
			}
			continue
		}
		for g := first; ; g++ {
			if perGlyph {
				off := int(value) + 2*int(g-first)
				v, err := data.CheckedU16(off)
				if err != nil {
					return nil, reportCritical(rep, "lookup", font.CodeOffsetOutOfBounds,
						fmt.Sprintf("segment %d value array runs past the table", i), uint32(off))
				}
				m[font.GlyphIndex(g)] = v
			} else {
				m[font.GlyphIndex(g)] = value
			}
			if g == last {
				break
			}
		}
	}
	return m, nil
}

func readLookup6(data font.Seg, rep *font.Report) (map[font.GlyphIndex]uint16, error) {
	nUnits := int(data.U16(4))
	m := make(map[font.GlyphIndex]uint16)
	for i := 0; i < nUnits; i++ {
		base := 12 + 4*i
		g, err := data.CheckedU16(base)
		if err != nil {
			return nil, reportCritical(rep, "lookup", font.CodeInsufficientBytes,
				fmt.Sprintf("pair %d extends past the table", i), uint32(base))
		}
		if g == 0xFFFF {
			continue
		}
		m[font.GlyphIndex(g)] = data.U16(base + 2)
	}
	return m, nil
}

func readLookup8(data font.Seg, rep *font.Report) (map[font.GlyphIndex]uint16, error) {
	first := data.U16(2)
	count := int(data.U16(4))
	m := make(map[font.GlyphIndex]uint16)
	for i := 0; i < count; i++ {
		v, err := data.CheckedU16(6 + 2*i)
		if err != nil {
			return nil, reportCritical(rep, "lookup", font.CodeInsufficientBytes,
				fmt.Sprintf("trimmed array cut short after %d of %d values", i, count), uint32(6+2*i))
		}
		m[font.GlyphIndex(int(first)+i)] = v
	}
	return m, nil
}

// reportCritical records a critical error when a report is present and
// always returns a matching error value for the fast path.
func reportCritical(rep *font.Report, section, code, issue string, offset uint32) error {
	if rep != nil {
		rep.AddError(section, code, issue, font.SeverityCritical, offset)
	}
	return fmt.Errorf("[%s] %s: %s", section, code, issue)
}
