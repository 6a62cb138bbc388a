package markpos

import (
	"fmt"
	"sort"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// Coverage is a sorted glyph set. A glyph's coverage index is its position
// in the sorted order; records in the arrays that follow a coverage table
// on the wire are indexed this way.
type Coverage []font.GlyphIndex

// coverageOf collects and sorts the keys of a glyph-keyed map.
func coverageOf[V any](m map[font.GlyphIndex]V) Coverage {
	cov := make(Coverage, 0, len(m))
	for g := range m {
		cov = append(cov, g)
	}
	sort.Slice(cov, func(i, j int) bool { return cov[i] < cov[j] })
	return cov
}

// coverageRange is one run of consecutive glyphs in a format 2 table.
type coverageRange struct {
	first, last font.GlyphIndex
	startIndex  uint16
}

func (cov Coverage) ranges() []coverageRange {
	var rs []coverageRange
	for i, g := range cov {
		if i > 0 && g == cov[i-1]+1 {
			rs[len(rs)-1].last = g
			continue
		}
		rs = append(rs, coverageRange{first: g, last: g, startIndex: uint16(i)})
	}
	return rs
}

// Write appends the coverage table, choosing the smaller of format 1 (plain
// glyph list) and format 2 (glyph ranges); ties go to format 1. An empty
// coverage writes as format 1 with zero glyphs.
func (cov Coverage) Write(w *binlink.LinkedWriter) {
	rs := cov.ranges()
	if len(cov) == 0 || 4+2*len(cov) <= 4+6*len(rs) {
		w.AddU16(1)
		w.AddU16(uint16(len(cov)))
		for _, g := range cov {
			w.AddU16(uint16(g))
		}
		return
	}
	w.AddU16(2)
	w.AddU16(uint16(len(rs)))
	for _, r := range rs {
		w.AddU16(uint16(r.first))
		w.AddU16(uint16(r.last))
		w.AddU16(r.startIndex)
	}
}

// readCoverage decodes a coverage table at offset at within data.
func readCoverage(data font.Seg, at int, section string, rep *font.Report) (Coverage, error) {
	fail := func(code, issue string) error {
		if rep != nil {
			rep.AddError(section, code, issue, font.SeverityCritical, uint32(at))
		}
		return fmt.Errorf("[%s] %s: %s", section, code, issue)
	}
	if at < 0 || at+4 > len(data) {
		return nil, fail(font.CodeInsufficientBytes, "coverage table needs 4 bytes")
	}
	format := data.U16(at)
	count := int(data.U16(at + 2))
	switch format {
	case 1:
		if at+4+2*count > len(data) {
			return nil, fail(font.CodeInsufficientBytes,
				fmt.Sprintf("coverage format 1 with %d glyphs is truncated", count))
		}
		cov := make(Coverage, count)
		for i := range cov {
			cov[i] = font.GlyphIndex(data.U16(at + 4 + 2*i))
		}
		return cov, nil
	case 2:
		if at+4+6*count > len(data) {
			return nil, fail(font.CodeInsufficientBytes,
				fmt.Sprintf("coverage format 2 with %d ranges is truncated", count))
		}
		var cov Coverage
		for i := 0; i < count; i++ {
			first := font.GlyphIndex(data.U16(at + 4 + 6*i))
			last := font.GlyphIndex(data.U16(at + 4 + 6*i + 2))
			if last < first {
				return nil, fail(font.CodeBadFormat,
					fmt.Sprintf("coverage range %d runs backwards (%d > %d)", i, first, last))
			}
			for g := first; ; g++ {
				cov = append(cov, g)
				if g == last {
					break
				}
			}
		}
		return cov, nil
	}
	return nil, fail(font.CodeBadFormat,
		fmt.Sprintf("unknown coverage format %d", format))
}
