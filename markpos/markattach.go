package markpos

import (
	"fmt"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// MarkRecord classifies a mark glyph and carries its attachment anchor.
// Mark classes partition the marks of a font (above-base accents, below-base
// accents, …); base glyphs provide one anchor per class.
type MarkRecord struct {
	Class  int
	Anchor *Anchor
}

// MarkArray maps mark glyphs to their records.
type MarkArray map[font.GlyphIndex]MarkRecord

// ClassCount is one more than the highest mark class in use, or zero for an
// empty array. Every BaseRecord of the owning subtable must have exactly
// this many anchor slots.
func (m MarkArray) ClassCount() int {
	count := 0
	for _, rec := range m {
		if rec.Class+1 > count {
			count = rec.Class + 1
		}
	}
	return count
}

// BaseRecord is a base glyph's anchors, indexed by mark class. A nil slot
// means marks of that class do not attach to this base.
type BaseRecord []*Anchor

// BaseArray maps base glyphs to their records.
type BaseArray map[font.GlyphIndex]BaseRecord

// validateMarkAttachment checks the cross-array invariants shared by
// mark-to-base and mark-to-mark subtables.
func validateMarkAttachment(marks MarkArray, bases BaseArray) error {
	classCount := marks.ClassCount()
	for g, rec := range marks {
		if rec.Anchor == nil {
			return fmt.Errorf("mark glyph %d has no anchor", g)
		}
	}
	for g, rec := range bases {
		if len(rec) != classCount {
			return fmt.Errorf("base record for glyph %d has %d anchor slots, need %d (one per mark class)",
				g, len(rec), classCount)
		}
	}
	return nil
}

// writeMarkAttachment appends a complete format 1 mark attachment subtable:
// header, mark and base coverages, mark and base arrays, then the pooled
// anchors and device tables.
func writeMarkAttachment(w *binlink.LinkedWriter, marks MarkArray, bases BaseArray) error {
	if err := validateMarkAttachment(marks, bases); err != nil {
		return err
	}
	classCount := marks.ClassCount()
	markCov := coverageOf(marks)
	baseCov := coverageOf(bases)

	start := w.StakeCurrent()
	markCovStake, baseCovStake := w.NewStake(), w.NewStake()
	markArrStake, baseArrStake := w.NewStake(), w.NewStake()
	w.AddU16(1)
	w.AddUnresolvedOffset(binlink.U16, start, markCovStake)
	w.AddUnresolvedOffset(binlink.U16, start, baseCovStake)
	w.AddU16(uint16(classCount))
	w.AddUnresolvedOffset(binlink.U16, start, markArrStake)
	w.AddUnresolvedOffset(binlink.U16, start, baseArrStake)

	_ = w.StakeHere(markCovStake)
	markCov.Write(w)
	_ = w.StakeHere(baseCovStake)
	baseCov.Write(w)

	pool := newAnchorPool(w)

	_ = w.StakeHere(markArrStake)
	w.AddU16(uint16(len(markCov)))
	for _, g := range markCov {
		rec := marks[g]
		w.AddU16(uint16(rec.Class))
		w.AddUnresolvedOffset(binlink.U16, markArrStake, pool.stakeFor(rec.Anchor))
	}

	_ = w.StakeHere(baseArrStake)
	w.AddU16(uint16(len(baseCov)))
	for _, g := range baseCov {
		for _, a := range bases[g] {
			if a == nil {
				w.AddU16(0)
			} else {
				w.AddUnresolvedOffset(binlink.U16, baseArrStake, pool.stakeFor(a))
			}
		}
	}

	return pool.flush()
}

// readMarkAttachment decodes a format 1 mark attachment subtable. Anchors
// referenced from several places decode to a single shared *Anchor, keyed
// by wire offset.
func readMarkAttachment(data font.Seg, section string, rep *font.Report) (MarkArray, BaseArray, error) {
	fail := func(code, issue string, offset uint32) error {
		if rep != nil {
			rep.AddError(section, code, issue, font.SeverityCritical, offset)
		}
		return fmt.Errorf("[%s] %s: %s", section, code, issue)
	}
	if len(data) < 12 {
		return nil, nil, fail(font.CodeInsufficientBytes,
			fmt.Sprintf("mark attachment subtable header needs 12 bytes, got %d", len(data)), 0)
	}
	if format := data.U16(0); format != 1 {
		return nil, nil, fail(font.CodeBadFormat,
			fmt.Sprintf("unknown mark attachment subtable format %d", format), 0)
	}
	markCovAt := int(data.U16(2))
	baseCovAt := int(data.U16(4))
	classCount := int(data.U16(6))
	markArrAt := int(data.U16(8))
	baseArrAt := int(data.U16(10))

	markCov, err := readCoverage(data, markCovAt, section, rep)
	if err != nil {
		return nil, nil, err
	}
	baseCov, err := readCoverage(data, baseCovAt, section, rep)
	if err != nil {
		return nil, nil, err
	}

	anchorAt := make(map[int]*Anchor) // share anchors referenced more than once
	anchor := func(at int) (*Anchor, error) {
		if a, ok := anchorAt[at]; ok {
			return a, nil
		}
		a, err := readAnchor(data, at, section, rep)
		if err != nil {
			return nil, err
		}
		anchorAt[at] = a
		return a, nil
	}

	if markArrAt < 0 || markArrAt+2 > len(data) {
		return nil, nil, fail(font.CodeOffsetOutOfBounds,
			"mark array offset is out of bounds", uint32(markArrAt))
	}
	markCount := int(data.U16(markArrAt))
	if markCount != len(markCov) {
		return nil, nil, fail(font.CodeBadFormat,
			fmt.Sprintf("mark array has %d records, but the mark coverage lists %d glyphs",
				markCount, len(markCov)), uint32(markArrAt))
	}
	if markArrAt+2+4*markCount > len(data) {
		return nil, nil, fail(font.CodeInsufficientBytes,
			"mark array is truncated", uint32(markArrAt))
	}
	marks := make(MarkArray, markCount)
	maxClass := -1
	for i, g := range markCov {
		class := int(data.U16(markArrAt + 2 + 4*i))
		anchorOff := int(data.U16(markArrAt + 2 + 4*i + 2))
		if anchorOff == 0 {
			return nil, nil, fail(font.CodeOffsetOutOfBounds,
				fmt.Sprintf("mark record %d has a null anchor offset", i), uint32(markArrAt))
		}
		a, err := anchor(markArrAt + anchorOff)
		if err != nil {
			return nil, nil, err
		}
		marks[g] = MarkRecord{Class: class, Anchor: a}
		if class > maxClass {
			maxClass = class
		}
	}
	if markCount > 0 && classCount != maxClass+1 {
		return nil, nil, fail(font.CodeBadEnumValue,
			fmt.Sprintf("header names %d mark classes, but the mark records use %d",
				classCount, maxClass+1), 6)
	}

	if baseArrAt < 0 || baseArrAt+2 > len(data) {
		return nil, nil, fail(font.CodeOffsetOutOfBounds,
			"base array offset is out of bounds", uint32(baseArrAt))
	}
	baseCount := int(data.U16(baseArrAt))
	if baseCount != len(baseCov) {
		return nil, nil, fail(font.CodeBadFormat,
			fmt.Sprintf("base array has %d records, but the base coverage lists %d glyphs",
				baseCount, len(baseCov)), uint32(baseArrAt))
	}
	if baseArrAt+2+2*classCount*baseCount > len(data) {
		return nil, nil, fail(font.CodeInsufficientBytes,
			"base array is truncated", uint32(baseArrAt))
	}
	bases := make(BaseArray, baseCount)
	for i, g := range baseCov {
		rec := make(BaseRecord, classCount)
		for c := 0; c < classCount; c++ {
			anchorOff := int(data.U16(baseArrAt + 2 + 2*(classCount*i+c)))
			if anchorOff == 0 {
				continue
			}
			a, err := anchor(baseArrAt + anchorOff)
			if err != nil {
				return nil, nil, err
			}
			rec[c] = a
		}
		bases[g] = rec
	}
	return marks, bases, nil
}
