package statetable

import (
	"fmt"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// ClassTable maps glyph indices to class names. On the wire it is an AAT
// lookup from glyph to class index; the names come from the subtable's
// name stash, or are synthesized.
type ClassTable map[font.GlyphIndex]string

// Write serializes the class table as an AAT lookup. classNames assigns
// the class indices (fixed names at 0-3, user names from 4); glyphs
// outside the table implicitly map to "Out of bounds" via the gap filler.
func (ct ClassTable) Write(w *binlink.LinkedWriter, classNames []string, opts LookupOptions) error {
	indexOf := make(map[string]uint16, len(classNames))
	for i, n := range classNames {
		indexOf[n] = uint16(i)
	}
	m := make(map[font.GlyphIndex]uint16, len(ct))
	for g, name := range ct {
		ci, ok := indexOf[name]
		if !ok {
			return fmt.Errorf("glyph %d maps to unknown class %q", g, name)
		}
		m[g] = ci
	}
	return WriteLookup(w, m, 1, opts) // gaps are class 1, "Out of bounds"
}

// ReadClassTable decodes an AAT lookup into a glyph→class-name map using
// the stash's names. Mappings to the fixed classes (indices below 4) are
// dropped: the lookup's gap filler and explicit out-of-bounds entries mean
// the same thing as absence.
func ReadClassTable(data font.Seg, classNames []string, rep *font.Report) (ClassTable, error) {
	raw, err := ReadLookup(data, rep)
	if err != nil {
		return nil, err
	}
	ct := make(ClassTable)
	for g, ci := range raw {
		if ci < 4 {
			continue
		}
		if int(ci) >= len(classNames) {
			if rep != nil {
				rep.AddError("class table", font.CodeBadEnumValue,
					fmt.Sprintf("glyph %d maps to class index %d, but only %d classes are named",
						g, ci, len(classNames)),
					font.SeverityMajor, 0)
				continue
			}
			return nil, fmt.Errorf("glyph %d maps to class index %d, but only %d classes are named",
				g, ci, len(classNames))
		}
		ct[g] = classNames[ci]
	}
	return ct, nil
}

// rawClassMap converts the named table to class indices, for analysis.
func (ct ClassTable) rawClassMap(classNames []string) map[font.GlyphIndex]uint16 {
	indexOf := make(map[string]uint16, len(classNames))
	for i, n := range classNames {
		indexOf[n] = uint16(i)
	}
	m := make(map[font.GlyphIndex]uint16, len(ct))
	for g, name := range ct {
		if ci, ok := indexOf[name]; ok {
			m[g] = ci
		}
	}
	return m
}

// classOf resolves the class name to use for a run glyph: deleted
// sentinels belong to the deleted-glyph class and unmapped glyphs are out
// of bounds.
func (ct ClassTable) classOf(g font.GlyphIndex) string {
	if font.IsDeleted(g) {
		return ClassDeletedGlyph
	}
	if name, ok := ct[g]; ok {
		return name
	}
	return ClassOutOfBounds
}

// CheckClassTable records warnings for class table oddities: an empty
// table, a table whose every entry is out of bounds, and explicit mappings
// to fixed classes (which the wire format cannot distinguish from gaps).
func (ct ClassTable) CheckClassTable(rep *font.Report) {
	if rep == nil {
		return
	}
	if len(ct) == 0 {
		rep.AddWarning("class table", "class table maps no glyphs", 0)
		return
	}
	onlyOOB := true
	for g, name := range ct {
		if name != ClassOutOfBounds {
			onlyOOB = false
		}
		if isFixedClass(name) {
			rep.AddWarning("class table",
				fmt.Sprintf("glyph %d explicitly maps to fixed class %q; the mapping will not survive a round trip",
					g, name), 0)
		}
	}
	if onlyOOB {
		rep.AddWarning("class table", "every mapped glyph is out of bounds", 0)
	}
}
