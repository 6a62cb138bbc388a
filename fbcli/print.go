package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/npillmayer/fontbuild/font"
	"github.com/npillmayer/fontbuild/markpos"
	"github.com/npillmayer/fontbuild/statetable"
	"github.com/pterm/pterm"
)

// sortedStateNames orders the fixed states first, user states after them.
func sortedStateNames[E any](states map[string]map[string]E) []string {
	var names []string
	for name := range states {
		if name != statetable.StateStartOfText && name != statetable.StateStartOfLine {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{statetable.StateStartOfText, statetable.StateStartOfLine}, names...)
}

// sortedClassNames collects the union of class names over all rows.
func sortedClassNames[E any](states map[string]map[string]E) []string {
	seen := make(map[string]bool)
	for _, row := range states {
		for name := range row {
			seen[name] = true
		}
	}
	var names []string
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stateOverview[E any](states map[string]map[string]E) [][]string {
	data := [][]string{{"State", "Cells"}}
	for _, name := range sortedStateNames(states) {
		row, ok := states[name]
		if !ok {
			continue
		}
		data = append(data, []string{name, fmt.Sprintf("%d", len(row))})
	}
	return data
}

func statesOp(intp *Intp, op *Op) (error, bool) {
	var data [][]string
	switch {
	case intp.lig != nil:
		data = stateOverview(intp.lig.States)
	case intp.ins != nil:
		data = stateOverview(intp.ins.States)
	case intp.ctx != nil:
		data = stateOverview(intp.ctx.States)
	case intp.att != nil:
		data = stateOverview(intp.att.States)
	default:
		return ERR_NO_KIND, false
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	return nil, false
}

func classesOp(intp *Intp, op *Op) (error, bool) {
	var names []string
	switch {
	case intp.lig != nil:
		names = sortedClassNames(intp.lig.States)
	case intp.ins != nil:
		names = sortedClassNames(intp.ins.States)
	case intp.ctx != nil:
		names = sortedClassNames(intp.ctx.States)
	case intp.att != nil:
		names = sortedClassNames(intp.att.States)
	default:
		return ERR_NO_KIND, false
	}
	pterm.Printf("%d classes: %s\n", len(names), strings.Join(names, ", "))
	return nil, false
}

func glyphsOp(intp *Intp, op *Op) (error, bool) {
	var ct statetable.ClassTable
	switch {
	case intp.lig != nil:
		ct = intp.lig.ClassTable
	case intp.ins != nil:
		ct = intp.ins.ClassTable
	case intp.ctx != nil:
		ct = intp.ctx.ClassTable
	case intp.att != nil:
		ct = intp.att.ClassTable
	default:
		return ERR_NO_KIND, false
	}
	glyphs := make([]int, 0, len(ct))
	for g := range ct {
		glyphs = append(glyphs, int(g))
	}
	sort.Ints(glyphs)
	data := [][]string{{"Glyph", "Class"}}
	for _, g := range glyphs {
		data = append(data, []string{
			fmt.Sprintf("%d", g),
			ct[font.GlyphIndex(g)],
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	return nil, false
}

func marksOp(intp *Intp, op *Op) (error, bool) {
	var marks markpos.MarkArray
	switch {
	case intp.mtb != nil:
		marks = intp.mtb.Marks
	case intp.mtm != nil:
		marks = intp.mtm.AttachingMarks
	default:
		return ERR_NO_KIND, false
	}
	glyphs := make([]int, 0, len(marks))
	for g := range marks {
		glyphs = append(glyphs, int(g))
	}
	sort.Ints(glyphs)
	data := [][]string{{"Glyph", "Class", "Anchor"}}
	for _, g := range glyphs {
		rec := marks[font.GlyphIndex(g)]
		data = append(data, []string{
			fmt.Sprintf("%d", g),
			fmt.Sprintf("%d", rec.Class),
			formatAnchor(rec.Anchor),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	return nil, false
}

func basesOp(intp *Intp, op *Op) (error, bool) {
	var bases markpos.BaseArray
	switch {
	case intp.mtb != nil:
		bases = intp.mtb.Bases
	case intp.mtm != nil:
		bases = intp.mtm.BaseMarks
	default:
		return ERR_NO_KIND, false
	}
	glyphs := make([]int, 0, len(bases))
	for g := range bases {
		glyphs = append(glyphs, int(g))
	}
	sort.Ints(glyphs)
	data := [][]string{{"Glyph", "Anchors (by mark class)"}}
	for _, g := range glyphs {
		rec := bases[font.GlyphIndex(g)]
		anchors := make([]string, len(rec))
		for i, a := range rec {
			anchors[i] = formatAnchor(a)
		}
		data = append(data, []string{
			fmt.Sprintf("%d", g),
			strings.Join(anchors, "  "),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	return nil, false
}

func formatAnchor(a *markpos.Anchor) string {
	if a == nil {
		return "-"
	}
	switch a.Kind {
	case markpos.AnchorPoint:
		return fmt.Sprintf("(%d,%d) point %d", a.X, a.Y, a.PointIndex)
	case markpos.AnchorDevice:
		return fmt.Sprintf("(%d,%d) hinted", a.X, a.Y)
	case markpos.AnchorVariation:
		return fmt.Sprintf("(%d,%d) variable", a.X, a.Y)
	}
	return fmt.Sprintf("(%d,%d)", a.X, a.Y)
}

func extremaOp(intp *Intp, op *Op) (error, bool) {
	horizontal := op.arg != "v"
	var extrema map[font.GlyphIndex]markpos.Extrema
	switch {
	case intp.mtb != nil:
		extrema = intp.mtb.EffectExtrema(horizontal)
	case intp.mtm != nil:
		extrema = intp.mtm.EffectExtrema(horizontal)
	default:
		return ERR_NO_KIND, false
	}
	glyphs := make([]int, 0, len(extrema))
	for g := range extrema {
		glyphs = append(glyphs, int(g))
	}
	sort.Ints(glyphs)
	data := [][]string{{"Glyph", "Max shift", "Min shift"}}
	for _, g := range glyphs {
		e := extrema[font.GlyphIndex(g)]
		maxs := fmt.Sprintf("%d", e.Max)
		if e.MaxUnbounded {
			maxs = "unbounded"
		}
		mins := fmt.Sprintf("%d", e.Min)
		if e.MinUnbounded {
			mins = "unbounded"
		}
		data = append(data, []string{fmt.Sprintf("%d", g), maxs, mins})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	return nil, false
}

func reportOp(intp *Intp, op *Op) (error, bool) {
	if intp.rep == nil {
		return ERR_NO_KIND, false
	}
	if len(intp.rep.Errors) == 0 && len(intp.rep.Warnings) == 0 {
		pterm.Info.Println("no defects recorded")
		return nil, false
	}
	data := [][]string{{"Severity", "Section", "Offset", "Issue"}}
	for _, e := range intp.rep.Errors {
		data = append(data, []string{
			e.Severity.String(), e.Section,
			fmt.Sprintf("%d", e.Offset), e.Issue,
		})
	}
	for _, w := range intp.rep.Warnings {
		data = append(data, []string{
			"warning", w.Section,
			fmt.Sprintf("%d", w.Offset), w.Issue,
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	return nil, false
}

func printRun(in, out []font.RunGlyph) {
	data := [][]string{{"Pos", "Glyph", "Orig"}}
	for i, rg := range out {
		orig := fmt.Sprintf("%d", rg.Orig)
		if rg.Orig < 0 {
			orig = "inserted"
		}
		glyph := fmt.Sprintf("%d", rg.ID)
		if rg.Deleted() {
			glyph = "deleted"
		}
		data = append(data, []string{fmt.Sprintf("%d", i), glyph, orig})
	}
	pterm.Printf("%d glyphs in, %d glyphs out\n", len(in), len(out))
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func hexOp(intp *Intp, op *Op) (error, bool) {
	if intp.data == nil {
		return ERR_NO_TABLE, false
	}
	for i := 0; i < len(intp.data); i += 16 {
		end := i + 16
		if end > len(intp.data) {
			end = len(intp.data)
		}
		sb := strings.Builder{}
		for j := i; j < end; j++ {
			if j > i && j%2 == 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(fmt.Sprintf("%02X", intp.data[j]))
		}
		pterm.Printf("%6d | %s\n", i, sb.String())
	}
	return nil, false
}
