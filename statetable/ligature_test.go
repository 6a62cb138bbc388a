package statetable

import (
	"errors"
	"testing"

	"github.com/npillmayer/fontbuild/font"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
)

func mkRun(glyphs ...font.GlyphIndex) []font.RunGlyph {
	v := make([]font.RunGlyph, len(glyphs))
	for i, g := range glyphs {
		v[i] = font.RunGlyph{Orig: i, ID: g}
	}
	return v
}

func checkRun(t *testing.T, got []font.RunGlyph, want []font.RunGlyph) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("run length = %d, want %d (run = %v)", len(got), len(want), got)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("run[%d] = {%d %d}, want {%d %d}",
				i, got[i].Orig, got[i].ID, want[i].Orig, want[i].ID)
		}
	}
}

func fillRow[E any](classes []string, def E, cells map[string]E) map[string]E {
	row := make(map[string]E, len(classes)+4)
	for _, c := range fixedClassNames {
		row[c] = def
	}
	for _, c := range classes {
		row[c] = def
	}
	for c, e := range cells {
		row[c] = e
	}
	return row
}

// Glyph codes of the ligature test table. The machine forms the standard
// f-ligatures plus a single "Office" special.
const (
	glC       = 70
	glE       = 72
	glF       = 73
	glI       = 76
	glL       = 79
	glO       = 82
	glFI      = 192
	glFL      = 193
	glFF      = 330
	glFFI     = 331
	glFFL     = 332
	glSpecial = 873
)

func officeLigature() *Ligature {
	lg := NewLigature(Coverage{Kind: 2})
	lg.ClassTable = ClassTable{
		glC: "c", glE: "e", glF: "f", glI: "i", glL: "l", glO: "o",
	}
	classes := []string{"c", "e", "f", "i", "l", "o"}
	del := font.GlyphIndex(font.DeletedGlyph)

	nop := &LigatureEntry{NewState: StateStartOfText}
	sawF := &LigatureEntry{NewState: "Saw f", Push: true}
	sawO := &LigatureEntry{NewState: "Saw o", Push: true}
	formFF := &LigatureEntry{NewState: "Saw ff", Push: true,
		Actions: []LigatureAction{
			{In: []font.GlyphIndex{glF, glF}, Out: []font.GlyphIndex{glFF, del}},
		}}
	formFIorFL := &LigatureEntry{NewState: StateStartOfText, Push: true,
		Actions: []LigatureAction{
			{In: []font.GlyphIndex{glF, glI}, Out: []font.GlyphIndex{glFI, del}},
			{In: []font.GlyphIndex{glF, glL}, Out: []font.GlyphIndex{glFL, del}},
		}}
	formFFIorFFL := &LigatureEntry{NewState: StateStartOfText, Push: true,
		Actions: []LigatureAction{
			{In: []font.GlyphIndex{glFF, glI}, Out: []font.GlyphIndex{glFFI, del}},
			{In: []font.GlyphIndex{glFF, glL}, Out: []font.GlyphIndex{glFFL, del}},
		}}
	sawOF := &LigatureEntry{NewState: "Saw of", Push: true}
	formFFkeepO := &LigatureEntry{NewState: "Saw off", Push: true,
		Actions: []LigatureAction{
			{In: []font.GlyphIndex{glF, glF}, Out: []font.GlyphIndex{glFF, del}},
		}}
	formFFIkeepO := &LigatureEntry{NewState: "Saw offi", Push: true,
		Actions: []LigatureAction{
			{In: []font.GlyphIndex{glFF, glI}, Out: []font.GlyphIndex{glFFI, del}},
		}}
	sawOFFIC := &LigatureEntry{NewState: "Saw offic", Push: true}
	formSpecial := &LigatureEntry{NewState: StateStartOfText, Push: true,
		Actions: []LigatureAction{
			{In: []font.GlyphIndex{glO, glFFI, glC, glE},
				Out: []font.GlyphIndex{glSpecial, del, del, del}},
		}}

	ground := fillRow(classes, nop, map[string]*LigatureEntry{"f": sawF, "o": sawO})
	lg.States = map[string]map[string]*LigatureEntry{
		StateStartOfText: ground,
		StateStartOfLine: fillRow(classes, nop, map[string]*LigatureEntry{"f": sawF, "o": sawO}),
		"Saw f": fillRow(classes, nop, map[string]*LigatureEntry{
			"f": formFF, "i": formFIorFL, "l": formFIorFL, "o": sawO}),
		"Saw ff": fillRow(classes, nop, map[string]*LigatureEntry{
			"f": sawF, "i": formFFIorFFL, "l": formFFIorFFL, "o": sawO}),
		"Saw o": fillRow(classes, nop, map[string]*LigatureEntry{
			"f": sawOF, "o": sawO}),
		"Saw of": fillRow(classes, nop, map[string]*LigatureEntry{
			"f": formFFkeepO, "i": formFIorFL, "l": formFIorFL, "o": sawO}),
		"Saw off": fillRow(classes, nop, map[string]*LigatureEntry{
			"f": sawF, "i": formFFIkeepO, "l": formFFIorFFL, "o": sawO}),
		"Saw offi": fillRow(classes, nop, map[string]*LigatureEntry{
			"c": sawOFFIC, "f": sawF, "o": sawO}),
		"Saw offic": fillRow(classes, nop, map[string]*LigatureEntry{
			"e": formSpecial, "f": sawF, "o": sawO}),
	}
	return lg
}

func TestLigatureRunOffice(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	//
	lg := officeLigature()
	if err := lg.Validate(); err != nil {
		t.Fatal(err)
	}
	got, err := lg.Run(mkRun(glO, glF, glF, glI, glC, glE))
	if err != nil {
		t.Fatal(err)
	}
	del := font.GlyphIndex(font.DeletedGlyph)
	checkRun(t, got, []font.RunGlyph{
		{Orig: 0, ID: glSpecial},
		{Orig: 1, ID: del}, {Orig: 2, ID: del}, {Orig: 3, ID: del},
		{Orig: 4, ID: del}, {Orig: 5, ID: del},
	})
}

func TestLigatureRunSimplePair(t *testing.T) {
	lg := officeLigature()
	got, err := lg.Run(mkRun(glF, glI))
	if err != nil {
		t.Fatal(err)
	}
	del := font.GlyphIndex(font.DeletedGlyph)
	checkRun(t, got, []font.RunGlyph{{Orig: 0, ID: glFI}, {Orig: 1, ID: del}})
}

func TestLigatureRunNoMatch(t *testing.T) {
	lg := officeLigature()
	got, err := lg.Run(mkRun(glC, glE, glI))
	if err != nil {
		t.Fatal(err)
	}
	checkRun(t, got, mkRun(glC, glE, glI))
}

func TestLigatureRoundTrip(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	//
	lg := officeLigature()
	b, err := lg.Binary()
	if err != nil {
		t.Fatal(err)
	}
	back, err := ReadLigature(font.Seg(b), lg.Coverage)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.ClassTable) != len(lg.ClassTable) {
		t.Errorf("class table size = %d, want %d", len(back.ClassTable), len(lg.ClassTable))
	}
	got, err := back.Run(mkRun(glO, glF, glF, glI, glC, glE))
	if err != nil {
		t.Fatal(err)
	}
	del := font.GlyphIndex(font.DeletedGlyph)
	checkRun(t, got, []font.RunGlyph{
		{Orig: 0, ID: glSpecial},
		{Orig: 1, ID: del}, {Orig: 2, ID: del}, {Orig: 3, ID: del},
		{Orig: 4, ID: del}, {Orig: 5, ID: del},
	})
	got, err = back.Run(mkRun(glF, glF, glL))
	if err != nil {
		t.Fatal(err)
	}
	checkRun(t, got, []font.RunGlyph{
		{Orig: 0, ID: glFFL}, {Orig: 1, ID: del}, {Orig: 2, ID: del},
	})
}

func TestLigatureRoundTripValidated(t *testing.T) {
	lg := officeLigature()
	b, err := lg.Binary()
	if err != nil {
		t.Fatal(err)
	}
	var rep font.Report
	if _, err = ReadLigatureValidated(font.Seg(b), lg.Coverage, false, &rep); err != nil {
		t.Fatal(err)
	}
	for _, e := range rep.Errors {
		t.Errorf("unexpected decode error: %s / %s", e.Code, e.Issue)
	}
}

func TestLigatureTruncated(t *testing.T) {
	lg := officeLigature()
	b, err := lg.Binary()
	if err != nil {
		t.Fatal(err)
	}
	var rep font.Report
	if _, err = ReadLigatureValidated(font.Seg(b[:19]), lg.Coverage, false, &rep); err == nil {
		t.Error("expected an error for a truncated subtable")
	}
	if len(rep.Errors) == 0 {
		t.Error("expected a reported error for a truncated subtable")
	}
}

func TestLigatureTrimmed(t *testing.T) {
	lg := officeLigature()
	// a component glyph that is neither class-mapped nor formed anywhere
	lg.States["Saw f"]["i"].Actions = append(lg.States["Saw f"]["i"].Actions,
		LigatureAction{In: []font.GlyphIndex{999, glI},
			Out: []font.GlyphIndex{glFI, font.DeletedGlyph}})
	tr := lg.Trimmed()
	if n := len(tr.States["Saw f"]["i"].Actions); n != 2 {
		t.Errorf("dead action survived the trim: %d actions, want 2", n)
	}
	// formed ligatures (ff, ffi) are legitimate components of longer matches
	if n := len(tr.States["Saw ff"]["i"].Actions); n != 2 {
		t.Errorf("actions over formed components = %d, want 2", n)
	}
	if n := len(tr.States["Saw offic"]["e"].Actions); n != 1 {
		t.Errorf("office action count = %d, want 1", n)
	}
}

func TestLigatureRunStackUnderflow(t *testing.T) {
	lg := NewLigature(Coverage{Kind: 2})
	lg.ClassTable = ClassTable{glF: "f", glI: "i"}
	lg.States[StateStartOfText]["i"] = &LigatureEntry{
		NewState: StateStartOfText, Push: true,
		Actions: []LigatureAction{
			{In: []font.GlyphIndex{glF, glI},
				Out: []font.GlyphIndex{glFI, font.DeletedGlyph}},
		}}
	lg.Normalize()
	if _, err := lg.Run(mkRun(glI)); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("err = %v, want ErrStackUnderflow", err)
	}
}

func TestLigatureValidateCanonicalOut(t *testing.T) {
	lg := NewLigature(Coverage{Kind: 2})
	lg.ClassTable = ClassTable{glF: "f", glI: "i"}
	bad := &LigatureEntry{NewState: StateStartOfText, Push: true,
		Actions: []LigatureAction{
			// ligature in the wrong slot
			{In: []font.GlyphIndex{glF, glI},
				Out: []font.GlyphIndex{font.DeletedGlyph, glFI}},
		}}
	lg.States[StateStartOfText]["f"] = &LigatureEntry{NewState: "Saw f", Push: true}
	lg.States["Saw f"] = map[string]*LigatureEntry{"i": bad}
	lg.Normalize()
	if err := lg.Validate(); err == nil {
		t.Error("expected a validation error for non-canonical action output")
	}
}
