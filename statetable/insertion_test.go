package statetable

import (
	"errors"
	"testing"

	"github.com/npillmayer/fontbuild/font"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
)

// daveInsertion scans for the glyph sequence D-a-v-e and brackets a match
// with kashida-like glyphs 96 (before) and 97 (after).
func daveInsertion() *Insertion {
	ins := NewInsertion(Coverage{Kind: 5})
	ins.ClassTable = ClassTable{12: "D", 41: "a", 62: "v", 45: "e"}
	classes := []string{"D", "a", "v", "e"}

	nop := &InsertionEntry{NewState: StateStartOfText}
	sawD := &InsertionEntry{NewState: "Saw D", Mark: true}
	sawDnomark := &InsertionEntry{NewState: "Saw D"}
	sawDa := &InsertionEntry{NewState: "Saw Da"}
	sawDav := &InsertionEntry{NewState: "Saw Dav"}
	insertPair := &InsertionEntry{
		NewState:             StateStartOfText,
		CurrentInsertGlyphs:  []font.GlyphIndex{97},
		CurrentIsKashidaLike: true,
		MarkedInsertGlyphs:   []font.GlyphIndex{96},
		MarkedIsKashidaLike:  true,
		MarkedInsertBefore:   true,
	}

	ground := fillRow(classes, nop, map[string]*InsertionEntry{"D": sawD})
	ins.States = map[string]map[string]*InsertionEntry{
		StateStartOfText: ground,
		StateStartOfLine: fillRow(classes, nop, map[string]*InsertionEntry{"D": sawD}),
		"Saw D": fillRow(classes, nop, map[string]*InsertionEntry{
			ClassDeletedGlyph: sawDnomark, "D": sawD, "a": sawDa}),
		"Saw Da": fillRow(classes, nop, map[string]*InsertionEntry{
			ClassDeletedGlyph: sawDa, "D": sawD, "v": sawDav}),
		"Saw Dav": fillRow(classes, nop, map[string]*InsertionEntry{
			ClassDeletedGlyph: sawDav, "D": sawD, "e": insertPair}),
	}
	return ins
}

func TestInsertionRunDave(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	//
	ins := daveInsertion()
	if err := ins.Validate(); err != nil {
		t.Fatal(err)
	}
	got, err := ins.Run(mkRun(12, 41, 62, 45))
	if err != nil {
		t.Fatal(err)
	}
	checkRun(t, got, []font.RunGlyph{
		{Orig: -1, ID: 96},
		{Orig: 0, ID: 12}, {Orig: 1, ID: 41}, {Orig: 2, ID: 62}, {Orig: 3, ID: 45},
		{Orig: -1, ID: 97},
	})
}

func TestInsertionRunNoMatch(t *testing.T) {
	ins := daveInsertion()
	got, err := ins.Run(mkRun(12, 41, 62, 62))
	if err != nil {
		t.Fatal(err)
	}
	checkRun(t, got, mkRun(12, 41, 62, 62))
}

func TestInsertionRoundTrip(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	//
	ins := daveInsertion()
	b, err := ins.Binary()
	if err != nil {
		t.Fatal(err)
	}
	back, err := ReadInsertion(font.Seg(b), ins.Coverage)
	if err != nil {
		t.Fatal(err)
	}
	got, err := back.Run(mkRun(12, 41, 62, 45))
	if err != nil {
		t.Fatal(err)
	}
	checkRun(t, got, []font.RunGlyph{
		{Orig: -1, ID: 96},
		{Orig: 0, ID: 12}, {Orig: 1, ID: 41}, {Orig: 2, ID: 62}, {Orig: 3, ID: 45},
		{Orig: -1, ID: 97},
	})
}

func TestInsertionRoundTripValidated(t *testing.T) {
	ins := daveInsertion()
	b, err := ins.Binary()
	if err != nil {
		t.Fatal(err)
	}
	var rep font.Report
	if _, err = ReadInsertionValidated(font.Seg(b), ins.Coverage, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.HasErrors() {
		t.Errorf("unexpected decode errors: %v", rep.Errors)
	}
}

func TestInsertionFromGlyphMap(t *testing.T) {
	ins := InsertionFromGlyphMap(map[font.GlyphIndex][]font.GlyphIndex{
		10: {20, 21},
	})
	if err := ins.Validate(); err != nil {
		t.Fatal(err)
	}
	got, err := ins.Run(mkRun(5, 10))
	if err != nil {
		t.Fatal(err)
	}
	checkRun(t, got, []font.RunGlyph{
		{Orig: 0, ID: 5}, {Orig: 1, ID: 10},
		{Orig: -1, ID: 20}, {Orig: -1, ID: 21},
	})
}

func TestInsertionFlushAtEndOfText(t *testing.T) {
	// an insertion fired by the end-of-text step lands after the last glyph
	ins := NewInsertion(Coverage{Kind: 5})
	ins.ClassTable = ClassTable{30: "x"}
	ins.States[StateStartOfText]["x"] = &InsertionEntry{NewState: "Saw x"}
	ins.States["Saw x"] = map[string]*InsertionEntry{
		ClassEndOfText: {NewState: StateStartOfText,
			CurrentInsertGlyphs: []font.GlyphIndex{99}},
	}
	ins.Normalize()
	if err := ins.Validate(); err != nil {
		t.Fatal(err)
	}
	got, err := ins.Run(mkRun(30))
	if err != nil {
		t.Fatal(err)
	}
	checkRun(t, got, []font.RunGlyph{{Orig: 0, ID: 30}, {Orig: -1, ID: 99}})
}

func TestInsertionGlyphCountLimit(t *testing.T) {
	ins := NewInsertion(Coverage{Kind: 5})
	ins.ClassTable = ClassTable{10: "trigger"}
	tooMany := make([]font.GlyphIndex, 32)
	ins.States[StateStartOfText]["trigger"] = &InsertionEntry{
		NewState:            StateStartOfText,
		CurrentInsertGlyphs: tooMany,
	}
	ins.Normalize()
	if err := ins.Validate(); err == nil {
		t.Error("expected a validation error for more than 31 insert glyphs")
	}
}

func TestInsertionConflictingInsertions(t *testing.T) {
	// both the marked and the current insertion target the same gap
	ins := NewInsertion(Coverage{Kind: 5})
	ins.ClassTable = ClassTable{10: "trigger"}
	ins.States[StateStartOfText]["trigger"] = &InsertionEntry{
		NewState:            StateStartOfText,
		Mark:                true,
		CurrentInsertGlyphs: []font.GlyphIndex{30},
		MarkedInsertGlyphs:  []font.GlyphIndex{31},
	}
	ins.Normalize()
	if _, err := ins.Run(mkRun(10)); !errors.Is(err, ErrMultipleInsertions) {
		t.Errorf("err = %v, want ErrMultipleInsertions", err)
	}
}
