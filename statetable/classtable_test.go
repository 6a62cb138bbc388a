package statetable

import (
	"testing"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

func TestClassTableRoundTrip(t *testing.T) {
	ct := ClassTable{30: "x", 96: "acute", 97: "grave"}
	classNames := append(append([]string{}, fixedClassNames...), "acute", "grave", "x")
	w := binlink.NewWriter()
	if err := ct.Write(w, classNames, DefaultLookupOptions()); err != nil {
		t.Fatal(err)
	}
	b, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	back, err := ReadClassTable(font.Seg(b), classNames, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != len(ct) {
		t.Fatalf("decoded %d mappings, want %d", len(back), len(ct))
	}
	for g, cn := range ct {
		if back[g] != cn {
			t.Errorf("class of glyph %d = %q, want %q", g, back[g], cn)
		}
	}
}

func TestClassOf(t *testing.T) {
	ct := ClassTable{30: "x"}
	if got := ct.classOf(30); got != "x" {
		t.Errorf("classOf(30) = %q", got)
	}
	if got := ct.classOf(31); got != ClassOutOfBounds {
		t.Errorf("classOf(31) = %q, want %q", got, ClassOutOfBounds)
	}
	if got := ct.classOf(font.DeletedGlyph); got != ClassDeletedGlyph {
		t.Errorf("classOf(deleted) = %q, want %q", got, ClassDeletedGlyph)
	}
	if got := ct.classOf(font.DeletedGlyphAlt); got != ClassDeletedGlyph {
		t.Errorf("classOf(deleted alt) = %q, want %q", got, ClassDeletedGlyph)
	}
}

func TestClassTableOutOfRangeIndex(t *testing.T) {
	// a raw class index beyond the class name list
	w := binlink.NewWriter()
	raw := map[font.GlyphIndex]uint16{40: 9}
	if err := WriteLookup(w, raw, 1, DefaultLookupOptions()); err != nil {
		t.Fatal(err)
	}
	b, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	classNames := append(append([]string{}, fixedClassNames...), "only")
	var rep font.Report
	if _, err = ReadClassTable(font.Seg(b), classNames, &rep); err != nil {
		t.Fatal(err)
	}
	if !rep.HasErrors() {
		t.Error("expected a reported error for an out-of-range class index")
	}
	if _, err = ReadClassTable(font.Seg(b), classNames, nil); err == nil {
		t.Error("expected a hard error without a report")
	}
}

func TestCheckClassTableWarnings(t *testing.T) {
	var rep font.Report
	ClassTable{}.CheckClassTable(&rep)
	if len(rep.Warnings) == 0 {
		t.Error("expected a warning for an empty class table")
	}
	rep = font.Report{}
	ClassTable{50: ClassDeletedGlyph}.CheckClassTable(&rep)
	if len(rep.Warnings) == 0 {
		t.Error("expected a warning for an explicit fixed-class mapping")
	}
}
