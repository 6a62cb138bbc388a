package statetable

import (
	"testing"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

func lookupBytes(t *testing.T, m map[font.GlyphIndex]uint16, opts LookupOptions) []byte {
	t.Helper()
	w := binlink.NewWriter()
	if err := WriteLookup(w, m, 0, opts); err != nil {
		t.Fatal(err)
	}
	b, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func checkLookupRoundTrip(t *testing.T, m map[font.GlyphIndex]uint16, wantFormat uint16) {
	t.Helper()
	b := lookupBytes(t, m, DefaultLookupOptions())
	if got := font.Seg(b).U16(0); got != wantFormat {
		t.Errorf("chosen lookup format = %d, want %d", got, wantFormat)
	}
	back, err := ReadLookup(font.Seg(b), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != len(m) {
		t.Fatalf("decoded %d mappings, want %d", len(back), len(m))
	}
	for g, v := range m {
		if back[g] != v {
			t.Errorf("lookup[%d] = %d, want %d", g, back[g], v)
		}
	}
}

func TestLookupFormatSelection(t *testing.T) {
	// a dense map from glyph 0 keeps format 0 smallest
	dense := make(map[font.GlyphIndex]uint16)
	for g := font.GlyphIndex(0); g < 8; g++ {
		dense[g] = uint16(g) + 100
	}
	checkLookupRoundTrip(t, dense, 0)

	// long constant ranges favor format 2
	segments := make(map[font.GlyphIndex]uint16)
	for g := font.GlyphIndex(1000); g < 1040; g++ {
		segments[g] = 7
	}
	for g := font.GlyphIndex(2000); g < 2040; g++ {
		segments[g] = 9
	}
	checkLookupRoundTrip(t, segments, 2)

	// a contiguous range with distinct values favors format 8
	trimmed := make(map[font.GlyphIndex]uint16)
	for g := font.GlyphIndex(500); g < 540; g++ {
		trimmed[g] = uint16(g)
	}
	checkLookupRoundTrip(t, trimmed, 8)

	// isolated glyphs favor format 6
	sparse := map[font.GlyphIndex]uint16{10: 1, 5000: 2, 60000: 3}
	checkLookupRoundTrip(t, sparse, 6)
}

func TestLookupFormat4(t *testing.T) {
	// format 4 is never chosen automatically but survives a forced round trip
	m := make(map[font.GlyphIndex]uint16)
	for g := font.GlyphIndex(100); g < 140; g++ {
		m[g] = uint16(g) * 3
	}
	for g := font.GlyphIndex(50000); g < 50040; g++ {
		m[g] = uint16(g) / 7
	}
	opts := DefaultLookupOptions()
	opts.PreferredFormat = 4
	b := lookupBytes(t, m, opts)
	if got := font.Seg(b).U16(0); got != 4 {
		t.Fatalf("lookup format = %d, want forced 4", got)
	}
	back, err := ReadLookup(font.Seg(b), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != len(m) {
		t.Fatalf("decoded %d mappings, want %d", len(back), len(m))
	}
	for g, v := range m {
		if back[g] != v {
			t.Errorf("lookup[%d] = %d, want %d", g, back[g], v)
		}
	}
}

func TestLookupEmptyMap(t *testing.T) {
	b := lookupBytes(t, nil, DefaultLookupOptions())
	if got := font.Seg(b).U16(0); got != 6 {
		t.Errorf("empty lookup format = %d, want 6", got)
	}
	back, err := ReadLookup(font.Seg(b), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 0 {
		t.Errorf("decoded %d mappings from an empty lookup", len(back))
	}
}

func TestLookupPreferredFormat(t *testing.T) {
	m := map[font.GlyphIndex]uint16{10: 1, 11: 2, 12: 3}
	opts := DefaultLookupOptions()
	opts.PreferredFormat = 6
	b := lookupBytes(t, m, opts)
	if got := font.Seg(b).U16(0); got != 6 {
		t.Errorf("lookup format = %d, want preferred 6", got)
	}
}

func TestLookupRejectsDeletedKeys(t *testing.T) {
	w := binlink.NewWriter()
	m := map[font.GlyphIndex]uint16{font.DeletedGlyph: 1}
	if err := WriteLookup(w, m, 0, DefaultLookupOptions()); err == nil {
		t.Error("expected an error for a deleted-glyph key")
	}
}

func TestBinarySearchHeader(t *testing.T) {
	h := makeBSH(4, 6)
	if h.searchRange != 16 || h.entrySelector != 2 || h.rangeShift != 8 {
		t.Errorf("bsh(4, 6) = %+v, want searchRange 16, entrySelector 2, rangeShift 8", h)
	}
	h = makeBSH(6, 1)
	if h.searchRange != 6 || h.entrySelector != 0 || h.rangeShift != 0 {
		t.Errorf("bsh(6, 1) = %+v", h)
	}
	h = makeBSH(2, 0)
	if h.nUnits != 0 || h.searchRange != 0 || h.entrySelector != 0 || h.rangeShift != 0 {
		t.Errorf("bsh(2, 0) = %+v, want all-zero counts", h)
	}
}
