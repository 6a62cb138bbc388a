package font

import "errors"

// Reading bytes from a table's binary representation

// ErrBounds is returned by checked segment reads that would run past the
// end of the data.
var ErrBounds = errors.New("internal inconsistency: buffer bounds error")

func u16(b []byte) uint16 {
	_ = b[1] // Bounds check hint to compiler
	return uint16(b[0])<<8 | uint16(b[1])<<0
}

func u32(b []byte) uint32 {
	_ = b[3] // Bounds check hint to compiler
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])<<0
}

// Seg is a segment of big-endian binary table data. Reads through the
// error-free accessors return 0 on out-of-bounds access; decoders on the
// fast path use the checked variants instead.
type Seg []byte

// Size is the segment's length in bytes.
func (b Seg) Size() int {
	return len(b)
}

// Bytes returns the segment as a plain byte slice.
func (b Seg) Bytes() []byte {
	return b
}

// Slice returns a sub-segment, clamped to the segment's bounds.
func (b Seg) Slice(from, to int) Seg {
	if from < 0 {
		from = 0
	}
	if to > len(b) {
		to = len(b)
	}
	if from > to {
		return Seg{}
	}
	return b[from:to]
}

func (b Seg) U8(i int) uint8 {
	if i < 0 || i >= len(b) {
		return 0
	}
	return b[i]
}

func (b Seg) U16(i int) uint16 {
	n, err := b.u16(i)
	if err != nil {
		return 0
	}
	return n
}

func (b Seg) U24(i int) uint32 {
	buf, err := b.view(i, 3)
	if err != nil {
		return 0
	}
	return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
}

func (b Seg) U32(i int) uint32 {
	n, err := b.u32(i)
	if err != nil {
		return 0
	}
	return n
}

func (b Seg) I16(i int) int16 {
	return int16(b.U16(i))
}

// Glyphs interprets the segment as a packed array of 16-bit glyph IDs.
func (b Seg) Glyphs() []GlyphIndex {
	glyphs := make([]GlyphIndex, len(b)/2)
	j := 0
	for i := 0; i+1 < len(b); i += 2 {
		glyphs[j] = GlyphIndex(b[i])<<8 + GlyphIndex(b[i+1])
		j++
	}
	return glyphs
}

// view returns n bytes at the given offset.
// The byte segment returned is a sub-slice of b.
func (b Seg) view(offset, n int) (Seg, error) {
	if offset < 0 || n <= 0 || offset+n > len(b) {
		return nil, ErrBounds
	}
	return b[offset : offset+n], nil
}

// View is the checked variant of Slice: it returns n bytes at offset or
// fails with ErrBounds.
func (b Seg) View(offset, n int) (Seg, error) {
	return b.view(offset, n)
}

// u16 returns the uint16 in b at the relative offset i.
func (b Seg) u16(i int) (uint16, error) {
	buf, err := b.view(i, 2)
	if err != nil {
		return 0, err
	}
	return u16(buf), nil
}

// u32 returns the uint32 in b at the relative offset i.
func (b Seg) u32(i int) (uint32, error) {
	buf, err := b.view(i, 4)
	if err != nil {
		return 0, err
	}
	return u32(buf), nil
}

// CheckedU16 returns the uint16 at offset i or ErrBounds.
func (b Seg) CheckedU16(i int) (uint16, error) {
	return b.u16(i)
}

// CheckedU32 returns the uint32 at offset i or ErrBounds.
func (b Seg) CheckedU32(i int) (uint32, error) {
	return b.u32(i)
}
