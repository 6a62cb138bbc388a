package binlink

import "fmt"

// Checksum computes the sfnt rolling checksum over data, i.e. the wrapping
// sum of big-endian uint32 words, a trailing partial word padded with zero
// bytes. phase is the byte offset modulo 4 at which data starts within the
// enclosing stream: a byte at absolute position p always contributes to the
// same lane, so checksums of adjacent ranges add up to the checksum of the
// combined range.
func Checksum(data []byte, phase int) uint32 {
	phase &= 3
	var sum uint32
	for i, b := range data {
		lane := uint(3 - (phase+i)&3)
		sum += uint32(b) << (lane * 8)
	}
	return sum
}

// Checksum resolves the writer and returns the sfnt checksum of the whole
// output.
func (w *LinkedWriter) Checksum() (uint32, error) {
	data, err := w.Bytes()
	if err != nil {
		return 0, err
	}
	return Checksum(data, 0), nil
}

// ChecksumRange resolves the writer and returns the sfnt checksum of
// output bytes [start, end), using start's position as the lane phase.
func (w *LinkedWriter) ChecksumRange(start, end int) (uint32, error) {
	data, err := w.Bytes()
	if err != nil {
		return 0, err
	}
	if start < 0 || end > len(data) || start > end {
		return 0, fmt.Errorf("checksum range [%d,%d) out of bounds for %d bytes", start, end, len(data))
	}
	return Checksum(data[start:end], start), nil
}

// ChecksumUnresolved computes the checksum of the writer's current state
// with every link whose stakes are not yet placed (and every unset
// deferred slot) contributing zero bytes. Builders use this for container
// checksums that must be computed before late sections are staked.
func (w *LinkedWriter) ChecksumUnresolved() (uint32, error) {
	data, err := w.lenientBytes()
	if err != nil {
		return 0, err
	}
	return Checksum(data, 0), nil
}

// lenientBytes is Bytes with unresolvable references zero-filled at their
// (fixed) widths instead of failing.
func (w *LinkedWriter) lenientBytes() ([]byte, error) {
	saved := w.pieces
	pieces := make([]piece, len(saved))
	copy(pieces, saved)
	for i, p := range pieces {
		switch p.kind {
		case pieceLink:
			_, fromOK := w.stakes[p.from]
			_, toOK := w.stakes[p.to]
			if fromOK && toOK {
				continue
			}
		case pieceIndexLink:
			if m, ok := w.indexMaps[p.indexTag]; ok {
				if _, ok := m[p.indexKey]; ok {
					continue
				}
			}
		case pieceDeferred:
			if w.deferred[p.deferredTag].set {
				continue
			}
		default:
			continue
		}
		width := 0
		if p.bitLength > 0 {
			pieces[i] = piece{kind: pieceBits, data: packBits(0, p.bitLength), bitCount: p.bitLength}
			continue
		}
		if p.format != nil {
			width = p.format.FixedWidth()
		}
		if width == 0 {
			return nil, fmt.Errorf("cannot zero-fill unresolved variable-width reference at piece %d", i)
		}
		pieces[i] = piece{kind: pieceBytes, data: make([]byte, width)}
	}
	w.pieces = pieces
	out, err := w.Bytes()
	w.pieces = saved
	return out, err
}
