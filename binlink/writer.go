package binlink

import (
	"errors"
	"fmt"
)

// Sentinel errors of layout resolution. These are semantic violations of
// the builder protocol, always reported as hard errors.
var (
	ErrDuplicateStake  = errors.New("stake already placed")
	ErrUnresolvedStake = errors.New("link references a stake that was never placed")
	ErrNegativeOffset  = errors.New("negative offset in link not flagged as allowed")
	ErrMisaligned      = errors.New("offset is not byte-aligned")
	ErrIndivisible     = errors.New("offset is not a multiple of the link's divisor")
	ErrResizeLoop      = errors.New("critical resize loop in layout resolution")
	ErrUnknownIndex    = errors.New("index link has no entry in its index map")
	ErrDeferredUnset   = errors.New("deferred value was never set")
)

// Stake marks a position in a LinkedWriter's output, possibly before any
// bytes exist at that position. Stakes are writer-local; using a stake
// with a writer other than its creator is a programming error.
type Stake int

// IndexTag names an index map on a writer, for late-bound index links.
type IndexTag int

// DeferredTag names a reserved fixed-width slot whose value is supplied
// after the surrounding data has been written.
type DeferredTag int

type pieceKind int

const (
	pieceBytes pieceKind = iota
	pieceBits
	pieceLink
	pieceIndexLink
	pieceDeferred
	pieceAlign
)

type piece struct {
	kind     pieceKind
	data     []byte // pieceBytes: raw bytes; pieceBits: MSB-justified bits
	bitCount int    // pieceBits: significant bit count

	// link and index-link pieces
	format    Format
	from, to  Stake
	bitDelta  int64 // added to the stake distance, in bits
	bitLength int   // >0: emit the offset as a packed bit field of this many bits
	negOK     bool
	divisor   int64 // resolved offset is divided by this; must divide evenly

	indexTag IndexTag
	indexKey any

	// deferred pieces
	deferredTag DeferredTag

	// align pieces
	multiple int // pad to a bit position divisible by this
}

// LinkedWriter accumulates pieces of a binary table and resolves stakes,
// links and deferred values into a final byte string. The zero value is
// not usable; obtain writers with NewWriter.
type LinkedWriter struct {
	pieces    []piece
	stakes    map[Stake]int // stake -> boundary index into pieces
	nextStake Stake
	nextIndex IndexTag
	indexMaps map[IndexTag]map[any]int64
	deferred  map[DeferredTag]*deferredSlot
}

type deferredSlot struct {
	format Format
	value  int64
	set    bool
}

// NewWriter creates an empty LinkedWriter.
func NewWriter() *LinkedWriter {
	return &LinkedWriter{
		stakes:    make(map[Stake]int),
		indexMaps: make(map[IndexTag]map[any]int64),
		deferred:  make(map[DeferredTag]*deferredSlot),
	}
}

// NewStake allocates a stake that has not yet been placed.
func (w *LinkedWriter) NewStake() Stake {
	s := w.nextStake
	w.nextStake++
	return s
}

// StakeHere places stake s at the current end of the stream. Placing the
// same stake twice is an error.
func (w *LinkedWriter) StakeHere(s Stake) error {
	if _, ok := w.stakes[s]; ok {
		return fmt.Errorf("%w: stake %d", ErrDuplicateStake, s)
	}
	w.stakes[s] = len(w.pieces)
	return nil
}

// StakeCurrent allocates a new stake and places it at the current end of
// the stream in one step.
func (w *LinkedWriter) StakeCurrent() Stake {
	s := w.NewStake()
	w.stakes[s] = len(w.pieces)
	return s
}

// --- Appending resolved data -----------------------------------------------

// Add appends raw bytes.
func (w *LinkedWriter) Add(data ...byte) {
	if len(data) == 0 {
		return
	}
	w.pieces = append(w.pieces, piece{kind: pieceBytes, data: data})
}

// AddU8 appends an unsigned byte.
func (w *LinkedWriter) AddU8(v uint8) {
	w.Add(v)
}

// AddU16 appends a big-endian uint16.
func (w *LinkedWriter) AddU16(v uint16) {
	w.Add(byte(v>>8), byte(v))
}

// AddU24 appends the low 24 bits of v, big-endian.
func (w *LinkedWriter) AddU24(v uint32) {
	w.Add(byte(v>>16), byte(v>>8), byte(v))
}

// AddU32 appends a big-endian uint32.
func (w *LinkedWriter) AddU32(v uint32) {
	w.Add(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// AddI8 appends a signed byte.
func (w *LinkedWriter) AddI8(v int8) {
	w.Add(byte(v))
}

// AddI16 appends a big-endian int16.
func (w *LinkedWriter) AddI16(v int16) {
	w.AddU16(uint16(v))
}

// AddI32 appends a big-endian int32.
func (w *LinkedWriter) AddI32(v int32) {
	w.AddU32(uint32(v))
}

// AddBits appends value as a packed field of bitCount bits (MSB first).
// The value is range-checked against the field width.
func (w *LinkedWriter) AddBits(value int64, bitCount int, signed bool) error {
	if bitCount <= 0 || bitCount > 64 {
		return fmt.Errorf("bit field width %d out of range", bitCount)
	}
	if err := checkBitRange(value, bitCount, signed); err != nil {
		return err
	}
	w.pieces = append(w.pieces, piece{
		kind:     pieceBits,
		data:     packBits(uint64(value), bitCount),
		bitCount: bitCount,
	})
	return nil
}

// AddBitsGroup appends each value as a packed field of bitCount bits.
func (w *LinkedWriter) AddBitsGroup(values []int64, bitCount int, signed bool) error {
	for _, v := range values {
		if err := w.AddBits(v, bitCount, signed); err != nil {
			return err
		}
	}
	return nil
}

func checkBitRange(value int64, bitCount int, signed bool) error {
	if bitCount == 64 {
		if !signed && value < 0 {
			return fmt.Errorf("value %d out of range for unsigned %d-bit field", value, bitCount)
		}
		return nil
	}
	if signed {
		limit := int64(1) << uint(bitCount-1)
		if value < -limit || value >= limit {
			return fmt.Errorf("value %d out of range for signed %d-bit field", value, bitCount)
		}
	} else if value < 0 || value >= int64(1)<<uint(bitCount) {
		return fmt.Errorf("value %d out of range for unsigned %d-bit field", value, bitCount)
	}
	return nil
}

// packBits returns value's low bitCount bits, MSB-justified into bytes.
func packBits(value uint64, bitCount int) []byte {
	if bitCount < 64 {
		value &= (uint64(1) << uint(bitCount)) - 1
	}
	nbytes := (bitCount + 7) / 8
	shift := uint(nbytes*8 - bitCount)
	value <<= shift
	buf := make([]byte, nbytes)
	for i := nbytes - 1; i >= 0; i-- {
		buf[i] = byte(value)
		value >>= 8
	}
	return buf
}

// AlignToByteMultiple schedules zero padding so that the next piece starts
// at a byte position divisible by n. The pad amount is determined during
// layout resolution, so alignment works even after variable-width links.
func (w *LinkedWriter) AlignToByteMultiple(n int) {
	if n <= 1 {
		return
	}
	w.pieces = append(w.pieces, piece{kind: pieceAlign, multiple: n * 8})
}

// AlignToBitMultiple schedules zero padding so that the next piece starts
// at a bit position divisible by n.
func (w *LinkedWriter) AlignToBitMultiple(n int) {
	if n <= 1 {
		return
	}
	w.pieces = append(w.pieces, piece{kind: pieceAlign, multiple: n})
}

// --- Unresolved references -------------------------------------------------

// LinkOption modifies how an unresolved offset is computed and encoded.
type LinkOption func(*piece)

// WithByteDelta adds n bytes to the resolved offset before encoding.
func WithByteDelta(n int64) LinkOption {
	return func(p *piece) { p.bitDelta += n * 8 }
}

// WithBitDelta adds n bits to the resolved stake distance.
func WithBitDelta(n int64) LinkOption {
	return func(p *piece) { p.bitDelta += n }
}

// WithNegOK allows the resolved offset to be negative.
func WithNegOK() LinkOption {
	return func(p *piece) { p.negOK = true }
}

// WithDivisor divides the resolved byte offset by n before encoding;
// the offset must be an exact multiple of n.
func WithDivisor(n int64) LinkOption {
	return func(p *piece) { p.divisor = n }
}

// AddUnresolvedOffset appends a placeholder that resolves to the byte
// distance from stake `from` to stake `to`, encoded with f. Options adjust
// the raw distance before encoding.
func (w *LinkedWriter) AddUnresolvedOffset(f Format, from, to Stake, opts ...LinkOption) {
	p := piece{kind: pieceLink, format: f, from: from, to: to, divisor: 1}
	for _, o := range opts {
		o(&p)
	}
	w.pieces = append(w.pieces, p)
}

// AddUnresolvedOffsetBits appends a placeholder like AddUnresolvedOffset,
// but encoded as a packed bit field of bitLength bits instead of a byte
// format. The resolved distance is measured in bits.
func (w *LinkedWriter) AddUnresolvedOffsetBits(bitLength int, from, to Stake, opts ...LinkOption) {
	p := piece{kind: pieceLink, from: from, to: to, bitLength: bitLength, divisor: 1}
	for _, o := range opts {
		o(&p)
	}
	w.pieces = append(w.pieces, p)
}

// NewIndexTag allocates a tag for a late-bound index map.
func (w *LinkedWriter) NewIndexTag() IndexTag {
	t := w.nextIndex
	w.nextIndex++
	return t
}

// AddUnresolvedIndex appends a placeholder that resolves to the index
// associated with key in the index map registered for tag. The map may be
// supplied any time before the final byte string is requested.
func (w *LinkedWriter) AddUnresolvedIndex(f Format, tag IndexTag, key any) {
	w.pieces = append(w.pieces, piece{
		kind:     pieceIndexLink,
		format:   f,
		indexTag: tag,
		indexKey: key,
		divisor:  1,
	})
}

// SetIndexMap registers (or replaces) the index map for tag.
func (w *LinkedWriter) SetIndexMap(tag IndexTag, m map[any]int64) {
	w.indexMaps[tag] = m
}

// AddDeferredValue reserves a fixed-width slot whose value is supplied
// later via SetDeferredValue. The format must be fixed-width.
func (w *LinkedWriter) AddDeferredValue(f Format) (DeferredTag, error) {
	if f.FixedWidth() == 0 {
		return 0, errors.New("deferred values require a fixed-width format")
	}
	tag := DeferredTag(len(w.deferred))
	w.deferred[tag] = &deferredSlot{format: f}
	w.pieces = append(w.pieces, piece{kind: pieceDeferred, format: f, deferredTag: tag})
	return tag, nil
}

// SetDeferredValue fills in a reserved slot. The value must fit the slot's
// format; setting a slot more than once simply overwrites it.
func (w *LinkedWriter) SetDeferredValue(tag DeferredTag, value int64) error {
	slot, ok := w.deferred[tag]
	if !ok {
		return fmt.Errorf("unknown deferred tag %d", tag)
	}
	if _, err := slot.format.Encode(value); err != nil {
		return err
	}
	slot.value = value
	slot.set = true
	return nil
}

// --- Layout resolution -----------------------------------------------------

// Bytes resolves all stakes, links, index references, alignment pads and
// deferred slots and returns the final byte string. Resolution iterates
// when variable-width links (or alignment after them) shift the layout;
// a layout that revisits a previous size configuration without settling
// fails with ErrResizeLoop.
func (w *LinkedWriter) Bytes() ([]byte, error) {
	sizes, err := w.initialSizes()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{sizeKey(sizes): true}
	for {
		changed, err := w.relayout(sizes)
		if err != nil {
			return nil, err
		}
		if !changed {
			break
		}
		key := sizeKey(sizes)
		if seen[key] {
			return nil, ErrResizeLoop
		}
		seen[key] = true
	}
	return w.assemble(sizes)
}

// initialSizes seeds the per-piece bit sizes. Fixed-size pieces are final;
// variable links start at zero and grow during relayout.
func (w *LinkedWriter) initialSizes() ([]int, error) {
	sizes := make([]int, len(w.pieces))
	for i, p := range w.pieces {
		switch p.kind {
		case pieceBytes:
			sizes[i] = len(p.data) * 8
		case pieceBits:
			sizes[i] = p.bitCount
		case pieceLink, pieceIndexLink:
			if p.bitLength > 0 {
				sizes[i] = p.bitLength
			} else if fw := p.format.FixedWidth(); fw > 0 {
				sizes[i] = fw * 8
			} else {
				sizes[i] = 8 // variable, grows as needed
			}
		case pieceDeferred:
			sizes[i] = p.format.FixedWidth() * 8
		case pieceAlign:
			sizes[i] = 0
		}
	}
	return sizes, nil
}

// relayout recomputes the sizes of variable links and alignment pads for
// the current layout; it reports whether any size changed.
func (w *LinkedWriter) relayout(sizes []int) (bool, error) {
	starts := bitStarts(sizes)
	changed := false
	for i, p := range w.pieces {
		switch p.kind {
		case pieceAlign:
			pad := alignPad(starts[i], p.multiple)
			if sizes[i] != pad {
				sizes[i] = pad
				changed = true
			}
		case pieceLink:
			if p.bitLength > 0 || p.format.FixedWidth() > 0 {
				continue
			}
			value, err := w.linkValue(p, starts)
			if err != nil {
				return false, err
			}
			enc, err := p.format.Encode(value)
			if err != nil {
				return false, err
			}
			if sizes[i] != len(enc)*8 {
				sizes[i] = len(enc) * 8
				changed = true
			}
		case pieceIndexLink:
			if p.format.FixedWidth() > 0 {
				continue
			}
			value, err := w.indexValue(p)
			if err != nil {
				return false, err
			}
			enc, err := p.format.Encode(value)
			if err != nil {
				return false, err
			}
			if sizes[i] != len(enc)*8 {
				sizes[i] = len(enc) * 8
				changed = true
			}
		}
	}
	return changed, nil
}

// linkValue computes the encodable offset value for a link under the
// current layout.
func (w *LinkedWriter) linkValue(p piece, starts []int) (int64, error) {
	fromIdx, ok := w.stakes[p.from]
	if !ok {
		return 0, fmt.Errorf("%w: stake %d", ErrUnresolvedStake, p.from)
	}
	toIdx, ok := w.stakes[p.to]
	if !ok {
		return 0, fmt.Errorf("%w: stake %d", ErrUnresolvedStake, p.to)
	}
	bits := int64(starts[toIdx]-starts[fromIdx]) + p.bitDelta
	if bits < 0 && !p.negOK {
		return 0, fmt.Errorf("%w: %d bits from stake %d to stake %d",
			ErrNegativeOffset, bits, p.from, p.to)
	}
	var value int64
	if p.bitLength > 0 {
		value = bits
	} else {
		if bits%8 != 0 {
			return 0, fmt.Errorf("%w: %d bits from stake %d to stake %d",
				ErrMisaligned, bits, p.from, p.to)
		}
		value = bits / 8
	}
	if p.divisor != 1 {
		if value%p.divisor != 0 {
			return 0, fmt.Errorf("%w: offset %d, divisor %d", ErrIndivisible, value, p.divisor)
		}
		value /= p.divisor
	}
	return value, nil
}

func (w *LinkedWriter) indexValue(p piece) (int64, error) {
	m, ok := w.indexMaps[p.indexTag]
	if !ok {
		return 0, fmt.Errorf("%w: no map for tag %d", ErrUnknownIndex, p.indexTag)
	}
	v, ok := m[p.indexKey]
	if !ok {
		return 0, fmt.Errorf("%w: key %v", ErrUnknownIndex, p.indexKey)
	}
	return v, nil
}

// assemble encodes every piece under the settled layout and merges the
// bit stream into bytes.
func (w *LinkedWriter) assemble(sizes []int) ([]byte, error) {
	starts := bitStarts(sizes)
	total := 0
	for _, s := range sizes {
		total += s
	}
	if total%8 != 0 {
		return nil, fmt.Errorf("%w: total stream length is %d bits", ErrMisaligned, total)
	}
	var acc bitAccumulator
	for i, p := range w.pieces {
		switch p.kind {
		case pieceBytes:
			acc.appendBits(p.data, len(p.data)*8)
		case pieceBits:
			acc.appendBits(p.data, p.bitCount)
		case pieceAlign:
			acc.appendZeroBits(sizes[i])
		case pieceDeferred:
			slot := w.deferred[p.deferredTag]
			if !slot.set {
				return nil, fmt.Errorf("%w: tag %d", ErrDeferredUnset, p.deferredTag)
			}
			enc, err := slot.format.Encode(slot.value)
			if err != nil {
				return nil, err
			}
			acc.appendBits(enc, len(enc)*8)
		case pieceLink, pieceIndexLink:
			var value int64
			var err error
			if p.kind == pieceLink {
				value, err = w.linkValue(p, starts)
			} else {
				value, err = w.indexValue(p)
			}
			if err != nil {
				return nil, err
			}
			if p.bitLength > 0 {
				if err := checkBitRange(value, p.bitLength, p.negOK); err != nil {
					return nil, err
				}
				acc.appendBits(packBits(uint64(value), p.bitLength), p.bitLength)
			} else {
				enc, err := p.format.Encode(value)
				if err != nil {
					return nil, err
				}
				if len(enc)*8 != sizes[i] {
					// width shifted after the loop settled, cannot happen
					// for fixed formats; treat as oscillation
					return nil, ErrResizeLoop
				}
				acc.appendBits(enc, len(enc)*8)
			}
		}
	}
	out := acc.bytes()
	tracer().Debugf("linked writer resolved %d pieces into %d bytes", len(w.pieces), len(out))
	return out, nil
}

func bitStarts(sizes []int) []int {
	starts := make([]int, len(sizes)+1)
	for i, s := range sizes {
		starts[i+1] = starts[i] + s
	}
	return starts
}

func alignPad(bitPos, span int) int {
	rem := bitPos % span
	if rem == 0 {
		return 0
	}
	return span - rem
}

func sizeKey(sizes []int) string {
	return fmt.Sprint(sizes)
}

// bitAccumulator merges MSB-first bit pieces into a byte stream.
type bitAccumulator struct {
	buf    []byte
	bitPos int // bits used in the last byte of buf, 0 if byte-aligned
}

func (a *bitAccumulator) appendBits(data []byte, bitCount int) {
	if a.bitPos == 0 && bitCount%8 == 0 {
		a.buf = append(a.buf, data[:bitCount/8]...)
		return
	}
	for i := 0; i < bitCount; i++ {
		bit := (data[i/8] >> uint(7-i%8)) & 1
		a.appendBit(bit)
	}
}

func (a *bitAccumulator) appendZeroBits(bitCount int) {
	for i := 0; i < bitCount; i++ {
		a.appendBit(0)
	}
}

func (a *bitAccumulator) appendBit(bit byte) {
	if a.bitPos == 0 {
		a.buf = append(a.buf, 0)
	}
	if bit != 0 {
		a.buf[len(a.buf)-1] |= 1 << uint(7-a.bitPos)
	}
	a.bitPos = (a.bitPos + 1) % 8
}

func (a *bitAccumulator) bytes() []byte {
	return a.buf
}
