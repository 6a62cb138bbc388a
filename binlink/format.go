package binlink

import "fmt"

// Format encodes a resolved numeric value (an offset, an index, or a
// deferred value) into big-endian bytes. FixedWidth returns the encoding's
// byte width when it is constant, or 0 when the width depends on the value;
// variable-width formats are what force the writer into iterative layout
// resolution.
type Format interface {
	Encode(value int64) ([]byte, error)
	FixedWidth() int
}

type fixedFormat struct {
	width  int
	signed bool
}

func (f fixedFormat) FixedWidth() int {
	return f.width
}

func (f fixedFormat) Encode(value int64) ([]byte, error) {
	if f.signed {
		limit := int64(1) << (uint(f.width)*8 - 1)
		if value < -limit || value >= limit {
			return nil, fmt.Errorf("value %d out of range for signed %d-byte field", value, f.width)
		}
	} else {
		if value < 0 || value >= int64(1)<<(uint(f.width)*8) {
			return nil, fmt.Errorf("value %d out of range for unsigned %d-byte field", value, f.width)
		}
	}
	buf := make([]byte, f.width)
	v := uint64(value)
	for i := f.width - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf, nil
}

// Fixed-width big-endian field formats.
var (
	U8  Format = fixedFormat{width: 1}
	U16 Format = fixedFormat{width: 2}
	U24 Format = fixedFormat{width: 3}
	U32 Format = fixedFormat{width: 4}
	I8  Format = fixedFormat{width: 1, signed: true}
	I16 Format = fixedFormat{width: 2, signed: true}
	I32 Format = fixedFormat{width: 4, signed: true}
)

// VarFormat adapts an encoder function into a variable-width Format.
// The writer re-evaluates it whenever the layout shifts.
type VarFormat func(value int64) ([]byte, error)

func (f VarFormat) Encode(value int64) ([]byte, error) {
	return f(value)
}

func (f VarFormat) FixedWidth() int {
	return 0
}
