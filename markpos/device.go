package markpos

import (
	"fmt"
	"sort"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// Device is a GPOS device table: per-ppem pixel tweaks applied to an anchor
// coordinate at small rendering sizes. In variable fonts the same slot
// holds a variation-index record instead (format 0x8000), selecting a delta
// set in the font's item variation store.
type Device struct {
	Variable   bool
	OuterIndex uint16 // delta-set outer index (Variable only)
	InnerIndex uint16 // delta-set inner index (Variable only)
	Tweaks     map[uint16]int8
}

// deviceFormatFor returns the wire format (1, 2 or 3) able to hold every
// tweak: 2-bit, 4-bit or 8-bit entries.
func deviceFormatFor(tweaks map[uint16]int8) uint16 {
	format := uint16(1)
	for _, t := range tweaks {
		switch {
		case t < -8 || t > 7:
			return 3
		case t < -2 || t > 1:
			format = 2
		}
	}
	return format
}

func (d *Device) immut() string {
	if d.Variable {
		return fmt.Sprintf("v%d,%d", d.OuterIndex, d.InnerIndex)
	}
	ppems := make([]int, 0, len(d.Tweaks))
	for p := range d.Tweaks {
		ppems = append(ppems, int(p))
	}
	sort.Ints(ppems)
	s := "d"
	for _, p := range ppems {
		s += fmt.Sprintf("%d:%d,", p, d.Tweaks[uint16(p)])
	}
	return s
}

// Write appends the device table. Non-variable devices pack their tweaks at
// 2, 4 or 8 bits per ppem step into big-endian 16-bit words, most
// significant entry first.
func (d *Device) Write(w *binlink.LinkedWriter) error {
	if d.Variable {
		w.AddU16(d.OuterIndex)
		w.AddU16(d.InnerIndex)
		w.AddU16(0x8000)
		return nil
	}
	if len(d.Tweaks) == 0 {
		return fmt.Errorf("device table carries no tweaks")
	}
	first, last := uint16(0xFFFF), uint16(0)
	for p := range d.Tweaks {
		if p < first {
			first = p
		}
		if p > last {
			last = p
		}
	}
	format := deviceFormatFor(d.Tweaks)
	bits := 1 << format // 2, 4 or 8
	w.AddU16(first)
	w.AddU16(last)
	w.AddU16(format)
	perWord := 16 / bits
	n := int(last-first) + 1
	for i := 0; i < n; i += perWord {
		var word uint16
		for j := 0; j < perWord && i+j < n; j++ {
			t := d.Tweaks[first+uint16(i+j)]
			mask := uint16(1)<<bits - 1
			word |= (uint16(t) & mask) << (16 - bits*(j+1))
		}
		w.AddU16(word)
	}
	return nil
}

// readDevice decodes a device table at offset at within data. A format word
// of 0x8000 yields a variation-index record; otherwise zero tweaks are
// dropped, so a decoded device holds only effective adjustments.
func readDevice(data font.Seg, at int, section string, rep *font.Report) (*Device, error) {
	fail := func(code, issue string) error {
		if rep != nil {
			rep.AddError(section, code, issue, font.SeverityMajor, uint32(at))
		}
		return fmt.Errorf("[%s] %s: %s", section, code, issue)
	}
	if at < 0 || at+6 > len(data) {
		return nil, fail(font.CodeInsufficientBytes, "device table needs 6 bytes")
	}
	first := data.U16(at)
	last := data.U16(at + 2)
	format := data.U16(at + 4)
	if format == 0x8000 {
		return &Device{Variable: true, OuterIndex: first, InnerIndex: last}, nil
	}
	if first > last {
		return nil, fail(font.CodeBadFormat,
			fmt.Sprintf("device start size %d is greater than end size %d", first, last))
	}
	if format < 1 || format > 3 {
		return nil, fail(font.CodeBadFormat,
			fmt.Sprintf("unknown device format 0x%04X", format))
	}
	bits := 1 << format
	n := int(last-first) + 1
	words := (n*bits + 15) / 16
	if at+6+2*words > len(data) {
		return nil, fail(font.CodeInsufficientBytes,
			"insufficient bytes for packed device data")
	}
	perWord := 16 / bits
	d := &Device{Tweaks: make(map[uint16]int8)}
	for i := 0; i < n; i++ {
		word := data.U16(at + 6 + 2*(i/perWord))
		shift := 16 - bits*(i%perWord+1)
		raw := (word >> shift) & (uint16(1)<<bits - 1)
		tweak := int8(raw)
		if raw >= uint16(1)<<(bits-1) { // sign-extend
			tweak = int8(int(raw) - (1 << bits))
		}
		if tweak != 0 {
			d.Tweaks[first+uint16(i)] = tweak
		}
	}
	return d, nil
}
