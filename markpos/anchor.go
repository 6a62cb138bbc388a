package markpos

import (
	"fmt"
	"math"
	"sort"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
	"golang.org/x/image/math/fixed"
)

// Anchor kinds. Coord and Point anchors serialize as OpenType anchor
// formats 1 and 2; Device and Variation anchors both serialize as format 3,
// distinguished by whether the attached device tables are variation-index
// records.
const (
	AnchorCoord     = iota // plain (x, y) in font units
	AnchorPoint            // (x, y) refined by an outline point at small sizes
	AnchorDevice           // (x, y) with per-ppem device tweaks
	AnchorVariation        // (x, y) interpolated across variation space
)

// VariationFunc resolves a design-space position to a coordinate delta in
// font units. Variation anchors are constructed with their delta data
// already bound (the item variation store lives outside this package), so
// decoding a font cannot recover the function; a nil func interpolates to
// zero.
type VariationFunc func(coord []fixed.Int26_6) float64

// Anchor is an attachment point on a glyph. X and Y are always meaningful;
// the remaining fields depend on Kind.
type Anchor struct {
	Kind       int
	X, Y       int16
	PointIndex uint16  // AnchorPoint
	XDevice    *Device // AnchorDevice tweaks, or AnchorVariation index record
	YDevice    *Device
	XVariation VariationFunc // AnchorVariation only; not serialized
	YVariation VariationFunc
}

func (a *Anchor) immut() string {
	s := fmt.Sprintf("%d|%d,%d", a.Kind, a.X, a.Y)
	switch a.Kind {
	case AnchorPoint:
		s += fmt.Sprintf("|p%d", a.PointIndex)
	case AnchorDevice, AnchorVariation:
		for _, d := range []*Device{a.XDevice, a.YDevice} {
			if d == nil {
				s += "|-"
			} else {
				s += "|" + d.immut()
			}
		}
	}
	return s
}

// InterpolatedPos returns the anchor position with any variation deltas for
// the given design-space coordinate applied. Non-variation anchors and an
// empty coordinate return (X, Y) unchanged.
func (a *Anchor) InterpolatedPos(coord []fixed.Int26_6) (int32, int32) {
	x, y := int32(a.X), int32(a.Y)
	if a.Kind != AnchorVariation || len(coord) == 0 {
		return x, y
	}
	if a.XVariation != nil {
		x += int32(math.Round(a.XVariation(coord)))
	}
	if a.YVariation != nil {
		y += int32(math.Round(a.YVariation(coord)))
	}
	return x, y
}

// wireFormat returns the anchor's on-wire format number.
func (a *Anchor) wireFormat() uint16 {
	switch a.Kind {
	case AnchorPoint:
		return 2
	case AnchorDevice, AnchorVariation:
		return 3
	}
	return 1
}

// anchorPool dedups anchors (and, transitively, their device tables) during
// a subtable write. Anchors are emitted in first-use order; devices are
// collected and flushed after all anchors, sorted by their canonical form
// so the output is deterministic.
type anchorPool struct {
	w       *binlink.LinkedWriter
	stakes  map[string]binlink.Stake
	order   []*Anchor
	devices map[string]binlink.Stake
	devObjs map[string]*Device
}

func newAnchorPool(w *binlink.LinkedWriter) *anchorPool {
	return &anchorPool{
		w:       w,
		stakes:  make(map[string]binlink.Stake),
		devices: make(map[string]binlink.Stake),
		devObjs: make(map[string]*Device),
	}
}

// stakeFor returns the stake the anchor will be written at, registering it
// on first use.
func (pool *anchorPool) stakeFor(a *Anchor) binlink.Stake {
	key := a.immut()
	s, ok := pool.stakes[key]
	if !ok {
		s = pool.w.NewStake()
		pool.stakes[key] = s
		pool.order = append(pool.order, a)
	}
	return s
}

func (pool *anchorPool) deviceStake(d *Device) binlink.Stake {
	key := d.immut()
	s, ok := pool.devices[key]
	if !ok {
		s = pool.w.NewStake()
		pool.devices[key] = s
		pool.devObjs[key] = d
	}
	return s
}

// flush writes all pooled anchors, then all pooled device tables.
func (pool *anchorPool) flush() error {
	w := pool.w
	for _, a := range pool.order {
		at := pool.stakes[a.immut()]
		if err := w.StakeHere(at); err != nil {
			return err
		}
		w.AddU16(a.wireFormat())
		w.AddI16(a.X)
		w.AddI16(a.Y)
		switch a.Kind {
		case AnchorPoint:
			w.AddU16(a.PointIndex)
		case AnchorDevice, AnchorVariation:
			for _, d := range []*Device{a.XDevice, a.YDevice} {
				if d == nil {
					w.AddU16(0)
				} else {
					w.AddUnresolvedOffset(binlink.U16, at, pool.deviceStake(d))
				}
			}
		}
	}
	keys := make([]string, 0, len(pool.devices))
	for key := range pool.devices {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := w.StakeHere(pool.devices[key]); err != nil {
			return err
		}
		if err := pool.devObjs[key].Write(w); err != nil {
			return err
		}
	}
	return nil
}

// readAnchor decodes an anchor at offset at within data. Device offsets are
// relative to the anchor itself. Format 3 anchors come back as
// AnchorVariation when their device slots hold variation-index records,
// AnchorDevice otherwise.
func readAnchor(data font.Seg, at int, section string, rep *font.Report) (*Anchor, error) {
	fail := func(code, issue string) error {
		if rep != nil {
			rep.AddError(section, code, issue, font.SeverityMajor, uint32(at))
		}
		return fmt.Errorf("[%s] %s: %s", section, code, issue)
	}
	if at < 0 || at+6 > len(data) {
		return nil, fail(font.CodeInsufficientBytes, "anchor table needs at least 6 bytes")
	}
	format := data.U16(at)
	a := &Anchor{X: data.I16(at + 2), Y: data.I16(at + 4)}
	switch format {
	case 1:
		a.Kind = AnchorCoord
	case 2:
		if at+8 > len(data) {
			return nil, fail(font.CodeInsufficientBytes, "anchor format 2 needs 8 bytes")
		}
		a.Kind = AnchorPoint
		a.PointIndex = data.U16(at + 6)
	case 3:
		if at+10 > len(data) {
			return nil, fail(font.CodeInsufficientBytes, "anchor format 3 needs 10 bytes")
		}
		a.Kind = AnchorDevice
		for i, dst := range []**Device{&a.XDevice, &a.YDevice} {
			off := int(data.U16(at + 6 + 2*i))
			if off == 0 {
				continue
			}
			d, err := readDevice(data, at+off, section, rep)
			if err != nil {
				return nil, err
			}
			*dst = d
			if d.Variable {
				a.Kind = AnchorVariation
			}
		}
	default:
		return nil, fail(font.CodeBadFormat,
			fmt.Sprintf("unknown anchor format %d", format))
	}
	return a, nil
}
