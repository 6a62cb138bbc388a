/*
Package markpos builds and runs GPOS mark attachment subtables: mark-to-base
(lookup type 4) and mark-to-mark (lookup type 6), both in subtable format 1.

The data model follows the OpenType structures directly: a MarkArray maps
mark glyphs to a mark class and an anchor, a BaseArray maps base glyphs to
one optional anchor per mark class. Anchors come in four kinds — plain
coordinates, outline-point aligned, device-hinted, and variation-interpolated
for variable fonts. On write, identical anchors and device tables are pooled
and emitted once, referenced by offset; decoding shares them again by offset
identity.

Besides the wire codec, each subtable kind carries its processing engine:
RunOne positions a single mark glyph against the nearest preceding base,
threading advance deltas accumulated by earlier lookups through the shared
effect slots, with a left-to-right and a right-to-left variant. EffectExtrema
computes, per mark glyph, the worst-case placement shift a subtable can
produce, which layout clients use to pad line boxes; for mark-to-mark tables
it detects glyphs that can stack on themselves without bound.

# License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © Norbert Pillmayer <norbert@pillmayer.com>
*/
package markpos

import "github.com/npillmayer/schuko/tracing"

// tracer writes to trace with key 'fontbuild.tables'
func tracer() tracing.Trace {
	return tracing.Select("fontbuild.tables")
}
