/*
Package binlink builds binary font tables from pieces whose cross-references
are not yet known. A LinkedWriter is an append-only stream of byte (and bit)
pieces. Positions of interest are marked with stakes, and offsets between
stakes are written as links, resolved only when the final byte string is
requested. This lets table builders emit headers whose offset fields point
at data that has not been written yet.

Links may use variable-width encodings, in which case the total layout
depends on the offsets and the offsets depend on the layout. Resolution
iterates to a fixed point; a layout oscillation that cannot converge is
reported as ErrResizeLoop.

Beyond plain offsets the writer supports late-bound index references
(a placeholder resolved through an index map supplied later), deferred
fixed-width values that are filled in after the surrounding data is
written, bit-level appends for packed fields, alignment padding, and the
sfnt rolling checksum over partial resolved ranges.

# License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © Norbert Pillmayer <norbert@pillmayer.com>
*/
package binlink

import "github.com/npillmayer/schuko/tracing"

// tracer writes to trace with key 'fontbuild.tables'
func tracer() tracing.Trace {
	return tracing.Select("fontbuild.tables")
}
