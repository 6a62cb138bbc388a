/*
Package font provides the shared leaf types for building and decoding
binary font tables: glyph indices, glyph runs, positioning effects, and
the collaborator interfaces (metrics, glyph classification) which table
processing engines receive from their environment.

Sister packages build on these types: package binlink assembles table
binaries, package statetable handles AAT state machine subtables, and
package markpos handles GPOS mark attachment.

Table decoding comes in two flavors throughout this module. The fast
path (FromBytes-style constructors) returns a hard error as soon as the
input is structurally broken. The diagnostic path (FromValidatedBytes)
accumulates TableError and TableWarning records into a Report, so that
a font-engineering tool can present every problem of a table at once.

# License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © Norbert Pillmayer <norbert@pillmayer.com>
*/
package font

import "github.com/npillmayer/schuko/tracing"

// tracer writes to trace with key 'fontbuild.tables'
func tracer() tracing.Trace {
	return tracing.Select("fontbuild.tables")
}
