/*
Package statetable reads and writes AAT finite-state subtables of the kind
found in 'morx', 'kerx' and 'mort' tables: ligature composition, glyph
insertion, contextual substitution, and attachment control. All variants
share one wire convention — a class table assigning glyphs to named
classes, a state array of entry indices, and a pooled entry table whose
action payload differs per subtable kind — and this package factors that
convention out so each variant only supplies its payload codec.

States and classes are addressed by name. The four fixed classes
("End of text", "Out of bounds", "Deleted glyph", "End of line") and the
two fixed states ("Start of text", "Start of line") are always present;
user names are stored covertly in a NameStash block so they survive a
round trip through the binary form, and are synthesized ("User class 1",
"User state 1", …) when a table from another tool carries no stash.

Writing pools identical entries and actions, so a table with many cells
but few distinct behaviors stays small. Reading ligature and contextual
tables runs a reachability analysis over the automaton to recover the
declarative substitution dictionaries from the packed action lists.

Subtables also run: Ligature, Insertion and Contextual execute against a
glyph stream, which is how tests and inspection tools verify that an
encoded automaton does what its author intended.

# License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © Norbert Pillmayer <norbert@pillmayer.com>
*/
package statetable

import "github.com/npillmayer/schuko/tracing"

// tracer writes to trace with key 'fontbuild.tables'
func tracer() tracing.Trace {
	return tracing.Select("fontbuild.tables")
}
