package main

import (
	"strings"

	"github.com/pterm/pterm"
)

func helpOp(intp *Intp, op *Op) (error, bool) {
	help(op.arg)
	return nil, false
}

func help(topic string) {
	tracer().Infof("help %v", topic)
	t := strings.ToLower(topic)
	switch t {
	case "kind", "kinds":
		pterm.Info.Println("Subtable kinds")
		pterm.Println(`
	kind:ligature     AAT 'morx' type 2 ligature state machine
	kind:insertion    AAT 'morx' type 5 glyph insertion
	kind:contextual   AAT 'morx' type 1 contextual substitution
	kind:attachment   AAT 'kerx' format 4 mark attachment
	kind:marktobase   GPOS lookup type 4 mark-to-base positioning
	kind:marktomark   GPOS lookup type 6 mark-to-mark positioning

	Decoding records structural defects; inspect them with 'report'.
	`)
	case "run":
		pterm.Info.Println("run")
		pterm.Println(`
	run:82,73,73,76,70,72

	Executes the decoded state machine over a comma-separated glyph
	stream and prints the resulting run. Works for ligature, insertion
	and contextual subtables. Inserted glyphs show as 'inserted',
	consumed glyphs as 'deleted'.
	`)
	case "extrema":
		pterm.Info.Println("extrema")
		pterm.Println(`
	extrema       per-mark shift bounds for horizontal text
	extrema:v     the same for vertical text

	Marks that can stack on themselves without bound show 'unbounded'.
	`)
	default:
		pterm.Info.Println("Commands")
		pterm.Println(`
	load:<path>   load a subtable binary
	kind:<kind>   decode it; see 'help:kinds'
	hex           hexdump of the loaded bytes
	report        defects found while decoding
	states        state overview           (AAT kinds)
	classes       class names              (AAT kinds)
	glyphs        glyph-to-class table     (AAT kinds)
	run:<glyphs>  execute the automaton; see 'help:run'
	marks         attaching marks          (GPOS kinds)
	bases         base records             (GPOS kinds)
	extrema       shift bounds; see 'help:extrema'
	quit          leave (also <ctrl>D)
	`)
	}
}
