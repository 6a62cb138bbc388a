package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/npillmayer/fontbuild/font"
	"github.com/npillmayer/fontbuild/markpos"
	"github.com/npillmayer/fontbuild/statetable"
	"github.com/npillmayer/schuko/schukonf/testconfig"
	"github.com/npillmayer/schuko/tracing"
	"github.com/npillmayer/schuko/tracing/gologadapter"
	"github.com/npillmayer/schuko/tracing/trace2go"
	"github.com/pterm/pterm"
)

// tracer traces with key 'fontbuild.tables'
func tracer() tracing.Trace {
	return tracing.Select("fontbuild.tables")
}

func main() {
	initDisplay()

	// set up logging
	tracing.RegisterTraceAdapter("go", gologadapter.GetAdapter(), false)
	conf := testconfig.Conf{
		"tracing.adapter":        "go",
		"trace.fontbuild.tables": "Info",
	}
	if err := trace2go.ConfigureRoot(conf, "trace", trace2go.ReplaceTracers(true)); err != nil {
		fmt.Printf("error configuring tracing")
		os.Exit(1)
	}
	tracing.SetTraceSelector(trace2go.Selector())

	// command line flags
	tlevel := flag.String("trace", "Info", "Trace level [Debug|Info|Error]")
	tablepath := flag.String("table", "", "Subtable binary to load")
	kind := flag.String("kind", "", "Subtable kind "+kindList)
	flag.Parse()
	tracer().SetTraceLevel(tracing.LevelError) // will set the correct level later
	pterm.Info.Println("Welcome to the font table inspector")
	//
	// set up REPL
	repl, err := readline.New("fb > ")
	if err != nil {
		tracer().Errorf(err.Error())
		os.Exit(3)
	}
	intp := &Intp{repl: repl}
	//
	// load a subtable binary to inspect
	if *tablepath != "" {
		if err := intp.loadTable(*tablepath); err != nil {
			tracer().Errorf(err.Error())
			os.Exit(4)
		}
		if *kind != "" {
			if err := intp.decodeAs(*kind); err != nil {
				tracer().Errorf(err.Error())
			}
		}
	}
	//
	// start receiving commands
	pterm.Info.Println("Quit with <ctrl>D")
	switch *tlevel {
	case "Debug":
		tracer().SetTraceLevel(tracing.LevelDebug)
	case "Info":
		tracer().SetTraceLevel(tracing.LevelInfo)
	case "Error":
		tracer().SetTraceLevel(tracing.LevelError)
	default:
		tracer().Errorf("Invalid trace level: %s", *tlevel)
		os.Exit(5)
	}
	tracer().Infof("Trace level is %s", *tlevel)
	intp.REPL() // go into interactive mode
}

// We use pterm for moderately fancy output.
func initDisplay() {
	pterm.EnableDebugMessages()
	pterm.Info.Prefix = pterm.Prefix{
		Text:  " !  ",
		Style: pterm.NewStyle(pterm.BgCyan, pterm.FgBlack),
	}
	pterm.Error.Prefix = pterm.Prefix{
		Text:  " Error",
		Style: pterm.NewStyle(pterm.BgRed, pterm.FgBlack),
	}
}

const kindList = "[ligature|insertion|contextual|attachment|marktobase|marktomark]"

// Intp is our interpreter object
type Intp struct {
	repl *readline.Instance
	path string
	data font.Seg
	kind string
	rep  *font.Report

	lig *statetable.Ligature
	ins *statetable.Insertion
	ctx *statetable.Contextual
	att *statetable.Attachment
	mtb *markpos.MarkToBase
	mtm *markpos.MarkToMark
}

func (intp *Intp) String() string {
	if intp == nil || intp.data == nil {
		return "()"
	}
	if intp.kind == "" {
		return fmt.Sprintf("( %s, %d bytes )", intp.path, len(intp.data))
	}
	return fmt.Sprintf("( %s, %d bytes, %s )", intp.path, len(intp.data), intp.kind)
}

// REPL starts interactive mode.
func (intp *Intp) REPL() {
	for {
		pterm.Println(intp.String())
		line, err := intp.repl.Readline()
		if err != nil { // io.EOF
			break
		}
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		cmd, err := intp.parseCommand(line)
		if err != nil {
			tracer().Errorf(err.Error())
			continue
		}
		err, quit := intp.execute(cmd)
		if err != nil {
			tracer().Errorf(err.Error())
			continue
		}
		if quit {
			break
		}
	}
	pterm.Info.Println("Good bye!")
}

type Op struct {
	code int
	arg  string
}

type Command struct {
	count int
	op    [32]Op
}

const NOOP = -1
const (
	// op-code QUIT will not have arguments
	QUIT int = iota
	// op-codes below may have arguments
	HELP
	LOAD
	KIND
	STATES
	CLASSES
	GLYPHS
	MARKS
	BASES
	EXTREMA
	RUN
	REPORT
	HEX
)

var opMap = map[string]int{
	"quit":    QUIT,
	"help":    HELP,
	"load":    LOAD,
	"kind":    KIND,
	"states":  STATES,
	"classes": CLASSES,
	"glyphs":  GLYPHS,
	"marks":   MARKS,
	"bases":   BASES,
	"extrema": EXTREMA,
	"run":     RUN,
	"report":  REPORT,
	"hex":     HEX,
}

var opNames = []string{
	"quit",
	"help",
	"load",
	"kind",
	"states",
	"classes",
	"glyphs",
	"marks",
	"bases",
	"extrema",
	"run",
	"report",
	"hex",
}

var command = Command{}

func resetCommand() {
	command.count = 0
	for i := range command.op {
		command.op[i].code = NOOP
		command.op[i].arg = ""
	}
}

func (intp *Intp) parseCommand(line string) (*Command, error) {
	resetCommand()
	steps := strings.Split(line, " ")
	command.count = len(steps)
	for i, step := range steps {
		c := strings.Split(step, ":") // e.g.  "kind:ligature" or "run:82,73,73" or "hex"
		code, ok := opMap[strings.ToLower(c[0])]
		if !ok {
			code = HELP
		}
		command.op[i].code = code
		command.op[i].arg = getOptArg(c, 1)
		if command.op[i].code == QUIT {
			return &command, nil
		}
		if command.op[i].arg == "" {
			tracer().Infof("%s", opNames[command.op[i].code])
		} else {
			tracer().Infof("%s: '%s'", opNames[command.op[i].code], command.op[i].arg)
		}
	}
	return &command, nil
}

var commandFn = map[int]func(*Intp, *Op) (error, bool){
	QUIT:    quitOp,
	HELP:    helpOp,
	LOAD:    loadOp,
	KIND:    kindOp,
	STATES:  statesOp,
	CLASSES: classesOp,
	GLYPHS:  glyphsOp,
	MARKS:   marksOp,
	BASES:   basesOp,
	EXTREMA: extremaOp,
	RUN:     runOp,
	REPORT:  reportOp,
	HEX:     hexOp,
}

func (intp *Intp) execute(cmd *Command) (err error, stop bool) {
	tracer().Debugf("cmd = %v", cmd.op)
	for _, c := range cmd.op {
		if c.code == NOOP {
			break
		}
		f, ok := commandFn[c.code]
		if !ok {
			pterm.Error.Printf("unknown command code: %d\n", c.code)
			return nil, false
		}
		err, stop = f(intp, &c)
		if err != nil {
			pterm.Error.Println(err)
			return
		}
		if stop {
			return
		}
	}
	return
}

func quitOp(intp *Intp, op *Op) (error, bool) {
	pterm.Println("Goodbye!")
	return nil, true
}

func loadOp(intp *Intp, op *Op) (error, bool) {
	path, ok := op.hasArg()
	if !ok {
		return errors.New("load needs a file path: load:<path>"), false
	}
	return intp.loadTable(path), false
}

func kindOp(intp *Intp, op *Op) (error, bool) {
	kind, ok := op.hasArg()
	if !ok {
		return errors.New("kind needs an argument: kind:" + kindList), false
	}
	return intp.decodeAs(kind), false
}

func runOp(intp *Intp, op *Op) (error, bool) {
	arg, ok := op.hasArg()
	if !ok {
		return errors.New("run needs a glyph list: run:82,73,73"), false
	}
	glyphs, err := parseGlyphs(arg)
	if err != nil {
		return err, false
	}
	run := font.NewRun(glyphs)
	var out []font.RunGlyph
	switch {
	case intp.lig != nil:
		out, err = intp.lig.Run(run)
	case intp.ins != nil:
		out, err = intp.ins.Run(run)
	case intp.ctx != nil:
		out, err = intp.ctx.Run(run)
	default:
		return errors.New("run works on ligature, insertion and contextual subtables"), false
	}
	if err != nil {
		return err, false
	}
	printRun(run, out)
	return nil, false
}

// --- Table Loading ----------------------------------------------------

func (intp *Intp) loadTable(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		tracer().Errorf("cannot load subtable binary %s: %s", path, err)
		return err
	}
	intp.path = path
	intp.data = font.Seg(data)
	intp.kind = ""
	intp.rep = nil
	intp.lig, intp.ins, intp.ctx, intp.att = nil, nil, nil, nil
	intp.mtb, intp.mtm = nil, nil
	pterm.Printf("loaded %d bytes from %s\n", len(data), path)
	return nil
}

func (intp *Intp) decodeAs(kind string) error {
	if intp.data == nil {
		return ERR_NO_TABLE
	}
	rep := &font.Report{}
	var err error
	switch strings.ToLower(kind) {
	case "ligature":
		intp.lig, err = statetable.ReadLigatureValidated(intp.data,
			statetable.Coverage{Kind: 2}, false, rep)
	case "insertion":
		intp.ins, err = statetable.ReadInsertionValidated(intp.data,
			statetable.Coverage{Kind: 5}, rep)
	case "contextual":
		intp.ctx, err = statetable.ReadContextualValidated(intp.data,
			statetable.Coverage{Kind: 1}, rep)
	case "attachment":
		intp.att, err = statetable.ReadAttachmentValidated(intp.data, rep)
	case "marktobase":
		intp.mtb, err = markpos.MarkToBaseFromValidatedBytes(intp.data, rep)
	case "marktomark":
		intp.mtm, err = markpos.MarkToMarkFromValidatedBytes(intp.data, rep)
	default:
		return fmt.Errorf("unknown subtable kind '%s', expected one of %s", kind, kindList)
	}
	intp.rep = rep
	if err != nil {
		return err
	}
	intp.kind = strings.ToLower(kind)
	pterm.Printf("decoded as %s; %d errors, %d warnings\n",
		intp.kind, len(rep.Errors), len(rep.Warnings))
	return nil
}

// ----------------------------------------------------------------------

var ERR_NO_TABLE = errors.New("no subtable loaded")
var ERR_NO_KIND = errors.New("no subtable kind set; use kind:" + kindList)

func parseGlyphs(arg string) ([]font.GlyphIndex, error) {
	parts := strings.Split(arg, ",")
	glyphs := make([]font.GlyphIndex, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("glyph ID '%s' is not a number", p)
		}
		glyphs[i] = font.GlyphIndex(n)
	}
	return glyphs, nil
}

func getOptArg(s []string, inx int) string {
	if len(s) > inx {
		return s[inx]
	}
	return ""
}

func (op *Op) noArg() bool {
	return op.arg == ""
}

func (op *Op) hasArg() (string, bool) {
	if op.arg == "" {
		return "", false
	}
	return op.arg, true
}
