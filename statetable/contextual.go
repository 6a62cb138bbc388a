package statetable

import (
	"fmt"
	"sort"
	"strings"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// ContextualEntry is one cell of a contextual state array. The two
// substitution maps take a glyph to its replacement: one applies to the
// current glyph, the other to the most recently marked glyph. A mapping to
// the deleted-glyph sentinel deletes.
type ContextualEntry struct {
	NewState          string
	Mark              bool
	NoAdvance         bool
	MarkSubstitutions map[font.GlyphIndex]font.GlyphIndex
	CurrSubstitutions map[font.GlyphIndex]font.GlyphIndex
}

func newContextualNOP() *ContextualEntry { return &ContextualEntry{NewState: StateStartOfText} }

func (e *ContextualEntry) isNOP() bool {
	return e.NewState == StateStartOfText && !e.Mark && !e.NoAdvance &&
		len(e.MarkSubstitutions) == 0 && len(e.CurrSubstitutions) == 0
}

func substKey(m map[font.GlyphIndex]font.GlyphIndex) string {
	keys := make([]int, 0, len(m))
	for g := range m {
		keys = append(keys, int(g))
	}
	sort.Ints(keys)
	var sb strings.Builder
	for _, g := range keys {
		fmt.Fprintf(&sb, "%d>%d,", g, m[font.GlyphIndex(g)])
	}
	return sb.String()
}

func (e *ContextualEntry) immut() string {
	return fmt.Sprintf("%s|%t|%t|%s|%s", e.NewState, e.Mark, e.NoAdvance,
		substKey(e.MarkSubstitutions), substKey(e.CurrSubstitutions))
}

// Contextual is a 'morx' type 1 subtable: a state machine that substitutes
// the current or a marked glyph depending on context.
type Contextual struct {
	Coverage   Coverage
	ClassTable ClassTable
	States     map[string]map[string]*ContextualEntry
}

// NewContextual returns an empty subtable with the two fixed states present.
func NewContextual(cov Coverage) *Contextual {
	cov.Kind = 1
	return &Contextual{
		Coverage:   cov,
		ClassTable: make(ClassTable),
		States: map[string]map[string]*ContextualEntry{
			StateStartOfText: {},
			StateStartOfLine: {},
		},
	}
}

// Normalize fills in missing rows and cells; see Ligature.Normalize.
func (cx *Contextual) Normalize() {
	normalizeStates(cx.States, newContextualNOP,
		func(s string) *ContextualEntry { return &ContextualEntry{NewState: s} },
		(*ContextualEntry).isNOP)
}

// Validate checks the shared structural invariants.
func (cx *Contextual) Validate() error {
	return checkStates(cx.States,
		func(e *ContextualEntry) string { return e.NewState },
		func(e *ContextualEntry) bool { return e.NoAdvance })
}

// RenameClasses renames classes in every row and in the class table.
func (cx *Contextual) RenameClasses(oldToNew map[string]string) {
	renameClassesIn(cx.States, cx.ClassTable, oldToNew)
}

// RenameStates renames states, both as row keys and as entry targets.
func (cx *Contextual) RenameStates(oldToNew map[string]string) {
	renameStatesIn(cx.States, oldToNew, func(e *ContextualEntry) *string { return &e.NewState })
}

const contextualHeaderLen = 20

// Write appends the subtable body (from the numClasses field on). The
// per-glyph substitution lookups are pooled and written behind an offset
// array; preferredLookupFormat pins their format (-1 picks the smallest).
func (cx *Contextual) Write(w *binlink.LinkedWriter, preferredLookupFormat int) error {
	if err := cx.Validate(); err != nil {
		return err
	}
	stateNames := stateNamesOf(cx.States)
	classNames := classNamesOf(cx.States)
	start := w.StakeCurrent()
	w.AddU32(uint32(len(classNames)))
	stakes := make([]binlink.Stake, 4)
	for i := range stakes {
		stakes[i] = w.NewStake()
		w.AddUnresolvedOffset(binlink.U32, start, stakes[i])
	}
	ctStake, saStake, etStake, gtStake := stakes[0], stakes[1], stakes[2], stakes[3]

	ns := nameStashOf(cx.States)
	if err := ns.Write(w, 2); err != nil {
		return err
	}
	_ = w.StakeHere(ctStake)
	if err := cx.ClassTable.Write(w, classNames, DefaultLookupOptions()); err != nil {
		return err
	}

	_ = w.StakeHere(saStake)
	type poolRec struct {
		index int
		entry *ContextualEntry
	}
	entryPool := make(map[string]poolRec)
	var poolOrder []*ContextualEntry
	for _, sn := range stateNames {
		row := cx.States[sn]
		for _, cn := range classNames {
			e := row[cn]
			key := e.immut()
			rec, ok := entryPool[key]
			if !ok {
				rec = poolRec{index: len(entryPool), entry: e}
				entryPool[key] = rec
				poolOrder = append(poolOrder, e)
			}
			w.AddU16(uint16(rec.index))
		}
	}

	_ = w.StakeHere(etStake)
	stateIndexOf := make(map[string]uint16, len(stateNames))
	for i, sn := range stateNames {
		stateIndexOf[sn] = uint16(i)
	}
	lookupPool := make(map[string]int)
	var lookupOrder []map[font.GlyphIndex]font.GlyphIndex
	poolIndexOf := func(m map[font.GlyphIndex]font.GlyphIndex) uint16 {
		key := substKey(m)
		idx, ok := lookupPool[key]
		if !ok {
			idx = len(lookupPool)
			lookupPool[key] = idx
			lookupOrder = append(lookupOrder, m)
		}
		return uint16(idx)
	}
	for _, e := range poolOrder {
		w.AddU16(stateIndexOf[e.NewState])
		var flags uint16
		if e.Mark {
			flags |= 0x8000
		}
		if e.NoAdvance {
			flags |= 0x4000
		}
		w.AddU16(flags)
		if len(e.MarkSubstitutions) > 0 {
			w.AddU16(poolIndexOf(e.MarkSubstitutions))
		} else {
			w.AddU16(0xFFFF)
		}
		if len(e.CurrSubstitutions) > 0 {
			w.AddU16(poolIndexOf(e.CurrSubstitutions))
		} else {
			w.AddU16(0xFFFF)
		}
	}

	_ = w.StakeHere(gtStake)
	lookupStakes := make([]binlink.Stake, len(lookupOrder))
	for i := range lookupOrder {
		lookupStakes[i] = w.NewStake()
		w.AddUnresolvedOffset(binlink.U32, gtStake, lookupStakes[i])
	}
	opts := DefaultLookupOptions()
	opts.PreferredFormat = preferredLookupFormat
	for i, m := range lookupOrder {
		_ = w.StakeHere(lookupStakes[i])
		raw := make(map[font.GlyphIndex]uint16, len(m))
		for g, out := range m {
			raw[g] = uint16(out)
		}
		if err := WriteLookup(w, raw, uint16(font.DeletedGlyph), opts); err != nil {
			return err
		}
	}
	return nil
}

// Binary serializes the subtable body into a fresh byte slice.
func (cx *Contextual) Binary() ([]byte, error) {
	w := binlink.NewWriter()
	if err := cx.Write(w, -1); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// Run processes a glyph run and returns the transformed run.
func (cx *Contextual) Run(run []font.RunGlyph) ([]font.RunGlyph, error) {
	v := append([]font.RunGlyph{}, run...)
	if len(v) == 0 {
		return v, nil
	}
	currState := StateStartOfText
	markIndex := -1
	i, delta, limit := 0, 1, len(v)
	if cx.Coverage.Reverse {
		i, delta, limit = len(v)-1, -1, -1
	}

	apply := func(e *ContextualEntry, pos int) error {
		if e.Mark {
			markIndex = pos
		}
		if out, ok := e.CurrSubstitutions[v[pos].ID]; ok {
			v[pos].ID = out
		}
		if len(e.MarkSubstitutions) > 0 {
			if markIndex < 0 {
				return fmt.Errorf("marked substitution fired before any glyph was marked")
			}
			if out, ok := e.MarkSubstitutions[v[markIndex].ID]; ok {
				v[markIndex].ID = out
			}
		}
		return nil
	}

	for i != limit {
		e := cx.States[currState][cx.ClassTable.classOf(v[i].ID)]
		if e == nil {
			return nil, fmt.Errorf("state %q has no entry for class %q",
				currState, cx.ClassTable.classOf(v[i].ID))
		}
		if err := apply(e, i); err != nil {
			return nil, err
		}
		currState = e.NewState
		if !e.NoAdvance {
			i += delta
		}
	}
	last := i - delta
	e := cx.States[currState][ClassEndOfText]
	if e == nil {
		return nil, fmt.Errorf("state %q has no entry for class %q", currState, ClassEndOfText)
	}
	if err := apply(e, last); err != nil {
		return nil, err
	}
	return v, nil
}

// --- Reading ---------------------------------------------------------------

// ReadContextual decodes the subtable body (starting at the numClasses
// field) without source validation.
func ReadContextual(data font.Seg, cov Coverage) (*Contextual, error) {
	an := &ctxAnalyzer{data: data}
	return an.read(cov)
}

// ReadContextualValidated decodes the subtable body with source
// validation, recording defects in rep.
func ReadContextualValidated(data font.Seg, cov Coverage, rep *font.Report) (*Contextual, error) {
	an := &ctxAnalyzer{data: data, rep: rep}
	return an.read(cov)
}

// Recovering the editable form needs the same kind of reachability walk as
// ligature reading: the per-glyph lookups are shared between entries, so
// which glyphs an entry can actually substitute depends on the glyph sets
// that can be current or marked when the entry fires.
type ctxAnalyzer struct {
	data font.Seg
	rep  *font.Report

	numClasses    int
	numStates     int
	entryTable    [][4]uint16
	classToGlyphs map[int][]font.GlyphIndex
	emptyClasses  map[int]bool
	stateArray    [][]uint16
	glyphLookups  []map[font.GlyphIndex]uint16
	offsets       []uint32

	analysis  map[string]bool
	markDicts map[int]map[font.GlyphIndex]font.GlyphIndex
	currDicts map[int]map[font.GlyphIndex]font.GlyphIndex
}

func (an *ctxAnalyzer) fail(code, issue string, offset uint32) error {
	if an.rep != nil {
		an.rep.AddError("contextual", code, issue, font.SeverityCritical, offset)
	}
	return fmt.Errorf("[contextual] %s: %s", code, issue)
}

func (an *ctxAnalyzer) read(cov Coverage) (*Contextual, error) {
	if err := an.buildInputs(); err != nil {
		return nil, err
	}
	an.analysis = make(map[string]bool)
	an.markDicts = make(map[int]map[font.GlyphIndex]font.GlyphIndex)
	an.currDicts = make(map[int]map[font.GlyphIndex]font.GlyphIndex)
	for _, start := range []int{0, 1} {
		if err := an.fillStateRecs(start, nil); err != nil {
			return nil, err
		}
	}

	ns := ReadNameStashOrMake(an.data, contextualHeaderLen, an.offsets,
		an.numStates, an.numClasses, an.rep)
	stateNames := ns.AllStateNames()
	classNames := ns.AllClassNames()
	for len(stateNames) < an.numStates {
		stateNames = append(stateNames, fmt.Sprintf("User state %d", len(stateNames)-1))
	}
	for len(classNames) < an.numClasses {
		classNames = append(classNames, fmt.Sprintf("User class %d", len(classNames)-3))
	}

	ctSeg, err := componentSeg(an.data, an.offsets[0], an.offsets)
	if err != nil {
		return nil, err
	}
	classTable, err := ReadClassTable(ctSeg, classNames, an.rep)
	if err != nil {
		return nil, err
	}

	cx := &Contextual{Coverage: cov, ClassTable: classTable,
		States: make(map[string]map[string]*ContextualEntry, an.numStates)}
	entryPool := make(map[uint16]*ContextualEntry)
	for si, rawRow := range an.stateArray {
		row := make(map[string]*ContextualEntry, an.numClasses)
		for ci, entryIndex := range rawRow {
			e, ok := entryPool[entryIndex]
			if !ok {
				t := an.entryTable[entryIndex]
				e = &ContextualEntry{
					NewState:          stateNames[t[0]],
					Mark:              t[1]&0x8000 != 0,
					NoAdvance:         t[1]&0x4000 != 0,
					MarkSubstitutions: an.markDicts[int(entryIndex)],
					CurrSubstitutions: an.currDicts[int(entryIndex)],
				}
				entryPool[entryIndex] = e
			}
			row[classNames[ci]] = e
		}
		cx.States[stateNames[si]] = row
	}
	return cx, nil
}

func (an *ctxAnalyzer) buildInputs() error {
	data := an.data
	if len(data) < contextualHeaderLen {
		return an.fail(font.CodeInsufficientBytes,
			fmt.Sprintf("contextual subtable header needs %d bytes, got %d",
				contextualHeaderLen, len(data)), 0)
	}
	an.numClasses = int(data.U32(0))
	if an.numClasses < 4 {
		return an.fail(font.CodeBadEnumValue,
			fmt.Sprintf("a state table needs at least four classes, got %d", an.numClasses), 0)
	}
	an.offsets = []uint32{data.U32(4), data.U32(8), data.U32(12), data.U32(16)}
	if err := checkComponentOffsets(data, contextualHeaderLen, an.offsets); err != nil {
		return an.fail(font.CodeOffsetOutOfBounds, err.Error(), 0)
	}
	segs := make([]font.Seg, 4)
	for i, o := range an.offsets {
		s, err := componentSeg(data, o, an.offsets)
		if err != nil {
			return an.fail(font.CodeOffsetOutOfBounds, err.Error(), o)
		}
		segs[i] = s
	}
	ctSeg, saSeg, etSeg, gtSeg := segs[0], segs[1], segs[2], segs[3]

	nEntries := len(etSeg) / 8
	if nEntries == 0 {
		return an.fail(font.CodeInsufficientBytes,
			"the entry table is missing or incomplete", an.offsets[2])
	}
	an.entryTable = make([][4]uint16, nEntries)
	maxNewState := 0
	for i := range an.entryTable {
		for j := 0; j < 4; j++ {
			an.entryTable[i][j] = etSeg.U16(8*i + 2*j)
		}
		if int(an.entryTable[i][0]) > maxNewState {
			maxNewState = int(an.entryTable[i][0])
		}
	}
	an.numStates = numStatesFor(len(saSeg), an.numClasses, maxNewState)

	classMap, err := ReadLookup(ctSeg, an.rep)
	if err != nil {
		return err
	}
	an.classToGlyphs = classToGlyphSets(classMap)
	an.emptyClasses = make(map[int]bool)
	for ci := 4; ci < an.numClasses; ci++ {
		if len(an.classToGlyphs[ci]) == 0 {
			an.emptyClasses[ci] = true
		}
	}

	if len(saSeg) < 2*an.numClasses*an.numStates {
		return an.fail(font.CodeInsufficientBytes,
			"the state array is missing or incomplete", an.offsets[1])
	}
	an.stateArray = make([][]uint16, an.numStates)
	for si := 0; si < an.numStates; si++ {
		row := make([]uint16, an.numClasses)
		for ci := 0; ci < an.numClasses; ci++ {
			row[ci] = saSeg.U16(2 * (si*an.numClasses + ci))
			if int(row[ci]) >= nEntries {
				return an.fail(font.CodeBadEnumValue,
					fmt.Sprintf("state %d, class %d names entry %d, but only %d entries exist",
						si, ci, row[ci], nEntries), an.offsets[1])
			}
		}
		an.stateArray[si] = row
	}

	numLookups := 0
	for _, t := range an.entryTable {
		for _, n := range t[2:4] {
			if n != 0xFFFF && int(n)+1 > numLookups {
				numLookups = int(n) + 1
			}
		}
	}
	if len(gtSeg) < 4*numLookups {
		return an.fail(font.CodeInsufficientBytes,
			"the offset header to the per-glyph lookup tables is missing or incomplete",
			an.offsets[3])
	}
	an.glyphLookups = make([]map[font.GlyphIndex]uint16, numLookups)
	for i := 0; i < numLookups; i++ {
		off := gtSeg.U32(4 * i)
		if int(off) >= len(gtSeg) {
			return an.fail(font.CodeOffsetOutOfBounds,
				fmt.Sprintf("per-glyph lookup %d starts at %d, past the table end", i, off),
				an.offsets[3])
		}
		lk, err := ReadLookup(gtSeg[off:], an.rep)
		if err != nil {
			return err
		}
		an.glyphLookups[i] = lk
	}
	return nil
}

func glyphSetOf(gs []font.GlyphIndex) string {
	return fmt.Sprintf("%v", gs)
}

func (an *ctxAnalyzer) fillStateRecs(stateIndex int, markSet []font.GlyphIndex) error {
	type branch struct {
		newState int
		markSet  []font.GlyphIndex
	}
	newToDo := make(map[string]branch)

	for classIndex, entryIndex := range an.stateArray[stateIndex] {
		if an.emptyClasses[classIndex] {
			continue
		}
		var currSet []font.GlyphIndex
		if classIndex != 0 && classIndex != 1 && classIndex != 3 {
			currSet = an.classToGlyphs[classIndex]
		}
		key := fmt.Sprintf("%d|%d|%s|%s",
			stateIndex, classIndex, glyphSetOf(markSet), glyphSetOf(currSet))
		if an.analysis[key] {
			continue
		}
		an.analysis[key] = true

		t := an.entryTable[entryIndex]
		newStateIndex := int(t[0])
		flags := t[1]
		markLookup, currLookup := t[2], t[3]

		newMarkSet := markSet
		if markLookup != 0xFFFF {
			if len(markSet) == 0 {
				return an.fail(font.CodeDanglingEntry,
					fmt.Sprintf("state %d, class %d substitutes the marked glyph, but no glyph can be marked here",
						stateIndex, classIndex), 0)
			}
			d := an.markDicts[int(entryIndex)]
			if d == nil {
				d = make(map[font.GlyphIndex]font.GlyphIndex)
				an.markDicts[int(entryIndex)] = d
			}
			var outs []font.GlyphIndex
			for _, g := range markSet {
				out := font.DeletedGlyph
				if v, ok := an.glyphLookups[markLookup][g]; ok {
					out = font.GlyphIndex(v)
				}
				d[g] = out
				outs = append(outs, out)
			}
			newMarkSet = dedupeGlyphs(outs)
		}
		newCurrSet := currSet
		if currLookup != 0xFFFF {
			if len(currSet) == 0 {
				return an.fail(font.CodeDanglingEntry,
					fmt.Sprintf("state %d, class %d substitutes the current glyph, but no glyph can be current here",
						stateIndex, classIndex), 0)
			}
			d := an.currDicts[int(entryIndex)]
			if d == nil {
				d = make(map[font.GlyphIndex]font.GlyphIndex)
				an.currDicts[int(entryIndex)] = d
			}
			var outs []font.GlyphIndex
			for _, g := range currSet {
				out := font.DeletedGlyph
				if v, ok := an.glyphLookups[currLookup][g]; ok {
					out = font.GlyphIndex(v)
				}
				d[g] = out
				outs = append(outs, out)
			}
			newCurrSet = dedupeGlyphs(outs)
		}

		if newStateIndex > 1 {
			if flags&0x8000 != 0 {
				// marking the deleted glyph and looping is a font bug;
				// stop the walk there
				if !(classIndex == 2 && newStateIndex == stateIndex) {
					b := branch{newState: newStateIndex, markSet: newCurrSet}
					newToDo[fmt.Sprintf("%d|%s", b.newState, glyphSetOf(b.markSet))] = b
				}
			} else {
				b := branch{newState: newStateIndex, markSet: newMarkSet}
				newToDo[fmt.Sprintf("%d|%s", b.newState, glyphSetOf(b.markSet))] = b
			}
		}
	}

	keys := make([]string, 0, len(newToDo))
	for k := range newToDo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b := newToDo[k]
		if err := an.fillStateRecs(b.newState, b.markSet); err != nil {
			return err
		}
	}
	return nil
}

func dedupeGlyphs(gs []font.GlyphIndex) []font.GlyphIndex {
	seen := make(map[font.GlyphIndex]bool, len(gs))
	out := gs[:0:0]
	for _, g := range gs {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
