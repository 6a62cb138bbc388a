package statetable

import (
	"fmt"
	"sort"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// InsertionEntry is one cell of an insertion state array. Two independent
// insertions can fire per transition: one relative to the current glyph
// and one relative to the most recently marked glyph.
type InsertionEntry struct {
	NewState             string
	Mark                 bool
	NoAdvance            bool
	CurrentInsertGlyphs  []font.GlyphIndex
	MarkedInsertGlyphs   []font.GlyphIndex
	CurrentIsKashidaLike bool
	MarkedIsKashidaLike  bool
	CurrentInsertBefore  bool
	MarkedInsertBefore   bool
}

func newInsertionNOP() *InsertionEntry { return &InsertionEntry{NewState: StateStartOfText} }

func (e *InsertionEntry) isNOP() bool {
	return e.NewState == StateStartOfText && !e.Mark && !e.NoAdvance &&
		len(e.CurrentInsertGlyphs) == 0 && len(e.MarkedInsertGlyphs) == 0
}

func (e *InsertionEntry) immut() string {
	return fmt.Sprintf("%s|%t|%t|%v|%v|%t|%t|%t|%t",
		e.NewState, e.Mark, e.NoAdvance,
		e.CurrentInsertGlyphs, e.MarkedInsertGlyphs,
		e.CurrentIsKashidaLike, e.MarkedIsKashidaLike,
		e.CurrentInsertBefore, e.MarkedInsertBefore)
}

// Insertion is a 'morx' type 5 subtable: a state machine that inserts
// glyph sequences next to the current or a marked glyph.
type Insertion struct {
	Coverage   Coverage
	ClassTable ClassTable
	States     map[string]map[string]*InsertionEntry
}

// NewInsertion returns an empty subtable with the two fixed states present.
func NewInsertion(cov Coverage) *Insertion {
	cov.Kind = 5
	return &Insertion{
		Coverage:   cov,
		ClassTable: make(ClassTable),
		States: map[string]map[string]*InsertionEntry{
			StateStartOfText: {},
			StateStartOfLine: {},
		},
	}
}

// InsertionFromGlyphMap builds a single-state subtable that inserts the
// mapped sequence after each trigger glyph.
func InsertionFromGlyphMap(d map[font.GlyphIndex][]font.GlyphIndex) *Insertion {
	ins := NewInsertion(Coverage{Kind: 5})
	for g, seq := range d {
		className := fmt.Sprintf("glyph %d", g)
		ins.ClassTable[g] = className
		ins.States[StateStartOfText][className] = &InsertionEntry{
			NewState:             StateStartOfText,
			CurrentInsertGlyphs:  append([]font.GlyphIndex{}, seq...),
			CurrentIsKashidaLike: true,
		}
	}
	ins.Normalize()
	return ins
}

// Normalize fills in missing rows and cells; see Ligature.Normalize.
func (ins *Insertion) Normalize() {
	normalizeStates(ins.States, newInsertionNOP,
		func(s string) *InsertionEntry { return &InsertionEntry{NewState: s} },
		(*InsertionEntry).isNOP)
}

// Validate checks the shared structural invariants plus the 31-glyph
// insertion limits of the wire format.
func (ins *Insertion) Validate() error {
	err := checkStates(ins.States,
		func(e *InsertionEntry) string { return e.NewState },
		func(e *InsertionEntry) bool { return e.NoAdvance })
	if err != nil {
		return err
	}
	for stateName, row := range ins.States {
		for className, e := range row {
			if len(e.CurrentInsertGlyphs) > 31 || len(e.MarkedInsertGlyphs) > 31 {
				return fmt.Errorf("state %q, class %q: at most 31 glyphs can be inserted per transition",
					stateName, className)
			}
		}
	}
	return nil
}

// RenameClasses renames classes in every row and in the class table.
func (ins *Insertion) RenameClasses(oldToNew map[string]string) {
	renameClassesIn(ins.States, ins.ClassTable, oldToNew)
}

// RenameStates renames states, both as row keys and as entry targets.
func (ins *Insertion) RenameStates(oldToNew map[string]string) {
	renameStatesIn(ins.States, oldToNew, func(e *InsertionEntry) *string { return &e.NewState })
}

const insertionHeaderLen = 20

// Write appends the subtable body (from the numClasses field on).
func (ins *Insertion) Write(w *binlink.LinkedWriter) error {
	if err := ins.Validate(); err != nil {
		return err
	}
	stateNames := stateNamesOf(ins.States)
	classNames := classNamesOf(ins.States)
	start := w.StakeCurrent()
	w.Add(0, 0) // padding, per the 'morx' layout
	w.AddU16(uint16(len(classNames)))
	stakes := make([]binlink.Stake, 4)
	for i := range stakes {
		stakes[i] = w.NewStake()
		w.AddUnresolvedOffset(binlink.U32, start, stakes[i])
	}
	ctStake, saStake, etStake, igStake := stakes[0], stakes[1], stakes[2], stakes[3]

	ns := nameStashOf(ins.States)
	if err := ns.Write(w, 2); err != nil {
		return err
	}
	_ = w.StakeHere(ctStake)
	if err := ins.ClassTable.Write(w, classNames, DefaultLookupOptions()); err != nil {
		return err
	}

	_ = w.StakeHere(saStake)
	type poolRec struct {
		index int
		entry *InsertionEntry
	}
	entryPool := make(map[string]poolRec)
	var poolOrder []*InsertionEntry
	for _, sn := range stateNames {
		row := ins.States[sn]
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
	var glyphPool []font.GlyphIndex
	poolIndexOf := func(seq []font.GlyphIndex) uint16 {
		if idx := findSubsequence(glyphPool, seq); idx >= 0 {
			return uint16(idx)
		}
		idx := len(glyphPool)
		glyphPool = append(glyphPool, seq...)
		return uint16(idx)
	}
	for _, e := range poolOrder {
		w.AddU16(stateIndexOf[e.NewState])
		var flags uint16
		currIndex, markIndex := uint16(0xFFFF), uint16(0xFFFF)
		if e.Mark {
			flags |= 0x8000
		}
		if e.NoAdvance {
			flags |= 0x4000
		}
		if len(e.CurrentInsertGlyphs) > 0 {
			currIndex = poolIndexOf(e.CurrentInsertGlyphs)
			if e.CurrentIsKashidaLike {
				flags |= 0x2000
			}
			if e.CurrentInsertBefore {
				flags |= 0x0800
			}
			flags |= uint16(len(e.CurrentInsertGlyphs)) << 5
		}
		if len(e.MarkedInsertGlyphs) > 0 {
			markIndex = poolIndexOf(e.MarkedInsertGlyphs)
			if e.MarkedIsKashidaLike {
				flags |= 0x1000
			}
			if e.MarkedInsertBefore {
				flags |= 0x0400
			}
			flags |= uint16(len(e.MarkedInsertGlyphs))
		}
		w.AddU16(flags)
		w.AddU16(currIndex)
		w.AddU16(markIndex)
	}

	_ = w.StakeHere(igStake)
	for _, g := range glyphPool {
		w.AddU16(uint16(g))
	}
	return nil
}

// Binary serializes the subtable body into a fresh byte slice.
func (ins *Insertion) Binary() ([]byte, error) {
	w := binlink.NewWriter()
	if err := ins.Write(w); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// findSubsequence returns the index of the first occurrence of seq inside
// pool, or -1. Reusing overlapping runs keeps the insertion glyph table
// small.
func findSubsequence(pool, seq []font.GlyphIndex) int {
	if len(seq) == 0 || len(seq) > len(pool) {
		return -1
	}
outer:
	for i := 0; i+len(seq) <= len(pool); i++ {
		for j, g := range seq {
			if pool[i+j] != g {
				continue outer
			}
		}
		return i
	}
	return -1
}

// glyphRange copies count entries of the insertion glyph pool, starting
// at first, into glyph indices.
func glyphRange(pool []uint16, first, count int) []font.GlyphIndex {
	out := make([]font.GlyphIndex, count)
	for i := range out {
		out[i] = font.GlyphIndex(pool[first+i])
	}
	return out
}

// ReadInsertion decodes the subtable body (starting at the padded
// numClasses field) without source validation.
func ReadInsertion(data font.Seg, cov Coverage) (*Insertion, error) {
	return readInsertion(data, cov, nil)
}

// ReadInsertionValidated decodes the subtable body with source validation,
// recording defects in rep.
func ReadInsertionValidated(data font.Seg, cov Coverage, rep *font.Report) (*Insertion, error) {
	return readInsertion(data, cov, rep)
}

func readInsertion(data font.Seg, cov Coverage, rep *font.Report) (*Insertion, error) {
	fail := func(code, issue string, offset uint32) error {
		if rep != nil {
			rep.AddError("insertion", code, issue, font.SeverityCritical, offset)
		}
		return fmt.Errorf("[insertion] %s: %s", code, issue)
	}
	if len(data) < insertionHeaderLen {
		return nil, fail(font.CodeInsufficientBytes,
			fmt.Sprintf("insertion subtable header needs %d bytes, got %d",
				insertionHeaderLen, len(data)), 0)
	}
	numClasses := int(data.U16(2))
	if numClasses < 4 {
		return nil, fail(font.CodeBadEnumValue,
			fmt.Sprintf("a state table needs at least four classes, got %d", numClasses), 0)
	}
	offsets := []uint32{data.U32(4), data.U32(8), data.U32(12), data.U32(16)}
	if err := checkComponentOffsets(data, insertionHeaderLen, offsets); err != nil {
		return nil, fail(font.CodeOffsetOutOfBounds, err.Error(), 0)
	}
	segs := make([]font.Seg, 4)
	for i, o := range offsets {
		s, err := componentSeg(data, o, offsets)
		if err != nil {
			return nil, fail(font.CodeOffsetOutOfBounds, err.Error(), o)
		}
		segs[i] = s
	}
	ctSeg, saSeg, etSeg, igSeg := segs[0], segs[1], segs[2], segs[3]

	nEntries := len(etSeg) / 8
	if nEntries == 0 {
		return nil, fail(font.CodeInsufficientBytes,
			"the entry table is missing or incomplete", offsets[2])
	}
	rawEntries := make([][4]uint16, nEntries)
	maxNewState := 0
	for i := range rawEntries {
		for j := 0; j < 4; j++ {
			rawEntries[i][j] = etSeg.U16(8*i + 2*j)
		}
		if int(rawEntries[i][0]) > maxNewState {
			maxNewState = int(rawEntries[i][0])
		}
	}
	numStates := numStatesFor(len(saSeg), numClasses, maxNewState)
	insertionGlyphs := u16Rest(igSeg)

	ns := ReadNameStashOrMake(data, insertionHeaderLen, offsets, numStates, numClasses, rep)
	stateNames := ns.AllStateNames()
	classNames := ns.AllClassNames()
	for len(stateNames) < numStates {
		stateNames = append(stateNames, fmt.Sprintf("User state %d", len(stateNames)-1))
	}
	for len(classNames) < numClasses {
		classNames = append(classNames, fmt.Sprintf("User class %d", len(classNames)-3))
	}

	entries := make([]*InsertionEntry, nEntries)
	for i, raw := range rawEntries {
		flags := raw[1]
		currCount := int(flags&0x03E0) >> 5
		markCount := int(flags & 0x001F)
		e := &InsertionEntry{
			NewState:             stateNames[raw[0]],
			Mark:                 flags&0x8000 != 0,
			NoAdvance:            flags&0x4000 != 0,
			CurrentIsKashidaLike: flags&0x2000 != 0,
			MarkedIsKashidaLike:  flags&0x1000 != 0,
			CurrentInsertBefore:  flags&0x0800 != 0,
			MarkedInsertBefore:   flags&0x0400 != 0,
		}
		if currCount > 0 {
			first := int(raw[2])
			if first+currCount > len(insertionGlyphs) {
				return nil, fail(font.CodeOffsetOutOfBounds,
					fmt.Sprintf("entry %d inserts %d glyphs from pool index %d, past the pool end",
						i, currCount, first), offsets[3])
			}
			e.CurrentInsertGlyphs = glyphRange(insertionGlyphs, first, currCount)
		}
		if markCount > 0 {
			first := int(raw[3])
			if first+markCount > len(insertionGlyphs) {
				return nil, fail(font.CodeOffsetOutOfBounds,
					fmt.Sprintf("entry %d inserts %d glyphs from pool index %d, past the pool end",
						i, markCount, first), offsets[3])
			}
			e.MarkedInsertGlyphs = glyphRange(insertionGlyphs, first, markCount)
		}
		entries[i] = e
	}

	classTable, err := ReadClassTable(ctSeg, classNames, rep)
	if err != nil {
		return nil, err
	}

	if len(saSeg) < 2*numClasses*numStates {
		return nil, fail(font.CodeInsufficientBytes,
			"the state array is missing or incomplete", offsets[1])
	}
	ins := &Insertion{Coverage: cov, ClassTable: classTable,
		States: make(map[string]map[string]*InsertionEntry, numStates)}
	for si := 0; si < numStates; si++ {
		row := make(map[string]*InsertionEntry, numClasses)
		for ci := 0; ci < numClasses; ci++ {
			entryIndex := int(saSeg.U16(2 * (si*numClasses + ci)))
			if entryIndex >= nEntries {
				return nil, fail(font.CodeBadEnumValue,
					fmt.Sprintf("state %d, class %d names entry %d, but only %d entries exist",
						si, ci, entryIndex, nEntries), offsets[1])
			}
			row[classNames[ci]] = entries[entryIndex]
		}
		ins.States[stateNames[si]] = row
	}
	return ins, nil
}

// Run processes a glyph run and returns the transformed run. Inserted
// glyphs carry an Orig index of -1.
func (ins *Insertion) Run(run []font.RunGlyph) ([]font.RunGlyph, error) {
	v := append([]font.RunGlyph{}, run...)
	if len(v) == 0 {
		return v, nil
	}
	currState := StateStartOfText
	markIndex := -1
	i, delta, limit := 0, 1, len(v)
	if ins.Coverage.Reverse {
		i, delta, limit = len(v)-1, -1, -1
	}

	apply := func(e *InsertionEntry, atEnd bool) error {
		if e.Mark {
			markIndex = i
		}
		// staged as: insert after this index
		toBeInserted := make(map[int][]font.GlyphIndex)
		if len(e.CurrentInsertGlyphs) > 0 {
			place := i
			if e.CurrentInsertBefore {
				place = i - 1
			}
			toBeInserted[place] = e.CurrentInsertGlyphs
		}
		if len(e.MarkedInsertGlyphs) > 0 {
			if markIndex < 0 {
				return fmt.Errorf("marked insertion fired before any glyph was marked")
			}
			place := markIndex
			if e.MarkedInsertBefore {
				place = markIndex - 1
			}
			if _, dup := toBeInserted[place]; dup {
				return ErrMultipleInsertions
			}
			toBeInserted[place] = e.MarkedInsertGlyphs
		}
		places := make([]int, 0, len(toBeInserted))
		for p := range toBeInserted {
			places = append(places, p)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(places)))
		for _, place := range places {
			glyphs := toBeInserted[place]
			// the end-of-text flush can stage a splice point past either
			// end of the stream; those insertions land at the boundary
			if place >= len(v) {
				place = len(v) - 1
			} else if place < -1 {
				place = -1
			}
			piece := make([]font.RunGlyph, len(glyphs))
			for j, g := range glyphs {
				piece[j] = font.RunGlyph{Orig: -1, ID: g}
			}
			v = append(v[:place+1], append(piece, v[place+1:]...)...)
			if !atEnd {
				limit += len(piece)
				if place < i {
					i += len(piece)
				}
			}
		}
		return nil
	}

	for i != limit {
		e := ins.States[currState][ins.ClassTable.classOf(v[i].ID)]
		if e == nil {
			return nil, fmt.Errorf("state %q has no entry for class %q",
				currState, ins.ClassTable.classOf(v[i].ID))
		}
		if err := apply(e, false); err != nil {
			return nil, err
		}
		currState = e.NewState
		if !e.NoAdvance {
			i += delta
		}
	}
	e := ins.States[currState][ClassEndOfText]
	if e == nil {
		return nil, fmt.Errorf("state %q has no entry for class %q", currState, ClassEndOfText)
	}
	if err := apply(e, true); err != nil {
		return nil, err
	}
	return v, nil
}
