package statetable

import (
	"fmt"
	"sort"
	"strings"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// LigatureAction maps one glyph sequence to a ligature. In lists the input
// glyphs leftmost first; Out is the same length, with the ligature in slot
// 0 and deleted-glyph sentinels in the rest.
type LigatureAction struct {
	In  []font.GlyphIndex
	Out []font.GlyphIndex
}

// LigatureEntry is one cell of a ligature state array.
type LigatureEntry struct {
	NewState  string
	Push      bool // push the current glyph onto the component stack
	NoAdvance bool // process the next state without advancing
	Actions   []LigatureAction
}

func newLigatureNOP() *LigatureEntry { return &LigatureEntry{NewState: StateStartOfText} }

func (e *LigatureEntry) isNOP() bool {
	return !e.Push && !e.NoAdvance && len(e.Actions) == 0 && e.NewState == StateStartOfText
}

// immut renders the entry as a canonical pooling key.
func (e *LigatureEntry) immut() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%t|%t", e.NewState, e.Push, e.NoAdvance)
	keys := make([]string, len(e.Actions))
	for i, a := range e.Actions {
		keys[i] = fmt.Sprintf("%v>%v", a.In, a.Out)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteByte(';')
		sb.WriteString(k)
	}
	return sb.String()
}

// Ligature is a 'morx' type 2 subtable: a state machine that collects
// glyphs on a stack and replaces matched sequences with ligature glyphs.
// States maps state name to a row of entries keyed by class name.
type Ligature struct {
	Coverage   Coverage
	ClassTable ClassTable
	States     map[string]map[string]*LigatureEntry
}

// NewLigature returns an empty subtable with the two fixed states present.
func NewLigature(cov Coverage) *Ligature {
	cov.Kind = 2
	return &Ligature{
		Coverage:   cov,
		ClassTable: make(ClassTable),
		States: map[string]map[string]*LigatureEntry{
			StateStartOfText: {},
			StateStartOfLine: {},
		},
	}
}

// Normalize fills in missing rows and cells so the table passes Validate:
// every row gets every class, user states loop on deleted glyphs, and
// classes that start a match from ground restart the match instead of
// falling through.
func (lg *Ligature) Normalize() {
	normalizeStates(lg.States, newLigatureNOP,
		func(s string) *LigatureEntry { return &LigatureEntry{NewState: s} },
		(*LigatureEntry).isNOP)
}

// Validate checks the structural invariants shared by all state tables
// plus the ligature-specific ones: consistent action shapes and canonical
// outputs.
func (lg *Ligature) Validate() error {
	err := checkStates(lg.States,
		func(e *LigatureEntry) string { return e.NewState },
		func(e *LigatureEntry) bool { return e.NoAdvance })
	if err != nil {
		return err
	}
	if len(classNamesOf(lg.States)) > 255 {
		return fmt.Errorf("ligature subtables are limited to 255 classes")
	}
	for stateName, row := range lg.States {
		for className, e := range row {
			if err := validateActions(e.Actions); err != nil {
				return fmt.Errorf("state %q, class %q: %w", stateName, className, err)
			}
		}
	}
	return nil
}

func validateActions(actions []LigatureAction) error {
	if len(actions) == 0 {
		return nil
	}
	n := len(actions[0].In)
	for _, a := range actions {
		if len(a.In) != n || len(a.Out) != n {
			return fmt.Errorf("inconsistent action lengths")
		}
		if n == 0 {
			return fmt.Errorf("empty action sequence")
		}
		if font.IsDeleted(a.Out[0]) {
			return fmt.Errorf("action output not in canonical form: first slot must hold the ligature")
		}
		for _, g := range a.Out[1:] {
			if !font.IsDeleted(g) {
				return fmt.Errorf("action output not in canonical form: trailing slots must be deleted")
			}
		}
	}
	return nil
}

// --- Writing ---------------------------------------------------------------

// ligActionRec is one pending entry of the ligature action list.
type ligActionRec struct {
	isLast bool
	delta  int64
}

// Write appends the subtable body (from the numClasses field on) to the
// writer. The caller has already written the 'morx' chain wrapper.
func (lg *Ligature) Write(w *binlink.LinkedWriter) error {
	if err := lg.Validate(); err != nil {
		return err
	}
	stateNames := stateNamesOf(lg.States)
	classNames := classNamesOf(lg.States)
	start := w.StakeCurrent()
	w.AddU32(uint32(len(classNames)))
	stakes := make([]binlink.Stake, 6)
	for i := range stakes {
		stakes[i] = w.NewStake()
		w.AddUnresolvedOffset(binlink.U32, start, stakes[i])
	}
	ctStake, saStake, etStake, laStake, cpStake, lgStake :=
		stakes[0], stakes[1], stakes[2], stakes[3], stakes[4], stakes[5]

	ns := nameStashOf(lg.States)
	if err := ns.Write(w, 2); err != nil {
		return err
	}
	_ = w.StakeHere(ctStake)
	if err := lg.ClassTable.Write(w, classNames, DefaultLookupOptions()); err != nil {
		return err
	}

	_ = w.StakeHere(saStake)
	type poolRec struct {
		index int
		entry *LigatureEntry
	}
	entryPool := make(map[string]poolRec)
	var poolOrder []*LigatureEntry
	for _, sn := range stateNames {
		row := lg.States[sn]
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
	var laList []ligActionRec
	cpDict := map[int]int64{0: 0}
	lgDict := make(map[int]font.GlyphIndex)
	for _, e := range poolOrder {
		w.AddU16(stateIndexOf[e.NewState])
		var flags uint16
		if e.Push {
			flags |= 0x8000
		}
		if e.NoAdvance {
			flags |= 0x4000
		}
		if len(e.Actions) > 0 {
			flags |= 0x2000
		}
		w.AddU16(flags)
		if len(e.Actions) > 0 {
			w.AddU16(uint16(len(laList)))
			if err := explodeActions(e.Actions, &laList, cpDict, lgDict); err != nil {
				return err
			}
		} else {
			w.AddU16(0)
		}
	}

	w.AlignToByteMultiple(4)
	_ = w.StakeHere(laStake)
	for _, rec := range laList {
		n := uint32(rec.delta) & 0x3FFFFFFF
		if rec.isLast {
			n |= 0x80000000
		}
		w.AddU32(n)
	}

	_ = w.StakeHere(cpStake)
	if err := writeIndexedU16(w, cpDict); err != nil {
		return fmt.Errorf("component table: %w", err)
	}
	_ = w.StakeHere(lgStake)
	lgAsInts := make(map[int]int64, len(lgDict))
	for k, v := range lgDict {
		lgAsInts[k] = int64(v)
	}
	if err := writeIndexedU16(w, lgAsInts); err != nil {
		return fmt.Errorf("ligature table: %w", err)
	}
	return nil
}

// Binary serializes the subtable body into a fresh byte slice.
func (lg *Ligature) Binary() ([]byte, error) {
	w := binlink.NewWriter()
	if err := lg.Write(w); err != nil {
		return nil, err
	}
	return w.Bytes()
}

func writeIndexedU16(w *binlink.LinkedWriter, d map[int]int64) error {
	maxKey := 0
	for k := range d {
		if k > maxKey {
			maxKey = k
		}
	}
	for i := 0; i <= maxKey; i++ {
		v := d[i]
		if v < 0 || v > 0xFFFF {
			return fmt.Errorf("value %d at index %d does not fit in 16 bits", v, i)
		}
		w.AddU16(uint16(v))
	}
	return nil
}

// explodeActions converts one entry's actions into shared ligature-action,
// component and ligature pool entries. The component and ligature tables
// act as overlapping sparse arrays; new runs are puzzle-fitted into the
// lowest holes, or reuse existing runs when values line up.
func explodeActions(actions []LigatureAction, laList *[]ligActionRec,
	cpDict map[int]int64, lgDict map[int]font.GlyphIndex) error {
	//
	inGroups := actionInGroups(actions)
	ligOf := make(map[string]font.GlyphIndex, len(actions))
	for _, a := range actions {
		ligOf[glyphKey(a.In)] = a.Out[0]
	}

	// enumerate the cartesian product, first position slowest
	sizes := make([]int, len(inGroups))
	total := 1
	for i, g := range inGroups {
		sizes[i] = len(g)
		total *= len(g)
	}
	tryDict := make(map[int]font.GlyphIndex)
	tuple := make([]font.GlyphIndex, len(inGroups))
	for idx := 0; idx < total; idx++ {
		rem := idx
		for i := len(inGroups) - 1; i >= 0; i-- {
			tuple[i] = inGroups[i][rem%sizes[i]]
			rem /= sizes[i]
		}
		if lig, ok := ligOf[glyphKey(tuple)]; ok {
			tryDict[idx] = lig
		}
	}

	puzzleSet := puzzleFitGlyphs(lgDict, tryDict)
	ligBase := minOfSet(puzzleSet)
	reusing := false
	for k := range puzzleSet {
		if _, ok := lgDict[k]; ok {
			reusing = true
			break
		}
	}
	if !reusing {
		for idx, lig := range tryDict {
			lgDict[ligBase+idx] = lig
		}
	}

	mult := int64(1)
	cpBases := make([]int, len(inGroups))
	for pi := len(inGroups) - 1; pi >= 0; pi-- {
		parts := inGroups[pi]
		keys := make([]int, len(parts))
		for i, g := range parts {
			keys[i] = int(g)
		}
		b := minOfSet(puzzleFitHole(cpDict, keys))
		cpBases[pi] = b
		for i, g := range parts {
			slot := int(g) - int(parts[0]) + b
			if pi > 0 {
				cpDict[slot] = mult * int64(i)
			} else {
				cpDict[slot] = int64(ligBase) + mult*int64(i)
			}
		}
		mult *= int64(len(parts))
	}
	for pi := len(inGroups) - 1; pi >= 0; pi-- {
		*laList = append(*laList, ligActionRec{
			isLast: pi == 0,
			delta:  int64(cpBases[pi]) - int64(inGroups[pi][0]),
		})
	}
	return nil
}

// actionInGroups collects, per input position, the sorted set of glyphs
// used there across all actions.
func actionInGroups(actions []LigatureAction) [][]font.GlyphIndex {
	if len(actions) == 0 {
		return nil
	}
	sets := make([]map[font.GlyphIndex]bool, len(actions[0].In))
	for i := range sets {
		sets[i] = make(map[font.GlyphIndex]bool)
	}
	for _, a := range actions {
		for i, g := range a.In {
			sets[i][g] = true
		}
	}
	groups := make([][]font.GlyphIndex, len(sets))
	for i, s := range sets {
		for g := range s {
			groups[i] = append(groups[i], g)
		}
		sort.Slice(groups[i], func(a, b int) bool { return groups[i][a] < groups[i][b] })
	}
	return groups
}

func glyphKey(gs []font.GlyphIndex) string {
	var sb strings.Builder
	for _, g := range gs {
		fmt.Fprintf(&sb, "%d,", g)
	}
	return sb.String()
}

// puzzleFitGlyphs places the keys of try into the sparse table d: if a
// shifted copy of try matches a run already in d key-for-key and
// value-for-value, that run's keys are returned for reuse; otherwise the
// lowest collision-free hole is found.
func puzzleFitGlyphs(d map[int]font.GlyphIndex, try map[int]font.GlyphIndex) map[int]bool {
	ksMin := minKey(try)
	if len(d) > 0 {
		dMax := 0
		for k := range d {
			if k > dMax {
				dMax = k
			}
		}
		shifted := make(map[int]font.GlyphIndex, len(try))
		for k, v := range try {
			shifted[k-ksMin] = v
		}
		for maxKey(shifted) <= dMax {
			match := true
			for k, v := range shifted {
				if dv, ok := d[k]; !ok || dv != v {
					match = false
					break
				}
			}
			if match {
				s := make(map[int]bool, len(shifted))
				for k := range shifted {
					s[k] = true
				}
				return s
			}
			next := make(map[int]font.GlyphIndex, len(shifted))
			for k, v := range shifted {
				next[k+1] = v
			}
			shifted = next
		}
	}
	keys := make([]int, 0, len(try))
	for k := range try {
		keys = append(keys, k)
	}
	occupied := make(map[int]bool, len(d))
	for k := range d {
		occupied[k] = true
	}
	return holeFit(occupied, keys, ksMin)
}

// puzzleFitHole finds the lowest hole in the occupied keys of d that fits
// the key set without collisions.
func puzzleFitHole(d map[int]int64, keys []int) map[int]bool {
	ksMin := keys[0]
	for _, k := range keys {
		if k < ksMin {
			ksMin = k
		}
	}
	occupied := make(map[int]bool, len(d))
	for k := range d {
		occupied[k] = true
	}
	return holeFit(occupied, keys, ksMin)
}

func holeFit(occupied map[int]bool, keys []int, ksMin int) map[int]bool {
	test := make(map[int]bool, len(keys))
	for _, k := range keys {
		test[k-ksMin] = true
	}
	for {
		collision := false
		for k := range test {
			if occupied[k] {
				collision = true
				break
			}
		}
		if !collision {
			return test
		}
		next := make(map[int]bool, len(test))
		for k := range test {
			next[k+1] = true
		}
		test = next
	}
}

func minKey[V any](m map[int]V) int {
	first := true
	min := 0
	for k := range m {
		if first || k < min {
			min, first = k, false
		}
	}
	return min
}

func maxKey[V any](m map[int]V) int {
	first := true
	max := 0
	for k := range m {
		if first || k > max {
			max, first = k, false
		}
	}
	return max
}

func minOfSet(s map[int]bool) int {
	first := true
	min := 0
	for k := range s {
		if first || k < min {
			min, first = k, false
		}
	}
	return min
}

// --- Renaming --------------------------------------------------------------

// RenameClasses renames classes in every row and in the class table. Names
// absent from oldToNew keep their name.
func (lg *Ligature) RenameClasses(oldToNew map[string]string) {
	renameClassesIn(lg.States, lg.ClassTable, oldToNew)
}

// RenameStates renames states, both as row keys and as entry targets.
func (lg *Ligature) RenameStates(oldToNew map[string]string) {
	renameStatesIn(lg.States, oldToNew, func(e *LigatureEntry) *string { return &e.NewState })
}

func renameClassesIn[E any](states map[string]map[string]E, ct ClassTable, oldToNew map[string]string) {
	rename := func(n string) string {
		if nn, ok := oldToNew[n]; ok {
			return nn
		}
		return n
	}
	for g, cn := range ct {
		ct[g] = rename(cn)
	}
	for sn, row := range states {
		newRow := make(map[string]E, len(row))
		for cn, e := range row {
			newRow[rename(cn)] = e
		}
		states[sn] = newRow
	}
}

func renameStatesIn[E any](states map[string]map[string]E, oldToNew map[string]string,
	target func(E) *string) {
	rename := func(n string) string {
		if nn, ok := oldToNew[n]; ok {
			return nn
		}
		return n
	}
	for _, row := range states {
		for _, e := range row {
			p := target(e)
			*p = rename(*p)
		}
	}
	renamed := make(map[string]map[string]E, len(states))
	for sn, row := range states {
		renamed[rename(sn)] = row
	}
	for sn := range states {
		delete(states, sn)
	}
	for sn, row := range renamed {
		states[sn] = row
	}
}

// --- Running ---------------------------------------------------------------

// Run processes a glyph run through the state machine and returns the
// transformed run. Matched sequences collapse into their ligature glyph at
// the position of the sequence's first glyph; the remaining positions
// become deleted glyphs.
func (lg *Ligature) Run(run []font.RunGlyph) ([]font.RunGlyph, error) {
	v := append([]font.RunGlyph{}, run...)
	if len(v) == 0 {
		return v, nil
	}
	type stackItem struct {
		pos   int
		glyph font.GlyphIndex
	}
	var stack []stackItem
	currState := StateStartOfText
	i, delta, limit := 0, 1, len(v)
	if lg.Coverage.Reverse {
		i, delta, limit = len(v)-1, -1, -1
	}
	var currGlyph font.GlyphIndex

	apply := func(e *LigatureEntry, pos int, g font.GlyphIndex) error {
		if e.Push {
			stack = append(stack, stackItem{pos: pos, glyph: g})
		}
		if len(e.Actions) == 0 {
			return nil
		}
		var match *LigatureAction
		deepEnough := false
		for ai := range e.Actions {
			a := &e.Actions[ai]
			if len(a.In) > len(stack) {
				continue
			}
			deepEnough = true
			ok := true
			for j, want := range a.In {
				if stack[len(stack)-len(a.In)+j].glyph != want {
					ok = false
					break
				}
			}
			if ok {
				if match != nil {
					return ErrAmbiguousMatch
				}
				match = a
			}
		}
		if match == nil {
			if !deepEnough {
				return ErrStackUnderflow
			}
			return nil
		}
		tracer().Debugf("%d glyphs on the stack form ligature %d", len(match.In), match.Out[0])
		piece := stack[len(stack)-len(match.Out):]
		stack = stack[:len(stack)-len(match.Out)]
		for j, out := range match.Out {
			v[piece[j].pos].ID = out
			if !font.IsDeleted(out) {
				stack = append(stack, stackItem{pos: piece[j].pos, glyph: out})
			}
		}
		return nil
	}

	for i != limit {
		currGlyph = v[i].ID
		e := lg.States[currState][lg.ClassTable.classOf(currGlyph)]
		if e == nil {
			return nil, fmt.Errorf("state %q has no entry for class %q",
				currState, lg.ClassTable.classOf(currGlyph))
		}
		if err := apply(e, i, currGlyph); err != nil {
			return nil, err
		}
		currState = e.NewState
		if !e.NoAdvance {
			i += delta
		}
	}
	e := lg.States[currState][ClassEndOfText]
	if e == nil {
		return nil, fmt.Errorf("state %q has no entry for class %q", currState, ClassEndOfText)
	}
	if err := apply(e, i, currGlyph); err != nil {
		return nil, err
	}
	return v, nil
}

// Trimmed returns a copy with actions the class table can never trigger
// removed: an action whose input glyph is not in the table (and is not a
// deleted sentinel) cannot match at run time. Ligatures formed by other
// actions count as reachable input glyphs, since they re-enter the stack
// for longer suffix matches ("o" + "ffi" + "c" + "e").
func (lg *Ligature) Trimmed() *Ligature {
	producible := make(map[font.GlyphIndex]bool)
	for _, row := range lg.States {
		for _, e := range row {
			for _, a := range e.Actions {
				producible[a.Out[0]] = true
			}
		}
	}
	out := &Ligature{
		Coverage:   lg.Coverage,
		ClassTable: make(ClassTable, len(lg.ClassTable)),
		States:     make(map[string]map[string]*LigatureEntry, len(lg.States)),
	}
	for g, cn := range lg.ClassTable {
		out.ClassTable[g] = cn
	}
	for sn, row := range lg.States {
		newRow := make(map[string]*LigatureEntry, len(row))
		for cn, e := range row {
			ne := &LigatureEntry{NewState: e.NewState, Push: e.Push, NoAdvance: e.NoAdvance}
			for _, a := range e.Actions {
				valid := true
				for _, g := range a.In {
					if _, ok := lg.ClassTable[g]; !ok && !font.IsDeleted(g) && !producible[g] {
						valid = false
						break
					}
				}
				if valid {
					ne.Actions = append(ne.Actions, LigatureAction{
						In:  append([]font.GlyphIndex{}, a.In...),
						Out: append([]font.GlyphIndex{}, a.Out...),
					})
				}
			}
			newRow[cn] = ne
		}
		out.States[sn] = newRow
	}
	return out
}
