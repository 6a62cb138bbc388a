package statetable

import (
	"fmt"
	"sort"
	"strings"

	"github.com/npillmayer/fontbuild/font"
)

// Reading a ligature subtable back into editable form requires more than
// field decoding: the binary melds all entries' actions into shared
// component and ligature pools, so the per-entry glyph sequences have to
// be recovered by walking every reachable path through the state machine
// and simulating the component stack symbolically (sets of possible
// glyphs instead of single glyphs).

const ligatureHeaderLen = 28

type ligAnalyzer struct {
	data        font.Seg
	rep         *font.Report
	forceToBase bool

	numClasses    int
	numStates     int
	entryTable    [][3]uint16
	classMap      map[font.GlyphIndex]uint16
	classToGlyphs map[int][]font.GlyphIndex
	stateArray    [][]uint16
	ligActions    []uint32
	compIndices   []uint16
	ligatures     []uint16
	offsets       []uint32

	analysis   map[string]bool
	finalDicts map[[2]int][]LigatureAction
}

// ReadLigature decodes the subtable body (starting at the numClasses
// field) without source validation.
func ReadLigature(data font.Seg, cov Coverage) (*Ligature, error) {
	an := &ligAnalyzer{data: data}
	return an.read(cov)
}

// ReadLigatureValidated decodes the subtable body with source validation,
// recording defects in rep. With forceToBase, entries that perform
// ligature substitution without returning to the ground state are
// rewritten to do so.
func ReadLigatureValidated(data font.Seg, cov Coverage, forceToBase bool,
	rep *font.Report) (*Ligature, error) {
	//
	an := &ligAnalyzer{data: data, rep: rep, forceToBase: forceToBase}
	return an.read(cov)
}

func (an *ligAnalyzer) read(cov Coverage) (*Ligature, error) {
	if err := an.buildInputs(); err != nil {
		return nil, err
	}
	an.analysis = make(map[string]bool)
	an.finalDicts = make(map[[2]int][]LigatureAction)
	for _, start := range []int{0, 1} {
		if err := an.fillStateRecs(start, nil); err != nil {
			return nil, err
		}
	}

	ns := ReadNameStashOrMake(an.data, ligatureHeaderLen, an.offsets,
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

	lg := &Ligature{Coverage: cov, ClassTable: classTable,
		States: make(map[string]map[string]*LigatureEntry)}
	entryPool := make(map[uint16]*LigatureEntry)
	for si, rawRow := range an.stateArray {
		row := make(map[string]*LigatureEntry, an.numClasses)
		for ci, entryIndex := range rawRow {
			e, ok := entryPool[entryIndex]
			if !ok {
				t := an.entryTable[entryIndex]
				e = &LigatureEntry{
					NewState:  stateNames[t[0]],
					Push:      t[1]&0x8000 != 0,
					NoAdvance: t[1]&0x4000 != 0,
				}
				entryPool[entryIndex] = e
			}
			for _, a := range an.finalDicts[[2]int{si, ci}] {
				if !hasAction(e.Actions, a.In) {
					e.Actions = append(e.Actions, a)
				}
			}
			row[classNames[ci]] = e
		}
		lg.States[stateNames[si]] = row
	}
	tracer().Debugf("decoded ligature automaton with %d states over %d classes",
		an.numStates, an.numClasses)
	return lg.Trimmed(), nil
}

func hasAction(actions []LigatureAction, in []font.GlyphIndex) bool {
	key := glyphKey(in)
	for _, a := range actions {
		if glyphKey(a.In) == key {
			return true
		}
	}
	return false
}

func (an *ligAnalyzer) fail(code, issue string, offset uint32) error {
	if an.rep != nil {
		an.rep.AddError("ligature", code, issue, font.SeverityCritical, offset)
	}
	return fmt.Errorf("[ligature] %s: %s", code, issue)
}

func (an *ligAnalyzer) buildInputs() error {
	data := an.data
	if len(data) < ligatureHeaderLen {
		return an.fail(font.CodeInsufficientBytes,
			fmt.Sprintf("ligature subtable header needs %d bytes, got %d",
				ligatureHeaderLen, len(data)), 0)
	}
	an.numClasses = int(data.U32(0))
	if an.numClasses < 4 {
		return an.fail(font.CodeBadEnumValue,
			fmt.Sprintf("a state table needs at least four classes, got %d", an.numClasses), 0)
	}
	an.offsets = []uint32{data.U32(4), data.U32(8), data.U32(12),
		data.U32(16), data.U32(20), data.U32(24)}
	if err := checkComponentOffsets(data, ligatureHeaderLen, an.offsets); err != nil {
		return an.fail(font.CodeOffsetOutOfBounds, err.Error(), 0)
	}
	segs := make([]font.Seg, 6)
	for i, o := range an.offsets {
		s, err := componentSeg(data, o, an.offsets)
		if err != nil {
			return an.fail(font.CodeOffsetOutOfBounds, err.Error(), o)
		}
		segs[i] = s
	}
	ctSeg, saSeg, etSeg, laSeg, cpSeg, lgSeg := segs[0], segs[1], segs[2], segs[3], segs[4], segs[5]

	nEntries := len(etSeg) / 6
	if nEntries == 0 {
		return an.fail(font.CodeInsufficientBytes,
			"the entry table is missing or incomplete", an.offsets[2])
	}
	an.entryTable = make([][3]uint16, nEntries)
	maxNewState := 0
	for i := 0; i < nEntries; i++ {
		an.entryTable[i] = [3]uint16{etSeg.U16(6 * i), etSeg.U16(6*i + 2), etSeg.U16(6*i + 4)}
		if int(an.entryTable[i][0]) > maxNewState {
			maxNewState = int(an.entryTable[i][0])
		}
	}
	an.numStates = numStatesFor(len(saSeg), an.numClasses, maxNewState)

	var err error
	an.classMap, err = ReadLookup(ctSeg, an.rep)
	if err != nil {
		return err
	}
	an.classToGlyphs = classToGlyphSets(an.classMap)

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

	an.ligActions = make([]uint32, len(laSeg)/4)
	for i := range an.ligActions {
		an.ligActions[i] = laSeg.U32(4 * i)
	}
	if len(an.ligActions) == 0 {
		return an.fail(font.CodeEmptyTable,
			"the ligature action list is missing or incomplete", an.offsets[3])
	}
	an.compIndices = u16Rest(cpSeg)
	if len(an.compIndices) == 0 {
		return an.fail(font.CodeEmptyTable,
			"the component table is missing or incomplete", an.offsets[4])
	}
	an.ligatures = u16Rest(lgSeg)
	if len(an.ligatures) == 0 {
		return an.fail(font.CodeEmptyTable,
			"the ligature table is missing or incomplete", an.offsets[5])
	}
	return nil
}

// u16Rest decodes the segment as a dense array of 16-bit values.
func u16Rest(s font.Seg) []uint16 {
	out := make([]uint16, len(s)/2)
	for i := range out {
		out[i] = s.U16(2 * i)
	}
	return out
}

// glyphSet is one symbolic stack slot: the set of glyphs that may occupy
// it, sorted ascending.
type glyphSet []font.GlyphIndex

func stackKey(stack []glyphSet) string {
	var sb strings.Builder
	for _, s := range stack {
		fmt.Fprintf(&sb, "%v/", s)
	}
	return sb.String()
}

func (an *ligAnalyzer) fillStateRecs(stateIndex int, incoming []glyphSet) error {
	type branch struct {
		newState int
		stack    []glyphSet
	}
	deepToDo := make(map[string]branch)

	for classIndex, entryIndex := range an.stateArray[stateIndex] {
		stack := append([]glyphSet{}, incoming...)
		var classGlyphs glyphSet
		if classIndex != 0 && classIndex != 1 && classIndex != 3 {
			classGlyphs = an.classToGlyphs[classIndex]
		}
		newStateIndex := int(an.entryTable[entryIndex][0])
		flags := an.entryTable[entryIndex][1]
		laFirst := int(an.entryTable[entryIndex][2])

		if flags&0x2000 != 0 && newStateIndex > 1 {
			if an.rep != nil {
				an.rep.AddWarning("ligature",
					fmt.Sprintf("the entry for state %d, class %d does ligature substitution but does not lead back to the ground state",
						stateIndex, classIndex), 0)
			}
			if an.forceToBase {
				newStateIndex = 0
				an.entryTable[entryIndex][0] = 0
			}
		}

		if flags&0x8000 != 0 {
			stack = append(stack, classGlyphs)
		}

		var key string
		count := 0
		if flags&0x2000 != 0 {
			laLast := -1
			for i := laFirst; i < len(an.ligActions); i++ {
				if an.ligActions[i]&0x80000000 != 0 {
					laLast = i
					break
				}
			}
			if laLast < 0 {
				return an.fail(font.CodeDanglingEntry,
					fmt.Sprintf("the action list starting at index %d never ends", laFirst), 0)
			}
			count = laLast - laFirst + 1
			if count > len(stack) {
				return an.fail(font.CodeBadEnumValue,
					fmt.Sprintf("state %d, class %d consumes %d glyphs with only %d on the stack",
						stateIndex, classIndex, count, len(stack)), 0)
			}
			key = fmt.Sprintf("%d|%d|%s", stateIndex, classIndex, stackKey(stack[len(stack)-count:]))
		} else {
			key = fmt.Sprintf("%d|%d", stateIndex, classIndex)
		}

		if an.analysis[key] {
			continue
		}
		an.analysis[key] = true

		stacks := make(map[string][]glyphSet)
		if flags&0x2000 != 0 {
			if err := an.resolveActions(stateIndex, classIndex, laFirst, count, stack, stacks); err != nil {
				return err
			}
		} else {
			stacks[stackKey(stack)] = stack
		}

		if newStateIndex > 1 && !(classIndex == 2 && newStateIndex == stateIndex) {
			for _, s := range stacks {
				b := branch{newState: newStateIndex, stack: s}
				deepToDo[fmt.Sprintf("%d|%s", newStateIndex, stackKey(s))] = b
			}
		}
	}

	keys := make([]string, 0, len(deepToDo))
	for k := range deepToDo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b := deepToDo[k]
		if err := an.fillStateRecs(b.newState, b.stack); err != nil {
			return err
		}
	}
	return nil
}

// resolveActions enumerates every concrete glyph tuple the top count stack
// slots can hold, follows the pooled action list for each, and records the
// recovered input/output sequences for the (state, class) cell.
func (an *ligAnalyzer) resolveActions(stateIndex, classIndex, laFirst, count int,
	stack []glyphSet, stacks map[string][]glyphSet) error {
	//
	top := make([]glyphSet, count) // [0] is the stack top
	for i := 0; i < count; i++ {
		top[i] = stack[len(stack)-1-i]
	}
	sizes := make([]int, count)
	total := 1
	for i, s := range top {
		sizes[i] = len(s)
		total *= len(s)
	}
	if total == 0 {
		return nil // an unreachable combination, nothing to record
	}
	actions := an.ligActions[laFirst : laFirst+count]
	inTuple := make([]font.GlyphIndex, count)
	for idx := 0; idx < total; idx++ {
		rem := idx
		for i := count - 1; i >= 0; i-- {
			inTuple[i] = top[i][rem%sizes[i]]
			rem /= sizes[i]
		}
		outList := make([]font.GlyphIndex, 0, count)
		backToStack := make([]glyphSet, 0, count)
		cumulIndex := 0
		for i, action := range actions {
			cIndex := int64(action & 0x3FFFFFFF)
			if cIndex >= 0x20000000 {
				cIndex -= 0x40000000
			}
			cIndex += int64(inTuple[i])
			if cIndex < 0 || cIndex >= int64(len(an.compIndices)) {
				return an.fail(font.CodeOffsetOutOfBounds,
					fmt.Sprintf("a ligature action in state %d, class %d is out of range",
						stateIndex, classIndex), 0)
			}
			cumulIndex += int(an.compIndices[cIndex])
			if action&0xC0000000 != 0 {
				if cumulIndex < 0 || cumulIndex >= len(an.ligatures) {
					return an.fail(font.CodeOffsetOutOfBounds,
						fmt.Sprintf("a ligature index in state %d, class %d is out of range",
							stateIndex, classIndex), 0)
				}
				lig := font.GlyphIndex(an.ligatures[cumulIndex])
				outList = append(outList, lig)
				backToStack = append(backToStack, glyphSet{lig})
			} else {
				outList = append(outList, font.DeletedGlyph)
			}
		}
		in := make([]font.GlyphIndex, count)
		out := make([]font.GlyphIndex, count)
		for i := 0; i < count; i++ {
			in[i] = inTuple[count-1-i]
			out[i] = outList[count-1-i]
		}
		cell := [2]int{stateIndex, classIndex}
		if !hasAction(an.finalDicts[cell], in) {
			an.finalDicts[cell] = append(an.finalDicts[cell], LigatureAction{In: in, Out: out})
		}
		altered := append([]glyphSet{}, stack[:len(stack)-count]...)
		for i := len(backToStack) - 1; i >= 0; i-- {
			altered = append(altered, backToStack[i])
		}
		stacks[stackKey(altered)] = altered
	}
	return nil
}
