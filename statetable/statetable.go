package statetable

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/npillmayer/fontbuild/font"
)

// Fixed state names. Every state table has these two states.
const (
	StateStartOfText = "Start of text"
	StateStartOfLine = "Start of line"
)

// Fixed class names, occupying class indices 0 through 3.
const (
	ClassEndOfText    = "End of text"
	ClassOutOfBounds  = "Out of bounds"
	ClassDeletedGlyph = "Deleted glyph"
	ClassEndOfLine    = "End of line"
)

var fixedStateNames = []string{StateStartOfText, StateStartOfLine}

var fixedClassNames = []string{
	ClassEndOfText, ClassOutOfBounds, ClassDeletedGlyph, ClassEndOfLine,
}

// Semantic errors of state-table processing. These indicate an
// unrepresentable table or a logic error in the caller and are never
// downgraded to report entries.
var (
	ErrUndefinedState     = errors.New("transition to a state that is not defined")
	ErrInfiniteLoop       = errors.New("entry loops on its own state without advancing")
	ErrTooManyClasses     = errors.New("class count exceeds the 'morx' limit of 65536")
	ErrMixedActionKinds   = errors.New("attachment subtable mixes action kinds")
	ErrAmbiguousMatch     = errors.New("more than one ligature action matches the stack")
	ErrMultipleInsertions = errors.New("multiple insertions target the same splice point")
	ErrStackUnderflow     = errors.New("ligature action consumes more glyphs than are on the stack")
)

// Coverage carries the orientation/direction flags from a 'morx' subtable
// header, plus the subtable kind.
type Coverage struct {
	Vertical bool  // apply only to vertical runs
	Reverse  bool  // process the glyph stream in descending order
	Both     bool  // apply regardless of orientation
	Kind     uint8 // subtable kind (2 = ligature, 5 = insertion, …)
}

// Flags encodes the coverage into the 32-bit header field.
func (c Coverage) Flags() uint32 {
	f := uint32(c.Kind)
	if c.Vertical {
		f |= 0x80000000
	}
	if c.Reverse {
		f |= 0x40000000
	}
	if c.Both {
		f |= 0x20000000
	}
	return f
}

// CoverageFromFlags decodes a 32-bit 'morx' coverage field.
func CoverageFromFlags(f uint32) Coverage {
	return Coverage{
		Vertical: f&0x80000000 != 0,
		Reverse:  f&0x40000000 != 0,
		Both:     f&0x20000000 != 0,
		Kind:     uint8(f),
	}
}

// --- Name ordering ---------------------------------------------------------

// sortedUserNames sorts user-defined names, with a numeric sort when every
// name follows the synthesized "<prefix>N" pattern so that "User class 10"
// lands after "User class 9".
func sortedUserNames(names map[string]bool, prefix string) []string {
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	numeric := len(sorted) > 0
	for _, n := range sorted {
		rest, ok := strings.CutPrefix(n, prefix)
		if !ok {
			numeric = false
			break
		}
		if _, err := strconv.Atoi(rest); err != nil {
			numeric = false
			break
		}
	}
	if numeric {
		sort.Slice(sorted, func(i, j int) bool {
			a, _ := strconv.Atoi(sorted[i][len(prefix):])
			b, _ := strconv.Atoi(sorted[j][len(prefix):])
			return a < b
		})
	} else {
		sort.Strings(sorted)
	}
	return sorted
}

// stateNamesOf collects the user state names of a state map (any concrete
// entry type) in canonical order, fixed states first.
func stateNamesOf[E any](states map[string]map[string]E) []string {
	user := make(map[string]bool)
	for s := range states {
		if s != StateStartOfText && s != StateStartOfLine {
			user[s] = true
		}
	}
	return append(append([]string{}, fixedStateNames...), sortedUserNames(user, "User state ")...)
}

// classNamesOf collects the user class names of a state map in canonical
// order, fixed classes first.
func classNamesOf[E any](states map[string]map[string]E) []string {
	user := make(map[string]bool)
	for _, row := range states {
		for c := range row {
			if !isFixedClass(c) {
				user[c] = true
			}
		}
	}
	return append(append([]string{}, fixedClassNames...), sortedUserNames(user, "User class ")...)
}

func isFixedClass(name string) bool {
	for _, f := range fixedClassNames {
		if name == f {
			return true
		}
	}
	return false
}

// --- Structural validation -------------------------------------------------

// checkStates performs the structural validation shared by all subtable
// kinds: fixed states present, uniform class sets across rows, fixed
// classes present, no dangling state references, no no-advance self loops.
// The newState/noAdvance accessors adapt the concrete entry type.
func checkStates[E any](states map[string]map[string]E,
	newState func(E) string, noAdvance func(E) bool) error {
	//
	for _, s := range fixedStateNames {
		if _, ok := states[s]; !ok {
			return fmt.Errorf("fixed state %q missing from state array", s)
		}
	}
	var refKeys []string
	for stateName, row := range states {
		if refKeys == nil {
			for c := range row {
				refKeys = append(refKeys, c)
			}
			sort.Strings(refKeys)
		} else {
			var keys []string
			for c := range row {
				keys = append(keys, c)
			}
			sort.Strings(keys)
			if len(keys) != len(refKeys) {
				return fmt.Errorf("state %q has a different class set than other states", stateName)
			}
			for i := range keys {
				if keys[i] != refKeys[i] {
					return fmt.Errorf("state %q has a different class set than other states", stateName)
				}
			}
		}
		for _, f := range fixedClassNames {
			if _, ok := row[f]; !ok {
				return fmt.Errorf("fixed class %q missing from state %q", f, stateName)
			}
		}
		for className, e := range row {
			ns := newState(e)
			if _, ok := states[ns]; !ok {
				return fmt.Errorf("%w: state %q, class %q refers to %q",
					ErrUndefinedState, stateName, className, ns)
			}
			if ns == stateName && noAdvance(e) {
				return fmt.Errorf("%w: state %q, class %q",
					ErrInfiniteLoop, stateName, className)
			}
		}
	}
	if len(refKeys) > 65536 {
		return fmt.Errorf("%w: %d classes", ErrTooManyClasses, len(refKeys))
	}
	return nil
}

// normalizeStates fills out a state map in place so that every row carries
// every class, with nop entries in the gaps; absent fixed states are
// created, and an absent or still-empty "Start of line" mirrors
// "Start of text". In user states the
// deleted-glyph class is made to stay in state, and classes that start a
// match from ground get the ground state's transition so overlapping
// matches restart instead of dying. nop produces a fresh no-op entry,
// loop(s) a fresh stay-in-state entry, and isNop detects no-op cells.
func normalizeStates[E any](states map[string]map[string]E,
	nop func() E, loop func(state string) E, isNop func(E) bool) {
	//
	if _, ok := states[StateStartOfText]; !ok {
		states[StateStartOfText] = make(map[string]E)
	}
	if row, ok := states[StateStartOfLine]; !ok || len(row) == 0 {
		row = make(map[string]E)
		for c, e := range states[StateStartOfText] {
			row[c] = e
		}
		states[StateStartOfLine] = row
	}
	allClasses := make(map[string]bool)
	for _, f := range fixedClassNames {
		allClasses[f] = true
	}
	for _, row := range states {
		for c := range row {
			allClasses[c] = true
		}
	}
	ground := states[StateStartOfText]
	startingClasses := make(map[string]bool)
	for c, e := range ground {
		if !isFixedClass(c) && !isNop(e) {
			startingClasses[c] = true
		}
	}
	for _, row := range states {
		for c := range allClasses {
			if _, ok := row[c]; !ok {
				row[c] = nop()
			}
		}
	}
	for s, row := range states {
		if s == StateStartOfText || s == StateStartOfLine {
			continue
		}
		if isNop(row[ClassDeletedGlyph]) {
			row[ClassDeletedGlyph] = loop(s)
		}
		for c, e := range row {
			if isFixedClass(c) || !startingClasses[c] || !isNop(e) {
				continue
			}
			row[c] = ground[c]
		}
	}
}

// --- Component segmentation ------------------------------------------------

// componentSeg cuts the component at offset out of the whole subtable
// data, limited by the nearest following component offset so that
// read-to-end decoding of one component cannot run into the next.
func componentSeg(data font.Seg, offset uint32, all []uint32) (font.Seg, error) {
	if int(offset) >= len(data) {
		return nil, fmt.Errorf("component offset %d out of bounds (%d bytes)", offset, len(data))
	}
	end := len(data)
	for _, o := range all {
		if o > offset && int(o) < end {
			end = int(o)
		}
	}
	return data[offset:end], nil
}

func checkComponentOffsets(data font.Seg, headerLen int, offsets []uint32) error {
	for _, o := range offsets {
		if int(o) < headerLen || int(o) >= len(data) {
			return fmt.Errorf("component offset %d outside state table bounds [%d,%d)",
				o, headerLen, len(data))
		}
	}
	return nil
}

// numStatesFor derives the state count the way AAT consumers must: the
// state array's extent, or one past the highest new-state index any entry
// names, whichever is larger; never less than the two fixed states.
func numStatesFor(stateArrayBytes, numClasses int, maxNewState int) int {
	n := stateArrayBytes / (2 * numClasses)
	if maxNewState+1 > n {
		n = maxNewState + 1
	}
	if n < 2 {
		n = 2
	}
	return n
}

// --- Class glyph inversion -------------------------------------------------

// classToGlyphSets inverts a glyph→class-index map for analysis walks.
// Only user classes (index ≥ 4) get real glyph sets; the deleted-glyph
// class matches the deleted sentinel.
func classToGlyphSets(classMap map[font.GlyphIndex]uint16) map[int][]font.GlyphIndex {
	inv := make(map[int][]font.GlyphIndex)
	for g, ci := range classMap {
		if ci >= 4 {
			inv[int(ci)] = append(inv[int(ci)], g)
		}
	}
	for _, v := range inv {
		sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
	}
	inv[2] = []font.GlyphIndex{font.DeletedGlyph}
	return inv
}
