package statetable

import (
	"fmt"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// nameStashGuard marks a name stash in the gap between a state table's
// header and its first component. The stash is an unofficial extension;
// consumers that don't know it skip the gap entirely.
const nameStashGuard = 0xFEED

// NameStash preserves user-defined class and state names across a
// write/read round trip. The wire form lives between the subtable header
// and the first component, guarded by 0xFEED so that tables written by
// other tools (which have arbitrary or no gap bytes there) are detected
// and synthetic names are used instead.
type NameStash struct {
	AddedClassNames []string // names for class indices 4 and up
	AddedStateNames []string // names for state indices 2 and up
}

// NameStashFromCounts synthesizes a stash with "User state N" and
// "User class N" names (1-based) for the given non-fixed counts.
func NameStashFromCounts(stateNonFixed, classNonFixed int) *NameStash {
	ns := &NameStash{}
	for i := 0; i < classNonFixed; i++ {
		ns.AddedClassNames = append(ns.AddedClassNames, fmt.Sprintf("User class %d", i+1))
	}
	for i := 0; i < stateNonFixed; i++ {
		ns.AddedStateNames = append(ns.AddedStateNames, fmt.Sprintf("User state %d", i+1))
	}
	return ns
}

// nameStashOf collects the user names of a state map into a stash, in the
// canonical order used for state array rows and class indices.
func nameStashOf[E any](states map[string]map[string]E) *NameStash {
	return &NameStash{
		AddedClassNames: classNamesOf(states)[4:],
		AddedStateNames: stateNamesOf(states)[2:],
	}
}

// AllClassNames returns the four fixed class names followed by the added
// ones; the slice index is the class index.
func (ns *NameStash) AllClassNames() []string {
	return append(append([]string{}, fixedClassNames...), ns.AddedClassNames...)
}

// AllStateNames returns the two fixed state names followed by the added
// ones; the slice index is the state index.
func (ns *NameStash) AllStateNames() []string {
	return append(append([]string{}, fixedStateNames...), ns.AddedStateNames...)
}

// Write appends the stash: guard, class name count, pascal strings, state
// name count, pascal strings, padded to alignment (2 for 'morx', 4 for
// 'kerx').
func (ns *NameStash) Write(w *binlink.LinkedWriter, alignment int) error {
	w.AddU16(nameStashGuard)
	for _, group := range [][]string{ns.AddedClassNames, ns.AddedStateNames} {
		w.AddU16(uint16(len(group)))
		for _, name := range group {
			if len(name) > 255 {
				return fmt.Errorf("name %.20q... too long for a pascal string", name)
			}
			w.AddU8(uint8(len(name)))
			w.Add([]byte(name)...)
		}
	}
	w.AlignToByteMultiple(alignment)
	return nil
}

// ReadNameStashOrMake reads the stash from the gap between headerLen and
// the smallest component offset, or synthesizes one when the gap is too
// small or the guard is absent. When rep is non-nil, malformed stash
// content (truncated or non-ASCII names, names shadowing the fixed names)
// is reported and synthetic names are used.
func ReadNameStashOrMake(data font.Seg, headerLen int, offsets []uint32,
	numStates, numClasses int, rep *font.Report) *NameStash {
	//
	minOff := ^uint32(0)
	for _, o := range offsets {
		if o < minOff {
			minOff = o
		}
	}
	fake := func() *NameStash {
		return NameStashFromCounts(numStates-2, numClasses-4)
	}
	if int64(minOff)-int64(headerLen) < 6 {
		return fake()
	}
	guard, err := data.CheckedU16(headerLen)
	if err != nil || guard != nameStashGuard {
		return fake()
	}
	ns, err := readNameStash(data[headerLen:], rep)
	if err != nil {
		if rep != nil {
			rep.AddWarning("namestash", err.Error(), uint32(headerLen))
		}
		return fake()
	}
	return ns
}

func readNameStash(data font.Seg, rep *font.Report) (*NameStash, error) {
	pos := 2 // past the guard
	ns := &NameStash{}
	for group := 0; group < 2; group++ {
		count, err := data.CheckedU16(pos)
		if err != nil {
			return nil, fmt.Errorf("name count missing or incomplete")
		}
		pos += 2
		for i := 0; i < int(count); i++ {
			if pos >= len(data) {
				return nil, fmt.Errorf("name index %d is missing or incomplete", i)
			}
			n := int(data.U8(pos))
			if pos+1+n > len(data) {
				return nil, fmt.Errorf("name index %d is missing or incomplete", i)
			}
			raw := data[pos+1 : pos+1+n]
			pos += 1 + n
			for _, b := range raw {
				if b > 0x7F {
					return nil, fmt.Errorf("name index %d is not an ASCII string", i)
				}
			}
			name := string(raw)
			if group == 0 {
				if isFixedClass(name) {
					return nil, fmt.Errorf("stashed class name %q shadows a fixed class name", name)
				}
				ns.AddedClassNames = append(ns.AddedClassNames, name)
			} else {
				if name == StateStartOfText || name == StateStartOfLine {
					return nil, fmt.Errorf("stashed state name %q shadows a fixed state name", name)
				}
				ns.AddedStateNames = append(ns.AddedStateNames, name)
			}
		}
	}
	return ns, nil
}
