package statetable

import (
	"fmt"

	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
)

// Action kinds of a 'kerx' format 4 attachment subtable. All actions in
// one subtable must share a kind.
const (
	ActionKindPoint  = 0 // align outline points of the two glyphs
	ActionKindAnchor = 1 // align 'ankr' table anchors
	ActionKindCoord  = 2 // align explicit coordinates
)

// AttachmentAction aligns the marked glyph with the current glyph. Which
// fields are meaningful depends on Kind: point indices, anchor indices, or
// the coordinate pairs.
type AttachmentAction struct {
	Kind int

	MarkedPoint  uint16
	CurrentPoint uint16

	MarkedAnchor  uint16
	CurrentAnchor uint16

	MarkedX, MarkedY   int16
	CurrentX, CurrentY int16
}

func (a *AttachmentAction) immut() string {
	switch a.Kind {
	case ActionKindPoint:
		return fmt.Sprintf("p%d,%d", a.MarkedPoint, a.CurrentPoint)
	case ActionKindAnchor:
		return fmt.Sprintf("a%d,%d", a.MarkedAnchor, a.CurrentAnchor)
	default:
		return fmt.Sprintf("c%d,%d,%d,%d", a.MarkedX, a.MarkedY, a.CurrentX, a.CurrentY)
	}
}

// AttachmentEntry is one cell of an attachment state array.
type AttachmentEntry struct {
	NewState  string
	Mark      bool
	NoAdvance bool
	Action    *AttachmentAction
}

func newAttachmentNOP() *AttachmentEntry { return &AttachmentEntry{NewState: StateStartOfText} }

func (e *AttachmentEntry) isNOP() bool {
	return e.NewState == StateStartOfText && !e.Mark && !e.NoAdvance && e.Action == nil
}

func (e *AttachmentEntry) immut() string {
	a := "-"
	if e.Action != nil {
		a = e.Action.immut()
	}
	return fmt.Sprintf("%s|%t|%t|%s", e.NewState, e.Mark, e.NoAdvance, a)
}

// Attachment is a 'kerx' format 4 subtable: a state machine that attaches
// the current glyph to a previously marked glyph by aligning points,
// anchors or coordinates.
type Attachment struct {
	Vertical    bool
	CrossStream bool
	ClassTable  ClassTable
	States      map[string]map[string]*AttachmentEntry
}

// NewAttachment returns an empty subtable with the two fixed states present.
func NewAttachment() *Attachment {
	return &Attachment{
		ClassTable: make(ClassTable),
		States: map[string]map[string]*AttachmentEntry{
			StateStartOfText: {},
			StateStartOfLine: {},
		},
	}
}

// Normalize fills in missing rows and cells; see Ligature.Normalize.
func (at *Attachment) Normalize() {
	normalizeStates(at.States, newAttachmentNOP,
		func(s string) *AttachmentEntry { return &AttachmentEntry{NewState: s} },
		(*AttachmentEntry).isNOP)
}

// ActionKind returns the single action kind used in the subtable, or -1
// when no entry carries an action. Mixing kinds is an error.
func (at *Attachment) ActionKind() (int, error) {
	kind := -1
	for _, row := range at.States {
		for _, e := range row {
			if e.Action == nil {
				continue
			}
			if kind >= 0 && e.Action.Kind != kind {
				return -1, ErrMixedActionKinds
			}
			kind = e.Action.Kind
		}
	}
	return kind, nil
}

// Validate checks the shared structural invariants plus kind consistency.
func (at *Attachment) Validate() error {
	err := checkStates(at.States,
		func(e *AttachmentEntry) string { return e.NewState },
		func(e *AttachmentEntry) bool { return e.NoAdvance })
	if err != nil {
		return err
	}
	kind, err := at.ActionKind()
	if err != nil {
		return err
	}
	if kind > ActionKindCoord {
		return fmt.Errorf("unknown action kind %d", kind)
	}
	return nil
}

// CheckAttachment records validation warnings: a subtable without any
// action has no effect and may be removed.
func (at *Attachment) CheckAttachment(rep *font.Report) {
	if rep == nil {
		return
	}
	if kind, err := at.ActionKind(); err == nil && kind < 0 {
		rep.AddWarning("attachment",
			"there are no actions in the subtable, so it has no effect and may be removed", 0)
	}
	at.ClassTable.CheckClassTable(rep)
}

// RenameClasses renames classes in every row and in the class table.
func (at *Attachment) RenameClasses(oldToNew map[string]string) {
	renameClassesIn(at.States, at.ClassTable, oldToNew)
}

// RenameStates renames states, both as row keys and as entry targets.
func (at *Attachment) RenameStates(oldToNew map[string]string) {
	renameStatesIn(at.States, oldToNew, func(e *AttachmentEntry) *string { return &e.NewState })
}

const attachmentHeaderLen = 20

// Write appends the subtable body (from the numClasses field on). The
// 'kerx' wrapper layout differs from 'morx': the flag byte carries the
// action kind, the value table offset is 24 bits, and components align to
// four bytes.
func (at *Attachment) Write(w *binlink.LinkedWriter) error {
	if err := at.Validate(); err != nil {
		return err
	}
	kind, _ := at.ActionKind()
	if kind < 0 {
		kind = ActionKindPoint // no actions; the kind byte is arbitrary
	}
	stateNames := stateNamesOf(at.States)
	classNames := classNamesOf(at.States)
	start := w.StakeCurrent()
	w.AddU32(uint32(len(classNames)))
	ctStake, saStake, etStake := w.NewStake(), w.NewStake(), w.NewStake()
	w.AddUnresolvedOffset(binlink.U32, start, ctStake)
	w.AddUnresolvedOffset(binlink.U32, start, saStake)
	w.AddUnresolvedOffset(binlink.U32, start, etStake)
	vtStake := w.NewStake()
	w.AddU8(uint8(kind << 6))
	w.AddUnresolvedOffset(binlink.U24, start, vtStake)

	ns := nameStashOf(at.States)
	if err := ns.Write(w, 4); err != nil {
		return err
	}
	_ = w.StakeHere(ctStake)
	if err := at.ClassTable.Write(w, classNames, DefaultLookupOptions()); err != nil {
		return err
	}
	w.AlignToByteMultiple(4)

	actionPool := make(map[string]int)
	var actionOrder []*AttachmentAction
	actionIndexOf := func(a *AttachmentAction) uint16 {
		key := a.immut()
		idx, ok := actionPool[key]
		if !ok {
			idx = len(actionPool)
			actionPool[key] = idx
			actionOrder = append(actionOrder, a)
		}
		return uint16(idx)
	}
	entryPool := make(map[string]int)
	var poolOrder []*AttachmentEntry
	for _, sn := range stateNames {
		row := at.States[sn]
		for _, cn := range classNames {
			e := row[cn]
			key := e.immut()
			if _, ok := entryPool[key]; !ok {
				entryPool[key] = len(entryPool)
				poolOrder = append(poolOrder, e)
			}
			if e.Action != nil {
				actionIndexOf(e.Action)
			}
		}
	}

	_ = w.StakeHere(saStake)
	for _, sn := range stateNames {
		row := at.States[sn]
		for _, cn := range classNames {
			w.AddU16(uint16(entryPool[row[cn].immut()]))
		}
	}
	w.AlignToByteMultiple(4)

	_ = w.StakeHere(etStake)
	stateIndexOf := make(map[string]uint16, len(stateNames))
	for i, sn := range stateNames {
		stateIndexOf[sn] = uint16(i)
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
		if e.Action == nil {
			w.AddU16(0xFFFF)
		} else {
			w.AddU16(actionIndexOf(e.Action))
		}
	}
	w.AlignToByteMultiple(4)

	_ = w.StakeHere(vtStake)
	for _, a := range actionOrder {
		switch kind {
		case ActionKindPoint:
			w.AddU16(a.MarkedPoint)
			w.AddU16(a.CurrentPoint)
		case ActionKindAnchor:
			w.AddU16(a.MarkedAnchor)
			w.AddU16(a.CurrentAnchor)
		default:
			w.AddI16(a.MarkedX)
			w.AddI16(a.MarkedY)
			w.AddI16(a.CurrentX)
			w.AddI16(a.CurrentY)
		}
	}
	return nil
}

// Binary serializes the subtable body into a fresh byte slice.
func (at *Attachment) Binary() ([]byte, error) {
	w := binlink.NewWriter()
	if err := at.Write(w); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// ReadAttachment decodes the subtable body (starting at the numClasses
// field) without source validation.
func ReadAttachment(data font.Seg) (*Attachment, error) {
	return readAttachment(data, nil)
}

// ReadAttachmentValidated decodes the subtable body with source
// validation, recording defects in rep.
func ReadAttachmentValidated(data font.Seg, rep *font.Report) (*Attachment, error) {
	return readAttachment(data, rep)
}

func readAttachment(data font.Seg, rep *font.Report) (*Attachment, error) {
	fail := func(code, issue string, offset uint32) error {
		if rep != nil {
			rep.AddError("attachment", code, issue, font.SeverityCritical, offset)
		}
		return fmt.Errorf("[attachment] %s: %s", code, issue)
	}
	if len(data) < attachmentHeaderLen {
		return nil, fail(font.CodeInsufficientBytes,
			fmt.Sprintf("attachment subtable header needs %d bytes, got %d",
				attachmentHeaderLen, len(data)), 0)
	}
	numClasses := int(data.U32(0))
	if numClasses < 4 {
		return nil, fail(font.CodeBadEnumValue,
			fmt.Sprintf("a state table needs at least four classes, got %d", numClasses), 0)
	}
	kindByte := data.U8(16)
	if kindByte&0x3F != 0 && rep != nil {
		rep.AddWarning("attachment",
			fmt.Sprintf("one or more reserved bits in the flag byte %02X are not zero", kindByte), 16)
	}
	kind := int(kindByte >> 6)
	if kind == 3 {
		return nil, fail(font.CodeBadEnumValue, "action type mask is 3, which is undefined", 16)
	}
	offsets := []uint32{data.U32(4), data.U32(8), data.U32(12), data.U24(17)}
	if err := checkComponentOffsets(data, attachmentHeaderLen, offsets); err != nil {
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
	ctSeg, saSeg, etSeg, vtSeg := segs[0], segs[1], segs[2], segs[3]

	nEntries := len(etSeg) / 6
	if nEntries == 0 {
		return nil, fail(font.CodeInsufficientBytes,
			"the entry table is missing or incomplete", offsets[2])
	}
	rawEntries := make([][3]uint16, nEntries)
	maxNewState := 0
	for i := range rawEntries {
		for j := 0; j < 3; j++ {
			rawEntries[i][j] = etSeg.U16(6*i + 2*j)
		}
		if int(rawEntries[i][0]) > maxNewState {
			maxNewState = int(rawEntries[i][0])
		}
	}
	numStates := numStatesFor(len(saSeg), numClasses, maxNewState)

	ns := ReadNameStashOrMake(data, attachmentHeaderLen, offsets, numStates, numClasses, rep)
	stateNames := ns.AllStateNames()
	classNames := ns.AllClassNames()
	for len(stateNames) < numStates {
		stateNames = append(stateNames, fmt.Sprintf("User state %d", len(stateNames)-1))
	}
	for len(classNames) < numClasses {
		classNames = append(classNames, fmt.Sprintf("User class %d", len(classNames)-3))
	}

	classTable, err := ReadClassTable(ctSeg, classNames, rep)
	if err != nil {
		return nil, err
	}

	actionSize := 4
	if kind == ActionKindCoord {
		actionSize = 8
	}
	nActions := len(vtSeg) / actionSize
	actions := make([]*AttachmentAction, nActions)
	for i := range actions {
		a := &AttachmentAction{Kind: kind}
		switch kind {
		case ActionKindPoint:
			a.MarkedPoint = vtSeg.U16(4 * i)
			a.CurrentPoint = vtSeg.U16(4*i + 2)
		case ActionKindAnchor:
			a.MarkedAnchor = vtSeg.U16(4 * i)
			a.CurrentAnchor = vtSeg.U16(4*i + 2)
		default:
			a.MarkedX = vtSeg.I16(8 * i)
			a.MarkedY = vtSeg.I16(8*i + 2)
			a.CurrentX = vtSeg.I16(8*i + 4)
			a.CurrentY = vtSeg.I16(8*i + 6)
		}
		actions[i] = a
	}

	entries := make([]*AttachmentEntry, nEntries)
	for i, raw := range rawEntries {
		e := &AttachmentEntry{
			NewState:  stateNames[raw[0]],
			Mark:      raw[1]&0x8000 != 0,
			NoAdvance: raw[1]&0x4000 != 0,
		}
		if raw[2] != 0xFFFF {
			if int(raw[2]) >= len(actions) {
				return nil, fail(font.CodeBadEnumValue,
					fmt.Sprintf("entry %d names action %d, but only %d actions exist",
						i, raw[2], len(actions)), offsets[3])
			}
			e.Action = actions[raw[2]]
		}
		entries[i] = e
	}

	if len(saSeg) < 2*numClasses*numStates {
		return nil, fail(font.CodeInsufficientBytes,
			"the state array is missing or incomplete", offsets[1])
	}
	at := NewAttachment()
	at.ClassTable = classTable
	at.States = make(map[string]map[string]*AttachmentEntry, numStates)
	for si := 0; si < numStates; si++ {
		row := make(map[string]*AttachmentEntry, numClasses)
		for ci := 0; ci < numClasses; ci++ {
			entryIndex := int(saSeg.U16(2 * (si*numClasses + ci)))
			if entryIndex >= nEntries {
				return nil, fail(font.CodeBadEnumValue,
					fmt.Sprintf("state %d, class %d names entry %d, but only %d entries exist",
						si, ci, entryIndex, nEntries), offsets[1])
			}
			row[classNames[ci]] = entries[entryIndex]
		}
		at.States[stateNames[si]] = row
	}
	return at, nil
}
