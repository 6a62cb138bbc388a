package statetable

import (
	"errors"
	"testing"
)

func TestCoverageFlags(t *testing.T) {
	cases := []Coverage{
		{Kind: 2},
		{Vertical: true, Kind: 1},
		{Reverse: true, Kind: 5},
		{Vertical: true, Both: true, Kind: 4},
	}
	for _, c := range cases {
		if got := CoverageFromFlags(c.Flags()); got != c {
			t.Errorf("coverage %+v -> flags %08X -> %+v", c, c.Flags(), got)
		}
	}
	if f := (Coverage{Vertical: true}).Flags(); f&0x80000000 == 0 {
		t.Errorf("vertical flag not set: %08X", f)
	}
}

func TestCheckStatesUndefinedTarget(t *testing.T) {
	lg := NewLigature(Coverage{Kind: 2})
	lg.ClassTable = ClassTable{10: "a"}
	lg.States[StateStartOfText]["a"] = &LigatureEntry{NewState: "Nowhere"}
	lg.Normalize()
	if err := lg.Validate(); !errors.Is(err, ErrUndefinedState) {
		t.Errorf("err = %v, want ErrUndefinedState", err)
	}
}

func TestCheckStatesNoAdvanceLoop(t *testing.T) {
	lg := NewLigature(Coverage{Kind: 2})
	lg.ClassTable = ClassTable{10: "a"}
	lg.States["Stuck"] = map[string]*LigatureEntry{
		"a": {NewState: "Stuck", NoAdvance: true},
	}
	lg.States[StateStartOfText]["a"] = &LigatureEntry{NewState: "Stuck"}
	lg.Normalize()
	if err := lg.Validate(); !errors.Is(err, ErrInfiniteLoop) {
		t.Errorf("err = %v, want ErrInfiniteLoop", err)
	}
}

func TestNormalizeFillsRows(t *testing.T) {
	lg := NewLigature(Coverage{Kind: 2})
	lg.ClassTable = ClassTable{10: "a", 11: "b"}
	lg.States[StateStartOfText]["a"] = &LigatureEntry{NewState: "Saw a", Push: true}
	lg.States["Saw a"] = map[string]*LigatureEntry{
		"b": {NewState: StateStartOfText, Push: true},
	}
	lg.Normalize()
	if err := lg.Validate(); err != nil {
		t.Fatal(err)
	}
	row := lg.States["Saw a"]
	if row[ClassDeletedGlyph].NewState != "Saw a" {
		t.Errorf("deleted glyph in a user state should stay in state, goes to %q",
			row[ClassDeletedGlyph].NewState)
	}
	// overlapping matches restart: 'a' in "Saw a" re-enters like from ground
	if row["a"].NewState != "Saw a" || !row["a"].Push {
		t.Errorf("restarting class entry = %+v", row["a"])
	}
	if lg.States[StateStartOfLine]["a"].NewState != "Saw a" {
		t.Error("start-of-line row should mirror start of text")
	}
}

func TestNumStatesFor(t *testing.T) {
	if got := numStatesFor(2*6*4, 6, 1); got != 4 {
		t.Errorf("numStatesFor = %d, want 4", got)
	}
	if got := numStatesFor(0, 6, 6); got != 7 {
		t.Errorf("numStatesFor = %d, want 7 (from max new state)", got)
	}
	if got := numStatesFor(0, 6, 0); got != 2 {
		t.Errorf("numStatesFor = %d, want the minimum of 2", got)
	}
}
