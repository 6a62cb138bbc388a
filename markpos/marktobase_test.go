package markpos

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/npillmayer/fontbuild/font"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/suite"
)

// --- Test Suite Preparation ------------------------------------------------

// accentFixture is a subtable with two bases and four marks in two classes:
// glyphs 12 and 13 attach above (class 0), glyphs 14 and 15 below (class 1).
func accentFixture() *MarkToBase {
	mtb := NewMarkToBase()
	mtb.Marks[12] = MarkRecord{Class: 0, Anchor: &Anchor{X: 250, Y: 110}}
	mtb.Marks[13] = MarkRecord{Class: 0, Anchor: &Anchor{X: 350, Y: 100}}
	mtb.Marks[14] = MarkRecord{Class: 1, Anchor: &Anchor{X: 350, Y: -20}}
	mtb.Marks[15] = MarkRecord{Class: 1, Anchor: &Anchor{X: 255, Y: 5}}
	mtb.Bases[40] = BaseRecord{
		&Anchor{X: 300, Y: 1700},
		&Anchor{X: 290, Y: -75},
	}
	mtb.Bases[45] = BaseRecord{
		&Anchor{X: 450, Y: 1600},
		&Anchor{X: 450, Y: -30},
	}
	return mtb
}

// accentFixtureHex is the complete wire image of accentFixture: header,
// mark coverage (format 2), base coverage (format 1), mark array, base
// array, then the eight pooled anchors.
const accentFixtureHex = "0001 000C 0016 0002 001E 0030" +
	" 0002 0001 000C 000F 0000" +
	" 0001 0002 0028 002D" +
	" 0004 0000 001C 0000 0022 0001 0028 0001 002E" +
	" 0002 0022 0028 002E 0034" +
	" 0001 00FA 006E 0001 015E 0064 0001 015E FFEC 0001 00FF 0005" +
	" 0001 012C 06A4 0001 0122 FFB5 0001 01C2 0640 0001 01C2 FFE2"

// ignoreFlags builds an IgnoreFunc returning fixed classifications.
func ignoreFlags(igs, marks []bool) font.IgnoreFunc {
	return func(run []font.RunGlyph) ([]bool, []bool) {
		return igs, marks
	}
}

type MarkToBaseTestSuite struct {
	suite.Suite
	mtb *MarkToBase
}

// listen for 'go test' command --> run test methods
func TestMarkToBase(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	suite.Run(t, new(MarkToBaseTestSuite))
}

func (env *MarkToBaseTestSuite) SetupTest() {
	env.mtb = accentFixture()
}

// --- Tests -----------------------------------------------------------------

func (env *MarkToBaseTestSuite) TestGoldenBinary() {
	b, err := env.mtb.Binary()
	env.Require().NoError(err)
	want := fromHex(env.T(), accentFixtureHex)
	env.Equal(want, b, "subtable wire image differs from the fixed layout")
}

func (env *MarkToBaseTestSuite) TestRoundTrip() {
	b, err := env.mtb.Binary()
	env.Require().NoError(err)
	got, err := MarkToBaseFromBytes(font.Seg(b))
	env.Require().NoError(err)
	env.Empty(cmp.Diff(env.mtb, got))
}

func (env *MarkToBaseTestSuite) TestRoundTripValidated() {
	b, err := env.mtb.Binary()
	env.Require().NoError(err)
	rep := &font.Report{}
	got, err := MarkToBaseFromValidatedBytes(font.Seg(b), rep)
	env.Require().NoError(err)
	env.False(rep.HasErrors(), "unexpected validation errors: %v", rep.Errors)
	env.Empty(cmp.Diff(env.mtb, got))
}

func (env *MarkToBaseTestSuite) TestRunOneLTR() {
	mtb := NewMarkToBase()
	mtb.Marks[12] = MarkRecord{Class: 0, Anchor: &Anchor{X: 950, Y: 1100}}
	mtb.Bases[35] = BaseRecord{&Anchor{X: 1200, Y: 1800}}
	run := font.NewRun([]font.GlyphIndex{35, 77, 12})
	ctx := &font.Context{
		Metrics: font.MetricsMap{35: 1900},
		Ignore: ignoreFlags(
			[]bool{false, true, false},
			[]bool{false, false, true}),
	}
	eff, count := mtb.RunOne(run, 2, false, ctx)
	env.Require().Equal(1, count)
	env.Equal(font.Effect{XPlacement: -1650, YPlacement: 700, BackIndex: -2}, eff[2])
	env.Equal(font.Effect{}, eff[0], "the base glyph must not move")
}

func (env *MarkToBaseTestSuite) TestRunOneRTL() {
	mtb := NewMarkToBase()
	mtb.Marks[12] = MarkRecord{Class: 0, Anchor: &Anchor{X: 950, Y: 1100}}
	mtb.Bases[35] = BaseRecord{&Anchor{X: 1200, Y: 1800}}
	run := font.NewRun([]font.GlyphIndex{35, 77, 12})
	ctx := &font.Context{
		Ignore: ignoreFlags(
			[]bool{false, true, false},
			[]bool{false, false, true}),
	}
	eff, count := mtb.RunOne(run, 2, true, ctx)
	env.Require().Equal(1, count)
	env.Equal(font.Effect{XPlacement: 250, YPlacement: 700, BackIndex: -2}, eff[2])
}

func (env *MarkToBaseTestSuite) TestRunOneNotAMark() {
	run := font.NewRun([]font.GlyphIndex{40, 12})
	ctx := &font.Context{
		Ignore: ignoreFlags([]bool{false, false}, []bool{false, true}),
	}
	// startIndex names the base, not the mark
	eff, count := env.mtb.RunOne(run, 0, false, ctx)
	env.Nil(eff)
	env.Equal(0, count)
}

func (env *MarkToBaseTestSuite) TestRunOneNoBase() {
	run := font.NewRun([]font.GlyphIndex{12})
	ctx := &font.Context{
		Ignore: ignoreFlags([]bool{false}, []bool{true}),
	}
	eff, count := env.mtb.RunOne(run, 0, false, ctx)
	env.Nil(eff, "a mark with nothing before it cannot attach")
	env.Equal(0, count)
}

func (env *MarkToBaseTestSuite) TestRunOneUncoveredBase() {
	run := font.NewRun([]font.GlyphIndex{99, 12})
	ctx := &font.Context{
		Ignore: ignoreFlags([]bool{false, false}, []bool{false, true}),
	}
	eff, count := env.mtb.RunOne(run, 1, false, ctx)
	env.Nil(eff)
	env.Equal(0, count)
}

func (env *MarkToBaseTestSuite) TestEffectExtremaHorizontal() {
	want := map[font.GlyphIndex]Extrema{
		12: {Max: 1590},
		13: {Max: 1600},
		14: {Min: -55},
		15: {Min: -80},
	}
	env.Equal(want, env.mtb.EffectExtrema(true))
}

func (env *MarkToBaseTestSuite) TestEffectExtremaVertical() {
	want := map[font.GlyphIndex]Extrema{
		12: {Max: 200},
		13: {Max: 100, Min: -50},
		14: {Max: 100, Min: -60},
		15: {Max: 195},
	}
	env.Equal(want, env.mtb.EffectExtrema(false))
}

func (env *MarkToBaseTestSuite) TestClassCountMismatch() {
	b := fromHex(env.T(), accentFixtureHex)
	b[7] = 5 // header now claims five mark classes
	rep := &font.Report{}
	_, err := MarkToBaseFromValidatedBytes(font.Seg(b), rep)
	env.Error(err)
	env.True(rep.HasErrors())
}

func (env *MarkToBaseTestSuite) TestTruncated() {
	b := fromHex(env.T(), accentFixtureHex)
	rep := &font.Report{}
	_, err := MarkToBaseFromValidatedBytes(font.Seg(b[:8]), rep)
	env.Error(err)
	env.True(rep.HasErrors())
}

func (env *MarkToBaseTestSuite) TestValidateBaseRecordLength() {
	env.mtb.Bases[40] = BaseRecord{&Anchor{X: 300, Y: 1700}} // one slot short
	env.Error(env.mtb.Validate())
	_, err := env.mtb.Binary()
	env.Error(err, "writing must reject short base records")
}

func (env *MarkToBaseTestSuite) TestValidateMarkWithoutAnchor() {
	env.mtb.Marks[16] = MarkRecord{Class: 0}
	env.Error(env.mtb.Validate())
}
