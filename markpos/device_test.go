package markpos

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/npillmayer/fontbuild/binlink"
	"github.com/npillmayer/fontbuild/font"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
)

func fromHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func deviceBytes(t *testing.T, d *Device) []byte {
	t.Helper()
	w := binlink.NewWriter()
	if err := d.Write(w); err != nil {
		t.Fatalf("device write failed: %v", err)
	}
	b, err := w.Bytes()
	if err != nil {
		t.Fatalf("device resolve failed: %v", err)
	}
	return b
}

func TestDeviceBinary(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	cases := []struct {
		name string
		dev  *Device
		hex  string
	}{
		{"2bit", &Device{Tweaks: map[uint16]int8{12: -2, 14: -1, 18: 1}},
			"000C 0012 0001 8C04"},
		{"4bit", &Device{Tweaks: map[uint16]int8{12: -5, 13: -3, 14: -1, 18: 2, 20: 3}},
			"000C 0014 0002 BDF0 0020 3000"},
		{"8bit", &Device{Tweaks: map[uint16]int8{12: -9, 16: 20}},
			"000C 0010 0003 F700 0000 1400"},
		{"variable", &Device{Variable: true, OuterIndex: 8, InnerIndex: 25},
			"0008 0019 8000"},
	}
	for _, c := range cases {
		got := deviceBytes(t, c.dev)
		want := fromHex(t, c.hex)
		if !bytes.Equal(got, want) {
			t.Errorf("%s: device bytes = % X, want % X", c.name, got, want)
		}
	}
}

func TestDeviceRoundTrip(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	devs := []*Device{
		{Tweaks: map[uint16]int8{12: -2, 14: -1, 18: 1}},
		{Tweaks: map[uint16]int8{12: -5, 13: -3, 14: -1, 18: 2, 20: 3}},
		{Tweaks: map[uint16]int8{12: -9, 16: 20}},
		{Variable: true, OuterIndex: 8, InnerIndex: 25},
	}
	for _, d := range devs {
		b := deviceBytes(t, d)
		got, err := readDevice(font.Seg(b), 0, "device", nil)
		if err != nil {
			t.Fatalf("device decode failed: %v", err)
		}
		if diff := cmp.Diff(d, got); diff != "" {
			t.Errorf("device round trip mismatch:\n%s", diff)
		}
	}
}

func TestDeviceBadFormat(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	b := fromHex(t, "000C 0012 4141 8C04")
	rep := &font.Report{}
	if _, err := readDevice(font.Seg(b), 0, "device", rep); err == nil {
		t.Error("expected decode error for unknown device format")
	}
	if !rep.HasErrors() {
		t.Error("expected a report entry for unknown device format")
	}
}

func TestDeviceReversedSizes(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	b := fromHex(t, "0012 000C 0001 8C04")
	if _, err := readDevice(font.Seg(b), 0, "device", nil); err == nil {
		t.Error("expected decode error for start size > end size")
	}
}

func TestDeviceDropsZeroTweaks(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	// ppem 13 and 15..17 pack as zeros and must not survive decoding
	d := &Device{Tweaks: map[uint16]int8{12: -2, 14: -1, 18: 1}}
	got, err := readDevice(font.Seg(deviceBytes(t, d)), 0, "device", nil)
	if err != nil {
		t.Fatalf("device decode failed: %v", err)
	}
	if len(got.Tweaks) != 3 {
		t.Errorf("decoded %d tweaks, want 3 (zeros dropped)", len(got.Tweaks))
	}
}

func TestDeviceEmpty(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "fontbuild.tables")
	defer teardown()
	w := binlink.NewWriter()
	if err := (&Device{}).Write(w); err == nil {
		t.Error("expected write error for a device without tweaks")
	}
}
