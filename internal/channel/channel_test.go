package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// testTable mirrors the worked example in spec.md §8: channel 36 supports
// VHT80 but not VHT160, and channel 1 does not list HT40 support.
var testTable = Table{
	{Chan: 1, FreqMHz: 2412},
	{Chan: 6, FreqMHz: 2437},
	{Chan: 36, FreqMHz: 5180, Flags: FlagVHT80, Freq80: 5210},
}

func TestParseVHT80Derived(t *testing.T) {
	p, warnings, err := Parse(testTable, "36VHT80")
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, Width80, p.ChanWidth)
	require.Equal(t, 5210, p.CenterFreq1)
	require.False(t, p.UnusualCenter1)
}

func TestParseVHT160Rejected(t *testing.T) {
	p, _, err := Parse(testTable, "36VHT160")
	if p != nil {
		t.Fatalf("expected no channel, got %+v", p)
	}
	if !errors.Is(err, ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
}

func TestParseVHT80ExplicitCenter(t *testing.T) {
	p, _, err := Parse(testTable, "36VHT80-5250")
	require.NoError(t, err)
	require.Equal(t, 5250, p.CenterFreq1)
	require.True(t, p.UnusualCenter1)

	if got, want := Render(p), "36VHT80-5250"; got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestParseHT40WarnsNotFails(t *testing.T) {
	p, warnings, err := Parse(testTable, "1HT40+")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ChanType != HT40Plus {
		t.Fatalf("ChanType = %v, want HT40Plus", p.ChanType)
	}
	if len(warnings) == 0 {
		t.Fatalf("expected a warning for missing HT40 PHY support")
	}
	if got, want := Render(p), "1HT40+"; got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestParseUnknownSuffixDegrades(t *testing.T) {
	p, warnings, err := Parse(testTable, "6FOO")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ChanType != NoHT || p.ChanWidth != Width20 {
		t.Fatalf("expected a basic channel, got %+v", p)
	}
	if p.ControlChannel != 6 {
		t.Fatalf("ControlChannel = %d, want 6", p.ControlChannel)
	}
	if len(warnings) == 0 {
		t.Fatalf("expected a warning for the unknown suffix")
	}
}

func TestRoundTrip(t *testing.T) {
	specs := []string{"1", "6", "36VHT80", "36VHT80-5250", "1HT40+", "1HT40-", "6W5", "6W10"}

	for _, s := range specs {
		t.Run(s, func(t *testing.T) {
			p, _, err := Parse(testTable, s)
			if err != nil {
				t.Fatalf("Parse(%q): %v", s, err)
			}
			if got := Render(p); got != s {
				t.Fatalf("Render(Parse(%q)) = %q, want %q", s, got, s)
			}
		})
	}
}

func TestByChannelAndFreq(t *testing.T) {
	e, ok := DefaultTable.ByChannel(36)
	require.True(t, ok)
	require.Equal(t, 5180, e.FreqMHz)

	e2, ok := DefaultTable.ByFreq(2412)
	require.True(t, ok)
	require.Equal(t, 1, e2.Chan)
}
