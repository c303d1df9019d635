// Package channel implements the 802.11 channel string grammar and the
// static PHY table used to validate and round-trip channel specifications
// between the supervising parent and this capture helper.
package channel

// Flags is a bitset of the channel widths a PHY entry supports.
type Flags uint8

const (
	FlagHT40 Flags = 1 << iota
	FlagVHT80
	FlagVHT160
)

// Entry is one row of the static PHY table: a channel number, its base
// frequency, the widths it supports, and the 80/160 MHz center frequencies
// it belongs to (0 if the channel is not part of that grouping).
type Entry struct {
	Chan    int
	FreqMHz int
	Flags   Flags
	Freq80  int
	Freq160 int
}

// Table is an ordered, read-only PHY table. The zero value is an empty
// table; tests construct small tables directly to exercise validation
// policy without depending on DefaultTable's real-world values.
type Table []Entry

// ByChannel returns the entry for a given channel number, if present.
func (t Table) ByChannel(chanNum int) (Entry, bool) {
	for _, e := range t {
		if e.Chan == chanNum {
			return e, true
		}
	}
	return Entry{}, false
}

// ByFreq returns the entry for a given control frequency in MHz, if present.
func (t Table) ByFreq(freqMHz int) (Entry, bool) {
	for _, e := range t {
		if e.FreqMHz == freqMHz {
			return e, true
		}
	}
	return Entry{}, false
}

// DefaultTable is the production 2.4/5 GHz channel table. It deliberately
// covers more ground than the worked examples in the testable-properties
// section so that Parse's validation has real data to run against outside
// of tests.
var DefaultTable = buildDefaultTable()

func buildDefaultTable() Table {
	t := make(Table, 0, 64)

	// 2.4 GHz: channels 1-13 support HT40 pairing with an adjacent
	// channel; channel 14 (Japan-only) does not support HT and has no
	// VHT widths.
	for ch := 1; ch <= 13; ch++ {
		t = append(t, Entry{Chan: ch, FreqMHz: 2407 + ch*5, Flags: FlagHT40})
	}
	t = append(t, Entry{Chan: 14, FreqMHz: 2484})

	// 5 GHz: group channels into their VHT80/VHT160 center-frequency
	// families. Every listed channel supports HT40 pairing with its
	// neighbor.
	type group struct {
		chans           []int
		freq80, freq160 int
	}
	groups := []group{
		{[]int{36, 40, 44, 48}, 5210, 5250},
		{[]int{52, 56, 60, 64}, 5290, 5250},
		{[]int{100, 104, 108, 112}, 5530, 5570},
		{[]int{116, 120, 124, 128}, 5610, 5570},
		{[]int{132, 136, 140, 144}, 5690, 0},
		{[]int{149, 153, 157, 161}, 5775, 0},
		{[]int{165}, 0, 0},
	}
	for _, g := range groups {
		for _, ch := range g.chans {
			e := Entry{
				Chan:    ch,
				FreqMHz: 5000 + ch*5,
				Flags:   FlagHT40,
			}
			if g.freq80 != 0 {
				e.Flags |= FlagVHT80
				e.Freq80 = g.freq80
			}
			if g.freq160 != 0 {
				e.Flags |= FlagVHT160
				e.Freq160 = g.freq160
			}
			t = append(t, e)
		}
	}
	return t
}
