package channel

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ChanType mirrors NL80211_CHAN_* for the HT secondary-channel position.
type ChanType int

const (
	NoHT ChanType = iota
	HT40Minus
	HT40Plus
)

// Width mirrors NL80211_CHAN_WIDTH_* for the subset this helper supports.
type Width int

const (
	Width20 Width = iota // DEFAULT_20
	Width5
	Width10
	Width80
	Width160
)

// Parsed is the C1 output record described in spec.md §3.
type Parsed struct {
	// ControlChannel is the channel number as it appeared in the string.
	// Callers that need the control frequency in MHz look it up via a
	// Table (see Entry.FreqMHz); this field intentionally stays a bare
	// channel number so Render can reproduce the original string.
	ControlChannel int
	ChanType       ChanType
	ChanWidth      Width
	CenterFreq1    int
	CenterFreq2    int
	UnusualCenter1 bool
}

// ErrNoChannel is returned when a requested VHT80/VHT160 width is not
// supported by the PHY table entry for the requested channel — the only
// hard failure for a spec that starts with a channel number — and when the
// spec has no leading channel number at all.
var ErrNoChannel = errors.New("channel: no channel")

var (
	reHT40   = regexp.MustCompile(`^(\d+)HT40([+-])$`)
	reWidth  = regexp.MustCompile(`^(\d+)(W5|W10|VHT80|VHT160)(?:-(\d+))?$`)
	reBare   = regexp.MustCompile(`^(\d+)$`)
	reLeadNo = regexp.MustCompile(`^(\d+)`)
)

// Parse parses a channel spec string against table, per the grammar in
// spec.md §4.1. It returns the parsed channel, a list of informational
// warnings (to be surfaced on the framework's message channel by the
// caller), and ErrNoChannel for an unsupported VHT80/VHT160 width or a spec
// with no leading channel number.
func Parse(table Table, s string) (*Parsed, []string, error) {
	var warnings []string

	// HT40+/- shares the numeric prefix with everything else, so it must
	// be matched first.
	if m := reHT40.FindStringSubmatch(s); m != nil {
		chanNum, _ := strconv.Atoi(m[1])
		p := &Parsed{ControlChannel: chanNum}
		if m[2] == "+" {
			p.ChanType = HT40Plus
		} else {
			p.ChanType = HT40Minus
		}

		if entry, ok := table.ByChannel(chanNum); !ok || entry.Flags&FlagHT40 == 0 {
			warnings = append(warnings, fmt.Sprintf(
				"channel %d: PHY table does not list HT40 support, keeping requested channel anyway", chanNum))
		}
		return p, warnings, nil
	}

	if m := reWidth.FindStringSubmatch(s); m != nil {
		chanNum, _ := strconv.Atoi(m[1])
		p := &Parsed{ControlChannel: chanNum}

		switch m[2] {
		case "W5":
			p.ChanWidth = Width5
			return p, warnings, nil
		case "W10":
			p.ChanWidth = Width10
			return p, warnings, nil
		}

		var width Width
		var wantFlag Flags
		switch m[2] {
		case "VHT80":
			width, wantFlag = Width80, FlagVHT80
		case "VHT160":
			width, wantFlag = Width160, FlagVHT160
		}
		p.ChanWidth = width

		entry, ok := table.ByChannel(chanNum)
		if !ok || entry.Flags&wantFlag == 0 {
			// VHT80/VHT160 is the only hard failure for a spec that
			// starts with a channel number.
			return nil, warnings, fmt.Errorf("channel %d: %s not supported by PHY table: %w", chanNum, m[2], ErrNoChannel)
		}

		if m[3] != "" {
			center, _ := strconv.Atoi(m[3])
			p.CenterFreq1 = center
			p.UnusualCenter1 = true
		} else {
			if width == Width80 {
				p.CenterFreq1 = entry.Freq80
			} else {
				p.CenterFreq1 = entry.Freq160
			}
		}
		return p, warnings, nil
	}

	if m := reBare.FindStringSubmatch(s); m != nil {
		chanNum, _ := strconv.Atoi(m[1])
		return &Parsed{ControlChannel: chanNum}, warnings, nil
	}

	// Unknown suffix: degrade to a basic 20 MHz channel at the leading
	// number, if any.
	if m := reLeadNo.FindStringSubmatch(s); m != nil {
		chanNum, _ := strconv.Atoi(m[1])
		warnings = append(warnings, fmt.Sprintf("channel spec %q: unknown suffix, treating as basic channel %d", s, chanNum))
		return &Parsed{ControlChannel: chanNum}, warnings, nil
	}

	return nil, warnings, fmt.Errorf("channel spec %q: %w", s, ErrNoChannel)
}

// Render is the inverse of Parse. render(parse(s)) == s for every valid s
// the parser can produce, modulo the VHT80/VHT160-without-explicit-center
// canonicalization noted in spec.md §8.
func Render(p *Parsed) string {
	base := strconv.Itoa(p.ControlChannel)

	switch p.ChanType {
	case HT40Plus:
		return base + "HT40+"
	case HT40Minus:
		return base + "HT40-"
	}

	switch p.ChanWidth {
	case Width5:
		return base + "W5"
	case Width10:
		return base + "W10"
	case Width80:
		s := base + "VHT80"
		if p.UnusualCenter1 {
			s += "-" + strconv.Itoa(p.CenterFreq1)
		}
		return s
	case Width160:
		s := base + "VHT160"
		if p.UnusualCenter1 {
			s += "-" + strconv.Itoa(p.CenterFreq1)
		}
		return s
	}

	return base
}
