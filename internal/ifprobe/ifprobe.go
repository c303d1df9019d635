// Package ifprobe implements C2: enumerating wireless-capable interfaces
// under /sys/class/net and fetching a device's supported channel list,
// preferring netlink and falling back to the legacy wireless-extensions
// ioctl plane, per spec.md §4.2.
package ifprobe

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kismetwireless/capture-linux-wifi/internal/channel"
	"github.com/kismetwireless/capture-linux-wifi/internal/logging"
	"github.com/kismetwireless/capture-linux-wifi/internal/nl80211x"
	"github.com/kismetwireless/capture-linux-wifi/internal/rtlink"
	"github.com/kismetwireless/capture-linux-wifi/internal/sourcedef"
	"github.com/kismetwireless/capture-linux-wifi/internal/wext"
)

// Entry is one /sys/class/net device entry (spec.md §3 "Device list entry").
type Entry struct {
	Name     string
	Wireless bool
}

// IsWireless reports whether ifname carries a phy80211 sysfs node, the same
// test netdev enumeration tools use to distinguish wifi devices from
// ethernet/loopback/etc.
func IsWireless(ifname string) bool {
	_, err := os.Stat(filepath.Join("/sys/class/net", ifname, "phy80211"))
	return err == nil
}

// ListInterfaces enumerates every interface under /sys/class/net and flags
// the wireless-capable ones. This answers the bare LIST command the real
// datasource protocol supports alongside probe-by-definition (SPEC_FULL.md
// §5 item 1), a natural extension of "Enumerate /sys/class/net, filter to
// wireless" already named in spec.md §4.2.
func ListInterfaces() ([]Entry, error) {
	dirEntries, err := os.ReadDir("/sys/class/net")
	if err != nil {
		return nil, fmt.Errorf("ifprobe: read /sys/class/net: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entries = append(entries, Entry{Name: de.Name(), Wireless: IsWireless(de.Name())})
	}
	return entries, nil
}

// Probe implements C2: extract interface= from def and report its channel
// list. An empty list is "not usable" per spec.md §4.2; the caller maps
// that to the probe-fails-with-zero return convention.
func Probe(def sourcedef.Definition) ([]string, error) {
	ifname := def.Interface()
	if ifname == "" {
		return nil, fmt.Errorf("ifprobe: source definition missing interface=")
	}
	return ProbeInterface(ifname)
}

// ProbeInterface fetches ifname's channel list, preferring
// mac80211_get_chanlist (netlink) and falling back to
// iwconfig_get_chanlist (legacy ioctl), per spec.md §4.2.
func ProbeInterface(ifname string) ([]string, error) {
	log := logging.For("ifprobe")

	freqs, err := netlinkChanList(ifname)
	if err != nil || len(freqs) == 0 {
		log.WithField("interface", ifname).Debugf("netlink chanlist unavailable (%v), falling back to ioctl", err)
		freqs, err = legacyChanList(ifname)
	}
	if err != nil || len(freqs) == 0 {
		return nil, fmt.Errorf("ifprobe: %s: not usable: no channel list from netlink or ioctl", ifname)
	}

	return renderFreqs(freqs), nil
}

func netlinkChanList(ifname string) ([]int, error) {
	idx, err := rtlink.Index(ifname)
	if err != nil {
		return nil, err
	}

	h, err := nl80211x.Dial()
	if err != nil {
		return nil, err
	}
	defer h.Close()

	return h.WiphyChannels(idx)
}

func legacyChanList(ifname string) ([]int, error) {
	conn, err := wext.Open()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return conn.Channels(ifname)
}

// renderFreqs converts a list of control frequencies in MHz to channel
// spec strings against the default PHY table, dropping any frequency the
// table doesn't recognize (e.g. radar/DFS test frequencies this table
// doesn't enumerate).
func renderFreqs(freqs []int) []string {
	out := make([]string, 0, len(freqs))
	for _, f := range freqs {
		entry, ok := channel.DefaultTable.ByFreq(f)
		if !ok {
			continue
		}
		out = append(out, strconv.Itoa(entry.Chan))
	}
	return out
}
