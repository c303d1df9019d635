// Package wext implements the legacy Linux Wireless Extensions ioctl plane:
// SIOCGIWMODE/SIOCSIWMODE for monitor-mode detection and switching, and
// SIOCSIWFREQ for channel tuning when nl80211 is unavailable. This is the
// "Ioctl" variant of the two-control-plane strategy in spec.md §4.3/§4.4/§9.
//
// The ifreq/ioctl(2) plumbing follows the same raw-syscall shape the
// SIOCETHTOOL plane uses in safchain/ethtool: a long-lived AF_INET/SOCK_DGRAM
// socket, an ifreq with the interface name and a union payload, and
// unix.Syscall(SYS_IOCTL, ...).
package wext

import (
	"fmt"
	"unsafe"

	"github.com/josharian/native"
	"golang.org/x/sys/unix"
)

// nativeEndian is the CPU's native byte order, used to pack/unpack the
// union payload inside ifreq the same way the kernel's ioctl handler reads
// it — the same helper mdlayher/netlink depends on for attribute parsing.
var nativeEndian = native.Endian

const (
	siocsiwfreq  = 0x8B04
	siocgiwfreq  = 0x8B05
	siocsiwmode  = 0x8B06
	siocgiwmode  = 0x8B07
	siocgiwrange = 0x8B0B

	// IwModeMonitor is IW_MODE_MONITOR from linux/wireless.h.
	IwModeMonitor = 6
)

// Conn is a socket used purely as an ioctl(2) handle; it carries no
// connection state of its own.
type Conn struct {
	fd int
}

// Open creates the ioctl socket. Callers should keep one Conn for the
// process lifetime and Close it on exit.
func Open() (*Conn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("wext: socket: %w", err)
	}
	return &Conn{fd: fd}, nil
}

// Close releases the ioctl socket.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	return unix.Close(c.fd)
}

type ifreqName struct {
	name [unix.IFNAMSIZ]byte
	pad  [16]byte // union payload, sized for the largest iwreq variant we use
}

func newIfreqName(ifname string) ifreqName {
	var r ifreqName
	copy(r.name[:], ifname)
	return r
}

func (c *Conn) ioctl(req uint, ifr *ifreqName) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), uintptr(req), uintptr(unsafe.Pointer(ifr)))
	if errno != 0 {
		return errno
	}
	return nil
}

// Mode returns the current wireless-extensions operating mode for ifname.
func (c *Conn) Mode(ifname string) (int, error) {
	ifr := newIfreqName(ifname)
	if err := c.ioctl(siocgiwmode, &ifr); err != nil {
		return 0, fmt.Errorf("wext: SIOCGIWMODE %s: %w", ifname, err)
	}
	mode := int(nativeEndian.Uint32(ifr.pad[:4]))
	return mode, nil
}

// IsMonitorMode reports whether ifname is currently in monitor mode.
func (c *Conn) IsMonitorMode(ifname string) (bool, error) {
	mode, err := c.Mode(ifname)
	if err != nil {
		return false, err
	}
	return mode == IwModeMonitor, nil
}

// SetMode switches ifname into the given wireless-extensions mode
// (typically IwModeMonitor), the in-place fallback path of spec.md §4.3
// step 7.
func (c *Conn) SetMode(ifname string, mode int) error {
	ifr := newIfreqName(ifname)
	nativeEndian.PutUint32(ifr.pad[:4], uint32(mode))
	if err := c.ioctl(siocsiwmode, &ifr); err != nil {
		return fmt.Errorf("wext: SIOCSIWMODE %s: %w", ifname, err)
	}
	return nil
}

// iwFreq mirrors struct iw_freq from linux/wireless.h: a mantissa/exponent
// pair plus an index and flags byte that this helper does not use.
type iwFreq struct {
	m     int32
	e     int16
	i     uint8
	flags uint8
}

// SetFrequency tunes ifname to controlFreqMHz via SIOCSIWFREQ — the only
// channel-control operation the legacy plane supports (no width or center
// frequency), per spec.md §4.4.
func (c *Conn) SetFrequency(ifname string, controlFreqMHz int) error {
	var ifr struct {
		name [unix.IFNAMSIZ]byte
		freq iwFreq
		_    [4]byte
	}
	copy(ifr.name[:], ifname)
	// Encode as Hz with exponent 1 (m * 10^e), the conventional encoding
	// iwconfig itself uses for frequencies below 1 GHz-exponent range.
	ifr.freq = iwFreq{m: int32(controlFreqMHz) * 100000, e: 1}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), uintptr(siocsiwfreq), uintptr(unsafe.Pointer(&ifr)))
	if errno != 0 {
		return fmt.Errorf("wext: SIOCSIWFREQ %s -> %d MHz: %w", ifname, controlFreqMHz, errno)
	}
	return nil
}

// maxIwFrequency mirrors IW_MAX_FREQUENCIES from linux/wireless.h: the
// fixed-size frequency list struct iw_range carries.
const maxIwFrequency = 32

// iwRange mirrors the leading portion of struct iw_range up to and
// including its frequency list, which is all the legacy chanlist fallback
// in spec.md §4.2 needs. The real struct carries many more fields
// (throughput estimate, retry limits, encoding capabilities, event/ioctl
// capability bitmaps) after num_frequency/freq; this helper never reads
// past the frequency list so they're represented as trailing padding
// rather than named out.
type iwRange struct {
	_             [12]uint32 // throughput, min/max nwid, old_num_channels, old_num_frequency, ...
	numFrequency  int32
	freq          [maxIwFrequency]iwFreq
	_             [256]byte // enc capa, bitrates, txpower, retry limits, event caps
}

func freqToMHz(f iwFreq) int {
	v := float64(f.m)
	for i := int16(0); i < f.e; i++ {
		v *= 10
	}
	return int(v / 1e6)
}

// Channels implements the legacy ioctl chanlist fallback named in spec.md
// §4.2 ("iwconfig_get_chanlist"): SIOCGIWRANGE reports every frequency the
// driver currently exposes, which this helper converts from the kernel's
// mantissa/exponent encoding to MHz integers — the "returns integers
// requiring stringification" detail spec.md calls out explicitly.
func (c *Conn) Channels(ifname string) ([]int, error) {
	var ifr struct {
		name [unix.IFNAMSIZ]byte
		ptr  uintptr
		len  uint16
		flags uint16
	}
	copy(ifr.name[:], ifname)

	var rng iwRange
	ifr.ptr = uintptr(unsafe.Pointer(&rng))
	ifr.len = uint16(unsafe.Sizeof(rng))

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), uintptr(siocgiwrange), uintptr(unsafe.Pointer(&ifr)))
	if errno != 0 {
		return nil, fmt.Errorf("wext: SIOCGIWRANGE %s: %w", ifname, errno)
	}

	n := int(rng.numFrequency)
	if n > maxIwFrequency {
		n = maxIwFrequency
	}
	freqs := make([]int, 0, n)
	for i := 0; i < n; i++ {
		freqs = append(freqs, freqToMHz(rng.freq[i]))
	}
	return freqs, nil
}
