// Package monitor implements C3: coercing a wireless interface into monitor
// mode. This is the largest and most delicate component (spec.md §2 gives
// it 30% of the core), composing rfkill, NetworkManager coordination, the
// netlink/ioctl control-plane choice, and link-state bring-up in the exact
// sequence spec.md §4.3 lays out, surfacing a distinct message per failure.
package monitor

import (
	"errors"
	"fmt"
	"hash/adler32"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mdlayher/wifi"
	"github.com/xlab/nl80211/nl80211"

	"github.com/kismetwireless/capture-linux-wifi/internal/capture"
	"github.com/kismetwireless/capture-linux-wifi/internal/ifprobe"
	"github.com/kismetwireless/capture-linux-wifi/internal/logging"
	"github.com/kismetwireless/capture-linux-wifi/internal/nl80211x"
	"github.com/kismetwireless/capture-linux-wifi/internal/nmclient"
	"github.com/kismetwireless/capture-linux-wifi/internal/rfkill"
	"github.com/kismetwireless/capture-linux-wifi/internal/rtlink"
	"github.com/kismetwireless/capture-linux-wifi/internal/sourcedef"
	"github.com/kismetwireless/capture-linux-wifi/internal/wext"
)

// ifnamsiz mirrors IFNAMSIZ from linux/if.h: the synthesized "<iface>mon"
// name must fit inside it, per spec.md §4.3 step 6.
const ifnamsiz = 16

// uuidBuildConstant seeds the synthetic UUID of spec.md §4.3 step 3. Only
// its adler32 checksum is observable, so any fixed string serves.
const uuidBuildConstant = "capture-linux-wifi"

// MessageSink is the narrow slice of the framework contract C3 needs:
// the informational/error message channel, per spec.md §6.
type MessageSink interface {
	SendMessage(level, text string)
}

// State is the per-process interface state of spec.md §3, as far as C3
// populates it. internal/chancontrol (C4) and internal/capture (C5) read
// the fields relevant to them; nothing outside this package mutates them
// after BringUp returns except seq_channel_failure, which lives in
// chancontrol.Controller instead.
type State struct {
	Interface    string
	CapInterface string
	Ifindex      int // cap interface's kernel ifindex, for the netlink control plane
	DatalinkType int
	ChannelList  []string

	UseMac80211 bool
	NL          *nl80211x.Handles // nil when UseMac80211 is false
	WEXT        *wext.Conn
	RT          *rtlink.Conn

	ResetNMOnExit bool
	createdVif    bool

	Capture *capture.Handle
}

// existingIface is the subset of an already-enumerated interface that the
// capture-interface naming policy needs.
type existingIface struct {
	Name         string
	HardwareAddr string
	IsMonitor    bool
}

// BringUp executes the monitor bring-up sequence of spec.md §4.3, reporting
// every transition through sink and terminating on the first fatal step.
func BringUp(def sourcedef.Definition, sink MessageSink) (*State, error) {
	log := logging.For("monitor")

	ifname := def.Interface()
	if ifname == "" {
		return nil, errors.New("monitor: source definition missing interface=")
	}

	// Step 1: resolve MAC.
	wclient, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("monitor: cannot open generic netlink wifi client: %w", err)
	}
	defer wclient.Close()

	ifaces, err := wclient.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("monitor: enumerate interfaces: %w", err)
	}
	self, ok := findByName(ifaces, ifname)
	if !ok {
		return nil, fmt.Errorf("monitor: interface %s not found", ifname)
	}
	mac := self.HardwareAddr

	// Step 2: rfkill. A missing rfkill switch for this phy is not an
	// error — plenty of drivers never register one.
	if phyName, phyErr := phyNameFor(ifname); phyErr == nil {
		if st, rkErr := rfkill.FindForPhy(phyName); rkErr == nil {
			if st.Hard {
				return nil, fmt.Errorf("monitor: %s is hard rfkill-blocked; use a physical switch to enable the radio", ifname)
			}
			if st.Soft {
				sink.SendMessage("info", fmt.Sprintf("%s is soft rfkill-blocked, clearing", ifname))
				if err := rfkill.Unblock(phyName, st.Index); err != nil {
					return nil, fmt.Errorf("monitor: cannot clear soft rfkill block on %s: %w", ifname, err)
				}
			}
		}
	}

	// Step 3: synthetic UUID, surfaced for the parent's source-identity log.
	sink.SendMessage("info", fmt.Sprintf("interface %s uuid %s", ifname, syntheticUUID(mac)))

	// Step 4: detect current mode via wireless-ext ioctl; this socket is
	// also reused for the monitor-mode switch in step 7/8.
	wextConn, err := wext.Open()
	if err != nil {
		return nil, fmt.Errorf("monitor: cannot open wireless-extensions socket: %w", err)
	}

	// Step 5: NetworkManager coordination. Best-effort and never fatal
	// (spec.md §7 item 6); the client is dropped immediately after use
	// per spec.md §9 "NM client as a scoped resource".
	resetNMOnExit := false
	if nm, nmErr := nmclient.Connect(); nmErr == nil {
		wasManaged, disownErr := nm.Disown(ifname)
		if disownErr != nil {
			sink.SendMessage("info", fmt.Sprintf("NetworkManager: %v", disownErr))
		}
		resetNMOnExit = wasManaged
		_ = nm.Close()
	} else {
		sink.SendMessage("info", fmt.Sprintf("NetworkManager unavailable: %v", nmErr))
	}

	// Step 6: choose capture interface name.
	vifOverride, _ := def.Vif()
	existing := toExistingInterfaces(ifaces, wextConn)
	capIface, err := chooseCapInterfaceName(ifname, vifOverride, mac.String(), existing)
	if err != nil {
		wextConn.Close()
		return nil, fmt.Errorf("monitor: %w", err)
	}

	st := &State{
		Interface:     ifname,
		CapInterface:  capIface,
		WEXT:          wextConn,
		ResetNMOnExit: resetNMOnExit,
	}

	// Step 7: bring to monitor mode via whichever control plane works.
	if err := bringToMonitor(st, def, self.Index); err != nil {
		wextConn.Close()
		return nil, fmt.Errorf("monitor: %w", err)
	}

	// Step 8: link-layer state.
	rt, err := rtlink.Dial()
	if err != nil {
		return nil, fmt.Errorf("monitor: cannot open route netlink: %w", err)
	}
	st.RT = rt

	capIdx, err := rtlink.Index(st.CapInterface)
	if err != nil {
		return nil, fmt.Errorf("monitor: resolve index for %s: %w", st.CapInterface, err)
	}
	st.Ifindex = capIdx

	if st.createdVif && !def.Bool("ignoreprimary") {
		if err := rt.Down(self.Index); err != nil {
			sink.SendMessage("error", fmt.Sprintf("cannot bring %s down: %v", ifname, err))
		}
	}
	if err := rt.Up(capIdx); err != nil {
		return nil, fmt.Errorf("monitor: cannot bring %s up: %w", st.CapInterface, err)
	}

	// Step 9: repopulate channel list against cap_interface — vifs expose
	// their own list, which can differ from the physical device's.
	channels, err := ifprobe.ProbeInterface(st.CapInterface)
	if err != nil {
		log.WithField("interface", st.CapInterface).Warnf("cannot repopulate channel list: %v", err)
	}
	st.ChannelList = channels

	// Step 10: open pcap.
	h, err := capture.Open(st.CapInterface)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	st.Capture = h
	st.DatalinkType = h.DatalinkType()

	return st, nil
}

// bringToMonitor implements spec.md §4.3 step 7: reuse the chosen capture
// interface if it already exists in monitor mode, otherwise try nl80211
// first, falling back to the legacy ioctl mode switch whenever netlink is
// unavailable or vif creation fails.
func bringToMonitor(st *State, def sourcedef.Definition, physIfindex int) error {
	nl, err := nl80211x.Dial()

	if st.CapInterface != st.Interface {
		// The chosen name already exists in monitor mode (a reused monitor
		// sibling, or a leftover <interface>mon): use it as is, no vif
		// creation and no mode switch.
		if _, idxErr := rtlink.Index(st.CapInterface); idxErr == nil {
			if mon, modeErr := st.WEXT.IsMonitorMode(st.CapInterface); modeErr == nil && mon {
				if err == nil {
					st.NL = nl
					st.UseMac80211 = true
				}
				return nil
			}
		}
	}

	if err != nil {
		// Netlink unavailable from the outset: switch the original
		// interface in place and capture on it.
		if err := st.WEXT.SetMode(st.Interface, wext.IwModeMonitor); err != nil {
			return fmt.Errorf("ioctl monitor switch on %s: %w", st.Interface, err)
		}
		st.CapInterface = st.Interface
		st.UseMac80211 = false
		return nil
	}

	if st.CapInterface == st.Interface {
		// No vif needed (reusing an existing monitor sibling never lands
		// here; this is the "switch the original interface" case).
		nl.Close()
		if err := st.WEXT.SetMode(st.Interface, wext.IwModeMonitor); err != nil {
			return fmt.Errorf("ioctl monitor switch on %s: %w", st.Interface, err)
		}
		st.UseMac80211 = false
		return nil
	}

	var mntrFlags uint32 = nl80211.MntrFlagControl | nl80211.MntrFlagOtherBss
	if def.Bool("fcsfail") {
		mntrFlags |= nl80211.MntrFlagFcsfail
	}
	if def.Bool("plcpfail") {
		mntrFlags |= nl80211.MntrFlagPlcpfail
	}

	if err := nl.NewMonitorVif(physIfindex, st.CapInterface, mntrFlags); err != nil {
		// Vif creation failed: fall back to the in-place ioctl switch and
		// release the netlink handles — we are now in legacy mode. Per
		// spec.md §9's open question, cap_interface must be reset to the
		// original interface name here so downstream steps and
		// diagnostics agree (the reference implementation's bug, not
		// reproduced here).
		nl.Close()
		if fallbackErr := st.WEXT.SetMode(st.Interface, wext.IwModeMonitor); fallbackErr != nil {
			return fmt.Errorf("vif creation failed (%v) and ioctl fallback also failed: %w", err, fallbackErr)
		}
		st.CapInterface = st.Interface
		st.UseMac80211 = false
		return nil
	}

	st.NL = nl
	st.UseMac80211 = true
	st.createdVif = true
	return nil
}

// chooseCapInterfaceName implements spec.md §4.3 step 6's naming policy as
// a pure function over already-enumerated interfaces, so the "Monitor
// naming" testable properties of spec.md §8 can run without touching the
// kernel.
func chooseCapInterfaceName(iface, vifOverride, ifaceMAC string, existing []existingIface) (string, error) {
	if vifOverride != "" {
		return vifOverride, nil
	}

	for _, e := range existing {
		if e.HardwareAddr == ifaceMAC && e.Name != iface && e.IsMonitor {
			return e.Name, nil
		}
	}

	byName := make(map[string]existingIface, len(existing))
	for _, e := range existing {
		byName[e.Name] = e
	}

	if len(iface)+3 <= ifnamsiz {
		candidate := iface + "mon"
		if e, ok := byName[candidate]; ok {
			if !e.IsMonitor {
				return "", fmt.Errorf("interface %s already exists and is not in monitor mode", candidate)
			}
			return candidate, nil
		}
		return candidate, nil
	}

	for n := 0; n < 100; n++ {
		candidate := "kismon" + strconv.Itoa(n)
		if _, ok := byName[candidate]; !ok {
			return candidate, nil
		}
	}

	return "", errors.New("no free kismonN interface name available")
}

func toExistingInterfaces(ifaces []*wifi.Interface, wextConn *wext.Conn) []existingIface {
	out := make([]existingIface, 0, len(ifaces))
	for _, w := range ifaces {
		isMonitor := w.Type == wifi.InterfaceTypeMonitor
		if !isMonitor && wextConn != nil {
			if mode, err := wextConn.Mode(w.Name); err == nil {
				isMonitor = mode == wext.IwModeMonitor
			}
		}
		out = append(out, existingIface{Name: w.Name, HardwareAddr: w.HardwareAddr.String(), IsMonitor: isMonitor})
	}
	return out
}

func findByName(ifaces []*wifi.Interface, name string) (*wifi.Interface, bool) {
	for _, w := range ifaces {
		if w.Name == name {
			return w, true
		}
	}
	return nil, false
}

func phyNameFor(ifname string) (string, error) {
	b, err := os.ReadFile(filepath.Join("/sys/class/net", ifname, "phy80211", "name"))
	if err != nil {
		return "", fmt.Errorf("monitor: resolve phy for %s: %w", ifname, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// syntheticUUID formats the adler32-of-build-constant / MAC synthetic UUID
// of spec.md §4.3 step 3, deterministic over (build constant, MAC).
func syntheticUUID(mac net.HardwareAddr) string {
	sum := adler32.Checksum([]byte(uuidBuildConstant))
	macHex := strings.ReplaceAll(mac.String(), ":", "")
	return fmt.Sprintf("%08x-0000-0000-0000-%s", sum, macHex)
}

// Teardown releases every resource BringUp acquired, in the order spec.md
// §5 "Resource discipline" requires, and reconnects NetworkManager if this
// helper disowned the interface. Best-effort throughout: every failure is
// accumulated into one multierror and logged as a single line rather than
// escalated (spec.md §4.6 step 5, §7 item 6), the same discipline
// internal/nmclient uses for its own disown/reown sequence.
func Teardown(st *State) {
	if st == nil {
		return
	}
	log := logging.For("monitor")

	var result *multierror.Error

	if st.Capture != nil {
		st.Capture.Close()
	}
	if st.createdVif && st.RT != nil {
		if idx, err := rtlink.Index(st.CapInterface); err == nil {
			if err := st.RT.Delete(idx); err != nil {
				result = multierror.Append(result, fmt.Errorf("delete monitor vif %s: %w", st.CapInterface, err))
			}
		}
	}
	if st.RT != nil {
		st.RT.Close()
	}
	if st.NL != nil {
		st.NL.Close()
	}
	if st.WEXT != nil {
		st.WEXT.Close()
	}

	if st.ResetNMOnExit {
		nm, err := nmclient.Connect()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("reconnect to NetworkManager to restore %s: %w", st.Interface, err))
		} else {
			if err := nm.Reown(st.Interface); err != nil {
				result = multierror.Append(result, fmt.Errorf("restore NetworkManager management of %s: %w", st.Interface, err))
			}
			nm.Close()
		}
	}

	if result != nil {
		log.Warnf("teardown: %v", result.ErrorOrNil())
	}
}
