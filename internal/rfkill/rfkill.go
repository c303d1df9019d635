// Package rfkill implements the Linux rfkill coordination step of monitor
// bring-up (spec.md §4.3 step 2): detect hard/soft block state for the wifi
// rfkill switch tied to an interface's phy, and clear a soft block.
//
// There is no third-party Go rfkill client in the retrieval pack; this talks
// directly to /sys/class/rfkill and /dev/rfkill, which is the kernel ABI
// itself rather than a library surface (see DESIGN.md).
package rfkill

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	typeWLAN = 1
	opChange = 2

	unblockAttempts = 5
	unblockInterval = 20 * time.Millisecond
)

// State is the hard/soft block state of one rfkill switch.
type State struct {
	Index uint32
	Hard  bool
	Soft  bool
}

// event mirrors struct rfkill_event from linux/rfkill.h.
type event struct {
	Idx  uint32
	Type uint8
	Op   uint8
	Soft uint8
	Hard uint8
}

// FindForPhy returns the rfkill switch state for the radio identified by
// phyName (e.g. "phy0"), matched via /sys/class/rfkill/rfkillN/name.
func FindForPhy(phyName string) (*State, error) {
	entries, err := os.ReadDir("/sys/class/rfkill")
	if err != nil {
		return nil, fmt.Errorf("rfkill: read /sys/class/rfkill: %w", err)
	}

	for _, ent := range entries {
		base := "/sys/class/rfkill/" + ent.Name()

		name, err := readTrimmed(filepath.Join(base, "name"))
		if err != nil || name != phyName {
			continue
		}

		idxStr := strings.TrimPrefix(ent.Name(), "rfkill")
		idx, err := strconv.ParseUint(idxStr, 10, 32)
		if err != nil {
			continue
		}

		hard, err := readBool(filepath.Join(base, "hard"))
		if err != nil {
			return nil, fmt.Errorf("rfkill: read hard state for %s: %w", phyName, err)
		}
		soft, err := readBool(filepath.Join(base, "soft"))
		if err != nil {
			return nil, fmt.Errorf("rfkill: read soft state for %s: %w", phyName, err)
		}

		return &State{Index: uint32(idx), Hard: hard, Soft: soft}, nil
	}

	return nil, fmt.Errorf("rfkill: no rfkill switch found for %s", phyName)
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readBool(path string) (bool, error) {
	s, err := readTrimmed(path)
	if err != nil {
		return false, err
	}
	return s == "1", nil
}

// Unblock clears a soft rfkill block by writing an RFKILL_OP_CHANGE event to
// /dev/rfkill, then polls sysfs for up to unblockAttempts*unblockInterval to
// confirm the clear landed, since the kernel applies it asynchronously.
func Unblock(phyName string, idx uint32) error {
	f, err := os.OpenFile("/dev/rfkill", os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("rfkill: open /dev/rfkill: %w", err)
	}
	defer f.Close()

	ev := event{Idx: idx, Type: typeWLAN, Op: opChange, Soft: 0, Hard: 0}
	if err := binary.Write(f, binary.LittleEndian, ev); err != nil {
		return fmt.Errorf("rfkill: write unblock event for index %d: %w", idx, err)
	}

	var lastErr error
	for i := 0; i < unblockAttempts; i++ {
		time.Sleep(unblockInterval)
		st, err := FindForPhy(phyName)
		if err != nil {
			lastErr = err
			continue
		}
		if !st.Soft {
			return nil
		}
		lastErr = fmt.Errorf("rfkill: %s still soft-blocked", phyName)
	}

	return fmt.Errorf("rfkill: failed to clear soft block on %s: %w", phyName, lastErr)
}
