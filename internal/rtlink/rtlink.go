// Package rtlink wraps github.com/jsimonetti/rtnetlink for the link-state
// transitions monitor bring-up needs: bringing the vif up, bringing the
// parent interface down (or up, on the single-interface path), and deleting
// a vif this helper created, per spec.md §4.3 step 8 and the teardown path
// of §4.6.
package rtlink

import (
	"fmt"
	"net"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"
)

// Conn is a thin wrapper around an rtnetlink connection.
type Conn struct {
	rt *rtnetlink.Conn
}

// Dial opens the rtnetlink route socket.
func Dial() (*Conn, error) {
	rt, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("rtlink: dial: %w", err)
	}
	return &Conn{rt: rt}, nil
}

// Close releases the rtnetlink socket.
func (c *Conn) Close() error {
	if c == nil || c.rt == nil {
		return nil
	}
	return c.rt.Close()
}

// Index resolves an interface name to its kernel ifindex.
func Index(ifname string) (int, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return 0, fmt.Errorf("rtlink: resolve index for %s: %w", ifname, err)
	}
	return iface.Index, nil
}

func (c *Conn) setFlag(ifindex int, flag uint32, set bool) error {
	var flags uint32
	if set {
		flags = flag
	}
	err := c.rt.Link.Set(&rtnetlink.LinkMessage{
		Family: unix.AF_UNSPEC,
		Index:  uint32(ifindex),
		Flags:  flags,
		Change: flag,
	})
	if err != nil {
		return fmt.Errorf("rtlink: set flags on ifindex %d: %w", ifindex, err)
	}
	return nil
}

// Up brings an interface up (IFF_UP).
func (c *Conn) Up(ifindex int) error {
	return c.setFlag(ifindex, unix.IFF_UP, true)
}

// Down brings an interface down, clearing IFF_UP.
func (c *Conn) Down(ifindex int) error {
	return c.setFlag(ifindex, unix.IFF_UP, false)
}

// Delete removes an interface (used to tear down a monitor vif this helper
// created, should that ever be needed outside of process exit — the kernel
// also reaps vifs whose creating netns/process exits, but explicit cleanup
// keeps state changes symmetric).
func (c *Conn) Delete(ifindex int) error {
	if err := c.rt.Link.Delete(uint32(ifindex)); err != nil {
		return fmt.Errorf("rtlink: delete ifindex %d: %w", ifindex, err)
	}
	return nil
}
