// Package nmclient provides the brief, scoped NetworkManager coordination
// described in spec.md §4.3 step 5 and §9 "NM client as a scoped resource":
// connect, disown-or-reown a single interface, disconnect. It is never held
// across the event loop — callers acquire a Client, use it once, and close
// it immediately, re-acquiring for the symmetric operation at exit.
//
// NetworkManager errors are always informational, never fatal (spec.md §7
// item 6); Disown/Reown stop at the first failing step and return that
// error wrapped in a *multierror.Error, so the caller logs one line.
package nmclient

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-multierror"
)

const (
	nmService   = "org.freedesktop.NetworkManager"
	nmObject    = "/org/freedesktop/NetworkManager"
	nmIface     = "org.freedesktop.NetworkManager"
	deviceIface = "org.freedesktop.NetworkManager.Device"
	propsIface  = "org.freedesktop.DBus.Properties"
)

// Client is a short-lived handle onto the system D-Bus NetworkManager
// service.
type Client struct {
	conn *dbus.Conn
}

// Connect dials the system bus. Errors here are still informational to the
// caller (spec.md §7 item 6): a system without NetworkManager running is a
// normal configuration, not a fatal one.
func Connect() (*Client, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("nmclient: connect to system bus: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the bus connection. Must be called promptly after use —
// holding it across the event loop accumulates unbounded NM signal traffic.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) deviceForInterface(ifname string) (dbus.ObjectPath, error) {
	nm := c.conn.Object(nmService, dbus.ObjectPath(nmObject))

	var path dbus.ObjectPath
	err := nm.Call(nmIface+".GetDeviceByIpIface", 0, ifname).Store(&path)
	if err != nil {
		return "", fmt.Errorf("nmclient: GetDeviceByIpIface(%s): %w", ifname, err)
	}
	return path, nil
}

func (c *Client) managed(path dbus.ObjectPath) (bool, error) {
	dev := c.conn.Object(nmService, path)

	var variant dbus.Variant
	err := dev.Call(propsIface+".Get", 0, deviceIface, "Managed").Store(&variant)
	if err != nil {
		return false, fmt.Errorf("nmclient: get Managed property: %w", err)
	}
	managed, ok := variant.Value().(bool)
	if !ok {
		return false, fmt.Errorf("nmclient: Managed property was not a bool: %v", variant)
	}
	return managed, nil
}

func (c *Client) setManaged(path dbus.ObjectPath, managed bool) error {
	dev := c.conn.Object(nmService, path)
	err := dev.Call(propsIface+".Set", 0, deviceIface, "Managed", dbus.MakeVariant(managed)).Err
	if err != nil {
		return fmt.Errorf("nmclient: set Managed=%v: %w", managed, err)
	}
	return nil
}

// Disown finds ifname's NetworkManager device and, if currently managed,
// sets Managed=false so the interface can be reconfigured into monitor
// mode. It reports whether the interface was managed (and therefore should
// be re-owned at exit) and a combined, always-non-fatal error.
func (c *Client) Disown(ifname string) (wasManaged bool, err error) {
	var result *multierror.Error

	path, findErr := c.deviceForInterface(ifname)
	if findErr != nil {
		result = multierror.Append(result, findErr)
		return false, result.ErrorOrNil()
	}

	managed, managedErr := c.managed(path)
	if managedErr != nil {
		result = multierror.Append(result, managedErr)
		return false, result.ErrorOrNil()
	}
	if !managed {
		return false, nil
	}

	if err := c.setManaged(path, false); err != nil {
		result = multierror.Append(result, err)
		return false, result.ErrorOrNil()
	}

	return true, nil
}

// Reown restores Managed=true for ifname, the exit-path counterpart to
// Disown (spec.md §4.6 step 5). Best-effort: errors are returned but never
// meant to be treated as fatal by the caller.
func (c *Client) Reown(ifname string) error {
	var result *multierror.Error

	path, err := c.deviceForInterface(ifname)
	if err != nil {
		result = multierror.Append(result, err)
		return result.ErrorOrNil()
	}

	if err := c.setManaged(path, true); err != nil {
		result = multierror.Append(result, err)
		return result.ErrorOrNil()
	}

	return nil
}
