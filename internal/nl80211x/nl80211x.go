// Package nl80211x wraps the mdlayher genetlink/netlink stack with the
// specific nl80211 operations this capture helper needs: family resolution,
// wiphy channel-list retrieval, monitor-vif creation, and channel set/apply.
// It is the "Nl80211" variant of the two-control-plane strategy described in
// spec.md §4.3/§4.4/§9 — the ioctl variant lives in internal/wext.
package nl80211x

import (
	"fmt"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"github.com/xlab/nl80211/nl80211"
)

// Handles bundles the three netlink objects that make up a single owned
// resource: the socket, the resolved nl80211 family, and (implicitly) the
// generic-netlink cache inside genetlink.Conn. Acquire together, release
// together, per spec.md §9.
type Handles struct {
	conn   *genetlink.Conn
	family genetlink.Family
}

// Dial connects to generic netlink and resolves the nl80211 family. A
// failure here means the caller should fall back to the legacy ioctl plane
// entirely (spec.md §4.3 step 7).
func Dial() (*Handles, error) {
	conn, err := genetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("nl80211x: dial genetlink: %w", err)
	}

	fam, err := conn.GetFamily("nl80211")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nl80211x: resolve nl80211 family: %w", err)
	}

	return &Handles{conn: conn, family: fam}, nil
}

// Close releases the netlink socket. Safe to call on a nil receiver so
// defer chains in callers don't need a nil check.
func (h *Handles) Close() error {
	if h == nil || h.conn == nil {
		return nil
	}
	return h.conn.Close()
}

// FamilyVersion reports the resolved nl80211 genetlink family version,
// needed on every message header.
func (h *Handles) FamilyVersion() uint8 {
	return h.family.Version
}

func (h *Handles) execute(cmd uint8, attrs []netlink.Attribute, ack bool) ([]genetlink.Message, error) {
	data, err := netlink.MarshalAttributes(attrs)
	if err != nil {
		return nil, fmt.Errorf("nl80211x: marshal attributes: %w", err)
	}

	msg := genetlink.Message{
		Header: genetlink.Header{
			Command: cmd,
			Version: h.family.Version,
		},
		Data: data,
	}

	flags := netlink.Request
	if ack {
		flags |= netlink.Acknowledge
	}

	return h.conn.Execute(msg, h.family.ID, flags)
}

// NewMonitorVif creates a monitor-mode virtual interface named vifName atop
// the physical device ifindex, with the given NL80211_MNTR_FLAG_* bits, per
// spec.md §4.3 step 7.
func (h *Handles) NewMonitorVif(ifindex int, vifName string, mntrFlags uint32) error {
	attrs := []netlink.Attribute{
		{Type: nl80211.AttrIfindex, Data: nlenc.Uint32Bytes(uint32(ifindex))},
		{Type: nl80211.AttrIfname, Data: nlenc.Bytes(vifName)},
		{Type: nl80211.AttrIftype, Data: nlenc.Uint32Bytes(uint32(nl80211.IftypeMonitor))},
	}
	if mntrFlags != 0 {
		attrs = append(attrs, netlink.Attribute{
			Type: nl80211.AttrMntrFlags,
			Data: nlenc.Uint32Bytes(mntrFlags),
		})
	}

	_, err := h.execute(nl80211.CommandNewInterface, attrs, true)
	if err != nil {
		return fmt.Errorf("nl80211x: new monitor interface %s: %w", vifName, err)
	}
	return nil
}

// SetFrequency applies a control frequency with an explicit width and center
// frequencies — used whenever chan_width != DEFAULT_20, per spec.md §4.4.
// centerFreq1 of 0 is omitted, matching the reference behavior.
func (h *Handles) SetFrequency(ifindex, controlFreqMHz int, nlWidth uint32, centerFreq1, centerFreq2 int) error {
	attrs := []netlink.Attribute{
		{Type: nl80211.AttrIfindex, Data: nlenc.Uint32Bytes(uint32(ifindex))},
		{Type: nl80211.AttrWiphyFreq, Data: nlenc.Uint32Bytes(uint32(controlFreqMHz))},
		{Type: nl80211.AttrChannelWidth, Data: nlenc.Uint32Bytes(nlWidth)},
	}
	if centerFreq1 != 0 {
		attrs = append(attrs, netlink.Attribute{
			Type: nl80211.AttrCenterFreq1,
			Data: nlenc.Uint32Bytes(uint32(centerFreq1)),
		})
	}
	if centerFreq2 != 0 {
		attrs = append(attrs, netlink.Attribute{
			Type: nl80211.AttrCenterFreq2,
			Data: nlenc.Uint32Bytes(uint32(centerFreq2)),
		})
	}

	_, err := h.execute(nl80211.CommandSetChannel, attrs, true)
	if err != nil {
		return fmt.Errorf("nl80211x: set frequency %d: %w", controlFreqMHz, err)
	}
	return nil
}

// SetChannel applies a control frequency with an HT secondary-channel
// position (NO_HT/HT40+/HT40-) for plain 20 MHz channels, per spec.md §4.4.
func (h *Handles) SetChannel(ifindex, controlFreqMHz int, nlChanType uint32) error {
	attrs := []netlink.Attribute{
		{Type: nl80211.AttrIfindex, Data: nlenc.Uint32Bytes(uint32(ifindex))},
		{Type: nl80211.AttrWiphyFreq, Data: nlenc.Uint32Bytes(uint32(controlFreqMHz))},
		{Type: nl80211.AttrWiphyChannelType, Data: nlenc.Uint32Bytes(nlChanType)},
	}

	_, err := h.execute(nl80211.CommandSetChannel, attrs, true)
	if err != nil {
		return fmt.Errorf("nl80211x: set channel %d: %w", controlFreqMHz, err)
	}
	return nil
}

// WiphyChannels returns every control frequency (MHz) the driver reports as
// supported for ifindex's wiphy, by dumping NL80211_CMD_GET_WIPHY and
// walking the nested band/frequency attribute lists.
func (h *Handles) WiphyChannels(ifindex int) ([]int, error) {
	attrs := []netlink.Attribute{
		{Type: nl80211.AttrIfindex, Data: nlenc.Uint32Bytes(uint32(ifindex))},
	}
	data, err := netlink.MarshalAttributes(attrs)
	if err != nil {
		return nil, fmt.Errorf("nl80211x: marshal attributes: %w", err)
	}

	msg := genetlink.Message{
		Header: genetlink.Header{
			Command: nl80211.CommandGetWiphy,
			Version: h.family.Version,
		},
		Data: data,
	}

	msgs, err := h.conn.Execute(msg, h.family.ID, netlink.Request|netlink.Dump)
	if err != nil {
		return nil, fmt.Errorf("nl80211x: get wiphy: %w", err)
	}

	var freqs []int
	for _, m := range msgs {
		dec, err := netlink.NewAttributeDecoder(m.Data)
		if err != nil {
			continue
		}
		for dec.Next() {
			if dec.Type() != nl80211.AttrWiphyBands {
				continue
			}
			dec.Nested(func(band *netlink.AttributeDecoder) error {
				for band.Next() {
					if band.Type() != nl80211.BandAttrFreqs {
						continue
					}
					band.Nested(func(freqList *netlink.AttributeDecoder) error {
						for freqList.Next() {
							freqList.Nested(func(freq *netlink.AttributeDecoder) error {
								for freq.Next() {
									if freq.Type() == nl80211.FrequencyAttrFreq {
										freqs = append(freqs, int(freq.Uint32()))
									}
								}
								return freq.Err()
							})
						}
						return freqList.Err()
					})
				}
				return band.Err()
			})
		}
	}

	return freqs, nil
}
