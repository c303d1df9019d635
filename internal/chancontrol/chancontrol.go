// Package chancontrol implements C4: applying a parsed channel via whichever
// control plane monitor bring-up selected, with the seqno-based failure
// tolerance policy from spec.md §4.4/§7.
package chancontrol

import (
	"fmt"

	"github.com/xlab/nl80211/nl80211"

	"github.com/kismetwireless/capture-linux-wifi/internal/channel"
	"github.com/kismetwireless/capture-linux-wifi/internal/logging"
	"github.com/kismetwireless/capture-linux-wifi/internal/nl80211x"
	"github.com/kismetwireless/capture-linux-wifi/internal/wext"
)

// hoppingTolerance is the number of consecutive internal (seqno==0)
// failures tolerated before escalating to fatal, per spec.md §4.4.
const hoppingTolerance = 10

// MessageSink is the narrow slice of the framework contract C4 needs: the
// error-message channel and the configure-response channel.
type MessageSink interface {
	SendMessage(level, text string)
	SendConfigResponse(channelString string)
}

// Controller holds the interface-state fields C4 reads and mutates:
// spec.md §3 "Netlink handles" (owned elsewhere, used here) and
// seq_channel_failure (owned here).
type Controller struct {
	Table channel.Table

	UseMac80211 bool
	NL          *nl80211x.Handles // nil when UseMac80211 is false
	Ifindex     int               // cap interface ifindex, for the netlink plane

	WEXT   *wext.Conn
	Ifname string // underlying interface name, for the legacy ioctl plane

	seqChannelFailure int

	// applyOverride lets tests substitute a scripted apply function
	// instead of driving real netlink/ioctl handles; production code
	// leaves it nil and Set uses c.apply.
	applyOverride func(*channel.Parsed) error
}

// FailureCount reports the current consecutive-failure streak, exposed for
// tests and diagnostics.
func (c *Controller) FailureCount() int { return c.seqChannelFailure }

func nlWidth(w channel.Width) uint32 {
	switch w {
	case channel.Width5:
		return nl80211.ChanWidth5
	case channel.Width10:
		return nl80211.ChanWidth10
	case channel.Width80:
		return nl80211.ChanWidth80
	case channel.Width160:
		return nl80211.ChanWidth160
	default:
		return nl80211.ChanWidth20Noht
	}
}

func nlChanType(t channel.ChanType) uint32 {
	switch t {
	case channel.HT40Plus:
		return nl80211.ChanHt40plus
	case channel.HT40Minus:
		return nl80211.ChanHt40minus
	default:
		return nl80211.ChanHt20
	}
}

func (c *Controller) apply(p *channel.Parsed) error {
	entry, ok := c.Table.ByChannel(p.ControlChannel)
	if !ok {
		return fmt.Errorf("chancontrol: channel %d not present in PHY table", p.ControlChannel)
	}
	freq := entry.FreqMHz

	if !c.UseMac80211 {
		return c.WEXT.SetFrequency(c.Ifname, freq)
	}

	if p.ChanWidth != channel.Width20 {
		return c.NL.SetFrequency(c.Ifindex, freq, nlWidth(p.ChanWidth), p.CenterFreq1, p.CenterFreq2)
	}
	return c.NL.SetChannel(c.Ifindex, freq, nlChanType(p.ChanType))
}

// Set applies parsed via whichever plane is active, with the asymmetric
// failure policy from spec.md §4.4: seqno==0 (the internal hopper) tolerates
// up to hoppingTolerance consecutive failures before escalating to fatal;
// any other seqno (an explicit parent configure) is fatal on the first
// failure and, on success, reports the channel that landed.
func (c *Controller) Set(sink MessageSink, p *channel.Parsed, seqno uint32) error {
	log := logging.For("chancontrol")

	applyFn := c.applyOverride
	if applyFn == nil {
		applyFn = c.apply
	}
	err := applyFn(p)

	if seqno != 0 {
		if err != nil {
			sink.SendMessage("error", fmt.Sprintf("configure failed: %v", err))
			return err
		}
		sink.SendConfigResponse(channel.Render(p))
		return nil
	}

	// Internal hop request.
	if err == nil {
		c.seqChannelFailure = 0
		return nil
	}

	c.seqChannelFailure++
	log.WithField("seqno", seqno).Warnf("channel set failed (%d/%d consecutive): %v",
		c.seqChannelFailure, hoppingTolerance, err)

	if c.seqChannelFailure > hoppingTolerance {
		sink.SendMessage("fatal", fmt.Sprintf(
			"channel set failed %d consecutive times, giving up: %v", c.seqChannelFailure, err))
		return err
	}

	sink.SendMessage("error", fmt.Sprintf("channel set failed (tolerated): %v", err))
	return err
}
