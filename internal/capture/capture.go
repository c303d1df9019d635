// Package capture implements C5, the blocking pcap capture loop and its
// backpressure-aware handoff into the framework's outbound ring buffer, per
// spec.md §4.5.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/kismetwireless/capture-linux-wifi/internal/logging"
)

const (
	snaplen     = 8192
	promiscuous = true
	readTimeout = 1000 * time.Millisecond
)

// Sink is the subset of *framework.Framework that the dispatch loop needs.
// Defining it narrowly here (rather than importing the concrete type)
// keeps the backpressure retry logic unit-testable with a stub, matching
// the "Simulate send_data returning 0 three times then >0" property in
// spec.md §8.
type Sink interface {
	SendData(ts time.Time, dlt int, caplen int, data []byte) int
	WaitForSpace(ctx context.Context)
	SendMessage(level string, text string)
	RequestSpindown(reason string)
}

// Handle is the capture-side view of interface state C5 needs: the pcap
// handle, the reported datalink type, and the capture interface name for
// the post-mortem "is it still up" check.
type Handle struct {
	pd           *pcap.Handle
	datalinkType int
	capInterface string
}

// Open opens capInterface for capture with the parameters spec.md §4.3 step
// 10 specifies, and records the datalink type pcap reports.
func Open(capInterface string) (*Handle, error) {
	pd, err := pcap.OpenLive(capInterface, snaplen, promiscuous, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", capInterface, err)
	}
	return &Handle{
		pd:           pd,
		datalinkType: int(pd.LinkType()),
		capInterface: capInterface,
	}, nil
}

// DatalinkType returns the datalink type pcap reported at open.
func (h *Handle) DatalinkType() int { return h.datalinkType }

// Close releases the pcap handle.
func (h *Handle) Close() {
	if h != nil && h.pd != nil {
		h.pd.Close()
	}
}

// dispatch hands one captured frame to sink with bounded retry on
// backpressure, implementing the pseudocode in spec.md §4.5 verbatim:
// r<0 terminates, r==0 parks and retries, r>0 returns.
func dispatch(ctx context.Context, sink Sink, ts time.Time, dlt, caplen int, data []byte) (terminate bool) {
	for {
		r := sink.SendData(ts, dlt, caplen, data)
		switch {
		case r < 0:
			return true
		case r == 0:
			sink.WaitForSpace(ctx)
			select {
			case <-ctx.Done():
				return true
			default:
			}
			continue
		default:
			return false
		}
	}
}

// interfaceIsUp reports whether capInterface currently carries IFF_UP, used
// to attach the "unplugged, or DHCP/NM reclaimed it" hint in spec.md §4.5.
// A lookup failure is treated the same as "not up" since either way the
// interface is gone.
func interfaceIsUp(capInterface string, flagsFn func(string) (bool, error)) bool {
	up, err := flagsFn(capInterface)
	return err == nil && up
}

// Run blocks inside the pcap capture loop, forwarding every frame to sink
// until the handle is closed/breaks or ctx is cancelled. flagsFn reports
// whether capInterface is currently UP and is injected so tests don't need
// a real netlink/ioctl path; production callers pass a thin wrapper over
// internal/rtlink or net.InterfaceByName.
func Run(ctx context.Context, h *Handle, sink Sink, flagsFn func(string) (bool, error)) error {
	log := logging.For("capture")

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		default:
		}

		data, ci, readErr := h.pd.ReadPacketData()
		if readErr != nil {
			if errors.Is(readErr, pcap.NextErrorTimeoutExpired) {
				continue
			}
			err = readErr
			break loop
		}

		terminate := dispatch(ctx, sink, ci.Timestamp, h.datalinkType, ci.CaptureLength, data)
		if terminate {
			err = fmt.Errorf("terminated by framework")
			break loop
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if reason == "" {
		return nil
	}

	if !interfaceIsUp(h.capInterface, flagsFn) {
		reason = strings.TrimSpace(reason + "; interface is no longer up (unplugged, or DHCP/NetworkManager reclaimed it)")
	}

	log.WithField("interface", h.capInterface).Errorf("capture ended: %s", reason)
	sink.SendMessage("error", reason)
	sink.RequestSpindown(reason)

	return fmt.Errorf("capture: %s", reason)
}
