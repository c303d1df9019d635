// Package framework stands in for the capture-framework host library
// described in spec.md §1/§6 as an external collaborator: command framing
// over a pair of file descriptors, an outbound ring buffer with
// backpressure, and the channel-hop scheduler. No such library exists in
// the Go ecosystem (it is Kismet's own datasource-framework protocol); this
// is a minimal, self-contained stand-in so the rest of the helper has a
// real contract to register callbacks against and so C5's backpressure
// handling is exercisable in tests. See DESIGN.md for why this one package
// is stdlib-only by necessity rather than choice.
package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"
)

// MessageLevel mirrors the framework's informational/error/fatal message
// channels (spec.md §6).
type MessageLevel string

const (
	LevelInfo  MessageLevel = "info"
	LevelError MessageLevel = "error"
	LevelFatal MessageLevel = "fatal"
)

// OpenResult is what the OPEN callback hands back to the framework: the
// interface actually opened for capture and the datalink type pcap
// reported, per spec.md §3 "Interface state".
type OpenResult struct {
	CapInterface string
	DatalinkType int
	ChannelList  []string
}

// ProbeFunc implements C2: given a source definition, report the channel
// list a device supports (or an error if it is not usable).
type ProbeFunc func(definition string) ([]string, error)

// OpenFunc implements C3: bring an interface into monitor mode and open it
// for capture.
type OpenFunc func(definition string) (*OpenResult, error)

// ChanTranslateFunc implements C1: parse a channel spec string. The second
// return value carries channel.Parse's informational warnings; the
// Framework forwards each as a LevelInfo message.
type ChanTranslateFunc func(spec string) (parsed interface{}, warnings []string, err error)

// ChanControlFunc implements C4: apply a previously-translated channel.
// seqno == 0 means "internal hop", any other value is an explicit parent
// request; the failure-tolerance asymmetry lives in the callback, not here.
type ChanControlFunc func(parsed interface{}, seqno uint32) error

// CaptureFunc implements C5: block until the capture source is exhausted or
// ctx is cancelled, pushing frames through f.SendData.
type CaptureFunc func(ctx context.Context, f *Framework) error

// ListEntry is one interface reported in response to a bare LIST command
// (SPEC_FULL.md §5 item 1: LIST is answered with every interface under
// /sys/class/net, each flagged as wireless or not, not just the one a
// definition names).
type ListEntry struct {
	Name     string `json:"name"`
	Wireless bool   `json:"wireless"`
}

// ListFunc answers a bare LIST command with every interface worth
// reporting to the parent.
type ListFunc func() ([]ListEntry, error)

// RegisterList registers the LIST callback.
func (f *Framework) RegisterList(fn ListFunc) { f.list = fn }

// Framework is the callback-registration and fd-framing contract this
// helper consumes, per spec.md §6.
type Framework struct {
	in  io.Reader
	out io.Writer

	probe         ProbeFunc
	list          ListFunc
	open          OpenFunc
	chanTranslate ChanTranslateFunc
	chanControl   ChanControlFunc
	capture       CaptureFunc

	hopShuffleSpacing int
	ring              *ringBuffer

	openResult *OpenResult
}

// New wraps the two framework fds. in carries control commands from the
// parent; out carries messages, configure-responses, and data frames back.
func New(in *os.File, out *os.File) *Framework {
	return &Framework{
		in:  in,
		out: out,
		ring: newRingBuffer(256),
	}
}

// RegisterProbe registers the C2 callback.
func (f *Framework) RegisterProbe(fn ProbeFunc) { f.probe = fn }

// RegisterOpen registers the C3 callback.
func (f *Framework) RegisterOpen(fn OpenFunc) { f.open = fn }

// RegisterChanTranslate registers the C1 callback.
func (f *Framework) RegisterChanTranslate(fn ChanTranslateFunc) { f.chanTranslate = fn }

// RegisterChanControl registers the C4 callback.
func (f *Framework) RegisterChanControl(fn ChanControlFunc) { f.chanControl = fn }

// RegisterCapture registers the C5 callback, spawned on its own goroutine
// (the "capture thread" of spec.md §5) once OPEN succeeds.
func (f *Framework) RegisterCapture(fn CaptureFunc) { f.capture = fn }

// SetHopShuffleSpacing configures the hop scheduler's shuffle stride
// (spec.md §4.6 step 3 — chosen by the caller for channel diversity; the
// scheduling policy itself is out of scope here per spec.md §1).
func (f *Framework) SetHopShuffleSpacing(n int) { f.hopShuffleSpacing = n }

// SendData attempts to hand one captured frame to the parent. It returns 0
// if the ring buffer is full (the caller should wait on WaitForSpace and
// retry) and >0 once the frame is queued. C5's dispatch loop in spec.md
// §4.5 also handles <0 as a fatal transport error, but this implementation
// never returns it: the drain goroutine discards errors from writing to out.
func (f *Framework) SendData(ts time.Time, dlt int, caplen int, data []byte) int {
	ok := f.ring.tryPush(dataFrame{ts: ts, dlt: dlt, caplen: caplen, data: data})
	if !ok {
		return 0
	}
	return 1
}

// WaitForSpace blocks until the ring buffer has drained at least one slot,
// or ctx is cancelled. It is the "park on ring-buffer has space condition"
// step of spec.md §4.5.
func (f *Framework) WaitForSpace(ctx context.Context) {
	f.ring.waitForSpace(ctx)
}

// wireMessage is the control-plane JSON envelope written to out: one
// message, config-response, or spindown request per line.
type wireMessage struct {
	Type    string      `json:"type"`
	Level   string      `json:"level,omitempty"`
	Text    string      `json:"text,omitempty"`
	Channel string      `json:"channel,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Entries []ListEntry `json:"entries,omitempty"`
}

func (f *Framework) writeLine(m wireMessage) {
	enc := json.NewEncoder(f.out)
	_ = enc.Encode(m)
}

// SendMessage pushes an informational/error/fatal message to the parent,
// per spec.md §6 "Messages".
func (f *Framework) SendMessage(level MessageLevel, text string) {
	f.writeLine(wireMessage{Type: "MESSAGE", Level: string(level), Text: text})
}

// SendConfigResponse reports the channel string that actually landed after
// an explicit configure, per spec.md §4.4.
func (f *Framework) SendConfigResponse(channelString string) {
	f.writeLine(wireMessage{Type: "CONFIGRESP", Channel: channelString})
}

// RequestSpindown asks the framework to wind the capture source down, per
// the termination sequence in spec.md §5.
func (f *Framework) RequestSpindown(reason string) {
	f.writeLine(wireMessage{Type: "SPINDOWN", Reason: reason})
}

// wireCommand is a control-plane command read from in.
type wireCommand struct {
	Cmd        string `json:"cmd"`
	Definition string `json:"definition,omitempty"`
	Seqno      uint32 `json:"seqno,omitempty"`
}

// Run is the control thread's cooperative event loop (spec.md §5): it reads
// PROBE/LIST/OPEN/CONFIGURE commands from in, dispatches to the registered
// callbacks, starts the capture goroutine after a successful OPEN, and
// drives the hop ticker. It returns when ctx is cancelled or in is
// exhausted.
func (f *Framework) Run(ctx context.Context) error {
	dec := json.NewDecoder(f.in)

	go f.runDrain(ctx)

	captureErrCh := make(chan error, 1)
	var hopTicker *time.Ticker
	var hopChannels []string
	var hopIdx int

	stopHop := func() {
		if hopTicker != nil {
			hopTicker.Stop()
			hopTicker = nil
		}
	}
	defer stopHop()

	// One decode in flight at a time: the goroutine blocks on sending a
	// decoded command until the select loop below consumes it, then moves
	// on to the next Decode call.
	cmdCh := make(chan wireCommand)
	cmdErr := make(chan error, 1)
	go func() {
		for {
			var cmd wireCommand
			if err := dec.Decode(&cmd); err != nil {
				cmdErr <- err
				return
			}
			cmdCh <- cmd
		}
	}()

	for {
		var hopC <-chan time.Time
		if hopTicker != nil {
			hopC = hopTicker.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-captureErrCh:
			stopHop()
			if err != nil {
				f.SendMessage(LevelError, fmt.Sprintf("capture ended: %v", err))
			}
			f.RequestSpindown("capture source exhausted")
			return err

		case <-hopC:
			if len(hopChannels) == 0 || f.chanTranslate == nil || f.chanControl == nil {
				continue
			}
			spec := hopChannels[hopIdx]
			hopIdx = (hopIdx + f.hopShuffleSpacing) % len(hopChannels)
			parsed, warnings, err := f.chanTranslate(spec)
			for _, w := range warnings {
				f.SendMessage(LevelInfo, w)
			}
			if err != nil {
				f.SendMessage(LevelError, fmt.Sprintf("hop: cannot translate %q: %v", spec, err))
				continue
			}
			if err := f.chanControl(parsed, 0); err != nil {
				// chanControl already reported the hop failure via
				// SendMessage; C4 owns the 10-failure tolerance policy
				// for seqno==0 and a tolerated failure must not tear
				// down the control loop.
				continue
			}

		case cmd := <-cmdCh:
			switch cmd.Cmd {
			case "LIST":
				if f.list == nil {
					f.SendMessage(LevelError, "no list callback registered")
					continue
				}
				entries, err := f.list()
				if err != nil {
					f.SendMessage(LevelError, err.Error())
					continue
				}
				f.writeLine(wireMessage{Type: "LISTRESP", Entries: entries})

			case "PROBE":
				if f.probe == nil {
					f.SendMessage(LevelFatal, "no probe callback registered")
					continue
				}
				channels, err := f.probe(cmd.Definition)
				if err != nil {
					f.SendMessage(LevelFatal, err.Error())
					continue
				}
				hopChannels = channels

			case "OPEN":
				if f.open == nil {
					f.SendMessage(LevelFatal, "no open callback registered")
					continue
				}
				result, err := f.open(cmd.Definition)
				if err != nil {
					f.SendMessage(LevelFatal, err.Error())
					return err
				}
				f.openResult = result
				if len(result.ChannelList) > 0 {
					hopChannels = result.ChannelList
					hopIdx = rand.Intn(len(hopChannels))
					hopTicker = time.NewTicker(time.Second)
				}
				if f.capture != nil {
					go func() {
						captureErrCh <- f.capture(ctx, f)
					}()
				}

			case "CONFIGURE":
				if f.chanTranslate == nil || f.chanControl == nil {
					f.SendMessage(LevelFatal, "no channel control callbacks registered")
					continue
				}
				parsed, warnings, err := f.chanTranslate(cmd.Definition)
				for _, w := range warnings {
					f.SendMessage(LevelInfo, w)
				}
				if err != nil {
					f.SendMessage(LevelFatal, err.Error())
					continue
				}
				if err := f.chanControl(parsed, cmd.Seqno); err != nil {
					// A fatal error from an explicit configure is one of
					// spec.md §5's three termination triggers: stop the
					// hopper, tell the parent, and unwind the control
					// loop the same way a capture-source failure does.
					f.SendMessage(LevelFatal, err.Error())
					stopHop()
					f.RequestSpindown(fmt.Sprintf("configure failed: %v", err))
					return err
				}

			default:
				f.SendMessage(LevelError, fmt.Sprintf("unknown command %q", cmd.Cmd))
			}

		case err := <-cmdErr:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("framework: control read: %w", err)
		}
	}
}
