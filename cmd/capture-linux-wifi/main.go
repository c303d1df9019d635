// Command capture-linux-wifi is the privileged, single-interface capture
// helper described in spec.md §1/§6: it discovers a wireless interface,
// coerces it into monitor mode, and streams raw 802.11 frames to a
// supervising parent over a pair of file descriptors while accepting
// channel-tuning commands in real time. See spec.md §4.6 (C6) for the
// process lifecycle this file wires together.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kismetwireless/capture-linux-wifi/internal/capture"
	"github.com/kismetwireless/capture-linux-wifi/internal/chancontrol"
	"github.com/kismetwireless/capture-linux-wifi/internal/channel"
	"github.com/kismetwireless/capture-linux-wifi/internal/framework"
	"github.com/kismetwireless/capture-linux-wifi/internal/ifprobe"
	"github.com/kismetwireless/capture-linux-wifi/internal/logging"
	"github.com/kismetwireless/capture-linux-wifi/internal/monitor"
	"github.com/kismetwireless/capture-linux-wifi/internal/pcapdump"
	"github.com/kismetwireless/capture-linux-wifi/internal/sourcedef"
)

// envPrefix is the prefix viper binds flags to, so a supervising parent can
// configure this helper via CAPTURE_LINUX_WIFI_* environment variables
// instead of argv surgery (SPEC_FULL.md §2 "CLI").
const envPrefix = "CAPTURE_LINUX_WIFI"

// hopShuffleSpacing is the hop scheduler's shuffle stride, chosen for
// maximal 2.4 GHz channel diversity (spec.md §4.6 step 3).
const hopShuffleSpacing = 4

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "capture-linux-wifi",
		Short:         "Linux Wi-Fi monitor-mode capture helper",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := cmd.Flags()
	flags.Int("in-fd", -1, "framework control-read file descriptor")
	flags.Int("out-fd", -1, "framework control-write file descriptor")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("pcap-dump", "", "tee every captured frame to this pcap file, for field debugging")

	for _, name := range []string{"in-fd", "out-fd", "log-level", "pcap-dump"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// frameworkSink adapts *framework.Framework's typed MessageLevel parameter
// to the plain-string interfaces internal/monitor, internal/chancontrol,
// and internal/capture are written against, so those packages stay
// decoupled from the framework package for unit testing (see their stub
// sinks) while production code drives the real one.
type frameworkSink struct {
	f *framework.Framework
}

func (s *frameworkSink) SendData(ts time.Time, dlt, caplen int, data []byte) int {
	return s.f.SendData(ts, dlt, caplen, data)
}

func (s *frameworkSink) WaitForSpace(ctx context.Context) { s.f.WaitForSpace(ctx) }

func (s *frameworkSink) SendMessage(level, text string) {
	s.f.SendMessage(framework.MessageLevel(level), text)
}

func (s *frameworkSink) SendConfigResponse(channelString string) {
	s.f.SendConfigResponse(channelString)
}

func (s *frameworkSink) RequestSpindown(reason string) { s.f.RequestSpindown(reason) }

// teeSink decorates a frameworkSink so every frame that's successfully
// handed to the parent is also offered to the optional --pcap-dump writer,
// per SPEC_FULL.md §5 item 3.
type teeSink struct {
	*frameworkSink
	dump *pcapdump.Writer
}

func (t *teeSink) SendData(ts time.Time, dlt, caplen int, data []byte) int {
	r := t.frameworkSink.SendData(ts, dlt, caplen, data)
	if r > 0 && t.dump != nil {
		t.dump.Tee(ts, caplen, data)
	}
	return r
}

func interfaceUp(ifname string) (bool, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return false, err
	}
	return iface.Flags&net.FlagUp != 0, nil
}

func run(cmd *cobra.Command, args []string) error {
	logging.SetLevel(viper.GetString("log-level"))
	log := logging.For("main")

	inFD := viper.GetInt("in-fd")
	outFD := viper.GetInt("out-fd")
	if inFD < 0 || outFD < 0 {
		return fmt.Errorf("capture-linux-wifi: --in-fd and --out-fd are required")
	}

	in := os.NewFile(uintptr(inFD), "framework-in")
	out := os.NewFile(uintptr(outFD), "framework-out")
	if in == nil || out == nil {
		return fmt.Errorf("capture-linux-wifi: invalid --in-fd/--out-fd")
	}

	dumpPath := viper.GetString("pcap-dump")
	if dumpPath != "" {
		expanded, err := homedir.Expand(dumpPath)
		if err != nil {
			return fmt.Errorf("capture-linux-wifi: expand --pcap-dump path: %w", err)
		}
		dumpPath = expanded
	}

	fw := framework.New(in, out)
	sink := &frameworkSink{f: fw}

	var (
		monState   *monitor.State
		controller *chancontrol.Controller
		dump       *pcapdump.Writer
	)

	fw.RegisterList(func() ([]framework.ListEntry, error) {
		entries, err := ifprobe.ListInterfaces()
		if err != nil {
			return nil, err
		}
		out := make([]framework.ListEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, framework.ListEntry{Name: e.Name, Wireless: e.Wireless})
		}
		return out, nil
	})

	fw.RegisterProbe(func(definition string) ([]string, error) {
		return ifprobe.Probe(sourcedef.Parse(definition))
	})

	fw.RegisterChanTranslate(func(spec string) (interface{}, []string, error) {
		p, warnings, err := channel.Parse(channel.DefaultTable, spec)
		if err != nil {
			return nil, warnings, err
		}
		return p, warnings, nil
	})

	fw.RegisterChanControl(func(parsed interface{}, seqno uint32) error {
		p, ok := parsed.(*channel.Parsed)
		if !ok || controller == nil {
			return fmt.Errorf("capture-linux-wifi: channel control invoked before open completed")
		}
		return controller.Set(sink, p, seqno)
	})

	fw.RegisterOpen(func(definition string) (*framework.OpenResult, error) {
		def := sourcedef.Parse(definition)

		st, err := monitor.BringUp(def, sink)
		if err != nil {
			return nil, err
		}
		monState = st

		controller = &chancontrol.Controller{
			Table:       channel.DefaultTable,
			UseMac80211: st.UseMac80211,
			NL:          st.NL,
			Ifindex:     st.Ifindex,
			WEXT:        st.WEXT,
			Ifname:      st.Interface,
		}

		if dumpPath != "" {
			w, dumpErr := pcapdump.Open(dumpPath, 8192, st.DatalinkType)
			if dumpErr != nil {
				log.Warnf("cannot open --pcap-dump tee: %v", dumpErr)
			} else {
				dump = w
			}
		}

		return &framework.OpenResult{
			CapInterface: st.CapInterface,
			DatalinkType: st.DatalinkType,
			ChannelList:  st.ChannelList,
		}, nil
	})

	fw.RegisterCapture(func(ctx context.Context, f *framework.Framework) error {
		captureSink := &teeSink{frameworkSink: sink, dump: dump}
		return capture.Run(ctx, monState.Capture, captureSink, interfaceUp)
	})

	fw.SetHopShuffleSpacing(hopShuffleSpacing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	runErr := fw.Run(ctx)

	if dump != nil {
		if err := dump.Close(); err != nil {
			log.Warnf("cannot close --pcap-dump file: %v", err)
		}
	}
	// Re-own the interface with NetworkManager on every exit path,
	// best-effort, per spec.md §4.6 step 5.
	monitor.Teardown(monState)

	return runErr
}
