// Package pcapdump implements the optional debug tee described in
// SPEC_FULL.md §5 item 3: every captured frame is also written to a side
// pcap file, off the capture hot path (C5), so a privileged capture helper
// that otherwise can't be independently inspected has a field-debugging
// escape hatch. Frames are silently dropped on backlog rather than ever
// applying backpressure to the capture loop.
package pcapdump

import (
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/kismetwireless/capture-linux-wifi/internal/logging"
)

// queueDepth bounds how many frames can be buffered waiting to be written
// before new ones are dropped.
const queueDepth = 256

type frame struct {
	ts     time.Time
	caplen int
	data   []byte
}

// Writer tees captured frames to a pcap file from a dedicated goroutine so
// disk I/O never blocks the capture thread.
type Writer struct {
	f      *os.File
	pw     *pcapgo.Writer
	frames chan frame
	done   chan struct{}
}

// Open creates path (truncating any existing file), writes the pcap file
// header for the given snapshot length and datalink type, and starts the
// writer goroutine. Close must be called to flush and release the file.
func Open(path string, snaplen, dlt int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("pcapdump: create %s: %w", path, err)
	}

	pw := pcapgo.NewWriter(f)
	if err := pw.WriteFileHeader(uint32(snaplen), layers.LinkType(dlt)); err != nil {
		f.Close()
		return nil, fmt.Errorf("pcapdump: write file header: %w", err)
	}

	w := &Writer{
		f:      f,
		pw:     pw,
		frames: make(chan frame, queueDepth),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Writer) run() {
	log := logging.For("pcapdump")
	defer close(w.done)

	for fr := range w.frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     fr.ts,
			CaptureLength: fr.caplen,
			Length:        fr.caplen,
		}
		if err := w.pw.WritePacket(ci, fr.data); err != nil {
			log.Warnf("write packet: %v", err)
		}
	}
}

// Tee offers one frame to the writer's queue without blocking. If the
// queue is full the frame is dropped — this path must never add
// backpressure to the capture loop (spec.md §4.5, §9).
func (w *Writer) Tee(ts time.Time, caplen int, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	select {
	case w.frames <- frame{ts: ts, caplen: caplen, data: cp}:
	default:
	}
}

// Close stops accepting new frames, drains the queue, and closes the file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	close(w.frames)
	<-w.done
	return w.f.Close()
}
