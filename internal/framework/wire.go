package framework

import (
	"context"
	"encoding/binary"
	"io"
	"time"
)

// dataFrameMagic distinguishes a binary DATA record from a JSON control
// line sharing the same out fd: JSON control lines always start with '{'
// (0x7b); this magic is chosen outside the printable-ASCII range the JSON
// encoder ever emits as a leading byte.
const dataFrameMagic = 0xA1

// writeDataFrame encodes one captured frame as:
//
//	magic(1) | tv_sec(8) | tv_usec(8) | dlt(4) | caplen(4) | payload(caplen)
//
// Timestamps are passed through verbatim from pcap at microsecond
// resolution (spec.md §4.5); caplen, not wire length, is what is sent.
func writeDataFrame(w io.Writer, f dataFrame) error {
	var hdr [25]byte
	hdr[0] = dataFrameMagic
	binary.BigEndian.PutUint64(hdr[1:9], uint64(f.ts.Unix()))
	binary.BigEndian.PutUint64(hdr[9:17], uint64(f.ts.Nanosecond()/1000))
	binary.BigEndian.PutUint32(hdr[17:21], uint32(f.dlt))
	binary.BigEndian.PutUint32(hdr[21:25], uint32(f.caplen))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(f.data)
	return err
}

// runDrain continuously pops frames off the ring buffer and writes them to
// out, signaling ring space after every pop. It exits when ctx is
// cancelled.
func (f *Framework) runDrain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, ok := f.ring.tryPop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Millisecond):
			}
			continue
		}

		_ = writeDataFrame(f.out, frame)
		f.ring.signalSpace()
	}
}
