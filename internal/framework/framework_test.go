package framework

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRingBufferBackpressure(t *testing.T) {
	r := newRingBuffer(1)

	if !r.tryPush(dataFrame{caplen: 1}) {
		t.Fatalf("expected first push to succeed")
	}
	if r.tryPush(dataFrame{caplen: 1}) {
		t.Fatalf("expected second push to fail: ring is full")
	}

	frame, ok := r.tryPop()
	if !ok || frame.caplen != 1 {
		t.Fatalf("expected to pop the first frame")
	}
	r.signalSpace()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.waitForSpace(ctx)

	if !r.tryPush(dataFrame{caplen: 2}) {
		t.Fatalf("expected push to succeed after space freed")
	}
}

func TestFrameworkSendDataBackpressure(t *testing.T) {
	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer inR.Close()
	defer inW.Close()

	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer outR.Close()
	defer outW.Close()

	f := New(inR, outW)
	f.ring = newRingBuffer(1)

	if r := f.SendData(time.Now(), 127, 10, []byte("x")); r != 1 {
		t.Fatalf("first SendData = %d, want 1", r)
	}
	if r := f.SendData(time.Now(), 127, 10, []byte("y")); r != 0 {
		t.Fatalf("second SendData = %d, want 0 (ring full)", r)
	}
}
