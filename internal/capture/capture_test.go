package capture

import (
	"context"
	"testing"
	"time"
)

// stubSink implements Sink with a scripted sequence of SendData return
// values, for the "Simulate send_data returning 0 three times then >0"
// property in spec.md §8.
type stubSink struct {
	script    []int
	i         int
	waits     int
	delivered int
	messages  []string
}

func (s *stubSink) SendData(ts time.Time, dlt, caplen int, data []byte) int {
	if s.i >= len(s.script) {
		return 1
	}
	r := s.script[s.i]
	s.i++
	if r > 0 {
		s.delivered++
	}
	return r
}

func (s *stubSink) WaitForSpace(ctx context.Context) { s.waits++ }
func (s *stubSink) SendMessage(level, text string)   { s.messages = append(s.messages, level+": "+text) }
func (s *stubSink) RequestSpindown(reason string)    {}

func TestDispatchBackpressureRetriesThenDelivers(t *testing.T) {
	sink := &stubSink{script: []int{0, 0, 0, 1}}

	terminate := dispatch(context.Background(), sink, time.Now(), 127, 10, []byte("frame"))

	if terminate {
		t.Fatalf("dispatch terminated unexpectedly")
	}
	if sink.waits != 3 {
		t.Fatalf("waits = %d, want 3", sink.waits)
	}
	if sink.delivered != 1 {
		t.Fatalf("delivered = %d, want 1 (exactly once)", sink.delivered)
	}
	if len(sink.messages) != 0 {
		t.Fatalf("expected no error messages during backpressure, got %v", sink.messages)
	}
}

func TestDispatchFatalSendTerminates(t *testing.T) {
	sink := &stubSink{script: []int{-1}}

	terminate := dispatch(context.Background(), sink, time.Now(), 127, 10, []byte("frame"))

	if !terminate {
		t.Fatalf("expected dispatch to terminate on a fatal send")
	}
	if sink.delivered != 0 {
		t.Fatalf("delivered = %d, want 0", sink.delivered)
	}
}
